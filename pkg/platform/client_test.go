package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commerceops/driftwatch/pkg/breaker"
	"github.com/commerceops/driftwatch/pkg/config"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	t.Setenv("PLATFORM_API_KEY", "test-key")
	return NewClient(config.PlatformConfig{
		BaseURL:   server.URL,
		APIKeyEnv: "PLATFORM_API_KEY",
		Timeout:   5 * time.Second,
	}, nil)
}

func TestFetch(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/config/webhook/merchant-a", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"url":           "https://old.example/hook",
			"retry_enabled": false,
		})
	})

	cfg, err := client.Fetch(context.Background(), "webhook", "merchant-a")
	require.NoError(t, err)
	assert.Equal(t, "https://old.example/hook", cfg["url"])
	assert.Equal(t, false, cfg["retry_enabled"])
}

func TestApply(t *testing.T) {
	var got map[string]any
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/config/api/merchant-a", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	err := client.Apply(context.Background(), "api", "merchant-a", map[string]any{"timeout": 60})
	require.NoError(t, err)
	assert.Equal(t, float64(60), got["timeout"])
}

func TestSend(t *testing.T) {
	var got map[string]string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	})

	err := client.Send(context.Background(), "merchant-a", "email", "heads up: webhook retries enabled")
	require.NoError(t, err)
	assert.Equal(t, "merchant-a", got["recipient"])
	assert.Equal(t, "email", got["channel"])
}

func TestAPIError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such merchant", http.StatusNotFound)
	})

	_, err := client.Fetch(context.Background(), "webhook", "merchant-z")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	t.Setenv("PLATFORM_API_KEY", "test-key")
	client := NewClient(config.PlatformConfig{
		BaseURL:   server.URL,
		APIKeyEnv: "PLATFORM_API_KEY",
		Timeout:   5 * time.Second,
	}, breaker.NewRegistry(nil))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := client.Fetch(ctx, "webhook", "merchant-a")
		require.Error(t, err)
	}
	_, err := client.Fetch(ctx, "webhook", "merchant-a")
	assert.ErrorIs(t, err, breaker.ErrOpen)
}
