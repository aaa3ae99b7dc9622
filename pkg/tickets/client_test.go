package tickets

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

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.SupportConfig{
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
	}, breaker.NewRegistry(nil))
}

func TestCreate(t *testing.T) {
	var got Ticket
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/tickets", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{"ticket_id": "TCK-42"})
	})

	id, err := c.Create(context.Background(), &Ticket{
		Queue:      QueueEngineering,
		Subject:    "Checkout API regression",
		Body:       "404 on /v2/orders after migration",
		Priority:   "high",
		MerchantID: "merchant-a",
	})
	require.NoError(t, err)
	assert.Equal(t, "TCK-42", id)
	assert.Equal(t, QueueEngineering, got.Queue)
	assert.Equal(t, "merchant-a", got.MerchantID)
}

func TestComment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tickets/TCK-42/comments", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
	})
	require.NoError(t, c.Comment(context.Background(), "TCK-42", "guidance text"))
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := c.Create(context.Background(), &Ticket{Queue: QueueSupport, Subject: "x", Body: "y"})
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	})

	// The support breaker trips after 3 consecutive failures.
	for i := 0; i < 3; i++ {
		_, err := c.Create(context.Background(), &Ticket{Queue: QueueSupport, Subject: "x", Body: "y"})
		require.Error(t, err)
	}
	_, err := c.Create(context.Background(), &Ticket{Queue: QueueSupport, Subject: "x", Body: "y"})
	assert.ErrorIs(t, err, breaker.ErrOpen)
}
