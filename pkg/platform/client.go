// Package platform is the client for the commerce platform's management
// API: merchant resource configuration (webhooks, API settings, logging) and
// direct merchant messaging. The config manager and the executor's proactive
// communication both go through it.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/commerceops/driftwatch/pkg/breaker"
	"github.com/commerceops/driftwatch/pkg/config"
)

// APIError is a non-2xx platform response. Permanent; not worth retrying.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform api returned %d: %s", e.Status, e.Body)
}

// Client talks to the platform API through the platform circuit breaker.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	breakers *breaker.Registry
}

// NewClient builds a client from config. The API key comes from the
// environment variable named in the config.
func NewClient(cfg config.PlatformConfig, breakers *breaker.Registry) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   os.Getenv(cfg.APIKeyEnv),
		http:     &http.Client{Timeout: cfg.Timeout},
		breakers: breakers,
	}
}

// Fetch reads a resource's live configuration.
func (c *Client) Fetch(ctx context.Context, resourceType, resourceID string) (map[string]any, error) {
	var cfg map[string]any
	path := fmt.Sprintf("/api/v1/config/%s/%s", resourceType, resourceID)
	err := c.execute(func() error {
		return c.call(ctx, http.MethodGet, path, nil, &cfg)
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Apply replaces a resource's configuration with the given document.
func (c *Client) Apply(ctx context.Context, resourceType, resourceID string, cfg map[string]any) error {
	path := fmt.Sprintf("/api/v1/config/%s/%s", resourceType, resourceID)
	return c.execute(func() error {
		return c.call(ctx, http.MethodPut, path, cfg, nil)
	})
}

// Send delivers one message to a merchant contact over the named channel.
func (c *Client) Send(ctx context.Context, recipient, channel, message string) error {
	payload := map[string]string{
		"recipient": recipient,
		"channel":   channel,
		"message":   message,
	}
	return c.execute(func() error {
		return c.call(ctx, http.MethodPost, "/api/v1/messages", payload, nil)
	})
}

func (c *Client) execute(fn func() error) error {
	if c.breakers == nil {
		return fn()
	}
	return c.breakers.Execute(breaker.NamePlatform, fn)
}

func (c *Client) call(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal platform request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build platform request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("platform api call: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: string(raw)}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode platform response: %w", err)
		}
	}
	return nil
}
