// Package tickets is the client for the ticketing vendor API. Support
// guidance, engineering escalations, and documentation tasks all land in the
// same vendor, distinguished by queue.
package tickets

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

// Queues route tickets to the right team.
const (
	QueueSupport       = "support"
	QueueEngineering   = "engineering"
	QueueDocumentation = "documentation"
)

// Ticket is a creation request.
type Ticket struct {
	Queue      string   `json:"queue"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	Priority   string   `json:"priority,omitempty"`
	MerchantID string   `json:"merchant_id,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// APIError is a non-2xx vendor response. These are permanent failures; only
// transport-level errors are worth retrying.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ticket api returned %d: %s", e.Status, e.Body)
}

// Client talks to the vendor through the support-api circuit breaker.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	breakers *breaker.Registry
}

// NewClient builds a client from config. The API key comes from the
// environment variable named in the config.
func NewClient(cfg config.SupportConfig, breakers *breaker.Registry) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   os.Getenv(cfg.APIKeyEnv),
		http:     &http.Client{Timeout: cfg.Timeout},
		breakers: breakers,
	}
}

// Create files a ticket and returns the vendor's ticket id.
func (c *Client) Create(ctx context.Context, t *Ticket) (string, error) {
	var created struct {
		TicketID string `json:"ticket_id"`
	}
	err := c.execute(func() error {
		return c.post(ctx, "/api/v1/tickets", t, &created)
	})
	if err != nil {
		return "", err
	}
	return created.TicketID, nil
}

// Comment appends a comment to an existing ticket.
func (c *Client) Comment(ctx context.Context, ticketID, body string) error {
	payload := map[string]string{"body": body}
	path := fmt.Sprintf("/api/v1/tickets/%s/comments", ticketID)
	return c.execute(func() error {
		return c.post(ctx, path, payload, nil)
	})
}

func (c *Client) execute(fn func() error) error {
	if c.breakers == nil {
		return fn()
	}
	return c.breakers.Execute(breaker.NameSupport, fn)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal ticket request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ticket request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ticket api call: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: string(raw)}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode ticket response: %w", err)
		}
	}
	return nil
}
