package graphhopper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultURL is the local engine endpoint used in development.
const DefaultURL = "http://127.0.0.1:8989/route"

// Client talks to a GraphHopper /route endpoint.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a client for the full route endpoint URL.
func NewClient(url string, timeout time.Duration) *Client {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is a non-2xx answer from the engine. Body is the raw response
// text and Message the parsed "message" member when the body was JSON.
type APIError struct {
	StatusCode int
	Body       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("graphhopper: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("graphhopper: status %d: %s", e.StatusCode, e.Body)
}

// ProfileMissing reports whether the engine rejected the request because
// profile is not configured on the server.
func (e *APIError) ProfileMissing(profile string) bool {
	return e.Message != "" && strings.Contains(e.Message, "does not exist") && strings.Contains(e.Message, profile)
}

// Route posts req and decodes the engine response.
func (c *Client) Route(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		var payload struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Message = payload.Message
		}
		return nil, apiErr
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}
