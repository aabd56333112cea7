// Package monitor queries the broker's management HTTP API. The toolkit
// only needs queue introspection; everything heavier lives in the broker's
// own tooling.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// QueueInfo is one row of the management API's queue listing.
type QueueInfo struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// Client talks to the management API with basic-auth credentials.
type Client struct {
	baseURL    string
	vhost      string
	username   string
	password   string
	httpClient *http.Client
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a management API client. baseURL points at the API
// root (typically http://host:15672/api).
func NewClient(baseURL, vhost, username, password string, options ...ClientOption) *Client {
	c := &Client{
		baseURL:  baseURL,
		vhost:    vhost,
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// GetQueues lists the vhost's queues with their state. Callers use the
// listing to discover live responder queues; naming conventions are not
// enforced here.
func (c *Client) GetQueues(ctx context.Context) ([]QueueInfo, error) {
	endpoint := fmt.Sprintf("%s/queues/%s?columns=state,name", c.baseURL, url.PathEscape(c.vhost))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("monitor: build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("monitor: list queues: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("monitor: list queues: unexpected status %s", resp.Status)
	}

	var queues []QueueInfo
	if err := json.NewDecoder(resp.Body).Decode(&queues); err != nil {
		return nil, fmt.Errorf("monitor: decode queue listing: %w", err)
	}
	return queues, nil
}
