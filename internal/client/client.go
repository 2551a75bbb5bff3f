// Package client is the small HTTP SDK used to reach a Gateway or a
// Coordinator: kvctl talks to the Gateway (or the Coordinator, for admin
// verbs) through it, and the Registry uses it to send spawn requests and
// resurrection hints to the Coordinator. RegistryClient is the Coordinator's
// client for the Registry's query endpoints. The Gateway does not use this
// package; it relays raw bytes through gateway.Forwarder. It hides request
// construction, JSON encoding, and status-code mapping behind a handful of
// typed methods.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/workshop/quorumkv/internal/wire"
)

// Client talks to one base URL — a Coordinator or a Gateway, both of which
// expose the same write/read/status shape.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client. timeout defaults to 10s if zero.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

// APIError wraps a non-2xx response body.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter int64
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("api error %d: %s (retry_after=%ds)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Put sends a write and returns the version assigned.
func (c *Client) Put(ctx context.Context, key, value string) (int64, error) {
	var out wire.CoordinatorWriteResponse
	err := c.doJSON(ctx, http.MethodPost, "/write", wire.WriteRequest{Key: key, Value: value}, &out)
	return out.Version, err
}

// Get fetches a key's value and version.
func (c *Client) Get(ctx context.Context, key string) (wire.CoordinatorReadResponse, error) {
	var out wire.CoordinatorReadResponse
	err := c.doJSON(ctx, http.MethodGet, "/read/"+key, nil, &out)
	return out, err
}

// Spawn requests a new follower (or a respawn of a pruned one).
func (c *Client) Spawn(ctx context.Context) (wire.SpawnResponse, error) {
	var out wire.SpawnResponse
	err := c.doJSON(ctx, http.MethodPost, "/spawn", nil, &out)
	return out, err
}

// Resurrected notifies the Coordinator that a previously-pruned node
// heartbeated again on its own, so it should be caught up before rejoining
// the active replication set.
func (c *Client) Resurrected(ctx context.Context, desc wire.NodeDescriptor) error {
	var out wire.OKResponse
	return c.doJSON(ctx, http.MethodPost, "/resurrected", desc, &out)
}

// Kill stops a follower process.
func (c *Client) Kill(ctx context.Context, nodeID string) error {
	var out wire.OKResponse
	return c.doJSON(ctx, http.MethodPost, "/kill/"+nodeID, nil, &out)
}

// Status fetches the current ClusterLayout.
func (c *Client) Status(ctx context.Context) (wire.StatusResponse, error) {
	var out wire.StatusResponse
	err := c.doJSON(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr wire.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error, RetryAfter: apiErr.RetryAfter}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
