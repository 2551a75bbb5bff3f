// Package catchup brings a freshly (re)started follower up to date by
// pulling the leader's snapshot and bulk-loading it into the follower,
// bypassing the per-write replicate delay since catch-up is urgent.
package catchup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/workshop/quorumkv/internal/wire"
)

// Client fetches snapshots and pushes bulk-loads over loopback HTTP.
type Client struct {
	http *http.Client
	log  *zap.Logger
}

// NewClient creates a catch-up Client with a generous deadline; the caller's
// ctx still governs cancellation.
func NewClient(log *zap.Logger) *Client {
	return &Client{http: &http.Client{Timeout: 30 * time.Second}, log: log}
}

// Result reports how many records were installed on the follower.
type Result struct {
	Loaded int
}

// Run performs the full catch-up procedure against a single follower:
// fetch the leader's snapshot, then push it to the follower's bulk-load
// endpoint. It does not touch the Coordinator's ClusterLayout — the caller
// adds the follower back into the active set only after Run succeeds.
func (c *Client) Run(ctx context.Context, leaderAddr, followerAddr string) (Result, error) {
	snapshot, err := c.fetchSnapshot(ctx, leaderAddr)
	if err != nil {
		return Result{}, fmt.Errorf("catch-up: fetch leader snapshot: %w", err)
	}

	loaded, err := c.bulkLoad(ctx, followerAddr, snapshot)
	if err != nil {
		return Result{}, fmt.Errorf("catch-up: push bulk-load: %w", err)
	}
	if c.log != nil {
		c.log.Info("catch-up complete",
			zap.String("leader", leaderAddr),
			zap.String("follower", followerAddr),
			zap.Int("loaded", loaded))
	}
	return Result{Loaded: loaded}, nil
}

func (c *Client) fetchSnapshot(ctx context.Context, leaderAddr string) (map[string]wire.Record, error) {
	url := fmt.Sprintf("http://%s/snapshot", leaderAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("leader returned HTTP %d", resp.StatusCode)
	}

	var out wire.SnapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (c *Client) bulkLoad(ctx context.Context, followerAddr string, records map[string]wire.Record) (int, error) {
	body, err := json.Marshal(wire.BulkLoadRequest{Records: records})
	if err != nil {
		return 0, err
	}

	url := fmt.Sprintf("http://%s/bulk-load", followerAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("follower returned HTTP %d", resp.StatusCode)
	}

	var out wire.BulkLoadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Loaded, nil
}
