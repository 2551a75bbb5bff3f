// Package quorum implements the Coordinator's write/read orchestration:
// consulting the live-follower count, computing the sync/async/read sets
// from a cluster.Layout, fanning calls out in parallel, and reconciling
// read responses by highest version.
package quorum

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/workshop/quorumkv/internal/node"
	"github.com/workshop/quorumkv/internal/wire"
)

// writeClientMargin pads the leader's own SyncFanoutDeadline so the
// Coordinator's HTTP client never times out a write the leader is still
// legitimately allowed to be working on.
const writeClientMargin = 5 * time.Second

// nodeClient is the Coordinator's outbound HTTP client to Node processes. It
// holds two distinct http.Clients rather than one: a write to the leader may
// legitimately take up to node.SyncFanoutDeadline (60s) to complete its sync
// fan-out, while reads and replicate-repair calls use the short read
// timeout — sharing one client's Timeout across both would either make
// every read block for 60s or make every write time out long before the
// leader's own deadline fires.
type nodeClient struct {
	read  *http.Client
	write *http.Client
}

func newNodeClient(readTimeout time.Duration) *nodeClient {
	return &nodeClient{
		read:  &http.Client{Timeout: readTimeout},
		write: &http.Client{Timeout: node.SyncFanoutDeadline + writeClientMargin},
	}
}

func (c *nodeClient) writeLeader(ctx context.Context, leaderAddr string, req wire.WriteRequest) (wire.WriteResponse, error) {
	var out wire.WriteResponse
	err := postJSON(ctx, c.write, fmt.Sprintf("http://%s/write", leaderAddr), req, &out)
	return out, err
}

// readNode fetches a key from one node. found is false when the node
// answered but does not hold the key — that still counts toward the read
// quorum, unlike a transport error or timeout.
func (c *nodeClient) readNode(ctx context.Context, addr, key string) (out wire.ReadResponse, found bool, err error) {
	url := fmt.Sprintf("http://%s/read/%s", addr, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return out, false, err
	}
	resp, err := c.read.Do(req)
	if err != nil {
		return out, false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return out, false, nil
	default:
		return out, false, fmt.Errorf("node %s returned HTTP %d", addr, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, false, err
	}
	return out, true, nil
}

func (c *nodeClient) replicate(ctx context.Context, addr string, req wire.ReplicateRequest) error {
	var out wire.ReplicateResponse
	return postJSON(ctx, c.read, fmt.Sprintf("http://%s/replicate", addr), req, &out)
}

func postJSON(ctx context.Context, httpClient *http.Client, url string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
