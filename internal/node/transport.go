package node

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

// Transport is the Node's outbound HTTP client to its peers. A replicate
// call here is never retried at the Node level: a failed or timed-out
// replicate is simply reported as a single failed ack, and the leader
// surfaces the resulting error to the Coordinator, the only component that
// understands quorum. The Coordinator does not retry failed writes either.
type Transport struct {
	client *http.Client
	log    *zap.Logger
}

// NewTransport creates a Transport with a timeout generous enough to be
// bounded by the caller's own context deadline instead of its own.
func NewTransport(log *zap.Logger) *Transport {
	return &Transport{
		client: &http.Client{Timeout: SyncFanoutDeadline},
		log:    log,
	}
}

// Replicate POSTs a single replicate request to a follower and reports
// whether it was accepted. ctx carries the caller's deadline (the overall
// sync fan-out deadline, or none for async followers).
func (t *Transport) Replicate(ctx context.Context, addr, key, value string, version int64, reqID string) bool {
	body, err := json.Marshal(wire.ReplicateRequest{Key: key, Value: value, Version: version, ReqID: reqID})
	if err != nil {
		return false
	}

	url := fmt.Sprintf("http://%s/replicate", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if reqID != "" {
		req.Header.Set("X-Request-ID", reqID)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if t.log != nil {
			t.log.Debug("replicate call failed",
				zap.String("addr", addr), zap.String("key", key), zap.Error(err))
		}
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var out wire.ReplicateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false
	}
	return out.Accepted
}

// Heartbeat sends one heartbeat to the registry with a short deadline. The
// caller is responsible for retrying on the next tick — heartbeat failures
// are silently retried, never escalated.
func Heartbeat(ctx context.Context, client *http.Client, registryURL string, desc wire.HeartbeatRequest) error {
	body, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registryURL+"/heartbeat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry returned HTTP %d", resp.StatusCode)
	}
	return nil
}
