package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/workshop/quorumkv/internal/metrics"
	"github.com/workshop/quorumkv/internal/wire"
)

// HeartbeatInterval is how often a node pings the registry.
const HeartbeatInterval = 2 * time.Second

// RunHeartbeat sends a heartbeat on every tick until ctx is cancelled. It
// marks the node registered after the first success, and keeps serving
// data traffic even if the registry is unreachable — only the heartbeat
// itself retries, on the next tick.
func RunHeartbeat(ctx context.Context, n *Node, host string, port int, startupEpoch int, registryURL string, m *metrics.Node, log *zap.Logger) {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	send := func() {
		err := Heartbeat(ctx, client, registryURL, wire.HeartbeatRequest{
			NodeID:       n.ID,
			Role:         string(n.Role()),
			Host:         host,
			Port:         port,
			StartupEpoch: startupEpoch,
		})
		if err != nil {
			if m != nil {
				m.HeartbeatFailures.Inc()
			}
			log.Warn("heartbeat failed, will retry next tick", zap.Error(err))
			return
		}
		if m != nil {
			m.HeartbeatsSent.Inc()
		}
		n.MarkRegistered()
	}

	send()
	for {
		select {
		case <-ticker.C:
			send()
		case <-ctx.Done():
			return
		}
	}
}

// Deregister notifies the registry this node is shutting down cleanly.
func Deregister(ctx context.Context, registryURL, nodeID string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	return deregister(ctx, client, registryURL, nodeID)
}

func deregister(ctx context.Context, client *http.Client, registryURL, nodeID string) error {
	body, err := json.Marshal(wire.DeregisterRequest{NodeID: nodeID})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registryURL+"/deregister", bytes.NewReader(body))
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
