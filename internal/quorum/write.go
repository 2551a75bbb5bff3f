package quorum

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/workshop/quorumkv/internal/cluster"
	"github.com/workshop/quorumkv/internal/errs"
	"github.com/workshop/quorumkv/internal/metrics"
	"github.com/workshop/quorumkv/internal/wire"
)

// AliveFunc returns the registry's current alive-node descriptors.
type AliveFunc func(ctx context.Context) ([]wire.NodeDescriptor, error)

// Coordinator orchestrates writes and reads against a cluster.Layout. It
// holds no authoritative copy of any record — only the in-flight request
// state needed to fan a single call out.
type Coordinator struct {
	layout  *cluster.Layout
	alive   AliveFunc
	client  *nodeClient
	log     *zap.Logger
	metrics *metrics.Coordinator
	// RetryReadOutsideSet enables retrying a short-timeout read against
	// live followers outside the read set when fewer than R answered —
	// a policy choice, switched off for the strict W+R>N demo.
	RetryReadOutsideSet bool
}

// Config configures a Coordinator.
type Config struct {
	Layout              *cluster.Layout
	Alive               AliveFunc
	Log                 *zap.Logger
	Metrics             *metrics.Coordinator
	ReadTimeout         time.Duration
	RetryReadOutsideSet bool
}

const defaultReadTimeout = 5 * time.Second

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	return &Coordinator{
		layout:              cfg.Layout,
		alive:               cfg.Alive,
		client:              newNodeClient(timeout),
		log:                 cfg.Log,
		metrics:             cfg.Metrics,
		RetryReadOutsideSet: cfg.RetryReadOutsideSet,
	}
}

// WriteResult is returned to the client-facing handler.
type WriteResult struct {
	Version         int64
	SyncedFollowers int
}

// Write gates on the live-follower count, computes the sync/async sets
// deterministically by port, and relays the write to the leader.
func (c *Coordinator) Write(ctx context.Context, key, value string) (WriteResult, error) {
	start := time.Now()
	alive, err := c.alive(ctx)
	if err != nil {
		return WriteResult{}, errs.Wrap(errs.KindUnreachable, "registry unreachable", err)
	}

	live := c.layout.LiveFollowerCount(alive)
	if live < c.layout.WriteQuorum {
		if c.metrics != nil {
			c.metrics.QuorumFailuresTotal.WithLabelValues("write").Inc()
		}
		return WriteResult{}, errs.QuorumUnavailable("only %d live followers, write quorum requires %d", live, c.layout.WriteQuorum)
	}

	syncSet := addrs(c.layout.SyncSet(alive))
	asyncSet := addrs(c.layout.AsyncSet(alive))

	leaderAddr := fmt.Sprintf("%s:%d", c.layout.Leader.Host, c.layout.Leader.Port)
	resp, err := c.client.writeLeader(ctx, leaderAddr, wire.WriteRequest{
		Key: key, Value: value, SyncFollowers: syncSet, AsyncFollowers: asyncSet,
	})

	result := "ok"
	if err != nil {
		result = "error"
		if c.metrics != nil {
			c.metrics.QuorumFailuresTotal.WithLabelValues("write").Inc()
		}
	}
	if c.metrics != nil {
		c.metrics.WriteDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return WriteResult{}, errs.Wrap(errs.KindQuorumUnavailable, "leader write failed", err)
	}
	return WriteResult{Version: resp.Version, SyncedFollowers: resp.SyncAcks}, nil
}

func addrs(descs []wire.NodeDescriptor) []string {
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = fmt.Sprintf("%s:%d", d.Host, d.Port)
	}
	return out
}
