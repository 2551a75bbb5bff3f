// Package node implements a single cluster member: the versioned store plus
// the leader-only write fan-out, the follower-only replicate apply, and the
// read/snapshot/health surface every node exposes regardless of role.
//
// A Node's state machine is booting -> registered -> serving -> (draining)
// -> exited. registered fires after the first successful heartbeat; drain
// sends a deregister to the Registry on shutdown.
package node

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/workshop/quorumkv/internal/errs"
	"github.com/workshop/quorumkv/internal/metrics"
	"github.com/workshop/quorumkv/internal/record"
)

// Role is this node's current replication role.
type Role string

const (
	RoleLeader   Role = "leader"
	RoleFollower Role = "follower"
)

// State is this node's lifecycle stage.
type State int32

const (
	StateBooting State = iota
	StateRegistered
	StateServing
	StateDraining
	StateExited
)

// SyncFanoutDeadline bounds how long the leader waits for every sync
// follower to ack a write.
const SyncFanoutDeadline = 60 * time.Second

// Node is one cluster member.
type Node struct {
	ID           string
	role         Role
	replicaDelay time.Duration // set by the coordinator at spawn time: 0 for the leader, 500ms/5s for followers
	loadFactor   int           // --load-factor: recursive fibonacci depth simulating per-request CPU cost
	store        *record.Store
	started      time.Time
	state        atomic.Int32
	log          *zap.Logger
	metrics      *metrics.Node
	transport    *Transport
}

// Config configures a new Node.
type Config struct {
	ID           string
	Role         Role
	ReplicaDelay time.Duration
	LoadFactor   int
	Log          *zap.Logger
	Metrics      *metrics.Node
}

// New creates a Node in the booting state.
func New(cfg Config) *Node {
	n := &Node{
		ID:           cfg.ID,
		role:         cfg.Role,
		replicaDelay: cfg.ReplicaDelay,
		loadFactor:   cfg.LoadFactor,
		store:        record.New(),
		started:      time.Now(),
		log:          cfg.Log,
		metrics:      cfg.Metrics,
	}
	n.transport = NewTransport(cfg.Log)
	n.state.Store(int32(StateBooting))
	return n
}

// simulateLoad burns CPU proportional to loadFactor by computing a naive
// recursive Fibonacci, the synthetic per-request cost --load-factor
// stands in for. A factor of 0 (the default) is a no-op.
func (n *Node) simulateLoad() {
	if n.loadFactor > 0 {
		fibonacci(n.loadFactor)
	}
}

func fibonacci(n int) int {
	if n < 2 {
		return n
	}
	return fibonacci(n-1) + fibonacci(n-2)
}

// State returns the node's current lifecycle state.
func (n *Node) State() State { return State(n.state.Load()) }

// MarkRegistered transitions booting -> registered, called after the first
// successful heartbeat.
func (n *Node) MarkRegistered() {
	n.state.CompareAndSwap(int32(StateBooting), int32(StateRegistered))
	n.state.CompareAndSwap(int32(StateRegistered), int32(StateServing))
}

// MarkDraining transitions into draining, called on shutdown before the
// deregister call is sent.
func (n *Node) MarkDraining() { n.state.Store(int32(StateDraining)) }

// MarkExited transitions into exited, the terminal state.
func (n *Node) MarkExited() { n.state.Store(int32(StateExited)) }

// Role returns the node's current replication role.
func (n *Node) Role() Role { return n.role }

// WriteResult is the outcome of a leader-side Write.
type WriteResult struct {
	Version  int64
	SyncAcks int
}

// Write accepts a client write on the leader: it stores the value locally,
// fans the replicate call out to every sync follower in parallel and waits
// for all of them (or SyncFanoutDeadline), then fans out to async followers
// without waiting. If any sync ack fails or times out it returns a
// ReplicaTimeout/QuorumUnavailable error, but the local write already
// happened and is never rolled back — a deliberate, documented gap.
func (n *Node) Write(ctx context.Context, key, value string, syncFollowers, asyncFollowers []string, reqID string) (WriteResult, error) {
	if n.role != RoleLeader {
		return WriteResult{}, errs.InvalidRequest("write rejected: node %s is not the leader", n.ID)
	}
	if key == "" {
		return WriteResult{}, errs.InvalidRequest("key must not be empty")
	}

	start := time.Now()
	n.simulateLoad()
	version := n.store.Put(key, value)

	acks, err := n.fanOutSync(ctx, key, value, version, syncFollowers, reqID)

	result := "ok"
	if err != nil {
		result = "sync_failed"
	}
	if n.metrics != nil {
		n.metrics.WritesTotal.WithLabelValues(result).Inc()
		n.metrics.WriteDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return WriteResult{Version: version, SyncAcks: acks}, err
	}

	// Async followers: fire and forget, only once the sync quorum held —
	// a write that failed its sync fan-out must not leak to the async set.
	// A client disconnect must not cancel these either, so they are
	// started detached from ctx.
	for _, addr := range asyncFollowers {
		addr := addr
		go n.transport.Replicate(context.Background(), addr, key, value, version, reqID)
	}

	return WriteResult{Version: version, SyncAcks: acks}, nil
}

// fanOutSync replicates to every sync follower in parallel and blocks until
// all respond or SyncFanoutDeadline elapses. The deadline covers the whole
// fan-out, not each follower, so the slowest follower's latency is the
// total cost.
func (n *Node) fanOutSync(ctx context.Context, key, value string, version int64, followers []string, reqID string) (int, error) {
	if len(followers) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, SyncFanoutDeadline)
	defer cancel()

	type result struct {
		addr string
		ok   bool
	}
	results := make(chan result, len(followers))
	for _, addr := range followers {
		addr := addr
		go func() {
			ok := n.transport.Replicate(ctx, addr, key, value, version, reqID)
			results <- result{addr: addr, ok: ok}
		}()
	}

	acks := 0
	var failed []string
	for i := 0; i < len(followers); i++ {
		select {
		case r := <-results:
			if r.ok {
				acks++
			} else {
				failed = append(failed, r.addr)
			}
		case <-ctx.Done():
			return acks, errs.Wrap(errs.KindReplicaTimeout,
				fmt.Sprintf("sync fan-out timed out with %d/%d acks", acks, len(followers)), ctx.Err())
		}
	}

	if acks < len(followers) {
		return acks, errs.QuorumUnavailable("only %d/%d sync followers acknowledged the write: %v", acks, len(followers), failed)
	}
	return acks, nil
}

// ReplicateResult is the outcome of a follower-side Replicate.
type ReplicateResult struct {
	Accepted     bool
	LocalVersion int64
}

// Replicate applies a write pushed by the leader. It sleeps for this node's
// configured replica delay — the single per-node value the coordinator set
// at spawn time — before comparing and applying, simulating sync vs async
// replication lag. It is idempotent: an incoming version that is not
// strictly greater than the local one is silently dropped and still
// reports success.
func (n *Node) Replicate(ctx context.Context, key, value string, version int64) ReplicateResult {
	start := time.Now()
	if n.replicaDelay > 0 {
		select {
		case <-time.After(n.replicaDelay):
		case <-ctx.Done():
			// A cancelled inbound context must not cancel an already
			// in-flight replicate: the caller (leader) may have given up,
			// but we still apply once woken — there is no partial state to
			// roll back since we have not touched the store yet either way.
			// We simply continue the sleep to completion below.
			remaining := n.replicaDelay - time.Since(start)
			if remaining > 0 {
				time.Sleep(remaining)
			}
		}
	}

	applied := n.store.ApplyReplicated(key, value, version)
	if !applied && n.metrics != nil {
		n.metrics.ReplicateRejections.Inc()
	}
	localVersion := version
	if e, ok := n.store.Get(key); ok {
		localVersion = e.Version
	}

	if n.metrics != nil {
		sync := "async"
		if n.replicaDelay <= 500*time.Millisecond {
			sync = "sync"
		}
		n.metrics.ReplicateDuration.WithLabelValues(sync).Observe(time.Since(start).Seconds())
	}

	return ReplicateResult{Accepted: true, LocalVersion: localVersion}
}

// Read returns the value and version for key, or !found.
func (n *Node) Read(key string) (value string, version int64, found bool) {
	n.simulateLoad()
	e, ok := n.store.Get(key)
	if !ok {
		return "", 0, false
	}
	return e.Value, e.Version, true
}

// Snapshot returns the full key/value/version map, used by catch-up.
func (n *Node) Snapshot() map[string]record.Entry {
	return n.store.Snapshot()
}

// BulkLoad installs a leader snapshot, bypassing the replicate delay since
// catch-up is urgent, while still honoring the monotonic-version rule so a
// follower that is already ahead on some keys is not regressed.
func (n *Node) BulkLoad(records map[string]record.Entry) int {
	return n.store.BulkLoad(records)
}

// Health reports role, uptime, and record count for GET /health.
func (n *Node) Health() (role string, uptime time.Duration, recordCount int) {
	count := n.store.Len()
	if n.metrics != nil {
		n.metrics.RecordCount.Set(float64(count))
	}
	return string(n.role), time.Since(n.started), count
}
