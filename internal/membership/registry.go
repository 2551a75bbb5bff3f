// Package membership implements the Registry: the authoritative table of
// live nodes, kept current by heartbeats and swept by a pruner goroutine,
// with an optional auto-respawn hook that keeps the cluster topology stable
// across crashes.
package membership

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/workshop/quorumkv/internal/metrics"
	"github.com/workshop/quorumkv/internal/wire"
)

// State is a MembershipEntry's lifecycle stage.
type State string

const (
	StateAlive         State = "alive"
	StateSuspectedDead State = "suspected-dead"
	StatePruned        State = "pruned"
)

// Entry is the Registry's view of one node.
type Entry struct {
	Descriptor    wire.NodeDescriptor
	LastHeartbeat time.Time
	State         State
}

// DefaultPruneThreshold is how long a node may go silent before it is pruned.
const DefaultPruneThreshold = 5 * time.Second

// PrunerTick is how often the pruner sweeps the table.
const PrunerTick = 1 * time.Second

// RespawnFunc is called by the auto-respawn hook to ask the Coordinator to
// bring a pruned node back on its original id and port.
type RespawnFunc func(ctx context.Context, desc wire.NodeDescriptor) error

// ResurrectionHintFunc is called when a heartbeat reveals a previously-pruned
// node re-appearing on its own: the Coordinator uses this as the trigger to
// re-run catch-up against it before trusting it as a replication target
// again, since a node that went silent and came back may have missed writes
// while it was presumed dead.
type ResurrectionHintFunc func(ctx context.Context, desc wire.NodeDescriptor)

// Registry holds {node_id -> Entry}. A single mutex serializes both the
// heartbeat handlers and the pruner — one coordinated locking discipline
// rather than a mix of single- and multi-writer schemes.
type Registry struct {
	mu             sync.RWMutex
	entries        map[string]*Entry
	pruneThreshold time.Duration
	pruneTick      time.Duration
	autoSpawn      bool
	spawnDelay     time.Duration
	respawn        RespawnFunc
	resurrectHint  ResurrectionHintFunc
	log            *zap.Logger
	metrics        *metrics.Registry
}

// Config configures a new Registry.
type Config struct {
	PruneThreshold time.Duration
	// PruneTick overrides the pruner's wake interval; tests shrink this
	// well below the production PrunerTick to avoid a 1s-per-case cost.
	PruneTick     time.Duration
	AutoSpawn     bool
	SpawnDelay    time.Duration
	Respawn       RespawnFunc
	ResurrectHint ResurrectionHintFunc
	Log           *zap.Logger
	Metrics       *metrics.Registry
}

// New creates an empty Registry.
func New(cfg Config) *Registry {
	threshold := cfg.PruneThreshold
	if threshold <= 0 {
		threshold = DefaultPruneThreshold
	}
	tick := cfg.PruneTick
	if tick <= 0 {
		tick = PrunerTick
	}
	return &Registry{
		entries:        make(map[string]*Entry),
		pruneThreshold: threshold,
		pruneTick:      tick,
		autoSpawn:      cfg.AutoSpawn,
		spawnDelay:     cfg.SpawnDelay,
		respawn:        cfg.Respawn,
		resurrectHint:  cfg.ResurrectHint,
		log:            cfg.Log,
		metrics:        cfg.Metrics,
	}
}

// Heartbeat doubles as registration: an idempotent upsert. It reports
// whether this heartbeat resurrected a previously-pruned id; on a
// resurrection it also fires the configured ResurrectionHintFunc itself, in
// its own goroutine after the lock is released.
func (r *Registry) Heartbeat(desc wire.NodeDescriptor) (resurrected bool) {
	r.mu.Lock()
	e, ok := r.entries[desc.NodeID]
	now := time.Now()
	if !ok {
		r.entries[desc.NodeID] = &Entry{Descriptor: desc, LastHeartbeat: now, State: StateAlive}
		r.mu.Unlock()
		return false
	}

	wasPruned := e.State == StatePruned
	e.Descriptor = desc
	e.LastHeartbeat = now
	e.State = StateAlive
	if r.metrics != nil && wasPruned {
		r.metrics.Resurrections.Inc()
	}
	r.mu.Unlock()

	if wasPruned && r.resurrectHint != nil {
		go r.resurrectHint(context.Background(), desc)
	}
	return wasPruned
}

// Deregister removes a node's entry entirely, an explicit graceful
// departure distinct from a pruned entry.
func (r *Registry) Deregister(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, nodeID)
}

// Alive returns every NodeDescriptor currently in the alive state.
func (r *Registry) Alive() []wire.NodeDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]wire.NodeDescriptor, 0, len(r.entries))
	for _, e := range r.entries {
		if e.State == StateAlive {
			out = append(out, e.Descriptor)
		}
	}
	return out
}

// All returns every MembershipEntry regardless of state, a consistent
// snapshot taken under the read lock.
func (r *Registry) All() []wire.MembershipEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]wire.MembershipEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, wire.MembershipEntry{
			NodeDescriptor: e.Descriptor,
			LastHeartbeat:  e.LastHeartbeat,
			State:          string(e.State),
		})
	}
	return out
}

// Run starts the pruner loop; it blocks until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pruneTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.prune(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Registry) prune(ctx context.Context) {
	now := time.Now()

	var toRespawn []wire.NodeDescriptor
	r.mu.Lock()
	for id, e := range r.entries {
		if e.State != StateAlive {
			continue
		}
		if now.Sub(e.LastHeartbeat) > r.pruneThreshold {
			e.State = StatePruned
			if r.log != nil {
				r.log.Warn("node pruned", zap.String("node_id", id))
			}
			if r.metrics != nil {
				r.metrics.PrunedTotal.Inc()
			}
			if r.autoSpawn && r.respawn != nil {
				toRespawn = append(toRespawn, e.Descriptor)
			}
		}
	}
	if r.metrics != nil {
		count := 0
		for _, e := range r.entries {
			if e.State == StateAlive {
				count++
			}
		}
		r.metrics.AliveNodes.Set(float64(count))
	}
	r.mu.Unlock()

	// Auto-respawn fires outside the lock: spawn_delay is deliberately
	// longer than prune_threshold + heartbeat_interval so a transiently
	// delayed heartbeat resurrects the entry (see Heartbeat above) before
	// the respawn callback ever runs, avoiding a duplicate "ghost" process.
	for _, desc := range toRespawn {
		desc := desc
		go r.waitAndRespawn(ctx, desc)
	}
}

func (r *Registry) waitAndRespawn(ctx context.Context, desc wire.NodeDescriptor) {
	select {
	case <-time.After(r.spawnDelay):
	case <-ctx.Done():
		return
	}

	r.mu.RLock()
	e, ok := r.entries[desc.NodeID]
	stillPruned := ok && e.State == StatePruned
	r.mu.RUnlock()
	if !stillPruned {
		// Resurrected by a late heartbeat while we waited out spawn_delay.
		return
	}

	if err := r.respawn(ctx, desc); err != nil && r.log != nil {
		r.log.Error("auto-respawn failed", zap.String("node_id", desc.NodeID), zap.Error(err))
		return
	}
	if r.metrics != nil {
		r.metrics.RespawnsTotal.Inc()
	}
}
