// Package cluster owns the Coordinator's ClusterLayout: the leader and
// follower descriptors, the quorum parameters, and the deterministic
// sync/async/read set selection (smallest/largest live port, never a hash
// ring — there is no key partitioning here).
package cluster

import (
	"sort"
	"sync"

	"github.com/workshop/quorumkv/internal/membership"
	"github.com/workshop/quorumkv/internal/wire"
)

// Follower is one follower slot in the layout, independent of whether the
// Registry currently reports it alive.
type Follower struct {
	Descriptor wire.NodeDescriptor
}

// Layout is the Coordinator's exclusively-owned view of the cluster
// topology. Updated by AddFollower (after a spawn or a resurrection
// catch-up); Kill leaves it unchanged. Read by every write and read, so a
// read-write lock is the right fit.
type Layout struct {
	mu           sync.RWMutex
	Leader       wire.NodeDescriptor
	followers    []Follower // ordered by port ascending
	WriteQuorum  int
	ReadQuorum   int
	SyncDelayMS  int64
	AsyncDelayMS int64
}

// New creates a Layout with a leader already known and no followers.
func New(leader wire.NodeDescriptor, w, r int, syncDelayMS, asyncDelayMS int64) *Layout {
	return &Layout{
		Leader:       leader,
		WriteQuorum:  w,
		ReadQuorum:   r,
		SyncDelayMS:  syncDelayMS,
		AsyncDelayMS: asyncDelayMS,
	}
}

// AddFollower inserts or updates a follower slot, keeping the slice sorted
// by port — the ordering every set-selection rule below depends on.
func (l *Layout) AddFollower(d wire.NodeDescriptor) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, f := range l.followers {
		if f.Descriptor.NodeID == d.NodeID {
			l.followers[i].Descriptor = d
			l.sortLocked()
			return
		}
	}
	l.followers = append(l.followers, Follower{Descriptor: d})
	l.sortLocked()
}

// RemoveFollower drops a follower slot entirely, rather than merely leaving
// it absent from the live set. The Coordinator's kill path does not call it.
func (l *Layout) RemoveFollower(nodeID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, f := range l.followers {
		if f.Descriptor.NodeID == nodeID {
			l.followers = append(l.followers[:i], l.followers[i+1:]...)
			return
		}
	}
}

func (l *Layout) sortLocked() {
	sort.Slice(l.followers, func(i, j int) bool {
		return l.followers[i].Descriptor.Port < l.followers[j].Descriptor.Port
	})
}

// Followers returns a copy of the follower slots, ordered by port.
func (l *Layout) Followers() []Follower {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Follower, len(l.followers))
	copy(out, l.followers)
	return out
}

// liveSet intersects the layout's followers with the registry's alive set,
// preserving port order.
func liveSet(followers []Follower, alive []wire.NodeDescriptor) []wire.NodeDescriptor {
	aliveIDs := make(map[string]bool, len(alive))
	for _, a := range alive {
		aliveIDs[a.NodeID] = true
	}
	live := make([]wire.NodeDescriptor, 0, len(followers))
	for _, f := range followers {
		if aliveIDs[f.Descriptor.NodeID] {
			live = append(live, f.Descriptor)
		}
	}
	return live
}

// SyncSet returns the W live followers with the smallest ports:
// deterministic, not hash-based, so the W+R>N demo is reproducible.
func (l *Layout) SyncSet(alive []wire.NodeDescriptor) []wire.NodeDescriptor {
	l.mu.RLock()
	followers := append([]Follower(nil), l.followers...)
	w := l.WriteQuorum
	l.mu.RUnlock()

	live := liveSet(followers, alive) // already ascending by port
	if len(live) > w {
		live = live[:w]
	}
	return live
}

// AsyncSet returns every live follower not in the sync set.
func (l *Layout) AsyncSet(alive []wire.NodeDescriptor) []wire.NodeDescriptor {
	l.mu.RLock()
	followers := append([]Follower(nil), l.followers...)
	w := l.WriteQuorum
	l.mu.RUnlock()

	live := liveSet(followers, alive)
	if len(live) <= w {
		return nil
	}
	return live[w:]
}

// ReadSet returns the R live followers with the largest ports, so that
// when W+R>N it is guaranteed to intersect SyncSet.
func (l *Layout) ReadSet(alive []wire.NodeDescriptor) []wire.NodeDescriptor {
	l.mu.RLock()
	followers := append([]Follower(nil), l.followers...)
	r := l.ReadQuorum
	l.mu.RUnlock()

	live := liveSet(followers, alive)
	if len(live) > r {
		live = live[len(live)-r:]
	}
	out := make([]wire.NodeDescriptor, len(live))
	copy(out, live)
	// Reverse to largest-port-first, matching the "largest port numbers"
	// selection order (ReadSet callers treat this as an ordered preference,
	// not just a membership test).
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// LiveFollowerCount reports how many configured followers the registry
// currently reports alive, used by Write's step-1 quorum gate.
func (l *Layout) LiveFollowerCount(alive []wire.NodeDescriptor) int {
	l.mu.RLock()
	followers := append([]Follower(nil), l.followers...)
	l.mu.RUnlock()
	return len(liveSet(followers, alive))
}

// Status returns the data for GET /status.
func (l *Layout) Status(entries []wire.MembershipEntry) wire.StatusResponse {
	aliveByID := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.State == string(membership.StateAlive) {
			aliveByID[e.NodeID] = true
		}
	}

	l.mu.RLock()
	followers := append([]Follower(nil), l.followers...)
	w, r := l.WriteQuorum, l.ReadQuorum
	leader := l.Leader
	syncMS, asyncMS := l.SyncDelayMS, l.AsyncDelayMS
	l.mu.RUnlock()

	live := make([]wire.NodeDescriptor, 0, len(followers))
	for _, f := range followers {
		if aliveByID[f.Descriptor.NodeID] {
			live = append(live, f.Descriptor)
		}
	}
	syncCount := w
	if len(live) < syncCount {
		syncCount = len(live)
	}
	syncIDs := make(map[string]bool, syncCount)
	for _, d := range live[:syncCount] {
		syncIDs[d.NodeID] = true
	}

	out := make([]wire.FollowerStatus, 0, len(followers))
	for _, f := range followers {
		alive := aliveByID[f.Descriptor.NodeID]
		set := "none"
		if alive {
			set = "async"
			if syncIDs[f.Descriptor.NodeID] {
				set = "sync"
			}
		}
		out = append(out, wire.FollowerStatus{NodeDescriptor: f.Descriptor, Alive: alive, Set: set})
	}

	return wire.StatusResponse{
		Leader:       leader,
		Followers:    out,
		WriteQuorum:  w,
		ReadQuorum:   r,
		SyncDelayMS:  syncMS,
		AsyncDelayMS: asyncMS,
	}
}
