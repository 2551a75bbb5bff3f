package membership

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workshop/quorumkv/internal/wire"
)

func desc(id string, port int) wire.NodeDescriptor {
	return wire.NodeDescriptor{NodeID: id, Role: "follower", Host: "127.0.0.1", Port: port, StartupEpoch: 1}
}

func TestHeartbeatIsIdempotentUpsert(t *testing.T) {
	reg := New(Config{})
	resurrected := reg.Heartbeat(desc("follower-1", 9001))
	assert.False(t, resurrected)

	all := reg.All()
	require.Len(t, all, 1)
	assert.Equal(t, "follower-1", all[0].NodeID)
	assert.Equal(t, string(StateAlive), all[0].State)
}

func TestPrunerMarksSilentNodePruned(t *testing.T) {
	reg := New(Config{PruneThreshold: 10 * time.Millisecond, PruneTick: 5 * time.Millisecond})
	reg.Heartbeat(desc("follower-1", 9001))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go reg.Run(ctx)
	<-ctx.Done()

	all := reg.All()
	require.Len(t, all, 1)
	assert.Equal(t, string(StatePruned), all[0].State)
	assert.Empty(t, reg.Alive())
}

func TestHeartbeatResurrectsAPrunedEntry(t *testing.T) {
	reg := New(Config{PruneThreshold: 10 * time.Millisecond, PruneTick: 5 * time.Millisecond})
	reg.Heartbeat(desc("follower-1", 9001))

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	reg.Run(ctx)
	cancel()

	all := reg.All()
	require.Len(t, all, 1)
	require.Equal(t, string(StatePruned), all[0].State)

	resurrected := reg.Heartbeat(desc("follower-1", 9001))
	assert.True(t, resurrected)
	assert.Equal(t, string(StateAlive), reg.All()[0].State)
}

func TestHeartbeatFiresResurrectionHintOnlyWhenPreviouslyPruned(t *testing.T) {
	var mu sync.Mutex
	var hinted []string
	hint := func(ctx context.Context, d wire.NodeDescriptor) {
		mu.Lock()
		hinted = append(hinted, d.NodeID)
		mu.Unlock()
	}

	reg := New(Config{PruneThreshold: 10 * time.Millisecond, PruneTick: 5 * time.Millisecond, ResurrectHint: hint})
	reg.Heartbeat(desc("follower-1", 9001))
	assert.Empty(t, hinted, "a fresh registration must not fire the resurrection hint")

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	reg.Run(ctx)
	cancel()
	require.Equal(t, string(StatePruned), reg.All()[0].State)

	reg.Heartbeat(desc("follower-1", 9001))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(hinted) == 1 && hinted[0] == "follower-1"
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestDeregisterRemovesEntry(t *testing.T) {
	reg := New(Config{})
	reg.Heartbeat(desc("follower-1", 9001))
	reg.Deregister("follower-1")
	assert.Empty(t, reg.All())
}

func TestAutoRespawnFiresAfterSpawnDelayWhenStillPruned(t *testing.T) {
	var mu sync.Mutex
	var respawned []string
	respawn := func(ctx context.Context, d wire.NodeDescriptor) error {
		mu.Lock()
		respawned = append(respawned, d.NodeID)
		mu.Unlock()
		return nil
	}

	reg := New(Config{
		PruneThreshold: 10 * time.Millisecond,
		PruneTick:      5 * time.Millisecond,
		AutoSpawn:      true,
		SpawnDelay:     20 * time.Millisecond,
		Respawn:        respawn,
	})
	reg.Heartbeat(desc("follower-1", 9001))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go reg.Run(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(respawned) == 1 && respawned[0] == "follower-1"
	}, 150*time.Millisecond, 5*time.Millisecond)
}

func TestAutoRespawnSkippedIfHeartbeatArrivesBeforeSpawnDelay(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	respawn := func(ctx context.Context, d wire.NodeDescriptor) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}

	reg := New(Config{
		PruneThreshold: 10 * time.Millisecond,
		PruneTick:      5 * time.Millisecond,
		AutoSpawn:      true,
		SpawnDelay:     60 * time.Millisecond,
		Respawn:        respawn,
	})
	reg.Heartbeat(desc("follower-1", 9001))

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	go reg.Run(ctx)

	// Let it prune once, then resume heartbeats well before spawnDelay
	// elapses, so the entry stays alive for the rest of the window and the
	// pending respawn finds it resurrected.
	time.Sleep(15 * time.Millisecond)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		reg.Heartbeat(desc("follower-1", 9001))
		select {
		case <-ticker.C:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls, "a resurrected node must not be auto-respawned")
}
