package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/workshop/quorumkv/internal/wire"
)

func desc(id string, port int) wire.NodeDescriptor {
	return wire.NodeDescriptor{NodeID: id, Role: "follower", Host: "127.0.0.1", Port: port}
}

func newFixture() *Layout {
	l := New(wire.NodeDescriptor{NodeID: "leader", Role: "leader", Host: "127.0.0.1", Port: 9000}, 2, 2, 500, 5000)
	l.AddFollower(desc("follower-2", 9002))
	l.AddFollower(desc("follower-1", 9001))
	l.AddFollower(desc("follower-3", 9003))
	return l
}

func TestSyncSetPicksSmallestPorts(t *testing.T) {
	l := newFixture()
	alive := []wire.NodeDescriptor{desc("follower-1", 9001), desc("follower-2", 9002), desc("follower-3", 9003)}

	sync := l.SyncSet(alive)
	assert.Len(t, sync, 2)
	assert.Equal(t, "follower-1", sync[0].NodeID)
	assert.Equal(t, "follower-2", sync[1].NodeID)
}

func TestAsyncSetIsTheRemainder(t *testing.T) {
	l := newFixture()
	alive := []wire.NodeDescriptor{desc("follower-1", 9001), desc("follower-2", 9002), desc("follower-3", 9003)}

	async := l.AsyncSet(alive)
	assert.Len(t, async, 1)
	assert.Equal(t, "follower-3", async[0].NodeID)
}

func TestReadSetPicksLargestPortsDescending(t *testing.T) {
	l := newFixture()
	alive := []wire.NodeDescriptor{desc("follower-1", 9001), desc("follower-2", 9002), desc("follower-3", 9003)}

	read := l.ReadSet(alive)
	assert.Len(t, read, 2)
	assert.Equal(t, "follower-3", read[0].NodeID)
	assert.Equal(t, "follower-2", read[1].NodeID)
}

func TestWPlusRGreaterThanNGuaranteesSyncAndReadSetsIntersect(t *testing.T) {
	// N=3 followers, W=2, R=2: W+R=4 > N=3.
	l := newFixture()
	alive := []wire.NodeDescriptor{desc("follower-1", 9001), desc("follower-2", 9002), desc("follower-3", 9003)}

	sync := map[string]bool{}
	for _, d := range l.SyncSet(alive) {
		sync[d.NodeID] = true
	}
	overlap := false
	for _, d := range l.ReadSet(alive) {
		if sync[d.NodeID] {
			overlap = true
		}
	}
	assert.True(t, overlap, "W+R>N must guarantee sync/read set intersection")
}

func TestSetsShrinkWhenFollowersAreDown(t *testing.T) {
	l := newFixture()
	alive := []wire.NodeDescriptor{desc("follower-1", 9001)}

	assert.Len(t, l.SyncSet(alive), 1)
	assert.Empty(t, l.AsyncSet(alive))
	assert.Equal(t, 1, l.LiveFollowerCount(alive))
}

func TestRemoveFollowerDropsItFromAllSets(t *testing.T) {
	l := newFixture()
	l.RemoveFollower("follower-2")
	alive := []wire.NodeDescriptor{desc("follower-1", 9001), desc("follower-3", 9003)}

	assert.Len(t, l.Followers(), 2)
	sync := l.SyncSet(alive)
	for _, d := range sync {
		assert.NotEqual(t, "follower-2", d.NodeID)
	}
}
