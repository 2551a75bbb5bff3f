package node

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestNode(role Role, delay time.Duration) *Node {
	return New(Config{ID: "n1", Role: role, ReplicaDelay: delay, Log: zap.NewNop()})
}

// followerServer spins up a real HTTP server backed by a follower Node, so
// the leader's fan-out exercises the real transport instead of a fake.
func followerServer(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	n := newTestNode(RoleFollower, delay)
	engine := gin.New()
	NewServer(n).Register(engine)
	ts := httptest.NewServer(engine)
	t.Cleanup(ts.Close)
	return ts
}

func addrOf(ts *httptest.Server) string {
	return ts.Listener.Addr().String()
}

func TestWriteLocalThenSyncFanout(t *testing.T) {
	leader := newTestNode(RoleLeader, 0)
	f1 := followerServer(t, 0)
	f2 := followerServer(t, 0)

	result, err := leader.Write(context.Background(), "a", "1",
		[]string{addrOf(f1), addrOf(f2)}, nil, "req-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.Version)
	assert.Equal(t, 2, result.SyncAcks)

	value, version, found := leader.Read("a")
	require.True(t, found)
	assert.Equal(t, "1", value)
	assert.EqualValues(t, 1, version)
}

func TestWriteReturnsQuorumErrorWhenFollowerUnreachable(t *testing.T) {
	leader := newTestNode(RoleLeader, 0)
	_, err := leader.Write(context.Background(), "a", "1", []string{"127.0.0.1:1"}, nil, "req-1")
	require.Error(t, err)

	// The local value is retained even though the sync ack failed.
	value, version, found := leader.Read("a")
	require.True(t, found)
	assert.Equal(t, "1", value)
	assert.EqualValues(t, 1, version)
}

func TestReplicateIsIdempotentAndMonotonic(t *testing.T) {
	follower := newTestNode(RoleFollower, 0)
	r1 := follower.Replicate(context.Background(), "k", "v2", 2)
	assert.True(t, r1.Accepted)
	assert.EqualValues(t, 2, r1.LocalVersion)

	r2 := follower.Replicate(context.Background(), "k", "v1", 1)
	assert.True(t, r2.Accepted, "replicate must report success even when the update is dropped")
	assert.EqualValues(t, 2, r2.LocalVersion, "stale version must not regress local state")
}

func TestNonLeaderRejectsWrite(t *testing.T) {
	follower := newTestNode(RoleFollower, 0)
	_, err := follower.Write(context.Background(), "a", "1", nil, nil, "")
	require.Error(t, err)
}

func TestSnapshotAndBulkLoad(t *testing.T) {
	leader := newTestNode(RoleLeader, 0)
	leader.Write(context.Background(), "a", "1", nil, nil, "")
	leader.Write(context.Background(), "b", "2", nil, nil, "")

	snap := leader.Snapshot()
	assert.Len(t, snap, 2)

	follower := newTestNode(RoleFollower, 0)
	loaded := follower.BulkLoad(snap)
	assert.Equal(t, 2, loaded)

	value, version, found := follower.Read("b")
	require.True(t, found)
	assert.Equal(t, "2", value)
	assert.EqualValues(t, 1, version)
}

func TestSyncFanoutRespectsContextCancellation(t *testing.T) {
	leader := newTestNode(RoleLeader, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	slowFollower := followerServer(t, 2*time.Second)
	_, err := leader.Write(ctx, "a", "1", []string{addrOf(slowFollower)}, nil, "req-1")
	require.Error(t, err)
}
