package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/workshop/quorumkv/internal/cluster"
	"github.com/workshop/quorumkv/internal/node"
	"github.com/workshop/quorumkv/internal/quorum"
	"github.com/workshop/quorumkv/internal/wire"
)

type fakeRegistry struct {
	alive []wire.NodeDescriptor
	nodes []wire.MembershipEntry
}

func (f *fakeRegistry) Alive(ctx context.Context) ([]wire.NodeDescriptor, error) { return f.alive, nil }
func (f *fakeRegistry) Nodes(ctx context.Context) ([]wire.MembershipEntry, error) {
	return f.nodes, nil
}

func newNodeServer(t *testing.T, id string, role node.Role) (wire.NodeDescriptor, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	n := node.New(node.Config{ID: id, Role: role, Log: zap.NewNop()})
	engine := gin.New()
	node.NewServer(n).Register(engine)
	srv := httptest.NewServer(engine)

	host, portStr, err := splitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	return wire.NodeDescriptor{NodeID: id, Role: string(role), Host: host, Port: portStr}, srv.Close
}

func TestHandleWriteAndReadRoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)

	leaderDesc, closeLeader := newNodeServer(t, "leader", node.RoleLeader)
	defer closeLeader()
	f1Desc, closeF1 := newNodeServer(t, "follower-1", node.RoleFollower)
	defer closeF1()
	f2Desc, closeF2 := newNodeServer(t, "follower-2", node.RoleFollower)
	defer closeF2()

	layout := cluster.New(leaderDesc, 2, 2, 500, 5000)
	layout.AddFollower(f1Desc)
	layout.AddFollower(f2Desc)

	reg := &fakeRegistry{alive: []wire.NodeDescriptor{f1Desc, f2Desc}}
	q := quorum.New(quorum.Config{
		Layout: layout,
		Alive:  func(ctx context.Context) ([]wire.NodeDescriptor, error) { return reg.alive, nil },
		Log:    zap.NewNop(),
	})

	srv := NewServer(layout, nil, q, reg, nil)
	engine := gin.New()
	srv.Register(engine)
	ts := httptest.NewServer(engine)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/write", "application/json", jsonBody(`{"key":"a","value":"1"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp2, err := http.Get(ts.URL + "/read/a")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	resp2.Body.Close()
}

func TestHandleResurrectedCatchesUpAndReaddsFollower(t *testing.T) {
	gin.SetMode(gin.TestMode)

	leaderDesc, closeLeader := newNodeServer(t, "leader", node.RoleLeader)
	defer closeLeader()

	followerDesc, closeFollower := newNodeServer(t, "follower-1", node.RoleFollower)
	defer closeFollower()

	layout := cluster.New(leaderDesc, 1, 1, 500, 5000)
	spawner := cluster.NewSpawner("unused-node-binary", followerDesc.Port, 1, 500, 5000, "http://127.0.0.1:9500", zap.NewNop())

	reg := &fakeRegistry{}
	q := quorum.New(quorum.Config{Layout: layout, Alive: func(ctx context.Context) ([]wire.NodeDescriptor, error) { return nil, nil }})
	srv := NewServer(layout, spawner, q, reg, nil)
	engine := gin.New()
	srv.Register(engine)
	ts := httptest.NewServer(engine)
	defer ts.Close()

	body, err := json.Marshal(followerDesc)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/resurrected", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	followers := layout.Followers()
	require.Len(t, followers, 1)
	assert.Equal(t, "follower-1", followers[0].Descriptor.NodeID)
}

func TestHandleStatusReturnsLayout(t *testing.T) {
	gin.SetMode(gin.TestMode)
	leaderDesc := wire.NodeDescriptor{NodeID: "leader", Role: "leader", Host: "127.0.0.1", Port: 9000}
	layout := cluster.New(leaderDesc, 1, 1, 500, 5000)

	reg := &fakeRegistry{}
	q := quorum.New(quorum.Config{Layout: layout, Alive: func(ctx context.Context) ([]wire.NodeDescriptor, error) { return nil, nil }})
	srv := NewServer(layout, nil, q, reg, nil)
	engine := gin.New()
	srv.Register(engine)
	ts := httptest.NewServer(engine)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
