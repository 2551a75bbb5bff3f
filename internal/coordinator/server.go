// Package coordinator composes cluster.Layout, cluster.Spawner, and
// quorum.Coordinator into the Coordinator process's HTTP surface.
package coordinator

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/workshop/quorumkv/internal/cluster"
	"github.com/workshop/quorumkv/internal/errs"
	"github.com/workshop/quorumkv/internal/httpx"
	"github.com/workshop/quorumkv/internal/metrics"
	"github.com/workshop/quorumkv/internal/quorum"
	"github.com/workshop/quorumkv/internal/wire"
)

// RegistryClient is the subset of the registry SDK the Coordinator needs:
// the live set for quorum gating, and membership entries for /status.
type RegistryClient interface {
	Alive(ctx context.Context) ([]wire.NodeDescriptor, error)
	Nodes(ctx context.Context) ([]wire.MembershipEntry, error)
}

// Server wires the Coordinator's HTTP endpoints.
type Server struct {
	layout   *cluster.Layout
	spawner  *cluster.Spawner
	quorum   *quorum.Coordinator
	registry RegistryClient
	metrics  *metrics.Coordinator
}

// NewServer creates a Server.
func NewServer(layout *cluster.Layout, spawner *cluster.Spawner, q *quorum.Coordinator, registry RegistryClient, m *metrics.Coordinator) *Server {
	return &Server{layout: layout, spawner: spawner, quorum: q, registry: registry, metrics: m}
}

// Register mounts the Coordinator endpoints.
func (s *Server) Register(r *gin.Engine) {
	r.POST("/write", s.handleWrite)
	r.GET("/read/:key", s.handleRead)
	r.POST("/spawn", s.handleSpawn)
	r.POST("/kill/:node_id", s.handleKill)
	r.POST("/resurrected", s.handleResurrected)
	r.GET("/status", s.handleStatus)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) handleWrite(c *gin.Context) {
	var req wire.WriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.WriteError(c, errs.InvalidRequest("invalid write body: %v", err))
		return
	}
	if req.Key == "" {
		httpx.WriteError(c, errs.InvalidRequest("key must not be empty"))
		return
	}
	result, err := s.quorum.Write(c.Request.Context(), req.Key, req.Value)
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.CoordinatorWriteResponse{Version: result.Version})
}

func (s *Server) handleRead(c *gin.Context) {
	key := c.Param("key")
	result, err := s.quorum.Read(c.Request.Context(), key)
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.CoordinatorReadResponse{
		Value: result.Value, Version: result.Version, SourceNodeID: result.SourceNodeID,
	})
}

func (s *Server) handleSpawn(c *gin.Context) {
	ctx := c.Request.Context()
	entries, err := s.registry.Nodes(ctx)
	if err != nil {
		httpx.WriteError(c, errs.Wrap(errs.KindUnreachable, "registry unreachable", err))
		return
	}

	var prunedSlot *wire.NodeDescriptor
	for _, e := range entries {
		if e.State == "pruned" {
			d := e.NodeDescriptor
			prunedSlot = &d
			break
		}
	}

	leaderAddr := addr(s.layout.Leader)
	leaderHasData := s.layout.Leader.NodeID != ""
	desc, wasRespawn, err := s.spawner.Spawn(ctx, prunedSlot, leaderAddr, leaderHasData)
	if err != nil {
		httpx.WriteError(c, errs.Wrap(errs.KindUnreachable, "spawn failed", err))
		return
	}

	s.layout.AddFollower(desc)
	if s.metrics != nil {
		kind := "fresh"
		if wasRespawn {
			kind = "respawn"
		}
		s.metrics.SpawnsTotal.WithLabelValues(kind).Inc()
	}
	c.JSON(http.StatusOK, wire.SpawnResponse{NodeID: desc.NodeID, Port: desc.Port, WasRespawn: wasRespawn})
}

// handleResurrected is the Registry's resurrection hint: a node that had
// been pruned heartbeated again on its own, so it must be caught up again
// before the Coordinator trusts it as a sync/async replication target — it
// may have missed writes accepted while presumed dead.
func (s *Server) handleResurrected(c *gin.Context) {
	var desc wire.NodeDescriptor
	if err := c.ShouldBindJSON(&desc); err != nil {
		httpx.WriteError(c, errs.InvalidRequest("invalid resurrection hint body: %v", err))
		return
	}

	leaderAddr := addr(s.layout.Leader)
	leaderHasData := s.layout.Leader.NodeID != ""
	if err := s.spawner.Catchup(c.Request.Context(), desc, leaderAddr, leaderHasData); err != nil {
		httpx.WriteError(c, errs.Wrap(errs.KindUnreachable, "catch-up failed", err))
		return
	}

	s.layout.AddFollower(desc)
	c.JSON(http.StatusOK, wire.OKResponse{OK: true})
}

func (s *Server) handleKill(c *gin.Context) {
	nodeID := c.Param("node_id")
	if err := s.spawner.Kill(nodeID); err != nil {
		httpx.WriteError(c, errs.Wrap(errs.KindUnreachable, "kill failed", err))
		return
	}
	c.JSON(http.StatusOK, wire.OKResponse{OK: true})
}

func (s *Server) handleStatus(c *gin.Context) {
	entries, err := s.registry.Nodes(c.Request.Context())
	if err != nil {
		httpx.WriteError(c, errs.Wrap(errs.KindUnreachable, "registry unreachable", err))
		return
	}
	c.JSON(http.StatusOK, s.layout.Status(entries))
}

func addr(d wire.NodeDescriptor) string {
	if d.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}
