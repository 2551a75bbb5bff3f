package node

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/workshop/quorumkv/internal/errs"
	"github.com/workshop/quorumkv/internal/httpx"
	"github.com/workshop/quorumkv/internal/record"
	"github.com/workshop/quorumkv/internal/wire"
)

// Server wires a Node onto a gin engine.
type Server struct {
	node *Node
}

// NewServer creates a Server for n.
func NewServer(n *Node) *Server {
	return &Server{node: n}
}

// Register mounts every Node endpoint onto r.
func (s *Server) Register(r *gin.Engine) {
	r.POST("/write", s.handleWrite)
	r.POST("/replicate", s.handleReplicate)
	r.GET("/read/:key", s.handleRead)
	r.GET("/snapshot", s.handleSnapshot)
	r.POST("/bulk-load", s.handleBulkLoad)
	r.GET("/health", s.handleHealth)
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

	reqID := c.GetString(httpx.RequestIDKey)
	result, err := s.node.Write(c.Request.Context(), req.Key, req.Value, req.SyncFollowers, req.AsyncFollowers, reqID)
	if err != nil {
		httpx.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, wire.WriteResponse{Version: result.Version, SyncAcks: result.SyncAcks})
}

func (s *Server) handleReplicate(c *gin.Context) {
	var req wire.ReplicateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.WriteError(c, errs.InvalidRequest("invalid replicate body: %v", err))
		return
	}
	result := s.node.Replicate(c.Request.Context(), req.Key, req.Value, req.Version)
	c.JSON(http.StatusOK, wire.ReplicateResponse{Accepted: result.Accepted, LocalVersion: result.LocalVersion})
}

func (s *Server) handleRead(c *gin.Context) {
	key := c.Param("key")
	value, version, found := s.node.Read(key)
	if !found {
		httpx.WriteError(c, errs.NotFound("key %q not found", key))
		return
	}
	c.JSON(http.StatusOK, wire.ReadResponse{Value: value, Version: version})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	snap := s.node.Snapshot()
	records := make(map[string]wire.Record, len(snap))
	for k, e := range snap {
		records[k] = wire.Record{Value: e.Value, Version: e.Version}
	}
	c.JSON(http.StatusOK, wire.SnapshotResponse{Records: records})
}

func (s *Server) handleBulkLoad(c *gin.Context) {
	var req wire.BulkLoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.WriteError(c, errs.InvalidRequest("invalid bulk-load body: %v", err))
		return
	}
	records := make(map[string]record.Entry, len(req.Records))
	for k, r := range req.Records {
		records[k] = record.Entry{Value: r.Value, Version: r.Version}
	}
	loaded := s.node.BulkLoad(records)
	c.JSON(http.StatusOK, wire.BulkLoadResponse{Loaded: loaded})
}

func (s *Server) handleHealth(c *gin.Context) {
	role, uptime, count := s.node.Health()
	c.JSON(http.StatusOK, wire.HealthResponse{
		Role:        role,
		UptimeS:     uptime.Seconds(),
		RecordCount: count,
	})
}
