package membership

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/workshop/quorumkv/internal/errs"
	"github.com/workshop/quorumkv/internal/httpx"
	"github.com/workshop/quorumkv/internal/wire"
)

// Server wires a Registry onto a gin engine.
type Server struct {
	registry *Registry
}

// NewServer creates a Server for reg.
func NewServer(reg *Registry) *Server {
	return &Server{registry: reg}
}

// Register mounts every Registry endpoint.
func (s *Server) Register(r *gin.Engine) {
	r.POST("/heartbeat", s.handleHeartbeat)
	r.POST("/deregister", s.handleDeregister)
	r.GET("/nodes", s.handleNodes)
	r.GET("/alive", s.handleAlive)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	var req wire.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.WriteError(c, errs.InvalidRequest("invalid heartbeat body: %v", err))
		return
	}
	if req.NodeID == "" {
		httpx.WriteError(c, errs.InvalidRequest("node_id must not be empty"))
		return
	}
	s.registry.Heartbeat(wire.NodeDescriptor{
		NodeID:       req.NodeID,
		Role:         req.Role,
		Host:         req.Host,
		Port:         req.Port,
		StartupEpoch: req.StartupEpoch,
	})
	c.JSON(http.StatusOK, wire.OKResponse{OK: true})
}

func (s *Server) handleDeregister(c *gin.Context) {
	var req wire.DeregisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.WriteError(c, errs.InvalidRequest("invalid deregister body: %v", err))
		return
	}
	s.registry.Deregister(req.NodeID)
	c.JSON(http.StatusOK, wire.OKResponse{OK: true})
}

func (s *Server) handleNodes(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.All())
}

func (s *Server) handleAlive(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.Alive())
}
