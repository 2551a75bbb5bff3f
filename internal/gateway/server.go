package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/workshop/quorumkv/internal/errs"
	"github.com/workshop/quorumkv/internal/httpx"
	"github.com/workshop/quorumkv/internal/metrics"
	"github.com/workshop/quorumkv/internal/wire"
)

// Server is the Gateway's HTTP surface: rate-limiter -> load-balancer ->
// forward, in that order. The rate limiter runs as gin middleware; the
// forward handler then picks an upstream through the Forwarder's load
// balancer.
type Server struct {
	limiter   *RateLimiter
	forwarder *Forwarder
	metrics   *metrics.Gateway
}

// NewServer creates a Server.
func NewServer(limiter *RateLimiter, forwarder *Forwarder, m *metrics.Gateway) *Server {
	return &Server{limiter: limiter, forwarder: forwarder, metrics: m}
}

// Register mounts the Gateway endpoints. Only the data-plane routes pass
// through the rate limiter; observability stays reachable even for a
// client that has exhausted its window.
func (s *Server) Register(r *gin.Engine) {
	data := r.Group("", s.rateLimitMiddleware())
	data.POST("/write", s.handleForward)
	data.GET("/read/:key", s.handleForward)

	r.GET("/stats", s.handleStats)
	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/graduate", s.handleGraduate)
}

// rateLimitMiddleware applies the fixed-window limiter before any
// forwarding decision is made.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetHeader("X-Client-ID")
		if clientID == "" {
			clientID = c.ClientIP()
		}

		decision := s.limiter.Allow(clientID)
		if !decision.Allowed {
			if s.metrics != nil {
				s.metrics.RateLimitedTotal.WithLabelValues(clientID).Inc()
			}
			retryAfterS := int64(decision.RetryAfter.Seconds())
			if retryAfterS < 1 {
				retryAfterS = 1
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, wire.ErrorResponse{
				Error:      "rate limit exceeded",
				RetryAfter: retryAfterS,
			})
			return
		}
		c.Next()
	}
}

func (s *Server) handleForward(c *gin.Context) {
	result, err := s.forwarder.Forward(c.Request.Context(), c.Request.Method, c.Request.URL.Path, c.Request.Body)
	op := "read"
	if c.Request.Method == http.MethodPost {
		op = "write"
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.RequestsTotal.WithLabelValues(op, "error").Inc()
		}
		httpx.WriteError(c, errs.Wrap(errs.KindUnreachable, "upstream unreachable", err))
		return
	}
	if s.metrics != nil {
		s.metrics.RequestsTotal.WithLabelValues(op, strconv.Itoa(result.StatusCode)).Inc()
	}
	c.Data(result.StatusCode, "application/json", result.Body)
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"clients": s.limiter.Stats()})
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, wire.OKResponse{OK: true})
}

// handleGraduate is the workshop's easter egg: a static response with no
// semantic content, mounted outside the rate-limited data-plane group.
func (s *Server) handleGraduate(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "you have graduated"})
}
