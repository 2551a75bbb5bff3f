// Package httpx holds the gin middleware shared by every component's HTTP
// server: structured request logging, panic recovery, and request-ID
// propagation.
package httpx

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/workshop/quorumkv/internal/errs"
	"github.com/workshop/quorumkv/internal/wire"
)

const requestIDHeader = "X-Request-ID"

// RequestIDKey is the gin context key the request ID is stored under.
const RequestIDKey = "request_id"

// RequestID assigns a request ID (from the incoming header, or a fresh
// uuid) and echoes it in the response. The leader passes its ID on to
// followers in replicate calls; the Gateway and the Coordinator do not set
// the header on their upstream calls, so each of them starts a new ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// Logger logs every request with method, path, status, latency, and
// request ID.
func Logger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(RequestIDKey)),
		)
	}
}

// Recovery converts a panic into a structured 500 instead of crashing the
// process, logging the panic value.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("request_id", c.GetString(RequestIDKey)),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, wire.ErrorResponse{
					Error: "internal server error",
				})
			}
		}()
		c.Next()
	}
}

// WriteError maps a typed error to its HTTP status and writes the body.
func WriteError(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	c.JSON(status, wire.ErrorResponse{Error: err.Error()})
}
