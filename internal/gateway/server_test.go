package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayForwardsWriteThenRateLimits(t *testing.T) {
	gin.SetMode(gin.TestMode)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version":1}`))
	}))
	defer upstream.Close()

	addr := upstream.Listener.Addr().String()
	lb := NewLoadBalancer([]Upstream{{Addr: addr}}, NewRoundRobin([]string{addr}))
	fwd := NewForwarder(lb, 2*time.Second)
	limiter := NewRateLimiter(1, time.Minute)

	srv := NewServer(limiter, fwd, nil)
	engine := gin.New()
	srv.Register(engine)
	ts := httptest.NewServer(engine)
	defer ts.Close()

	resp1, err := http.Post(ts.URL+"/write", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp1.StatusCode)
	resp1.Body.Close()

	resp2, err := http.Post(ts.URL+"/write", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp2.StatusCode)
	resp2.Body.Close()
}

func TestGatewayStatsReflectsClientWindows(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(5, time.Minute)
	limiter.Allow("client-a")
	limiter.Allow("client-a")

	srv := NewServer(limiter, nil, nil)
	engine := gin.New()
	srv.Register(engine)
	ts := httptest.NewServer(engine)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
