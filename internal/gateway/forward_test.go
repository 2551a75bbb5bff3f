package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardReturnsUpstreamResponseVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(`{"error":"i am a teapot"}`))
	}))
	defer upstream.Close()

	addr := upstream.Listener.Addr().String()
	lb := NewLoadBalancer([]Upstream{{Addr: addr}}, NewRoundRobin([]string{addr}))
	fwd := NewForwarder(lb, 2*time.Second)

	result, err := fwd.Forward(context.Background(), http.MethodGet, "/read/a", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, result.StatusCode)
	assert.Contains(t, string(result.Body), "teapot")
}
