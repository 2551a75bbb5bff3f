package catchup

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestServer(t *testing.T, engine *gin.Engine) string {
	t.Helper()
	ts := httptest.NewServer(engine)
	t.Cleanup(ts.Close)
	return ts.Listener.Addr().String()
}
