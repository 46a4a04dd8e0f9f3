package requestid

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, inbound string) (string, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	var fromCtx string
	r.GET("/", func(c *gin.Context) {
		fromCtx = FromContext(c.Request.Context())
		assert.Equal(t, fromCtx, Value(c))
		c.Status(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if inbound != "" {
		req.Header.Set(Header, inbound)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Header().Get(Header), fromCtx
}

func TestMiddlewareKeepsInboundID(t *testing.T) {
	header, fromCtx := serve(t, "gw-1234")
	assert.Equal(t, "gw-1234", header)
	assert.Equal(t, "gw-1234", fromCtx)
}

func TestMiddlewareReplacesUnusableID(t *testing.T) {
	for _, inbound := range []string{"", "has space", strings.Repeat("x", 65)} {
		header, fromCtx := serve(t, inbound)
		_, err := uuid.Parse(header)
		require.NoError(t, err, "inbound %q", inbound)
		assert.Equal(t, header, fromCtx)
	}
}
