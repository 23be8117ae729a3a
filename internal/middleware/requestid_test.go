package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestIDRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextRequestID))
	})
	return r
}

func TestRequestIDPreservesValidInboundID(t *testing.T) {
	r := requestIDRouter()
	inbound := uuid.New().String()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderXRequestID, inbound)
	r.ServeHTTP(w, req)

	assert.Equal(t, inbound, w.Header().Get(HeaderXRequestID))
	assert.Equal(t, inbound, w.Body.String())
}

func TestRequestIDReplacesMalformedInboundID(t *testing.T) {
	r := requestIDRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderXRequestID, "fake\nid injected=true")
	r.ServeHTTP(w, req)

	echoed := w.Header().Get(HeaderXRequestID)
	_, err := uuid.Parse(echoed)
	require.NoError(t, err, "malformed inbound ids must be replaced with a fresh UUID")
	assert.Equal(t, echoed, w.Body.String())
}

func TestRequestIDGeneratedWhenAbsent(t *testing.T) {
	r := requestIDRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	_, err := uuid.Parse(w.Header().Get(HeaderXRequestID))
	assert.NoError(t, err)
}
