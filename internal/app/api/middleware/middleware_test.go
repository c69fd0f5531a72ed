package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fatflowers/donations/pkg/logctx"
)

func newEngine(log *zap.SugaredLogger, token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TraceMiddleware(), RequestLoggerMiddleware(log), AccessLogMiddleware(), AdminAuthMiddleware(token))
	r.GET("/ping", func(c *gin.Context) {
		logctx.FromCtx(c.Request.Context(), log).Infow("handled")
		c.String(http.StatusOK, "pong")
	})
	return r
}

func TestTraceAndAccessLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := newEngine(zap.New(core).Sugar(), "")

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "trace-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "trace-1", w.Header().Get("X-Request-ID"))

	handled := logs.FilterMessage("handled").All()
	require.Len(t, handled, 1)
	require.Equal(t, "trace-1", handled[0].ContextMap()["trace_id"])

	access := logs.FilterMessage("http_access").All()
	require.Len(t, access, 1)
	require.EqualValues(t, http.StatusOK, access[0].ContextMap()["status"])
}

func TestTraceGeneratesID(t *testing.T) {
	r := newEngine(zap.NewNop().Sugar(), "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", maxTraceIDLen+1))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Len(t, w.Header().Get("X-Request-ID"), 36)
}

func TestAdminAuth(t *testing.T) {
	r := newEngine(zap.NewNop().Sugar(), "secret")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
