package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/fatflowers/donations/pkg/logctx"
	"github.com/fatflowers/donations/pkg/tool"
)

const (
	TraceHeader   = "X-Request-ID"
	traceIDKey    = "traceID"
	maxTraceIDLen = 128
)

// TraceMiddleware adds a trace ID to the request context.
// It reads X-Request-ID if provided by the client; otherwise generates a UUIDv7.
// The trace ID is stored in both gin.Context (key: "traceID") and the request's context.Context.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceHeader)
		if traceID == "" || len(traceID) > maxTraceIDLen {
			traceID = tool.GenerateUUIDV7()
		}

		c.Set(traceIDKey, traceID)
		c.Request = c.Request.WithContext(logctx.WithTraceID(c.Request.Context(), traceID))

		c.Next()
	}
}
