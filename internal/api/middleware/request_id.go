package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/railzwaylabs/stockflow/pkg/telemetry/correlation"
)

const requestIDHeader = "X-Request-ID"

// RequestID puts a correlation id on the request context and echoes it back.
// Callers may supply one through X-Correlation-ID or X-Request-ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := incomingID(c); id != "" {
			ctx = correlation.ContextWithCorrelationID(ctx, id)
		}
		ctx, id := correlation.EnsureCorrelationID(ctx)

		c.Request = c.Request.WithContext(ctx)
		c.Set("request_id", id)
		c.Header(correlation.HeaderName, id)
		c.Next()
	}
}

func incomingID(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(correlation.HeaderName)); id != "" {
		return id
	}
	return strings.TrimSpace(c.GetHeader(requestIDHeader))
}
