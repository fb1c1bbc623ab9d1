// README: Request logging with a per-request id echoed back to the caller.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const ctxKeyRequestID = "request.id"

// RequestLog assigns every request an id, echoes it in X-Request-Id and logs
// method, path, status and latency once the handler chain returns.
func RequestLog(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxKeyRequestID, id)
		c.Writer.Header().Set("X-Request-Id", id)

		start := time.Now()
		c.Next()

		fields := []any{
			"request_id", id,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"caller", CallerUID(c),
		}
		if len(c.Errors) > 0 {
			log.Warnw("request failed", append(fields, "errors", c.Errors.String())...)
			return
		}
		log.Infow("request", fields...)
	}
}

// RequestID returns the id assigned by RequestLog, empty outside of it.
func RequestID(c *gin.Context) string {
	return c.GetString(ctxKeyRequestID)
}
