package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// loggingFields builds the structured fields every request log line
// carries.
func loggingFields(c *gin.Context, duration time.Duration) []zap.Field {
	return []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("duration", duration),
		zap.String("client_ip", c.ClientIP()),
	}
}
