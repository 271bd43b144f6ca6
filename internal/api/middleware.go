package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/youruser/chainoftrust/internal/log"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// requestID reuses the caller's X-Request-ID or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).Round(time.Microsecond),
			"request_id", c.GetString(requestIDKey),
		}
		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Error(log.CatHTTP, "request", append(fields, "errors", c.Errors.String())...)
		case status >= 400:
			log.Warn(log.CatHTTP, "request", fields...)
		default:
			log.Info(log.CatHTTP, "request", fields...)
		}
	}
}
