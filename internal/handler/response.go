package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vitalsync/internal/apperror"
)

func respondOK(c *gin.Context, message string) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message})
}

// respondError renders err as {success:false, message}. Internal failures
// are logged with their cause; the client only sees the public message.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := apperror.StatusCode(err)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": apperror.PublicMessage(err)})
}

// RequestLogger logs every request through zap.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}

		switch {
		case status >= 500:
			log.Error("Server error", fields...)
		case status >= 400:
			log.Warn("Client error", fields...)
		default:
			// Device polling is constant; keep it out of info logs.
			log.Debug("Request processed", fields...)
		}
	}
}
