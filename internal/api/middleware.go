package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mreider/fabrik/internal/scheduler"
	"github.com/mreider/fabrik/internal/targets"
	"github.com/mreider/fabrik/pkg/logger"
)

// RequestIDMiddleware adds a request ID to each request.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// LoggingMiddleware logs each request with structured fields.
func LoggingMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"query", raw,
			"status", c.Writer.Status(),
			"client_ip", c.ClientIP(),
			"latency", duration,
			"response_size", c.Writer.Size(),
		}

		if requestID := c.GetString("request_id"); requestID != "" {
			fields = append(fields, "request_id", requestID)
		}

		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		statusCode := c.Writer.Status()
		message := "HTTP Request"

		switch {
		case statusCode >= 500:
			log.Error(message, fields...)
		case statusCode >= 400:
			log.Warn(message, fields...)
		default:
			log.Info(message, fields...)
		}
	}
}

// ErrorHandlerMiddleware maps errors attached to the gin context onto HTTP
// status codes.
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		var unknownTarget *targets.UnknownTargetError
		if errors.As(err, &unknownTarget) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":         "unknown target",
				"details":       unknownTarget.Error(),
				"valid_targets": unknownTarget.Valid,
			})
			return
		}

		if errors.Is(err, scheduler.ErrEpisodeInProgress) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "episode in progress",
				"details": err.Error(),
			})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal server error",
			"details": err.Error(),
		})
	}
}
