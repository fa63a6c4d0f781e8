// Package middleware provides HTTP middleware functions for request logging and processing.
package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stwalsh4118/stories/internal/logger"
)

// quietPaths are logged at debug level; widgets poll them constantly
var quietPaths = map[string]bool{
	"/api/health":                                true,
	"/api/sessions/:id/signals":                  true,
	"/api/sessions/:id/players/:media_id/events": true,
}

// RequestLogger returns a Gin middleware for logging HTTP requests
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		var event *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			event = logger.Log.Error()
		case status >= http.StatusBadRequest:
			event = logger.Log.Warn()
		case quietPaths[c.FullPath()]:
			event = logger.Log.Debug()
		default:
			event = logger.Log.Info()
		}

		event = event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP())
		if id := c.Param("id"); id != "" {
			event = event.Str("session_id", id)
		}
		event.Msg("HTTP request")

		// Log errors separately if any occurred during request processing
		if len(c.Errors) > 0 {
			logger.Log.Error().
				Strs("errors", c.Errors.Errors()).
				Str("path", path).
				Msg("Request completed with errors")
		}
	}
}
