// Package middleware holds the Gin middleware shared by the HTTP layer:
// request correlation, structured access logging with redaction, panic
// recovery, rate limiting, idempotency-key validation, security headers
// and Prometheus metrics.
//
// Ordering matters for the logging trio. RequestID runs first so every
// later log line and error body can carry the correlation ID, then the
// access logger, then Recovery so panics are logged with full request
// context. Payment webhooks and checkout calls are retried by their
// callers, so the correlation ID is the only reliable way to stitch a
// retried request back to its first attempt in the logs.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"

	// Query strings are logged verbatim up to this many bytes. Long
	// queries get cut rather than bloating the log line.
	maxQueryLogLength = 2048
)

// RequestID reuses the caller's X-Request-ID when present, otherwise
// assigns a fresh UUIDv4. The ID is echoed on the response and stored
// in the Gin context for the rest of the chain.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Logger emits one structured access log line per request and parks a
// request-scoped zerolog.Logger in the context for handlers to enrich.
// Severity follows the outcome: error for 5xx or any collected Gin
// error, warn for 4xx, info otherwise. The logged path is the route
// pattern when one matched, so page IDs do not leak into the path
// field; unmatched requests fall back to the raw URL path.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid, _ := c.Get(requestIDKey)
		uid, _ := c.Get("userID")
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		l := log.With().
			Str("request_id", asString(rid)).
			Str("user_id", asString(uid)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("referer", c.Request.Referer()).
			Str("query", truncate(c.Request.URL.RawQuery, maxQueryLogLength)).
			Int64("bytes_in", c.Request.ContentLength).
			Logger()

		c.Set("logger", &l)

		c.Next()

		out := l.With().
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size()).
			Logger()

		switch {
		case len(c.Errors) > 0:
			out.Error().Str("errors", c.Errors.String()).Msg("request")
		case c.Writer.Status() >= 500:
			out.Error().Msg("request")
		case c.Writer.Status() >= 400:
			out.Warn().Msg("request")
		default:
			out.Info().Msg("request")
		}
	}
}

// Recovery turns a panic into a logged stack trace plus a JSON 500.
// When the handler already wrote part of a response the body is left
// alone and only the status is aborted.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid, _ := c.Get(requestIDKey)
				log.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("request_id", asString(rid)).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header("Content-Type", "application/json")
					c.Header(requestIDHeader, asString(rid))
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"request_id": asString(rid),
						"code":       "internal_error",
						"message":    "internal server error",
					})
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger attached by Logger, or
// the global logger when none was attached. Never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get("logger"); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate cuts s to max bytes and appends an ellipsis. Non-positive
// max disables truncation. Byte-based, which is fine for log fields.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
