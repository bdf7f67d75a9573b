// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the request logger for a backend
// whose traffic is full of payer PII: contact emails in checkout payloads,
// payer names, page UUIDs that map to purchases. The logger never touches
// request or response bodies and scrubs the metadata it does record.
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders: []string{"X-Api-Key"},
//	}))
//
// Scrubbing reduces, but does not eliminate, the risk of PII reaching log
// storage; clients should still keep emails and payer data out of query
// strings where possible.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures extra scrub behavior for RedactingLogger.
//
// MaskHeaders lists additional header names whose values are replaced
// wholesale with "[REDACTED]". Matching is case-insensitive; the list is
// merged with the built-in set (Authorization, Cookie, Set-Cookie, and
// Idempotency-Key, which acts as a replay credential for checkout).
type RedactOptions struct {
	MaskHeaders []string
}

// Patterns are package-level so they compile once regardless of how many
// engines mount the middleware.
var (
	redactUUIDRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	redactEmailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits-only phone shapes: "+55 11 91234-5678", "(212) 555-1212", etc.
	// Deliberately loose; it must run after the UUID pass or it will chew
	// on the digit segments of page ids.
	redactPhoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// redactText substitutes identifier-shaped substrings in s. Order matters:
// page ids first, then emails, then the loose phone pattern.
func redactText(s string) string {
	if s == "" {
		return s
	}
	out := redactUUIDRE.ReplaceAllString(s, "[REDACTED:id]")
	out = redactEmailRE.ReplaceAllString(out, "[REDACTED:email]")
	out = redactPhoneRE.ReplaceAllString(out, "[REDACTED:phone]")
	return out
}

// RedactingLogger returns a Gin middleware that emits one structured log
// line per request with payer PII scrubbed.
//
// Each line carries method, route pattern, scrubbed query, status, response
// size, latency, the request id, and scrubbed request headers. Severity is
// info for 2xx/3xx, warn for 4xx, error for 5xx.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := map[string]struct{}{
		"authorization":   {},
		"cookie":          {},
		"set-cookie":      {},
		"idempotency-key": {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		// Prefer the route pattern ("/pages/:id") over the concrete URL so
		// page ids stay out of the path field entirely.
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := redactText(c.Request.URL.RawQuery)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = redactText(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()

		// The response header is authoritative; RequestID() writes it there.
		reqID := c.Writer.Header().Get("X-Request-ID")
		if reqID == "" {
			reqID = c.GetHeader("X-Request-ID")
		}

		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}

		ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
