package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures the hardening headers attached to every
// response. The API serves payment state and checkout URLs, so the
// NoStore knob matters: intermediaries must never cache a page status
// that a webhook can flip a second later.
//
// EnableHSTS emits Strict-Transport-Security, but only for requests
// that actually arrived over HTTPS. Leave it off unless the hop between
// the proxy and this process is encrypted too. HSTSMaxAge defaults to
// 180 days when unset.
//
// EnablePolicy adds Permissions-Policy and
// X-Permitted-Cross-Domain-Policies. Browsers honor them, other clients
// ignore them.
type SecurityOptions struct {
	EnableHSTS   bool
	HSTSMaxAge   time.Duration
	NoStore      bool
	EnablePolicy bool
}

// SecurityHeaders returns middleware that sets conservative security
// headers for a JSON API: nosniff, frame denial and no-referrer always,
// with the cache, policy and HSTS headers gated by opt. When an
// X-Request-ID has been assigned it is appended to
// Access-Control-Expose-Headers so browser callers can log it.
//
// There is no Content-Security-Policy here. The service returns JSON
// only; published pages are rendered elsewhere.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hstsValue := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}

		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}

		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hstsValue)
		}

		if rid := h.Get("X-Request-ID"); rid != "" {
			const hdr = "Access-Control-Expose-Headers"
			cur := h.Get(hdr)
			switch {
			case cur == "":
				h.Set(hdr, "X-Request-ID")
			case !strings.Contains(cur, "X-Request-ID"):
				h.Set(hdr, cur+", X-Request-ID")
			}
		}

		c.Next()
	}
}

// isHTTPS reports whether the request used TLS directly or arrived via
// a proxy that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
