// Package handlers implements the public HTTP API: page drafts, checkout
// initiation, payment status reads and the provider webhook.
//
// Every failure goes out as the same envelope so clients and the webhook
// sender can branch on a stable code instead of parsing prose:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "page not found"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pagelift/go-pages-backend/internal/http/middleware"
)

// ErrorResponse is the error envelope shared by all endpoints. Code is
// machine-readable (see errors.go), Message is safe to surface to the
// end user, and RequestID ties the response to the server log line.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code      string `json:"code" example:"not_found"`
	Message   string `json:"message" example:"page not found"`
}

// fail aborts the request with an ErrorResponse. Server-side failures
// (5xx) are additionally logged through the request-scoped logger;
// client errors are loud enough in the access log already.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail exposes fail to the router for its NoRoute and NoMethod
// fallbacks, keeping those responses in the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
