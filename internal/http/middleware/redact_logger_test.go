package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRedactingLogger_MasksAndPatternRedactions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	// upstream RequestID sets the response header; the logger must
	// prefer it over whatever the client sent
	r.Use(func(c *gin.Context) {
		c.Header("X-Request-ID", "rid-resp")
		c.Next()
	})
	r.Use(RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Api-Key"}}))
	r.GET("/pages/:id", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	q := "email=a.b+tag@example.com&phone=+1-555-123-4567&id=123e4567-e89b-12d3-a456-426614174000"
	req := httptest.NewRequest(http.MethodGet, "/pages/123?"+q, nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Cookie", "sid=topsecret")
	req.Header.Set("Idempotency-Key", "ck-1234")
	req.Header.Set("X-Api-Key", "shhh")
	// not in the mask list, so only the embedded PII gets replaced
	req.Header.Set("X-Custom", "email a@b.com id=123e4567-e89b-12d3-a456-426614174000 phone 555-123-4567")
	req.Header.Set("X-Request-ID", "rid-req")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	logs := buf.String()
	if !strings.Contains(logs, `"level":"info"`) {
		t.Fatalf("expected info line, got: %s", logs)
	}
	if !strings.Contains(logs, `"path":"/pages/:id"`) {
		t.Fatalf("expected route pattern as path, got: %s", logs)
	}
	if !strings.Contains(logs, `"request_id":"rid-resp"`) {
		t.Fatalf("expected request_id from response header, got: %s", logs)
	}

	for _, marker := range []string{"[REDACTED:email]", "[REDACTED:phone]", "[REDACTED:id]"} {
		if !strings.Contains(logs, marker) {
			t.Fatalf("query missing %s redaction: %s", marker, logs)
		}
	}
	for _, hdr := range []string{"Authorization", "Cookie", "Idempotency-Key", "X-Api-Key"} {
		if !strings.Contains(logs, `"`+hdr+`":"[REDACTED]"`) {
			t.Fatalf("%s must be fully masked: %s", hdr, logs)
		}
	}
	if !strings.Contains(logs, `"X-Custom":"email [REDACTED:email] id=[REDACTED:id] phone [REDACTED:phone]"`) {
		t.Fatalf("expected pattern redaction inside X-Custom, got: %s", logs)
	}
}

func TestRedactingLogger_SeverityAndRequestIDFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	// no upstream middleware sets the response header, so the logger
	// falls back to the request header
	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/warn", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/error", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for _, tc := range []struct{ path, rid string }{
		{"/warn", "rid-warn"},
		{"/error", "rid-err"},
	} {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		req.Header.Set("X-Request-ID", tc.rid)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	logs := buf.String()
	if !strings.Contains(logs, `"level":"warn"`) || !strings.Contains(logs, `"request_id":"rid-warn"`) {
		t.Fatalf("missing warn line with fallback request_id: %s", logs)
	}
	if !strings.Contains(logs, `"level":"error"`) || !strings.Contains(logs, `"request_id":"rid-err"`) {
		t.Fatalf("missing error line with fallback request_id: %s", logs)
	}
}
