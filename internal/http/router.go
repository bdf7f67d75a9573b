// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/pagelift/go-pages-backend/internal/config"
	"github.com/pagelift/go-pages-backend/internal/domain"
	"github.com/pagelift/go-pages-backend/internal/http/handlers"
	"github.com/pagelift/go-pages-backend/internal/http/middleware"
	"github.com/pagelift/go-pages-backend/internal/notify"
	"github.com/pagelift/go-pages-backend/internal/payments"
	"github.com/pagelift/go-pages-backend/internal/repo"
	"github.com/pagelift/go-pages-backend/internal/services"
)

// pageRepoShim adapts the repository free functions to the repo interfaces
// expected by the page, status, and checkout services. This keeps services
// decoupled from the concrete repo package while reusing existing functions.
type pageRepoShim struct{}

// CreatePage proxies repo.CreatePage.
func (pageRepoShim) CreatePage(ctx context.Context, db *gorm.DB, ownerID, plan, title, contactEmail, contactName string, content json.RawMessage) (*domain.Page, error) {
	return repo.CreatePage(ctx, db, ownerID, plan, title, contactEmail, contactName, content)
}

// GetPage proxies repo.GetPage.
func (pageRepoShim) GetPage(ctx context.Context, db *gorm.DB, id string) (*domain.Page, error) {
	return repo.GetPage(ctx, db, id)
}

// GetOwnedPage proxies repo.GetOwnedPage.
func (pageRepoShim) GetOwnedPage(ctx context.Context, db *gorm.DB, id, ownerID string) (*domain.Page, error) {
	return repo.GetOwnedPage(ctx, db, id, ownerID)
}

// CountPages proxies repo.CountPages (pagination support).
func (pageRepoShim) CountPages(ctx context.Context, db *gorm.DB, ownerID string) (int64, error) {
	return repo.CountPages(ctx, db, ownerID)
}

// ListPagesPage proxies repo.ListPagesPage (pagination support).
func (pageRepoShim) ListPagesPage(ctx context.Context, db *gorm.DB, ownerID string, offset, limit int) ([]domain.Page, error) {
	return repo.ListPagesPage(ctx, db, ownerID, offset, limit)
}

// UpdatePageContent proxies repo.UpdatePageContent.
func (pageRepoShim) UpdatePageContent(ctx context.Context, db *gorm.DB, id, ownerID, title string, content json.RawMessage) error {
	return repo.UpdatePageContent(ctx, db, id, ownerID, title, content)
}

// SetPageStatus proxies repo.SetPageStatus (lifecycle writes).
func (pageRepoShim) SetPageStatus(ctx context.Context, db *gorm.DB, id, status string) error {
	return repo.SetPageStatus(ctx, db, id, status)
}

// MarkPaid proxies repo.MarkPaid (atomic paid claim).
func (pageRepoShim) MarkPaid(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	return repo.MarkPaid(ctx, db, id)
}

// MarkNotified proxies repo.MarkNotified (confirmation delivery stamp).
func (pageRepoShim) MarkNotified(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return repo.MarkNotified(ctx, db, id, at)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), checkout replay
// detection and rate limiting, CORS and security headers, health and metrics
// endpoints, and then mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Response compression
//  7. Metrics
//  8. Demo identity + checkout replay validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per user/IP, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction (contact emails are PII here)
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key",
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB covers the largest template payloads)
	r.Use(limitBody(1 << 20))

	// 6) Compress page content and list responses
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Demo identity, then checkout replay detection (before rate limiting)
	r.Use(func(c *gin.Context) {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			c.Set("userID", h)
		}
		c.Next()
	})
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID, pageID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetCheckoutKey(ctx, db, userID, pageID, key, now)
			if err != nil {
				return false, err
			}
			return rec != nil, nil
		},
	))

	// 9) Token-bucket rate limiter per user/IP. Webhook deliveries are
	// exempt: a 429 is a failed delivery to the provider and only buys
	// another redelivery, so a parseable notification must always reach
	// the handler.
	r.Use(func(c *gin.Context) {
		if c.Request.Method == http.MethodPost && strings.HasSuffix(c.FullPath(), "/webhooks/payment") {
			middleware.MarkRateBypass(c)
		}
		c.Next()
	})
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP)
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs (off by default)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/gateway
	gateway := payments.NewClient(payments.Config{
		BaseURL:     cfg.Payment.BaseURL,
		AccessToken: cfg.Payment.AccessToken,
		Timeout:     cfg.Payment.Timeout,
	})

	var notifier notify.Notifier
	if cfg.Mail.Endpoint != "" {
		notifier = notify.NewMailer(cfg.Mail.Endpoint, cfg.Mail.APIKey, cfg.Mail.From)
	}

	pageSvc := services.NewPageService(db, pageRepoShim{})
	statusSvc := services.NewStatusService(db, pageRepoShim{}, notifier, cfg.PublicBaseURL)
	checkoutSvc := &services.CheckoutService{
		DB:            db,
		Repo:          pageRepoShim{},
		Gateway:       gateway,
		Amount:        cfg.Payment.Amount,
		Currency:      cfg.Payment.Currency,
		Expiry:        cfg.Payment.IntentExpiry,
		PublicBaseURL: cfg.PublicBaseURL,
	}

	h := handlers.New(pageSvc, checkoutSvc, statusSvc, gateway)
	h.KeyTTL = cfg.CheckoutKeyTTL
	h.PollInterval = cfg.Poll.Interval
	// The wait endpoint must answer before the server write deadline, or
	// the client can never read the response. Clients resume with a new
	// request when a capped wait times out.
	h.PollCeiling = cfg.Poll.Ceiling
	if limit := cfg.WriteTimeout - time.Second; limit > 0 && h.PollCeiling > limit {
		h.PollCeiling = limit
	}

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Pages
		api.POST("/pages", h.CreatePage)
		api.GET("/pages", h.ListPages)
		api.GET("/pages/:id", h.GetPage)
		api.GET("/pages/:id/wait", h.WaitPage)
		api.PUT("/pages/:id/content", h.UpdatePageContent)
		api.GET("/pages/:id/events", h.ListPaymentEvents)

		// Checkout
		api.POST("/checkout", h.Checkout)

		// Provider webhooks
		api.POST("/webhooks/payment", h.PaymentWebhook)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
