// Page HTTP handlers.
//
// This file exposes REST endpoints for page resources:
//   - POST   /pages                (create draft)
//   - GET    /pages                (owner list, paginated, ETag support)
//   - GET    /pages/{id}           (public status read, polled by clients)
//   - PUT    /pages/{id}/content   (replace draft content)
//   - GET    /pages/{id}/events    (payment audit trail)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pagelift/go-pages-backend/internal/domain"
	"github.com/pagelift/go-pages-backend/internal/payments"
	"github.com/pagelift/go-pages-backend/internal/poll"
	"github.com/pagelift/go-pages-backend/internal/repo"
	"github.com/pagelift/go-pages-backend/internal/services"
	"github.com/pagelift/go-pages-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// PageService defines page lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type PageService interface {
	// Create persists a new draft for ownerID and returns the page resource.
	Create(ctx context.Context, ownerID string, in services.CreatePageInput) (*domain.Page, error)
	// Get returns a page by id for the public status read.
	Get(ctx context.Context, id string) (*domain.Page, error)
	// ListPage returns a page of drafts for an owner and the total count.
	ListPage(ctx context.Context, ownerID string, page, pageSize int) ([]domain.Page, int64, error)
	// UpdateContent replaces a draft's content payload for its owner.
	UpdateContent(ctx context.Context, ownerID, pageID, title string, content json.RawMessage) error
}

// CheckoutService defines payment-intent issuance consumed by HTTP handlers.
type CheckoutService interface {
	// Issue validates the payload and creates a provider payment intent.
	Issue(ctx context.Context, in services.CheckoutInput) (*payments.Intent, error)
}

// ConfirmService applies the paid transition for a page.
type ConfirmService interface {
	// ConfirmPayment transitions a page to paid at most once and reports
	// what happened.
	ConfirmPayment(ctx context.Context, pageID string) (services.ConfirmResult, error)
}

// PaymentFetcher retrieves the authoritative payment state from the provider.
type PaymentFetcher interface {
	GetPayment(ctx context.Context, paymentID string) (*payments.Payment, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for pages, checkout, and payment webhooks.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	pageSvc     PageService
	checkoutSvc CheckoutService
	confirmSvc  ConfirmService
	gateway     PaymentFetcher

	// KeyTTL bounds how long a replayed Idempotency-Key keeps answering for
	// a completed checkout. Zero means the 24h default.
	KeyTTL time.Duration
	// PollInterval / PollCeiling tune the long-poll wait endpoint. Zero
	// values fall back to the watcher defaults.
	PollInterval time.Duration
	PollCeiling  time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
func New(pageSvc PageService, checkoutSvc CheckoutService, confirmSvc ConfirmService, gateway PaymentFetcher) *Handlers {
	return &Handlers{pageSvc: pageSvc, checkoutSvc: checkoutSvc, confirmSvc: confirmSvc, gateway: gateway}
}

func (h *Handlers) keyTTL() time.Duration {
	if h.KeyTTL > 0 {
		return h.KeyTTL
	}
	return 24 * time.Hour
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

// db returns the GORM handle behind the page service when available.
// Handlers use it for read-side extras (ETag stats, audit listing) that do
// not warrant widening the service contracts.
func (h *Handlers) db() *gorm.DB {
	if svc, ok := h.pageSvc.(*services.PageService); ok {
		return svc.DB
	}
	return nil
}

//
// DTOs
//

// CreatePageRequest is the JSON payload for creating a page draft.
type CreatePageRequest struct {
	// Plan selects the lifecycle branch; empty means "essential".
	Plan string `json:"plan" example:"essential"`
	// Title optionally names the page; a default is used when empty.
	Title string `json:"title" example:"Para a Maria"`
	// Email receives the publication confirmation (optional).
	Email string `json:"email" example:"maria@example.com"`
	// Name addresses the confirmation mail (optional).
	Name string `json:"name" example:"Maria Silva"`
	// Content is the opaque template payload stored verbatim.
	Content json.RawMessage `json:"content" swaggertype:"object"`
}

// UpdatePageContentRequest is the JSON payload for replacing draft content.
type UpdatePageContentRequest struct {
	// Title optionally renames the page.
	Title string `json:"title" example:"Para a Maria"`
	// Content is the replacement template payload.
	Content json.RawMessage `json:"content" binding:"required" swaggertype:"object"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListPagesResponse wraps a page of drafts and pagination information.
type ListPagesResponse struct {
	Pages      []domain.Page `json:"pages"`
	Pagination Pagination    `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// Handlers
//

// CreatePage godoc
// @ID          createPage
// @Summary     Create a page draft
// @Description Creates a draft for the current user and returns the page resource.
// @Tags        Pages
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreatePageRequest  true  "Create page payload"
//
// @Success     201  {object}  domain.Page
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /pages [post]
func (h *Handlers) CreatePage(c *gin.Context) {
	var req CreatePageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	p, err := h.pageSvc.Create(c.Request.Context(), userID(c), services.CreatePageInput{
		Plan:         req.Plan,
		Title:        req.Title,
		ContactEmail: req.Email,
		ContactName:  req.Name,
		Content:      req.Content,
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, p)
}

// ListPages godoc
// @ID          listPages
// @Summary     List page drafts (paginated)
// @Description Returns a page of the user's drafts. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Pages
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListPagesResponse
// @Header      200  {string} ETag           "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /pages [get]
func (h *Handlers) ListPages(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if db := h.db(); db != nil {
		count, maxTS, err := repo.PagesStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"pages:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	// Fetch page.
	items, total, err := h.pageSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	resp := ListPagesResponse{
		Pages: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	}
	ok(c, http.StatusOK, resp)
}

// GetPage godoc
// @ID          getPage
// @Summary     Read page status
// @Description Returns the page resource by id. Clients poll this endpoint after checkout until status flips to paid.
// @Tags        Pages
// @Produce     json
//
// @Param       id  path  string  true  "Page ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Page
// @Failure     404  {object} handlers.ErrorResponse "Page not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /pages/{id} [get]
func (h *Handlers) GetPage(c *gin.Context) {
	p, err := h.pageSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrPageNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "page not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, p)
}

// WaitPageResponse pairs the final page snapshot with how the wait ended.
type WaitPageResponse struct {
	Page    *domain.Page `json:"page"`
	Outcome string       `json:"outcome" enums:"paid,timeout,cancelled"`
}

// WaitPage godoc
// @ID          waitPage
// @Summary     Wait for a page to become paid
// @Description Long-poll variant of the status read: blocks until the page turns paid, the wait ceiling elapses, or the client disconnects. Returns the final snapshot either way.
// @Tags        Pages
// @Produce     json
//
// @Param       id  path  string  true  "Page ID (UUID)"  format(uuid)
//
// @Success     200  {object} handlers.WaitPageResponse
// @Failure     404  {object} handlers.ErrorResponse "Page not found"
// @Router      /pages/{id}/wait [get]
func (h *Handlers) WaitPage(c *gin.Context) {
	pageID := c.Param("id")

	// Reject unknown pages up front so callers don't block on a typo.
	if _, err := h.pageSvc.Get(c.Request.Context(), pageID); err != nil {
		if errors.Is(err, services.ErrPageNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "page not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	w := poll.NewWatcher(h.pageSvc, h.PollInterval, h.PollCeiling)
	page, outcome := w.Run(c.Request.Context(), pageID)
	ok(c, http.StatusOK, WaitPageResponse{Page: page, Outcome: string(outcome)})
}

// UpdatePageContent godoc
// @ID          updatePageContent
// @Summary     Replace draft content
// @Description Replaces the content payload (and optionally the title) of a draft owned by the current user.
// @Tags        Pages
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Page ID (UUID)"         format(uuid)
// @Param       body       body    handlers.UpdatePageContentRequest  true  "Replacement content"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Page not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /pages/{id}/content [put]
func (h *Handlers) UpdatePageContent(c *gin.Context) {
	pageID := c.Param("id")
	if _, err := uuid.Parse(pageID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "page id must be a UUID")
		return
	}

	var req UpdatePageContentRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Content) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	err := h.pageSvc.UpdateContent(c.Request.Context(), userID(c), pageID, req.Title, req.Content)
	if err != nil {
		if errors.Is(err, services.ErrPageNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "page not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, err.Error())
		return
	}

	noContent(c)
}

// ListPaymentEvents godoc
// @ID          listPaymentEvents
// @Summary     List payment events for a page
// @Description Returns the audit trail of provider webhooks handled for a page, newest first.
// @Tags        Pages
// @Produce     json
//
// @Param       id  path  string  true  "Page ID (UUID)"  format(uuid)
//
// @Success     200  {array}  domain.PaymentEvent
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /pages/{id}/events [get]
func (h *Handlers) ListPaymentEvents(c *gin.Context) {
	db := h.db()
	if db == nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "audit store unavailable")
		return
	}
	events, err := repo.ListPaymentEvents(c.Request.Context(), db, c.Param("id"))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, events)
}
