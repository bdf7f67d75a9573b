// Checkout HTTP handler.
//
// POST /checkout turns a draft in the paid flow into a provider payment
// intent and returns the PIX payload the browser renders (QR image plus
// copy-paste code). The handler maps service and provider failures onto
// the standard error envelope so the frontend can distinguish "fix your
// input" from "try again later".
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pagelift/go-pages-backend/internal/http/middleware"
	"github.com/pagelift/go-pages-backend/internal/payments"
	"github.com/pagelift/go-pages-backend/internal/repo"
	"github.com/pagelift/go-pages-backend/internal/services"
)

// CheckoutRequest is the JSON payload for issuing a payment intent.
type CheckoutRequest struct {
	// PageID references the draft being purchased.
	PageID string `json:"pageId" binding:"required" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	// Title overrides the stored page title in the provider description.
	Title string `json:"title" example:"Para a Maria"`
	// Email is the payer contact that receives the confirmation.
	Email string `json:"email" binding:"required" example:"maria@example.com"`
	// Name is the payer's full name as reported to the provider.
	Name string `json:"name" example:"Maria Silva"`
}

// PixData carries the scannable and copy-paste PIX artifacts.
type PixData struct {
	QRCodeBase64 string `json:"qrCodeBase64"`
	QRCode       string `json:"qrCode"`
}

// CheckoutResponse wraps the provider artifacts returned to the browser.
type CheckoutResponse struct {
	PixData PixData `json:"pixData"`
}

// Checkout godoc
// @ID          checkout
// @Summary     Issue a payment intent
// @Description Creates a provider payment intent for a draft in the paid flow and returns the PIX payload.
// @Tags        Checkout
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"          example(user123)
// @Param       Idempotency-Key  header  string  false "Safe-retry key for this checkout"
// @Param       body             body    handlers.CheckoutRequest  true  "Checkout payload"
//
// @Success     200  {object} handlers.CheckoutResponse
// @Failure     400  {object} handlers.ErrorResponse "Validation failed"
// @Failure     404  {object} handlers.ErrorResponse "Page not found"
// @Failure     409  {object} handlers.ErrorResponse "Not payable / already paid / replayed key"
// @Failure     500  {object} handlers.ErrorResponse "Configuration or provider error"
// @Router      /checkout [post]
func (h *Handlers) Checkout(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidationFailed, "pageId and email are required")
		return
	}

	// A replayed Idempotency-Key means this exact checkout already issued
	// an intent; refuse to mint a second one.
	if middleware.IsReplay(c) {
		fail(c, http.StatusConflict, ErrCodeConflict, "checkout already completed for this Idempotency-Key")
		return
	}

	intent, err := h.checkoutSvc.Issue(c.Request.Context(), services.CheckoutInput{
		PageID: req.PageID,
		Title:  req.Title,
		Email:  req.Email,
		Name:   req.Name,
	})
	if err != nil {
		h.failCheckout(c, err)
		return
	}

	// Remember the completed checkout when the client supplied a key, so
	// network-level retries replay instead of double-charging.
	if key, present := middleware.GetIdempotencyKey(c); present {
		if db := h.db(); db != nil {
			_, kerr := repo.CreateCheckoutKey(c.Request.Context(), db,
				userID(c), req.PageID, key, intent.ProviderID, http.StatusOK, h.keyTTL())
			if kerr != nil && !errors.Is(kerr, repo.ErrDuplicate) {
				middleware.LoggerFrom(c).Warn().Err(kerr).Msg("checkout key not recorded")
			}
		}
	}

	ok(c, http.StatusOK, CheckoutResponse{PixData: PixData{
		QRCodeBase64: intent.QRCodeBase64,
		QRCode:       intent.QRCode,
	}})
}

// failCheckout maps checkout failures onto HTTP statuses and stable codes.
func (h *Handlers) failCheckout(c *gin.Context, err error) {
	var provErr *payments.ProviderError
	switch {
	case errors.Is(err, services.ErrMissingContact):
		fail(c, http.StatusBadRequest, ErrCodeValidationFailed, err.Error())
	case errors.Is(err, services.ErrPageNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "page not found")
	case errors.Is(err, services.ErrNotPayable), errors.Is(err, services.ErrAlreadyPaid):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, payments.ErrNoCredentials):
		fail(c, http.StatusInternalServerError, ErrCodeConfigError, err.Error())
	case errors.As(err, &provErr):
		fail(c, http.StatusInternalServerError, ErrCodeProviderError, provErr.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeCheckoutFailed, err.Error())
	}
}
