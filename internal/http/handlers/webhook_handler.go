// Payment webhook handler.
//
// POST /webhooks/payment receives provider notifications. The inbound
// payload is treated as a hint only: the handler re-fetches the payment
// from the provider and acts on that authoritative state. Every handled
// notification is recorded as a PaymentEvent row so operators can
// reconstruct the decision afterwards.
//
// Delivery contract: the provider retries on non-2xx responses. The
// handler therefore answers 200 for every understood notification, even
// when processing failed, and reserves 500 for payloads it cannot parse
// at all.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pagelift/go-pages-backend/internal/http/middleware"
	"github.com/pagelift/go-pages-backend/internal/payments"
	"github.com/pagelift/go-pages-backend/internal/repo"
)

// webhookOutcomes counts handled provider notifications by outcome.
var webhookOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payment_webhooks_total",
		Help: "Total provider payment webhooks handled, by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(webhookOutcomes)
}

// flexID tolerates the provider sending data.id either as a JSON number
// or as a quoted string, which varies by notification channel.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		s = ""
	}
	*f = flexID(s)
	return nil
}

// WebhookRequest is the provider notification envelope. Only the kind
// and the payment reference are read; everything else on the wire is
// ignored in favor of the authoritative re-fetch.
type WebhookRequest struct {
	Type string `json:"type" example:"payment"`
	Data struct {
		ID flexID `json:"id"`
	} `json:"data"`
}

// PaymentWebhook godoc
// @ID          paymentWebhook
// @Summary     Receive a provider payment notification
// @Description Re-fetches the referenced payment and, when approved, applies the paid transition to the linked page.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.WebhookRequest  true  "Provider notification"
//
// @Success     200  {object} map[string]string
// @Failure     500  {object} handlers.ErrorResponse "Unparseable payload"
// @Router      /webhooks/payment [post]
func (h *Handlers) PaymentWebhook(c *gin.Context) {
	var req WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		webhookOutcomes.WithLabelValues("unparseable").Inc()
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "invalid webhook payload")
		return
	}

	// Anything that is not a payment notification is acknowledged and
	// dropped; the provider also emits merchant-order and test events.
	paymentID := string(req.Data.ID)
	if req.Type != "payment" || paymentID == "" {
		webhookOutcomes.WithLabelValues("ignored").Inc()
		ok(c, http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	ctx := c.Request.Context()
	lg := middleware.LoggerFrom(c)

	payment, err := h.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		lg.Error().Err(err).Str("payment_id", paymentID).Msg("payment re-fetch failed")
		h.recordEvent(c, paymentID, req.Type, "", "", "provider_error")
		ok(c, http.StatusOK, gin.H{"status": "accepted"})
		return
	}

	if payment.Status != payments.StatusApproved {
		h.recordEvent(c, paymentID, req.Type, payment.Status, payment.PageID, "not_approved")
		ok(c, http.StatusOK, gin.H{"status": "accepted"})
		return
	}
	if payment.PageID == "" {
		lg.Warn().Str("payment_id", paymentID).Msg("approved payment carries no page reference")
		h.recordEvent(c, paymentID, req.Type, payment.Status, "", "no_page_ref")
		ok(c, http.StatusOK, gin.H{"status": "accepted"})
		return
	}

	result, err := h.confirmSvc.ConfirmPayment(ctx, payment.PageID)
	if err != nil {
		lg.Error().Err(err).
			Str("payment_id", paymentID).
			Str("page_id", payment.PageID).
			Msg("payment confirmation failed")
		h.recordEvent(c, paymentID, req.Type, payment.Status, payment.PageID, "confirm_failed")
		ok(c, http.StatusOK, gin.H{"status": "accepted"})
		return
	}

	h.recordEvent(c, paymentID, req.Type, payment.Status, payment.PageID, result.Outcome)
	ok(c, http.StatusOK, gin.H{"status": "processed", "outcome": result.Outcome})
}

// recordEvent appends a PaymentEvent audit row and bumps the outcome
// counter. Audit failures are logged, never surfaced to the provider.
func (h *Handlers) recordEvent(c *gin.Context, paymentID, kind, providerStatus, pageID, outcome string) {
	webhookOutcomes.WithLabelValues(outcome).Inc()
	db := h.db()
	if db == nil {
		return
	}
	if _, err := repo.RecordPaymentEvent(c.Request.Context(), db, paymentID, kind, providerStatus, pageID, outcome); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).
			Str("payment_id", paymentID).
			Msg("payment event not recorded")
	}
}
