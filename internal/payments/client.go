// Package payments implements the payment provider gateway client. It
// creates PIX payment intents (QR code checkout) and re-fetches the
// authoritative status of a payment by id.
//
// The client is deliberately thin: request/response mapping, credential
// checks, and bounded timeouts. All lifecycle decisions belong to the
// status machine in internal/services; in particular, webhook handling
// must use GetPayment as the trusted source of a payment's status and
// never the status embedded in a webhook body.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Authoritative payment statuses reported by the provider.
const (
	StatusApproved  = "approved"
	StatusPending   = "pending"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)

// DefaultTimeout bounds every provider call. A timed-out call surfaces as
// a *ProviderError, never as an indefinite hang.
const DefaultTimeout = 5 * time.Second

// ErrNoCredentials is returned before any network call when the provider
// access token is missing. Maps to the configuration-error taxonomy.
var ErrNoCredentials = errors.New("payment provider credentials not configured")

// ProviderError carries the raw provider diagnostic for operator
// visibility. HTTPStatus is zero for transport-level failures (timeouts,
// connection errors).
type ProviderError struct {
	Op         string // "create_intent" | "get_payment"
	HTTPStatus int
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment provider: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("payment provider: %s: status %d: %s", e.Op, e.HTTPStatus, e.Body)
}

// Unwrap exposes the underlying transport error, if any.
func (e *ProviderError) Unwrap() error { return e.Err }

// Config holds the provider connection settings. AccessToken empty means
// the gateway is unconfigured and every call fails fast with
// ErrNoCredentials.
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// Client is the HTTP gateway to the payment provider. Safe for concurrent
// use.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient constructs a provider client, applying DefaultTimeout when no
// timeout is configured.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Redirects are the browser return targets attached to an intent. All
// three point at the same publication-status page, differentiated only by
// a query parameter: final state is always re-derived from the status
// machine, not from which redirect fired.
type Redirects struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

// IntentRequest describes a single checkout attempt. IdempotencyKey is
// minted fresh per issuance call by the checkout service; PageID travels
// as provider-side metadata so the webhook can resolve the page without a
// secondary lookup table.
type IntentRequest struct {
	Amount          float64
	Currency        string
	Description     string
	PayerEmail      string
	PayerGivenName  string
	PayerFamilyName string
	PageID          string
	IdempotencyKey  string
	ExpiresAt       time.Time
	Redirects       Redirects
}

// Intent is the provider-issued checkout object. QRCodeBase64 is the
// scannable image, QRCode the copy-paste payload.
type Intent struct {
	ProviderID   string
	QRCodeBase64 string
	QRCode       string
	ExpiresAt    time.Time
}

// Payment is the authoritative view of a payment fetched by id.
type Payment struct {
	ID     string
	Status string
	PageID string
}

// wire types

// wireID tolerates the provider sending an id as a JSON number or as a
// quoted string; both shapes occur across provider API versions.
type wireID string

func (w *wireID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		s = ""
	}
	*w = wireID(s)
	return nil
}

type intentBody struct {
	TransactionAmount float64        `json:"transaction_amount"`
	CurrencyID        string         `json:"currency_id"`
	Description       string         `json:"description"`
	PaymentMethodID   string         `json:"payment_method_id"`
	DateOfExpiration  string         `json:"date_of_expiration"`
	ExternalReference string         `json:"external_reference"`
	Metadata          map[string]any `json:"metadata"`
	BackURLs          Redirects      `json:"back_urls"`
	Payer             struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"payer"`
}

type intentResponse struct {
	ID                 wireID `json:"id"`
	DateOfExpiration   string `json:"date_of_expiration"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

type paymentResponse struct {
	ID                wireID `json:"id"`
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference"`
	Metadata          struct {
		PageID string `json:"page_id"`
	} `json:"metadata"`
}

// CreateIntent issues a PIX payment intent for a single fixed-price
// purchase. It fails fast with ErrNoCredentials before any network call
// when the token is absent, and with *ProviderError when the provider
// rejects the call or the response lacks the expected payment-code
// payload. No partial state is persisted on failure.
func (c *Client) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if strings.TrimSpace(c.cfg.AccessToken) == "" {
		return nil, ErrNoCredentials
	}

	body := intentBody{
		TransactionAmount: req.Amount,
		CurrencyID:        req.Currency,
		Description:       req.Description,
		PaymentMethodID:   "pix",
		DateOfExpiration:  req.ExpiresAt.UTC().Format("2006-01-02T15:04:05.000-07:00"),
		ExternalReference: req.PageID,
		Metadata:          map[string]any{"page_id": req.PageID},
		BackURLs:          req.Redirects,
	}
	body.Payer.Email = req.PayerEmail
	body.Payer.FirstName = req.PayerGivenName
	body.Payer.LastName = req.PayerFamilyName

	var out intentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/payments", req.IdempotencyKey, &body, &out, "create_intent"); err != nil {
		return nil, err
	}

	td := out.PointOfInteraction.TransactionData
	if td.QRCode == "" && td.QRCodeBase64 == "" {
		return nil, &ProviderError{
			Op:         "create_intent",
			HTTPStatus: http.StatusOK,
			Body:       "response missing point_of_interaction.transaction_data payment code",
		}
	}

	intent := &Intent{
		ProviderID:   string(out.ID),
		QRCode:       td.QRCode,
		QRCodeBase64: td.QRCodeBase64,
		ExpiresAt:    req.ExpiresAt,
	}
	if ts, err := time.Parse("2006-01-02T15:04:05.000-07:00", out.DateOfExpiration); err == nil {
		intent.ExpiresAt = ts
	}
	return intent, nil
}

// GetPayment fetches the authoritative status of a payment by id. The
// page reference is taken from metadata.page_id with external_reference
// as fallback.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if strings.TrimSpace(c.cfg.AccessToken) == "" {
		return nil, ErrNoCredentials
	}
	if strings.TrimSpace(paymentID) == "" {
		return nil, &ProviderError{Op: "get_payment", Err: errors.New("empty payment id")}
	}

	var out paymentResponse
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+paymentID, "", nil, &out, "get_payment"); err != nil {
		return nil, err
	}

	pageID := out.Metadata.PageID
	if pageID == "" {
		pageID = out.ExternalReference
	}
	return &Payment{
		ID:     string(out.ID),
		Status: out.Status,
		PageID: pageID,
	}, nil
}

// do performs one provider round-trip with auth headers and JSON codec.
func (c *Client) do(ctx context.Context, method, path, idemKey string, in, out any, op string) error {
	var rdr io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return &ProviderError{Op: op, Err: err}
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rdr)
	if err != nil {
		return &ProviderError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set("X-Idempotency-Key", idemKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &ProviderError{Op: op, HTTPStatus: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProviderError{Op: op, HTTPStatus: resp.StatusCode, Body: string(raw)}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &ProviderError{Op: op, HTTPStatus: resp.StatusCode, Body: string(raw), Err: err}
		}
	}
	return nil
}
