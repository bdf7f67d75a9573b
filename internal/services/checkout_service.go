// Package services – CheckoutService
//
// This file implements the CheckoutService, which issues payment intents
// for fixed-price pages. It validates payer contact fields, applies the
// payer-name split the provider expects, mints a fresh idempotency key
// per issuance, and builds the redirect targets. The intent itself is
// ephemeral: the status machine, not the intent, is the source of truth
// for whether a page got paid, so retried issuance never needs
// provider-side deduplication beyond the per-call key.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/pagelift/go-pages-backend/internal/domain"
	"github.com/pagelift/go-pages-backend/internal/payments"
	"github.com/pagelift/go-pages-backend/internal/repo"
)

// IntentCreator is the payment provider gateway contract consumed here.
type IntentCreator interface {
	CreateIntent(ctx context.Context, req payments.IntentRequest) (*payments.Intent, error)
}

// CheckoutRepo defines the repository contract required by CheckoutService.
type CheckoutRepo interface {
	GetPage(ctx context.Context, db *gorm.DB, id string) (*domain.Page, error)
}

// CheckoutInput is the caller-supplied payload for intent issuance.
// Title overrides the stored page title in the provider description when
// present.
type CheckoutInput struct {
	PageID string
	Title  string
	Email  string
	Name   string
}

// CheckoutService issues payment intents for pages in the paid flow.
type CheckoutService struct {
	DB      *gorm.DB
	Repo    CheckoutRepo
	Gateway IntentCreator

	// Amount and Currency are the process-wide fixed price.
	Amount   float64
	Currency string
	// Expiry is the window after which the provider no longer honors the
	// intent.
	Expiry time.Duration
	// PublicBaseURL is the external root of the publication-status page
	// that all redirect targets point at.
	PublicBaseURL string
}

// nameCaser normalizes payer-name casing before provider submission.
var nameCaser = cases.Title(language.Und, cases.NoLower)

// SplitPayerName splits a free-form payer name into given and family
// parts. When no family-name token exists the family name reuses the
// given name; that fallback mirrors the behavior the payment provider has
// always been fed and is intentionally left as is.
func SplitPayerName(name string) (given, family string) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "", ""
	}
	given = nameCaser.String(fields[0])
	if len(fields) == 1 {
		return given, given
	}
	family = nameCaser.String(strings.Join(fields[1:], " "))
	return given, family
}

// Issue validates the request, mints a fresh idempotency key, and asks
// the gateway for a PIX intent.
//
// Errors: ErrMissingContact when email or name is blank, ErrPageNotFound
// for an unknown page, ErrNotPayable for quote-flow pages, ErrAlreadyPaid
// for completed ones. Provider and configuration failures pass through
// from the gateway (payments.ErrNoCredentials, *payments.ProviderError);
// no partial state is persisted on any failure.
func (s *CheckoutService) Issue(ctx context.Context, in CheckoutInput) (*payments.Intent, error) {
	if strings.TrimSpace(in.PageID) == "" ||
		strings.TrimSpace(in.Email) == "" ||
		strings.TrimSpace(in.Name) == "" {
		return nil, ErrMissingContact
	}

	p, err := s.Repo.GetPage(ctx, s.DB, in.PageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPageNotFound
		}
		return nil, err
	}
	switch p.Status {
	case domain.StatusPendingQuote:
		return nil, ErrNotPayable
	case domain.StatusPaid:
		return nil, ErrAlreadyPaid
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = p.Title
	}
	given, family := SplitPayerName(in.Name)

	statusURL := fmt.Sprintf("%s/p/%s", strings.TrimRight(s.PublicBaseURL, "/"), p.ID)
	req := payments.IntentRequest{
		Amount:          s.Amount,
		Currency:        s.Currency,
		Description:     title,
		PayerEmail:      strings.TrimSpace(in.Email),
		PayerGivenName:  given,
		PayerFamilyName: family,
		PageID:          p.ID,
		// A fresh key per issuance: a user retrying checkout gets a new
		// intent instead of a provider-side duplicate-submission conflict.
		IdempotencyKey: uuid.NewString(),
		ExpiresAt:      time.Now().UTC().Add(s.Expiry),
		Redirects: payments.Redirects{
			Success: statusURL + "?payment=success",
			Failure: statusURL + "?payment=failure",
			Pending: statusURL + "?payment=pending",
		},
	}
	return s.Gateway.CreateIntent(ctx, req)
}
