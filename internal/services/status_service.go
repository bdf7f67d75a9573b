// Package services – StatusService
//
// This file implements the StatusService, the owner of the page lifecycle
// field. It enforces the transition rules (pending_payment/pending_quote
// are initial, paid is terminal), short-circuits redundant writes, and
// guards the one-time side effects of the paid transition. Every external
// trigger (webhook delivery, redirect handling, client polling) funnels
// into ConfirmPayment, so its idempotence is what makes those callers
// safe to run concurrently or repeatedly.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/pagelift/go-pages-backend/internal/domain"
	"github.com/pagelift/go-pages-backend/internal/notify"
	"github.com/pagelift/go-pages-backend/internal/repo"
)

// Confirmation outcomes returned by ConfirmPayment.
const (
	OutcomeConfirmed        = "confirmed"
	OutcomeAlreadyConfirmed = "already_confirmed"
	OutcomeNoContactEmail   = "no_contact_email"
)

// confirmations counts paid transitions by outcome. Cardinality is the
// three outcome tags.
var confirmations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "page_confirmations_total",
		Help: "Total payment confirmations processed, by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(confirmations)
}

// StatusRepo defines the repository contract required by StatusService.
type StatusRepo interface {
	// GetPage fetches a page by id, ErrNotFound when missing.
	GetPage(ctx context.Context, db *gorm.DB, id string) (*domain.Page, error)

	// SetPageStatus writes a lifecycle status; the store refuses to move a
	// page out of paid.
	SetPageStatus(ctx context.Context, db *gorm.DB, id, status string) error

	// MarkPaid atomically claims the paid transition. claimed is true for
	// exactly one caller per page.
	MarkPaid(ctx context.Context, db *gorm.DB, id string) (claimed bool, err error)

	// MarkNotified stamps the confirmation delivery time on a page.
	MarkNotified(ctx context.Context, db *gorm.DB, id string, at time.Time) error
}

// ConfirmResult reports what ConfirmPayment did. NotificationErr is
// informational: a dispatch failure never unwinds the paid transition,
// since the persisted record is the recovery anchor for resending.
type ConfirmResult struct {
	Outcome          string
	NotificationSent bool
	NotificationErr  error
	Page             *domain.Page
}

// StatusService owns page lifecycle transitions.
type StatusService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the page repository used by this service.
	Repo StatusRepo
	// Notifier dispatches the one-time publication confirmation.
	Notifier notify.Notifier
	// PublicBaseURL builds the shareable link embedded in the mail.
	PublicBaseURL string
}

// NewStatusService constructs a StatusService. A nil notifier gets the
// no-op dispatcher.
func NewStatusService(db *gorm.DB, r StatusRepo, n notify.Notifier, publicBaseURL string) *StatusService {
	if n == nil {
		n = notify.Nop{}
	}
	return &StatusService{DB: db, Repo: r, Notifier: n, PublicBaseURL: strings.TrimRight(publicBaseURL, "/")}
}

// SetStatus writes newStatus for pageID with an idempotent short-circuit:
// when the record already carries newStatus the call succeeds without
// writing, so concurrent callers converging on the same target state do
// no redundant work. Moving a paid page anywhere is refused with
// ErrPaidImmutable; an unknown page yields ErrPageNotFound.
func (s *StatusService) SetStatus(ctx context.Context, pageID, newStatus string) error {
	switch newStatus {
	case domain.StatusPendingPayment, domain.StatusPendingQuote, domain.StatusPaid:
	default:
		return ErrInvalidStatus
	}

	p, err := s.Repo.GetPage(ctx, s.DB, pageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrPageNotFound
		}
		return err
	}
	if p.Status == newStatus {
		return nil
	}
	if p.IsPaid() {
		return ErrPaidImmutable
	}

	if err := s.Repo.SetPageStatus(ctx, s.DB, pageID, newStatus); err != nil {
		// The record existed a moment ago; zero rows here means another
		// caller flipped it to paid in between.
		if errors.Is(err, repo.ErrNotFound) {
			return ErrPaidImmutable
		}
		return err
	}
	return nil
}

// ConfirmPayment performs the guarded paid transition.
//
// Contract:
//  1. Unknown pageID fails with ErrPageNotFound, no side effects.
//  2. An already-paid page returns OutcomeAlreadyConfirmed with no side
//     effects, which is what makes webhook retries, redirect-triggered
//     confirmation, and polling all safe to invoke this concurrently.
//  3. Otherwise the paid claim is taken atomically in the store; the one
//     caller that wins dispatches the confirmation notification when a
//     contact email is present (OutcomeConfirmed), or skips dispatch
//     (OutcomeNoContactEmail) when it is not.
//  4. A dispatch failure is logged and reported in the result but the
//     paid status is already durable and is never rolled back.
func (s *StatusService) ConfirmPayment(ctx context.Context, pageID string) (ConfirmResult, error) {
	p, err := s.Repo.GetPage(ctx, s.DB, pageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ConfirmResult{}, ErrPageNotFound
		}
		return ConfirmResult{}, err
	}

	if p.IsPaid() {
		confirmations.WithLabelValues(OutcomeAlreadyConfirmed).Inc()
		return ConfirmResult{Outcome: OutcomeAlreadyConfirmed, Page: p}, nil
	}

	claimed, err := s.Repo.MarkPaid(ctx, s.DB, pageID)
	if err != nil {
		return ConfirmResult{}, err
	}
	p.Status = domain.StatusPaid

	if !claimed {
		// Another caller won the race between our read and the update.
		confirmations.WithLabelValues(OutcomeAlreadyConfirmed).Inc()
		return ConfirmResult{Outcome: OutcomeAlreadyConfirmed, Page: p}, nil
	}

	if strings.TrimSpace(p.ContactEmail) == "" {
		confirmations.WithLabelValues(OutcomeNoContactEmail).Inc()
		return ConfirmResult{Outcome: OutcomeNoContactEmail, Page: p}, nil
	}

	name := strings.TrimSpace(p.ContactName)
	if name == "" {
		name = "there"
	}
	res := ConfirmResult{Outcome: OutcomeConfirmed, Page: p}
	err = s.Notifier.Send(ctx, notify.Confirmation{
		ToEmail:   p.ContactEmail,
		ToName:    name,
		PageID:    p.ID,
		PageTitle: p.Title,
		PageURL:   fmt.Sprintf("%s/p/%s", s.PublicBaseURL, p.ID),
	})
	if err != nil {
		// NotifiedAt stays nil so the record still reads as unsent;
		// a later resend can key off the paid row without a stamp.
		log.Error().
			Err(err).
			Str("page_id", p.ID).
			Msg("confirmation dispatch failed; paid status retained")
		res.NotificationErr = err
	} else {
		now := time.Now().UTC()
		if stampErr := s.Repo.MarkNotified(ctx, s.DB, pageID, now); stampErr != nil {
			log.Error().
				Err(stampErr).
				Str("page_id", p.ID).
				Msg("notified_at stamp failed after dispatch")
		} else {
			p.NotifiedAt = &now
		}
		res.NotificationSent = true
	}

	confirmations.WithLabelValues(OutcomeConfirmed).Inc()
	return res, nil
}
