// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the
// PaymentEvent audit log written by the webhook handler.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pagelift/go-pages-backend/internal/domain"
)

// RecordPaymentEvent inserts an audit row for a handled provider event.
// Failures here must never block webhook acknowledgment; callers log and
// move on.
func RecordPaymentEvent(ctx context.Context, db *gorm.DB, paymentID, kind, providerStatus, pageID, outcome string) (*domain.PaymentEvent, error) {
	ev := &domain.PaymentEvent{
		ID:             uuid.NewString(),
		PaymentID:      paymentID,
		Kind:           kind,
		ProviderStatus: providerStatus,
		PageID:         pageID,
		Outcome:        outcome,
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(ev).Error; err != nil {
		return nil, err
	}
	return ev, nil
}

// ListPaymentEvents returns the audit trail for a page, most recent first.
func ListPaymentEvents(ctx context.Context, db *gorm.DB, pageID string) ([]domain.PaymentEvent, error) {
	var out []domain.PaymentEvent
	err := db.WithContext(ctx).
		Where("page_id = ?", pageID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}
