// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the CheckoutKey
// model used to implement safe-retry semantics for the checkout endpoint.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pagelift/go-pages-backend/internal/domain"
)

// ErrDuplicate indicates that a checkout-key record already exists for the
// given (owner_id, page_id, key) tuple.
var ErrDuplicate = errors.New("duplicate")

// GetCheckoutKey returns a non-expired record or ErrNotFound.
func GetCheckoutKey(ctx context.Context, db *gorm.DB, ownerID, pageID, key string, now time.Time) (*domain.CheckoutKey, error) {
	if strings.TrimSpace(pageID) == "" {
		return nil, ErrNotFound
	}
	var rec domain.CheckoutKey
	err := db.WithContext(ctx).
		Where("owner_id = ? AND page_id = ? AND key = ? AND expires_at > ?", ownerID, pageID, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// CreateCheckoutKey inserts a record and returns ErrDuplicate on unique violation.
func CreateCheckoutKey(ctx context.Context, db *gorm.DB, ownerID, pageID, key, intentRef string, status int, ttl time.Duration) (*domain.CheckoutKey, error) {
	now := time.Now().UTC()
	rec := &domain.CheckoutKey{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		PageID:    pageID,
		Key:       key,
		IntentRef: intentRef,
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}
