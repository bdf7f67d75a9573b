// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// CheckoutKey records a previously issued payment intent, keyed by
// (owner_id, page_id, key). It lets retried checkout requests carrying the
// same Idempotency-Key header be recognized as replays instead of minting
// a second intent at the provider. The provider-side intent itself carries
// its own per-issuance idempotency key; this record only serves the HTTP
// replay short-circuit.
type CheckoutKey struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	OwnerID   string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_owner_page_key,priority:1"`
	PageID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_owner_page_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_owner_page_key,priority:3"`
	IntentRef string    `gorm:"type:TEXT NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (CheckoutKey) TableName() string { return "checkout_keys" }
