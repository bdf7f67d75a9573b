// Package domain defines the persistence models for pages and payment
// events. These types are mapped with GORM and form the core data layer
// of the page publication backend.
package domain

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Lifecycle statuses for a page. StatusPaid is terminal: once a page is
// paid this subsystem performs no further transitions on it.
const (
	StatusPendingPayment = "pending_payment"
	StatusPendingQuote   = "pending_quote"
	StatusPaid           = "paid"
)

// PlanEssential is the fixed-price plan. Pages created with it enter the
// paid flow; every other plan enters the quote flow, which is resolved
// manually outside this subsystem.
const PlanEssential = "essential"

// InitialStatus returns the lifecycle status a freshly created page gets
// for the given plan.
func InitialStatus(plan string) string {
	if plan == PlanEssential {
		return StatusPendingPayment
	}
	return StatusPendingQuote
}

// Page represents a personalized page draft owned by a user. The envelope
// fields (owner, plan, status, contact info) drive the publication
// lifecycle; Content is an opaque template payload this core never
// inspects and passes through unchanged.
//
// Fields:
//   - ID: stable UUID primary key, used as the public path segment.
//   - OwnerID: identifier of the creating principal; indexed, immutable.
//   - Plan: selects the initial lifecycle branch (see InitialStatus).
//   - Status: pending_payment | pending_quote | paid. Monotonic for the
//     paid flow; never reverts out of paid.
//   - Title: human-readable page title, shown in the confirmation mail.
//   - ContactEmail / ContactName: used only by the notification step;
//     both optional.
//   - Content: template-specific JSON payload, opaque to this core.
//   - NotifiedAt: stamped after the confirmation mail is handed to the
//     mailer; null on a paid row means delivery is still owed (failed
//     dispatch, missing contact email) and marks it for a later resend.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker (retains row for audit/history).
type Page struct {
	ID           string          `json:"id"            gorm:"type:char(36);primaryKey"`
	OwnerID      string          `json:"owner_id"      gorm:"type:varchar(64);not null;index:idx_owner_pages"`
	Plan         string          `json:"plan"          gorm:"type:varchar(32);not null;default:'essential'"`
	Status       string          `json:"status"        gorm:"type:varchar(32);not null;check:status IN ('pending_payment','pending_quote','paid')"`
	Title        string          `json:"title"         gorm:"type:varchar(255);not null;default:'Untitled page'"`
	ContactEmail string          `json:"contact_email,omitempty" gorm:"type:varchar(255)"`
	ContactName  string          `json:"contact_name,omitempty"  gorm:"type:varchar(255)"`
	Content      json.RawMessage `json:"content,omitempty"       gorm:"type:text"`
	NotifiedAt   *time.Time      `json:"notified_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	DeletedAt    gorm.DeletedAt  `json:"-"             gorm:"index"`
}

// TableName returns the database table name for Page.
func (Page) TableName() string { return "pages" }

// IsPaid reports whether the page reached its terminal lifecycle state.
func (p *Page) IsPaid() bool { return p.Status == StatusPaid }

// PaymentEvent is an audit row recorded per handled provider webhook.
// It ties a provider payment reference to the page it resolved to and the
// outcome the handler decided on, so operators can reconstruct why a page
// did (or did not) flip to paid.
//
// Outcome values mirror the confirmation result tags plus handler-level
// ones: "confirmed", "already_confirmed", "no_contact_email", "ignored",
// "not_approved", "no_page_ref", "provider_error", "confirm_failed".
type PaymentEvent struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	PaymentID      string    `json:"payment_id"      gorm:"type:varchar(64);not null;index"`
	Kind           string    `json:"kind"            gorm:"type:varchar(32);not null"`
	ProviderStatus string    `json:"provider_status" gorm:"type:varchar(32)"`
	PageID         string    `json:"page_id"         gorm:"type:char(36);index"`
	Outcome        string    `json:"outcome"         gorm:"type:varchar(32);not null"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for PaymentEvent.
func (PaymentEvent) TableName() string { return "payment_events" }
