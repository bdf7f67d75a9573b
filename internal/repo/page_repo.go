// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Page model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a page is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// The one non-CRUD function is MarkPaid: a single conditional UPDATE that
// both flips the lifecycle status to paid and claims the right to dispatch
// the confirmation notification. See its doc comment for the contract.
package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pagelift/go-pages-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreatePage inserts a new Page row owned by ownerID. The page ID is a
// randomly generated UUID (string), CreatedAt is set to UTC, and the
// initial status is derived from the plan.
func CreatePage(ctx context.Context, db *gorm.DB, ownerID, plan, title, contactEmail, contactName string, content json.RawMessage) (*domain.Page, error) {
	p := &domain.Page{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Plan:         plan,
		Status:       domain.InitialStatus(plan),
		Title:        title,
		ContactEmail: contactEmail,
		ContactName:  contactName,
		Content:      content,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// GetPage fetches a single page by its ID. If the record does not exist,
// it returns ErrNotFound. On other DB errors, the raw error is returned.
func GetPage(ctx context.Context, db *gorm.DB, id string) (*domain.Page, error) {
	var p domain.Page
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetOwnedPage fetches a page by ID ensuring it belongs to ownerID.
// Returns ErrNotFound when missing or owned by someone else.
func GetOwnedPage(ctx context.Context, db *gorm.DB, id, ownerID string) (*domain.Page, error) {
	var p domain.Page
	err := db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CountPages returns the total number of pages owned by ownerID.
func CountPages(ctx context.Context, db *gorm.DB, ownerID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Page{}).
		Where("owner_id = ?", ownerID).
		Count(&total).Error
	return total, err
}

// ListPagesPage returns a paginated slice of pages for ownerID, ordered by
// creation time descending. Use CountPages to obtain the total for
// pagination metadata.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListPagesPage(ctx context.Context, db *gorm.DB, ownerID string, offset, limit int) ([]domain.Page, error) {
	var out []domain.Page
	err := db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdatePageContent replaces the opaque content payload (and optionally the
// title) of a page owned by ownerID. Returns ErrNotFound when no row
// matches. Lifecycle fields are never touched here.
func UpdatePageContent(ctx context.Context, db *gorm.DB, id, ownerID, title string, content json.RawMessage) error {
	updates := map[string]any{"content": content}
	if title != "" {
		updates["title"] = title
	}
	res := db.WithContext(ctx).
		Model(&domain.Page{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetPageStatus writes a new lifecycle status unconditionally except for
// one invariant enforced at this layer: a paid page never leaves paid.
// Returns ErrNotFound when the page does not exist (the paid guard also
// reports ErrNotFound when zero rows match; callers that need to tell the
// two apart should read the record first, as the status service does).
func SetPageStatus(ctx context.Context, db *gorm.DB, id, status string) error {
	res := db.WithContext(ctx).
		Model(&domain.Page{}).
		Where("id = ? AND status <> ?", id, domain.StatusPaid).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkPaid atomically flips a page to the paid status, but only if the
// page is not already paid. It reports claimed=true exactly once per page
// across any number of concurrent callers: the caller that observes
// claimed=true owns the one-time side effects (notification dispatch).
// Every later or losing caller sees claimed=false.
//
// The guard and the write are a single UPDATE statement, so there is no
// check-then-act window: duplicate webhooks, redirect handlers, and
// pollers can all race on this and at most one wins.
//
// notified_at is left untouched here; the winner stamps it through
// MarkNotified only after the confirmation actually went out, keeping
// a nil NotifiedAt on a paid row as the resend marker.
func MarkPaid(ctx context.Context, db *gorm.DB, id string) (claimed bool, err error) {
	res := db.WithContext(ctx).
		Model(&domain.Page{}).
		Where("id = ? AND status <> ?", id, domain.StatusPaid).
		Update("status", domain.StatusPaid)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkNotified records when the publication confirmation was delivered
// for a paid page. ErrNotFound when the page does not exist.
func MarkNotified(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Page{}).
		Where("id = ?", id).
		Update("notified_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
