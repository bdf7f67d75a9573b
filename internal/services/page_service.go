// Package services – PageService
//
// This file implements the PageService, which manages page drafts. It
// validates and normalizes titles, derives the initial lifecycle status
// from the selected plan, and coordinates repository operations for
// creating, reading (including the public poll read), listing (with
// pagination), and updating draft content. Lifecycle transitions after
// creation belong to StatusService, not here.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/pagelift/go-pages-backend/internal/domain"
	"github.com/pagelift/go-pages-backend/internal/repo"
)

// PageRepo defines the repository contract required by PageService.
type PageRepo interface {
	// CreatePage inserts a new page row owned by ownerID; the initial
	// status is derived from plan.
	CreatePage(ctx context.Context, db *gorm.DB, ownerID, plan, title, contactEmail, contactName string, content json.RawMessage) (*domain.Page, error)

	// GetPage fetches a page by id without an ownership check (the poll
	// read is public: the id itself is the capability).
	GetPage(ctx context.Context, db *gorm.DB, id string) (*domain.Page, error)

	// GetOwnedPage fetches a page by id ensuring it belongs to ownerID.
	GetOwnedPage(ctx context.Context, db *gorm.DB, id, ownerID string) (*domain.Page, error)

	// CountPages returns the total number of pages for pagination.
	CountPages(ctx context.Context, db *gorm.DB, ownerID string) (int64, error)

	// ListPagesPage returns a page of pages belonging to the owner.
	ListPagesPage(ctx context.Context, db *gorm.DB, ownerID string, offset, limit int) ([]domain.Page, error)

	// UpdatePageContent replaces the opaque content payload of a draft.
	UpdatePageContent(ctx context.Context, db *gorm.DB, id, ownerID, title string, content json.RawMessage) error
}

// CreatePageInput carries the caller-supplied fields for a new draft.
// Content is opaque to this core and stored unchanged.
type CreatePageInput struct {
	Plan         string
	Title        string
	ContactEmail string
	ContactName  string
	Content      json.RawMessage
}

// PageService provides draft-level operations. It enforces title rules
// and ownership constraints; it never touches the status field after
// creation.
type PageService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the page repository used by this service.
	Repo PageRepo

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
}

// NewPageService constructs a PageService with sane defaults.
func NewPageService(db *gorm.DB, r PageRepo) *PageService {
	return &PageService{
		DB:          db,
		Repo:        r,
		TitleMaxLen: 120,
	}
}

// Create inserts a new draft owned by ownerID. A blank plan defaults to
// the essential (fixed-price) plan; any other non-essential value routes
// the page into the quote flow. Titles are normalized, clipped, and given
// a fallback.
func (s *PageService) Create(ctx context.Context, ownerID string, in CreatePageInput) (*domain.Page, error) {
	plan := strings.ToLower(strings.TrimSpace(in.Plan))
	if plan == "" {
		plan = domain.PlanEssential
	}
	title := normalizeTitle(in.Title)
	if title == "" {
		title = "Untitled page"
	}
	return s.Repo.CreatePage(ctx, s.DB, ownerID, plan, s.clip(title),
		strings.TrimSpace(in.ContactEmail), strings.TrimSpace(in.ContactName), in.Content)
}

// Get returns the page for a public status read, or ErrPageNotFound.
func (s *PageService) Get(ctx context.Context, id string) (*domain.Page, error) {
	p, err := s.Repo.GetPage(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPageNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListPage returns a page of drafts for an owner (paginated).
// It applies defaults for invalid page/pageSize and returns total count.
func (s *PageService) ListPage(ctx context.Context, ownerID string, page, pageSize int) ([]domain.Page, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountPages(ctx, s.DB, ownerID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Page{}, 0, nil
	}

	items, err := s.Repo.ListPagesPage(ctx, s.DB, ownerID, offset, pageSize)
	return items, total, err
}

// UpdateContent replaces a draft's content payload (and optionally its
// title), ensuring the page exists and belongs to the given owner.
func (s *PageService) UpdateContent(ctx context.Context, ownerID, pageID, title string, content json.RawMessage) error {
	if _, err := s.Repo.GetOwnedPage(ctx, s.DB, pageID, ownerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPageNotFound
		}
		return err
	}
	title = normalizeTitle(title)
	return s.Repo.UpdatePageContent(ctx, s.DB, pageID, ownerID, s.clip(title), content)
}

// clip truncates a title to the configured maximum rune length.
func (s *PageService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return string([]rune(title)[:s.TitleMaxLen])
	}
	return title
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	s = whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
	return s
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
