// Package poll implements client-side payment reconciliation: it
// repeatedly reads a page's status until it reaches the paid state,
// a ceiling elapses, or the caller gives up. It is transport-agnostic
// and is used by CLI tooling and tests; browsers run the equivalent
// loop against GET /pages/:id.
package poll

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pagelift/go-pages-backend/internal/domain"
)

// Outcome classifies how a watch loop ended.
type Outcome string

const (
	// OutcomePaid means the page reached the paid state.
	OutcomePaid Outcome = "paid"
	// OutcomeTimeout means the ceiling elapsed before payment landed.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeCancelled means the caller's context was cancelled.
	OutcomeCancelled Outcome = "cancelled"
)

// Source yields the current snapshot of a page. Implementations are the
// page service (in-process) or an HTTP client against the poll endpoint.
type Source interface {
	Get(ctx context.Context, id string) (*domain.Page, error)
}

// Watcher polls a Source on a fixed interval until the page is paid or
// a ceiling elapses. Read errors are logged and retried on the next
// tick rather than aborting the watch; a payment confirmation can land
// while the read path is briefly unavailable.
type Watcher struct {
	Interval time.Duration
	Ceiling  time.Duration
	Source   Source
}

// NewWatcher returns a Watcher with sane defaults applied.
func NewWatcher(src Source, interval, ceiling time.Duration) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if ceiling <= 0 {
		ceiling = 5 * time.Minute
	}
	return &Watcher{Interval: interval, Ceiling: ceiling, Source: src}
}

// Run polls until the page reports paid, the ceiling elapses, or ctx is
// cancelled. It always performs an immediate first read so a page that
// is already paid resolves without waiting a full interval. The last
// successfully read snapshot is returned alongside the outcome; it is
// nil when no read ever succeeded.
func (w *Watcher) Run(ctx context.Context, pageID string) (*domain.Page, Outcome) {
	deadline := time.NewTimer(w.Ceiling)
	defer deadline.Stop()

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	var last *domain.Page
	for {
		p, err := w.Source.Get(ctx, pageID)
		if err != nil {
			if ctx.Err() != nil {
				return last, OutcomeCancelled
			}
			log.Warn().Err(err).Str("page_id", pageID).Msg("poll read failed; will retry")
		} else {
			last = p
			if p.IsPaid() {
				return p, OutcomePaid
			}
		}

		select {
		case <-ctx.Done():
			return last, OutcomeCancelled
		case <-deadline.C:
			return last, OutcomeTimeout
		case <-ticker.C:
		}
	}
}
