package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/pagelift/go-pages-backend/internal/domain"
	"github.com/pagelift/go-pages-backend/internal/notify"
	"github.com/pagelift/go-pages-backend/internal/repo"
)

// ----- Fake repo -----

// fakeStatusRepo is an in-memory StatusRepo with an atomic paid claim,
// mirroring the conditional-update semantics of the real store.
type fakeStatusRepo struct {
	mu    sync.Mutex
	pages map[string]*domain.Page

	setCalls    int32
	markCalls   int32
	notifyCalls int32
}

func newFakeStatusRepo(pages ...*domain.Page) *fakeStatusRepo {
	r := &fakeStatusRepo{pages: map[string]*domain.Page{}}
	for _, p := range pages {
		r.pages[p.ID] = p
	}
	return r
}

func (r *fakeStatusRepo) GetPage(ctx context.Context, db *gorm.DB, id string) (*domain.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pages[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeStatusRepo) SetPageStatus(ctx context.Context, db *gorm.DB, id, status string) error {
	atomic.AddInt32(&r.setCalls, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pages[id]
	if !ok || p.Status == domain.StatusPaid {
		return repo.ErrNotFound
	}
	p.Status = status
	return nil
}

func (r *fakeStatusRepo) MarkPaid(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	atomic.AddInt32(&r.markCalls, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pages[id]
	if !ok || p.Status == domain.StatusPaid {
		return false, nil
	}
	p.Status = domain.StatusPaid
	return true, nil
}

func (r *fakeStatusRepo) MarkNotified(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	atomic.AddInt32(&r.notifyCalls, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pages[id]
	if !ok {
		return repo.ErrNotFound
	}
	p.NotifiedAt = &at
	return nil
}

// ----- Fake notifier -----

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []notify.Confirmation
	fail  error
	calls int32
}

func (n *fakeNotifier) Send(ctx context.Context, msg notify.Confirmation) error {
	atomic.AddInt32(&n.calls, 1)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sent = append(n.sent, msg)
	return nil
}

func pendingPage(id string) *domain.Page {
	return &domain.Page{
		ID:           id,
		OwnerID:      "u1",
		Plan:         domain.PlanEssential,
		Status:       domain.StatusPendingPayment,
		Title:        "Our story",
		ContactEmail: "ana@example.com",
		ContactName:  "Ana Maria",
	}
}

// ----- SetStatus -----

func TestSetStatus_NoOpWhenAlreadyEqual(t *testing.T) {
	r := newFakeStatusRepo(pendingPage("p1"))
	s := NewStatusService(nil, r, nil, "https://pagelift.app")

	if err := s.SetStatus(context.Background(), "p1", domain.StatusPendingPayment); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if r.setCalls != 0 {
		t.Fatalf("short-circuit should skip the write, got %d writes", r.setCalls)
	}
}

func TestSetStatus_UnknownPage(t *testing.T) {
	s := NewStatusService(nil, newFakeStatusRepo(), nil, "")
	if err := s.SetStatus(context.Background(), "nope", domain.StatusPaid); !errors.Is(err, ErrPageNotFound) {
		t.Fatalf("expected ErrPageNotFound, got %v", err)
	}
}

func TestSetStatus_InvalidValue(t *testing.T) {
	s := NewStatusService(nil, newFakeStatusRepo(pendingPage("p1")), nil, "")
	if err := s.SetStatus(context.Background(), "p1", "published"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestSetStatus_PaidNeverReverts(t *testing.T) {
	p := pendingPage("p1")
	p.Status = domain.StatusPaid
	s := NewStatusService(nil, newFakeStatusRepo(p), nil, "")

	for _, target := range []string{domain.StatusPendingPayment, domain.StatusPendingQuote} {
		if err := s.SetStatus(context.Background(), "p1", target); !errors.Is(err, ErrPaidImmutable) {
			t.Fatalf("downgrade to %s: expected ErrPaidImmutable, got %v", target, err)
		}
	}
	// Re-asserting paid is the idempotent no-op.
	if err := s.SetStatus(context.Background(), "p1", domain.StatusPaid); err != nil {
		t.Fatalf("paid no-op: %v", err)
	}
}

// ----- ConfirmPayment -----

func TestConfirmPayment_HappyPathDispatchesOnce(t *testing.T) {
	r := newFakeStatusRepo(pendingPage("p1"))
	n := &fakeNotifier{}
	s := NewStatusService(nil, r, n, "https://pagelift.app/")

	res, err := s.ConfirmPayment(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if res.Outcome != OutcomeConfirmed || !res.NotificationSent {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(n.sent) != 1 {
		t.Fatalf("notifications = %d; want 1", len(n.sent))
	}
	msg := n.sent[0]
	if msg.ToEmail != "ana@example.com" || msg.ToName != "Ana Maria" {
		t.Errorf("addressing: %+v", msg)
	}
	if msg.PageURL != "https://pagelift.app/p/p1" {
		t.Errorf("share link = %q", msg.PageURL)
	}

	got, _ := r.GetPage(context.Background(), nil, "p1")
	if got.NotifiedAt == nil {
		t.Fatalf("delivery stamp missing after successful dispatch")
	}
	if r.notifyCalls != 1 {
		t.Fatalf("stamp written %d times; want 1", r.notifyCalls)
	}
}

func TestConfirmPayment_RepeatedCallsDispatchOnce(t *testing.T) {
	r := newFakeStatusRepo(pendingPage("p1"))
	n := &fakeNotifier{}
	s := NewStatusService(nil, r, n, "x")

	for i := 0; i < 5; i++ {
		res, err := s.ConfirmPayment(context.Background(), "p1")
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		want := OutcomeConfirmed
		if i > 0 {
			want = OutcomeAlreadyConfirmed
		}
		if res.Outcome != want {
			t.Fatalf("call %d outcome = %q; want %q", i, res.Outcome, want)
		}
	}
	if n.calls != 1 {
		t.Fatalf("notifier called %d times; want 1", n.calls)
	}
	if r.markCalls != 1 {
		t.Fatalf("paid claim attempted %d times; want 1 (later calls short-circuit on the read)", r.markCalls)
	}
}

func TestConfirmPayment_ConcurrentCallersSingleDispatch(t *testing.T) {
	r := newFakeStatusRepo(pendingPage("p1"))
	n := &fakeNotifier{}
	s := NewStatusService(nil, r, n, "x")

	const callers = 10
	var wg sync.WaitGroup
	outcomes := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.ConfirmPayment(context.Background(), "p1")
			if err != nil {
				t.Errorf("ConfirmPayment: %v", err)
				return
			}
			outcomes <- res.Outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	confirmed := 0
	for o := range outcomes {
		if o == OutcomeConfirmed {
			confirmed++
		}
	}
	if confirmed != 1 {
		t.Fatalf("confirmed outcomes = %d; want exactly 1", confirmed)
	}
	if n.calls != 1 {
		t.Fatalf("notifier called %d times; want 1", n.calls)
	}

	got, _ := r.GetPage(context.Background(), nil, "p1")
	if got.Status != domain.StatusPaid {
		t.Fatalf("final status = %q", got.Status)
	}
}

func TestConfirmPayment_NoContactEmailSkipsDispatch(t *testing.T) {
	p := pendingPage("p1")
	p.ContactEmail = ""
	r := newFakeStatusRepo(p)
	n := &fakeNotifier{}
	s := NewStatusService(nil, r, n, "x")

	res, err := s.ConfirmPayment(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if res.Outcome != OutcomeNoContactEmail || res.NotificationSent {
		t.Fatalf("unexpected result: %+v", res)
	}
	if n.calls != 0 {
		t.Fatalf("notifier should not be invoked")
	}
	got, _ := r.GetPage(context.Background(), nil, "p1")
	if got.Status != domain.StatusPaid || got.NotifiedAt != nil {
		t.Fatalf("page after confirm: %+v", got)
	}
}

func TestConfirmPayment_MissingNameGetsPlaceholder(t *testing.T) {
	p := pendingPage("p1")
	p.ContactName = "  "
	r := newFakeStatusRepo(p)
	n := &fakeNotifier{}
	s := NewStatusService(nil, r, n, "x")

	if _, err := s.ConfirmPayment(context.Background(), "p1"); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if len(n.sent) != 1 || n.sent[0].ToName != "there" {
		t.Fatalf("placeholder name not applied: %+v", n.sent)
	}
}

func TestConfirmPayment_UnknownPageNoSideEffects(t *testing.T) {
	r := newFakeStatusRepo()
	n := &fakeNotifier{}
	s := NewStatusService(nil, r, n, "x")

	_, err := s.ConfirmPayment(context.Background(), "does-not-exist")
	if !errors.Is(err, ErrPageNotFound) {
		t.Fatalf("expected ErrPageNotFound, got %v", err)
	}
	if n.calls != 0 || r.markCalls != 0 {
		t.Fatalf("side effects on unknown page: notifier=%d mark=%d", n.calls, r.markCalls)
	}
}

func TestConfirmPayment_DispatchFailureKeepsPaid(t *testing.T) {
	r := newFakeStatusRepo(pendingPage("p1"))
	n := &fakeNotifier{fail: errors.New("relay down")}
	s := NewStatusService(nil, r, n, "x")

	res, err := s.ConfirmPayment(context.Background(), "p1")
	if err != nil {
		t.Fatalf("dispatch failure must not fail the transition: %v", err)
	}
	if res.Outcome != OutcomeConfirmed || res.NotificationSent || res.NotificationErr == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	got, _ := r.GetPage(context.Background(), nil, "p1")
	if got.Status != domain.StatusPaid {
		t.Fatalf("paid rolled back to %q", got.Status)
	}
	// an unsent confirmation must not read as delivered
	if got.NotifiedAt != nil {
		t.Fatalf("NotifiedAt stamped despite failed dispatch: %v", got.NotifiedAt)
	}
	if r.notifyCalls != 0 {
		t.Fatalf("stamp written %d times after failed dispatch; want 0", r.notifyCalls)
	}
}

func TestNewStatusService_NilNotifierGetsNop(t *testing.T) {
	s := NewStatusService(nil, newFakeStatusRepo(), nil, "x/")
	if s.Notifier == nil {
		t.Fatalf("notifier not defaulted")
	}
	if s.PublicBaseURL != "x" {
		t.Fatalf("base url not trimmed: %q", s.PublicBaseURL)
	}
}
