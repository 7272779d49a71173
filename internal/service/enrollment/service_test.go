package enrollment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cadencehq/cadence/internal/domain"
)

type memStore struct {
	mu          sync.Mutex
	enrollments map[string]*domain.Enrollment

	// beforeUpdate, when set, runs inside UpdateIf before the version
	// check. Tests use it to interleave a competing write.
	beforeUpdate func()
}

func newMemStore() *memStore {
	return &memStore{enrollments: make(map[string]*domain.Enrollment)}
}

func (m *memStore) Get(_ context.Context, id string) (*domain.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) FindLive(_ context.Context, sequenceID, contactID string) (*domain.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.enrollments {
		live := e.Status == domain.EnrollmentActive || e.Status == domain.EnrollmentPaused
		if e.SequenceID == sequenceID && e.ContactID == contactID && live {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) Create(_ context.Context, e *domain.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.enrollments[e.ID] = &cp
	return nil
}

func (m *memStore) UpdateIf(_ context.Context, id string, expectedVersion int, mut Mutation) error {
	if m.beforeUpdate != nil {
		fn := m.beforeUpdate
		m.beforeUpdate = nil
		fn()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok {
		return ErrNotFound
	}
	if e.Version != expectedVersion {
		return ErrVersionConflict
	}
	if mut.Status != nil {
		e.Status = *mut.Status
	}
	if mut.CurrentStep != nil {
		e.CurrentStep = *mut.CurrentStep
	}
	if mut.NextSendAt != nil {
		t := *mut.NextSendAt
		e.NextSendAt = &t
	}
	if mut.ClearNextSendAt {
		e.NextSendAt = nil
	}
	if mut.ReviewFlag != nil {
		e.ReviewFlag = *mut.ReviewFlag
	}
	e.Version++
	return nil
}

func (m *memStore) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []domain.Enrollment
	for _, e := range m.enrollments {
		if e.Due(now) {
			due = append(due, *e)
		}
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

type memSequences struct {
	sequences map[string]*domain.Sequence
	steps     map[string][]domain.SequenceStep
}

func newMemSequences() *memSequences {
	return &memSequences{
		sequences: make(map[string]*domain.Sequence),
		steps:     make(map[string][]domain.SequenceStep),
	}
}

func (m *memSequences) Get(_ context.Context, id string) (*domain.Sequence, error) {
	s, ok := m.sequences[id]
	if !ok {
		return nil, ErrSequenceNotFound
	}
	return s, nil
}

func (m *memSequences) Steps(_ context.Context, sequenceID string) ([]domain.SequenceStep, error) {
	return m.steps[sequenceID], nil
}

type memSettings struct {
	suppressed map[string]bool
}

func newMemSettings() *memSettings {
	return &memSettings{suppressed: make(map[string]bool)}
}

func (m *memSettings) Get(_ context.Context, workspaceID string) (*domain.WorkspaceSettings, error) {
	return &domain.WorkspaceSettings{WorkspaceID: workspaceID, SendMode: domain.SendModeApproval}, nil
}

func (m *memSettings) IsContactSuppressed(_ context.Context, workspaceID, contactID string) (bool, error) {
	return m.suppressed[workspaceID+"/"+contactID], nil
}

func (m *memSettings) SuppressContact(_ context.Context, workspaceID, contactID string) error {
	m.suppressed[workspaceID+"/"+contactID] = true
	return nil
}

func newTestService() (*Service, *memStore, *memSequences, *memSettings) {
	store := newMemStore()
	seqs := newMemSequences()
	settings := newMemSettings()
	seqs.sequences["seq-1"] = &domain.Sequence{ID: "seq-1", WorkspaceID: "ws-1", Status: domain.SequenceActive}
	seqs.steps["seq-1"] = []domain.SequenceStep{
		{ID: "st-1", SequenceID: "seq-1", StepNumber: 1, DelayDays: 0},
		{ID: "st-2", SequenceID: "seq-1", StepNumber: 2, DelayDays: 3},
		{ID: "st-3", SequenceID: "seq-1", StepNumber: 3, DelayDays: 4},
	}
	return NewService(store, seqs, settings), store, seqs, settings
}

func TestEnroll(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	res, err := svc.Enroll(ctx, "ws-1", "seq-1", []ContactRef{
		{ID: "c-1", Email: "one@example.com"},
		{ID: "c-2", Email: "two@example.com"},
	})
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if res.Enrolled != 2 || res.Skipped != 0 {
		t.Errorf("expected 2 enrolled, 0 skipped, got %d/%d", res.Enrolled, res.Skipped)
	}
	for _, e := range res.Enrollments {
		if e.CurrentStep != 1 {
			t.Errorf("expected current step 1, got %d", e.CurrentStep)
		}
		if e.Status != domain.EnrollmentActive {
			t.Errorf("expected active status, got %s", e.Status)
		}
		if e.NextSendAt == nil {
			t.Error("expected next send time to be set")
		}
	}
}

func TestEnrollSkipsDuplicates(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Enroll(ctx, "ws-1", "seq-1", []ContactRef{{ID: "c-1", Email: "one@example.com"}}); err != nil {
		t.Fatalf("first enroll failed: %v", err)
	}
	res, err := svc.Enroll(ctx, "ws-1", "seq-1", []ContactRef{
		{ID: "c-1", Email: "one@example.com"},
		{ID: "c-2", Email: "two@example.com"},
	})
	if err != nil {
		t.Fatalf("second enroll failed: %v", err)
	}
	if res.Enrolled != 1 || res.Skipped != 1 {
		t.Errorf("expected 1 enrolled, 1 skipped, got %d/%d", res.Enrolled, res.Skipped)
	}
}

func TestEnrollCompletedContactReEnrolls(t *testing.T) {
	svc, store, _, _ := newTestService()
	ctx := context.Background()

	res, err := svc.Enroll(ctx, "ws-1", "seq-1", []ContactRef{{ID: "c-1", Email: "one@example.com"}})
	if err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	id := res.Enrollments[0].ID
	completed := domain.EnrollmentCompleted
	if err := store.UpdateIf(ctx, id, 1, Mutation{Status: &completed, ClearNextSendAt: true}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	res, err = svc.Enroll(ctx, "ws-1", "seq-1", []ContactRef{{ID: "c-1", Email: "one@example.com"}})
	if err != nil {
		t.Fatalf("re-enroll failed: %v", err)
	}
	if res.Enrolled != 1 {
		t.Errorf("expected completed contact to re-enroll, got %d enrolled", res.Enrolled)
	}
}

func TestEnrollSkipsSuppressed(t *testing.T) {
	svc, _, _, settings := newTestService()
	ctx := context.Background()
	settings.suppressed["ws-1/c-1"] = true

	res, err := svc.Enroll(ctx, "ws-1", "seq-1", []ContactRef{{ID: "c-1", Email: "one@example.com"}})
	if err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	if res.Enrolled != 0 || res.Skipped != 1 {
		t.Errorf("expected suppressed contact to be skipped, got %d/%d", res.Enrolled, res.Skipped)
	}
}

func TestEnrollInactiveSequence(t *testing.T) {
	svc, _, seqs, _ := newTestService()
	seqs.sequences["seq-1"].Status = domain.SequencePaused

	_, err := svc.Enroll(context.Background(), "ws-1", "seq-1", []ContactRef{{ID: "c-1", Email: "one@example.com"}})
	if !errors.Is(err, ErrSequenceNotActive) {
		t.Errorf("expected ErrSequenceNotActive, got %v", err)
	}
}

func TestEnrollEmptyBatch(t *testing.T) {
	svc, _, _, _ := newTestService()
	if _, err := svc.Enroll(context.Background(), "ws-1", "seq-1", nil); !errors.Is(err, ErrNoContacts) {
		t.Errorf("expected ErrNoContacts, got %v", err)
	}
}

func TestAdvance(t *testing.T) {
	svc, store, _, _ := newTestService()
	ctx := context.Background()

	res, err := svc.Enroll(ctx, "ws-1", "seq-1", []ContactRef{{ID: "c-1", Email: "one@example.com"}})
	if err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	id := res.Enrollments[0].ID

	sentAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := svc.Advance(ctx, id, sentAt); err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	e, _ := store.Get(ctx, id)
	if e.CurrentStep != 2 {
		t.Errorf("expected step 2, got %d", e.CurrentStep)
	}
	want := sentAt.Add(3 * 24 * time.Hour)
	if e.NextSendAt == nil || !e.NextSendAt.Equal(want) {
		t.Errorf("expected next send at %v, got %v", want, e.NextSendAt)
	}
}

func TestAdvancePastLastStepCompletes(t *testing.T) {
	svc, store, _, _ := newTestService()
	ctx := context.Background()

	res, _ := svc.Enroll(ctx, "ws-1", "seq-1", []ContactRef{{ID: "c-1", Email: "one@example.com"}})
	id := res.Enrollments[0].ID

	sentAt := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if err := svc.Advance(ctx, id, sentAt); err != nil {
			t.Fatalf("advance %d failed: %v", i+1, err)
		}
	}

	e, _ := store.Get(ctx, id)
	if e.Status != domain.EnrollmentCompleted {
		t.Errorf("expected completed, got %s", e.Status)
	}
	if e.NextSendAt != nil {
		t.Errorf("expected next send cleared, got %v", e.NextSendAt)
	}
}

func TestAdvanceTerminalNoOp(t *testing.T) {
	svc, store, _, _ := newTestService()
	ctx := context.Background()

	res, _ := svc.Enroll(ctx, "ws-1", "seq-1", []ContactRef{{ID: "c-1", Email: "one@example.com"}})
	id := res.Enrollments[0].ID
	if err := svc.MarkReplied(ctx, id); err != nil {
		t.Fatalf("mark replied failed: %v", err)
	}

	if err := svc.Advance(ctx, id, time.Now()); err != nil {
		t.Fatalf("advance on terminal should no-op, got %v", err)
	}
	e, _ := store.Get(ctx, id)
	if e.Status != domain.EnrollmentReplied {
		t.Errorf("terminal status changed to %s", e.Status)
	}
	if e.CurrentStep != 1 {
		t.Errorf("terminal enrollment advanced to step %d", e.CurrentStep)
	}
}

func TestReplyWinsAdvanceRace(t *testing.T) {
	svc, store, _, _ := newTestService()
	ctx := context.Background()

	res, _ := svc.Enroll(ctx, "ws-1", "seq-1", []ContactRef{{ID: "c-1", Email: "one@example.com"}})
	id := res.Enrollments[0].ID

	// The reply lands after Advance has read the row but before it
	// writes. The version check rejects the stale advance; the retry
	// sees the terminal status and backs off.
	store.beforeUpdate = func() {
		if err := svc.MarkReplied(ctx, id); err != nil {
			t.Errorf("mark replied failed: %v", err)
		}
	}
	if err := svc.Advance(ctx, id, time.Now()); err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	e, _ := store.Get(ctx, id)
	if e.Status != domain.EnrollmentReplied {
		t.Errorf("expected replied to win the race, got %s", e.Status)
	}
	if e.CurrentStep != 1 {
		t.Errorf("expected step unchanged, got %d", e.CurrentStep)
	}
}

func TestPauseResume(t *testing.T) {
	svc, store, _, _ := newTestService()
	ctx := context.Background()

	res, _ := svc.Enroll(ctx, "ws-1", "seq-1", []ContactRef{{ID: "c-1", Email: "one@example.com"}})
	id := res.Enrollments[0].ID

	if err := svc.Pause(ctx, id); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	e, _ := store.Get(ctx, id)
	if e.Status != domain.EnrollmentPaused {
		t.Errorf("expected paused, got %s", e.Status)
	}

	// Idempotent.
	if err := svc.Pause(ctx, id); err != nil {
		t.Fatalf("second pause failed: %v", err)
	}

	if err := svc.Resume(ctx, id); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	e, _ = store.Get(ctx, id)
	if e.Status != domain.EnrollmentActive {
		t.Errorf("expected active, got %s", e.Status)
	}
	if e.CurrentStep != 1 {
		t.Errorf("resume changed step to %d", e.CurrentStep)
	}
}

func TestPauseForReviewSetsFlag(t *testing.T) {
	svc, store, _, _ := newTestService()
	ctx := context.Background()

	res, _ := svc.Enroll(ctx, "ws-1", "seq-1", []ContactRef{{ID: "c-1", Email: "one@example.com"}})
	id := res.Enrollments[0].ID

	if err := svc.PauseForReview(ctx, id); err != nil {
		t.Fatalf("pause for review failed: %v", err)
	}
	e, _ := store.Get(ctx, id)
	if !e.ReviewFlag {
		t.Error("expected review flag set")
	}

	if err := svc.Resume(ctx, id); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	e, _ = store.Get(ctx, id)
	if e.ReviewFlag {
		t.Error("expected review flag cleared on resume")
	}
}

func TestPauseTerminalNoOp(t *testing.T) {
	svc, store, _, _ := newTestService()
	ctx := context.Background()

	res, _ := svc.Enroll(ctx, "ws-1", "seq-1", []ContactRef{{ID: "c-1", Email: "one@example.com"}})
	id := res.Enrollments[0].ID
	if err := svc.MarkBounced(ctx, id); err != nil {
		t.Fatalf("mark bounced failed: %v", err)
	}

	if err := svc.Pause(ctx, id); err != nil {
		t.Fatalf("pause on terminal should no-op, got %v", err)
	}
	if err := svc.Resume(ctx, id); err != nil {
		t.Fatalf("resume on terminal should no-op, got %v", err)
	}
	e, _ := store.Get(ctx, id)
	if e.Status != domain.EnrollmentBounced {
		t.Errorf("terminal status changed to %s", e.Status)
	}
}

func TestTerminalTransitionsIdempotent(t *testing.T) {
	svc, store, _, _ := newTestService()
	ctx := context.Background()

	res, _ := svc.Enroll(ctx, "ws-1", "seq-1", []ContactRef{{ID: "c-1", Email: "one@example.com"}})
	id := res.Enrollments[0].ID

	if err := svc.MarkReplied(ctx, id); err != nil {
		t.Fatalf("mark replied failed: %v", err)
	}
	// A later bounce must not overwrite the earlier terminal status.
	if err := svc.MarkBounced(ctx, id); err != nil {
		t.Fatalf("mark bounced should no-op, got %v", err)
	}
	e, _ := store.Get(ctx, id)
	if e.Status != domain.EnrollmentReplied {
		t.Errorf("expected replied preserved, got %s", e.Status)
	}
	if e.NextSendAt != nil {
		t.Error("expected next send cleared")
	}
}

func TestUnsubscribeSuppressesContact(t *testing.T) {
	svc, store, _, settings := newTestService()
	ctx := context.Background()

	res, _ := svc.Enroll(ctx, "ws-1", "seq-1", []ContactRef{{ID: "c-1", Email: "one@example.com"}})
	id := res.Enrollments[0].ID

	if err := svc.Unsubscribe(ctx, id); err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}
	e, _ := store.Get(ctx, id)
	if e.Status != domain.EnrollmentUnsubscribed {
		t.Errorf("expected unsubscribed, got %s", e.Status)
	}
	if !settings.suppressed["ws-1/c-1"] {
		t.Error("expected contact suppressed")
	}

	// Suppressed contacts cannot be re-enrolled anywhere.
	res, err := svc.Enroll(ctx, "ws-1", "seq-1", []ContactRef{{ID: "c-1", Email: "one@example.com"}})
	if err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	if res.Enrolled != 0 || res.Skipped != 1 {
		t.Errorf("expected suppressed skip, got %d/%d", res.Enrolled, res.Skipped)
	}
}
