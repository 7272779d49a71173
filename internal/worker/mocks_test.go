package worker

import (
	"context"
	"sync"
	"time"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/service/enrollment"
)

type stubLock struct {
	held     bool
	acquired int
	released int
}

func (l *stubLock) Acquire(context.Context) (bool, error) {
	l.acquired++
	return !l.held, nil
}

func (l *stubLock) Release(context.Context) error {
	l.released++
	return nil
}

type stubDueLister struct {
	due []domain.Enrollment
}

func (s *stubDueLister) ListDue(context.Context, time.Time, int) ([]domain.Enrollment, error) {
	return s.due, nil
}

type stubStepSource struct {
	steps map[string][]domain.SequenceStep
}

func (s *stubStepSource) Steps(_ context.Context, sequenceID string) ([]domain.SequenceStep, error) {
	return s.steps[sequenceID], nil
}

type stubGate struct {
	mu        sync.Mutex
	submitted []domain.PendingEmail
	open      map[string]bool // enrollmentID -> has an open draft
	err       error
}

func (g *stubGate) HasDraftForStep(_ context.Context, enrollmentID string, _ int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open[enrollmentID], nil
}

func (g *stubGate) Submit(_ context.Context, e *domain.Enrollment, stepNumber int, draft domain.Draft) (*domain.PendingEmail, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	p := domain.PendingEmail{
		ID:           "pe-" + e.ID,
		WorkspaceID:  e.WorkspaceID,
		EnrollmentID: e.ID,
		StepNumber:   stepNumber,
		Subject:      draft.Subject,
		Body:         draft.Body,
		Status:       domain.ReviewPending,
	}
	g.submitted = append(g.submitted, p)
	return &p, nil
}

type stubUsage struct {
	mu      sync.Mutex
	records []domain.UsageRecord
}

func (u *stubUsage) Record(_ context.Context, workspaceID string, t domain.UsageType, quantity int, metadata map[string]string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.records = append(u.records, domain.UsageRecord{
		WorkspaceID: workspaceID,
		Type:        t,
		Quantity:    quantity,
		Metadata:    metadata,
	})
}

func (u *stubUsage) byType(t domain.UsageType) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, r := range u.records {
		if r.Type == t {
			n += r.Quantity
		}
	}
	return n
}

type stubGenerator struct {
	calls int
	err   error
}

func (g *stubGenerator) Generate(_ context.Context, step domain.SequenceStep, _ domain.ContactContext) (domain.Draft, error) {
	g.calls++
	if g.err != nil {
		return domain.Draft{}, g.err
	}
	return domain.Draft{Subject: step.SubjectTemplate, Body: step.BodyTemplate}, nil
}

type stubMachine struct {
	enrollments map[string]*domain.Enrollment
	advanced    []string
	replied     []string
	bounced     []string
	unsubbed    []string
	flagged     []string
}

func newStubMachine(es ...*domain.Enrollment) *stubMachine {
	m := &stubMachine{enrollments: make(map[string]*domain.Enrollment)}
	for _, e := range es {
		m.enrollments[e.ID] = e
	}
	return m
}

func (m *stubMachine) Get(_ context.Context, id string) (*domain.Enrollment, error) {
	e, ok := m.enrollments[id]
	if !ok {
		return nil, enrollment.ErrNotFound
	}
	return e, nil
}

func (m *stubMachine) FindLiveByContact(_ context.Context, workspaceID, contactID string) (*domain.Enrollment, error) {
	for _, e := range m.enrollments {
		if e.WorkspaceID == workspaceID && e.ContactID == contactID && !e.Status.Terminal() {
			return e, nil
		}
	}
	return nil, enrollment.ErrNotFound
}

func (m *stubMachine) Advance(_ context.Context, id string, _ time.Time) error {
	m.advanced = append(m.advanced, id)
	return nil
}

func (m *stubMachine) MarkReplied(_ context.Context, id string) error {
	m.replied = append(m.replied, id)
	return nil
}

func (m *stubMachine) MarkBounced(_ context.Context, id string) error {
	m.bounced = append(m.bounced, id)
	return nil
}

func (m *stubMachine) Unsubscribe(_ context.Context, id string) error {
	m.unsubbed = append(m.unsubbed, id)
	return nil
}

func (m *stubMachine) PauseForReview(_ context.Context, id string) error {
	m.flagged = append(m.flagged, id)
	return nil
}

type stubInteractions struct {
	byID      map[string]*domain.Interaction
	inserted  []domain.Interaction
	emailSent map[string]bool // enrollmentID
}

func newStubInteractions(is ...*domain.Interaction) *stubInteractions {
	s := &stubInteractions{
		byID:      make(map[string]*domain.Interaction),
		emailSent: make(map[string]bool),
	}
	for _, i := range is {
		s.byID[i.ID] = i
	}
	return s
}

func (s *stubInteractions) Get(_ context.Context, id string) (*domain.Interaction, error) {
	i, ok := s.byID[id]
	if !ok {
		return nil, enrollment.ErrNotFound
	}
	return i, nil
}

func (s *stubInteractions) Claim(_ context.Context, id string) (bool, error) {
	i, ok := s.byID[id]
	if !ok {
		return false, nil
	}
	if i.ProcessedAt != nil {
		return false, nil
	}
	now := time.Now()
	i.ProcessedAt = &now
	return true, nil
}

func (s *stubInteractions) Unclaim(_ context.Context, id string) error {
	if i, ok := s.byID[id]; ok {
		i.ProcessedAt = nil
	}
	return nil
}

func (s *stubInteractions) Insert(_ context.Context, i *domain.Interaction) error {
	s.inserted = append(s.inserted, *i)
	if i.Type == domain.InteractionEmailSent {
		s.emailSent[i.EnrollmentID] = true
	}
	return nil
}

func (s *stubInteractions) HasEmailSent(_ context.Context, enrollmentID string, _ int) (bool, error) {
	return s.emailSent[enrollmentID], nil
}

type stubCanceller struct {
	cancelled []string
}

func (c *stubCanceller) CancelForEnrollment(_ context.Context, enrollmentID, _ string) error {
	c.cancelled = append(c.cancelled, enrollmentID)
	return nil
}

type stubClassifier struct {
	cls domain.Classification
	err error
}

func (c *stubClassifier) Classify(context.Context, string, string) (domain.Classification, error) {
	if c.err != nil {
		return domain.Classification{}, c.err
	}
	return c.cls, nil
}

type stubApproved struct {
	batch []domain.PendingEmail
}

func (s *stubApproved) ListApproved(context.Context, int) ([]domain.PendingEmail, error) {
	return s.batch, nil
}

type stubSenderSettings struct{}

func (stubSenderSettings) Get(_ context.Context, workspaceID string) (*domain.WorkspaceSettings, error) {
	return &domain.WorkspaceSettings{
		WorkspaceID: workspaceID,
		SendMode:    domain.SendModeApproval,
		FromName:    "Sam Seller",
		FromEmail:   "sam@cadence.io",
	}, nil
}

type stubTransport struct {
	sent []domain.OutboundMessage
	err  error
}

func (t *stubTransport) Send(_ context.Context, msg domain.OutboundMessage) (string, error) {
	if t.err != nil {
		return "", t.err
	}
	t.sent = append(t.sent, msg)
	return "msg-123", nil
}
