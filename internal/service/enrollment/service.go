package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/pkg/logger"
)

// maxTransitionRetries bounds the optimistic-concurrency retry loop. A
// conflict means another writer touched the row; after reload either the
// transition still applies or the row went terminal and we no-op.
const maxTransitionRetries = 5

// Service implements the enrollment state machine and batch enrollment.
type Service struct {
	store     Store
	sequences SequenceStore
	settings  SettingsStore
}

// NewService creates an enrollment service backed by the given stores.
func NewService(store Store, sequences SequenceStore, settings SettingsStore) *Service {
	return &Service{store: store, sequences: sequences, settings: settings}
}

// ContactRef identifies a contact to enroll. The engine does not own
// contact records; callers pass the id and the email to send to.
type ContactRef struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// EnrollResult reports the outcome of a batch enrollment.
type EnrollResult struct {
	Enrolled    int                 `json:"enrolled"`
	Skipped     int                 `json:"skipped"`
	Enrollments []domain.Enrollment `json:"enrollments"`
}

// Enroll creates enrollments for each contact in an active sequence.
// Contacts that already have a live enrollment for the sequence, or that
// are on the workspace suppression list, are skipped and counted, not
// errored. The sequence-active check is all-or-nothing for the batch.
func (s *Service) Enroll(ctx context.Context, workspaceID, sequenceID string, contacts []ContactRef) (*EnrollResult, error) {
	if len(contacts) == 0 {
		return nil, ErrNoContacts
	}

	seq, err := s.sequences.Get(ctx, sequenceID)
	if err != nil {
		return nil, err
	}
	if !seq.IsActive() {
		return nil, ErrSequenceNotActive
	}

	steps, err := s.sequences.Steps(ctx, sequenceID)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, ErrSequenceEmpty
	}
	for i := range steps {
		if err := steps[i].Validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", steps[i].StepNumber, err)
		}
	}

	now := time.Now().UTC()
	firstDue := now.Add(time.Duration(steps[0].DelayDays) * 24 * time.Hour)

	result := &EnrollResult{}
	for _, c := range contacts {
		suppressed, err := s.settings.IsContactSuppressed(ctx, workspaceID, c.ID)
		if err != nil {
			return nil, fmt.Errorf("suppression check: %w", err)
		}
		if suppressed {
			result.Skipped++
			continue
		}

		if _, err := s.store.FindLive(ctx, sequenceID, c.ID); err == nil {
			result.Skipped++
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("duplicate check: %w", err)
		}

		e := &domain.Enrollment{
			ID:           uuid.New().String(),
			WorkspaceID:  workspaceID,
			SequenceID:   sequenceID,
			ContactID:    c.ID,
			ContactEmail: c.Email,
			CurrentStep:  1,
			Status:       domain.EnrollmentActive,
			EnrolledAt:   now,
			NextSendAt:   &firstDue,
			Version:      1,
		}
		if err := s.store.Create(ctx, e); err != nil {
			// The partial unique index closes the check-then-insert race:
			// a concurrent enroll for the same pair surfaces here as a
			// duplicate, which is a skip, not a failure.
			if errors.Is(err, ErrDuplicate) {
				result.Skipped++
				continue
			}
			return nil, fmt.Errorf("create enrollment: %w", err)
		}
		result.Enrolled++
		result.Enrollments = append(result.Enrollments, *e)
	}

	logger.Info("batch enrolled",
		"sequence", sequenceID,
		"enrolled", result.Enrolled,
		"skipped", result.Skipped)
	return result, nil
}

// Get returns a single enrollment.
func (s *Service) Get(ctx context.Context, id string) (*domain.Enrollment, error) {
	return s.store.Get(ctx, id)
}

// Advance moves an active enrollment past its current step after a
// successful send: to the next step with its delay-based due time, or to
// completed when no next step exists. Terminal and paused enrollments
// no-op: if a reply transition landed between the send and this call, the
// reply wins and the advance observes it.
func (s *Service) Advance(ctx context.Context, id string, sentAt time.Time) error {
	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		e, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if e.Status != domain.EnrollmentActive {
			return nil
		}

		steps, err := s.sequences.Steps(ctx, e.SequenceID)
		if err != nil {
			return err
		}

		var next *domain.SequenceStep
		for i := range steps {
			if steps[i].StepNumber == e.CurrentStep+1 {
				next = &steps[i]
				break
			}
		}

		var mut Mutation
		if next == nil {
			completed := domain.EnrollmentCompleted
			mut.Status = &completed
			mut.ClearNextSendAt = true
		} else {
			stepNum := next.StepNumber
			due := sentAt.Add(time.Duration(next.DelayDays) * 24 * time.Hour)
			mut.CurrentStep = &stepNum
			mut.NextSendAt = &due
		}

		err = s.store.UpdateIf(ctx, id, e.Version, mut)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		return err
	}
	return ErrVersionConflict
}

// Pause suspends an active enrollment. Pausing an already-paused
// enrollment succeeds; pausing a terminal one is a no-op.
func (s *Service) Pause(ctx context.Context, id string) error {
	return s.pause(ctx, id, false)
}

// PauseForReview pauses the enrollment and flags it for manual attention
// (e.g. a wrong-person reply).
func (s *Service) PauseForReview(ctx context.Context, id string) error {
	return s.pause(ctx, id, true)
}

func (s *Service) pause(ctx context.Context, id string, flag bool) error {
	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		e, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if e.Status.Terminal() {
			return nil
		}
		if e.Status == domain.EnrollmentPaused && (!flag || e.ReviewFlag) {
			return nil
		}

		paused := domain.EnrollmentPaused
		mut := Mutation{Status: &paused}
		if flag {
			f := true
			mut.ReviewFlag = &f
		}
		err = s.store.UpdateIf(ctx, id, e.Version, mut)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		return err
	}
	return ErrVersionConflict
}

// Resume reactivates a paused enrollment; scheduling continues from the
// current step unchanged. Resuming an active enrollment succeeds;
// resuming a terminal one is a no-op.
func (s *Service) Resume(ctx context.Context, id string) error {
	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		e, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if e.Status.Terminal() {
			return nil
		}
		if e.Status == domain.EnrollmentActive {
			return nil
		}

		active := domain.EnrollmentActive
		flag := false
		mut := Mutation{Status: &active, ReviewFlag: &flag}
		if e.NextSendAt == nil {
			now := time.Now().UTC()
			mut.NextSendAt = &now
		}
		err = s.store.UpdateIf(ctx, id, e.Version, mut)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		return err
	}
	return ErrVersionConflict
}

// MarkReplied terminates the enrollment because the contact replied. This
// transition wins any race with an in-flight step advance: on a version
// conflict it reloads and retries until applied or the row is already
// terminal.
func (s *Service) MarkReplied(ctx context.Context, id string) error {
	return s.terminalize(ctx, id, domain.EnrollmentReplied)
}

// MarkBounced terminates the enrollment after a hard bounce.
func (s *Service) MarkBounced(ctx context.Context, id string) error {
	return s.terminalize(ctx, id, domain.EnrollmentBounced)
}

// Unsubscribe terminates the enrollment and flags the contact so no future
// sequence can enroll them until the flag is explicitly cleared.
func (s *Service) Unsubscribe(ctx context.Context, id string) error {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.terminalize(ctx, id, domain.EnrollmentUnsubscribed); err != nil {
		return err
	}
	if err := s.settings.SuppressContact(ctx, e.WorkspaceID, e.ContactID); err != nil {
		return fmt.Errorf("suppress contact: %w", err)
	}
	return nil
}

func (s *Service) terminalize(ctx context.Context, id string, target domain.EnrollmentStatus) error {
	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		e, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if e.Status.Terminal() {
			return nil
		}

		mut := Mutation{Status: &target, ClearNextSendAt: true}
		err = s.store.UpdateIf(ctx, id, e.Version, mut)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err == nil {
			logger.Info("enrollment terminated",
				"enrollment", id,
				"status", string(target))
		}
		return err
	}
	return ErrVersionConflict
}
