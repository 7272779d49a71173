package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/pkg/logger"
)

// Action is a reviewer operation on a pending email.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionEdit    Action = "edit"
)

// SystemReviewer is stamped on rows the gate approves itself in
// auto-send workspaces.
const SystemReviewer = "system"

// Service is the content gate.
type Service struct {
	pending     PendingStore
	settings    SettingsReader
	enrollments EnrollmentPauser
}

func NewService(pending PendingStore, settings SettingsReader, enrollments EnrollmentPauser) *Service {
	return &Service{pending: pending, settings: settings, enrollments: enrollments}
}

// Submit records a generated draft for an enrollment step. In a
// require-approval workspace the row starts pending; in an auto-send
// workspace it is created pre-approved so the dispatch worker picks it
// up on its next pass. Either way the (enrollment, step) uniqueness of
// the store makes a redelivered submit surface as ErrDuplicateStep
// instead of a second row.
func (s *Service) Submit(ctx context.Context, e *domain.Enrollment, stepNumber int, draft domain.Draft) (*domain.PendingEmail, error) {
	settings, err := s.settings.Get(ctx, e.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("load workspace settings: %w", err)
	}

	now := time.Now().UTC()
	p := &domain.PendingEmail{
		ID:           uuid.New().String(),
		WorkspaceID:  e.WorkspaceID,
		EnrollmentID: e.ID,
		StepNumber:   stepNumber,
		Subject:      draft.Subject,
		Body:         draft.Body,
		Status:       domain.ReviewPending,
		CreatedAt:    now,
	}
	if settings.SendMode == domain.SendModeAuto {
		p.Status = domain.ReviewApproved
		p.ReviewedAt = &now
		p.ReviewedBy = SystemReviewer
	}

	if err := s.pending.Create(ctx, p); err != nil {
		return nil, err
	}
	logger.Info("draft submitted",
		"pending", p.ID,
		"enrollment", e.ID,
		"step", stepNumber,
		"status", string(p.Status))
	return p, nil
}

// HasDraftForStep reports whether an open draft already exists for the
// (enrollment, step) pair. The scheduler checks this before paying for a
// generation that Submit would only reject as a duplicate.
func (s *Service) HasDraftForStep(ctx context.Context, enrollmentID string, stepNumber int) (bool, error) {
	return s.pending.ExistsForStep(ctx, enrollmentID, stepNumber)
}

// Get returns a single pending email.
func (s *Service) Get(ctx context.Context, id string) (*domain.PendingEmail, error) {
	return s.pending.Get(ctx, id)
}

// ListPending returns the review queue for a workspace.
func (s *Service) ListPending(ctx context.Context, workspaceID string, limit int) ([]domain.PendingEmail, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.pending.ListPending(ctx, workspaceID, limit)
}

// Approve marks a pending email approved. The dispatch worker sends
// approved rows; approval itself never touches the transport.
func (s *Service) Approve(ctx context.Context, id, reviewer string) error {
	if err := s.pending.Review(ctx, id, domain.ReviewApproved, reviewer, time.Now().UTC()); err != nil {
		return err
	}
	logger.Info("pending email approved", "pending", id, "reviewer", reviewer)
	return nil
}

// Reject marks a pending email rejected and pauses the owning
// enrollment. A rejected message never auto-retries; an operator has to
// resume or re-enroll. A retried Reject whose first attempt failed after
// the status write still pauses the enrollment, so the two writes
// converge under at-least-once delivery.
func (s *Service) Reject(ctx context.Context, id, reviewer string) error {
	p, err := s.pending.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.pending.Review(ctx, id, domain.ReviewRejected, reviewer, time.Now().UTC()); err != nil {
		if !errors.Is(err, ErrAlreadyReviewed) || p.Status != domain.ReviewRejected {
			return err
		}
	}
	if err := s.enrollments.Pause(ctx, p.EnrollmentID); err != nil {
		return fmt.Errorf("pause enrollment %s: %w", p.EnrollmentID, err)
	}
	logger.Info("pending email rejected",
		"pending", id,
		"enrollment", p.EnrollmentID,
		"reviewer", reviewer)
	return nil
}

// Edit overwrites subject and/or body on a still-pending email and
// appends an edit record. Status is unchanged; the reviewer still has to
// approve or reject.
func (s *Service) Edit(ctx context.Context, id, reviewer string, subject, body *string) error {
	if subject == nil && body == nil {
		return fmt.Errorf("%w: edit requires a subject or body", ErrInvalidAction)
	}

	p, err := s.pending.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != domain.ReviewPending {
		return ErrAlreadyReviewed
	}

	newSubject, newBody := p.Subject, p.Body
	edit := domain.EditRecord{Actor: reviewer, At: time.Now().UTC()}
	if subject != nil {
		newSubject = *subject
		edit.Fields = append(edit.Fields, "subject")
	}
	if body != nil {
		newBody = *body
		edit.Fields = append(edit.Fields, "body")
	}
	return s.pending.UpdateContent(ctx, id, newSubject, newBody, edit)
}

// BulkResult reports a bulk review outcome. Skipped counts ids that were
// missing or already reviewed; a reviewer re-submitting a batch after a
// partial success sees them here, not as errors.
type BulkResult struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
}

// BulkReview applies approve or reject to a set of ids.
func (s *Service) BulkReview(ctx context.Context, ids []string, action Action, reviewer string) (*BulkResult, error) {
	if action != ActionApprove && action != ActionReject {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	res := &BulkResult{}
	for _, id := range ids {
		var err error
		switch action {
		case ActionApprove:
			err = s.Approve(ctx, id, reviewer)
		case ActionReject:
			err = s.Reject(ctx, id, reviewer)
		}
		switch {
		case err == nil:
			res.Processed++
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrAlreadyReviewed):
			res.Skipped++
		default:
			return nil, err
		}
	}
	return res, nil
}

// CancelForEnrollment rejects anything still pending for an enrollment
// that just went terminal.
func (s *Service) CancelForEnrollment(ctx context.Context, enrollmentID, reason string) error {
	n, err := s.pending.CancelForEnrollment(ctx, enrollmentID, reason)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Info("cancelled pending emails",
			"enrollment", enrollmentID,
			"count", n,
			"reason", reason)
	}
	return nil
}
