package review

import (
	"context"
	"time"

	"github.com/cadencehq/cadence/internal/domain"
)

// PendingStore is the persistence contract for pending emails. The
// Review and UpdateContent operations are conditional writes guarded on
// the row still being in the pending status, so a pending email leaves
// that status exactly once no matter how many reviewers race.
type PendingStore interface {
	Get(ctx context.Context, id string) (*domain.PendingEmail, error)

	// Create inserts the pending email. It returns ErrDuplicateStep when
	// an open (pending or approved) row already exists for the
	// (enrollment, step) pair. Rejected rows do not block: a step whose
	// draft was rejected can be re-submitted after the enrollment
	// resumes.
	Create(ctx context.Context, p *domain.PendingEmail) error

	// ExistsForStep reports whether an open (pending or approved) row
	// exists for the (enrollment, step) pair.
	ExistsForStep(ctx context.Context, enrollmentID string, stepNumber int) (bool, error)

	// Review transitions the row out of pending. It returns
	// ErrAlreadyReviewed when the row is no longer pending and
	// ErrNotFound when it does not exist.
	Review(ctx context.Context, id string, status domain.ReviewStatus, reviewer string, at time.Time) error

	// UpdateContent overwrites subject/body and appends the edit record,
	// only while the row is still pending.
	UpdateContent(ctx context.Context, id, subject, body string, edit domain.EditRecord) error

	ListPending(ctx context.Context, workspaceID string, limit int) ([]domain.PendingEmail, error)

	// ListApproved returns approved emails that have not been dispatched
	// yet. The dispatch worker drains this.
	ListApproved(ctx context.Context, limit int) ([]domain.PendingEmail, error)

	// CancelForEnrollment rejects every still-pending email for the
	// enrollment. Called when the enrollment reaches a terminal state so
	// a stale approval cannot send into a dead conversation.
	CancelForEnrollment(ctx context.Context, enrollmentID, reason string) (int, error)
}

// SettingsReader provides the per-workspace gate configuration.
type SettingsReader interface {
	Get(ctx context.Context, workspaceID string) (*domain.WorkspaceSettings, error)
}

// EnrollmentPauser pauses the enrollment that owns a rejected message.
type EnrollmentPauser interface {
	Pause(ctx context.Context, enrollmentID string) error
}
