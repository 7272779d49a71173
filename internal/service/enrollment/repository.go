package enrollment

import (
	"context"
	"time"

	"github.com/cadencehq/cadence/internal/domain"
)

// Mutation holds the fields a single transition may change. Nil fields are
// left untouched. Applying a mutation always bumps the row version.
type Mutation struct {
	Status          *domain.EnrollmentStatus
	CurrentStep     *int
	NextSendAt      *time.Time
	ClearNextSendAt bool
	ReviewFlag      *bool
}

// Store defines the data access contract for enrollments.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns a single enrollment. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Enrollment, error)

	// FindLive returns the non-terminal (active or paused) enrollment for
	// the (sequence, contact) pair, or ErrNotFound. At most one can exist.
	FindLive(ctx context.Context, sequenceID, contactID string) (*domain.Enrollment, error)

	// Create inserts a new enrollment. Returns ErrDuplicate if the store's
	// uniqueness constraint on live (sequence, contact) pairs rejects it.
	Create(ctx context.Context, e *domain.Enrollment) error

	// UpdateIf applies the mutation only if the row version still equals
	// expectedVersion, incrementing the version. Returns ErrVersionConflict
	// when the row moved underneath the caller, ErrNotFound if it is gone.
	UpdateIf(ctx context.Context, id string, expectedVersion int, mut Mutation) error

	// ListDue returns active enrollments whose next_send_at is at or before
	// now and whose sequence is active, up to limit rows. Implementations
	// should skip rows locked by a concurrent scheduler pass.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Enrollment, error)
}

// SequenceStore provides read access to sequences and their steps.
type SequenceStore interface {
	// Get returns a sequence. Returns ErrSequenceNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Sequence, error)

	// Steps returns the sequence's steps ordered by step number.
	Steps(ctx context.Context, sequenceID string) ([]domain.SequenceStep, error)
}

// SettingsStore provides workspace settings and the contact suppression
// flag set by unsubscribe transitions.
type SettingsStore interface {
	Get(ctx context.Context, workspaceID string) (*domain.WorkspaceSettings, error)
	IsContactSuppressed(ctx context.Context, workspaceID, contactID string) (bool, error)
	SuppressContact(ctx context.Context, workspaceID, contactID string) error
}
