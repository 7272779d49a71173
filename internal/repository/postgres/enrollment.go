package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/service/enrollment"
)

// EnrollmentRepo implements enrollment.Store against PostgreSQL.
type EnrollmentRepo struct{ db *sql.DB }

// NewEnrollmentRepo creates a Postgres-backed enrollment store.
func NewEnrollmentRepo(db *sql.DB) *EnrollmentRepo { return &EnrollmentRepo{db: db} }

const enrollmentColumns = `id, workspace_id, sequence_id, contact_id, contact_email,
	       current_step, status, review_flag, enrolled_at, next_send_at,
	       version, created_at, updated_at`

func scanEnrollment(row *sql.Row) (*domain.Enrollment, error) {
	e := &domain.Enrollment{}
	err := row.Scan(
		&e.ID, &e.WorkspaceID, &e.SequenceID, &e.ContactID, &e.ContactEmail,
		&e.CurrentStep, &e.Status, &e.ReviewFlag, &e.EnrolledAt, &e.NextSendAt,
		&e.Version, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, enrollment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan enrollment: %w", err)
	}
	return e, nil
}

func (r *EnrollmentRepo) Get(ctx context.Context, id string) (*domain.Enrollment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+enrollmentColumns+`
		FROM sequence_enrollments
		WHERE id = $1
	`, id)
	return scanEnrollment(row)
}

func (r *EnrollmentRepo) FindLive(ctx context.Context, sequenceID, contactID string) (*domain.Enrollment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+enrollmentColumns+`
		FROM sequence_enrollments
		WHERE sequence_id = $1 AND contact_id = $2
		  AND status IN ('active', 'paused')
	`, sequenceID, contactID)
	return scanEnrollment(row)
}

func (r *EnrollmentRepo) Create(ctx context.Context, e *domain.Enrollment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sequence_enrollments
			(id, workspace_id, sequence_id, contact_id, contact_email,
			 current_step, status, review_flag, enrolled_at, next_send_at,
			 version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`, e.ID, e.WorkspaceID, e.SequenceID, e.ContactID, e.ContactEmail,
		e.CurrentStep, e.Status, e.ReviewFlag, e.EnrolledAt, e.NextSendAt, e.Version)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return enrollment.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// UpdateIf applies the mutation only when the row still carries the
// expected version, bumping the version on success. A zero-row update is
// disambiguated with a follow-up read: missing row or stale version.
func (r *EnrollmentRepo) UpdateIf(ctx context.Context, id string, expectedVersion int, mut enrollment.Mutation) error {
	sets := []string{}
	args := []interface{}{}
	idx := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if mut.Status != nil {
		add("status", string(*mut.Status))
	}
	if mut.CurrentStep != nil {
		add("current_step", *mut.CurrentStep)
	}
	if mut.NextSendAt != nil {
		add("next_send_at", *mut.NextSendAt)
	} else if mut.ClearNextSendAt {
		sets = append(sets, "next_send_at = NULL")
	}
	if mut.ReviewFlag != nil {
		add("review_flag", *mut.ReviewFlag)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "version = version + 1", "updated_at = NOW()")

	q := "UPDATE sequence_enrollments SET "
	for i, s := range sets {
		if i > 0 {
			q += ", "
		}
		q += s
	}
	q += fmt.Sprintf(" WHERE id = $%d AND version = $%d", idx, idx+1)
	args = append(args, id, expectedVersion)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	if n == 0 {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return enrollment.ErrVersionConflict
	}
	return nil
}

func (r *EnrollmentRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Enrollment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.workspace_id, e.sequence_id, e.contact_id, e.contact_email,
		       e.current_step, e.status, e.review_flag, e.enrolled_at, e.next_send_at,
		       e.version, e.created_at, e.updated_at
		FROM sequence_enrollments e
		JOIN sequences s ON s.id = e.sequence_id AND s.status = 'active'
		WHERE e.status = 'active' AND e.next_send_at IS NOT NULL AND e.next_send_at <= $1
		ORDER BY e.next_send_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due enrollments: %w", err)
	}
	defer rows.Close()

	var out []domain.Enrollment
	for rows.Next() {
		var e domain.Enrollment
		if err := rows.Scan(
			&e.ID, &e.WorkspaceID, &e.SequenceID, &e.ContactID, &e.ContactEmail,
			&e.CurrentStep, &e.Status, &e.ReviewFlag, &e.EnrolledAt, &e.NextSendAt,
			&e.Version, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindLiveByContact locates the contact's live enrollment regardless of
// sequence, newest first. The reply router uses it when an inbound event
// carries no sequence reference.
func (r *EnrollmentRepo) FindLiveByContact(ctx context.Context, workspaceID, contactID string) (*domain.Enrollment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+enrollmentColumns+`
		FROM sequence_enrollments
		WHERE workspace_id = $1 AND contact_id = $2
		  AND status IN ('active', 'paused')
		ORDER BY enrolled_at DESC
		LIMIT 1
	`, workspaceID, contactID)
	return scanEnrollment(row)
}
