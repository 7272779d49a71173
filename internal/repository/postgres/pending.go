package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/service/review"
)

// PendingRepo implements review.PendingStore against PostgreSQL. The edit
// history and the opaque extra map are stored as JSONB.
type PendingRepo struct{ db *sql.DB }

func NewPendingRepo(db *sql.DB) *PendingRepo { return &PendingRepo{db: db} }

const pendingColumns = `id, workspace_id, enrollment_id, step_number, subject, body,
	       status, reviewed_at, COALESCE(reviewed_by,''), edits, extra, created_at`

func scanPending(scan func(...interface{}) error) (*domain.PendingEmail, error) {
	p := &domain.PendingEmail{}
	var edits, extra []byte
	err := scan(
		&p.ID, &p.WorkspaceID, &p.EnrollmentID, &p.StepNumber, &p.Subject, &p.Body,
		&p.Status, &p.ReviewedAt, &p.ReviewedBy, &edits, &extra, &p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, review.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pending email: %w", err)
	}
	if len(edits) > 0 {
		if err := json.Unmarshal(edits, &p.Edits); err != nil {
			return nil, fmt.Errorf("decode edit history: %w", err)
		}
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &p.Extra); err != nil {
			return nil, fmt.Errorf("decode extra: %w", err)
		}
	}
	return p, nil
}

func (r *PendingRepo) Get(ctx context.Context, id string) (*domain.PendingEmail, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+pendingColumns+`
		FROM pending_emails
		WHERE id = $1
	`, id)
	return scanPending(row.Scan)
}

func (r *PendingRepo) Create(ctx context.Context, p *domain.PendingEmail) error {
	edits, err := json.Marshal(p.Edits)
	if err != nil {
		return fmt.Errorf("encode edit history: %w", err)
	}
	extra, err := json.Marshal(p.Extra)
	if err != nil {
		return fmt.Errorf("encode extra: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pending_emails
			(id, workspace_id, enrollment_id, step_number, subject, body,
			 status, reviewed_at, reviewed_by, edits, extra, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	`, p.ID, p.WorkspaceID, p.EnrollmentID, p.StepNumber, p.Subject, p.Body,
		p.Status, p.ReviewedAt, p.ReviewedBy, edits, extra)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return review.ErrDuplicateStep
	}
	if err != nil {
		return fmt.Errorf("create pending email: %w", err)
	}
	return nil
}

// ExistsForStep reports whether an open row occupies the (enrollment,
// step) dedup key. Rejected rows do not count.
func (r *PendingRepo) ExistsForStep(ctx context.Context, enrollmentID string, stepNumber int) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pending_emails
			WHERE enrollment_id = $1 AND step_number = $2
			  AND status IN ('pending', 'approved')
		)
	`, enrollmentID, stepNumber).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending step: %w", err)
	}
	return exists, nil
}

func (r *PendingRepo) Review(ctx context.Context, id string, status domain.ReviewStatus, reviewer string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pending_emails
		SET status = $2, reviewed_by = $3, reviewed_at = $4
		WHERE id = $1 AND status = 'pending'
	`, id, status, reviewer, at)
	if err != nil {
		return fmt.Errorf("review pending email: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("review pending email: %w", err)
	}
	if n == 0 {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return review.ErrAlreadyReviewed
	}
	return nil
}

func (r *PendingRepo) UpdateContent(ctx context.Context, id, subject, body string, edit domain.EditRecord) error {
	editJSON, err := json.Marshal(edit)
	if err != nil {
		return fmt.Errorf("encode edit record: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE pending_emails
		SET subject = $2, body = $3,
		    edits = COALESCE(edits, '[]'::jsonb) || $4::jsonb
		WHERE id = $1 AND status = 'pending'
	`, id, subject, body, editJSON)
	if err != nil {
		return fmt.Errorf("edit pending email: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("edit pending email: %w", err)
	}
	if n == 0 {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return review.ErrAlreadyReviewed
	}
	return nil
}

func (r *PendingRepo) ListPending(ctx context.Context, workspaceID string, limit int) ([]domain.PendingEmail, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+pendingColumns+`
		FROM pending_emails
		WHERE workspace_id = $1 AND status = 'pending'
		ORDER BY created_at
		LIMIT $2
	`, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending emails: %w", err)
	}
	defer rows.Close()
	return collectPending(rows)
}

// ListApproved returns approved emails with no email_sent interaction for
// their (enrollment, step) yet. This is the dispatch worker's queue.
func (r *PendingRepo) ListApproved(ctx context.Context, limit int) ([]domain.PendingEmail, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+pendingColumns+`
		FROM pending_emails p
		WHERE p.status = 'approved'
		  AND NOT EXISTS (
			SELECT 1 FROM interactions i
			WHERE i.enrollment_id = p.enrollment_id
			  AND i.step_number = p.step_number
			  AND i.type = 'email_sent'
		  )
		ORDER BY p.created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list approved emails: %w", err)
	}
	defer rows.Close()
	return collectPending(rows)
}

func (r *PendingRepo) CancelForEnrollment(ctx context.Context, enrollmentID, reason string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pending_emails
		SET status = 'rejected', reviewed_by = 'system', reviewed_at = NOW(),
		    extra = COALESCE(extra, '{}'::jsonb) || jsonb_build_object('cancel_reason', $2::text)
		WHERE enrollment_id = $1 AND status = 'pending'
	`, enrollmentID, reason)
	if err != nil {
		return 0, fmt.Errorf("cancel pending emails: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel pending emails: %w", err)
	}
	return int(n), nil
}

func collectPending(rows *sql.Rows) ([]domain.PendingEmail, error) {
	var out []domain.PendingEmail
	for rows.Next() {
		p, err := scanPending(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
