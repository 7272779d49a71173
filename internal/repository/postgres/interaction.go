package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cadencehq/cadence/internal/domain"
)

// ErrInteractionNotFound is returned when an interaction id is unknown.
var ErrInteractionNotFound = errors.New("interaction not found")

// InteractionRepo persists the append-only event log.
type InteractionRepo struct{ db *sql.DB }

func NewInteractionRepo(db *sql.DB) *InteractionRepo { return &InteractionRepo{db: db} }

func (r *InteractionRepo) Insert(ctx context.Context, i *domain.Interaction) error {
	metadata, err := json.Marshal(i.Metadata)
	if err != nil {
		return fmt.Errorf("encode interaction metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO interactions
			(id, workspace_id, enrollment_id, sequence_id, contact_id,
			 step_number, type, subject, body, metadata, processed_at, created_at)
		VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), $5, $6, $7, $8, $9, $10, $11, NOW())
	`, i.ID, i.WorkspaceID, i.EnrollmentID, i.SequenceID, i.ContactID,
		i.StepNumber, i.Type, i.Subject, i.Body, metadata, i.ProcessedAt)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

func (r *InteractionRepo) Get(ctx context.Context, id string) (*domain.Interaction, error) {
	i := &domain.Interaction{}
	var metadata []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, COALESCE(enrollment_id,''), COALESCE(sequence_id,''),
		       contact_id, COALESCE(step_number,0), type, COALESCE(subject,''),
		       COALESCE(body,''), metadata, processed_at, created_at
		FROM interactions
		WHERE id = $1
	`, id).Scan(
		&i.ID, &i.WorkspaceID, &i.EnrollmentID, &i.SequenceID,
		&i.ContactID, &i.StepNumber, &i.Type, &i.Subject,
		&i.Body, &metadata, &i.ProcessedAt, &i.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrInteractionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get interaction: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &i.Metadata); err != nil {
			return nil, fmt.Errorf("decode interaction metadata: %w", err)
		}
	}
	return i, nil
}

// Claim atomically marks an inbound interaction as processed. It returns
// false when the interaction was already claimed, which is how a
// redelivered reply event turns into a no-op.
func (r *InteractionRepo) Claim(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE interactions
		SET processed_at = NOW()
		WHERE id = $1 AND processed_at IS NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("claim interaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim interaction: %w", err)
	}
	return n == 1, nil
}

// Unclaim clears the processed marker so a claimed interaction whose
// transition failed can be retried on redelivery.
func (r *InteractionRepo) Unclaim(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE interactions
		SET processed_at = NULL
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("unclaim interaction: %w", err)
	}
	return nil
}

// HasEmailSent reports whether a send was already recorded for the
// (enrollment, step) pair. The dispatch worker checks this before
// sending, so a redelivered dispatch cannot double-send.
func (r *InteractionRepo) HasEmailSent(ctx context.Context, enrollmentID string, stepNumber int) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM interactions
			WHERE enrollment_id = $1 AND step_number = $2 AND type = 'email_sent'
		)
	`, enrollmentID, stepNumber).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check email_sent: %w", err)
	}
	return exists, nil
}

func (r *InteractionRepo) ListByEnrollment(ctx context.Context, enrollmentID string, limit int) ([]domain.Interaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workspace_id, COALESCE(enrollment_id,''), COALESCE(sequence_id,''),
		       contact_id, COALESCE(step_number,0), type, COALESCE(subject,''),
		       COALESCE(body,''), metadata, processed_at, created_at
		FROM interactions
		WHERE enrollment_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, enrollmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Interaction
	for rows.Next() {
		var i domain.Interaction
		var metadata []byte
		if err := rows.Scan(
			&i.ID, &i.WorkspaceID, &i.EnrollmentID, &i.SequenceID,
			&i.ContactID, &i.StepNumber, &i.Type, &i.Subject,
			&i.Body, &metadata, &i.ProcessedAt, &i.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &i.Metadata); err != nil {
				return nil, fmt.Errorf("decode interaction metadata: %w", err)
			}
		}
		out = append(out, i)
	}
	return out, rows.Err()
}
