package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/service/enrollment"
)

// SequenceRepo implements enrollment.SequenceStore against PostgreSQL.
type SequenceRepo struct{ db *sql.DB }

func NewSequenceRepo(db *sql.DB) *SequenceRepo { return &SequenceRepo{db: db} }

func (r *SequenceRepo) Get(ctx context.Context, id string) (*domain.Sequence, error) {
	s := &domain.Sequence{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, status, created_at, updated_at
		FROM sequences
		WHERE id = $1
	`, id).Scan(&s.ID, &s.WorkspaceID, &s.Name, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, enrollment.ErrSequenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence: %w", err)
	}
	return s, nil
}

func (r *SequenceRepo) Steps(ctx context.Context, sequenceID string) ([]domain.SequenceStep, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sequence_id, step_number, COALESCE(template_id,''),
		       subject_template, body_template, delay_days, COALESCE(variant,''),
		       created_at
		FROM sequence_steps
		WHERE sequence_id = $1
		ORDER BY step_number
	`, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("list sequence steps: %w", err)
	}
	defer rows.Close()

	var out []domain.SequenceStep
	for rows.Next() {
		var st domain.SequenceStep
		if err := rows.Scan(
			&st.ID, &st.SequenceID, &st.StepNumber, &st.TemplateID,
			&st.SubjectTemplate, &st.BodyTemplate, &st.DelayDays, &st.Variant,
			&st.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan sequence step: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
