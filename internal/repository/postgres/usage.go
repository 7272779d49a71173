package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cadencehq/cadence/internal/domain"
)

// UsageRepo implements usage.Store against PostgreSQL.
type UsageRepo struct{ db *sql.DB }

func NewUsageRepo(db *sql.DB) *UsageRepo { return &UsageRepo{db: db} }

func (r *UsageRepo) Insert(ctx context.Context, rec *domain.UsageRecord) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode usage metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO usage_records (id, workspace_id, type, quantity, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.WorkspaceID, rec.Type, rec.Quantity, metadata, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

func (r *UsageRepo) Summarize(ctx context.Context, workspaceID string, from, to time.Time) (*domain.UsageSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT type, SUM(quantity)
		FROM usage_records
		WHERE workspace_id = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY type
	`, workspaceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("summarize usage: %w", err)
	}
	defer rows.Close()

	s := &domain.UsageSummary{
		WorkspaceID: workspaceID,
		From:        from,
		To:          to,
		ByType:      make(map[domain.UsageType]int),
	}
	for rows.Next() {
		var t domain.UsageType
		var n sql.NullInt64
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		s.ByType[t] = int(n.Int64)
		s.Total += int(n.Int64)
	}
	return s, rows.Err()
}
