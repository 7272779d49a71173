package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cadencehq/cadence/internal/domain"
)

// SettingsRepo implements the workspace settings and contact suppression
// stores. A workspace without an explicit settings row gets the
// configured default send mode.
type SettingsRepo struct {
	db          *sql.DB
	defaultMode domain.SendMode
}

func NewSettingsRepo(db *sql.DB, defaultMode domain.SendMode) *SettingsRepo {
	if defaultMode == "" {
		defaultMode = domain.SendModeApproval
	}
	return &SettingsRepo{db: db, defaultMode: defaultMode}
}

func (r *SettingsRepo) Get(ctx context.Context, workspaceID string) (*domain.WorkspaceSettings, error) {
	s := &domain.WorkspaceSettings{}
	err := r.db.QueryRowContext(ctx, `
		SELECT workspace_id, send_mode, COALESCE(from_name,''), COALESCE(from_email,''), updated_at
		FROM workspace_settings
		WHERE workspace_id = $1
	`, workspaceID).Scan(&s.WorkspaceID, &s.SendMode, &s.FromName, &s.FromEmail, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return &domain.WorkspaceSettings{WorkspaceID: workspaceID, SendMode: r.defaultMode}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workspace settings: %w", err)
	}
	return s, nil
}

func (r *SettingsRepo) IsContactSuppressed(ctx context.Context, workspaceID, contactID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM suppressed_contacts
			WHERE workspace_id = $1 AND contact_id = $2
		)
	`, workspaceID, contactID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check suppression: %w", err)
	}
	return exists, nil
}

func (r *SettingsRepo) SuppressContact(ctx context.Context, workspaceID, contactID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO suppressed_contacts (workspace_id, contact_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (workspace_id, contact_id) DO NOTHING
	`, workspaceID, contactID)
	if err != nil {
		return fmt.Errorf("suppress contact: %w", err)
	}
	return nil
}
