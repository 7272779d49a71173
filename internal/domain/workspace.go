package domain

import "time"

// SendMode controls whether generated messages send immediately or wait for
// human approval.
type SendMode string

const (
	SendModeAuto     SendMode = "auto_send"
	SendModeApproval SendMode = "require_approval"
)

// WorkspaceSettings holds per-workspace engine configuration. A contact on
// the suppression list cannot be enrolled in any sequence until explicitly
// cleared.
type WorkspaceSettings struct {
	WorkspaceID string    `json:"workspace_id" db:"workspace_id"`
	SendMode    SendMode  `json:"send_mode" db:"send_mode"`
	FromName    string    `json:"from_name" db:"from_name"`
	FromEmail   string    `json:"from_email" db:"from_email"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
