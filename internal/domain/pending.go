package domain

import (
	"time"
)

// ReviewStatus enumerates the states of a pending email awaiting review.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// EditRecord captures one reviewer edit of a pending email. The edit history
// is a closed variant list, not a free-form blob; anything the engine never
// reads goes in PendingEmail.Extra.
type EditRecord struct {
	Actor  string    `json:"actor"`
	At     time.Time `json:"at"`
	Fields []string  `json:"fields"`
}

// PendingEmail is a generated-but-unsent message held for human approval.
// At most one exists per (enrollment, step); it leaves the pending status
// exactly once.
type PendingEmail struct {
	ID           string            `json:"id" db:"id"`
	WorkspaceID  string            `json:"workspace_id" db:"workspace_id"`
	EnrollmentID string            `json:"enrollment_id" db:"enrollment_id"`
	StepNumber   int               `json:"step_number" db:"step_number"`
	Subject      string            `json:"subject" db:"subject"`
	Body         string            `json:"body" db:"body"`
	Status       ReviewStatus      `json:"status" db:"status"`
	ReviewedAt   *time.Time        `json:"reviewed_at" db:"reviewed_at"`
	ReviewedBy   string            `json:"reviewed_by" db:"reviewed_by"`
	Edits        []EditRecord      `json:"edits,omitempty" db:"edits"`
	Extra        map[string]string `json:"extra,omitempty" db:"extra"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
}
