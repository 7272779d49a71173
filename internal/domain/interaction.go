package domain

import (
	"time"
)

// InteractionType enumerates the kinds of recorded events.
type InteractionType string

const (
	InteractionEmailSent     InteractionType = "email_sent"
	InteractionEmailReceived InteractionType = "email_received"
	InteractionEmailBounced  InteractionType = "email_bounced"
	InteractionUnsubscribe   InteractionType = "unsubscribe"
)

// Interaction is an immutable record of something that happened: the
// append-only audit log the reply router and dispatch worker write to and
// the state machine reads from to avoid duplicate processing.
//
// ProcessedAt is the router's idempotency marker: an inbound interaction is
// claimed once, and redelivered events observe the claim and no-op.
type Interaction struct {
	ID           string            `json:"id" db:"id"`
	WorkspaceID  string            `json:"workspace_id" db:"workspace_id"`
	EnrollmentID string            `json:"enrollment_id,omitempty" db:"enrollment_id"`
	SequenceID   string            `json:"sequence_id,omitempty" db:"sequence_id"`
	ContactID    string            `json:"contact_id" db:"contact_id"`
	StepNumber   int               `json:"step_number,omitempty" db:"step_number"`
	Type         InteractionType   `json:"type" db:"type"`
	Subject      string            `json:"subject,omitempty" db:"subject"`
	Body         string            `json:"body,omitempty" db:"body"`
	Metadata     map[string]string `json:"metadata,omitempty" db:"metadata"`
	ProcessedAt  *time.Time        `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
}
