package domain

import (
	"time"
)

// EnrollmentStatus enumerates the states of the enrollment state machine.
type EnrollmentStatus string

const (
	EnrollmentActive       EnrollmentStatus = "active"
	EnrollmentPaused       EnrollmentStatus = "paused"
	EnrollmentCompleted    EnrollmentStatus = "completed"
	EnrollmentReplied      EnrollmentStatus = "replied"
	EnrollmentBounced      EnrollmentStatus = "bounced"
	EnrollmentUnsubscribed EnrollmentStatus = "unsubscribed"
)

// Terminal reports whether no further automatic progress occurs from this
// status. Only active and paused enrollments are resumable.
func (s EnrollmentStatus) Terminal() bool {
	switch s {
	case EnrollmentCompleted, EnrollmentReplied, EnrollmentBounced, EnrollmentUnsubscribed:
		return true
	}
	return false
}

// Enrollment is one contact's live progress through one sequence. The row is
// the unit of contention: every transition is an atomic read-modify-write
// guarded by Version.
type Enrollment struct {
	ID           string           `json:"id" db:"id"`
	WorkspaceID  string           `json:"workspace_id" db:"workspace_id"`
	SequenceID   string           `json:"sequence_id" db:"sequence_id"`
	ContactID    string           `json:"contact_id" db:"contact_id"`
	ContactEmail string           `json:"contact_email" db:"contact_email"`
	CurrentStep  int              `json:"current_step" db:"current_step"`
	Status       EnrollmentStatus `json:"status" db:"status"`
	ReviewFlag   bool             `json:"review_flag" db:"review_flag"`
	EnrolledAt   time.Time        `json:"enrolled_at" db:"enrolled_at"`
	NextSendAt   *time.Time       `json:"next_send_at" db:"next_send_at"`
	Version      int              `json:"version" db:"version"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}

// Due reports whether the enrollment's current step should be dispatched at
// the given time. Paused and terminal enrollments are never due.
func (e *Enrollment) Due(now time.Time) bool {
	if e.Status != EnrollmentActive {
		return false
	}
	if e.NextSendAt == nil {
		return true
	}
	return !e.NextSendAt.After(now)
}
