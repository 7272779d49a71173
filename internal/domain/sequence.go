package domain

import (
	"time"
)

// SequenceStatus enumerates the lifecycle states of a sequence.
type SequenceStatus string

const (
	SequenceDraft     SequenceStatus = "draft"
	SequenceActive    SequenceStatus = "active"
	SequencePaused    SequenceStatus = "paused"
	SequenceCompleted SequenceStatus = "completed"
)

// Sequence is a reusable, ordered campaign template of steps. Steps become
// immutable once any enrollment has started executing them; edits create a
// new step rather than rewriting a consumed one.
type Sequence struct {
	ID          string         `json:"id" db:"id"`
	WorkspaceID string         `json:"workspace_id" db:"workspace_id"`
	Name        string         `json:"name" db:"name"`
	Status      SequenceStatus `json:"status" db:"status"`
	Steps       []SequenceStep `json:"steps,omitempty" db:"-"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the sequence accepts enrollments and sends.
func (s *Sequence) IsActive() bool { return s.Status == SequenceActive }

// SequenceStep is one templated message at a fixed, 1-based position in a
// sequence, with a delay in days before it becomes due.
type SequenceStep struct {
	ID              string    `json:"id" db:"id"`
	SequenceID      string    `json:"sequence_id" db:"sequence_id"`
	StepNumber      int       `json:"step_number" db:"step_number"`
	TemplateID      string    `json:"template_id" db:"template_id"`
	SubjectTemplate string    `json:"subject_template" db:"subject_template"`
	BodyTemplate    string    `json:"body_template" db:"body_template"`
	DelayDays       int       `json:"delay_days" db:"delay_days"`
	Variant         string    `json:"variant,omitempty" db:"variant"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Validate checks the step invariants: 1-based numbering, non-negative delay.
func (st *SequenceStep) Validate() error {
	if st.StepNumber < 1 {
		return ErrStepNumberInvalid
	}
	if st.DelayDays < 0 {
		return ErrDelayNegative
	}
	return nil
}
