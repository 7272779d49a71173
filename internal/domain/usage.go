package domain

import (
	"time"
)

// UsageType enumerates the billable event kinds.
type UsageType string

const (
	UsageGeneration     UsageType = "generation"
	UsageSend           UsageType = "send"
	UsageClassification UsageType = "classification"
)

// UsageRecord is an append-only metering fact. Records are never updated;
// billing aggregates them at read time.
type UsageRecord struct {
	ID          string            `json:"id" db:"id"`
	WorkspaceID string            `json:"workspace_id" db:"workspace_id"`
	Type        UsageType         `json:"type" db:"type"`
	Quantity    int               `json:"quantity" db:"quantity"`
	Metadata    map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}

// UsageSummary is the read-time aggregation over a window.
type UsageSummary struct {
	WorkspaceID string            `json:"workspace_id"`
	From        time.Time         `json:"from"`
	To          time.Time         `json:"to"`
	ByType      map[UsageType]int `json:"by_type"`
	Total       int               `json:"total"`
}
