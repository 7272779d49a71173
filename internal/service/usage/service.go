// Package usage meters billable events. Recording is fire-and-forget: a
// metering failure is logged and swallowed so it can never abort the
// send or classification that triggered it.
package usage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/pkg/logger"
)

// Store is the persistence contract for usage records.
type Store interface {
	Insert(ctx context.Context, r *domain.UsageRecord) error
	Summarize(ctx context.Context, workspaceID string, from, to time.Time) (*domain.UsageSummary, error)
}

// Meter records usage facts and serves read-time aggregation.
type Meter struct {
	store Store
}

func NewMeter(store Store) *Meter {
	return &Meter{store: store}
}

// Record writes one metering fact. Errors are logged, never returned.
func (m *Meter) Record(ctx context.Context, workspaceID string, t domain.UsageType, quantity int, metadata map[string]string) {
	if quantity <= 0 {
		quantity = 1
	}
	r := &domain.UsageRecord{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Type:        t,
		Quantity:    quantity,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.store.Insert(ctx, r); err != nil {
		logger.Warn("usage record dropped",
			"workspace", workspaceID,
			"type", string(t),
			"error", err.Error())
	}
}

// Summary aggregates a workspace's usage over [from, to).
func (m *Meter) Summary(ctx context.Context, workspaceID string, from, to time.Time) (*domain.UsageSummary, error) {
	return m.store.Summarize(ctx, workspaceID, from, to)
}
