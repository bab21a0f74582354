// Package store persists the engine's period outputs. It is the
// external persistence collaborator: the core engine reaches it only
// through the rollforward callback.
package store

import (
	"context"
	"time"

	"github.com/sells-group/waterfall-engine/internal/engine"
)

// ExecutionSummary is one row of an execution listing.
type ExecutionSummary struct {
	ID            string    `json:"id"`
	DealID        string    `json:"deal_id"`
	Period        int       `json:"period"`
	PaymentDate   time.Time `json:"payment_date"`
	Phase         string    `json:"phase"`
	Collections   string    `json:"collections"`
	TotalPaid     string    `json:"total_paid"`
	TotalDeferred string    `json:"total_deferred"`
	Accelerated   bool      `json:"accelerated"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store is the persistence interface for period results.
type Store interface {
	SavePeriod(ctx context.Context, res *engine.PeriodResult) error
	ListExecutions(ctx context.Context, dealID string, limit int) ([]ExecutionSummary, error)
	GetPeriod(ctx context.Context, executionID string) (*engine.PeriodResult, error)

	Migrate(ctx context.Context) error
	Close() error
}
