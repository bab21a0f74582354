// Package waterfall walks the resolved payment sequence for a payment
// date, debiting available cash step by step and recording the outcome.
package waterfall

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sells-group/waterfall-engine/internal/model"
)

// PaymentRecord is the immutable outcome of one step of one execution.
// Due is what the resolved rule asked for, Paid is the cash actually
// moved, Deferred is the cash shortfall and Capitalized is the portion
// PIK'd into the target tranche's balance instead of being deferred.
type PaymentRecord struct {
	Step              string          `json:"step"`
	Sequence          int             `json:"sequence"`
	Kind              model.StepKind  `json:"kind"`
	Target            string          `json:"target,omitempty"`
	AmountDue         decimal.Decimal `json:"amount_due"`
	AmountPaid        decimal.Decimal `json:"amount_paid"`
	AmountDeferred    decimal.Decimal `json:"amount_deferred"`
	AmountCapitalized decimal.Decimal `json:"amount_capitalized"`
	Skipped           bool            `json:"skipped,omitempty"`
	RemainingCash     decimal.Decimal `json:"remaining_cash"`
}

// Execution is the append-only record of one waterfall run for one
// (deal, payment date). It is never mutated after Execute returns.
type Execution struct {
	ID                   uuid.UUID                  `json:"id"`
	DealID               string                     `json:"deal_id"`
	PaymentDate          time.Time                  `json:"payment_date"`
	Phase                model.Phase                `json:"phase"`
	Strategy             string                     `json:"strategy"`
	InterestCollections  decimal.Decimal            `json:"interest_collections"`
	PrincipalCollections decimal.Decimal            `json:"principal_collections"`
	Collections          decimal.Decimal            `json:"collections"`
	Records              []PaymentRecord            `json:"records"`
	Accelerated          bool                       `json:"accelerated,omitempty"`
	AcceleratedAt        string                     `json:"accelerated_at,omitempty"`
	TotalPaid            decimal.Decimal            `json:"total_paid"`
	TotalDeferred        decimal.Decimal            `json:"total_deferred"`
	TotalCapitalized     decimal.Decimal            `json:"total_capitalized"`
	TrancheBalances      map[string]decimal.Decimal `json:"tranche_balances"`
	AccountBalances      map[string]decimal.Decimal `json:"account_balances"`
	CreatedAt            time.Time                  `json:"created_at"`
}

// PrincipalPaid sums cash applied to principal paydown across all steps,
// including cures and an acceleration sweep.
func (e *Execution) PrincipalPaid() decimal.Decimal {
	total := decimal.Zero
	for _, r := range e.Records {
		switch r.Kind {
		case model.StepPrincipal, model.StepInterestCure, model.StepPrincipalCure:
			total = total.Add(r.AmountPaid)
		}
	}
	return total
}
