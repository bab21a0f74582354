package model

import (
	"time"

	"github.com/sells-group/waterfall-engine/internal/errs"
)

// PeriodInputs are the per-period numbers supplied by the upstream
// projection service: collected cash split by type, the collateral
// balance backing the OC tests, interest figures for the IC tests and the
// reference index fixing for floating coupons and interest-on-fee.
type PeriodInputs struct {
	PaymentDate          time.Time `yaml:"payment_date" json:"payment_date"`
	PeriodStart          time.Time `yaml:"period_start" json:"period_start"`
	PeriodEnd            time.Time `yaml:"period_end" json:"period_end"`
	InterestCollections  Decimal   `yaml:"interest_collections" json:"interest_collections"`
	PrincipalCollections Decimal   `yaml:"principal_collections" json:"principal_collections"`
	CollateralBalance    Decimal   `yaml:"collateral_balance" json:"collateral_balance"`
	IndexRate            Decimal   `yaml:"index_rate,omitempty" json:"index_rate,omitempty"`
	// Optional per-tranche overrides. When absent the engine computes
	// interest due from the coupon and liability from note balances.
	InterestDue map[string]Decimal `yaml:"interest_due,omitempty" json:"interest_due,omitempty"`
	Liability   map[string]Decimal `yaml:"liability,omitempty" json:"liability,omitempty"`
}

// Collections returns total available cash for the period.
func (p PeriodInputs) Collections() Decimal {
	return Dec(p.InterestCollections.Add(p.PrincipalCollections.Decimal))
}

// Validate rejects inconsistent period inputs before any state is touched.
func (p PeriodInputs) Validate() error {
	if p.PaymentDate.IsZero() {
		return errs.Validationf("model: period inputs: payment date is required")
	}
	if p.PeriodEnd.Before(p.PeriodStart) {
		return errs.Validationf("model: period inputs: period end before start")
	}
	if p.InterestCollections.IsNegative() {
		return errs.Validationf("model: period inputs: negative interest collections")
	}
	if p.PrincipalCollections.IsNegative() {
		return errs.Validationf("model: period inputs: negative principal collections")
	}
	if p.CollateralBalance.IsNegative() {
		return errs.Validationf("model: period inputs: negative collateral balance")
	}
	for id, due := range p.InterestDue {
		if due.IsNegative() {
			return errs.Validationf("model: period inputs: negative interest due for tranche %q", id)
		}
	}
	return nil
}

// Scenario scales one set of period inputs for a what-if run. Scales
// default to 1 and the index shift to 0.
type Scenario struct {
	Name           string   `yaml:"name" json:"name"`
	InterestScale  *Decimal `yaml:"interest_scale,omitempty" json:"interest_scale,omitempty"`
	PrincipalScale *Decimal `yaml:"principal_scale,omitempty" json:"principal_scale,omitempty"`
	IndexShift     Decimal  `yaml:"index_shift,omitempty" json:"index_shift,omitempty"`
}

// Apply returns a copy of in with the scenario's scaling applied.
func (s Scenario) Apply(in PeriodInputs) PeriodInputs {
	out := in
	if s.InterestScale != nil {
		out.InterestCollections = Dec(in.InterestCollections.Mul(s.InterestScale.Decimal))
	}
	if s.PrincipalScale != nil {
		out.PrincipalCollections = Dec(in.PrincipalCollections.Mul(s.PrincipalScale.Decimal))
	}
	out.IndexRate = Dec(in.IndexRate.Add(s.IndexShift.Decimal))
	return out
}
