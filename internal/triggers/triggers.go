// Package triggers implements the overcollateralization and interest
// coverage compliance tests and their cure-amount algebra.
package triggers

import (
	"github.com/shopspring/decimal"

	"github.com/sells-group/waterfall-engine/internal/errs"
)

// Kind distinguishes the two ratio tests.
type Kind string

const (
	OC Kind = "oc"
	IC Kind = "ic"
)

// ratioPrecision is the decimal precision the documents prescribe for
// the calculated ratio.
const ratioPrecision = 6

var one = decimal.NewFromInt(1)

// Result is one (tranche, period) test outcome. It is mutated only by
// cure payments and prior-cure registration until the period is rolled
// forward, then frozen.
type Result struct {
	Tranche             string          `json:"tranche"`
	Kind                Kind            `json:"kind"`
	Period              int             `json:"period"`
	Numerator           decimal.Decimal `json:"numerator"`
	Denominator         decimal.Decimal `json:"denominator"`
	Ratio               decimal.Decimal `json:"ratio"`
	Threshold           decimal.Decimal `json:"threshold"`
	Pass                bool            `json:"pass"`
	PriorInterestCure   decimal.Decimal `json:"prior_interest_cure"`
	PriorPrincipalCure  decimal.Decimal `json:"prior_principal_cure"`
	InterestCureNeeded  decimal.Decimal `json:"interest_cure_needed"`
	PrincipalCureNeeded decimal.Decimal `json:"principal_cure_needed"`
	InterestCurePaid    decimal.Decimal `json:"interest_cure_paid"`
	PrincipalCurePaid   decimal.Decimal `json:"principal_cure_paid"`
}

// Test tracks one ratio test for one tranche across periods. Results are
// kept per period; the cursor advances only on Rollforward.
type Test struct {
	tranche   string
	kind      Kind
	threshold decimal.Decimal
	period    int
	results   map[int]*Result
	cur       *Result
}

// NewOC builds an overcollateralization test for a tranche.
func NewOC(tranche string, threshold decimal.Decimal) *Test {
	return newTest(tranche, OC, threshold)
}

// NewIC builds an interest coverage test for a tranche.
func NewIC(tranche string, threshold decimal.Decimal) *Test {
	return newTest(tranche, IC, threshold)
}

func newTest(tranche string, kind Kind, threshold decimal.Decimal) *Test {
	return &Test{
		tranche:   tranche,
		kind:      kind,
		threshold: threshold,
		period:    1,
		results:   make(map[int]*Result),
	}
}

// Tranche returns the tranche the test belongs to.
func (t *Test) Tranche() string { return t.tranche }

// Kind returns the test kind.
func (t *Test) Kind() Kind { return t.kind }

// Calculate records the period's ratio and derives the cure requirements.
// A zero or negative denominator is an automatic pass with all cure
// amounts zero, by definition rather than by error.
func (t *Test) Calculate(numerator, denominator decimal.Decimal) (*Result, error) {
	if t.cur != nil {
		return nil, errs.Validationf("triggers: %s %s test already calculated for period %d", t.tranche, t.kind, t.period)
	}

	r := &Result{
		Tranche:     t.tranche,
		Kind:        t.kind,
		Period:      t.period,
		Numerator:   numerator,
		Denominator: denominator,
		Threshold:   t.threshold,
	}

	if !denominator.IsPositive() {
		r.Pass = true
		t.cur = r
		t.results[t.period] = r
		return r, nil
	}

	r.Ratio = numerator.Div(denominator).Round(ratioPrecision)
	r.Pass = r.Ratio.GreaterThanOrEqual(t.threshold)
	if !r.Pass {
		r.InterestCureNeeded, r.PrincipalCureNeeded = t.cureAmounts(numerator, denominator, r.Ratio)
	}

	t.cur = r
	t.results[t.period] = r
	return r, nil
}

// cureAmounts derives the cash needed to restore compliance.
//
// For OC: the interest cure is (1 - ratio/T) x denominator; the
// principal cure accounts for a principal payment shrinking both
// collateral use and liability, giving (T x den - num) / (T - 1). When
// T <= 1 that leverage effect vanishes and the principal cure equals the
// plain shortfall.
//
// For IC a cash cure only raises the numerator, so the requirement is
// the plain shortfall T x den - num and there is no separate principal
// requirement.
func (t *Test) cureAmounts(num, den, ratio decimal.Decimal) (interest, principal decimal.Decimal) {
	shortfall := t.threshold.Mul(den).Sub(num)

	if t.kind == IC {
		return clamp2(shortfall), decimal.Zero
	}

	interest = clamp2(one.Sub(ratio.Div(t.threshold)).Mul(den))
	if t.threshold.GreaterThan(one) {
		principal = clamp2(shortfall.Div(t.threshold.Sub(one)))
	} else {
		principal = clamp2(shortfall)
	}
	return interest, principal
}

func clamp2(d decimal.Decimal) decimal.Decimal {
	d = d.Round(2)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// InterestCureDue is the interest cure still owed this period after
// prior cures and payments.
func (t *Test) InterestCureDue() decimal.Decimal {
	if t.cur == nil {
		return decimal.Zero
	}
	r := t.cur
	due := r.InterestCureNeeded.Sub(r.PriorInterestCure).Sub(r.InterestCurePaid)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// PrincipalCureDue is the principal cure still owed. Paying (or carrying
// in) the full interest cure eliminates the principal requirement for
// the period.
func (t *Test) PrincipalCureDue() decimal.Decimal {
	if t.cur == nil {
		return decimal.Zero
	}
	r := t.cur
	if r.InterestCureNeeded.IsPositive() && t.InterestCureDue().IsZero() {
		return decimal.Zero
	}
	due := r.PrincipalCureNeeded.Sub(r.PriorPrincipalCure).Sub(r.PrincipalCurePaid)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// PayInterest applies a cash interest cure and returns the unused excess.
func (t *Test) PayInterest(amount decimal.Decimal) (decimal.Decimal, error) {
	if err := t.checkPayable(amount); err != nil {
		return decimal.Zero, err
	}
	applied := decimal.Min(amount, t.InterestCureDue())
	t.cur.InterestCurePaid = t.cur.InterestCurePaid.Add(applied)
	return amount.Sub(applied), nil
}

// PayPrincipal applies a cash principal cure and returns the unused
// excess.
func (t *Test) PayPrincipal(amount decimal.Decimal) (decimal.Decimal, error) {
	if err := t.checkPayable(amount); err != nil {
		return decimal.Zero, err
	}
	applied := decimal.Min(amount, t.PrincipalCureDue())
	t.cur.PrincipalCurePaid = t.cur.PrincipalCurePaid.Add(applied)
	return amount.Sub(applied), nil
}

// AddPriorInterestCure nets a cure carried from an earlier period against
// the current interest requirement and returns the unused excess.
func (t *Test) AddPriorInterestCure(amount decimal.Decimal) (decimal.Decimal, error) {
	if err := t.checkPayable(amount); err != nil {
		return decimal.Zero, err
	}
	applied := decimal.Min(amount, t.InterestCureDue())
	t.cur.PriorInterestCure = t.cur.PriorInterestCure.Add(applied)
	return amount.Sub(applied), nil
}

// AddPriorPrincipalCure nets a carried principal cure against the
// current principal requirement and returns the unused excess.
func (t *Test) AddPriorPrincipalCure(amount decimal.Decimal) (decimal.Decimal, error) {
	if err := t.checkPayable(amount); err != nil {
		return decimal.Zero, err
	}
	applied := decimal.Min(amount, t.PrincipalCureDue())
	t.cur.PriorPrincipalCure = t.cur.PriorPrincipalCure.Add(applied)
	return amount.Sub(applied), nil
}

func (t *Test) checkPayable(amount decimal.Decimal) error {
	if t.cur == nil {
		return errs.Validationf("triggers: %s %s test not calculated for period %d", t.tranche, t.kind, t.period)
	}
	if amount.IsNegative() {
		return errs.Validationf("triggers: %s %s test: negative cure amount %s", t.tranche, t.kind, amount)
	}
	return nil
}

// Current returns the in-progress period result, or nil before Calculate.
func (t *Test) Current() *Result { return t.cur }

// Result returns the record for a period, if it exists.
func (t *Test) Result(period int) (*Result, bool) {
	r, ok := t.results[period]
	return r, ok
}

// Rollforward freezes the period result and advances the cursor. It is a
// validation error to roll a period that was never calculated.
func (t *Test) Rollforward() (*Result, error) {
	if t.cur == nil {
		return nil, errs.Validationf("triggers: %s %s test: rollforward before calculate", t.tranche, t.kind)
	}
	frozen := t.cur
	t.period++
	t.cur = nil
	return frozen, nil
}
