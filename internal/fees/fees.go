// Package fees computes accrued, paid and unpaid fee balances period by
// period under beginning, average and fixed bases.
package fees

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/waterfall-engine/internal/daycount"
	"github.com/sells-group/waterfall-engine/internal/errs"
	"github.com/sells-group/waterfall-engine/internal/model"
)

// State is the frozen record of one fee for one period. The balance
// identity Ending = Beginning + Accrued - Paid holds for every period,
// and the next period opens with this period's ending unpaid balance.
type State struct {
	Fee             string          `json:"fee"`
	Period          int             `json:"period"`
	BasisUsed       decimal.Decimal `json:"basis_used"`
	BeginningUnpaid decimal.Decimal `json:"beginning_unpaid"`
	Accrued         decimal.Decimal `json:"accrued"`
	Paid            decimal.Decimal `json:"paid"`
	EndingUnpaid    decimal.Decimal `json:"ending_unpaid"`
	// Calculated distinguishes "zero due because the basis collapsed"
	// from a genuine zero accrual.
	Calculated bool `json:"calculated"`
}

// Engine accrues and settles a single fee across periods. One engine per
// fee definition; the period cursor advances only on Rollforward.
type Engine struct {
	def            model.FeeDef
	period         int
	beginningBasis decimal.Decimal
	endingBasis    decimal.Decimal
	states         map[int]*State
	cur            *State
}

// NewEngine builds a fee engine with the opening basis and any unpaid
// balance carried in from before the engine took over the deal.
func NewEngine(def model.FeeDef, openingBasis decimal.Decimal) *Engine {
	e := &Engine{
		def:            def,
		period:         1,
		beginningBasis: openingBasis,
		states:         make(map[int]*State),
	}
	e.cur = &State{
		Fee:             def.Name,
		Period:          1,
		BeginningUnpaid: def.OpeningUnpaid.Decimal,
	}
	e.states[1] = e.cur
	return e
}

// Name returns the fee name.
func (e *Engine) Name() string { return e.def.Name }

// Accrue computes the period's accrual and returns the accrued amount.
// endingBasis is the basis value at period end; indexRate is the
// reference fixing used for interest on unpaid fee balances.
//
// For beginning/average fees a collapsed (zero) ending basis accrues
// nothing and the period is marked not calculated.
func (e *Engine) Accrue(periodStart, periodEnd time.Time, endingBasis, indexRate decimal.Decimal) (decimal.Decimal, error) {
	if endingBasis.IsNegative() {
		return decimal.Zero, errs.Validationf("fees: %s: negative ending basis %s", e.def.Name, endingBasis)
	}

	dcf, err := daycount.Fraction(e.def.DayCount, periodStart, periodEnd)
	if err != nil {
		return decimal.Zero, err
	}
	e.endingBasis = endingBasis

	var basis decimal.Decimal
	switch e.def.Basis {
	case model.BasisBeginning:
		basis = e.beginningBasis
	case model.BasisAverage:
		basis = e.beginningBasis.Add(endingBasis).Div(decimal.NewFromInt(2))
	case model.BasisFixed:
		basis = decimal.Zero
	default:
		return decimal.Zero, errs.Configf("fees: %s: unknown basis %q", e.def.Name, e.def.Basis)
	}

	if e.def.Basis != model.BasisFixed && endingBasis.IsZero() {
		e.cur.BasisUsed = decimal.Zero
		e.cur.Accrued = decimal.Zero
		e.cur.Calculated = false
		return decimal.Zero, nil
	}

	accrued := basis.Mul(e.def.AnnualRate.Decimal).Mul(dcf)
	if e.def.FixedAnnual.IsPositive() {
		accrued = accrued.Add(e.def.FixedAnnual.Mul(dcf))
	}
	if e.def.InterestOnUnpaid && e.cur.BeginningUnpaid.IsPositive() {
		carry := indexRate.Add(e.def.UnpaidSpread.Decimal)
		accrued = accrued.Add(e.cur.BeginningUnpaid.Mul(carry).Mul(dcf))
	}
	accrued = accrued.Round(2)

	e.cur.BasisUsed = basis
	e.cur.Accrued = accrued
	e.cur.Calculated = true
	return accrued, nil
}

// Due is the amount owed this period: the carried unpaid balance plus the
// period accrual, net of payments already applied.
func (e *Engine) Due() decimal.Decimal {
	due := e.cur.BeginningUnpaid.Add(e.cur.Accrued).Sub(e.cur.Paid)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// Pay applies a payment and returns any excess over the amount due for
// use elsewhere in the same waterfall run.
func (e *Engine) Pay(amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, errs.Validationf("fees: %s: negative payment %s", e.def.Name, amount)
	}
	due := e.Due()
	applied := decimal.Min(amount, due)
	e.cur.Paid = e.cur.Paid.Add(applied)
	return amount.Sub(applied), nil
}

// Rollforward freezes the period state, seeds the next period's beginning
// balances and advances the cursor. It returns the frozen state.
func (e *Engine) Rollforward() *State {
	e.cur.EndingUnpaid = e.cur.BeginningUnpaid.Add(e.cur.Accrued).Sub(e.cur.Paid)
	frozen := e.cur

	e.period++
	e.beginningBasis = e.endingBasis
	e.cur = &State{
		Fee:             e.def.Name,
		Period:          e.period,
		BeginningUnpaid: frozen.EndingUnpaid,
	}
	e.states[e.period] = e.cur
	return frozen
}

// State returns the record for a period, if it exists.
func (e *Engine) State(period int) (*State, bool) {
	s, ok := e.states[period]
	return s, ok
}

// Current returns the in-progress period state.
func (e *Engine) Current() *State { return e.cur }
