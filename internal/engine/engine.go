// Package engine orchestrates one deal's period state machine: trigger
// calculation, fee accrual, rule resolution, waterfall execution and the
// explicit rollforward that freezes a period and seeds the next one.
package engine

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/waterfall-engine/internal/daycount"
	"github.com/sells-group/waterfall-engine/internal/errs"
	"github.com/sells-group/waterfall-engine/internal/fees"
	"github.com/sells-group/waterfall-engine/internal/ledger"
	"github.com/sells-group/waterfall-engine/internal/model"
	"github.com/sells-group/waterfall-engine/internal/rules"
	"github.com/sells-group/waterfall-engine/internal/triggers"
	"github.com/sells-group/waterfall-engine/internal/waterfall"
)

// PersistFunc is the single opaque side effect invoked when a period is
// rolled forward. The core performs no other I/O.
type PersistFunc func(*PeriodResult) error

// PeriodResult is everything one period produced: the execution record,
// the frozen trigger results and fee states, and the balances seeding
// the next period.
type PeriodResult struct {
	DealID    string               `json:"deal_id"`
	Period    int                  `json:"period"`
	Inputs    model.PeriodInputs   `json:"inputs"`
	Execution *waterfall.Execution `json:"execution"`
	Triggers  []triggers.Result    `json:"triggers"`
	Fees      []fees.State         `json:"fees"`
}

type carriedCure struct {
	interest  decimal.Decimal
	principal decimal.Decimal
}

// Engine owns the in-memory state for one deal instance. Instances share
// nothing; independent scenarios for the same deal each build their own.
type Engine struct {
	deal     *model.Deal
	ledger   *ledger.Ledger
	fees     map[string]*fees.Engine
	feeOrder []string
	triggers *triggers.Engine
	resolver *rules.Resolver
	strategy waterfall.Strategy
	calc     *waterfall.Calculator

	period  int
	carried map[string]carriedCure
	excess  map[string]carriedCure
	pending *PeriodResult
	persist PersistFunc
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithPersist installs the rollforward persistence callback.
func WithPersist(fn PersistFunc) Option {
	return func(e *Engine) { e.persist = fn }
}

// WithStrategy overrides the strategy the deal configuration selects.
func WithStrategy(s waterfall.Strategy) Option {
	return func(e *Engine) { e.strategy = s }
}

// New builds a fully wired engine for the deal. All configuration is
// threaded in here; there is no process-wide state.
func New(deal *model.Deal, opts ...Option) (*Engine, error) {
	if err := deal.Validate(); err != nil {
		return nil, err
	}

	lgr, err := ledger.New(deal.Accounts)
	if err != nil {
		return nil, err
	}

	resolver, err := rules.NewResolver(deal.Rules, deal.Modifications, deal.Overrides)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		deal:     deal,
		ledger:   lgr,
		fees:     make(map[string]*fees.Engine, len(deal.Fees)),
		triggers: triggers.NewEngine(deal),
		resolver: resolver,
		strategy: waterfall.ForDeal(deal),
		period:   1,
		carried:  make(map[string]carriedCure),
		excess:   make(map[string]carriedCure),
	}
	for _, def := range deal.Fees {
		if _, dup := e.fees[def.Name]; dup {
			return nil, errs.Configf("engine: duplicate fee %q", def.Name)
		}
		e.fees[def.Name] = fees.NewEngine(def, deal.OpeningCollateral.Decimal)
		e.feeOrder = append(e.feeOrder, def.Name)
	}

	for _, opt := range opts {
		opt(e)
	}

	e.calc = waterfall.NewCalculator(deal, lgr, e.fees, e.triggers, resolver, e.strategy)
	return e, nil
}

// Deal returns the deal the engine operates on.
func (e *Engine) Deal() *model.Deal { return e.deal }

// Ledger exposes the account ledger for inspection.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Triggers exposes the compliance test set.
func (e *Engine) Triggers() *triggers.Engine { return e.triggers }

// Period returns the current period cursor.
func (e *Engine) Period() int { return e.period }

// RunPeriod establishes the period state (trigger results, fee accruals)
// and executes the waterfall. The result stays pending until Rollforward
// freezes it; running a second period before that is a validation error.
func (e *Engine) RunPeriod(in model.PeriodInputs) (*PeriodResult, error) {
	if e.pending != nil {
		return nil, errs.Validationf("engine: deal %s: period %d not rolled forward", e.deal.ID, e.period)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	interestDue, err := e.interestDue(in)
	if err != nil {
		return nil, err
	}
	if err := e.calculateTriggers(in, interestDue); err != nil {
		return nil, err
	}
	if err := e.accrueFees(in); err != nil {
		return nil, err
	}

	exec, err := e.calc.Execute(in, interestDue)
	if err != nil {
		return nil, err
	}

	res := &PeriodResult{
		DealID:    e.deal.ID,
		Period:    e.period,
		Inputs:    in,
		Execution: exec,
		Triggers:  e.triggers.CurrentResults(),
	}
	for _, name := range e.feeOrder {
		res.Fees = append(res.Fees, *e.fees[name].Current())
	}

	zap.L().Info("period executed",
		zap.String("deal", e.deal.ID),
		zap.Int("period", e.period),
		zap.String("phase", string(exec.Phase)),
		zap.String("collections", exec.Collections.String()),
		zap.String("paid", exec.TotalPaid.String()),
		zap.String("deferred", exec.TotalDeferred.String()),
		zap.Bool("accelerated", exec.Accelerated),
	)

	e.pending = res
	return res, nil
}

// Rollforward freezes the pending period across every sub-engine,
// advances the period cursor and invokes the persistence callback.
func (e *Engine) Rollforward() (*PeriodResult, error) {
	if e.pending == nil {
		return nil, errs.Validationf("engine: deal %s: no period to roll forward", e.deal.ID)
	}
	res := e.pending

	frozen, err := e.triggers.Rollforward()
	if err != nil {
		return nil, err
	}
	res.Triggers = frozen
	e.carryForwardCures(frozen)

	res.Fees = res.Fees[:0]
	for _, name := range e.feeOrder {
		res.Fees = append(res.Fees, *e.fees[name].Rollforward())
	}

	e.period++
	e.pending = nil

	if e.persist != nil {
		if err := e.persist(res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// carryForwardCures records, per still-failing test, the cures applied
// this period so the next period nets them against its requirement. A
// passing test consumes its cures.
func (e *Engine) carryForwardCures(frozen []triggers.Result) {
	for _, r := range frozen {
		key := string(r.Kind) + ":" + r.Tranche
		if r.Pass {
			delete(e.carried, key)
			continue
		}
		ex := e.excess[key]
		e.carried[key] = carriedCure{
			interest:  r.PriorInterestCure.Add(r.InterestCurePaid).Add(ex.interest),
			principal: r.PriorPrincipalCure.Add(r.PrincipalCurePaid).Add(ex.principal),
		}
	}
}

// interestDue computes the period interest owed per tranche from the
// coupon, the period day-count fraction and the reference index, unless
// the inputs carry an explicit override.
func (e *Engine) interestDue(in model.PeriodInputs) (map[string]decimal.Decimal, error) {
	dcf, err := daycount.Fraction(e.deal.DayCount, in.PeriodStart, in.PeriodEnd)
	if err != nil {
		return nil, err
	}

	out := make(map[string]decimal.Decimal, len(e.deal.Tranches))
	for _, t := range e.deal.Tranches {
		if override, ok := in.InterestDue[t.ID]; ok {
			out[t.ID] = override.Decimal
			continue
		}
		rate := t.Coupon.EffectiveRate(in.IndexRate.Decimal)
		out[t.ID] = t.CurrentBalance.Mul(rate).Mul(dcf).Round(2)
	}
	return out, nil
}

// calculateTriggers runs every compliance test for the period and nets
// carried cures against the fresh requirements, interest cures first.
// Carry beyond the period's requirement is remembered so a still-failing
// test keeps it for the next period.
func (e *Engine) calculateTriggers(in model.PeriodInputs, interestDue map[string]decimal.Decimal) error {
	clear(e.excess)
	for _, t := range e.triggers.Tests() {
		var num, den decimal.Decimal
		switch t.Kind() {
		case triggers.OC:
			num = in.CollateralBalance.Decimal
			den, _ = e.liability(in, t.Tranche())
		case triggers.IC:
			num = in.InterestCollections.Decimal
			den = e.cumulativeInterestDue(t.Tranche(), interestDue)
		}
		if _, err := t.Calculate(num, den); err != nil {
			return err
		}

		key := string(t.Kind()) + ":" + t.Tranche()
		if carry, ok := e.carried[key]; ok {
			exInterest, err := t.AddPriorInterestCure(carry.interest)
			if err != nil {
				return err
			}
			exPrincipal, err := t.AddPriorPrincipalCure(carry.principal)
			if err != nil {
				return err
			}
			if exInterest.IsPositive() || exPrincipal.IsPositive() {
				e.excess[key] = carriedCure{interest: exInterest, principal: exPrincipal}
			}
		}
	}
	return nil
}

func (e *Engine) liability(in model.PeriodInputs, trancheID string) (decimal.Decimal, error) {
	if override, ok := in.Liability[trancheID]; ok {
		return override.Decimal, nil
	}
	return e.deal.Liability(trancheID)
}

// cumulativeInterestDue is the IC test denominator: interest owed on the
// tranche and every tranche senior to it.
func (e *Engine) cumulativeInterestDue(trancheID string, interestDue map[string]decimal.Decimal) decimal.Decimal {
	target, err := e.deal.Tranche(trancheID)
	if err != nil {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, t := range e.deal.Tranches {
		if t.Seniority <= target.Seniority {
			total = total.Add(interestDue[t.ID])
		}
	}
	return total
}

// accrueFees runs the period accrual for every fee using the collateral
// balance as the ending basis.
func (e *Engine) accrueFees(in model.PeriodInputs) error {
	for _, name := range e.feeOrder {
		if _, err := e.fees[name].Accrue(in.PeriodStart, in.PeriodEnd, in.CollateralBalance.Decimal, in.IndexRate.Decimal); err != nil {
			return err
		}
	}
	return nil
}
