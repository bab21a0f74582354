package waterfall

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/waterfall-engine/internal/errs"
	"github.com/sells-group/waterfall-engine/internal/fees"
	"github.com/sells-group/waterfall-engine/internal/ledger"
	"github.com/sells-group/waterfall-engine/internal/model"
	"github.com/sells-group/waterfall-engine/internal/rules"
	"github.com/sells-group/waterfall-engine/internal/triggers"
)

// Calculator drives one waterfall execution for one payment date. It
// consults the ledger for running balances and commits each step's cash
// debit before the next step begins. One calculator processes one
// (deal, payment date) at a time; independent scenarios get independent
// instances.
type Calculator struct {
	deal     *model.Deal
	ledger   *ledger.Ledger
	fees     map[string]*fees.Engine
	triggers *triggers.Engine
	resolver *rules.Resolver
	strategy Strategy
}

// NewCalculator wires the period collaborators together.
func NewCalculator(deal *model.Deal, lgr *ledger.Ledger, feeEngines map[string]*fees.Engine, trig *triggers.Engine, resolver *rules.Resolver, strategy Strategy) *Calculator {
	return &Calculator{
		deal:     deal,
		ledger:   lgr,
		fees:     feeEngines,
		triggers: trig,
		resolver: resolver,
		strategy: strategy,
	}
}

// Execute runs the waterfall for the period. interestDue carries the
// period interest owed per tranche, established before the run.
// Insufficient cash is never an error: shortfalls become deferrals (or
// capitalizations), and a failing test may accelerate the structure.
func (c *Calculator) Execute(in model.PeriodInputs, interestDue map[string]decimal.Decimal) (*Execution, error) {
	phase := c.deal.PhaseOn(in.PaymentDate)

	exec := &Execution{
		ID:                   uuid.New(),
		DealID:               c.deal.ID,
		PaymentDate:          in.PaymentDate,
		Phase:                phase,
		Strategy:             c.strategy.Name(),
		InterestCollections:  in.InterestCollections.Decimal,
		PrincipalCollections: in.PrincipalCollections.Decimal,
		Collections:          in.Collections().Decimal,
		CreatedAt:            time.Now().UTC(),
	}

	if phase == model.PhaseTerminated {
		c.snapshot(exec)
		return exec, nil
	}

	collectionAcct := c.ledger.ByType(model.AccountCollection)
	if collectionAcct == nil {
		return nil, errs.Configf("waterfall: deal %s has no collection account", c.deal.ID)
	}
	if _, err := c.ledger.Credit(collectionAcct.Name, model.CashInterest, in.InterestCollections.Decimal, "servicer", "period interest collections"); err != nil {
		return nil, err
	}
	if _, err := c.ledger.Credit(collectionAcct.Name, model.CashPrincipal, in.PrincipalCollections.Decimal, "servicer", "period principal collections"); err != nil {
		return nil, err
	}

	failing := c.triggers.AnyFailing()
	flags := c.conditionFlags(phase)

	ruleSeq, err := c.resolver.Sequence(in.PaymentDate)
	if err != nil {
		return nil, err
	}
	seq := c.strategy.Sequence(phase, ruleSeq, failing)

	run := &runState{
		in:          in,
		phase:       phase,
		failing:     failing,
		flags:       flags,
		interestDue: interestDue,
		available:   in.Collections().Decimal,
		collection:  collectionAcct,
	}

	for i := 0; i < len(seq); i++ {
		rule := seq[i]
		if run.consumedSteps[rule.Step] {
			continue
		}

		if run.accelerated {
			exec.Records = append(exec.Records, PaymentRecord{
				Step:          rule.Step,
				Sequence:      rule.Sequence,
				Kind:          rule.Kind,
				Target:        rule.Target,
				Skipped:       true,
				RemainingCash: run.available,
			})
			continue
		}

		if c.deal.Features.FeeSharing && rule.ShareGroup != "" {
			if err := c.executeShareGroup(run, seq[i:], rule.ShareGroup, exec); err != nil {
				return nil, err
			}
			continue
		}

		record, err := c.executeStep(run, rule)
		if err != nil {
			return nil, err
		}
		exec.Records = append(exec.Records, record)

		// A cure requirement the waterfall could not meet forces all
		// remaining cash into the senior-most tranche and skips every
		// junior step.
		if c.deal.Features.Acceleration && isCure(rule.Kind) && record.AmountDeferred.IsPositive() {
			sweep := c.accelerate(run)
			if sweep != nil {
				exec.Records = append(exec.Records, *sweep)
				exec.Accelerated = true
				exec.AcceleratedAt = rule.Step
				zap.L().Warn("waterfall accelerated",
					zap.String("deal", c.deal.ID),
					zap.String("after_step", rule.Step),
					zap.String("unmet_cure", record.AmountDeferred.String()),
				)
			}
		}
	}

	for _, r := range exec.Records {
		exec.TotalPaid = exec.TotalPaid.Add(r.AmountPaid)
		exec.TotalDeferred = exec.TotalDeferred.Add(r.AmountDeferred)
		exec.TotalCapitalized = exec.TotalCapitalized.Add(r.AmountCapitalized)
	}
	c.snapshot(exec)
	return exec, nil
}

// runState is the mutable cursor of one execution.
type runState struct {
	in            model.PeriodInputs
	phase         model.Phase
	failing       bool
	flags         map[string]bool
	interestDue   map[string]decimal.Decimal
	available     decimal.Decimal
	collection    *ledger.Account
	accelerated   bool
	consumedSteps map[string]bool
}

func isCure(k model.StepKind) bool {
	return k == model.StepInterestCure || k == model.StepPrincipalCure
}

// executeStep computes the step's amount due, pays what cash allows and
// commits the debit.
func (c *Calculator) executeStep(run *runState, rule model.Rule) (PaymentRecord, error) {
	record := PaymentRecord{
		Step:     rule.Step,
		Sequence: rule.Sequence,
		Kind:     rule.Kind,
		Target:   rule.Target,
	}

	applies, err := rules.EvalPredicate(rule, run.flags)
	if err != nil {
		return record, err
	}
	if !applies {
		record.Skipped = true
		record.RemainingCash = run.available
		return record, nil
	}

	due, err := c.amountDue(run, rule)
	if err != nil {
		return record, err
	}
	record.AmountDue = due

	pay := decimal.Min(due, run.available)
	if rule.Cap != nil {
		pay = decimal.Min(pay, rule.Cap.Decimal)
	}

	paid, capitalized, err := c.settle(run, rule, pay)
	if err != nil {
		return record, err
	}

	record.AmountPaid = paid
	record.AmountCapitalized = capitalized
	record.AmountDeferred = due.Sub(paid).Sub(capitalized)
	if record.AmountDeferred.IsNegative() {
		record.AmountDeferred = decimal.Zero
	}
	run.available = run.available.Sub(paid)
	record.RemainingCash = run.available
	return record, nil
}

// amountDue resolves the step's amount: the formula when one is
// configured, otherwise the step kind's built-in computation.
func (c *Calculator) amountDue(run *runState, rule model.Rule) (decimal.Decimal, error) {
	if rule.Formula != "" {
		return c.resolver.Eval(rule.Formula, c.formulaEnv(run))
	}

	switch rule.Kind {
	case model.StepSeniorFee, model.StepJuniorFee:
		eng, ok := c.fees[rule.Target]
		if !ok {
			return decimal.Zero, errs.Configf("waterfall: step %q targets unknown fee %q", rule.Step, rule.Target)
		}
		return eng.Due(), nil

	case model.StepInterest:
		due, ok := run.interestDue[rule.Target]
		if !ok {
			return decimal.Zero, errs.Validationf("waterfall: step %q: no interest due computed for tranche %q", rule.Step, rule.Target)
		}
		return due, nil

	case model.StepPrincipal:
		t, err := c.deal.Tranche(rule.Target)
		if err != nil {
			return decimal.Zero, err
		}
		if c.strategy.TurboPrincipal(run.failing) {
			return t.CurrentBalance.Decimal, nil
		}
		switch run.phase {
		case model.PhaseAmortization, model.PhaseCallPeriod:
			return t.CurrentBalance.Decimal, nil
		default:
			// Principal is reinvested, not repaid, before amortization.
			return decimal.Zero, nil
		}

	case model.StepInterestCure:
		return c.cureDue(rule.Target, model.CashInterest)

	case model.StepPrincipalCure:
		return c.cureDue(rule.Target, model.CashPrincipal)

	case model.StepReinvestment:
		if run.phase == model.PhaseReinvestment && c.deal.Features.ReinvestmentOverlay {
			return decimal.Min(run.in.PrincipalCollections.Decimal, run.available), nil
		}
		return decimal.Zero, nil

	case model.StepResidual:
		return run.available, nil

	default:
		return decimal.Zero, errs.Configf("waterfall: step %q has unknown kind %q", rule.Step, rule.Kind)
	}
}

func (c *Calculator) cureDue(tranche string, ct model.CashType) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, t := range c.triggers.Tests() {
		if t.Tranche() != tranche {
			continue
		}
		if ct == model.CashInterest {
			total = total.Add(t.InterestCureDue())
		} else {
			total = total.Add(t.PrincipalCureDue())
		}
	}
	return total, nil
}

// settle commits a step's cash movement and returns (paid, capitalized).
func (c *Calculator) settle(run *runState, rule model.Rule, pay decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	zero := decimal.Zero

	switch rule.Kind {
	case model.StepSeniorFee, model.StepJuniorFee:
		eng := c.fees[rule.Target]
		unused, err := eng.Pay(pay)
		if err != nil {
			return zero, zero, err
		}
		consumed := pay.Sub(unused)
		if err := c.debit(run, rule, consumed, rule.Target, "fee payment"); err != nil {
			return zero, zero, err
		}
		if acct := c.targetAccount(rule, model.AccountExpense); acct != nil {
			if err := acct.Add(cashTypeFor(rule, model.CashInterest), consumed); err != nil {
				return zero, zero, err
			}
		}
		return consumed, zero, nil

	case model.StepInterest:
		t, err := c.deal.Tranche(rule.Target)
		if err != nil {
			return zero, zero, err
		}
		due, _ := run.interestDue[rule.Target]
		shortfall := due.Sub(pay)
		var capitalized decimal.Decimal
		if shortfall.IsPositive() && c.strategy.Capitalize(t) {
			t.Capitalize(shortfall)
			capitalized = shortfall
		}
		if err := c.debit(run, rule, pay, rule.Target, "interest distribution"); err != nil {
			return zero, zero, err
		}
		return pay, capitalized, nil

	case model.StepPrincipal:
		t, err := c.deal.Tranche(rule.Target)
		if err != nil {
			return zero, zero, err
		}
		applied := t.PayPrincipal(pay)
		if err := c.debit(run, rule, applied, rule.Target, "principal distribution"); err != nil {
			return zero, zero, err
		}
		return applied, zero, nil

	case model.StepInterestCure, model.StepPrincipalCure:
		consumed, err := c.settleCure(rule, pay)
		if err != nil {
			return zero, zero, err
		}
		if err := c.debit(run, rule, consumed, rule.Target, "compliance cure"); err != nil {
			return zero, zero, err
		}
		return consumed, zero, nil

	case model.StepReinvestment:
		acct := c.targetAccount(rule, model.AccountReinvestment)
		if acct == nil {
			return zero, zero, errs.Configf("waterfall: step %q: no reinvestment account", rule.Step)
		}
		if err := c.debit(run, rule, pay, acct.Name, "reinvestment transfer"); err != nil {
			return zero, zero, err
		}
		if err := acct.Add(model.CashPrincipal, pay); err != nil {
			return zero, zero, err
		}
		return pay, zero, nil

	case model.StepResidual:
		// The distribution stopper retains residual cash in the reserve
		// account while any test is failing.
		if c.deal.Features.DistributionStopper && run.failing {
			reserve := c.ledger.ByType(model.AccountReserve)
			if reserve == nil {
				return zero, zero, errs.Configf("waterfall: distribution stopper needs a reserve account")
			}
			if err := c.debit(run, rule, pay, reserve.Name, "residual retained by distribution stopper"); err != nil {
				return zero, zero, err
			}
			if err := reserve.Add(model.CashInterest, pay); err != nil {
				return zero, zero, err
			}
			return pay, zero, nil
		}
		if err := c.debit(run, rule, pay, rule.Target, "residual distribution"); err != nil {
			return zero, zero, err
		}
		if acct := c.targetAccount(rule, model.AccountResidual); acct != nil {
			if err := acct.Add(model.CashInterest, pay); err != nil {
				return zero, zero, err
			}
		}
		return pay, zero, nil

	default:
		return zero, zero, errs.Configf("waterfall: step %q has unknown kind %q", rule.Step, rule.Kind)
	}
}

// settleCure registers a cure payment against the target tranche's
// tests, senior test first, and pays down the senior-most outstanding
// tranche with the consumed cash.
func (c *Calculator) settleCure(rule model.Rule, pay decimal.Decimal) (decimal.Decimal, error) {
	remaining := pay
	for _, t := range c.triggers.Tests() {
		if t.Tranche() != rule.Target || remaining.IsZero() {
			continue
		}
		var unused decimal.Decimal
		var err error
		if rule.Kind == model.StepInterestCure {
			unused, err = t.PayInterest(remaining)
		} else {
			unused, err = t.PayPrincipal(remaining)
		}
		if err != nil {
			return decimal.Zero, err
		}
		remaining = unused
	}
	consumed := pay.Sub(remaining)

	if sm := c.deal.SeniorMost(); sm != nil {
		sm.PayPrincipal(consumed)
	}
	return consumed, nil
}

// accelerate sweeps all remaining cash into the senior-most tranche's
// principal and marks the run accelerated.
func (c *Calculator) accelerate(run *runState) *PaymentRecord {
	run.accelerated = true
	sm := c.deal.SeniorMost()
	if sm == nil || !run.available.IsPositive() {
		return nil
	}
	due := sm.CurrentBalance.Decimal
	pay := decimal.Min(due, run.available)
	applied := sm.PayPrincipal(pay)
	if err := c.debit(run, model.Rule{Step: "acceleration", Kind: model.StepPrincipal, CashType: model.CashPrincipal}, applied, sm.ID, "accelerated principal sweep"); err != nil {
		return nil
	}
	run.available = run.available.Sub(applied)
	return &PaymentRecord{
		Step:          "acceleration",
		Kind:          model.StepPrincipal,
		Target:        sm.ID,
		AmountDue:     due,
		AmountPaid:    applied,
		RemainingCash: run.available,
	}
}

// executeShareGroup settles every same-group fee step in one pass,
// splitting available cash pro-rata by amount due when it cannot cover
// the group in full.
func (c *Calculator) executeShareGroup(run *runState, tail []model.Rule, group string, exec *Execution) error {
	var members []model.Rule
	for _, rule := range tail {
		if rule.ShareGroup == group && !run.consumedSteps[rule.Step] {
			members = append(members, rule)
		}
	}
	if run.consumedSteps == nil {
		run.consumedSteps = make(map[string]bool)
	}

	dues := make([]decimal.Decimal, len(members))
	totalDue := decimal.Zero
	for i, rule := range members {
		applies, err := rules.EvalPredicate(rule, run.flags)
		if err != nil {
			return err
		}
		if applies {
			due, err := c.amountDue(run, rule)
			if err != nil {
				return err
			}
			dues[i] = due
			totalDue = totalDue.Add(due)
		}
		run.consumedSteps[rule.Step] = true
	}

	pot := decimal.Min(totalDue, run.available)
	distributed := decimal.Zero
	for i, rule := range members {
		share := dues[i]
		if totalDue.IsPositive() && pot.LessThan(totalDue) {
			share = pot.Mul(dues[i]).Div(totalDue).RoundDown(2)
		}
		// The last member takes the rounding remainder, capped at its due.
		if i == len(members)-1 {
			share = decimal.Min(dues[i], pot.Sub(distributed))
		}
		paid, capitalized, err := c.settle(run, rule, share)
		if err != nil {
			return err
		}
		distributed = distributed.Add(paid)
		run.available = run.available.Sub(paid)
		exec.Records = append(exec.Records, PaymentRecord{
			Step:              rule.Step,
			Sequence:          rule.Sequence,
			Kind:              rule.Kind,
			Target:            rule.Target,
			AmountDue:         dues[i],
			AmountPaid:        paid,
			AmountCapitalized: capitalized,
			AmountDeferred:    maxZero(dues[i].Sub(paid).Sub(capitalized)),
			RemainingCash:     run.available,
		})
	}
	return nil
}

func maxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// debit moves consumed cash out of the collection account, preferring
// the step's natural cash bucket and overflowing into the other one.
func (c *Calculator) debit(run *runState, rule model.Rule, amount decimal.Decimal, counterparty, description string) error {
	if !amount.IsPositive() {
		return nil
	}
	prefer := cashTypeFor(rule, naturalCashType(rule.Kind))
	balance, err := run.collection.Balance(prefer)
	if err != nil {
		return err
	}

	fromPreferred := decimal.Min(amount, decimal.Max(balance, decimal.Zero))
	if fromPreferred.IsPositive() {
		if _, err := c.ledger.Debit(run.collection.Name, prefer, fromPreferred, counterparty, description); err != nil {
			return err
		}
	}
	if rest := amount.Sub(fromPreferred); rest.IsPositive() {
		other := model.CashInterest
		if prefer == model.CashInterest {
			other = model.CashPrincipal
		}
		if _, err := c.ledger.Debit(run.collection.Name, other, rest, counterparty, description); err != nil {
			return err
		}
	}
	return nil
}

func cashTypeFor(rule model.Rule, fallback model.CashType) model.CashType {
	if rule.CashType.Valid() {
		return rule.CashType
	}
	return fallback
}

func naturalCashType(kind model.StepKind) model.CashType {
	switch kind {
	case model.StepPrincipal, model.StepPrincipalCure, model.StepReinvestment:
		return model.CashPrincipal
	default:
		return model.CashInterest
	}
}

// targetAccount returns the rule's target account, falling back to the
// first account of the given type.
func (c *Calculator) targetAccount(rule model.Rule, fallback model.AccountType) *ledger.Account {
	if rule.TargetAccount != "" {
		if acct, err := c.ledger.Account(rule.TargetAccount); err == nil {
			return acct
		}
	}
	return c.ledger.ByType(fallback)
}

func (c *Calculator) conditionFlags(phase model.Phase) map[string]bool {
	ocPass := c.triggers.AllPass(triggers.OC)
	icPass := c.triggers.AllPass(triggers.IC)
	return map[string]bool{
		"oc_tests_pass":       ocPass,
		"ic_tests_pass":       icPass,
		"all_tests_pass":      ocPass && icPass,
		"oc_tests_fail":       !ocPass,
		"ic_tests_fail":       !icPass,
		"any_test_fail":       !ocPass || !icPass,
		"ramp_up_period":      phase == model.PhaseRampUp,
		"reinvestment_period": phase == model.PhaseReinvestment,
		"amortization_period": phase == model.PhaseAmortization,
		"call_period":         phase == model.PhaseCallPeriod,
		"turbo":               c.deal.Features.Turbo || c.deal.Strategy == model.StrategyTurbo,
		"pik_toggle":          c.deal.Features.PIKToggle || c.deal.Strategy == model.StrategyPIKToggle,
	}
}

// formulaEnv seeds the named-variable context for formula evaluation
// with the current balances and dues.
func (c *Calculator) formulaEnv(run *runState) rules.Env {
	env := rules.Env{}
	env.Set("collection_amount", run.in.Collections().Decimal)
	env.Set("interest_collections", run.in.InterestCollections.Decimal)
	env.Set("principal_collections", run.in.PrincipalCollections.Decimal)
	env.Set("collateral_balance", run.in.CollateralBalance.Decimal)
	env.Set("index_rate", run.in.IndexRate.Decimal)
	env.Set("remaining_cash", run.available)

	for _, t := range c.deal.Tranches {
		id := identName(t.ID)
		env.Set("balance_"+id, t.CurrentBalance.Decimal)
		if due, ok := run.interestDue[t.ID]; ok {
			env.Set("interest_due_"+id, due)
		}
		ic, _ := c.cureDue(t.ID, model.CashInterest)
		pc, _ := c.cureDue(t.ID, model.CashPrincipal)
		env.Set("interest_cure_"+id, ic)
		env.Set("principal_cure_"+id, pc)
	}
	for name, eng := range c.fees {
		env.Set("fee_due_"+identName(name), eng.Due())
	}
	return env
}

// identName rewrites a configured name into a legal formula identifier.
func identName(name string) string {
	out := []rune(name)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

func (c *Calculator) snapshot(exec *Execution) {
	exec.TrancheBalances = make(map[string]decimal.Decimal, len(c.deal.Tranches))
	for _, t := range c.deal.Tranches {
		exec.TrancheBalances[t.ID] = t.CurrentBalance.Decimal
	}
	exec.AccountBalances = c.ledger.Balances()
}
