// Package rules resolves the effective payment rule for each waterfall
// step on a payment date: base configuration, date-bounded modifications
// and exact-date overrides, in that order.
package rules

import (
	"sort"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/sells-group/waterfall-engine/internal/errs"
	"github.com/sells-group/waterfall-engine/internal/model"
)

// Resolver merges a deal's base rules with its rule overlays. Formulas
// are compiled once at construction so malformed configuration surfaces
// before any execution starts.
type Resolver struct {
	base      []model.Rule
	byStep    map[string]model.Rule
	mods      []model.RuleModification
	overrides []model.RuleOverride
	programs  map[string]*vm.Program
}

// NewResolver validates the rule set and pre-compiles every formula.
func NewResolver(base []model.Rule, mods []model.RuleModification, overrides []model.RuleOverride) (*Resolver, error) {
	if len(base) == 0 {
		return nil, errs.Configf("rules: empty rule set")
	}

	r := &Resolver{
		mods:      mods,
		overrides: overrides,
		byStep:    make(map[string]model.Rule, len(base)),
		programs:  make(map[string]*vm.Program),
	}

	r.base = make([]model.Rule, len(base))
	copy(r.base, base)
	sort.SliceStable(r.base, func(i, j int) bool { return r.base[i].Sequence < r.base[j].Sequence })

	for _, rule := range r.base {
		if rule.Step == "" {
			return nil, errs.Configf("rules: rule with empty step name")
		}
		if _, dup := r.byStep[rule.Step]; dup {
			return nil, errs.Configf("rules: duplicate step %q", rule.Step)
		}
		switch rule.Combine {
		case "", model.CombineAll, model.CombineAny:
		default:
			return nil, errs.Configf("rules: step %q: unknown combinator %q", rule.Step, rule.Combine)
		}
		r.byStep[rule.Step] = rule
		if err := r.compile(rule.Formula); err != nil {
			return nil, errs.Configf("rules: step %q: bad formula %q: %v", rule.Step, rule.Formula, err)
		}
	}

	for _, m := range mods {
		if _, ok := r.byStep[m.Step]; !ok {
			return nil, errs.Configf("rules: modification for unknown step %q", m.Step)
		}
		if m.Formula != nil {
			if err := r.compile(*m.Formula); err != nil {
				return nil, errs.Configf("rules: modification for %q: bad formula: %v", m.Step, err)
			}
		}
	}
	for _, o := range overrides {
		if _, ok := r.byStep[o.Step]; !ok {
			return nil, errs.Configf("rules: override for unknown step %q", o.Step)
		}
		if o.Formula != nil {
			if err := r.compile(*o.Formula); err != nil {
				return nil, errs.Configf("rules: override for %q: bad formula: %v", o.Step, err)
			}
		}
	}

	return r, nil
}

func (r *Resolver) compile(formula string) error {
	if formula == "" {
		return nil
	}
	if _, done := r.programs[formula]; done {
		return nil
	}
	program, err := expr.Compile(formula)
	if err != nil {
		return err
	}
	r.programs[formula] = program
	return nil
}

// Effective resolves the rule for one step on a payment date. Approved
// modifications whose window contains the date apply in registration
// order, so a later registration wins on conflict. An approved override
// for the exact date always wins.
func (r *Resolver) Effective(step string, date time.Time) (model.Rule, error) {
	rule, ok := r.byStep[step]
	if !ok {
		return model.Rule{}, errs.Configf("rules: unknown step %q", step)
	}

	for _, m := range r.mods {
		if m.Step != step || !m.Approved || !m.Active(date) {
			continue
		}
		if m.Formula != nil {
			rule.Formula = *m.Formula
		}
		if m.Cap != nil {
			rule.Cap = m.Cap
		}
		if len(m.Conditions) > 0 {
			rule.Conditions = m.Conditions
		}
		if m.Combine != "" {
			rule.Combine = m.Combine
		}
	}

	for _, o := range r.overrides {
		if !o.Approved || !o.Matches(step, date) {
			continue
		}
		if o.Formula != nil {
			rule.Formula = *o.Formula
		}
		if o.Cap != nil {
			rule.Cap = o.Cap
		}
	}

	return rule, nil
}

// Sequence resolves every step for the payment date, ordered by the base
// configuration's sequence numbers.
func (r *Resolver) Sequence(date time.Time) ([]model.Rule, error) {
	out := make([]model.Rule, 0, len(r.base))
	for _, rule := range r.base {
		eff, err := r.Effective(rule.Step, date)
		if err != nil {
			return nil, err
		}
		out = append(out, eff)
	}
	return out, nil
}

// Steps returns the base step names in sequence order.
func (r *Resolver) Steps() []string {
	out := make([]string, 0, len(r.base))
	for _, rule := range r.base {
		out = append(out, rule.Step)
	}
	return out
}
