package triggers

import (
	"github.com/shopspring/decimal"

	"github.com/sells-group/waterfall-engine/internal/errs"
	"github.com/sells-group/waterfall-engine/internal/model"
)

// Engine holds every compliance test for one deal instance, senior
// first. A tranche gets a test only when its deal configuration carries
// a positive threshold.
type Engine struct {
	tests []*Test
}

// NewEngine builds the test set from the deal's tranche thresholds.
func NewEngine(deal *model.Deal) *Engine {
	e := &Engine{}
	for _, t := range deal.TranchesBySeniority() {
		if t.OCThreshold.IsPositive() {
			e.tests = append(e.tests, NewOC(t.ID, t.OCThreshold.Decimal))
		}
		if t.ICThreshold.IsPositive() {
			e.tests = append(e.tests, NewIC(t.ID, t.ICThreshold.Decimal))
		}
	}
	return e
}

// Tests returns every test in seniority order.
func (e *Engine) Tests() []*Test { return e.tests }

// Test returns the test of the given kind for a tranche.
func (e *Engine) Test(kind Kind, tranche string) (*Test, error) {
	for _, t := range e.tests {
		if t.kind == kind && t.tranche == tranche {
			return t, nil
		}
	}
	return nil, errs.Validationf("triggers: no %s test for tranche %q", kind, tranche)
}

// AllPass reports whether every calculated test of the given kind passes
// this period. Tests that have not been calculated count as passing.
func (e *Engine) AllPass(kind Kind) bool {
	for _, t := range e.tests {
		if t.kind != kind {
			continue
		}
		if t.cur != nil && !t.cur.Pass {
			return false
		}
	}
	return true
}

// AnyFailing reports whether any test of any kind fails this period.
func (e *Engine) AnyFailing() bool {
	return !e.AllPass(OC) || !e.AllPass(IC)
}

// CureDue sums the outstanding cure requirement of the given cash type
// across all tests.
func (e *Engine) CureDue() decimal.Decimal {
	total := decimal.Zero
	for _, t := range e.tests {
		total = total.Add(t.InterestCureDue()).Add(t.PrincipalCureDue())
	}
	return total
}

// CurrentResults snapshots the in-progress results in seniority order.
func (e *Engine) CurrentResults() []Result {
	var out []Result
	for _, t := range e.tests {
		if t.cur != nil {
			out = append(out, *t.cur)
		}
	}
	return out
}

// Rollforward freezes every test's period result and advances all
// cursors together.
func (e *Engine) Rollforward() ([]Result, error) {
	out := make([]Result, 0, len(e.tests))
	for _, t := range e.tests {
		frozen, err := t.Rollforward()
		if err != nil {
			return nil, err
		}
		out = append(out, *frozen)
	}
	return out, nil
}
