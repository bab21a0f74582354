package rules

import (
	"github.com/expr-lang/expr"
	"github.com/shopspring/decimal"

	"github.com/sells-group/waterfall-engine/internal/errs"
)

// Env is the named-variable context a step formula is evaluated against.
// The calculator seeds it with tranche balances, interest due, fee dues,
// cure requirements and the running remaining cash before each step.
type Env map[string]any

// Set stores a decimal under name as a float64 for the expression VM.
// float64 is exact for cent-denominated amounts up to 2^53 cents (about
// 90 trillion), so tranche-scale values survive the lowering; beyond
// that, formula results may drift below a cent before Eval's Round(2).
func (e Env) Set(name string, d decimal.Decimal) {
	e[name] = d.InexactFloat64()
}

// Eval runs a pre-compiled formula against env and returns the amount,
// rounded to cents and clamped non-negative. A formula that yields a
// non-numeric result (including a reference to a variable the context
// does not define) is a configuration error.
func (r *Resolver) Eval(formula string, env Env) (decimal.Decimal, error) {
	program, ok := r.programs[formula]
	if !ok {
		// Formulas arrive via NewResolver, so a miss means the caller
		// evaluated a formula the rule set never declared.
		return decimal.Zero, errs.Configf("rules: formula %q was not registered", formula)
	}

	out, err := expr.Run(program, map[string]any(env))
	if err != nil {
		return decimal.Zero, errs.Configf("rules: evaluate %q: %v", formula, err)
	}

	var result decimal.Decimal
	switch v := out.(type) {
	case float64:
		result = decimal.NewFromFloat(v)
	case int:
		result = decimal.NewFromInt(int64(v))
	case int64:
		result = decimal.NewFromInt(v)
	default:
		return decimal.Zero, errs.Configf("rules: formula %q returned %T, want a number", formula, out)
	}

	result = result.Round(2)
	if result.IsNegative() {
		return decimal.Zero, nil
	}
	return result, nil
}
