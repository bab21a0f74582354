package rules

import (
	"github.com/sells-group/waterfall-engine/internal/errs"
	"github.com/sells-group/waterfall-engine/internal/model"
)

// EvalPredicate evaluates a rule's trigger conditions against the named
// condition flags for the period. A rule with no conditions always
// applies. Referencing a condition the context does not define is a
// configuration error.
func EvalPredicate(rule model.Rule, flags map[string]bool) (bool, error) {
	if len(rule.Conditions) == 0 {
		return true, nil
	}

	combine := rule.Combine
	if combine == "" {
		combine = model.CombineAll
	}

	// Every referenced name is checked before any flag is combined, so a
	// misspelled condition fails the same way on every flag state.
	for _, name := range rule.Conditions {
		if _, ok := flags[name]; !ok {
			return false, errs.Configf("rules: step %q: unknown condition %q", rule.Step, name)
		}
	}

	switch combine {
	case model.CombineAll:
		for _, name := range rule.Conditions {
			if !flags[name] {
				return false, nil
			}
		}
		return true, nil
	case model.CombineAny:
		for _, name := range rule.Conditions {
			if flags[name] {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, errs.Configf("rules: step %q: unknown combinator %q", rule.Step, combine)
	}
}
