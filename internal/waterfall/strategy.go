package waterfall

import (
	"github.com/sells-group/waterfall-engine/internal/model"
)

// Strategy shapes the payment sequence for a phase. The small set of
// concrete variants plus the deal's feature flags replaces one subtype
// per deal vintage.
type Strategy interface {
	Name() string
	// Sequence orders the resolved rules for execution. failing reports
	// whether any compliance test fails this period.
	Sequence(phase model.Phase, ruleSeq []model.Rule, failing bool) []model.Rule
	// Capitalize reports whether an interest shortfall on the tranche is
	// PIK'd into its balance rather than deferred as unpaid cash.
	Capitalize(t *model.Tranche) bool
	// TurboPrincipal reports whether principal steps are enlarged to the
	// full outstanding balance while tests fail.
	TurboPrincipal(failing bool) bool
}

// ForDeal selects the strategy variant from the deal configuration.
// Feature flags widen whatever base variant is configured.
func ForDeal(deal *model.Deal) Strategy {
	switch {
	case deal.Strategy == model.StrategyTurbo || deal.Features.Turbo:
		return &Turbo{pik: deal.Strategy == model.StrategyPIKToggle || deal.Features.PIKToggle}
	case deal.Strategy == model.StrategyPIKToggle || deal.Features.PIKToggle:
		return &PIKToggle{}
	default:
		return &Traditional{}
	}
}

// Traditional pays senior fees, then interest by descending seniority,
// then compliance-driven principal, then junior fees and residual, in
// the configured sequence order.
type Traditional struct{}

func (s *Traditional) Name() string { return string(model.StrategyTraditional) }

func (s *Traditional) Sequence(_ model.Phase, ruleSeq []model.Rule, _ bool) []model.Rule {
	return ruleSeq
}

func (s *Traditional) Capitalize(*model.Tranche) bool { return false }

func (s *Traditional) TurboPrincipal(bool) bool { return false }

// Turbo pulls each tranche's principal step forward, directly behind its
// interest step, whenever compliance tests are failing, and enlarges
// principal steps to the full outstanding balance.
type Turbo struct {
	pik bool
}

func (s *Turbo) Name() string { return string(model.StrategyTurbo) }

func (s *Turbo) Sequence(_ model.Phase, ruleSeq []model.Rule, failing bool) []model.Rule {
	if !failing {
		return ruleSeq
	}

	moved := make(map[int]bool, len(ruleSeq))
	out := make([]model.Rule, 0, len(ruleSeq))
	for i, rule := range ruleSeq {
		if moved[i] {
			continue
		}
		out = append(out, rule)
		if rule.Kind != model.StepInterest {
			continue
		}
		// Pull this tranche's principal step up behind its interest step.
		for j := i + 1; j < len(ruleSeq); j++ {
			if !moved[j] && ruleSeq[j].Kind == model.StepPrincipal && ruleSeq[j].Target == rule.Target {
				out = append(out, ruleSeq[j])
				moved[j] = true
			}
		}
	}
	return out
}

func (s *Turbo) Capitalize(t *model.Tranche) bool { return s.pik && t.Deferrable }

func (s *Turbo) TurboPrincipal(failing bool) bool { return failing }

// PIKToggle keeps the traditional order but capitalizes interest
// shortfalls on deferrable tranches instead of deferring them as unpaid
// cash.
type PIKToggle struct{}

func (s *PIKToggle) Name() string { return string(model.StrategyPIKToggle) }

func (s *PIKToggle) Sequence(_ model.Phase, ruleSeq []model.Rule, _ bool) []model.Rule {
	return ruleSeq
}

func (s *PIKToggle) Capitalize(t *model.Tranche) bool { return t.Deferrable }

func (s *PIKToggle) TurboPrincipal(bool) bool { return false }
