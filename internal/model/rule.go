package model

import "time"

// StepKind drives the built-in amount computation for a payment step when
// no formula override is configured.
type StepKind string

const (
	StepSeniorFee     StepKind = "senior_fee"
	StepInterest      StepKind = "interest"
	StepPrincipal     StepKind = "principal"
	StepInterestCure  StepKind = "interest_cure"
	StepPrincipalCure StepKind = "principal_cure"
	StepReinvestment  StepKind = "reinvestment"
	StepJuniorFee     StepKind = "junior_fee"
	StepResidual      StepKind = "residual"
)

// Combinator selects how a rule's trigger conditions are combined.
type Combinator string

const (
	CombineAll Combinator = "all"
	CombineAny Combinator = "any"
)

// Rule is one step of the payment priority. Formula, when set, is an
// expression evaluated against the period's named-variable context and
// replaces the step kind's built-in amount. Conditions are names of
// boolean flags in the same context; a step whose predicate is false is
// skipped for the period.
type Rule struct {
	Step          string     `yaml:"step" json:"step"`
	Sequence      int        `yaml:"sequence" json:"sequence"`
	Kind          StepKind   `yaml:"kind" json:"kind"`
	Target        string     `yaml:"target,omitempty" json:"target,omitempty"`
	TargetAccount string     `yaml:"target_account,omitempty" json:"target_account,omitempty"`
	CashType      CashType   `yaml:"cash_type,omitempty" json:"cash_type,omitempty"`
	Formula       string     `yaml:"formula,omitempty" json:"formula,omitempty"`
	Cap           *Decimal   `yaml:"cap,omitempty" json:"cap,omitempty"`
	Conditions    []string   `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Combine       Combinator `yaml:"combine,omitempty" json:"combine,omitempty"`
	ShareGroup    string     `yaml:"share_group,omitempty" json:"share_group,omitempty"`
}

// RuleModification is a date-bounded amendment to a base rule. Only the
// set fields replace the base rule's values; later-registered
// modifications win when windows overlap.
type RuleModification struct {
	Step       string     `yaml:"step" json:"step"`
	From       time.Time  `yaml:"from" json:"from"`
	To         time.Time  `yaml:"to" json:"to"`
	Formula    *string    `yaml:"formula,omitempty" json:"formula,omitempty"`
	Cap        *Decimal   `yaml:"cap,omitempty" json:"cap,omitempty"`
	Conditions []string   `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Combine    Combinator `yaml:"combine,omitempty" json:"combine,omitempty"`
	Approved   bool       `yaml:"approved" json:"approved"`
}

// Active reports whether the modification window contains date.
func (m RuleModification) Active(date time.Time) bool {
	return !date.Before(m.From) && !date.After(m.To)
}

// RuleOverride pins a step's rule for one exact payment date. An approved
// override always wins, regardless of any active modification.
type RuleOverride struct {
	Step     string    `yaml:"step" json:"step"`
	Date     time.Time `yaml:"date" json:"date"`
	Formula  *string   `yaml:"formula,omitempty" json:"formula,omitempty"`
	Cap      *Decimal  `yaml:"cap,omitempty" json:"cap,omitempty"`
	Approved bool      `yaml:"approved" json:"approved"`
}

// Matches reports whether the override applies to the step on date.
func (o RuleOverride) Matches(step string, date time.Time) bool {
	return o.Step == step && sameDay(o.Date, date)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
