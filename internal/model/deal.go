package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/waterfall-engine/internal/daycount"
	"github.com/sells-group/waterfall-engine/internal/errs"
)

// CashType distinguishes the two cash buckets tracked everywhere in the
// engine.
type CashType string

const (
	CashInterest  CashType = "interest"
	CashPrincipal CashType = "principal"
)

// Valid reports whether the cash type is one of the known buckets.
func (c CashType) Valid() bool {
	return c == CashInterest || c == CashPrincipal
}

// AccountType classifies a deal account.
type AccountType string

const (
	AccountCollection   AccountType = "collection"
	AccountReserve      AccountType = "reserve"
	AccountExpense      AccountType = "expense"
	AccountReinvestment AccountType = "reinvestment"
	AccountResidual     AccountType = "residual"
)

// CouponType selects fixed or floating interest on a tranche.
type CouponType string

const (
	CouponFixed    CouponType = "fixed"
	CouponFloating CouponType = "floating"
)

// Coupon defines how a tranche accrues interest. Floating coupons pay
// index + margin subject to an optional floor.
type Coupon struct {
	Type   CouponType `yaml:"type" json:"type"`
	Rate   Decimal    `yaml:"rate,omitempty" json:"rate,omitempty"`
	Index  string     `yaml:"index,omitempty" json:"index,omitempty"`
	Margin Decimal    `yaml:"margin,omitempty" json:"margin,omitempty"`
	Floor  Decimal    `yaml:"floor,omitempty" json:"floor,omitempty"`
}

// EffectiveRate returns the period coupon rate given the reference index
// fixing for the period.
func (c Coupon) EffectiveRate(indexRate decimal.Decimal) decimal.Decimal {
	if c.Type == CouponFixed {
		return c.Rate.Decimal
	}
	rate := indexRate.Add(c.Margin.Decimal)
	if rate.LessThan(c.Floor.Decimal) {
		return c.Floor.Decimal
	}
	return rate
}

// Tranche is one class of notes in the capital structure. Seniority 1 is
// the most senior class; PaymentRank orders tranches inside a waterfall
// priority slot when it differs from seniority.
type Tranche struct {
	ID              string  `yaml:"id" json:"id"`
	Seniority       int     `yaml:"seniority" json:"seniority"`
	PaymentRank     int     `yaml:"payment_rank,omitempty" json:"payment_rank,omitempty"`
	OriginalBalance Decimal `yaml:"original_balance" json:"original_balance"`
	CurrentBalance  Decimal `yaml:"current_balance" json:"current_balance"`
	Coupon          Coupon  `yaml:"coupon" json:"coupon"`
	Deferrable      bool    `yaml:"deferrable,omitempty" json:"deferrable,omitempty"`
	OCThreshold     Decimal `yaml:"oc_threshold,omitempty" json:"oc_threshold,omitempty"`
	ICThreshold     Decimal `yaml:"ic_threshold,omitempty" json:"ic_threshold,omitempty"`
}

// PayPrincipal reduces the tranche balance by amount, flooring at zero,
// and returns the amount actually applied.
func (t *Tranche) PayPrincipal(amount decimal.Decimal) decimal.Decimal {
	applied := decimal.Min(amount, t.CurrentBalance.Decimal)
	if applied.IsNegative() {
		applied = decimal.Zero
	}
	t.CurrentBalance.Decimal = t.CurrentBalance.Sub(applied)
	return applied
}

// Capitalize adds a PIK'd interest shortfall to the tranche balance.
func (t *Tranche) Capitalize(amount decimal.Decimal) {
	if amount.IsPositive() {
		t.CurrentBalance.Decimal = t.CurrentBalance.Add(amount)
	}
}

// AccountDef declares a deal account and its opening balances.
type AccountDef struct {
	Name             string      `yaml:"name" json:"name"`
	Type             AccountType `yaml:"type" json:"type"`
	OpeningInterest  Decimal     `yaml:"opening_interest,omitempty" json:"opening_interest,omitempty"`
	OpeningPrincipal Decimal     `yaml:"opening_principal,omitempty" json:"opening_principal,omitempty"`
}

// FeeBasis selects how a fee accrual basis is sampled over a period.
type FeeBasis string

const (
	BasisBeginning FeeBasis = "beginning"
	BasisAverage   FeeBasis = "average"
	BasisFixed     FeeBasis = "fixed"
)

// FeeDef defines one recurring fee in the deal documents.
type FeeDef struct {
	Name             string              `yaml:"name" json:"name"`
	Basis            FeeBasis            `yaml:"basis" json:"basis"`
	AnnualRate       Decimal             `yaml:"annual_rate,omitempty" json:"annual_rate,omitempty"`
	FixedAnnual      Decimal             `yaml:"fixed_annual,omitempty" json:"fixed_annual,omitempty"`
	DayCount         daycount.Convention `yaml:"day_count" json:"day_count"`
	InterestOnUnpaid bool                `yaml:"interest_on_unpaid,omitempty" json:"interest_on_unpaid,omitempty"`
	UnpaidSpread     Decimal             `yaml:"unpaid_spread,omitempty" json:"unpaid_spread,omitempty"`
	OpeningUnpaid    Decimal             `yaml:"opening_unpaid,omitempty" json:"opening_unpaid,omitempty"`
}

// DealDates are the document dates that drive phase derivation.
type DealDates struct {
	Closing         time.Time `yaml:"closing" json:"closing"`
	RampUpEnd       time.Time `yaml:"ramp_up_end" json:"ramp_up_end"`
	ReinvestmentEnd time.Time `yaml:"reinvestment_end" json:"reinvestment_end"`
	NoCallEnd       time.Time `yaml:"no_call_end" json:"no_call_end"`
	Maturity        time.Time `yaml:"maturity" json:"maturity"`
}

// StrategyKind names a waterfall variant.
type StrategyKind string

const (
	StrategyTraditional StrategyKind = "traditional"
	StrategyTurbo       StrategyKind = "turbo"
	StrategyPIKToggle   StrategyKind = "pik_toggle"
)

// Features are the additive overlays layered on top of a strategy. Deal
// vintages mix and match these instead of defining one variant subtype
// per vintage.
type Features struct {
	Turbo               bool `yaml:"turbo,omitempty" json:"turbo,omitempty"`
	PIKToggle           bool `yaml:"pik_toggle,omitempty" json:"pik_toggle,omitempty"`
	FeeSharing          bool `yaml:"fee_sharing,omitempty" json:"fee_sharing,omitempty"`
	ReinvestmentOverlay bool `yaml:"reinvestment_overlay,omitempty" json:"reinvestment_overlay,omitempty"`
	DistributionStopper bool `yaml:"distribution_stopper,omitempty" json:"distribution_stopper,omitempty"`
	Acceleration        bool `yaml:"acceleration,omitempty" json:"acceleration,omitempty"`
}

// Deal is the full configuration for one structured-finance vehicle.
type Deal struct {
	ID                string              `yaml:"id" json:"id"`
	Name              string              `yaml:"name" json:"name"`
	OpeningCollateral Decimal             `yaml:"opening_collateral" json:"opening_collateral"`
	Dates             DealDates           `yaml:"dates" json:"dates"`
	Strategy          StrategyKind        `yaml:"strategy" json:"strategy"`
	Features          Features            `yaml:"features,omitempty" json:"features,omitempty"`
	DayCount          daycount.Convention `yaml:"day_count" json:"day_count"`
	Tranches          []*Tranche          `yaml:"tranches" json:"tranches"`
	Accounts          []AccountDef        `yaml:"accounts" json:"accounts"`
	Fees              []FeeDef            `yaml:"fees,omitempty" json:"fees,omitempty"`
	Rules             []Rule              `yaml:"rules" json:"rules"`
	Modifications     []RuleModification  `yaml:"modifications,omitempty" json:"modifications,omitempty"`
	Overrides         []RuleOverride      `yaml:"overrides,omitempty" json:"overrides,omitempty"`
}

// Tranche returns the tranche with the given id.
func (d *Deal) Tranche(id string) (*Tranche, error) {
	for _, t := range d.Tranches {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, errs.Validationf("model: unknown tranche %q in deal %s", id, d.ID)
}

// TranchesBySeniority returns tranches ordered senior first.
func (d *Deal) TranchesBySeniority() []*Tranche {
	out := make([]*Tranche, len(d.Tranches))
	copy(out, d.Tranches)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seniority < out[j].Seniority })
	return out
}

// SeniorMost returns the outstanding tranche with the lowest seniority
// number, or nil when all tranches are retired.
func (d *Deal) SeniorMost() *Tranche {
	for _, t := range d.TranchesBySeniority() {
		if t.CurrentBalance.IsPositive() {
			return t
		}
	}
	return nil
}

// Liability returns the aggregate note balance of the tranche and every
// tranche senior to it. This is the denominator of the tranche's OC test.
func (d *Deal) Liability(trancheID string) (decimal.Decimal, error) {
	target, err := d.Tranche(trancheID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, t := range d.Tranches {
		if t.Seniority <= target.Seniority {
			total = total.Add(t.CurrentBalance.Decimal)
		}
	}
	return total, nil
}

// Validate checks structural consistency of the deal configuration.
func (d *Deal) Validate() error {
	if d.ID == "" {
		return errs.Configf("model: deal id is required")
	}
	if len(d.Tranches) == 0 {
		return errs.Configf("model: deal %s has no tranches", d.ID)
	}
	seen := make(map[string]bool, len(d.Tranches))
	for _, t := range d.Tranches {
		if t.ID == "" {
			return errs.Configf("model: deal %s: tranche with empty id", d.ID)
		}
		if seen[t.ID] {
			return errs.Configf("model: deal %s: duplicate tranche %q", d.ID, t.ID)
		}
		seen[t.ID] = true
		if t.CurrentBalance.IsNegative() {
			return errs.Configf("model: deal %s: tranche %q has negative balance", d.ID, t.ID)
		}
		if t.Coupon.Type != CouponFixed && t.Coupon.Type != CouponFloating {
			return errs.Configf("model: deal %s: tranche %q has unknown coupon type %q", d.ID, t.ID, t.Coupon.Type)
		}
	}
	hasCollection := false
	for _, a := range d.Accounts {
		if a.Type == AccountCollection {
			hasCollection = true
		}
	}
	if !hasCollection {
		return errs.Configf("model: deal %s: no collection account defined", d.ID)
	}
	for _, f := range d.Fees {
		switch f.Basis {
		case BasisBeginning, BasisAverage, BasisFixed:
		default:
			return errs.Configf("model: deal %s: fee %q has unknown basis %q", d.ID, f.Name, f.Basis)
		}
	}
	if d.DayCount == "" {
		d.DayCount = daycount.Act360
	}
	if d.Strategy == "" {
		d.Strategy = StrategyTraditional
	}
	return nil
}
