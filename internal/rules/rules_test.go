package rules

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/waterfall-engine/internal/errs"
	"github.com/sells-group/waterfall-engine/internal/model"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func baseRules() []model.Rule {
	return []model.Rule{
		{Step: "residual", Sequence: 100, Kind: model.StepResidual, TargetAccount: "residual"},
		{Step: "senior-mgmt-fee", Sequence: 10, Kind: model.StepSeniorFee, Target: "senior management fee"},
		{Step: "class-a-interest", Sequence: 20, Kind: model.StepInterest, Target: "A",
			CashType: model.CashInterest, Conditions: []string{"oc_tests_pass"}},
	}
}

func TestNewResolverValidation(t *testing.T) {
	t.Parallel()

	t.Run("empty set", func(t *testing.T) {
		t.Parallel()
		_, err := NewResolver(nil, nil, nil)
		assert.ErrorIs(t, err, errs.ErrConfiguration)
	})

	t.Run("duplicate step", func(t *testing.T) {
		t.Parallel()
		rules := baseRules()
		rules = append(rules, model.Rule{Step: "residual", Sequence: 110})
		_, err := NewResolver(rules, nil, nil)
		assert.ErrorIs(t, err, errs.ErrConfiguration)
	})

	t.Run("unknown combinator", func(t *testing.T) {
		t.Parallel()
		rules := baseRules()
		rules[0].Combine = "either"
		_, err := NewResolver(rules, nil, nil)
		assert.ErrorIs(t, err, errs.ErrConfiguration)
	})

	t.Run("bad formula", func(t *testing.T) {
		t.Parallel()
		rules := baseRules()
		rules[0].Formula = "remaining_cash *"
		_, err := NewResolver(rules, nil, nil)
		assert.ErrorIs(t, err, errs.ErrConfiguration)
	})

	t.Run("modification for unknown step", func(t *testing.T) {
		t.Parallel()
		mods := []model.RuleModification{{Step: "class-x-interest", Approved: true}}
		_, err := NewResolver(baseRules(), mods, nil)
		assert.ErrorIs(t, err, errs.ErrConfiguration)
	})

	t.Run("override for unknown step", func(t *testing.T) {
		t.Parallel()
		ovrs := []model.RuleOverride{{Step: "class-x-interest", Approved: true}}
		_, err := NewResolver(baseRules(), nil, ovrs)
		assert.ErrorIs(t, err, errs.ErrConfiguration)
	})
}

func TestSequenceOrdering(t *testing.T) {
	t.Parallel()

	r, err := NewResolver(baseRules(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"senior-mgmt-fee", "class-a-interest", "residual"}, r.Steps())

	seq, err := r.Sequence(date(2026, time.October, 15))
	require.NoError(t, err)
	require.Len(t, seq, 3)
	assert.Equal(t, 10, seq[0].Sequence)
	assert.Equal(t, 100, seq[2].Sequence)
}

func TestEffectiveModifications(t *testing.T) {
	t.Parallel()

	capped := model.DecFromString("500000")
	widerCap := model.DecFromString("750000")
	formula := "remaining_cash * 0.5"

	mods := []model.RuleModification{
		{
			Step: "senior-mgmt-fee", Approved: true,
			From: date(2026, time.January, 1), To: date(2026, time.December, 31),
			Cap: &capped, Formula: &formula,
		},
		{
			Step: "senior-mgmt-fee", Approved: true,
			From: date(2026, time.June, 1), To: date(2026, time.December, 31),
			Cap: &widerCap,
		},
		{
			Step: "senior-mgmt-fee", Approved: false,
			From: date(2026, time.January, 1), To: date(2026, time.December, 31),
			Cap: &capped,
		},
	}

	r, err := NewResolver(baseRules(), mods, nil)
	require.NoError(t, err)

	// Outside every window: base rule untouched.
	rule, err := r.Effective("senior-mgmt-fee", date(2027, time.March, 15))
	require.NoError(t, err)
	assert.Nil(t, rule.Cap)
	assert.Empty(t, rule.Formula)

	// Inside the first window only.
	rule, err = r.Effective("senior-mgmt-fee", date(2026, time.March, 15))
	require.NoError(t, err)
	require.NotNil(t, rule.Cap)
	assert.Equal(t, "500000", rule.Cap.String())
	assert.Equal(t, formula, rule.Formula)

	// Overlapping windows: the later registration wins on the cap, the
	// first keeps its formula. The unapproved modification never applies.
	rule, err = r.Effective("senior-mgmt-fee", date(2026, time.July, 15))
	require.NoError(t, err)
	require.NotNil(t, rule.Cap)
	assert.Equal(t, "750000", rule.Cap.String())
	assert.Equal(t, formula, rule.Formula)
}

func TestOverrideBeatsModification(t *testing.T) {
	t.Parallel()

	modCap := model.DecFromString("500000")
	ovrCap := model.DecFromString("0")

	mods := []model.RuleModification{{
		Step: "senior-mgmt-fee", Approved: true,
		From: date(2026, time.January, 1), To: date(2026, time.December, 31),
		Cap: &modCap,
	}}
	ovrs := []model.RuleOverride{
		{Step: "senior-mgmt-fee", Date: date(2026, time.July, 15), Cap: &ovrCap, Approved: true},
		{Step: "senior-mgmt-fee", Date: date(2026, time.October, 15), Cap: &modCap, Approved: false},
	}

	r, err := NewResolver(baseRules(), mods, ovrs)
	require.NoError(t, err)

	rule, err := r.Effective("senior-mgmt-fee", date(2026, time.July, 15))
	require.NoError(t, err)
	require.NotNil(t, rule.Cap)
	assert.Equal(t, "0", rule.Cap.String())

	// Unapproved override: the modification's cap stands.
	rule, err = r.Effective("senior-mgmt-fee", date(2026, time.October, 15))
	require.NoError(t, err)
	require.NotNil(t, rule.Cap)
	assert.Equal(t, "500000", rule.Cap.String())

	_, err = r.Effective("missing-step", date(2026, time.July, 15))
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestEval(t *testing.T) {
	t.Parallel()

	rules := baseRules()
	rules[0].Formula = "min(fee_due, remaining_cash * 0.25)"
	r, err := NewResolver(rules, nil, nil)
	require.NoError(t, err)

	env := Env{}
	env.Set("fee_due", decimal.NewFromInt(625000))
	env.Set("remaining_cash", decimal.NewFromInt(1000000))

	got, err := r.Eval("min(fee_due, remaining_cash * 0.25)", env)
	require.NoError(t, err)
	assert.Equal(t, "250000", got.String())
}

func TestEvalExactOnTrancheScaleAmounts(t *testing.T) {
	t.Parallel()

	rules := baseRules()
	rules[0].Formula = "balance - interest_due"
	r, err := NewResolver(rules, nil, nil)
	require.NoError(t, err)

	// Cent-denominated values this large still round-trip the float64
	// lowering exactly.
	env := Env{}
	env.Set("balance", decimal.RequireFromString("987654321098.76"))
	env.Set("interest_due", decimal.RequireFromString("1234567.89"))

	got, err := r.Eval("balance - interest_due", env)
	require.NoError(t, err)
	assert.Equal(t, "987653086530.87", got.String())
}

func TestEvalClampsNegative(t *testing.T) {
	t.Parallel()

	rules := baseRules()
	rules[0].Formula = "remaining_cash - 100"
	r, err := NewResolver(rules, nil, nil)
	require.NoError(t, err)

	env := Env{}
	env.Set("remaining_cash", decimal.NewFromInt(40))

	got, err := r.Eval("remaining_cash - 100", env)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestEvalErrors(t *testing.T) {
	t.Parallel()

	r, err := NewResolver(baseRules(), nil, nil)
	require.NoError(t, err)

	_, err = r.Eval("1 + 1", Env{})
	assert.ErrorIs(t, err, errs.ErrConfiguration, "unregistered formula")
}

func TestEvalPredicate(t *testing.T) {
	t.Parallel()

	flags := map[string]bool{
		"oc_tests_pass": true,
		"ic_tests_pass": false,
		"turbo":         true,
	}

	tests := []struct {
		name    string
		rule    model.Rule
		want    bool
		wantErr bool
	}{
		{
			name: "no conditions always applies",
			rule: model.Rule{Step: "s"},
			want: true,
		},
		{
			name: "all passes when every flag set",
			rule: model.Rule{Step: "s", Conditions: []string{"oc_tests_pass", "turbo"}},
			want: true,
		},
		{
			name: "all fails on one false flag",
			rule: model.Rule{Step: "s", Conditions: []string{"oc_tests_pass", "ic_tests_pass"}},
			want: false,
		},
		{
			name: "any passes on one true flag",
			rule: model.Rule{Step: "s", Conditions: []string{"ic_tests_pass", "turbo"}, Combine: model.CombineAny},
			want: true,
		},
		{
			name: "any fails with no hits",
			rule: model.Rule{Step: "s", Conditions: []string{"ic_tests_pass"}, Combine: model.CombineAny},
			want: false,
		},
		{
			name:    "unknown condition",
			rule:    model.Rule{Step: "s", Conditions: []string{"full_moon"}},
			wantErr: true,
		},
		{
			name:    "any rejects unknown name even after a true flag",
			rule:    model.Rule{Step: "s", Conditions: []string{"turbo", "full_moon"}, Combine: model.CombineAny},
			wantErr: true,
		},
		{
			name:    "all rejects unknown name even after a false flag",
			rule:    model.Rule{Step: "s", Conditions: []string{"ic_tests_pass", "full_moon"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := EvalPredicate(tt.rule, flags)
			if tt.wantErr {
				assert.ErrorIs(t, err, errs.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
