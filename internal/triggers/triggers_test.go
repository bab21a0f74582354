package triggers

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/waterfall-engine/internal/errs"
	"github.com/sells-group/waterfall-engine/internal/model"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestOCCalculate(t *testing.T) {
	t.Parallel()

	test := NewOC("A", dec("1.2"))
	r, err := test.Calculate(dec("110000000"), dec("100000000"))
	require.NoError(t, err)

	assert.Equal(t, "1.1", r.Ratio.String())
	assert.False(t, r.Pass)
	// Interest cure: (1 - 1.1/1.2) x 100M.
	assert.Equal(t, "8333333.33", r.InterestCureNeeded.String())
	// Principal cure: (1.2 x 100M - 110M) / (1.2 - 1).
	assert.Equal(t, "50000000", r.PrincipalCureNeeded.String())
}

func TestOCPassing(t *testing.T) {
	t.Parallel()

	test := NewOC("A", dec("1.2"))
	r, err := test.Calculate(dec("126000000"), dec("100000000"))
	require.NoError(t, err)

	assert.True(t, r.Pass)
	assert.Equal(t, "1.26", r.Ratio.String())
	assert.True(t, r.InterestCureNeeded.IsZero())
	assert.True(t, r.PrincipalCureNeeded.IsZero())
}

func TestOCThresholdAtOrBelowOne(t *testing.T) {
	t.Parallel()

	// With T <= 1 the leverage form divides by zero or flips sign, so
	// the principal cure falls back to the plain shortfall.
	test := NewOC("A", dec("1"))
	r, err := test.Calculate(dec("90"), dec("100"))
	require.NoError(t, err)

	assert.False(t, r.Pass)
	assert.Equal(t, "10", r.PrincipalCureNeeded.String())
	assert.Equal(t, "10", r.InterestCureNeeded.String())
}

func TestZeroDenominatorAutoPass(t *testing.T) {
	t.Parallel()

	test := NewIC("A", dec("1.1"))
	r, err := test.Calculate(dec("5000000"), decimal.Zero)
	require.NoError(t, err)

	assert.True(t, r.Pass)
	assert.True(t, r.Ratio.IsZero())
	assert.True(t, test.InterestCureDue().IsZero())

	test2 := NewOC("B", dec("1.05"))
	r2, err := test2.Calculate(dec("100"), dec("-50"))
	require.NoError(t, err)
	assert.True(t, r2.Pass)
}

func TestICCureIsPlainShortfall(t *testing.T) {
	t.Parallel()

	test := NewIC("A", dec("1.1"))
	r, err := test.Calculate(dec("5000000"), dec("5000000"))
	require.NoError(t, err)

	assert.False(t, r.Pass)
	// 1.1 x 5M - 5M = 500,000 and no principal requirement.
	assert.Equal(t, "500000", r.InterestCureNeeded.String())
	assert.True(t, r.PrincipalCureNeeded.IsZero())
	assert.True(t, test.PrincipalCureDue().IsZero())
}

func TestDoubleCalculateRejected(t *testing.T) {
	t.Parallel()

	test := NewOC("A", dec("1.2"))
	_, err := test.Calculate(dec("110"), dec("100"))
	require.NoError(t, err)

	_, err = test.Calculate(dec("110"), dec("100"))
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestFullInterestCureEliminatesPrincipalCure(t *testing.T) {
	t.Parallel()

	test := NewOC("A", dec("1.2"))
	_, err := test.Calculate(dec("110000000"), dec("100000000"))
	require.NoError(t, err)

	assert.Equal(t, "50000000", test.PrincipalCureDue().String())

	unused, err := test.PayInterest(dec("8333333.33"))
	require.NoError(t, err)
	assert.True(t, unused.IsZero())

	assert.True(t, test.InterestCureDue().IsZero())
	assert.True(t, test.PrincipalCureDue().IsZero(),
		"a fully paid interest cure removes the principal requirement")
}

func TestPartialCurePayments(t *testing.T) {
	t.Parallel()

	test := NewOC("A", dec("1.2"))
	_, err := test.Calculate(dec("110000000"), dec("100000000"))
	require.NoError(t, err)

	unused, err := test.PayInterest(dec("3000000"))
	require.NoError(t, err)
	assert.True(t, unused.IsZero())
	assert.Equal(t, "5333333.33", test.InterestCureDue().String())
	assert.Equal(t, "50000000", test.PrincipalCureDue().String(),
		"partial interest cure leaves the principal requirement intact")

	unused, err = test.PayPrincipal(dec("60000000"))
	require.NoError(t, err)
	assert.Equal(t, "10000000", unused.String())
	assert.True(t, test.PrincipalCureDue().IsZero())
}

func TestPriorCureNetting(t *testing.T) {
	t.Parallel()

	test := NewOC("A", dec("1.2"))
	_, err := test.Calculate(dec("110000000"), dec("100000000"))
	require.NoError(t, err)

	unused, err := test.AddPriorInterestCure(dec("10000000"))
	require.NoError(t, err)
	assert.Equal(t, "1666666.67", unused.String())
	assert.True(t, test.InterestCureDue().IsZero())
	assert.True(t, test.PrincipalCureDue().IsZero())
}

func TestPaymentErrors(t *testing.T) {
	t.Parallel()

	test := NewOC("A", dec("1.2"))

	_, err := test.PayInterest(dec("1"))
	assert.ErrorIs(t, err, errs.ErrValidation, "paying before calculate")

	_, err = test.Calculate(dec("110"), dec("100"))
	require.NoError(t, err)
	_, err = test.PayInterest(dec("-1"))
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestRollforward(t *testing.T) {
	t.Parallel()

	test := NewOC("A", dec("1.2"))

	_, err := test.Rollforward()
	assert.ErrorIs(t, err, errs.ErrValidation, "rollforward before calculate")

	_, err = test.Calculate(dec("110"), dec("100"))
	require.NoError(t, err)
	frozen, err := test.Rollforward()
	require.NoError(t, err)
	assert.Equal(t, 1, frozen.Period)
	assert.Nil(t, test.Current())

	// Next period calculates fresh.
	r, err := test.Calculate(dec("125"), dec("100"))
	require.NoError(t, err)
	assert.Equal(t, 2, r.Period)
	assert.True(t, r.Pass)
}

func engineDeal() *model.Deal {
	return &model.Deal{
		ID: "clo-1",
		Tranches: []*model.Tranche{
			{
				ID: "B", Seniority: 2,
				CurrentBalance: model.DecFromString("100000000"),
				OCThreshold:    model.DecFromString("1.05"),
			},
			{
				ID: "A", Seniority: 1,
				CurrentBalance: model.DecFromString("300000000"),
				OCThreshold:    model.DecFromString("1.2"),
				ICThreshold:    model.DecFromString("1.1"),
			},
		},
	}
}

func TestEngineBuildsSeniorFirst(t *testing.T) {
	t.Parallel()

	eng := NewEngine(engineDeal())
	tests := eng.Tests()
	require.Len(t, tests, 3)

	assert.Equal(t, "A", tests[0].Tranche())
	assert.Equal(t, OC, tests[0].Kind())
	assert.Equal(t, "A", tests[1].Tranche())
	assert.Equal(t, IC, tests[1].Kind())
	assert.Equal(t, "B", tests[2].Tranche())

	_, err := eng.Test(IC, "B")
	assert.ErrorIs(t, err, errs.ErrValidation, "B has no IC threshold")
}

func TestEngineAggregates(t *testing.T) {
	t.Parallel()

	eng := NewEngine(engineDeal())
	assert.True(t, eng.AllPass(OC), "uncalculated tests count as passing")
	assert.False(t, eng.AnyFailing())

	ocA, err := eng.Test(OC, "A")
	require.NoError(t, err)
	_, err = ocA.Calculate(dec("110000000"), dec("100000000"))
	require.NoError(t, err)

	icA, err := eng.Test(IC, "A")
	require.NoError(t, err)
	_, err = icA.Calculate(dec("7500000"), dec("5000000"))
	require.NoError(t, err)

	ocB, err := eng.Test(OC, "B")
	require.NoError(t, err)
	_, err = ocB.Calculate(dec("440000000"), dec("400000000"))
	require.NoError(t, err)

	assert.False(t, eng.AllPass(OC))
	assert.True(t, eng.AllPass(IC))
	assert.True(t, eng.AnyFailing())

	// 8,333,333.33 interest + 50M principal from the failing A test.
	assert.Equal(t, "58333333.33", eng.CureDue().String())

	results := eng.CurrentResults()
	require.Len(t, results, 3)
	assert.False(t, results[0].Pass)
	assert.True(t, results[1].Pass)

	frozen, err := eng.Rollforward()
	require.NoError(t, err)
	assert.Len(t, frozen, 3)
	assert.Empty(t, eng.CurrentResults())
}
