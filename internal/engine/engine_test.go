package engine

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/waterfall-engine/internal/daycount"
	"github.com/sells-group/waterfall-engine/internal/errs"
	"github.com/sells-group/waterfall-engine/internal/model"
	"github.com/sells-group/waterfall-engine/internal/triggers"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func engineDeal() *model.Deal {
	return &model.Deal{
		ID:                "clo-2026-1",
		OpeningCollateral: model.DecFromString("500000000"),
		Dates: model.DealDates{
			Closing:         time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC),
			RampUpEnd:       time.Date(2026, time.July, 15, 0, 0, 0, 0, time.UTC),
			ReinvestmentEnd: time.Date(2030, time.July, 15, 0, 0, 0, 0, time.UTC),
			NoCallEnd:       time.Date(2032, time.July, 15, 0, 0, 0, 0, time.UTC),
			Maturity:        time.Date(2039, time.July, 15, 0, 0, 0, 0, time.UTC),
		},
		DayCount: daycount.Act360,
		Tranches: []*model.Tranche{
			{
				ID: "A", Seniority: 1,
				OriginalBalance: model.DecFromString("300000000"),
				CurrentBalance:  model.DecFromString("300000000"),
				Coupon:          model.Coupon{Type: model.CouponFloating, Margin: model.DecFromString("0.014")},
				OCThreshold:     model.DecFromString("1.2"),
				ICThreshold:     model.DecFromString("1.1"),
			},
			{
				ID: "B", Seniority: 2,
				OriginalBalance: model.DecFromString("100000000"),
				CurrentBalance:  model.DecFromString("100000000"),
				Coupon:          model.Coupon{Type: model.CouponFixed, Rate: model.DecFromString("0.065")},
				Deferrable:      true,
			},
		},
		Accounts: []model.AccountDef{
			{Name: "collection", Type: model.AccountCollection},
			{Name: "expense", Type: model.AccountExpense},
			{Name: "reserve", Type: model.AccountReserve},
			{Name: "residual", Type: model.AccountResidual},
		},
		Fees: []model.FeeDef{
			{Name: "senior management fee", Basis: model.BasisBeginning, AnnualRate: model.DecFromString("0.005"), DayCount: daycount.Act360},
		},
		Rules: []model.Rule{
			{Step: "senior-mgmt-fee", Sequence: 10, Kind: model.StepSeniorFee, Target: "senior management fee"},
			{Step: "class-a-interest", Sequence: 20, Kind: model.StepInterest, Target: "A", CashType: model.CashInterest},
			{Step: "class-a-oc-cure", Sequence: 30, Kind: model.StepInterestCure, Target: "A", Conditions: []string{"oc_tests_fail"}},
			{Step: "class-a-principal", Sequence: 40, Kind: model.StepPrincipal, Target: "A", CashType: model.CashPrincipal},
			{Step: "class-b-interest", Sequence: 50, Kind: model.StepInterest, Target: "B", CashType: model.CashInterest},
			{Step: "residual", Sequence: 100, Kind: model.StepResidual, TargetAccount: "residual"},
		},
	}
}

func period1Inputs() model.PeriodInputs {
	return model.PeriodInputs{
		PaymentDate:          time.Date(2027, time.October, 13, 0, 0, 0, 0, time.UTC),
		PeriodStart:          time.Date(2027, time.July, 15, 0, 0, 0, 0, time.UTC),
		PeriodEnd:            time.Date(2027, time.October, 13, 0, 0, 0, 0, time.UTC),
		InterestCollections:  model.DecFromString("7500000"),
		PrincipalCollections: model.DecFromString("12000000"),
		CollateralBalance:    model.DecFromString("450000000"),
		IndexRate:            model.DecFromString("0.043"),
	}
}

func TestRunPeriodHappyPath(t *testing.T) {
	t.Parallel()

	eng, err := New(engineDeal())
	require.NoError(t, err)
	require.Equal(t, 1, eng.Period())

	res, err := eng.RunPeriod(period1Inputs())
	require.NoError(t, err)
	require.NotNil(t, res.Execution)

	assert.Equal(t, "clo-2026-1", res.DealID)
	assert.Equal(t, 1, res.Period)
	assert.Equal(t, model.PhaseReinvestment, res.Execution.Phase)

	// Coupons: class A floats at 4.3% + 1.4% over 90/360 on 300M, class
	// B is fixed at 6.5% on 100M.
	var aInt, bInt decimal.Decimal
	for _, r := range res.Execution.Records {
		switch r.Step {
		case "class-a-interest":
			aInt = r.AmountDue
		case "class-b-interest":
			bInt = r.AmountDue
		}
	}
	assert.Equal(t, "4275000", aInt.String())
	assert.Equal(t, "1625000", bInt.String())

	// 450M collateral against 300M of class A notes passes both tests.
	require.Len(t, res.Triggers, 2)
	for _, tr := range res.Triggers {
		assert.True(t, tr.Pass, "%s %s", tr.Kind, tr.Tranche)
	}

	// IC numerator is interest collections; denominator the cumulative
	// interest due through class A.
	for _, tr := range res.Triggers {
		if tr.Kind == triggers.IC {
			assert.Equal(t, "7500000", tr.Numerator.String())
			assert.Equal(t, "4275000", tr.Denominator.String())
		}
	}

	require.Len(t, res.Fees, 1)
	assert.Equal(t, "625000", res.Fees[0].Accrued.String())
	assert.Equal(t, "625000", res.Fees[0].Paid.String())
}

func TestPendingGuards(t *testing.T) {
	t.Parallel()

	eng, err := New(engineDeal())
	require.NoError(t, err)

	_, err = eng.Rollforward()
	assert.ErrorIs(t, err, errs.ErrValidation, "nothing to roll forward")

	_, err = eng.RunPeriod(period1Inputs())
	require.NoError(t, err)

	_, err = eng.RunPeriod(period1Inputs())
	assert.ErrorIs(t, err, errs.ErrValidation, "pending period not rolled forward")

	_, err = eng.Rollforward()
	require.NoError(t, err)
	assert.Equal(t, 2, eng.Period())
}

func TestInterestDueOverride(t *testing.T) {
	t.Parallel()

	eng, err := New(engineDeal())
	require.NoError(t, err)

	in := period1Inputs()
	in.InterestDue = map[string]model.Decimal{"A": model.DecFromString("5000000")}

	res, err := eng.RunPeriod(in)
	require.NoError(t, err)

	for _, r := range res.Execution.Records {
		if r.Step == "class-a-interest" {
			assert.Equal(t, "5000000", r.AmountDue.String())
		}
		if r.Step == "class-b-interest" {
			assert.Equal(t, "1625000", r.AmountDue.String(), "unoverridden tranche still computes from the coupon")
		}
	}
}

func TestCarriedCuresNetAcrossPeriods(t *testing.T) {
	t.Parallel()

	deal := engineDeal()
	// Drop the IC test so the scenario isolates the OC cure algebra.
	deal.Tranches[0].ICThreshold = model.Decimal{}
	eng, err := New(deal)
	require.NoError(t, err)

	in := period1Inputs()
	in.CollateralBalance = model.DecFromString("330000000")
	// Pin the liability so the period 2 ratio repeats exactly even after
	// cure cash retires class A principal.
	in.Liability = map[string]model.Decimal{"A": model.DecFromString("300000000")}

	res, err := eng.RunPeriod(in)
	require.NoError(t, err)

	require.Len(t, res.Triggers, 1)
	oc := res.Triggers[0]
	require.False(t, oc.Pass)
	assert.Equal(t, "1.1", oc.Ratio.String())
	assert.Equal(t, "25000000", oc.InterestCureNeeded.String())

	// 19.5M of collections less the fee and class A interest flows into
	// the cure.
	frozen, err := eng.Rollforward()
	require.NoError(t, err)
	assert.Equal(t, "14600000", frozen.Triggers[0].InterestCurePaid.String())

	// Period 2: same failure, the carried cure nets against the fresh
	// requirement before any new cash is applied.
	in2 := in
	in2.PaymentDate = in.PaymentDate.AddDate(0, 3, 2)
	in2.PeriodStart = in.PeriodEnd
	in2.PeriodEnd = in2.PaymentDate

	res2, err := eng.RunPeriod(in2)
	require.NoError(t, err)

	oc2 := res2.Triggers[0]
	assert.False(t, oc2.Pass)
	assert.Equal(t, "14600000", oc2.PriorInterestCure.String())
}

func TestCureConsumedOnPass(t *testing.T) {
	t.Parallel()

	deal := engineDeal()
	deal.Tranches[0].ICThreshold = model.Decimal{}
	eng, err := New(deal)
	require.NoError(t, err)

	in := period1Inputs()
	in.CollateralBalance = model.DecFromString("330000000")
	in.Liability = map[string]model.Decimal{"A": model.DecFromString("300000000")}

	_, err = eng.RunPeriod(in)
	require.NoError(t, err)
	_, err = eng.Rollforward()
	require.NoError(t, err)

	// Period 2 passes outright; the carried cure is consumed, not banked.
	in2 := in
	in2.PaymentDate = in.PaymentDate.AddDate(0, 3, 2)
	in2.PeriodStart = in.PeriodEnd
	in2.PeriodEnd = in2.PaymentDate
	in2.CollateralBalance = model.DecFromString("450000000")

	res2, err := eng.RunPeriod(in2)
	require.NoError(t, err)
	require.True(t, res2.Triggers[0].Pass)
	_, err = eng.Rollforward()
	require.NoError(t, err)

	// Period 3 fails again with no prior cure left.
	in3 := in
	in3.PaymentDate = in2.PaymentDate.AddDate(0, 3, 0)
	in3.PeriodStart = in2.PeriodEnd
	in3.PeriodEnd = in3.PaymentDate

	res3, err := eng.RunPeriod(in3)
	require.NoError(t, err)
	assert.False(t, res3.Triggers[0].Pass)
	assert.True(t, res3.Triggers[0].PriorInterestCure.IsZero())
}

func TestCureCarryExceedingRequirementIsKept(t *testing.T) {
	t.Parallel()

	deal := engineDeal()
	deal.Tranches[0].ICThreshold = model.Decimal{}
	eng, err := New(deal)
	require.NoError(t, err)

	in := period1Inputs()
	in.CollateralBalance = model.DecFromString("330000000")
	in.Liability = map[string]model.Decimal{"A": model.DecFromString("300000000")}

	// Period 1 banks a 14.6M interest cure against a 25M requirement.
	_, err = eng.RunPeriod(in)
	require.NoError(t, err)
	frozen, err := eng.Rollforward()
	require.NoError(t, err)
	require.Equal(t, "14600000", frozen.Triggers[0].InterestCurePaid.String())

	// Period 2 still fails but the collateral recovers enough that the
	// fresh requirement (10M) sits below the carry.
	in2 := in
	in2.PaymentDate = in.PaymentDate.AddDate(0, 3, 2)
	in2.PeriodStart = in.PeriodEnd
	in2.PeriodEnd = in2.PaymentDate
	in2.CollateralBalance = model.DecFromString("348000000")

	res2, err := eng.RunPeriod(in2)
	require.NoError(t, err)
	oc2 := res2.Triggers[0]
	require.False(t, oc2.Pass)
	assert.Equal(t, "10000000", oc2.InterestCureNeeded.String())
	assert.Equal(t, "10000000", oc2.PriorInterestCure.String())
	_, err = eng.Rollforward()
	require.NoError(t, err)

	// Period 3 fails hard again; the 4.6M the requirement did not absorb
	// is still part of the carry.
	in3 := in
	in3.PaymentDate = in2.PaymentDate.AddDate(0, 3, 0)
	in3.PeriodStart = in2.PeriodEnd
	in3.PeriodEnd = in3.PaymentDate

	res3, err := eng.RunPeriod(in3)
	require.NoError(t, err)
	oc3 := res3.Triggers[0]
	require.False(t, oc3.Pass)
	assert.Equal(t, "14600000", oc3.PriorInterestCure.String())
}

func TestPersistCallback(t *testing.T) {
	t.Parallel()

	var saved []*PeriodResult
	eng, err := New(engineDeal(), WithPersist(func(res *PeriodResult) error {
		saved = append(saved, res)
		return nil
	}))
	require.NoError(t, err)

	_, err = eng.RunPeriod(period1Inputs())
	require.NoError(t, err)
	_, err = eng.Rollforward()
	require.NoError(t, err)

	require.Len(t, saved, 1)
	assert.Equal(t, 1, saved[0].Period)
	assert.Equal(t, "clo-2026-1", saved[0].DealID)
}

func TestPersistErrorPropagates(t *testing.T) {
	t.Parallel()

	eng, err := New(engineDeal(), WithPersist(func(*PeriodResult) error {
		return eris.New("store unavailable")
	}))
	require.NoError(t, err)

	_, err = eng.RunPeriod(period1Inputs())
	require.NoError(t, err)

	_, err = eng.Rollforward()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")
}

func TestNewRejectsInvalidDeal(t *testing.T) {
	t.Parallel()

	deal := engineDeal()
	deal.Accounts = nil
	_, err := New(deal)
	assert.ErrorIs(t, err, errs.ErrConfiguration)

	deal = engineDeal()
	deal.Fees = append(deal.Fees, deal.Fees[0])
	_, err = New(deal)
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestInvalidInputsRejected(t *testing.T) {
	t.Parallel()

	eng, err := New(engineDeal())
	require.NoError(t, err)

	in := period1Inputs()
	in.InterestCollections = model.Dec(dec("-1"))
	_, err = eng.RunPeriod(in)
	assert.ErrorIs(t, err, errs.ErrValidation)
}
