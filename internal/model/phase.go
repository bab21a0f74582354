package model

import "time"

// Phase is where the deal sits in its lifecycle on a payment date. It is
// derived purely from the deal dates, never persisted as its own state.
type Phase string

const (
	PhaseRampUp       Phase = "ramp_up"
	PhaseReinvestment Phase = "reinvestment"
	PhaseAmortization Phase = "amortization"
	PhaseCallPeriod   Phase = "call_period"
	PhaseTerminated   Phase = "terminated"
)

// PhaseOn derives the phase for a payment date from the deal dates.
func (d *Deal) PhaseOn(paymentDate time.Time) Phase {
	switch {
	case !paymentDate.Before(d.Dates.Maturity):
		return PhaseTerminated
	case !paymentDate.Before(d.Dates.NoCallEnd):
		return PhaseCallPeriod
	case !paymentDate.Before(d.Dates.ReinvestmentEnd):
		return PhaseAmortization
	case !paymentDate.Before(d.Dates.RampUpEnd):
		return PhaseReinvestment
	default:
		return PhaseRampUp
	}
}
