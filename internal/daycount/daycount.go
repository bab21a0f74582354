// Package daycount implements the day-count fraction conventions used for
// fee and coupon accrual.
package daycount

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/waterfall-engine/internal/errs"
)

// Convention names a day-count basis.
type Convention string

const (
	Act360    Convention = "ACT/360"
	Act365    Convention = "ACT/365"
	Thirty360 Convention = "30/360"
)

var (
	d360 = decimal.NewFromInt(360)
	d365 = decimal.NewFromInt(365)
)

// Fraction returns the year fraction between start and end under conv.
// End before start is a validation error; an unknown convention is a
// configuration error.
func Fraction(conv Convention, start, end time.Time) (decimal.Decimal, error) {
	if end.Before(start) {
		return decimal.Zero, errs.Validationf("daycount: period end %s before start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	switch conv {
	case Act360:
		return decimal.NewFromInt(actualDays(start, end)).Div(d360), nil
	case Act365:
		return decimal.NewFromInt(actualDays(start, end)).Div(d365), nil
	case Thirty360:
		return decimal.NewFromInt(thirty360Days(start, end)).Div(d360), nil
	default:
		return decimal.Zero, errs.Configf("daycount: unknown convention %q", conv)
	}
}

// Days returns the day count between start and end under conv (the
// numerator of the fraction).
func Days(conv Convention, start, end time.Time) (int64, error) {
	switch conv {
	case Act360, Act365:
		return actualDays(start, end), nil
	case Thirty360:
		return thirty360Days(start, end), nil
	default:
		return 0, errs.Configf("daycount: unknown convention %q", conv)
	}
}

func actualDays(start, end time.Time) int64 {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return int64(e.Sub(s).Hours() / 24)
}

// thirty360Days applies the standard 30/360 adjustment: day-of-month is
// capped at 30 on both ends before differencing.
func thirty360Days(start, end time.Time) int64 {
	y1, m1, d1 := start.Date()
	y2, m2, d2 := end.Date()
	if d1 > 30 {
		d1 = 30
	}
	if d2 > 30 {
		d2 = 30
	}
	return int64((y2-y1)*360 + (int(m2)-int(m1))*30 + (d2 - d1))
}
