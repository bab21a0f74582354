// Package report renders period results into an xlsx workbook for the
// trustee-style review that usually happens in spreadsheets anyway.
package report

import (
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/waterfall-engine/internal/engine"
)

// WriteWorkbook writes one workbook with a Summary sheet plus detailed
// Payments, Triggers and Fees sheets covering every period result.
func WriteWorkbook(path string, results []*engine.PeriodResult) error {
	file := xlsx.NewFile()

	if err := writeSummary(file, results); err != nil {
		return err
	}
	if err := writePayments(file, results); err != nil {
		return err
	}
	if err := writeTriggers(file, results); err != nil {
		return err
	}
	if err := writeFees(file, results); err != nil {
		return err
	}

	return eris.Wrapf(file.Save(path), "report: save %s", path)
}

func writeSummary(file *xlsx.File, results []*engine.PeriodResult) error {
	sheet, err := file.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "report: add summary sheet")
	}
	header(sheet, "Period", "Payment Date", "Phase", "Strategy", "Collections", "Total Paid", "Total Deferred", "Total Capitalized", "Accelerated")

	for _, res := range results {
		e := res.Execution
		row := sheet.AddRow()
		row.AddCell().SetInt(res.Period)
		row.AddCell().Value = e.PaymentDate.Format("2006-01-02")
		row.AddCell().Value = string(e.Phase)
		row.AddCell().Value = e.Strategy
		setAmount(row, e.Collections)
		setAmount(row, e.TotalPaid)
		setAmount(row, e.TotalDeferred)
		setAmount(row, e.TotalCapitalized)
		row.AddCell().SetBool(e.Accelerated)
	}
	return nil
}

func writePayments(file *xlsx.File, results []*engine.PeriodResult) error {
	sheet, err := file.AddSheet("Payments")
	if err != nil {
		return eris.Wrap(err, "report: add payments sheet")
	}
	header(sheet, "Period", "Step", "Kind", "Target", "Due", "Paid", "Deferred", "Capitalized", "Skipped", "Remaining Cash")

	for _, res := range results {
		for _, r := range res.Execution.Records {
			row := sheet.AddRow()
			row.AddCell().SetInt(res.Period)
			row.AddCell().Value = r.Step
			row.AddCell().Value = string(r.Kind)
			row.AddCell().Value = r.Target
			setAmount(row, r.AmountDue)
			setAmount(row, r.AmountPaid)
			setAmount(row, r.AmountDeferred)
			setAmount(row, r.AmountCapitalized)
			row.AddCell().SetBool(r.Skipped)
			setAmount(row, r.RemainingCash)
		}
	}
	return nil
}

func writeTriggers(file *xlsx.File, results []*engine.PeriodResult) error {
	sheet, err := file.AddSheet("Triggers")
	if err != nil {
		return eris.Wrap(err, "report: add triggers sheet")
	}
	header(sheet, "Period", "Tranche", "Test", "Numerator", "Denominator", "Ratio", "Threshold", "Pass", "Interest Cure Needed", "Principal Cure Needed", "Interest Cure Paid", "Principal Cure Paid")

	for _, res := range results {
		for _, t := range res.Triggers {
			row := sheet.AddRow()
			row.AddCell().SetInt(res.Period)
			row.AddCell().Value = t.Tranche
			row.AddCell().Value = string(t.Kind)
			setAmount(row, t.Numerator)
			setAmount(row, t.Denominator)
			row.AddCell().Value = t.Ratio.StringFixed(6)
			row.AddCell().Value = t.Threshold.String()
			row.AddCell().SetBool(t.Pass)
			setAmount(row, t.InterestCureNeeded)
			setAmount(row, t.PrincipalCureNeeded)
			setAmount(row, t.InterestCurePaid)
			setAmount(row, t.PrincipalCurePaid)
		}
	}
	return nil
}

func writeFees(file *xlsx.File, results []*engine.PeriodResult) error {
	sheet, err := file.AddSheet("Fees")
	if err != nil {
		return eris.Wrap(err, "report: add fees sheet")
	}
	header(sheet, "Period", "Fee", "Basis Used", "Beginning Unpaid", "Accrued", "Paid", "Ending Unpaid", "Calculated")

	for _, res := range results {
		for _, f := range res.Fees {
			row := sheet.AddRow()
			row.AddCell().SetInt(res.Period)
			row.AddCell().Value = f.Fee
			setAmount(row, f.BasisUsed)
			setAmount(row, f.BeginningUnpaid)
			setAmount(row, f.Accrued)
			setAmount(row, f.Paid)
			setAmount(row, f.EndingUnpaid)
			row.AddCell().SetBool(f.Calculated)
		}
	}
	return nil
}

func header(sheet *xlsx.Sheet, names ...string) {
	row := sheet.AddRow()
	for _, name := range names {
		row.AddCell().Value = name
	}
}

func setAmount(row *xlsx.Row, d decimal.Decimal) {
	row.AddCell().SetFloatWithFormat(d.InexactFloat64(), "#,##0.00")
}
