package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/waterfall-engine/internal/engine"
	"github.com/sells-group/waterfall-engine/internal/model"
	"github.com/sells-group/waterfall-engine/internal/report"
)

var (
	expDealPath   string
	expInputsPath string
	expOutPath    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Run a full simulation and write an xlsx report",
	RunE: func(cmd *cobra.Command, args []string) error {
		deal, err := model.LoadDeal(expDealPath)
		if err != nil {
			return err
		}
		periods, err := model.LoadPeriodInputs(expInputsPath)
		if err != nil {
			return err
		}
		if len(periods) == 0 {
			return eris.Errorf("no periods in %s", expInputsPath)
		}

		eng, err := engine.New(deal)
		if err != nil {
			return err
		}
		results, err := runAllPeriods(eng, periods)
		if err != nil {
			return err
		}

		if err := report.WriteWorkbook(expOutPath, results); err != nil {
			return err
		}
		zap.L().Info("report written",
			zap.String("deal", deal.ID),
			zap.Int("periods", len(results)),
			zap.String("path", expOutPath),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&expDealPath, "deal", "deal.yaml", "deal configuration file")
	exportCmd.Flags().StringVar(&expInputsPath, "inputs", "periods.yaml", "period inputs file")
	exportCmd.Flags().StringVar(&expOutPath, "out", "waterfall.xlsx", "output workbook path")
	rootCmd.AddCommand(exportCmd)
}
