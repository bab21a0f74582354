package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/waterfall-engine/internal/engine"
	"github.com/sells-group/waterfall-engine/internal/model"
	"github.com/sells-group/waterfall-engine/internal/store"
)

var (
	simDealPath   string
	simInputsPath string
	simNoSave     bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the waterfall over every period in an inputs file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		deal, err := model.LoadDeal(simDealPath)
		if err != nil {
			return err
		}
		periods, err := model.LoadPeriodInputs(simInputsPath)
		if err != nil {
			return err
		}
		if len(periods) == 0 {
			return eris.Errorf("no periods in %s", simInputsPath)
		}

		var st store.Store
		if !simNoSave {
			st, err = initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(ctx); err != nil {
				return eris.Wrap(err, "migrate store")
			}
		}

		eng, err := engine.New(deal, engine.WithPersist(persistTo(ctx, st)))
		if err != nil {
			return err
		}

		results, err := runAllPeriods(eng, periods)
		if err != nil {
			return err
		}

		last := results[len(results)-1]
		zap.L().Info("simulation complete",
			zap.String("deal", deal.ID),
			zap.Int("periods", len(results)),
			zap.String("final_phase", string(last.Execution.Phase)),
		)
		return nil
	},
}

// runAllPeriods runs and rolls forward each period in order, stopping at
// the first failure.
func runAllPeriods(eng *engine.Engine, periods []model.PeriodInputs) ([]*engine.PeriodResult, error) {
	results := make([]*engine.PeriodResult, 0, len(periods))
	for i, in := range periods {
		if _, err := eng.RunPeriod(in); err != nil {
			return nil, eris.Wrapf(err, "period %d", i)
		}
		res, err := eng.Rollforward()
		if err != nil {
			return nil, eris.Wrapf(err, "period %d rollforward", i)
		}
		results = append(results, res)
	}
	return results, nil
}

func init() {
	simulateCmd.Flags().StringVar(&simDealPath, "deal", "deal.yaml", "deal configuration file")
	simulateCmd.Flags().StringVar(&simInputsPath, "inputs", "periods.yaml", "period inputs file")
	simulateCmd.Flags().BoolVar(&simNoSave, "no-save", false, "skip persisting results")
	rootCmd.AddCommand(simulateCmd)
}
