package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/waterfall-engine/internal/engine"
	"github.com/sells-group/waterfall-engine/internal/model"
	"github.com/sells-group/waterfall-engine/internal/resilience"
	"github.com/sells-group/waterfall-engine/internal/store"
)

var (
	runDealPath   string
	runInputsPath string
	runNoSave     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the waterfall for a single payment date",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		deal, err := model.LoadDeal(runDealPath)
		if err != nil {
			return err
		}
		periods, err := model.LoadPeriodInputs(runInputsPath)
		if err != nil {
			return err
		}
		if len(periods) == 0 {
			return eris.Errorf("no periods in %s", runInputsPath)
		}

		var st store.Store
		if !runNoSave {
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

		if _, err := eng.RunPeriod(periods[0]); err != nil {
			return eris.Wrap(err, "run period")
		}
		res, err := eng.Rollforward()
		if err != nil {
			return eris.Wrap(err, "rollforward")
		}

		zap.L().Info("waterfall complete",
			zap.String("deal", deal.ID),
			zap.String("execution", res.Execution.ID.String()),
			zap.String("paid", res.Execution.TotalPaid.String()),
			zap.String("deferred", res.Execution.TotalDeferred.String()),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

// persistTo returns a PersistFunc that saves results through the store with
// retry on transient failures. A nil store disables persistence.
func persistTo(ctx context.Context, st store.Store) engine.PersistFunc {
	if st == nil {
		return nil
	}
	rc := resilience.DefaultRetryConfig()
	if cfg.Run.PersistRetries > 0 {
		rc.MaxAttempts = cfg.Run.PersistRetries
	}
	return func(res *engine.PeriodResult) error {
		return resilience.Do(ctx, rc, func(ctx context.Context) error {
			return st.SavePeriod(ctx, res)
		})
	}
}

func init() {
	runCmd.Flags().StringVar(&runDealPath, "deal", "deal.yaml", "deal configuration file")
	runCmd.Flags().StringVar(&runInputsPath, "inputs", "periods.yaml", "period inputs file (first period is used)")
	runCmd.Flags().BoolVar(&runNoSave, "no-save", false, "skip persisting the result")
	rootCmd.AddCommand(runCmd)
}
