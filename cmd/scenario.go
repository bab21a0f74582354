package main

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/waterfall-engine/internal/engine"
	"github.com/sells-group/waterfall-engine/internal/model"
)

var (
	scnDealPath      string
	scnInputsPath    string
	scnScenariosPath string
)

// scenarioOutcome summarizes one what-if run for the comparison table.
type scenarioOutcome struct {
	Name          string
	Periods       int
	TotalPaid     string
	TotalDeferred string
	TriggerFails  int
	Accelerated   bool
	FinalResidual string
	FinalTranches map[string]string
}

var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Run what-if scenarios against a deal in parallel",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		periods, err := model.LoadPeriodInputs(scnInputsPath)
		if err != nil {
			return err
		}
		if len(periods) == 0 {
			return eris.Errorf("no periods in %s", scnInputsPath)
		}
		scenarios, err := model.LoadScenarios(scnScenariosPath)
		if err != nil {
			return err
		}
		if len(scenarios) == 0 {
			return eris.Errorf("no scenarios in %s", scnScenariosPath)
		}

		var (
			mu       sync.Mutex
			outcomes []scenarioOutcome
		)

		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Run.MaxConcurrentScenarios)

		for _, sc := range scenarios {
			sc := sc
			g.Go(func() error {
				// Engines mutate the deal's tranche balances, so each
				// scenario loads its own copy.
				deal, err := model.LoadDeal(scnDealPath)
				if err != nil {
					return err
				}
				eng, err := engine.New(deal)
				if err != nil {
					return eris.Wrapf(err, "scenario %s", sc.Name)
				}

				scaled := make([]model.PeriodInputs, len(periods))
				for i, in := range periods {
					scaled[i] = sc.Apply(in)
				}
				results, err := runAllPeriods(eng, scaled)
				if err != nil {
					return eris.Wrapf(err, "scenario %s", sc.Name)
				}

				mu.Lock()
				outcomes = append(outcomes, summarizeScenario(sc.Name, results))
				mu.Unlock()

				zap.L().Info("scenario complete", zap.String("scenario", sc.Name))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Name < outcomes[j].Name })
		printScenarioTable(outcomes)
		return nil
	},
}

func summarizeScenario(name string, results []*engine.PeriodResult) scenarioOutcome {
	out := scenarioOutcome{Name: name, Periods: len(results)}

	paid := decimal.Zero
	deferred := decimal.Zero
	for _, res := range results {
		paid = paid.Add(res.Execution.TotalPaid)
		deferred = deferred.Add(res.Execution.TotalDeferred)
		for _, tr := range res.Triggers {
			if !tr.Pass {
				out.TriggerFails++
			}
		}
		if res.Execution.Accelerated {
			out.Accelerated = true
		}
	}
	out.TotalPaid = paid.StringFixed(2)
	out.TotalDeferred = deferred.StringFixed(2)

	last := results[len(results)-1]
	out.FinalTranches = make(map[string]string, len(last.Execution.TrancheBalances))
	for id, bal := range last.Execution.TrancheBalances {
		out.FinalTranches[id] = bal.StringFixed(2)
	}
	for _, rec := range last.Execution.Records {
		if rec.Kind == model.StepResidual {
			out.FinalResidual = rec.AmountPaid.StringFixed(2)
		}
	}
	return out
}

func printScenarioTable(outcomes []scenarioOutcome) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCENARIO\tPERIODS\tTOTAL PAID\tTOTAL DEFERRED\tTRIGGER FAILS\tACCELERATED\tFINAL RESIDUAL")
	for _, o := range outcomes {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%v\t%s\n",
			o.Name, o.Periods, o.TotalPaid, o.TotalDeferred, o.TriggerFails, o.Accelerated, o.FinalResidual)
	}
	_ = w.Flush()
}

func init() {
	scenarioCmd.Flags().StringVar(&scnDealPath, "deal", "deal.yaml", "deal configuration file")
	scenarioCmd.Flags().StringVar(&scnInputsPath, "inputs", "periods.yaml", "period inputs file")
	scenarioCmd.Flags().StringVar(&scnScenariosPath, "scenarios", "scenarios.yaml", "scenario definitions file")
	rootCmd.AddCommand(scenarioCmd)
}
