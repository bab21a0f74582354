package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/waterfall-engine/internal/errs"
)

var (
	runsDealID string
	runsLimit  int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored waterfall executions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		summaries, err := st.ListExecutions(ctx, runsDealID, runsLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "EXECUTION\tDEAL\tPERIOD\tPAYMENT DATE\tPHASE\tCOLLECTIONS\tPAID\tDEFERRED\tACCEL")
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%v\n",
				s.ID, s.DealID, s.Period, s.PaymentDate.Format("2006-01-02"),
				s.Phase, s.Collections, s.TotalPaid, s.TotalDeferred, s.Accelerated)
		}
		return w.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <execution-id>",
	Short: "Print one stored period result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := st.GetPeriod(ctx, args[0])
		if err != nil {
			return err
		}
		if res == nil {
			return errs.Validationf("cmd: execution %s not found", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsDealID, "deal-id", "", "filter by deal id")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum rows to list")
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(showCmd)
}
