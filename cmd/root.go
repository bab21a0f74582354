package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/waterfall-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "waterfall-engine",
	Short: "Structured-finance payment waterfall engine",
	Long:  "Computes period-by-period cash distributions for structured-finance deals: compliance triggers, fee accruals, payment rule resolution and waterfall execution.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
