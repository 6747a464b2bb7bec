// Package cmd implements the riskctl command line.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lpwatch/risk-engine/internal/config"
	"github.com/lpwatch/risk-engine/internal/log"
)

// NewRootCmd builds the riskctl command tree.
func NewRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "riskctl",
		Short: "Offline liquidity position risk checks and range backtests",
		Long: `riskctl runs the risk engine against JSON files, without a database.

It can:
  - backtest a price range on a pool snapshot
  - compare several ranges and pick the best risk-adjusted one
  - evaluate a proposed position against risk settings
  - summarize portfolio concentration`,
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	logger := func() *zap.Logger {
		level := "warn"
		if verbose {
			level = "debug"
		}
		l, err := log.NewLogger(config.LoggingConfig{
			Level:       level,
			Encoding:    "console",
			OutputPaths: []string{"stderr"},
		}, "riskctl")
		if err != nil {
			return zap.NewNop()
		}
		return l
	}

	root.AddCommand(
		newBacktestCmd(logger),
		newCompareCmd(logger),
		newEvaluateCmd(logger),
		newPortfolioCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func readJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDecimal(name, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("--%s is required", name)
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("--%s: %w", name, err)
	}
	return v, nil
}
