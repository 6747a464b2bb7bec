package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lpwatch/risk-engine/internal/audit"
	"github.com/lpwatch/risk-engine/internal/journal"
	"github.com/lpwatch/risk-engine/internal/model"
	"github.com/lpwatch/risk-engine/internal/risk"
)

func loadRiskContext(settingsPath, positionsPath string) (risk.RiskContext, error) {
	var settings model.RiskSettings
	if err := readJSON(settingsPath, &settings); err != nil {
		return risk.RiskContext{}, err
	}
	var positions []model.PositionSnapshot
	if positionsPath != "" {
		if err := readJSON(positionsPath, &positions); err != nil {
			return risk.RiskContext{}, err
		}
	}
	return risk.NewContext(&settings, positions, nil), nil
}

func newEvaluateCmd(logger func() *zap.Logger) *cobra.Command {
	var (
		settingsPath  string
		positionsPath string
		poolPath      string
		capitalFlag   string
		journalPath   string
	)

	c := &cobra.Command{
		Use:   "evaluate",
		Short: "Check a proposed position against risk settings",
		Long: `Evaluate applies the per-pool, per-network and volatile-pair caps to a
proposed position and prints the assessment. The command fails when the
position is not allowed.

Example:
  riskctl evaluate -s settings.json --positions positions.json -p pool.json -c 2000`,
		RunE: func(c *cobra.Command, _ []string) error {
			rc, err := loadRiskContext(settingsPath, positionsPath)
			if err != nil {
				return err
			}
			var pool model.PoolSnapshot
			if err := readJSON(poolPath, &pool); err != nil {
				return err
			}
			capital, err := parseDecimal("capital", capitalFlag)
			if err != nil {
				return err
			}

			evOpts := []risk.EvaluatorOption{risk.WithLogger(logger())}
			if journalPath != "" {
				j, err := journal.NewSQLite(journalPath)
				if err != nil {
					return err
				}
				defer j.Close()
				evOpts = append(evOpts, risk.WithRecorder(audit.SinkRecorder{Sink: j}))
			}

			a, err := risk.NewEvaluator(evOpts...).Evaluate(c.Context(), rc, pool, capital)
			if err != nil {
				return err
			}
			if err := writeJSON(c.OutOrStdout(), a); err != nil {
				return err
			}
			if !a.Allowed {
				return errors.New(a.Reason)
			}
			return nil
		},
	}
	c.Flags().StringVarP(&settingsPath, "settings", "s", "", "path to risk settings JSON (required)")
	c.Flags().StringVar(&positionsPath, "positions", "", "path to open positions JSON array")
	c.Flags().StringVarP(&poolPath, "pool", "p", "", "path to pool snapshot JSON (required)")
	c.Flags().StringVarP(&capitalFlag, "capital", "c", "", "requested capital (required)")
	c.Flags().StringVar(&journalPath, "journal", "", "optional SQLite journal to record the decision in")
	_ = c.MarkFlagRequired("settings")
	_ = c.MarkFlagRequired("pool")
	_ = c.MarkFlagRequired("capital")
	return c
}

func newPortfolioCmd() *cobra.Command {
	var settingsPath, positionsPath string

	c := &cobra.Command{
		Use:   "portfolio",
		Short: "Summarize exposure and concentration of open positions",
		RunE: func(c *cobra.Command, _ []string) error {
			rc, err := loadRiskContext(settingsPath, positionsPath)
			if err != nil {
				return err
			}
			pr, err := risk.AggregatePortfolio(rc)
			if err != nil {
				return err
			}
			return writeJSON(c.OutOrStdout(), pr)
		},
	}
	c.Flags().StringVarP(&settingsPath, "settings", "s", "", "path to risk settings JSON (required)")
	c.Flags().StringVar(&positionsPath, "positions", "", "path to open positions JSON array (required)")
	_ = c.MarkFlagRequired("settings")
	_ = c.MarkFlagRequired("positions")
	return c
}
