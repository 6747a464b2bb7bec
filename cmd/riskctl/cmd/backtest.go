package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lpwatch/risk-engine/internal/backtest"
	"github.com/lpwatch/risk-engine/internal/journal"
	"github.com/lpwatch/risk-engine/internal/lpmath"
	"github.com/lpwatch/risk-engine/internal/model"
)

type backtestOptions struct {
	poolPath    string
	capital     string
	days        int
	at          string
	journalPath string
}

func (o *backtestOptions) bind(c *cobra.Command) {
	c.Flags().StringVarP(&o.poolPath, "pool", "p", "", "path to pool snapshot JSON (required)")
	c.Flags().StringVarP(&o.capital, "capital", "c", "", "capital to deploy, e.g. 1000 (required)")
	c.Flags().IntVarP(&o.days, "days", "d", 7, "backtest period in days (7 or 30)")
	c.Flags().StringVar(&o.at, "at", "", "end of the backtest window, RFC3339 (default now)")
	c.Flags().StringVar(&o.journalPath, "journal", "", "optional SQLite journal to record runs in")
	_ = c.MarkFlagRequired("pool")
	_ = c.MarkFlagRequired("capital")
}

func (o *backtestOptions) simulator(logger *zap.Logger) (*backtest.Simulator, error) {
	est := lpmath.Estimator{}
	opts := []backtest.Option{backtest.WithLogger(logger)}
	if o.at != "" {
		at, err := time.Parse(time.RFC3339, o.at)
		if err != nil {
			return nil, fmt.Errorf("--at: %w", err)
		}
		opts = append(opts, backtest.WithClock(func() time.Time { return at }))
	}
	return backtest.NewSimulator(est, est, opts...), nil
}

func (o *backtestOptions) openJournal() (*journal.SQLite, error) {
	if o.journalPath == "" {
		return nil, nil
	}
	return journal.NewSQLite(o.journalPath)
}

func newBacktestCmd(logger func() *zap.Logger) *cobra.Command {
	var (
		opts         backtestOptions
		lower, upper string
		asJSON       bool
	)

	c := &cobra.Command{
		Use:   "backtest",
		Short: "Backtest one price range on a pool",
		Long: `Backtest replays the pool's price history over the last 7 or 30 days
and reports fees, impermanent loss, time in range and drawdown. With fewer
than 10 price points in the window it falls back to a volatility estimate.

Example:
  riskctl backtest -p pool.json -c 1000 --lower 0.98 --upper 1.02 -d 30`,
		RunE: func(c *cobra.Command, _ []string) error {
			var pool model.PoolSnapshot
			if err := readJSON(opts.poolPath, &pool); err != nil {
				return err
			}
			capital, err := parseDecimal("capital", opts.capital)
			if err != nil {
				return err
			}
			lo, err := parseDecimal("lower", lower)
			if err != nil {
				return err
			}
			hi, err := parseDecimal("upper", upper)
			if err != nil {
				return err
			}

			sim, err := opts.simulator(logger())
			if err != nil {
				return err
			}
			result, err := sim.Run(c.Context(), model.BacktestRequest{
				Pool:       pool,
				RangeLower: lo,
				RangeUpper: hi,
				Capital:    capital,
				PeriodDays: opts.days,
			})
			if err != nil {
				return err
			}

			j, err := opts.openJournal()
			if err != nil {
				return err
			}
			if j != nil {
				defer j.Close()
				if err := j.RecordBacktest(c.Context(), result); err != nil {
					return err
				}
			}

			if asJSON {
				return writeJSON(c.OutOrStdout(), result)
			}
			printResults(c, []model.BacktestResult{result})
			return nil
		},
	}
	opts.bind(c)
	c.Flags().StringVar(&lower, "lower", "", "range lower price (required)")
	c.Flags().StringVar(&upper, "upper", "", "range upper price (required)")
	c.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	_ = c.MarkFlagRequired("lower")
	_ = c.MarkFlagRequired("upper")
	return c
}

func newCompareCmd(logger func() *zap.Logger) *cobra.Command {
	var (
		opts   backtestOptions
		ranges []string
		asJSON bool
	)

	c := &cobra.Command{
		Use:   "compare",
		Short: "Backtest several ranges and pick the best risk-adjusted one",
		Long: `Compare backtests every --range against the same pool, capital and
period, then ranks them by net return per unit of drawdown.

Example:
  riskctl compare -p pool.json -c 1000 --range 0.8:1.25 --range 0.95:1.1 --range 0.99:1.01`,
		RunE: func(c *cobra.Command, _ []string) error {
			var pool model.PoolSnapshot
			if err := readJSON(opts.poolPath, &pool); err != nil {
				return err
			}
			capital, err := parseDecimal("capital", opts.capital)
			if err != nil {
				return err
			}
			sim, err := opts.simulator(logger())
			if err != nil {
				return err
			}
			j, err := opts.openJournal()
			if err != nil {
				return err
			}
			if j != nil {
				defer j.Close()
			}

			results := make([]model.BacktestResult, 0, len(ranges))
			for _, rng := range ranges {
				lo, hi, ok := strings.Cut(rng, ":")
				if !ok {
					return fmt.Errorf("--range %q: want lower:upper", rng)
				}
				lower, err := parseDecimal("range", lo)
				if err != nil {
					return err
				}
				upper, err := parseDecimal("range", hi)
				if err != nil {
					return err
				}

				result, err := sim.Run(c.Context(), model.BacktestRequest{
					Pool:       pool,
					RangeLower: lower,
					RangeUpper: upper,
					Capital:    capital,
					PeriodDays: opts.days,
				})
				if err != nil {
					return fmt.Errorf("range %s: %w", rng, err)
				}
				if j != nil {
					if err := j.RecordBacktest(c.Context(), result); err != nil {
						return err
					}
				}
				results = append(results, result)
			}

			cmp, err := backtest.Compare(results)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(c.OutOrStdout(), cmp)
			}

			printResults(c, results)
			best := cmp.Best
			fmt.Fprintf(c.OutOrStdout(), "\nbest: %s-%s (%s), net %s%%\n",
				best.RangeLower, best.RangeUpper, best.RangeType, best.Metrics.NetPnLPercent.StringFixed(2))
			return nil
		},
	}
	opts.bind(c)
	c.Flags().StringArrayVarP(&ranges, "range", "r", nil, "candidate range as lower:upper (repeatable, required)")
	c.Flags().BoolVar(&asJSON, "json", false, "print the comparison as JSON")
	_ = c.MarkFlagRequired("range")
	return c
}

func printResults(c *cobra.Command, results []model.BacktestResult) {
	tw := tabwriter.NewWriter(c.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANGE\tTYPE\tMETHOD\tIN RANGE %\tFEES\tIL\tNET\tNET %\tMAX DD %\tREBALANCES")
	for _, r := range results {
		m := r.Metrics
		fmt.Fprintf(tw, "%s-%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			r.RangeLower, r.RangeUpper, r.RangeType, r.Method,
			m.TimeInRangePercent.StringFixed(2), m.TotalFees.StringFixed(2), m.TotalIL.StringFixed(2),
			m.NetPnL.StringFixed(2), m.NetPnLPercent.StringFixed(2), m.MaxDrawdownPercent.StringFixed(2),
			m.Rebalances)
	}
	tw.Flush()
}
