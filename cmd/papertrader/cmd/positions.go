package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-papertrader/internal/ui/component"
)

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Show open positions with unrealized P&L",
	Long: `Positions values every open position in SOL.

With --mint the token is polled through the live feed and its peak P&L is
updated. Without it every held token is repriced from the batch price API
and nothing is written back.`,
	Args: cobra.NoArgs,
	RunE: runPositions,
}

var tradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "List the trade log",
	Args:  cobra.NoArgs,
	RunE:  runTrades,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show statistics for the current session",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var (
	positionsMint string
	tradesAll     bool
)

func init() {
	rootCmd.AddCommand(positionsCmd)
	rootCmd.AddCommand(tradesCmd)
	rootCmd.AddCommand(statsCmd)

	positionsCmd.Flags().StringVarP(&positionsMint, "mint", "m", "", "value this token from the live feed")
	tradesCmd.Flags().BoolVarP(&tradesAll, "all", "a", false, "include every book")
}

func runPositions(cmd *cobra.Command, _ []string) error {
	kind, err := book()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if positionsMint != "" {
		if err := a.focus(ctx, positionsMint, ""); err != nil {
			return err
		}
		sum := a.service.Positions(kind)
		fmt.Fprint(cmd.OutOrStdout(), component.PositionsView(kind, sum, a.service.Session(kind)))
		return nil
	}

	refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	// No active instrument here; only the native price matters.
	_ = a.service.Refresh(refreshCtx)
	if err := a.service.Reprice(refreshCtx); err != nil {
		a.log.WithBook(string(kind)).Warn("Batch reprice failed, using stored marks", zap.Error(err))
	}
	sum := a.service.MarkToMarket(kind)
	fmt.Fprint(cmd.OutOrStdout(), component.PositionsView(kind, sum, a.service.Session(kind)))
	return nil
}

func runTrades(cmd *cobra.Command, _ []string) error {
	kind, err := book()
	if err != nil {
		return err
	}
	if tradesAll {
		kind = ""
	}
	a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Fprint(cmd.OutOrStdout(), component.TradesView(a.service.Trades(kind)))
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	kind, err := book()
	if err != nil {
		return err
	}
	a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	stats, err := a.service.Stats(kind)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), component.StatsView(kind, stats))
	return nil
}
