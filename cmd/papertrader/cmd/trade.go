package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/solana-papertrader/internal/ledger"
	"github.com/rovshanmuradov/solana-papertrader/internal/store"
	"github.com/rovshanmuradov/solana-papertrader/internal/ui/component"
)

var buyCmd = &cobra.Command{
	Use:   "buy <mint> <sol>",
	Short: "Buy a token with virtual SOL at the current price",
	Example: `  papertrader buy DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263 0.5 --strategy breakout
  papertrader buy DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263 1 --stop 0.00001 --target 0.00004`,
	Args: cobra.ExactArgs(2),
	RunE: runBuy,
}

var sellCmd = &cobra.Command{
	Use:     "sell <mint> [percent]",
	Short:   "Sell a share of an open position (default 100%)",
	Example: `  papertrader sell DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263 50`,
	Args:    cobra.RangeArgs(1, 2),
	RunE:    runSell,
}

var (
	tradeSymbol   string
	tradeStrategy string
	planStop      float64
	planTarget    float64
	planThesis    string
)

func init() {
	rootCmd.AddCommand(buyCmd)
	rootCmd.AddCommand(sellCmd)

	for _, c := range []*cobra.Command{buyCmd, sellCmd} {
		c.Flags().StringVarP(&tradeSymbol, "symbol", "s", "", "display symbol")
		c.Flags().StringVar(&tradeStrategy, "strategy", "", "strategy tag recorded on the trade")
	}
	buyCmd.Flags().Float64Var(&planStop, "stop", 0, "planned stop loss price in USD")
	buyCmd.Flags().Float64Var(&planTarget, "target", 0, "planned take profit price in USD")
	buyCmd.Flags().StringVar(&planThesis, "thesis", "", "trade thesis")
}

func runBuy(cmd *cobra.Command, args []string) error {
	kind, err := book()
	if err != nil {
		return err
	}
	amount, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid SOL amount %q: %w", args[1], err)
	}

	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.focus(ctx, args[0], tradeSymbol); err != nil {
		return err
	}

	req := ledger.BuyRequest{AmountSOL: amount, StrategyTag: tradeStrategy}
	if planStop > 0 || planTarget > 0 || planThesis != "" {
		req.Plan = &store.Plan{StopLossUSD: planStop, TakeProfitUSD: planTarget, Thesis: planThesis}
	}
	res, err := a.service.Buy(ctx, kind, req)
	if err != nil {
		return err
	}
	return printResult(cmd, res)
}

func runSell(cmd *cobra.Command, args []string) error {
	kind, err := book()
	if err != nil {
		return err
	}
	percent := 100.0
	if len(args) == 2 {
		if percent, err = strconv.ParseFloat(args[1], 64); err != nil {
			return fmt.Errorf("invalid percent %q: %w", args[1], err)
		}
	}

	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.focus(ctx, args[0], tradeSymbol); err != nil {
		return err
	}

	res, err := a.service.Sell(ctx, kind, ledger.SellRequest{Percent: percent, StrategyTag: tradeStrategy})
	if err != nil {
		return err
	}
	return printResult(cmd, res)
}

func printResult(cmd *cobra.Command, res ledger.Result) error {
	if !res.Accepted {
		return fmt.Errorf("trade rejected (%s): %s", res.Reason, res.Message)
	}
	out := cmd.OutOrStdout()
	fmt.Fprint(out, component.TradesView([]store.Trade{*res.Trade}))
	if res.Stale {
		fmt.Fprintln(out, "Warning: filled at a stale price")
	}
	if res.SwapCorrected {
		fmt.Fprintln(out, "Note: price and market cap were swapped in the feed and corrected")
	}
	if res.Position == nil {
		fmt.Fprintln(out, "Position closed")
	}
	return nil
}
