package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/solana-papertrader/internal/bot"
	"github.com/rovshanmuradov/solana-papertrader/internal/feed"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the live price feed with an interactive console",
	Long: `Run polls prices for the active token, streams realtime ticks when a
websocket observer is configured, and reprices held tokens in the background.

Console commands:
  switch <mint> [symbol]   make a token active
  buy <sol> [strategy]     buy the active token with SOL
  sell <percent>           sell a share of the active position
  positions                value the open positions
  obuy / osell / opositions act on the observed book
  q                        quit

Example:
  papertrader run --mint DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263 --symbol BONK`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runMint   string
	runSymbol string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runMint, "mint", "m", "", "token mint to activate on start")
	runCmd.Flags().StringVarP(&runSymbol, "symbol", "s", "", "display symbol for --mint")
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if runMint != "" {
		inst, err := feed.NewInstrument(runMint, runSymbol)
		if err != nil {
			return err
		}
		if err := a.service.SwitchInstrument(ctx, inst); err != nil {
			return fmt.Errorf("switch instrument: %w", err)
		}
	}

	a.log.WithComponent("runner").Info("Paper trader running, type q to quit")
	return bot.NewRunner(a.service, os.Stdin, a.log.Logger).Run(ctx)
}
