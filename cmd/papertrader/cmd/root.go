package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-papertrader/internal/bot"
	"github.com/rovshanmuradov/solana-papertrader/internal/config"
	"github.com/rovshanmuradov/solana-papertrader/internal/feed"
	"github.com/rovshanmuradov/solana-papertrader/internal/storage"
	"github.com/rovshanmuradov/solana-papertrader/internal/store"
	"github.com/rovshanmuradov/solana-papertrader/internal/utils/logger"
)

var rootCmd = &cobra.Command{
	Use:   "papertrader",
	Short: "Paper trading simulator for Solana tokens",
	Long: `Papertrader simulates buying and selling Solana tokens with virtual SOL.

It keeps two independent books:
  paper     - trades you place from this tool
  observed  - trades mirrored from a live page observer

Prices come from the DEX pair API, optionally blended with realtime ticks
from a websocket observer. State is persisted to SQLite between runs.

Examples:
  papertrader run --mint DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263 --symbol BONK
  papertrader buy DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263 0.5
  papertrader positions`,
	SilenceUsage: true,
}

var (
	cfgFile   string
	ephemeral bool
	bookName  string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (JSON or YAML); PAPER_TRADER_* variables override it")
	rootCmd.PersistentFlags().BoolVar(&ephemeral, "ephemeral", false, "keep state in memory only")
	rootCmd.PersistentFlags().StringVarP(&bookName, "book", "b", string(store.BookPaper), "book to act on (paper or observed)")
}

// app is the wiring shared by every subcommand.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	service *bot.Service
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.LogFile = cfg.LogFile
	logCfg.Development = cfg.DebugLogging
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	sc := bot.ServiceConfig{Config: cfg, Logger: log.Logger}
	if ephemeral {
		sc.Storage = storage.NewMemory(nil)
	}
	svc, err := bot.NewService(ctx, sc)
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("create service: %w", err)
	}
	return &app{cfg: cfg, log: log, service: svc}, nil
}

// close flushes state and logs. Errors are logged, not returned, so the
// command's own error wins.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), bot.DefaultShutdownTimeout)
	defer cancel()
	if err := a.service.Close(ctx); err != nil {
		a.log.LogError("Shutdown incomplete", err)
	}
	_ = a.log.Sync()
}

// focus makes mint active and waits for one poll of it and of SOL.
func (a *app) focus(ctx context.Context, mint, symbol string) error {
	inst, err := feed.NewInstrument(mint, symbol)
	if err != nil {
		return err
	}
	if err := a.service.SwitchInstrument(ctx, inst); err != nil {
		return fmt.Errorf("switch instrument: %w", err)
	}
	defer a.log.TrackPerformance("refresh")()
	refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.service.Refresh(refreshCtx); err != nil {
		a.log.WithInstrument(mint, symbol).Warn("Price refresh incomplete", zap.Error(err))
	}
	return nil
}

func book() (store.BookKind, error) {
	switch kind := store.BookKind(bookName); kind {
	case store.BookPaper, store.BookObserved:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", bot.ErrUnknownBook, bookName)
	}
}
