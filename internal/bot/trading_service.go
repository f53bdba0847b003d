// internal/bot/trading_service.go
package bot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-papertrader/internal/bot/ui"
	"github.com/rovshanmuradov/solana-papertrader/internal/feed"
	"github.com/rovshanmuradov/solana-papertrader/internal/ledger"
	"github.com/rovshanmuradov/solana-papertrader/internal/pnl"
	"github.com/rovshanmuradov/solana-papertrader/internal/store"
)

// ErrTradeRejected wraps a ledger rejection returned through the CommandBus.
var ErrTradeRejected = errors.New("trade rejected")

// Trader is the part of Service the command handlers drive.
type Trader interface {
	SwitchInstrument(ctx context.Context, inst feed.Instrument) error
	Buy(ctx context.Context, kind store.BookKind, req ledger.BuyRequest) (ledger.Result, error)
	Sell(ctx context.Context, kind store.BookKind, req ledger.SellRequest) (ledger.Result, error)
	Positions(kind store.BookKind) pnl.Summary
}

var _ Trader = (*Service)(nil)

// TradingService connects operator commands to a Trader.
type TradingService struct {
	trader   Trader
	commands *CommandBus
	logger   *zap.Logger
}

// NewTradingService registers a handler for every command type.
func NewTradingService(trader Trader, logger *zap.Logger) *TradingService {
	ts := &TradingService{
		trader:   trader,
		commands: NewCommandBus(logger),
		logger:   logger.Named("trading"),
	}
	ts.commands.RegisterHandler(BuyCommand{}, CommandHandlerFunc(ts.handleBuy))
	ts.commands.RegisterHandler(SellCommand{}, CommandHandlerFunc(ts.handleSell))
	ts.commands.RegisterHandler(SwitchCommand{}, CommandHandlerFunc(ts.handleSwitch))
	ts.commands.RegisterHandler(PositionsCommand{}, CommandHandlerFunc(ts.handlePositions))
	return ts
}

// Execute parses a console line and runs it.
func (ts *TradingService) Execute(ctx context.Context, line string) error {
	cmd, err := ParseCommand(line)
	if err != nil {
		return err
	}
	return ts.commands.Send(ctx, cmd)
}

// Commands exposes the command bus.
func (ts *TradingService) Commands() *CommandBus {
	return ts.commands
}

func (ts *TradingService) handleBuy(ctx context.Context, c TradingCommand) error {
	cmd := c.(BuyCommand)
	res, err := ts.trader.Buy(ctx, cmd.Book, ledger.BuyRequest{AmountSOL: cmd.AmountSOL, StrategyTag: cmd.Strategy})
	return ts.report(res, err)
}

func (ts *TradingService) handleSell(ctx context.Context, c TradingCommand) error {
	cmd := c.(SellCommand)
	res, err := ts.trader.Sell(ctx, cmd.Book, ledger.SellRequest{Percent: cmd.Percent, StrategyTag: cmd.Strategy})
	return ts.report(res, err)
}

func (ts *TradingService) report(res ledger.Result, err error) error {
	if err != nil {
		return err
	}
	if !res.Accepted {
		return fmt.Errorf("%w: %s", ErrTradeRejected, res.Message)
	}
	t := res.Trade
	ts.logger.Info("Filled",
		zap.String("side", string(t.Side)),
		zap.String("mint", t.Mint),
		zap.Float64("sol", t.SolAmount),
		zap.Float64("tokens", t.TokenQuantity),
		zap.Float64("price_usd", t.PriceUSD),
		zap.Bool("stale_price", res.Stale))
	return nil
}

func (ts *TradingService) handleSwitch(ctx context.Context, c TradingCommand) error {
	cmd := c.(SwitchCommand)
	inst, err := feed.NewInstrument(cmd.Mint, cmd.Symbol)
	if err != nil {
		return err
	}
	return ts.trader.SwitchInstrument(ctx, inst)
}

func (ts *TradingService) handlePositions(_ context.Context, c TradingCommand) error {
	cmd := c.(PositionsCommand)
	sum := ts.trader.Positions(cmd.Book)
	if sum.NoNativePrice {
		ts.logger.Warn("No SOL price yet, positions not valued")
		return nil
	}
	for _, p := range sum.Positions {
		ui.Render(ts.logger, string(cmd.Book), p)
	}
	ts.logger.Info("Book total",
		zap.String("book", string(cmd.Book)),
		zap.Int("positions", len(sum.Positions)),
		zap.Float64("value_sol", sum.TotalValueSOL),
		zap.Float64("pnl_sol", sum.TotalPnlSOL))
	return nil
}
