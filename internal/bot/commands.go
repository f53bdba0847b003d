// internal/bot/commands.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-papertrader/internal/store"
)

var ErrUnknownCommand = errors.New("unknown command")

// TradingCommand is an operator intent dispatched through the CommandBus.
type TradingCommand interface {
	GetType() string
	Validate() error
}

// BuyCommand spends AmountSOL on the active instrument.
type BuyCommand struct {
	Book      store.BookKind `json:"book"`
	AmountSOL float64        `json:"amount_sol"`
	Strategy  string         `json:"strategy,omitempty"`
}

func (c BuyCommand) GetType() string { return "buy" }

func (c BuyCommand) Validate() error {
	if math.IsNaN(c.AmountSOL) || c.AmountSOL <= 0 {
		return fmt.Errorf("amount must be positive, got: %v", c.AmountSOL)
	}
	return validateBook(c.Book)
}

// SellCommand sells Percent of the position in the active instrument.
type SellCommand struct {
	Book     store.BookKind `json:"book"`
	Percent  float64        `json:"percent"`
	Strategy string         `json:"strategy,omitempty"`
}

func (c SellCommand) GetType() string { return "sell" }

func (c SellCommand) Validate() error {
	if math.IsNaN(c.Percent) || c.Percent <= 0 {
		return fmt.Errorf("percent must be positive, got: %v", c.Percent)
	}
	return validateBook(c.Book)
}

// SwitchCommand makes Mint the active instrument.
type SwitchCommand struct {
	Mint   string `json:"mint"`
	Symbol string `json:"symbol,omitempty"`
}

func (c SwitchCommand) GetType() string { return "switch" }

func (c SwitchCommand) Validate() error {
	if c.Mint == "" {
		return errors.New("mint cannot be empty")
	}
	return nil
}

// PositionsCommand logs the current valuation of a book.
type PositionsCommand struct {
	Book store.BookKind `json:"book"`
}

func (c PositionsCommand) GetType() string { return "positions" }

func (c PositionsCommand) Validate() error { return validateBook(c.Book) }

func validateBook(kind store.BookKind) error {
	switch kind {
	case store.BookPaper, store.BookObserved:
		return nil
	}
	return fmt.Errorf("unknown book %q", kind)
}

// ParseCommand turns a console line into a command. Recognised forms:
//
//	buy <sol> [strategy]
//	sell <percent> [strategy]
//	switch <mint> [symbol]
//	positions
//
// A leading "o" (obuy, osell, opositions) targets the observed book.
func ParseCommand(line string) (TradingCommand, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty line", ErrUnknownCommand)
	}

	verb := strings.ToLower(fields[0])
	book := store.BookPaper
	if len(verb) > 1 && verb[0] == 'o' && verb != "o" {
		switch verb[1:] {
		case "buy", "sell", "positions":
			book = store.BookObserved
			verb = verb[1:]
		}
	}
	arg := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	number := func(i int) (float64, error) {
		v, err := strconv.ParseFloat(arg(i), 64)
		if err != nil {
			return 0, fmt.Errorf("%s: bad number %q", verb, arg(i))
		}
		return v, nil
	}

	switch verb {
	case "buy":
		amount, err := number(1)
		if err != nil {
			return nil, err
		}
		return BuyCommand{Book: book, AmountSOL: amount, Strategy: arg(2)}, nil
	case "sell":
		pct, err := number(1)
		if err != nil {
			return nil, err
		}
		return SellCommand{Book: book, Percent: pct, Strategy: arg(2)}, nil
	case "switch":
		return SwitchCommand{Mint: arg(1), Symbol: arg(2)}, nil
	case "positions", "pnl":
		return PositionsCommand{Book: book}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
}

// CommandHandler executes one kind of command.
type CommandHandler interface {
	Handle(ctx context.Context, cmd TradingCommand) error
}

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc func(ctx context.Context, cmd TradingCommand) error

func (f CommandHandlerFunc) Handle(ctx context.Context, cmd TradingCommand) error {
	return f(ctx, cmd)
}

// CommandBus routes commands to the handler registered for their type.
type CommandBus struct {
	handlers map[reflect.Type]CommandHandler
	logger   *zap.Logger
	mu       sync.RWMutex
}

func NewCommandBus(logger *zap.Logger) *CommandBus {
	return &CommandBus{
		handlers: make(map[reflect.Type]CommandHandler),
		logger:   logger.Named("command_bus"),
	}
}

// RegisterHandler registers handler for the concrete type of cmdType.
func (bus *CommandBus) RegisterHandler(cmdType TradingCommand, handler CommandHandler) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	bus.handlers[reflect.TypeOf(cmdType)] = handler
	bus.logger.Debug("Command handler registered", zap.String("command_type", cmdType.GetType()))
}

// Send validates cmd and runs its handler.
func (bus *CommandBus) Send(ctx context.Context, cmd TradingCommand) error {
	if err := cmd.Validate(); err != nil {
		bus.logger.Warn("Command validation failed",
			zap.String("command_type", cmd.GetType()),
			zap.Error(err))
		return fmt.Errorf("command validation failed: %w", err)
	}

	bus.mu.RLock()
	handler, exists := bus.handlers[reflect.TypeOf(cmd)]
	bus.mu.RUnlock()

	if !exists {
		return fmt.Errorf("no handler registered for command type: %s", cmd.GetType())
	}

	bus.logger.Debug("Executing command", zap.String("command_type", cmd.GetType()))
	if err := handler.Handle(ctx, cmd); err != nil {
		return fmt.Errorf("%s: %w", cmd.GetType(), err)
	}
	return nil
}

// RegisteredCommands lists the command types that have a handler.
func (bus *CommandBus) RegisteredCommands() []string {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	out := make([]string, 0, len(bus.handlers))
	for t := range bus.handlers {
		cmd := reflect.New(t).Elem().Interface().(TradingCommand)
		out = append(out, cmd.GetType())
	}
	return out
}
