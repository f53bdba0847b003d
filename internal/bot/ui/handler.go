// internal/bot/ui/handler.go
package ui

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-papertrader/internal/pnl"
)

// EventType is the kind of console input.
type EventType int

const (
	CommandEntered EventType = iota // a non-empty line other than quit
	ExitRequested                   // q, quit, exit or end of input
)

// Event is one line of operator input.
type Event struct {
	Type EventType
	Data string
}

// Handler reads operator commands line by line.
type Handler struct {
	logger    *zap.Logger
	input     io.Reader
	ctx       context.Context
	cancel    context.CancelFunc
	eventChan chan Event
}

// NewHandler creates a handler reading from input.
func NewHandler(parentCtx context.Context, input io.Reader, logger *zap.Logger) *Handler {
	ctx, cancel := context.WithCancel(parentCtx)
	return &Handler{
		logger:    logger.Named("ui"),
		input:     input,
		ctx:       ctx,
		cancel:    cancel,
		eventChan: make(chan Event),
	}
}

// Start begins reading input in the background.
func (h *Handler) Start() {
	h.logger.Info("Console ready: buy <sol>, sell <pct>, switch <mint> [symbol], positions, q")

	go func() {
		reader := bufio.NewReader(h.input)
		for {
			line, err := reader.ReadString('\n')
			command := strings.TrimSpace(line)

			switch {
			case command == "":
			case command == "q" || command == "quit" || command == "exit":
				h.publishEvent(ExitRequested, "")
				return
			default:
				h.publishEvent(CommandEntered, command)
			}

			if err != nil {
				if !errors.Is(err, io.EOF) && h.ctx.Err() == nil {
					h.logger.Error("Error reading input", zap.Error(err))
				}
				h.publishEvent(ExitRequested, "")
				return
			}
			if h.ctx.Err() != nil {
				return
			}
		}
	}()
}

// Stop stops delivering events.
func (h *Handler) Stop() {
	h.cancel()
}

// Events returns the event channel.
func (h *Handler) Events() <-chan Event {
	return h.eventChan
}

func (h *Handler) publishEvent(eventType EventType, data string) {
	select {
	case <-h.ctx.Done():
	case h.eventChan <- Event{Type: eventType, Data: data}:
	}
}

// ShortenAddress abbreviates a mint as "6QwKg1…JVuJpump".
func ShortenAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}

// Render logs one valuation line.
func Render(logger *zap.Logger, book string, p pnl.PositionPnl) {
	trend := "flat"
	if p.PnlSOL > 0 {
		trend = "up"
	} else if p.PnlSOL < 0 {
		trend = "down"
	}

	logger.Info("Position",
		zap.String("book", book),
		zap.String("token", ShortenAddress(p.Mint)),
		zap.String("symbol", p.Symbol),
		zap.Float64("quantity", p.Quantity),
		zap.Float64("entry_usd", p.EntryUSD),
		zap.Float64("mark_usd", p.MarkUSD),
		zap.Float64("value_sol", p.ValueSOL),
		zap.Float64("pnl_sol", p.PnlSOL),
		zap.Float64("pnl_pct", p.PnlPct),
		zap.Float64("peak_pnl_pct", p.PeakPnlPct),
		zap.String("trend", trend))
}
