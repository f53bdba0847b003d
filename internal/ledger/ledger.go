// internal/ledger/ledger.go
package ledger

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-papertrader/internal/events"
	"github.com/rovshanmuradov/solana-papertrader/internal/feed"
	"github.com/rovshanmuradov/solana-papertrader/internal/metrics"
	"github.com/rovshanmuradov/solana-papertrader/internal/precision"
	"github.com/rovshanmuradov/solana-papertrader/internal/storage"
	"github.com/rovshanmuradov/solana-papertrader/internal/store"
)

// PriceSource yields the current snapshot for a mint.
type PriceSource interface {
	SnapshotFor(mint string) (feed.Snapshot, bool)
}

// NativePriceSource yields the USD price of SOL.
type NativePriceSource interface {
	USD() float64
}

// Publisher receives trade notifications. Delivery is best effort.
type Publisher interface {
	Publish(event events.Event) error
}

// Config wires a Ledger.
type Config struct {
	Store     *store.Store
	Book      store.BookKind
	Prices    PriceSource
	Native    NativePriceSource
	Storage   storage.Storage
	Publisher Publisher
	Limits    feed.Limits
	Logger    *zap.Logger

	Now   func() time.Time
	NewID func(time.Time) string
}

// Ledger executes buy and sell intents for one book.
type Ledger struct {
	store     *store.Store
	book      store.BookKind
	prices    PriceSource
	native    NativePriceSource
	storage   storage.Storage
	publisher Publisher
	limits    feed.Limits
	logger    *zap.Logger
	now       func() time.Time
	newID     func(time.Time) string
}

// BuyRequest spends AmountSOL on the instrument.
type BuyRequest struct {
	AmountSOL   float64
	StrategyTag string
	Instrument  feed.Instrument
	Plan        *store.Plan
}

// SellRequest sells Percent of the open position. Values above 100 sell
// everything.
type SellRequest struct {
	Percent     float64
	StrategyTag string
	Instrument  feed.Instrument
}

// Result reports the outcome of a trade intent.
type Result struct {
	Accepted      bool
	Reason        Reason
	Message       string
	Trade         *store.Trade
	Position      *store.Position // nil when the position was closed
	SwapCorrected bool
	Stale         bool
}

func rejected(r Reason) Result {
	return Result{Reason: r, Message: r.Message()}
}

// New builds a Ledger. Store and Prices are required.
func New(cfg Config) *Ledger {
	if cfg.Book == "" {
		cfg.Book = store.BookPaper
	}
	if cfg.Limits == (feed.Limits{}) {
		cfg.Limits = feed.DefaultLimits()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = NewTradeID
	}
	return &Ledger{
		store:     cfg.Store,
		book:      cfg.Book,
		prices:    cfg.Prices,
		native:    cfg.Native,
		storage:   cfg.Storage,
		publisher: cfg.Publisher,
		limits:    cfg.Limits,
		logger:    cfg.Logger.Named("ledger").With(zap.String("book", string(cfg.Book))),
		now:       cfg.Now,
		newID:     cfg.NewID,
	}
}

// Book reports which book this ledger trades.
func (l *Ledger) Book() store.BookKind { return l.book }

// quote is a sanity-checked execution price.
type quote struct {
	priceUSD     float64
	marketCapUSD float64
	nativeUSD    float64
	symbol       string
	swapped      bool
	stale        bool
}

func (l *Ledger) quote(inst feed.Instrument) (quote, Reason) {
	snap, ok := l.prices.SnapshotFor(inst.Mint)
	if !ok || !snap.HasPrice() {
		return quote{}, ReasonNoPrice
	}

	checked := l.limits.Check(snap.PriceUSD, snap.MarketCapUSD)
	fields := []zap.Field{
		zap.String("mint", inst.Mint),
		zap.Float64("price_usd", snap.PriceUSD),
		zap.Float64("market_cap_usd", snap.MarketCapUSD),
	}
	if checked.Swapped {
		l.logger.Warn("Price and market cap look transposed, swapping", fields...)
	}
	switch checked.Verdict {
	case feed.VerdictNoPrice:
		return quote{}, ReasonNoPrice
	case feed.VerdictNativeBand:
		l.logger.Warn("Rejecting price inside the SOL band", fields...)
		return quote{}, ReasonNativeBand
	case feed.VerdictAboveCeiling:
		l.logger.Error("Rejecting implausible price", fields...)
		return quote{}, ReasonAboveCeiling
	}

	native := l.nativeUSD()
	if native <= 0 {
		return quote{}, ReasonNoNativePrice
	}
	if snap.Stale {
		l.logger.Warn("Trading on a stale price", fields...)
	}

	symbol := inst.Symbol
	if symbol == "" {
		symbol = snap.Instrument.Symbol
	}
	return quote{
		priceUSD:     precision.UsdPrice.Round(checked.PriceUSD),
		marketCapUSD: checked.MarketCapUSD,
		nativeUSD:    native,
		symbol:       symbol,
		swapped:      checked.Swapped,
		stale:        snap.Stale,
	}, ReasonNone
}

func (l *Ledger) nativeUSD() float64 {
	if l.native == nil {
		return 0
	}
	v := l.native.USD()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Buy spends req.AmountSOL at the current snapshot price. A rejection is
// reported through Result; err is non-nil only when persistence failed, in
// which case nothing was applied.
func (l *Ledger) Buy(ctx context.Context, req BuyRequest) (Result, error) {
	res, err := l.execute(ctx, func(st *store.State, now time.Time) Result {
		return l.applyBuy(st, now, req)
	})
	l.finish(store.SideBuy, req.Instrument.Mint, res, err)
	return res, err
}

// Sell sells req.Percent of the position at the current snapshot price.
func (l *Ledger) Sell(ctx context.Context, req SellRequest) (Result, error) {
	res, err := l.execute(ctx, func(st *store.State, now time.Time) Result {
		return l.applySell(st, now, req)
	})
	l.finish(store.SideSell, req.Instrument.Mint, res, err)
	return res, err
}

// execute applies fn to a copy of the state and commits the copy only once
// it has been persisted.
func (l *Ledger) execute(ctx context.Context, fn func(*store.State, time.Time) Result) (Result, error) {
	var res Result
	err := l.store.Update(func(st *store.State) error {
		next := st.Clone()
		res = fn(next, l.now())
		if !res.Accepted {
			return nil
		}
		if l.storage != nil {
			if err := l.storage.SaveImmediate(ctx, next); err != nil {
				return fmt.Errorf("persist trade %s: %w", res.Trade.ID, err)
			}
		}
		*st = *next
		return nil
	})
	if err != nil {
		return rejected(ReasonPersistFailed), err
	}
	return res, nil
}

func (l *Ledger) finish(side store.Side, mint string, res Result, err error) {
	if err != nil {
		l.logger.Error("Trade not persisted", zap.String("side", string(side)), zap.String("mint", mint), zap.Error(err))
		metrics.TradeRejected(string(ReasonPersistFailed))
		return
	}
	if !res.Accepted {
		l.logger.Info("Trade rejected",
			zap.String("side", string(side)),
			zap.String("mint", mint),
			zap.String("reason", string(res.Reason)))
		metrics.TradeRejected(string(res.Reason))
		return
	}

	t := res.Trade
	l.logger.Info("Trade executed",
		zap.String("id", t.ID),
		zap.String("side", string(t.Side)),
		zap.String("mint", t.Mint),
		zap.Float64("sol", t.SolAmount),
		zap.Float64("tokens", t.TokenQuantity),
		zap.Float64("price_usd", t.PriceUSD),
		zap.Float64("realized_pnl_sol", t.RealizedPnlSOL))
	metrics.TradeExecuted(string(l.book), string(side))

	if l.publisher != nil {
		sess := l.store.Session(l.book)
		if err := l.publisher.Publish(events.NewTradeCompleted(t.Clone(), res.Position, sess)); err != nil {
			l.logger.Debug("Trade event not delivered", zap.Error(err))
		}
	}
}

func (l *Ledger) applyBuy(st *store.State, now time.Time, req BuyRequest) Result {
	book := st.Book(l.book)
	if !book.Session.Enabled {
		return rejected(ReasonDisabled)
	}
	if err := req.Instrument.Validate(); err != nil {
		return rejected(ReasonInvalidInstrument)
	}

	amount := precision.SolAmount.Round(req.AmountSOL)
	if amount <= 0 {
		return rejected(ReasonInvalidAmount)
	}
	if req.AmountSOL > book.Session.CashBalanceSOL || amount > book.Session.CashBalanceSOL {
		return rejected(ReasonInsufficientBalance)
	}

	q, reason := l.quote(req.Instrument)
	if reason != ReasonNone {
		return rejected(reason)
	}

	fill := precision.TokenQuantity.Round(amount * q.nativeUSD / q.priceUSD)
	if fill <= 0 {
		return rejected(ReasonFillTooSmall)
	}

	mint := req.Instrument.Mint
	pos, ok := book.Positions[mint]
	if !ok {
		pos = &store.Position{Mint: mint, OpenedAt: now}
		book.Positions[mint] = pos
	}
	if q.symbol != "" {
		pos.Symbol = q.symbol
	}
	pos.AverageEntryPriceUSD = precision.WeightedAverage(pos.AverageEntryPriceUSD, pos.Quantity, q.priceUSD, fill)
	pos.Quantity = precision.TokenQuantity.Round(pos.Quantity + fill)
	pos.LastMarkPriceUSD = q.priceUSD
	pos.TotalCostBasisSOL = precision.SolAmount.Round(pos.TotalCostBasisSOL + amount)

	book.Session.CashBalanceSOL = precision.SolAmount.Round(book.Session.CashBalanceSOL - amount)

	trade := store.Trade{
		ID:            l.newID(now),
		Timestamp:     now,
		Side:          store.SideBuy,
		Book:          l.book,
		Mint:          mint,
		Symbol:        pos.Symbol,
		SolAmount:     amount,
		TokenQuantity: fill,
		PriceUSD:      q.priceUSD,
		MarketCapUSD:  precision.UsdPrice.Round(q.marketCapUSD),
		StrategyTag:   req.StrategyTag,
	}
	if req.Plan != nil {
		p := *req.Plan
		trade.Plan = &p
	}
	st.Trades = append(st.Trades, trade)
	book.Session.OpenTradeIDs = append(book.Session.OpenTradeIDs, trade.ID)

	cp := *pos
	return Result{
		Accepted:      true,
		Trade:         &trade,
		Position:      &cp,
		SwapCorrected: q.swapped,
		Stale:         q.stale,
	}
}

func (l *Ledger) applySell(st *store.State, now time.Time, req SellRequest) Result {
	book := st.Book(l.book)
	if !book.Session.Enabled {
		return rejected(ReasonDisabled)
	}

	mint := req.Instrument.Mint
	pos, ok := book.Positions[mint]
	if !ok {
		return rejected(ReasonNoPosition)
	}

	pct := req.Percent
	if math.IsNaN(pct) || pct <= 0 {
		return rejected(ReasonNothingToSell)
	}
	if pct > 100 {
		pct = 100
	}

	sellQty := pos.Quantity * pct / 100
	if sellQty <= 0 || math.IsNaN(sellQty) {
		return rejected(ReasonNothingToSell)
	}
	// A remainder below epsilon, or one whose cost rounds away, is folded
	// into the sale so that an open position always carries cost.
	remainingQty := precision.TokenQuantity.Round(pos.Quantity - sellQty)
	closed := pct == 100 || precision.IsDust(remainingQty)
	var remainingCost float64
	if !closed {
		remainingCost = precision.SolAmount.Round(pos.TotalCostBasisSOL * remainingQty / pos.Quantity)
		closed = remainingCost <= 0
	}
	if closed {
		sellQty, remainingQty, remainingCost = pos.Quantity, 0, 0
	}

	q, reason := l.quote(req.Instrument)
	if reason != ReasonNone {
		return rejected(reason)
	}

	proceeds := precision.SolAmount.Round(sellQty * q.priceUSD / q.nativeUSD)
	costRemoved := precision.SolAmount.Round(pos.TotalCostBasisSOL - remainingCost)
	realized := precision.SolAmount.Round(proceeds - costRemoved)

	pos.Quantity, pos.TotalCostBasisSOL = remainingQty, remainingCost
	if closed {
		st.ClosePosition(l.book, mint)
	}

	book.Session.CashBalanceSOL = precision.SolAmount.Round(book.Session.CashBalanceSOL + proceeds)
	book.Session.RealizedPnlSOL = precision.SolAmount.Round(book.Session.RealizedPnlSOL + realized)

	symbol := pos.Symbol
	if symbol == "" {
		symbol = q.symbol
	}
	trade := store.Trade{
		ID:             l.newID(now),
		Timestamp:      now,
		Side:           store.SideSell,
		Book:           l.book,
		Mint:           mint,
		Symbol:         symbol,
		SolAmount:      proceeds,
		TokenQuantity:  precision.TokenQuantity.Round(sellQty),
		PriceUSD:       q.priceUSD,
		MarketCapUSD:   precision.UsdPrice.Round(q.marketCapUSD),
		RealizedPnlSOL: realized,
		StrategyTag:    req.StrategyTag,
	}
	st.Trades = append(st.Trades, trade)
	if !closed {
		book.Session.OpenTradeIDs = append(book.Session.OpenTradeIDs, trade.ID)
	}

	res := Result{
		Accepted:      true,
		Trade:         &trade,
		SwapCorrected: q.swapped,
		Stale:         q.stale,
	}
	if !closed {
		cp := *pos
		res.Position = &cp
	}
	return res
}

// SetEnabled turns trading on or off for this book and persists the change.
func (l *Ledger) SetEnabled(ctx context.Context, enabled bool) error {
	return l.store.Update(func(st *store.State) error {
		next := st.Clone()
		next.Book(l.book).Session.Enabled = enabled
		if l.storage != nil {
			if err := l.storage.SaveImmediate(ctx, next); err != nil {
				return fmt.Errorf("persist session: %w", err)
			}
		}
		*st = *next
		return nil
	})
}
