// internal/pnl/engine.go
package pnl

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-papertrader/internal/events"
	"github.com/rovshanmuradov/solana-papertrader/internal/feed"
	"github.com/rovshanmuradov/solana-papertrader/internal/metrics"
	"github.com/rovshanmuradov/solana-papertrader/internal/precision"
	"github.com/rovshanmuradov/solana-papertrader/internal/storage"
	"github.com/rovshanmuradov/solana-papertrader/internal/store"
)

const (
	DefaultPersistDebounce = 5 * time.Second
	// NearZeroCostSOL is the cost basis under which a holding is treated as
	// corrupted.
	NearZeroCostSOL = 1e-9
)

// Quarantine reasons.
const (
	ReasonEntryAboveCeiling = "entry_price_above_ceiling"
	ReasonMarkAboveCeiling  = "mark_price_above_ceiling"
	ReasonZeroCostBasis     = "zero_cost_basis"
	ReasonNonFinite         = "non_finite_value"
)

// PriceSource yields the live snapshot for a mint.
type PriceSource interface {
	SnapshotFor(mint string) (feed.Snapshot, bool)
}

// Publisher receives quarantine notifications.
type Publisher interface {
	Publish(event events.Event) error
}

// Removal records a position deleted by validation.
type Removal struct {
	Book     store.BookKind
	Position store.Position
	Reason   string
}

// PositionPnl is the valuation of one position.
type PositionPnl struct {
	Mint          string
	Symbol        string
	Quantity      float64
	EntryUSD      float64
	MarkUSD       float64
	CostSOL       float64
	ValueSOL      float64
	PnlSOL        float64
	PnlPct        float64
	PeakPnlPct    float64
	MarkRefreshed bool
}

// Summary is the result of a valuation pass.
type Summary struct {
	TotalPnlSOL   float64
	TotalValueSOL float64
	Positions     []PositionPnl
	Removed       []Removal
	// NoNativePrice is set when SOL had no price; nothing was valued.
	NoNativePrice bool
}

// Config wires an Engine.
type Config struct {
	Store     *store.Store
	Prices    PriceSource
	Storage   storage.Storage
	Publisher Publisher
	Limits    feed.Limits
	Logger    *zap.Logger
	Debounce  time.Duration
	Now       func() time.Time
}

// Engine values positions and quarantines corrupted ones.
type Engine struct {
	store     *store.Store
	prices    PriceSource
	storage   storage.Storage
	publisher Publisher
	limits    feed.Limits
	logger    *zap.Logger
	debounce  time.Duration
	now       func() time.Time

	saveMu sync.Mutex
	timer  *time.Timer
	closed bool
}

// NewEngine builds an Engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Limits == (feed.Limits{}) {
		cfg.Limits = feed.DefaultLimits()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultPersistDebounce
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		store:     cfg.Store,
		prices:    cfg.Prices,
		storage:   cfg.Storage,
		publisher: cfg.Publisher,
		limits:    cfg.Limits,
		logger:    cfg.Logger.Named("pnl"),
		debounce:  cfg.Debounce,
		now:       cfg.Now,
	}
}

// corruption returns why p cannot be trusted, or "".
func (e *Engine) corruption(p *store.Position) string {
	for _, v := range []float64{p.Quantity, p.AverageEntryPriceUSD, p.LastMarkPriceUSD, p.TotalCostBasisSOL} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ReasonNonFinite
		}
	}
	switch {
	case e.limits.AboveCeiling(p.AverageEntryPriceUSD):
		return ReasonEntryAboveCeiling
	case e.limits.AboveCeiling(p.LastMarkPriceUSD):
		return ReasonMarkAboveCeiling
	case p.Quantity > 0 && p.TotalCostBasisSOL < NearZeroCostSOL:
		return ReasonZeroCostBasis
	}
	return ""
}

// Validate deletes corrupted positions from the book and reports them.
func (e *Engine) Validate(kind store.BookKind) []Removal {
	var removed []Removal
	_ = e.store.Update(func(st *store.State) error {
		removed = e.validate(st, kind)
		return nil
	})
	e.afterRemovals(removed)
	if len(removed) > 0 {
		e.markDirty()
	}
	return removed
}

func (e *Engine) validate(st *store.State, kind store.BookKind) []Removal {
	var removed []Removal
	book := st.Book(kind)
	for _, mint := range book.Mints() {
		p := book.Positions[mint]
		if reason := e.corruption(p); reason != "" {
			removed = append(removed, Removal{Book: kind, Position: *p, Reason: reason})
			st.ClosePosition(kind, mint)
		}
	}
	return removed
}

func (e *Engine) afterRemovals(removed []Removal) {
	for _, r := range removed {
		e.logger.Warn("Quarantined corrupted position",
			zap.String("book", string(r.Book)),
			zap.String("mint", r.Position.Mint),
			zap.String("reason", r.Reason),
			zap.Float64("entry_usd", r.Position.AverageEntryPriceUSD),
			zap.Float64("mark_usd", r.Position.LastMarkPriceUSD),
			zap.Float64("cost_sol", r.Position.TotalCostBasisSOL))
		metrics.PositionQuarantined()

		if e.publisher != nil {
			_ = e.publisher.Publish(events.PositionQuarantinedEvent{
				BaseEvent: events.BaseEvent{EventType: events.PositionQuarantined, EventTime: e.now()},
				Book:      r.Book,
				Position:  r.Position,
				Reason:    r.Reason,
			})
		}
	}
}

// UnrealizedPnl validates the book, refreshes the mark of activeMint from a
// fresh, plausible live snapshot and values every position in SOL.
func (e *Engine) UnrealizedPnl(kind store.BookKind, nativeUSD float64, activeMint string) Summary {
	var (
		sum   Summary
		dirty bool
	)
	_ = e.store.Update(func(st *store.State) error {
		sum.Removed = e.validate(st, kind)
		dirty = len(sum.Removed) > 0

		if nativeUSD <= 0 || math.IsNaN(nativeUSD) || math.IsInf(nativeUSD, 0) {
			sum.NoNativePrice = true
			return nil
		}

		book := st.Book(kind)
		for _, mint := range book.Mints() {
			p := book.Positions[mint]
			refreshed := false
			if mint == activeMint {
				if mark, ok := e.liveMark(mint); ok && mark != p.LastMarkPriceUSD {
					p.LastMarkPriceUSD = mark
					refreshed, dirty = true, true
				}
			}

			pp := value(p, p.LastMarkPriceUSD, nativeUSD)
			pp.MarkRefreshed = refreshed
			if pp.PnlPct > p.PeakUnrealizedPnlPct {
				p.PeakUnrealizedPnlPct = pp.PnlPct
				dirty = true
			}
			pp.PeakPnlPct = p.PeakUnrealizedPnlPct
			sum.add(pp)
		}
		return nil
	})

	e.afterRemovals(sum.Removed)
	if dirty {
		e.markDirty()
	}
	sum.round()
	return sum
}

// MarkToMarket values the book against quotes without touching stored
// state. Mints without a plausible quote keep their stored mark; corrupted
// positions are skipped.
func (e *Engine) MarkToMarket(kind store.BookKind, nativeUSD float64, quotes map[string]float64) Summary {
	var sum Summary
	if nativeUSD <= 0 || math.IsNaN(nativeUSD) || math.IsInf(nativeUSD, 0) {
		sum.NoNativePrice = true
		return sum
	}

	e.store.View(func(st *store.State) {
		book := st.Book(kind)
		for _, mint := range book.Mints() {
			p := book.Positions[mint]
			if e.corruption(p) != "" {
				continue
			}
			mark := p.LastMarkPriceUSD
			if q, ok := quotes[mint]; ok && e.limits.Check(q, 0).OK() {
				mark = precision.UsdPrice.Round(q)
			}
			pp := value(p, mark, nativeUSD)
			pp.PeakPnlPct = p.PeakUnrealizedPnlPct
			sum.add(pp)
		}
	})
	sum.round()
	return sum
}

// liveMark returns the price of a non-stale snapshot that passes the
// sanity checks.
func (e *Engine) liveMark(mint string) (float64, bool) {
	if e.prices == nil {
		return 0, false
	}
	snap, ok := e.prices.SnapshotFor(mint)
	if !ok || !snap.HasPrice() || snap.Stale {
		return 0, false
	}
	checked := e.limits.Check(snap.PriceUSD, snap.MarketCapUSD)
	if !checked.OK() {
		return 0, false
	}
	return precision.UsdPrice.Round(checked.PriceUSD), true
}

func value(p *store.Position, markUSD, nativeUSD float64) PositionPnl {
	valueSOL := precision.SolAmount.Round(precision.UsdPrice.Round(p.Quantity*markUSD) / nativeUSD)
	pnl := precision.SolAmount.Round(valueSOL - p.TotalCostBasisSOL)
	var pct float64
	if p.TotalCostBasisSOL > 0 {
		pct = precision.Percentage.Round(pnl / p.TotalCostBasisSOL * 100)
	}
	return PositionPnl{
		Mint:     p.Mint,
		Symbol:   p.Symbol,
		Quantity: p.Quantity,
		EntryUSD: p.AverageEntryPriceUSD,
		MarkUSD:  markUSD,
		CostSOL:  p.TotalCostBasisSOL,
		ValueSOL: valueSOL,
		PnlSOL:   pnl,
		PnlPct:   pct,
	}
}

func (s *Summary) add(pp PositionPnl) {
	s.Positions = append(s.Positions, pp)
	s.TotalPnlSOL += pp.PnlSOL
	s.TotalValueSOL += pp.ValueSOL
}

func (s *Summary) round() {
	s.TotalPnlSOL = precision.SolAmount.Round(s.TotalPnlSOL)
	s.TotalValueSOL = precision.SolAmount.Round(s.TotalValueSOL)
	sort.Slice(s.Positions, func(i, j int) bool { return s.Positions[i].Mint < s.Positions[j].Mint })
}

// markDirty schedules a trailing save one debounce window out. Further
// changes inside the window ride along with it.
func (e *Engine) markDirty() {
	if e.storage == nil {
		return
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	if e.closed || e.timer != nil {
		return
	}
	e.timer = time.AfterFunc(e.debounce, func() {
		if err := e.Flush(context.Background()); err != nil {
			e.logger.Error("Debounced save failed", zap.Error(err))
		}
	})
}

// Flush saves the state now and cancels any pending debounced save.
func (e *Engine) Flush(ctx context.Context) error {
	if e.storage == nil {
		return nil
	}
	e.saveMu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.saveMu.Unlock()

	// Saving under the store lock orders this write against the immediate
	// saves trades make, so an older state never lands after a newer one.
	var err error
	e.store.View(func(st *store.State) {
		err = e.storage.Save(ctx, st)
	})
	return err
}

// Close flushes pending changes and stops scheduling saves.
func (e *Engine) Close(ctx context.Context) error {
	e.saveMu.Lock()
	pending := e.timer != nil
	e.closed = true
	e.saveMu.Unlock()

	if !pending {
		return nil
	}
	return e.Flush(ctx)
}
