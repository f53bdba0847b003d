package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-papertrader/internal/events"
	"github.com/rovshanmuradov/solana-papertrader/internal/feed"
	"github.com/rovshanmuradov/solana-papertrader/internal/precision"
	"github.com/rovshanmuradov/solana-papertrader/internal/storage"
	"github.com/rovshanmuradov/solana-papertrader/internal/store"
)

const mint = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

var inst = feed.Instrument{Mint: mint, Symbol: "M"}

type fakePrices struct {
	mu    sync.Mutex
	snaps map[string]feed.Snapshot
}

func (f *fakePrices) set(price, mcap float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[mint] = feed.Snapshot{Instrument: inst, PriceUSD: price, MarketCapUSD: mcap, Source: feed.SourcePoll}
}

func (f *fakePrices) SnapshotFor(m string) (feed.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snaps[m]
	return s, ok
}

type fixedNative float64

func (n fixedNative) USD() float64 { return float64(n) }

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

type harness struct {
	ledger  *Ledger
	store   *store.Store
	prices  *fakePrices
	storage *storage.Memory
	events  *recorder
	now     time.Time
}

func newHarness(t *testing.T, cash float64) *harness {
	t.Helper()
	h := &harness{
		store:   store.New(store.NewState(cash, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))),
		prices:  &fakePrices{snaps: map[string]feed.Snapshot{}},
		storage: storage.NewMemory(nil),
		events:  &recorder{},
		now:     time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	seq := 0
	h.ledger = New(Config{
		Store:     h.store,
		Prices:    h.prices,
		Native:    fixedNative(200),
		Storage:   h.storage,
		Publisher: h.events,
		Logger:    zaptest.NewLogger(t),
		Now:       func() time.Time { return h.now },
		NewID: func(time.Time) string {
			seq++
			return fmt.Sprintf("t%d", seq)
		},
	})
	return h
}

func (h *harness) buy(t *testing.T, amount float64) Result {
	t.Helper()
	res, err := h.ledger.Buy(context.Background(), BuyRequest{AmountSOL: amount, Instrument: inst})
	require.NoError(t, err)
	return res
}

func (h *harness) sell(t *testing.T, pct float64) Result {
	t.Helper()
	res, err := h.ledger.Sell(context.Background(), SellRequest{Percent: pct, Instrument: inst})
	require.NoError(t, err)
	return res
}

func TestBuySellScenario(t *testing.T) {
	h := newHarness(t, 10)

	// First buy opens the position.
	h.prices.set(2, 2_000_000)
	res := h.buy(t, 1)
	require.True(t, res.Accepted, res.Message)
	assert.Equal(t, 100.0, res.Trade.TokenQuantity)

	pos, ok := h.store.Position(store.BookPaper, mint)
	require.True(t, ok)
	assert.Equal(t, 100.0, pos.Quantity)
	assert.Equal(t, 2.0, pos.AverageEntryPriceUSD)
	assert.Equal(t, 1.0, pos.TotalCostBasisSOL)
	assert.Equal(t, 9.0, h.store.Session(store.BookPaper).CashBalanceSOL)

	// Second buy at a higher price averages in by cost.
	h.prices.set(4, 4_000_000)
	res = h.buy(t, 1)
	require.True(t, res.Accepted, res.Message)
	assert.Equal(t, 50.0, res.Trade.TokenQuantity)

	pos, _ = h.store.Position(store.BookPaper, mint)
	assert.Equal(t, 150.0, pos.Quantity)
	assert.Equal(t, 2.66666667, pos.AverageEntryPriceUSD)
	assert.Equal(t, 2.0, pos.TotalCostBasisSOL)
	assert.Equal(t, 4.0, pos.LastMarkPriceUSD)
	assert.Equal(t, 8.0, h.store.Session(store.BookPaper).CashBalanceSOL)

	// Selling half realizes the gain on half the cost.
	res = h.sell(t, 50)
	require.True(t, res.Accepted, res.Message)
	assert.Equal(t, 75.0, res.Trade.TokenQuantity)
	assert.Equal(t, 1.5, res.Trade.SolAmount)
	assert.Equal(t, 0.5, res.Trade.RealizedPnlSOL)

	pos, _ = h.store.Position(store.BookPaper, mint)
	assert.Equal(t, 75.0, pos.Quantity)
	assert.Equal(t, 1.0, pos.TotalCostBasisSOL)

	sess := h.store.Session(store.BookPaper)
	assert.Equal(t, 9.5, sess.CashBalanceSOL)
	assert.Equal(t, 0.5, sess.RealizedPnlSOL)
	assert.Equal(t, []string{"t1", "t2", "t3"}, sess.OpenTradeIDs)

	// Every accepted trade was persisted and announced.
	_, immediate := h.storage.Counts()
	assert.Equal(t, 3, immediate)
	assert.Len(t, h.events.events, 3)
	persisted, err := h.storage.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, persisted.Trades, 3)
}

func TestBuyRejections(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(h *harness)
		amount float64
		want   Reason
	}{
		{"zero amount", func(h *harness) { h.prices.set(2, 0) }, 0, ReasonInvalidAmount},
		{"negative amount", func(h *harness) { h.prices.set(2, 0) }, -1, ReasonInvalidAmount},
		{"over balance", func(h *harness) { h.prices.set(2, 0) }, 10.0001, ReasonInsufficientBalance},
		{"over balance before rounding", func(h *harness) { h.prices.set(2, 0) }, 10.00004, ReasonInsufficientBalance},
		{"no snapshot", func(h *harness) {}, 1, ReasonNoPrice},
		{"native band low edge", func(h *harness) { h.prices.set(100, 0) }, 1, ReasonNativeBand},
		{"native band high edge", func(h *harness) { h.prices.set(500, 0) }, 1, ReasonNativeBand},
		{"above ceiling no mcap", func(h *harness) { h.prices.set(50_000, 0) }, 1, ReasonAboveCeiling},
		{"above ceiling mcap too", func(h *harness) { h.prices.set(50_000, 20_000) }, 1, ReasonAboveCeiling},
		{"disabled", func(h *harness) {
			h.prices.set(2, 0)
			_ = h.ledger.SetEnabled(context.Background(), false)
		}, 1, ReasonDisabled},
		{"amount rounds to zero", func(h *harness) { h.prices.set(2, 0) }, 0.00004, ReasonInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 10)
			tt.setup(h)

			res := h.buy(t, tt.amount)
			assert.False(t, res.Accepted)
			assert.Equal(t, tt.want, res.Reason)
			assert.NotEmpty(t, res.Message)

			// Nothing changed.
			assert.Equal(t, 10.0, h.store.Session(store.BookPaper).CashBalanceSOL)
			assert.Empty(t, h.store.Mints(store.BookPaper))
			assert.Empty(t, h.store.Trades(""))
			assert.Empty(t, h.events.events)
		})
	}
}

func TestBuyWithoutNativePrice(t *testing.T) {
	h := newHarness(t, 10)
	h.ledger.native = fixedNative(0)
	h.prices.set(2, 0)

	res := h.buy(t, 1)
	assert.Equal(t, ReasonNoNativePrice, res.Reason)
}

func TestBuyFillTooSmall(t *testing.T) {
	h := newHarness(t, 10)
	h.ledger.native = fixedNative(0.001)
	h.prices.set(2, 0)

	res := h.buy(t, 0.0001)
	assert.Equal(t, ReasonFillTooSmall, res.Reason)
	assert.Empty(t, h.store.Mints(store.BookPaper))
}

func TestBuyInvalidInstrument(t *testing.T) {
	h := newHarness(t, 10)
	res, err := h.ledger.Buy(context.Background(), BuyRequest{AmountSOL: 1, Instrument: feed.Instrument{Mint: "bogus"}})
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidInstrument, res.Reason)
}

func TestBuyExactBalance(t *testing.T) {
	h := newHarness(t, 10)
	h.prices.set(2, 0)

	res := h.buy(t, 10)
	require.True(t, res.Accepted, res.Message)
	assert.Zero(t, h.store.Session(store.BookPaper).CashBalanceSOL)

	res = h.buy(t, 0.0001)
	assert.Equal(t, ReasonInsufficientBalance, res.Reason)
}

func TestBuySwapCorrection(t *testing.T) {
	h := newHarness(t, 10)
	h.prices.set(12_000, 8_000)

	res := h.buy(t, 1)
	require.True(t, res.Accepted, res.Message)
	assert.True(t, res.SwapCorrected)
	assert.Equal(t, 8_000.0, res.Trade.PriceUSD)
	assert.Equal(t, 12_000.0, res.Trade.MarketCapUSD)
	assert.Equal(t, 0.025, res.Trade.TokenQuantity)
}

func TestBuyKeepsPlan(t *testing.T) {
	h := newHarness(t, 10)
	h.prices.set(2, 0)

	plan := &store.Plan{StopLossUSD: 1.5, TakeProfitUSD: 3, Thesis: "breakout"}
	res, err := h.ledger.Buy(context.Background(), BuyRequest{AmountSOL: 1, Instrument: inst, Plan: plan, StrategyTag: "momentum"})
	require.NoError(t, err)
	require.True(t, res.Accepted)

	plan.Thesis = "edited later"
	trades := h.store.Trades(store.BookPaper)
	require.Len(t, trades, 1)
	assert.Equal(t, "breakout", trades[0].Plan.Thesis)
	assert.Equal(t, "momentum", trades[0].StrategyTag)
}

func TestBuyStalePriceStillTrades(t *testing.T) {
	h := newHarness(t, 10)
	h.prices.snaps[mint] = feed.Snapshot{Instrument: inst, PriceUSD: 2, Stale: true}

	res := h.buy(t, 1)
	require.True(t, res.Accepted)
	assert.True(t, res.Stale)
}

func TestSellRejections(t *testing.T) {
	h := newHarness(t, 10)

	h.prices.set(2, 0)
	assert.Equal(t, ReasonNoPosition, h.sell(t, 50).Reason)

	require.True(t, h.buy(t, 1).Accepted)
	assert.Equal(t, ReasonNothingToSell, h.sell(t, 0).Reason)
	assert.Equal(t, ReasonNothingToSell, h.sell(t, -5).Reason)

	h.prices.set(500, 0)
	assert.Equal(t, ReasonNativeBand, h.sell(t, 50).Reason)

	h.prices.set(20_000, 0)
	assert.Equal(t, ReasonAboveCeiling, h.sell(t, 50).Reason)

	require.NoError(t, h.ledger.SetEnabled(context.Background(), false))
	h.prices.set(2, 0)
	assert.Equal(t, ReasonDisabled, h.sell(t, 50).Reason)

	pos, ok := h.store.Position(store.BookPaper, mint)
	require.True(t, ok)
	assert.Equal(t, 100.0, pos.Quantity)
}

func TestSellFullCloseRemovesPosition(t *testing.T) {
	h := newHarness(t, 10)
	h.prices.set(2, 0)
	require.True(t, h.buy(t, 1).Accepted)
	require.True(t, h.buy(t, 1.5).Accepted)

	h.prices.set(1, 0)
	res := h.sell(t, 150) // clamped to 100
	require.True(t, res.Accepted, res.Message)
	assert.Nil(t, res.Position)
	assert.Equal(t, 250.0, res.Trade.TokenQuantity)
	assert.Equal(t, 1.25, res.Trade.SolAmount)
	assert.Equal(t, -1.25, res.Trade.RealizedPnlSOL)

	_, ok := h.store.Position(store.BookPaper, mint)
	assert.False(t, ok)

	sess := h.store.Session(store.BookPaper)
	assert.Equal(t, 8.75, sess.CashBalanceSOL)
	assert.Equal(t, -1.25, sess.RealizedPnlSOL)
	assert.Empty(t, sess.OpenTradeIDs)

	last := h.events.events[len(h.events.events)-1].(events.TradeCompletedEvent)
	assert.Nil(t, last.Position)
	assert.Equal(t, store.SideSell, last.Trade.Side)
}

func TestSellDustRemainderDeletes(t *testing.T) {
	h := newHarness(t, 10)
	require.NoError(t, h.store.Update(func(st *store.State) error {
		st.Book(store.BookPaper).Positions[mint] = &store.Position{
			Mint: mint, Quantity: 0.000002, AverageEntryPriceUSD: 2, LastMarkPriceUSD: 2, TotalCostBasisSOL: 0.0001,
		}
		return nil
	}))
	h.prices.set(2, 0)

	// Selling 60% leaves 0.0000008, below epsilon but never exactly zero.
	res := h.sell(t, 60)
	require.True(t, res.Accepted, res.Message)
	assert.Nil(t, res.Position)
	assert.Equal(t, 0.000002, res.Trade.TokenQuantity)
	_, ok := h.store.Position(store.BookPaper, mint)
	assert.False(t, ok)
}

func TestSellWhoseRemainderHasNoCostCloses(t *testing.T) {
	h := newHarness(t, 10)
	h.prices.set(2, 0)
	res := h.buy(t, 0.0001)
	require.True(t, res.Accepted, res.Message)
	assert.Equal(t, 0.01, res.Trade.TokenQuantity)

	// 40% of 0.0001 SOL rounds to zero cost, so the sale takes everything.
	res = h.sell(t, 60)
	require.True(t, res.Accepted, res.Message)
	assert.Nil(t, res.Position)
	assert.Equal(t, 0.01, res.Trade.TokenQuantity)
	assert.Equal(t, 0.0001, res.Trade.SolAmount)
	assert.Zero(t, res.Trade.RealizedPnlSOL)

	_, ok := h.store.Position(store.BookPaper, mint)
	assert.False(t, ok)
	sess := h.store.Session(store.BookPaper)
	assert.Equal(t, 10.0, sess.CashBalanceSOL)
	assert.Zero(t, sess.RealizedPnlSOL)
	assert.Empty(t, sess.OpenTradeIDs)
}

func TestPartialSellSplitsCostExactly(t *testing.T) {
	h := newHarness(t, 10)
	h.prices.set(2, 0)
	require.True(t, h.buy(t, 1).Accepted)

	res := h.sell(t, 33)
	require.True(t, res.Accepted, res.Message)
	require.NotNil(t, res.Position)
	assert.Equal(t, 67.0, res.Position.Quantity)
	assert.Equal(t, 0.67, res.Position.TotalCostBasisSOL)
	// Removed cost and remaining cost add back to the original basis.
	assert.Equal(t, 0.33, res.Trade.SolAmount)
	assert.Zero(t, res.Trade.RealizedPnlSOL)
}

func TestPersistFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, 10)
	h.prices.set(2, 0)
	boom := errors.New("disk full")
	h.storage.SetErr(boom)

	res, err := h.ledger.Buy(context.Background(), BuyRequest{AmountSOL: 1, Instrument: inst})
	assert.ErrorIs(t, err, boom)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonPersistFailed, res.Reason)

	assert.Equal(t, 10.0, h.store.Session(store.BookPaper).CashBalanceSOL)
	assert.Empty(t, h.store.Mints(store.BookPaper))
	assert.Empty(t, h.events.events)
}

func TestBooksAreIndependent(t *testing.T) {
	h := newHarness(t, 10)
	h.prices.set(2, 0)
	observed := New(Config{
		Store:  h.store,
		Book:   store.BookObserved,
		Prices: h.prices,
		Native: fixedNative(200),
		Logger: zaptest.NewLogger(t),
	})

	require.True(t, h.buy(t, 1).Accepted)
	res, err := observed.Buy(context.Background(), BuyRequest{AmountSOL: 3, Instrument: inst})
	require.NoError(t, err)
	require.True(t, res.Accepted)

	paper, _ := h.store.Position(store.BookPaper, mint)
	obs, _ := h.store.Position(store.BookObserved, mint)
	assert.Equal(t, 100.0, paper.Quantity)
	assert.Equal(t, 300.0, obs.Quantity)
	assert.Equal(t, 9.0, h.store.Session(store.BookPaper).CashBalanceSOL)
	assert.Equal(t, 7.0, h.store.Session(store.BookObserved).CashBalanceSOL)
}

// Random buy/sell sequences never drive quantity, cost or cash negative, and
// the average entry stays the fill-quantity-weighted price.
func TestRandomSequencesKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 20; run++ {
		h := newHarness(t, 50)

		var weighted, qty float64
		for step := 0; step < 40; step++ {
			price := precision.UsdPrice.Round(0.01 + rng.Float64()*5)
			h.prices.set(price, 0)

			if rng.Intn(3) > 0 {
				res := h.buy(t, precision.SolAmount.Round(rng.Float64()*3))
				if res.Accepted {
					weighted += res.Trade.PriceUSD * res.Trade.TokenQuantity
					qty += res.Trade.TokenQuantity
				}
			} else {
				res := h.sell(t, float64(1+rng.Intn(120)))
				if res.Accepted && res.Position == nil {
					weighted, qty = 0, 0
				} else if res.Accepted {
					// Selling does not move the average entry.
					qty = res.Position.Quantity
					weighted = res.Position.AverageEntryPriceUSD * qty
				}
			}

			sess := h.store.Session(store.BookPaper)
			require.GreaterOrEqual(t, sess.CashBalanceSOL, 0.0)
			pos, ok := h.store.Position(store.BookPaper, mint)
			if !ok {
				continue
			}
			require.GreaterOrEqual(t, pos.Quantity, 0.0)
			require.Greater(t, pos.TotalCostBasisSOL, 0.0)
			require.InDelta(t, weighted/qty, pos.AverageEntryPriceUSD, 1e-6*pos.AverageEntryPriceUSD+1e-8)
		}
	}
}
