package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestAggregator(t *testing.T, market *fakeMarket, ticks TickSource, clock *fakeClock) *Aggregator {
	t.Helper()
	return NewAggregator(Config{
		Market: market,
		Ticks:  ticks,
		Logger: zaptest.NewLogger(t),
		Now:    clock.Now,
	})
}

func TestAggregatorPollUpdatesSnapshot(t *testing.T) {
	clock := newFakeClock()
	market := newFakeMarket()
	market.set(&MarketData{Mint: testMint, Symbol: "BONK", PriceUSD: 2, MarketCapUSD: 2_000_000, LiquidityUSD: 50_000})

	agg := newTestAggregator(t, market, nil, clock)

	var order []string
	var got []Change
	agg.Subscribe(func(c Change) { order = append(order, "first"); got = append(got, c) })
	agg.Subscribe(func(Change) { order = append(order, "second") })

	require.NoError(t, agg.SwitchInstrument(context.Background(), Instrument{Mint: testMint}))
	require.NoError(t, agg.Poll(context.Background()))

	snap := agg.Snapshot()
	assert.Equal(t, 2.0, snap.PriceUSD)
	assert.Equal(t, 2_000_000.0, snap.MarketCapUSD)
	assert.Equal(t, 50_000.0, snap.LiquidityUSD)
	assert.Equal(t, SourcePoll, snap.Source)
	assert.Equal(t, "BONK", snap.Instrument.Symbol)
	assert.False(t, snap.Stale)

	assert.Equal(t, []string{"first", "second"}, order)
	require.Len(t, got, 1)
	assert.Equal(t, Change{PriceUSD: 2, MarketCapUSD: 2_000_000, Mint: testMint, Symbol: "BONK"}, got[0])

	// Unchanged poll is not a material change.
	require.NoError(t, agg.Poll(context.Background()))
	assert.Len(t, got, 1)
}

func TestAggregatorPollWithoutInstrument(t *testing.T) {
	agg := newTestAggregator(t, newFakeMarket(), nil, newFakeClock())
	assert.ErrorIs(t, agg.Poll(context.Background()), ErrNoActiveInstrument)
}

func TestAggregatorPriceOnlyPollKeepsLiquidity(t *testing.T) {
	clock := newFakeClock()
	market := newFakeMarket()
	market.set(&MarketData{Mint: testMint, PriceUSD: 2, MarketCapUSD: 1000, LiquidityUSD: 500})
	agg := newTestAggregator(t, market, nil, clock)
	require.NoError(t, agg.SwitchInstrument(context.Background(), Instrument{Mint: testMint}))
	require.NoError(t, agg.Poll(context.Background()))

	market.set(&MarketData{Mint: testMint, PriceUSD: 3, PriceOnly: true})
	require.NoError(t, agg.Poll(context.Background()))

	snap := agg.Snapshot()
	assert.Equal(t, 3.0, snap.PriceUSD)
	assert.Equal(t, 1000.0, snap.MarketCapUSD)
	assert.Equal(t, 500.0, snap.LiquidityUSD)
}

func TestAggregatorPollFailureKeepsSnapshot(t *testing.T) {
	clock := newFakeClock()
	market := newFakeMarket()
	market.set(&MarketData{Mint: testMint, PriceUSD: 4, MarketCapUSD: 4000})
	agg := newTestAggregator(t, market, nil, clock)
	require.NoError(t, agg.SwitchInstrument(context.Background(), Instrument{Mint: testMint}))
	require.NoError(t, agg.Poll(context.Background()))

	market.err = errors.New("proxy unreachable")
	clock.Advance(time.Second)
	assert.Error(t, agg.Poll(context.Background()))

	snap := agg.Snapshot()
	assert.Equal(t, 4.0, snap.PriceUSD)
	assert.False(t, snap.Stale)
}

func TestAggregatorRejectsCorruptedTick(t *testing.T) {
	clock := newFakeClock()
	market := newFakeMarket()
	market.set(&MarketData{Mint: testMint, PriceUSD: 4, MarketCapUSD: 4_000_000})
	agg := newTestAggregator(t, market, nil, clock)
	require.NoError(t, agg.SwitchInstrument(context.Background(), Instrument{Mint: testMint}))
	require.NoError(t, agg.Poll(context.Background()))

	notified := 0
	agg.Subscribe(func(Change) { notified++ })

	before := agg.Snapshot()
	decision := agg.HandleTick(Tick{Mint: testMint, PriceUSD: 1_000_000, Confidence: 1, Source: "dom"})

	assert.Equal(t, TickPriceJump, decision)
	assert.Equal(t, before, agg.Snapshot())
	assert.Zero(t, notified)
}

func TestAggregatorAcceptsTick(t *testing.T) {
	clock := newFakeClock()
	market := newFakeMarket()
	market.set(&MarketData{Mint: testMint, PriceUSD: 4, MarketCapUSD: 4_000_000})
	agg := newTestAggregator(t, market, nil, clock)
	require.NoError(t, agg.SwitchInstrument(context.Background(), Instrument{Mint: testMint}))
	require.NoError(t, agg.Poll(context.Background()))

	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, TickAccepted, agg.HandleTick(Tick{Mint: testMint, PriceUSD: 4.4, Confidence: 1}))

	snap := agg.Snapshot()
	assert.Equal(t, 4.4, snap.PriceUSD)
	assert.Equal(t, 4_000_000.0, snap.MarketCapUSD)
	assert.Equal(t, SourceRealtime, snap.Source)
	assert.Equal(t, clock.Now(), agg.Provenance().Last(SourceRealtime))
	assert.True(t, agg.Provenance().Last(SourceChart).IsZero())

	// The next poll is authoritative for price again.
	clock.Advance(400 * time.Millisecond)
	require.NoError(t, agg.Poll(context.Background()))
	assert.Equal(t, 4.0, agg.Snapshot().PriceUSD)
}

func TestAggregatorChartMarketCapWindow(t *testing.T) {
	clock := newFakeClock()
	market := newFakeMarket()
	market.set(&MarketData{Mint: testMint, PriceUSD: 4, MarketCapUSD: 4_000_000})
	agg := newTestAggregator(t, market, nil, clock)
	require.NoError(t, agg.SwitchInstrument(context.Background(), Instrument{Mint: testMint}))
	require.NoError(t, agg.Poll(context.Background()))

	agg.HandleTick(Tick{Mint: testMint, PriceUSD: 4.1, Confidence: 2, ChartMarketCap: 4_100_000})
	assert.Equal(t, SourceChart, agg.Snapshot().Source)

	clock.Advance(time.Second)
	require.NoError(t, agg.Poll(context.Background()))
	assert.Equal(t, 4_100_000.0, agg.Snapshot().MarketCapUSD)

	// A plain tick must not keep the chart window open.
	clock.Advance(time.Second)
	agg.HandleTick(Tick{Mint: testMint, PriceUSD: 4.05, Confidence: 2})
	clock.Advance(1500 * time.Millisecond)
	require.NoError(t, agg.Poll(context.Background()))
	assert.Equal(t, 4_000_000.0, agg.Snapshot().MarketCapUSD)
}

func TestAggregatorStaleness(t *testing.T) {
	clock := newFakeClock()
	market := newFakeMarket()
	market.set(&MarketData{Mint: testMint, PriceUSD: 4, MarketCapUSD: 4_000_000})
	agg := newTestAggregator(t, market, nil, clock)
	require.NoError(t, agg.SwitchInstrument(context.Background(), Instrument{Mint: testMint}))
	require.NoError(t, agg.Poll(context.Background()))

	market.err = context.DeadlineExceeded
	clock.Advance(11 * time.Second)
	assert.Error(t, agg.Poll(context.Background()))

	snap := agg.Snapshot()
	assert.True(t, snap.Stale)
	assert.Equal(t, 4.0, snap.PriceUSD)

	s, ok := agg.SnapshotFor(testMint)
	require.True(t, ok)
	assert.True(t, s.Stale)

	market.err = nil
	require.NoError(t, agg.Poll(context.Background()))
	assert.False(t, agg.Snapshot().Stale)
}

func TestAggregatorSwitchResetsState(t *testing.T) {
	clock := newFakeClock()
	market := newFakeMarket()
	market.set(&MarketData{Mint: testMint, PriceUSD: 4, MarketCapUSD: 4_000_000})
	ticks := newFakeTicks()
	agg := newTestAggregator(t, market, ticks, clock)

	require.NoError(t, agg.SwitchInstrument(context.Background(), Instrument{Mint: testMint, Symbol: "BONK"}))
	require.NoError(t, agg.Poll(context.Background()))
	agg.HandleTick(Tick{Mint: testMint, PriceUSD: 4.1, Confidence: 2, ChartMarketCap: 4_100_000})

	require.NoError(t, agg.SwitchInstrument(context.Background(), Instrument{Mint: otherMint, Symbol: "JUP"}))

	snap := agg.Snapshot()
	assert.Equal(t, otherMint, snap.Instrument.Mint)
	assert.False(t, snap.HasPrice())
	assert.Empty(t, agg.Provenance())
	_, ok := agg.SnapshotFor(testMint)
	assert.False(t, ok)

	targets := ticks.targets()
	require.Len(t, targets, 2)
	assert.Equal(t, otherMint, targets[1].Mint)

	// Ticks for the old mint are ignored now.
	assert.Equal(t, TickWrongMint, agg.HandleTick(Tick{Mint: testMint, PriceUSD: 4.2, Confidence: 3}))
}

func TestAggregatorSwitchRejectsInvalidMint(t *testing.T) {
	agg := newTestAggregator(t, newFakeMarket(), nil, newFakeClock())
	assert.ErrorIs(t, agg.SwitchInstrument(context.Background(), Instrument{Mint: "not-a-mint"}), ErrInvalidMint)
}

func TestAggregatorDiscardsLatePollAfterSwitch(t *testing.T) {
	clock := newFakeClock()
	market := newFakeMarket()
	market.set(&MarketData{Mint: testMint, PriceUSD: 4, MarketCapUSD: 4_000_000})
	agg := newTestAggregator(t, market, nil, clock)
	require.NoError(t, agg.SwitchInstrument(context.Background(), Instrument{Mint: testMint}))

	// The switch lands while the request for the first mint is in flight.
	market.onFetch = func() {
		market.onFetch = nil
		require.NoError(t, agg.SwitchInstrument(context.Background(), Instrument{Mint: otherMint}))
	}
	require.NoError(t, agg.Poll(context.Background()))

	snap := agg.Snapshot()
	assert.Equal(t, otherMint, snap.Instrument.Mint)
	assert.False(t, snap.HasPrice())
}

func TestAggregatorRunConsumesTicks(t *testing.T) {
	clock := newFakeClock()
	market := newFakeMarket()
	market.set(&MarketData{Mint: testMint, PriceUSD: 4, MarketCapUSD: 4_000_000})
	ticks := newFakeTicks()
	agg := NewAggregator(Config{
		Market:       market,
		Ticks:        ticks,
		PollInterval: time.Hour,
		Logger:       zaptest.NewLogger(t),
		Now:          clock.Now,
	})
	require.NoError(t, agg.SwitchInstrument(context.Background(), Instrument{Mint: testMint}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agg.Run(ctx) }()

	// Wait until the restart queued by the switch has been consumed too.
	require.Eventually(t, func() bool {
		return agg.Snapshot().PriceUSD == 4 && len(agg.restart) == 0
	}, time.Second, 5*time.Millisecond)

	ticks.ch <- Tick{Mint: testMint, PriceUSD: 4.2, Confidence: 1}
	require.Eventually(t, func() bool { return agg.Snapshot().PriceUSD == 4.2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
