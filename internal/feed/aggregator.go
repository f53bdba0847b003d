// internal/feed/aggregator.go
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rovshanmuradov/solana-papertrader/internal/metrics"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultPollTimeout  = 2 * time.Second
)

// ErrNoActiveInstrument is returned by Poll before any instrument is set.
var ErrNoActiveInstrument = errors.New("no active instrument")

// Config configures an Aggregator.
type Config struct {
	Market       MarketClient
	Ticks        TickSource // optional
	Arbiter      ArbiterConfig
	PollInterval time.Duration
	PollTimeout  time.Duration
	Logger       *zap.Logger
	Now          func() time.Time
}

// Aggregator keeps the best known snapshot of the active instrument by
// merging the polling source with the push tick channel.
//
// All writes go through apply, which holds serial for the whole
// compute-and-notify step, so subscribers see changes in the order they were
// made. Subscribers may read the snapshot but must not feed the aggregator.
type Aggregator struct {
	market       MarketClient
	ticks        TickSource
	arbiter      Arbiter
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       *zap.Logger
	now          func() time.Time

	serial sync.Mutex

	mu          sync.RWMutex
	active      Instrument
	activeSince time.Time
	generation  uint64
	snapshot    Snapshot
	prov        Provenance
	staleLogged bool

	subMu       sync.RWMutex
	subscribers []Subscriber

	restart chan struct{}
}

// NewAggregator creates an aggregator. Call Run to start polling.
func NewAggregator(cfg Config) *Aggregator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.Arbiter == (ArbiterConfig{}) {
		cfg.Arbiter = DefaultArbiterConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Aggregator{
		market:       cfg.Market,
		ticks:        cfg.Ticks,
		arbiter:      NewArbiter(cfg.Arbiter),
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
		logger:       cfg.Logger.Named("aggregator"),
		now:          cfg.Now,
		prov:         Provenance{},
		restart:      make(chan struct{}, 1),
	}
}

// Subscribe registers fn. Subscribers are called in registration order.
func (a *Aggregator) Subscribe(fn Subscriber) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	a.subscribers = append(a.subscribers, fn)
}

// SwitchInstrument makes inst the active instrument, drops every piece of
// per-instrument state, restarts polling and tells the tick source.
func (a *Aggregator) SwitchInstrument(ctx context.Context, inst Instrument) error {
	if err := inst.Validate(); err != nil {
		return err
	}

	a.serial.Lock()
	a.mu.Lock()
	a.active = inst
	a.activeSince = a.now()
	a.generation++
	a.snapshot = Snapshot{Instrument: inst}
	a.prov = Provenance{}
	a.staleLogged = false
	a.mu.Unlock()
	a.serial.Unlock()

	a.logger.Info("Instrument switched",
		zap.String("mint", inst.Mint),
		zap.String("symbol", inst.Symbol))

	if a.ticks != nil {
		if err := a.ticks.Retarget(ctx, inst); err != nil {
			a.logger.Warn("Failed to retarget tick source",
				zap.String("mint", inst.Mint),
				zap.Error(err))
		}
	}

	select {
	case a.restart <- struct{}{}:
	default:
	}
	return nil
}

// Active returns the active instrument.
func (a *Aggregator) Active() Instrument {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active
}

// Snapshot returns the current snapshot with its staleness evaluated now.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.snapshot
	if a.active.Mint != "" {
		s.Stale = a.arbiter.Stale(a.now(), a.prov, a.activeSince)
	}
	return s
}

// SnapshotFor returns the snapshot if mint is active and priced.
func (a *Aggregator) SnapshotFor(mint string) (Snapshot, bool) {
	s := a.Snapshot()
	if s.Instrument.Mint != mint || !s.HasPrice() {
		return Snapshot{}, false
	}
	return s, true
}

// Provenance returns a copy of the per-source timestamps.
func (a *Aggregator) Provenance() Provenance {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(Provenance, len(a.prov))
	for k, v := range a.prov {
		out[k] = v
	}
	return out
}

// Poll runs one polling step for the active instrument. A failed poll
// leaves the snapshot untouched; the next scheduled poll is the retry.
func (a *Aggregator) Poll(ctx context.Context) error {
	a.mu.RLock()
	inst, gen := a.active, a.generation
	a.mu.RUnlock()
	if inst.Mint == "" {
		return ErrNoActiveInstrument
	}

	pollCtx, cancel := context.WithTimeout(ctx, a.pollTimeout)
	defer cancel()

	start := time.Now()
	data, err := a.market.FetchMarket(pollCtx, inst.Mint)
	metrics.ObservePoll(start, err)
	if err != nil {
		a.logger.Debug("Poll failed, keeping last snapshot",
			zap.String("mint", inst.Mint),
			zap.Error(err))
		return fmt.Errorf("poll %s: %w", inst.Mint, err)
	}

	a.apply(func(now time.Time) (Snapshot, bool) {
		if a.generation != gen {
			a.logger.Debug("Discarding poll for previous instrument", zap.String("mint", inst.Mint))
			return Snapshot{}, false
		}

		cur := a.snapshot
		next := cur
		next.PriceUSD = data.PriceUSD
		next.MarketCapUSD = a.arbiter.PollMarketCap(now, a.prov, cur.MarketCapUSD, data.MarketCapUSD)
		if !data.PriceOnly {
			next.LiquidityUSD = data.LiquidityUSD
		}
		if next.Instrument.Symbol == "" && data.Symbol != "" {
			next.Instrument.Symbol = data.Symbol
			a.active.Symbol = data.Symbol
		}
		next.Source = SourcePoll
		next.Stale = false
		next.ObservedAt = now

		a.prov[SourcePoll] = now
		a.staleLogged = false
		a.snapshot = next
		return next, material(cur, next)
	})
	return nil
}

// HandleTick applies one push tick and returns the arbitration outcome.
func (a *Aggregator) HandleTick(t Tick) TickDecision {
	decision := TickWrongMint

	a.apply(func(now time.Time) (Snapshot, bool) {
		if a.active.Mint == "" {
			return Snapshot{}, false
		}
		cur := a.snapshot
		decision = a.arbiter.JudgeTick(a.active.Mint, cur.PriceUSD, t)
		if decision != TickAccepted {
			return Snapshot{}, false
		}

		next := cur
		next.PriceUSD = t.PriceUSD
		next.Source = SourceRealtime
		next.ObservedAt = now
		a.prov[SourceRealtime] = now
		if t.ChartMarketCap > 0 {
			next.MarketCapUSD = t.ChartMarketCap
			next.Source = SourceChart
			a.prov[SourceChart] = now
		}
		a.snapshot = next
		return next, material(cur, next)
	})

	if decision == TickAccepted {
		metrics.TickAccepted()
	} else {
		metrics.TickRejected(string(decision))
		if decision == TickPriceJump {
			a.logger.Warn("Rejected implausible tick",
				zap.String("mint", t.Mint),
				zap.Float64("price", t.PriceUSD),
				zap.Int("confidence", t.Confidence),
				zap.String("source", t.Source))
		}
	}
	return decision
}

// Run polls on a fixed interval and drains the tick channel until ctx is
// done. Polls never overlap: the ticker drops ticks while a poll is running.
func (a *Aggregator) Run(ctx context.Context) error {
	a.logger.Info("Starting price feed",
		zap.Duration("poll_interval", a.pollInterval),
		zap.Duration("poll_timeout", a.pollTimeout))

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	var tickCh <-chan Tick
	if a.ticks != nil {
		tickCh = a.ticks.Ticks()
	}

	a.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			a.logger.Debug("Price feed stopped")
			return nil
		case <-a.restart:
			ticker.Reset(a.pollInterval)
			a.pollOnce(ctx)
		case <-ticker.C:
			a.pollOnce(ctx)
		case t, ok := <-tickCh:
			if !ok {
				tickCh = nil
				continue
			}
			a.HandleTick(t)
		}
	}
}

func (a *Aggregator) pollOnce(ctx context.Context) {
	if err := a.Poll(ctx); err != nil && !errors.Is(err, ErrNoActiveInstrument) {
		a.checkStale()
	}
}

// checkStale logs once when the active snapshot turns stale.
func (a *Aggregator) checkStale() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active.Mint == "" || a.staleLogged {
		return
	}
	if a.arbiter.Stale(a.now(), a.prov, a.activeSince) {
		a.staleLogged = true
		a.logger.Warn("Price snapshot is stale",
			zap.String("mint", a.active.Mint),
			zap.Time("last_poll", a.prov.Last(SourcePoll)))
	}
}

// apply runs fn under both locks and notifies subscribers when fn reports
// a material change. serial stays held while subscribers run.
func (a *Aggregator) apply(fn func(now time.Time) (Snapshot, bool)) {
	a.serial.Lock()
	defer a.serial.Unlock()

	a.mu.Lock()
	next, changed := fn(a.now())
	a.mu.Unlock()

	if !changed {
		return
	}

	change := Change{
		PriceUSD:     next.PriceUSD,
		MarketCapUSD: next.MarketCapUSD,
		Mint:         next.Instrument.Mint,
		Symbol:       next.Instrument.Symbol,
	}

	a.subMu.RLock()
	subs := make([]Subscriber, len(a.subscribers))
	copy(subs, a.subscribers)
	a.subMu.RUnlock()

	for _, fn := range subs {
		fn(change)
	}
}

func material(prev, next Snapshot) bool {
	return prev.PriceUSD != next.PriceUSD ||
		prev.MarketCapUSD != next.MarketCapUSD ||
		prev.Instrument != next.Instrument
}
