// internal/bot/service.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-papertrader/internal/config"
	"github.com/rovshanmuradov/solana-papertrader/internal/events"
	"github.com/rovshanmuradov/solana-papertrader/internal/feed"
	"github.com/rovshanmuradov/solana-papertrader/internal/ledger"
	"github.com/rovshanmuradov/solana-papertrader/internal/metrics"
	"github.com/rovshanmuradov/solana-papertrader/internal/monitor"
	"github.com/rovshanmuradov/solana-papertrader/internal/pnl"
	"github.com/rovshanmuradov/solana-papertrader/internal/realtime"
	"github.com/rovshanmuradov/solana-papertrader/internal/storage"
	"github.com/rovshanmuradov/solana-papertrader/internal/storage/sqlite"
	"github.com/rovshanmuradov/solana-papertrader/internal/store"
)

var ErrUnknownBook = errors.New("unknown book")

// ServiceConfig wires a Service. Nil collaborators are built from Config.
type ServiceConfig struct {
	Config  *config.Config
	Logger  *zap.Logger
	Storage storage.Storage
	Market  feed.MarketClient
	Ticks   feed.TickSource
	Now     func() time.Time
}

// Service owns every component of a paper trading session.
type Service struct {
	cfg    *config.Config
	logger *zap.Logger
	now    func() time.Time

	storage    storage.Storage
	store      *store.Store
	market     feed.MarketClient
	ticks      feed.TickSource
	aggregator *feed.Aggregator
	native     *feed.NativePrice
	repricer   *feed.Repricer
	bus        *events.Bus
	ledgers    map[store.BookKind]*ledger.Ledger
	pnl        *pnl.Engine
	alerts     *monitor.AlertManager
	shutdown   *ShutdownHandler

	mu     sync.RWMutex
	quotes map[string]float64
}

// NewService loads persisted state and builds the component graph. Nothing
// runs until Run.
func NewService(ctx context.Context, sc ServiceConfig) (*Service, error) {
	cfg := sc.Config
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	logger := sc.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := sc.Now
	if now == nil {
		now = time.Now
	}

	s := &Service{
		cfg:      cfg,
		logger:   logger.Named("service"),
		now:      now,
		shutdown: NewShutdownHandler(logger, DefaultShutdownTimeout),
		quotes:   make(map[string]float64),
	}

	s.storage = sc.Storage
	if s.storage == nil {
		db, err := sqlite.Open(cfg.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		s.storage = db
	}
	s.shutdown.Add("storage", s.storage)

	state, err := s.storage.Load(ctx)
	switch {
	case errors.Is(err, storage.ErrNoState):
		s.logger.Info("No saved state, starting fresh",
			zap.Float64("starting_balance_sol", cfg.StartingBalanceSOL))
		state = store.NewState(cfg.StartingBalanceSOL, now())
	case err != nil:
		_ = s.storage.Close()
		return nil, fmt.Errorf("load state: %w", err)
	}
	s.store = store.New(state)

	s.market = sc.Market
	if s.market == nil {
		s.market = feed.NewHTTPMarketClient(cfg.Market(), logger)
	}

	s.ticks = sc.Ticks
	if s.ticks == nil && cfg.RealtimeWSURL != "" {
		s.ticks = realtime.New(realtime.Config{URL: cfg.RealtimeWSURL, Logger: logger})
	}

	s.aggregator = feed.NewAggregator(feed.Config{
		Market:       s.market,
		Ticks:        s.ticks,
		Arbiter:      cfg.Arbiter(),
		PollInterval: cfg.PollInterval(),
		PollTimeout:  cfg.PollTimeout(),
		Logger:       logger,
		Now:          now,
	})
	s.native = feed.NewNativePrice(s.market, cfg.NativeMint, cfg.NativeRefresh(), logger)

	s.bus = events.NewBus(logger, 0)
	s.shutdown.AddFunc("event_bus", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.bus.Shutdown(ctx)
	})
	s.subscribeNotifications()

	s.pnl = pnl.NewEngine(pnl.Config{
		Store:     s.store,
		Prices:    s.aggregator,
		Storage:   s.storage,
		Publisher: s.bus,
		Limits:    cfg.Limits(),
		Logger:    logger,
		Debounce:  cfg.PersistDebounce(),
		Now:       now,
	})
	s.shutdown.AddFunc("pnl", func() error { return s.pnl.Close(context.Background()) })

	s.ledgers = make(map[store.BookKind]*ledger.Ledger, 2)
	for _, kind := range []store.BookKind{store.BookPaper, store.BookObserved} {
		s.ledgers[kind] = ledger.New(ledger.Config{
			Store:     s.store,
			Book:      kind,
			Prices:    s.aggregator,
			Native:    s.native,
			Storage:   s.storage,
			Publisher: s.bus,
			Limits:    cfg.Limits(),
			Logger:    logger,
			Now:       now,
		})
	}

	s.alerts = monitor.NewAlertManager(cfg.Alerts(), logger)
	s.alerts.AddHandler(s.publishAlert)

	s.repricer = feed.NewRepricer(s.market, s.heldMints, s.onQuotes, cfg.RepriceInterval(), logger)
	s.aggregator.Subscribe(s.onChange)

	for _, kind := range []store.BookKind{store.BookPaper, store.BookObserved} {
		if removed := s.pnl.Validate(kind); len(removed) > 0 {
			s.logger.Warn("Removed corrupted positions on load",
				zap.String("book", string(kind)),
				zap.Int("count", len(removed)))
		}
	}

	return s, nil
}

func (s *Service) subscribeNotifications() {
	s.bus.SubscribeFunc(events.TradeCompleted, func(_ context.Context, e events.Event) error {
		ev, ok := e.(events.TradeCompletedEvent)
		if !ok {
			return nil
		}
		s.logger.Info("Trade notification",
			zap.String("id", ev.Trade.ID),
			zap.String("book", string(ev.Trade.Book)),
			zap.String("side", string(ev.Trade.Side)),
			zap.String("mint", ev.Trade.Mint),
			zap.Float64("sol", ev.Trade.SolAmount),
			zap.Float64("realized_pnl_sol", ev.Trade.RealizedPnlSOL),
			zap.Float64("cash_sol", ev.Session.CashBalanceSOL))
		return nil
	})
	s.bus.SubscribeFunc(events.PositionQuarantined, func(_ context.Context, e events.Event) error {
		ev, ok := e.(events.PositionQuarantinedEvent)
		if !ok {
			return nil
		}
		s.logger.Warn("Position quarantined",
			zap.String("book", string(ev.Book)),
			zap.String("mint", ev.Position.Mint),
			zap.String("reason", ev.Reason))
		return nil
	})
}

// Run starts the feed, the pollers and the optional metrics endpoint and
// blocks until ctx is done or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.aggregator.Run(gCtx) })
	g.Go(func() error { return s.native.Run(gCtx) })
	g.Go(func() error { return s.repricer.Run(gCtx) })

	if r, ok := s.ticks.(interface{ Run(context.Context) error }); ok {
		g.Go(func() error { return r.Run(gCtx) })
	}
	if s.cfg.MetricsAddr != "" {
		g.Go(func() error { return s.serveMetrics(gCtx) })
	}

	s.logger.Info("Paper trader running",
		zap.Bool("realtime", s.ticks != nil),
		zap.String("metrics_addr", s.cfg.MetricsAddr))
	return g.Wait()
}

func (s *Service) serveMetrics(ctx context.Context) error {
	metrics.Register(prometheus.DefaultRegisterer)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// onChange re-values both books against the new snapshot.
func (s *Service) onChange(c feed.Change) {
	native := s.native.USD()
	for _, kind := range []store.BookKind{store.BookPaper, store.BookObserved} {
		sum := s.pnl.UnrealizedPnl(kind, native, c.Mint)
		if len(sum.Positions) > 0 {
			s.logger.Debug("Unrealized PnL",
				zap.String("book", string(kind)),
				zap.Float64("pnl_sol", sum.TotalPnlSOL),
				zap.Float64("value_sol", sum.TotalValueSOL))
		}
		for _, p := range sum.Positions {
			if p.Mint == c.Mint {
				s.alerts.CheckPosition(kind, p, s.planFor(kind, p.Mint))
			}
		}
	}
	_ = s.bus.Publish(events.PriceUpdatedEvent{
		BaseEvent:    events.BaseEvent{EventType: events.PriceUpdated, EventTime: s.now()},
		Mint:         c.Mint,
		Symbol:       c.Symbol,
		PriceUSD:     c.PriceUSD,
		MarketCapUSD: c.MarketCapUSD,
	})
}

// planFor returns the plan of the newest buy of mint in kind that has one.
func (s *Service) planFor(kind store.BookKind, mint string) *store.Plan {
	trades := s.store.Trades(kind)
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		if t.Mint == mint && t.Side == store.SideBuy && t.Plan != nil {
			return t.Plan
		}
	}
	return nil
}

func (s *Service) publishAlert(a monitor.Alert) {
	_ = s.bus.Publish(events.AlertTriggeredEvent{
		BaseEvent: events.BaseEvent{EventType: events.AlertTriggered, EventTime: a.Timestamp},
		Book:      a.Book,
		Mint:      a.Mint,
		AlertType: string(a.Type),
		Severity:  a.Severity,
		Message:   a.Message,
	})
}

// Alerts returns up to limit of the newest alerts.
func (s *Service) Alerts(limit int) []monitor.Alert {
	return s.alerts.RecentAlerts(limit)
}

// onQuotes keeps the latest batch quotes for MarkToMarket.
func (s *Service) onQuotes(quotes map[string]float64) {
	s.mu.Lock()
	for mint, price := range quotes {
		s.quotes[mint] = price
	}
	s.mu.Unlock()

	for _, kind := range []store.BookKind{store.BookPaper, store.BookObserved} {
		sum := s.MarkToMarket(kind)
		if len(sum.Positions) == 0 {
			continue
		}
		s.logger.Info("Mark to market",
			zap.String("book", string(kind)),
			zap.Int("positions", len(sum.Positions)),
			zap.Float64("value_sol", sum.TotalValueSOL),
			zap.Float64("pnl_sol", sum.TotalPnlSOL))
	}
}

// heldMints lists every mint open in either book.
func (s *Service) heldMints() []string {
	seen := make(map[string]struct{})
	for _, kind := range []store.BookKind{store.BookPaper, store.BookObserved} {
		for _, m := range s.store.Mints(kind) {
			seen[m] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Ledger returns the ledger for kind.
func (s *Service) Ledger(kind store.BookKind) (*ledger.Ledger, error) {
	l, ok := s.ledgers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBook, kind)
	}
	return l, nil
}

// SwitchInstrument makes inst the active instrument.
func (s *Service) SwitchInstrument(ctx context.Context, inst feed.Instrument) error {
	if err := s.aggregator.SwitchInstrument(ctx, inst); err != nil {
		return err
	}
	_ = s.bus.Publish(events.InstrumentSwitchedEvent{
		BaseEvent: events.BaseEvent{EventType: events.InstrumentSwitched, EventTime: s.now()},
		Mint:      inst.Mint,
		Symbol:    inst.Symbol,
	})
	return nil
}

// Active returns the active instrument.
func (s *Service) Active() feed.Instrument {
	return s.aggregator.Active()
}

// Refresh polls the active instrument and the native price once. One-shot
// commands use it in place of Run.
func (s *Service) Refresh(ctx context.Context) error {
	var errs []error
	if err := s.aggregator.Poll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.native.Refresh(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Buy executes a buy on the active instrument.
func (s *Service) Buy(ctx context.Context, kind store.BookKind, req ledger.BuyRequest) (ledger.Result, error) {
	l, err := s.Ledger(kind)
	if err != nil {
		return ledger.Result{}, err
	}
	if req.Instrument.Mint == "" {
		req.Instrument = s.Active()
	}
	return l.Buy(ctx, req)
}

// Sell executes a sell on the active instrument.
func (s *Service) Sell(ctx context.Context, kind store.BookKind, req ledger.SellRequest) (ledger.Result, error) {
	l, err := s.Ledger(kind)
	if err != nil {
		return ledger.Result{}, err
	}
	if req.Instrument.Mint == "" {
		req.Instrument = s.Active()
	}
	return l.Sell(ctx, req)
}

// Positions values kind with live marks for the active instrument.
func (s *Service) Positions(kind store.BookKind) pnl.Summary {
	return s.pnl.UnrealizedPnl(kind, s.native.USD(), s.Active().Mint)
}

// MarkToMarket values kind against the latest batch quotes without
// changing stored marks.
func (s *Service) MarkToMarket(kind store.BookKind) pnl.Summary {
	s.mu.RLock()
	quotes := make(map[string]float64, len(s.quotes))
	for k, v := range s.quotes {
		quotes[k] = v
	}
	s.mu.RUnlock()
	return s.pnl.MarkToMarket(kind, s.native.USD(), quotes)
}

// Reprice fetches batch quotes for every held mint once.
func (s *Service) Reprice(ctx context.Context) error {
	_, err := s.repricer.Reprice(ctx)
	return err
}

// Stats summarises the current session of kind.
func (s *Service) Stats(kind store.BookKind) (ledger.Stats, error) {
	l, err := s.Ledger(kind)
	if err != nil {
		return ledger.Stats{}, err
	}
	return l.Stats(), nil
}

// Trades returns the trade log of kind, or of every book when kind is empty.
func (s *Service) Trades(kind store.BookKind) []store.Trade {
	return s.store.Trades(kind)
}

// ResetSession starts a new session for kind and persists it.
func (s *Service) ResetSession(ctx context.Context, kind store.BookKind, startingBalanceSOL float64) error {
	if _, err := s.Ledger(kind); err != nil {
		return err
	}
	if startingBalanceSOL <= 0 {
		startingBalanceSOL = s.cfg.StartingBalanceSOL
	}
	err := s.store.ResetSession(kind, startingBalanceSOL, s.now(), func(next *store.State) error {
		return s.storage.SaveImmediate(ctx, next)
	})
	if err != nil {
		return fmt.Errorf("persist reset: %w", err)
	}
	s.logger.Info("Session reset",
		zap.String("book", string(kind)),
		zap.Float64("starting_balance_sol", startingBalanceSOL))
	_ = s.bus.Publish(events.SessionResetEvent{
		BaseEvent:          events.BaseEvent{EventType: events.SessionReset, EventTime: s.now()},
		Book:               kind,
		StartingBalanceSOL: startingBalanceSOL,
	})
	return nil
}

// Annotate attaches a journal annotation to a trade and persists it.
func (s *Service) Annotate(ctx context.Context, id string, a store.Annotation) error {
	return s.store.AnnotateTrade(id, a, func(next *store.State) error {
		if err := s.storage.SaveImmediate(ctx, next); err != nil {
			return fmt.Errorf("persist annotation: %w", err)
		}
		return nil
	})
}

// SetEnabled turns trading on or off for kind.
func (s *Service) SetEnabled(ctx context.Context, kind store.BookKind, enabled bool) error {
	l, err := s.Ledger(kind)
	if err != nil {
		return err
	}
	return l.SetEnabled(ctx, enabled)
}

// Session returns the session of kind.
func (s *Service) Session(kind store.BookKind) store.Session {
	return s.store.Session(kind)
}

// NativeUSD returns the last known native asset price.
func (s *Service) NativeUSD() float64 {
	return s.native.USD()
}

// Bus exposes the event bus for extra subscribers.
func (s *Service) Bus() *events.Bus {
	return s.bus
}

// Close flushes pending state and releases every resource.
func (s *Service) Close(ctx context.Context) error {
	return s.shutdown.Shutdown(ctx)
}
