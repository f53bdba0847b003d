// internal/feed/native.go
package feed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// DefaultNativeRefresh is how often the native asset price is refreshed.
const DefaultNativeRefresh = 10 * time.Second

// Quotes for SOL outside this range are treated as feed errors.
const (
	MinNativeUSD = 1.0
	MaxNativeUSD = 10000.0
)

// ErrImplausibleNativePrice is returned when the feed quotes SOL outside
// [MinNativeUSD, MaxNativeUSD].
var ErrImplausibleNativePrice = errors.New("native price outside plausible range")

// NativePrice tracks the USD price of SOL, read through the wrapped-SOL
// mint on the price-only endpoint.
type NativePrice struct {
	market   MarketClient
	mint     string
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	price     float64
	updatedAt time.Time
}

// NewNativePrice creates a poller. An empty mint means wrapped SOL.
func NewNativePrice(market MarketClient, mint string, interval time.Duration, logger *zap.Logger) *NativePrice {
	if mint == "" {
		mint = solana.SolMint.String()
	}
	if interval <= 0 {
		interval = DefaultNativeRefresh
	}
	return &NativePrice{
		market:   market,
		mint:     mint,
		interval: interval,
		timeout:  DefaultPollTimeout,
		logger:   logger.Named("native_price"),
	}
}

// USD returns the last known price, zero if none yet.
func (n *NativePrice) USD() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.price
}

// UpdatedAt returns when the price was last set.
func (n *NativePrice) UpdatedAt() time.Time {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.updatedAt
}

// Set stores a price directly. Values outside the plausible range are
// ignored and reported as false.
func (n *NativePrice) Set(priceUSD float64) bool {
	if math.IsNaN(priceUSD) || priceUSD < MinNativeUSD || priceUSD > MaxNativeUSD {
		return false
	}
	n.mu.Lock()
	n.price = priceUSD
	n.updatedAt = time.Now()
	n.mu.Unlock()
	return true
}

// Refresh fetches the price once.
func (n *NativePrice) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	prices, err := n.market.FetchPrices(ctx, []string{n.mint})
	if err != nil {
		return fmt.Errorf("fetch native price: %w", err)
	}
	price, ok := prices[n.mint]
	if !ok {
		return ErrNoMarketData
	}
	if !n.Set(price) {
		return fmt.Errorf("%w: %v", ErrImplausibleNativePrice, price)
	}
	return nil
}

// Run refreshes on a fixed interval until ctx is done.
func (n *NativePrice) Run(ctx context.Context) error {
	refresh := func() {
		if err := n.Refresh(ctx); err != nil {
			n.logger.Debug("Native price refresh failed", zap.Error(err))
		}
	}

	refresh()
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			refresh()
		}
	}
}
