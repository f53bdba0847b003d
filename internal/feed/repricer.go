// internal/feed/repricer.go
package feed

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultRepriceInterval is the batch re-pricing cadence.
const DefaultRepriceInterval = 15 * time.Second

// QuotesHandler receives one batch of price-only quotes keyed by mint.
type QuotesHandler func(quotes map[string]float64)

// Repricer periodically fetches prices for every held mint in one request.
// Its quotes are observations only and never touch stored positions.
type Repricer struct {
	market   MarketClient
	mints    func() []string
	handler  QuotesHandler
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// NewRepricer creates a repricer. mints is called on every run to list the
// mints currently held.
func NewRepricer(market MarketClient, mints func() []string, handler QuotesHandler, interval time.Duration, logger *zap.Logger) *Repricer {
	if interval <= 0 {
		interval = DefaultRepriceInterval
	}
	return &Repricer{
		market:   market,
		mints:    mints,
		handler:  handler,
		interval: interval,
		timeout:  DefaultPollTimeout,
		logger:   logger.Named("repricer"),
	}
}

// Reprice runs one batch and hands the result to the handler.
func (r *Repricer) Reprice(ctx context.Context) (map[string]float64, error) {
	mints := r.mints()
	if len(mints) == 0 {
		return map[string]float64{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	quotes, err := r.market.FetchPrices(ctx, mints)
	if err != nil {
		return nil, fmt.Errorf("batch reprice: %w", err)
	}

	r.logger.Debug("Batch repriced",
		zap.Int("requested", len(mints)),
		zap.Int("quoted", len(quotes)))

	if r.handler != nil {
		r.handler(quotes)
	}
	return quotes, nil
}

// Run reprices on a fixed interval until ctx is done.
func (r *Repricer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Reprice(ctx); err != nil {
				r.logger.Debug("Reprice failed", zap.Error(err))
			}
		}
	}
}
