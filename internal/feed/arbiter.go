// internal/feed/arbiter.go
package feed

import (
	"math"
	"time"
)

// ArbiterConfig holds the arbitration thresholds.
type ArbiterConfig struct {
	MinConfidence  int           // ticks below this are ignored
	HighConfidence int           // ticks at or above this may move price freely
	MaxJumpPct     float64       // largest instantaneous move for ordinary ticks
	ChartPriority  time.Duration // how long a chart market cap beats the poll
	StaleAfter     time.Duration // poll silence before a snapshot is stale
}

// DefaultArbiterConfig returns the stock thresholds.
func DefaultArbiterConfig() ArbiterConfig {
	return ArbiterConfig{
		MinConfidence:  1,
		HighConfidence: 3,
		MaxJumpPct:     80,
		ChartPriority:  3 * time.Second,
		StaleAfter:     10 * time.Second,
	}
}

// TickDecision is the outcome of judging a push tick.
type TickDecision string

const (
	TickAccepted      TickDecision = "accepted"
	TickNoPrice       TickDecision = "no_price"
	TickWrongMint     TickDecision = "wrong_mint"
	TickLowConfidence TickDecision = "low_confidence"
	TickPriceJump     TickDecision = "price_jump"
)

// Arbiter decides which source wins for each field. It holds no state; the
// caller passes the current price and provenance in.
type Arbiter struct {
	cfg ArbiterConfig
}

// NewArbiter creates an arbiter with cfg.
func NewArbiter(cfg ArbiterConfig) Arbiter {
	return Arbiter{cfg: cfg}
}

// Config returns the thresholds in use.
func (a Arbiter) Config() ArbiterConfig {
	return a.cfg
}

// JudgeTick decides whether t may replace currentPrice for activeMint.
func (a Arbiter) JudgeTick(activeMint string, currentPrice float64, t Tick) TickDecision {
	if t.Mint != "" && t.Mint != activeMint {
		return TickWrongMint
	}
	if t.PriceUSD <= 0 || math.IsNaN(t.PriceUSD) || math.IsInf(t.PriceUSD, 0) {
		return TickNoPrice
	}
	if t.Confidence < a.cfg.MinConfidence {
		return TickLowConfidence
	}
	if currentPrice > 0 && t.Confidence < a.cfg.HighConfidence {
		move := math.Abs(t.PriceUSD-currentPrice) / currentPrice * 100
		if move > a.cfg.MaxJumpPct {
			return TickPriceJump
		}
	}
	return TickAccepted
}

// ChartActive reports whether a chart market cap is still inside its
// priority window.
func (a Arbiter) ChartActive(now time.Time, prov Provenance) bool {
	last := prov.Last(SourceChart)
	if last.IsZero() {
		return false
	}
	return now.Sub(last) < a.cfg.ChartPriority
}

// PollMarketCap picks the market cap to keep when a poll lands.
func (a Arbiter) PollMarketCap(now time.Time, prov Provenance, current, polled float64) float64 {
	if a.ChartActive(now, prov) && current > 0 {
		return current
	}
	if polled <= 0 {
		return current
	}
	return polled
}

// Stale reports whether the poll has been silent too long. since is the
// moment the instrument became active and stands in for a poll that never
// happened.
func (a Arbiter) Stale(now time.Time, prov Provenance, since time.Time) bool {
	ref := prov.Last(SourcePoll)
	if ref.IsZero() {
		ref = since
	}
	if ref.IsZero() {
		return true
	}
	return now.Sub(ref) > a.cfg.StaleAfter
}
