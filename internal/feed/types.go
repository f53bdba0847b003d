// internal/feed/types.go
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

// ErrInvalidMint is returned when a mint is not a base58 public key.
var ErrInvalidMint = errors.New("invalid mint address")

// Instrument identifies a tradable token. Symbol is for display only and may
// be empty or stale.
type Instrument struct {
	Mint   string `json:"mint"`
	Symbol string `json:"symbol,omitempty"`
}

// NewInstrument validates mint and returns an Instrument.
func NewInstrument(mint, symbol string) (Instrument, error) {
	inst := Instrument{Mint: mint, Symbol: symbol}
	return inst, inst.Validate()
}

// Validate checks that the mint parses as a Solana public key.
func (i Instrument) Validate() error {
	if i.Mint == "" {
		return fmt.Errorf("%w: empty", ErrInvalidMint)
	}
	if _, err := solana.PublicKeyFromBase58(i.Mint); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidMint, i.Mint)
	}
	return nil
}

// Label is a short human form for logs.
func (i Instrument) Label() string {
	if i.Symbol != "" {
		return i.Symbol
	}
	if len(i.Mint) >= 8 {
		return i.Mint[:4] + "..." + i.Mint[len(i.Mint)-4:]
	}
	return i.Mint
}

// Source tags where a snapshot value came from.
type Source int

const (
	SourceNone Source = iota
	SourcePoll
	SourceRealtime
	SourceChart
)

func (s Source) String() string {
	switch s {
	case SourcePoll:
		return "poll"
	case SourceRealtime:
		return "realtime"
	case SourceChart:
		return "chart"
	default:
		return "none"
	}
}

// Provenance records the last time each source contributed a value for the
// active instrument. CHART is tracked apart from REALTIME so that an
// unrelated push event cannot extend the chart market-cap window.
type Provenance map[Source]time.Time

// Last returns when src last contributed, zero if never.
func (p Provenance) Last(src Source) time.Time {
	return p[src]
}

// Snapshot is the best known state of one instrument. It is replaced on
// every change, never modified.
type Snapshot struct {
	Instrument   Instrument `json:"instrument"`
	PriceUSD     float64    `json:"price_usd"`
	MarketCapUSD float64    `json:"market_cap_usd"`
	LiquidityUSD float64    `json:"liquidity_usd"`
	Stale        bool       `json:"stale"`
	Source       Source     `json:"source"`
	ObservedAt   time.Time  `json:"observed_at"`
}

// HasPrice reports whether the snapshot carries a usable price.
func (s Snapshot) HasPrice() bool {
	return s.PriceUSD > 0
}

// Change is delivered to subscribers on a material snapshot change.
type Change struct {
	PriceUSD     float64
	MarketCapUSD float64
	Mint         string
	Symbol       string
}

// Subscriber receives change notifications synchronously.
type Subscriber func(Change)

// Tick is one push observation from the real-time channel.
type Tick struct {
	Mint           string  `json:"mint"`
	PriceUSD       float64 `json:"price"`
	Confidence     int     `json:"confidence"`
	Source         string  `json:"source"`
	ChartMarketCap float64 `json:"chartMarketCap,omitempty"`
}

// TickSource is the push channel. Retarget is called on every instrument
// switch so the source can follow the new mint.
type TickSource interface {
	Ticks() <-chan Tick
	Retarget(ctx context.Context, inst Instrument) error
}
