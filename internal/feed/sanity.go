// internal/feed/sanity.go
package feed

import "math"

// Verdict is the outcome of a price sanity check.
type Verdict string

const (
	VerdictOK           Verdict = "ok"
	VerdictNoPrice      Verdict = "no_price"
	VerdictNativeBand   Verdict = "native_band"
	VerdictAboveCeiling Verdict = "above_ceiling"
)

// Limits bounds plausible token prices.
//
// PriceCeilingUSD doubles as the swap threshold: some upstream sources
// transpose price and market cap, and a price above the ceiling paired with
// a market cap below it is read as such a transposition. The fixed dollar
// threshold is a known approximation that misfires for very high-priced or
// very low-cap tokens.
//
// Prices inside [NativeBandLowUSD, NativeBandHighUSD] are rejected because
// they usually are the native asset's own USD price leaking into the token
// field.
type Limits struct {
	PriceCeilingUSD   float64
	NativeBandLowUSD  float64
	NativeBandHighUSD float64
}

const (
	DefaultPriceCeilingUSD   = 10000
	DefaultNativeBandLowUSD  = 100
	DefaultNativeBandHighUSD = 500
)

// DefaultLimits returns the stock limits.
func DefaultLimits() Limits {
	return Limits{
		PriceCeilingUSD:   DefaultPriceCeilingUSD,
		NativeBandLowUSD:  DefaultNativeBandLowUSD,
		NativeBandHighUSD: DefaultNativeBandHighUSD,
	}
}

// Checked is a price/market-cap pair after sanity correction.
type Checked struct {
	PriceUSD     float64
	MarketCapUSD float64
	Swapped      bool
	Verdict      Verdict
}

// OK reports whether the pair can be traded on.
func (c Checked) OK() bool {
	return c.Verdict == VerdictOK
}

// Check applies swap correction and then the band and ceiling rules.
func (l Limits) Check(priceUSD, marketCapUSD float64) Checked {
	c := Checked{PriceUSD: priceUSD, MarketCapUSD: marketCapUSD, Verdict: VerdictOK}

	if priceUSD <= 0 || math.IsNaN(priceUSD) || math.IsInf(priceUSD, 0) {
		c.Verdict = VerdictNoPrice
		return c
	}

	if priceUSD > l.PriceCeilingUSD && marketCapUSD > 0 && marketCapUSD < l.PriceCeilingUSD {
		c.PriceUSD, c.MarketCapUSD = marketCapUSD, priceUSD
		c.Swapped = true
	}

	switch {
	case l.InNativeBand(c.PriceUSD):
		c.Verdict = VerdictNativeBand
	case c.PriceUSD > l.PriceCeilingUSD:
		c.Verdict = VerdictAboveCeiling
	}
	return c
}

// InNativeBand reports whether price looks like the native asset's price.
func (l Limits) InNativeBand(priceUSD float64) bool {
	return priceUSD >= l.NativeBandLowUSD && priceUSD <= l.NativeBandHighUSD
}

// AboveCeiling reports whether a stored price is implausible.
func (l Limits) AboveCeiling(priceUSD float64) bool {
	return priceUSD > l.PriceCeilingUSD
}
