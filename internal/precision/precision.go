// internal/precision/precision.go

// Package precision defines the decimal policy for every stored quantity.
// Nothing outside this package rounds numbers on its own.
package precision

import (
	"math"

	"github.com/shopspring/decimal"
)

// Profile is a named rounding class.
type Profile struct {
	Name     string
	Decimals int32
}

var (
	TokenQuantity = Profile{Name: "token_quantity", Decimals: 6}
	SolAmount     = Profile{Name: "sol_amount", Decimals: 4}
	UsdPrice      = Profile{Name: "usd_price", Decimals: 8}
	Percentage    = Profile{Name: "percentage", Decimals: 2}
)

// QuantityEpsilon is the smallest token quantity a position can hold.
const QuantityEpsilon = 1e-6

var half = decimal.NewFromFloat(0.5)

// Round applies the profile to value.
func (p Profile) Round(value float64) float64 {
	return Round(value, p.Decimals)
}

// Round rounds half-up to the given number of decimals. The float is read
// through its shortest decimal form, so 1.005 rounds to 1.01 and not 1.00.
// NaN and infinities map to zero.
func Round(value float64, decimals int32) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	if value == 0 {
		return 0
	}

	d := decimal.NewFromFloat(value).Shift(decimals)
	rounded := d.Add(half).Floor().Shift(-decimals)

	f, _ := rounded.Float64()
	if f == 0 {
		// normalise -0
		return 0
	}
	return f
}

// WeightedAverage returns the weight-proportional mean of two values at
// usd-price precision. A zero total weight yields zero.
func WeightedAverage(valueA, weightA, valueB, weightB float64) float64 {
	total := weightA + weightB
	if total == 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return 0
	}
	return Round((valueA*weightA+valueB*weightB)/total, UsdPrice.Decimals)
}

// IsDust reports whether a token quantity is too small to keep a position open.
func IsDust(quantity float64) bool {
	return quantity < QuantityEpsilon
}
