package ledger

// Reason says why a trade intent was rejected. The zero value means accepted.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonDisabled            Reason = "disabled"
	ReasonInvalidInstrument   Reason = "invalid_instrument"
	ReasonInvalidAmount       Reason = "invalid_amount"
	ReasonInsufficientBalance Reason = "insufficient_balance"
	ReasonNoPrice             Reason = "no_price"
	ReasonNoNativePrice       Reason = "no_native_price"
	ReasonNativeBand          Reason = "native_band"
	ReasonAboveCeiling        Reason = "above_ceiling"
	ReasonNoPosition          Reason = "no_position"
	ReasonNothingToSell       Reason = "nothing_to_sell"
	ReasonFillTooSmall        Reason = "fill_too_small"
	ReasonPersistFailed       Reason = "persist_failed"
)

var messages = map[Reason]string{
	ReasonDisabled:            "Trading is disabled for this book",
	ReasonInvalidInstrument:   "Unknown or malformed token mint",
	ReasonInvalidAmount:       "Amount must be greater than zero",
	ReasonInsufficientBalance: "Insufficient SOL balance",
	ReasonNoPrice:             "No price available for this token yet",
	ReasonNoNativePrice:       "SOL price unavailable",
	ReasonNativeBand:          "Price looks like the SOL price, not the token price",
	ReasonAboveCeiling:        "Price is implausibly high",
	ReasonNoPosition:          "No open position for this token",
	ReasonNothingToSell:       "Sell amount rounds to zero",
	ReasonFillTooSmall:        "Amount too small to buy any tokens",
	ReasonPersistFailed:       "Could not save the trade",
}

// Message is the human-readable text for r.
func (r Reason) Message() string {
	if m, ok := messages[r]; ok {
		return m
	}
	return string(r)
}
