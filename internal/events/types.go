// internal/events/types.go
package events

import (
	"time"

	"github.com/rovshanmuradov/solana-papertrader/internal/store"
)

// EventType represents the type of event.
type EventType string

const (
	TradeCompleted      EventType = "trade.completed"
	PositionQuarantined EventType = "position.quarantined"
	InstrumentSwitched  EventType = "instrument.switched"
	PriceUpdated        EventType = "price.updated"
	SessionReset        EventType = "session.reset"
	AlertTriggered      EventType = "alert.triggered"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.EventTime }

// TradeCompletedEvent is emitted after a trade has been applied and persisted.
type TradeCompletedEvent struct {
	BaseEvent
	Trade    store.Trade
	Position *store.Position // nil after a full close
	Session  store.Session
}

// NewTradeCompleted builds a TradeCompletedEvent stamped with the trade time.
func NewTradeCompleted(t store.Trade, pos *store.Position, sess store.Session) TradeCompletedEvent {
	return TradeCompletedEvent{
		BaseEvent: BaseEvent{EventType: TradeCompleted, EventTime: t.Timestamp},
		Trade:     t,
		Position:  pos,
		Session:   sess,
	}
}

// PositionQuarantinedEvent is emitted when validation deletes a corrupted position.
type PositionQuarantinedEvent struct {
	BaseEvent
	Book     store.BookKind
	Position store.Position
	Reason   string
}

// InstrumentSwitchedEvent is emitted when the active instrument changes.
type InstrumentSwitchedEvent struct {
	BaseEvent
	Mint   string
	Symbol string
}

// PriceUpdatedEvent mirrors a material snapshot change.
type PriceUpdatedEvent struct {
	BaseEvent
	Mint         string
	Symbol       string
	PriceUSD     float64
	MarketCapUSD float64
}

// SessionResetEvent is emitted when a book starts a new session.
type SessionResetEvent struct {
	BaseEvent
	Book               store.BookKind
	StartingBalanceSOL float64
}

// AlertTriggeredEvent is emitted when a position crosses its plan or a P&L
// threshold.
type AlertTriggeredEvent struct {
	BaseEvent
	Book      store.BookKind
	Mint      string
	AlertType string
	Severity  string
	Message   string
}
