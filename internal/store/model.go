// internal/store/model.go
package store

import (
	"sort"
	"time"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// BookKind names an independent position book.
type BookKind string

const (
	// BookPaper holds simulated trades placed by the user.
	BookPaper BookKind = "paper"
	// BookObserved mirrors real trades seen on the page.
	BookObserved BookKind = "observed"
)

// Position is the open holding of one mint in one book.
type Position struct {
	Mint                 string    `json:"mint"`
	Symbol               string    `json:"symbol,omitempty"`
	Quantity             float64   `json:"quantity"`
	AverageEntryPriceUSD float64   `json:"average_entry_price_usd"`
	LastMarkPriceUSD     float64   `json:"last_mark_price_usd"`
	TotalCostBasisSOL    float64   `json:"total_cost_basis_sol"`
	OpenedAt             time.Time `json:"opened_at"`
	PeakUnrealizedPnlPct float64   `json:"peak_unrealized_pnl_pct"`
}

// Plan holds optional intent recorded with a buy.
type Plan struct {
	StopLossUSD   float64 `json:"stop_loss_usd,omitempty"`
	TakeProfitUSD float64 `json:"take_profit_usd,omitempty"`
	Thesis        string  `json:"thesis,omitempty"`
}

// Annotation is added to a trade after the fact by journaling tools.
type Annotation struct {
	Strategy     string `json:"strategy,omitempty"`
	Emotion      string `json:"emotion,omitempty"`
	FollowedPlan *bool  `json:"followed_plan,omitempty"`
	Note         string `json:"note,omitempty"`
}

// Trade is an immutable execution record.
type Trade struct {
	ID             string      `json:"id"`
	Timestamp      time.Time   `json:"timestamp"`
	Side           Side        `json:"side"`
	Book           BookKind    `json:"book"`
	Mint           string      `json:"mint"`
	Symbol         string      `json:"symbol,omitempty"`
	SolAmount      float64     `json:"sol_amount"`
	TokenQuantity  float64     `json:"token_quantity"`
	PriceUSD       float64     `json:"price_usd"`
	MarketCapUSD   float64     `json:"market_cap_usd"`
	RealizedPnlSOL float64     `json:"realized_pnl_sol,omitempty"`
	StrategyTag    string      `json:"strategy_tag,omitempty"`
	Plan           *Plan       `json:"plan,omitempty"`
	Annotation     *Annotation `json:"annotation,omitempty"`
}

// Session holds the running totals of one book.
type Session struct {
	CashBalanceSOL     float64   `json:"cash_balance_sol"`
	RealizedPnlSOL     float64   `json:"realized_pnl_sol"`
	OpenTradeIDs       []string  `json:"open_trade_ids"`
	StartingBalanceSOL float64   `json:"starting_balance_sol"`
	StartedAt          time.Time `json:"started_at"`
	Enabled            bool      `json:"enabled"`
}

// Book is one independent ledger of positions and totals.
type Book struct {
	Kind      BookKind             `json:"kind"`
	Session   Session              `json:"session"`
	Positions map[string]*Position `json:"positions"`
}

// State is everything the core persists.
type State struct {
	Books  map[BookKind]*Book `json:"books"`
	Trades []Trade            `json:"trades"`
}

// NewState returns a fresh state with both books enabled and funded.
func NewState(startingBalanceSOL float64, now time.Time) *State {
	s := &State{Books: make(map[BookKind]*Book)}
	for _, kind := range []BookKind{BookPaper, BookObserved} {
		s.Books[kind] = newBook(kind, startingBalanceSOL, now)
	}
	return s
}

func newBook(kind BookKind, startingBalanceSOL float64, now time.Time) *Book {
	return &Book{
		Kind: kind,
		Session: Session{
			CashBalanceSOL:     startingBalanceSOL,
			StartingBalanceSOL: startingBalanceSOL,
			StartedAt:          now,
			Enabled:            true,
			OpenTradeIDs:       []string{},
		},
		Positions: make(map[string]*Position),
	}
}

// Book returns the book of kind, creating an empty disabled one if missing.
func (s *State) Book(kind BookKind) *Book {
	if s.Books == nil {
		s.Books = make(map[BookKind]*Book)
	}
	b, ok := s.Books[kind]
	if !ok {
		b = &Book{Kind: kind, Positions: make(map[string]*Position), Session: Session{OpenTradeIDs: []string{}}}
		s.Books[kind] = b
	}
	if b.Positions == nil {
		b.Positions = make(map[string]*Position)
	}
	return b
}

// FindTrade returns the index of the trade with id, or -1.
func (s *State) FindTrade(id string) int {
	for i := len(s.Trades) - 1; i >= 0; i-- {
		if s.Trades[i].ID == id {
			return i
		}
	}
	return -1
}

// ClosePosition removes mint from the book of kind along with the open
// trade ids that built it.
func (s *State) ClosePosition(kind BookKind, mint string) {
	b := s.Book(kind)
	delete(b.Positions, mint)
	ids := make([]string, 0, len(b.Session.OpenTradeIDs))
	for _, id := range b.Session.OpenTradeIDs {
		if i := s.FindTrade(id); i >= 0 && s.Trades[i].Mint == mint {
			continue
		}
		ids = append(ids, id)
	}
	b.Session.OpenTradeIDs = ids
}

// Mints returns the mints held in a book, sorted.
func (b *Book) Mints() []string {
	out := make([]string, 0, len(b.Positions))
	for mint := range b.Positions {
		out = append(out, mint)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	out := &State{
		Books:  make(map[BookKind]*Book, len(s.Books)),
		Trades: make([]Trade, len(s.Trades)),
	}
	for kind, b := range s.Books {
		out.Books[kind] = b.Clone()
	}
	for i, t := range s.Trades {
		out.Trades[i] = t.Clone()
	}
	return out
}

// Clone returns a deep copy of b.
func (b *Book) Clone() *Book {
	out := &Book{
		Kind:      b.Kind,
		Session:   b.Session,
		Positions: make(map[string]*Position, len(b.Positions)),
	}
	out.Session.OpenTradeIDs = append([]string{}, b.Session.OpenTradeIDs...)
	for mint, p := range b.Positions {
		cp := *p
		out.Positions[mint] = &cp
	}
	return out
}

// Clone returns a copy of t that shares no pointers with it.
func (t Trade) Clone() Trade {
	if t.Plan != nil {
		p := *t.Plan
		t.Plan = &p
	}
	if t.Annotation != nil {
		a := *t.Annotation
		if a.FollowedPlan != nil {
			v := *a.FollowedPlan
			a.FollowedPlan = &v
		}
		t.Annotation = &a
	}
	return t
}
