// internal/store/store.go
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTradeNotFound is returned when annotating an unknown trade.
var ErrTradeNotFound = errors.New("trade not found")

// Store owns the state. Every mutation goes through Update, which
// serialises writers; readers get deep copies.
type Store struct {
	mu    sync.Mutex
	state *State
}

// New wraps state. A nil state is replaced by an empty, unfunded one.
func New(state *State) *Store {
	if state == nil {
		state = NewState(0, time.Now())
	}
	return &Store{state: state}
}

// Update runs fn with exclusive access to the live state.
func (s *Store) Update(fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

// View runs fn with exclusive access. fn must not keep references.
func (s *Store) View(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// Snapshot returns a deep copy of the state.
func (s *Store) Snapshot() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Replace swaps in a loaded state.
func (s *Store) Replace(state *State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Position returns a copy of the position for mint in kind.
func (s *Store) Position(kind BookKind, mint string) (Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.Book(kind).Positions[mint]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Session returns a copy of the session totals of kind.
func (s *Store) Session(kind BookKind) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.state.Book(kind).Session
	sess.OpenTradeIDs = append([]string{}, sess.OpenTradeIDs...)
	return sess
}

// Mints lists the mints held in kind.
func (s *Store) Mints(kind BookKind) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Book(kind).Mints()
}

// Trades returns a copy of the trade log, optionally filtered by book.
func (s *Store) Trades(kind BookKind) []Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Trade
	for _, t := range s.state.Trades {
		if kind != "" && t.Book != kind {
			continue
		}
		out = append(out, t.Clone())
	}
	return out
}

// Persist writes a candidate state. Store commits the candidate only when
// Persist succeeds.
type Persist func(*State) error

// commit applies fn to a copy of the state, persists the copy and swaps it
// in. On any error the live state is unchanged.
func (s *Store) commit(fn func(*State) error, persist Persist) error {
	return s.Update(func(st *State) error {
		next := st.Clone()
		if err := fn(next); err != nil {
			return err
		}
		if persist != nil {
			if err := persist(next); err != nil {
				return err
			}
		}
		*st = *next
		return nil
	})
}

// AnnotateTrade attaches an annotation to an existing trade. Only the
// annotation changes; the execution fields stay as recorded.
func (s *Store) AnnotateTrade(id string, a Annotation, persist Persist) error {
	return s.commit(func(st *State) error {
		i := st.FindTrade(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrTradeNotFound, id)
		}
		cp := a
		st.Trades[i].Annotation = &cp
		return nil
	}, persist)
}

// ResetSession starts a new session for kind: positions are dropped and
// cash is reset. The trade log is kept.
func (s *Store) ResetSession(kind BookKind, startingBalanceSOL float64, now time.Time, persist Persist) error {
	return s.commit(func(st *State) error {
		enabled := true
		if b, ok := st.Books[kind]; ok {
			enabled = b.Session.Enabled
		}
		b := newBook(kind, startingBalanceSOL, now)
		b.Session.Enabled = enabled
		if st.Books == nil {
			st.Books = make(map[BookKind]*Book)
		}
		st.Books[kind] = b
		return nil
	}, persist)
}
