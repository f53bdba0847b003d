package storage

import (
	"context"
	"sync"

	"github.com/rovshanmuradov/solana-papertrader/internal/store"
)

// Memory keeps the last saved state in process. Used by tests and by
// the CLI when started with --ephemeral.
type Memory struct {
	mu             sync.Mutex
	state          *store.State
	saves          int
	immediateSaves int
	err            error
}

// NewMemory returns a Memory optionally seeded with state.
func NewMemory(state *store.State) *Memory {
	m := &Memory{}
	if state != nil {
		m.state = state.Clone()
	}
	return m
}

func (m *Memory) Load(_ context.Context) (*store.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, ErrNoState
	}
	return m.state.Clone(), nil
}

func (m *Memory) Save(_ context.Context, state *store.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.state = state.Clone()
	m.saves++
	return nil
}

func (m *Memory) SaveImmediate(_ context.Context, state *store.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.state = state.Clone()
	m.immediateSaves++
	return nil
}

func (m *Memory) Close() error { return nil }

// Counts returns how many deferred and immediate saves succeeded.
func (m *Memory) Counts() (saves, immediate int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves, m.immediateSaves
}

// SetErr makes every following save fail with err until cleared.
func (m *Memory) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
