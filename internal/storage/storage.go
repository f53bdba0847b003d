// internal/storage/storage.go
package storage

import (
	"context"
	"errors"

	"github.com/rovshanmuradov/solana-papertrader/internal/store"
)

// ErrNoState is returned by Load when nothing has been persisted yet.
var ErrNoState = errors.New("no persisted state")

// Storage persists the full trading state.
type Storage interface {
	// Load returns the last persisted state or ErrNoState.
	Load(ctx context.Context) (*store.State, error)
	// Save persists state; implementations may defer durability.
	Save(ctx context.Context, state *store.State) error
	// SaveImmediate persists state and returns only once it is durable.
	SaveImmediate(ctx context.Context, state *store.State) error
	Close() error
}
