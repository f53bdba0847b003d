// internal/storage/sqlite/sqlite.go
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-papertrader/internal/storage"
	"github.com/rovshanmuradov/solana-papertrader/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	book TEXT PRIMARY KEY,
	cash_balance_sol REAL NOT NULL,
	realized_pnl_sol REAL NOT NULL,
	open_trade_ids TEXT NOT NULL,
	starting_balance_sol REAL NOT NULL,
	started_at INTEGER NOT NULL,
	enabled INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	book TEXT NOT NULL,
	mint TEXT NOT NULL,
	symbol TEXT NOT NULL,
	quantity REAL NOT NULL,
	average_entry_price_usd REAL NOT NULL,
	last_mark_price_usd REAL NOT NULL,
	total_cost_basis_sol REAL NOT NULL,
	opened_at INTEGER NOT NULL,
	peak_unrealized_pnl_pct REAL NOT NULL,
	PRIMARY KEY (book, mint)
);

CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	seq INTEGER NOT NULL,
	timestamp INTEGER NOT NULL,
	side TEXT NOT NULL,
	book TEXT NOT NULL,
	mint TEXT NOT NULL,
	symbol TEXT NOT NULL,
	sol_amount REAL NOT NULL,
	token_quantity REAL NOT NULL,
	price_usd REAL NOT NULL,
	market_cap_usd REAL NOT NULL,
	realized_pnl_sol REAL NOT NULL,
	strategy_tag TEXT NOT NULL,
	plan TEXT,
	annotation TEXT
);

CREATE INDEX IF NOT EXISTS idx_trades_seq ON trades(seq);
CREATE INDEX IF NOT EXISTS idx_trades_mint ON trades(mint);
`

// Store persists state in a single SQLite file.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger

	// mu guards the record of what the trades table already holds: the
	// first written trades and the annotation stored for each.
	mu      sync.Mutex
	written int
	notes   map[string]sql.NullString
}

var _ storage.Storage = (*Store)(nil)

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; sqlite serialises anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db, path: path, logger: logger.Named("sqlite"), notes: make(map[string]sql.NullString)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.logger.Debug("SQLite store ready", zap.String("path", path))
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the full state. ErrNoState is returned for a fresh database.
func (s *Store) Load(ctx context.Context) (*store.State, error) {
	state := &store.State{Books: make(map[store.BookKind]*store.Book)}

	if err := s.loadSessions(ctx, state); err != nil {
		return nil, err
	}
	if len(state.Books) == 0 {
		return nil, storage.ErrNoState
	}
	if err := s.loadPositions(ctx, state); err != nil {
		return nil, err
	}
	notes, err := s.loadTrades(ctx, state)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.written, s.notes = len(state.Trades), notes
	s.mu.Unlock()
	return state, nil
}

func (s *Store) loadSessions(ctx context.Context, state *store.State) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT book, cash_balance_sol, realized_pnl_sol, open_trade_ids,
		       starting_balance_sol, started_at, enabled
		FROM sessions`)
	if err != nil {
		return fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind      string
			sess      store.Session
			openIDs   string
			startedAt int64
		)
		if err := rows.Scan(&kind, &sess.CashBalanceSOL, &sess.RealizedPnlSOL, &openIDs,
			&sess.StartingBalanceSOL, &startedAt, &sess.Enabled); err != nil {
			return fmt.Errorf("scan session: %w", err)
		}
		if err := json.Unmarshal([]byte(openIDs), &sess.OpenTradeIDs); err != nil {
			return fmt.Errorf("decode open trade ids for %s: %w", kind, err)
		}
		if sess.OpenTradeIDs == nil {
			sess.OpenTradeIDs = []string{}
		}
		sess.StartedAt = fromNanos(startedAt)
		b := state.Book(store.BookKind(kind))
		b.Session = sess
	}
	return rows.Err()
}

func (s *Store) loadPositions(ctx context.Context, state *store.State) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT book, mint, symbol, quantity, average_entry_price_usd, last_mark_price_usd,
		       total_cost_basis_sol, opened_at, peak_unrealized_pnl_pct
		FROM positions`)
	if err != nil {
		return fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind     string
			p        store.Position
			openedAt int64
		)
		if err := rows.Scan(&kind, &p.Mint, &p.Symbol, &p.Quantity, &p.AverageEntryPriceUSD,
			&p.LastMarkPriceUSD, &p.TotalCostBasisSOL, &openedAt, &p.PeakUnrealizedPnlPct); err != nil {
			return fmt.Errorf("scan position: %w", err)
		}
		p.OpenedAt = fromNanos(openedAt)
		state.Book(store.BookKind(kind)).Positions[p.Mint] = &p
	}
	return rows.Err()
}

func (s *Store) loadTrades(ctx context.Context, state *store.State) (map[string]sql.NullString, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, side, book, mint, symbol, sol_amount, token_quantity, price_usd,
		       market_cap_usd, realized_pnl_sol, strategy_tag, plan, annotation
		FROM trades ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	notes := make(map[string]sql.NullString)
	for rows.Next() {
		var (
			t          store.Trade
			ts         int64
			plan, note sql.NullString
		)
		if err := rows.Scan(&t.ID, &ts, &t.Side, &t.Book, &t.Mint, &t.Symbol, &t.SolAmount,
			&t.TokenQuantity, &t.PriceUSD, &t.MarketCapUSD, &t.RealizedPnlSOL, &t.StrategyTag,
			&plan, &note); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Timestamp = fromNanos(ts)
		if plan.Valid {
			t.Plan = &store.Plan{}
			if err := json.Unmarshal([]byte(plan.String), t.Plan); err != nil {
				return nil, fmt.Errorf("decode plan of trade %s: %w", t.ID, err)
			}
		}
		if note.Valid {
			t.Annotation = &store.Annotation{}
			if err := json.Unmarshal([]byte(note.String), t.Annotation); err != nil {
				return nil, fmt.Errorf("decode annotation of trade %s: %w", t.ID, err)
			}
		}
		notes[t.ID] = note
		state.Trades = append(state.Trades, t)
	}
	return notes, rows.Err()
}

// Save writes the state in one transaction. Sessions and positions are
// rewritten; of the trade log only new trades and changed annotations are.
func (s *Store) Save(ctx context.Context, state *store.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := writeBooks(ctx, tx, state); err != nil {
		return err
	}
	notes, changed, err := s.writeTrades(ctx, tx, state.Trades)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.written, s.notes = len(state.Trades), notes

	s.logger.Debug("State saved",
		zap.Int("trades", len(state.Trades)),
		zap.Int("trades_written", changed),
		zap.Duration("took", time.Since(start)))
	return nil
}

// SaveImmediate saves and then checkpoints the WAL into the main file.
func (s *Store) SaveImmediate(ctx context.Context, state *store.State) error {
	if err := s.Save(ctx, state); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(FULL)"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

func writeBooks(ctx context.Context, tx *sql.Tx, state *store.State) error {
	// Sessions and positions are replaced wholesale; a closed position must
	// disappear from disk as well.
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions"); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM positions"); err != nil {
		return fmt.Errorf("clear positions: %w", err)
	}

	for kind, b := range state.Books {
		ids, err := json.Marshal(b.Session.OpenTradeIDs)
		if err != nil {
			return fmt.Errorf("encode open trade ids: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (book, cash_balance_sol, realized_pnl_sol, open_trade_ids,
			                      starting_balance_sol, started_at, enabled)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(kind), b.Session.CashBalanceSOL, b.Session.RealizedPnlSOL, string(ids),
			b.Session.StartingBalanceSOL, toNanos(b.Session.StartedAt), b.Session.Enabled,
		); err != nil {
			return fmt.Errorf("insert session %s: %w", kind, err)
		}

		for _, p := range b.Positions {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO positions (book, mint, symbol, quantity, average_entry_price_usd,
				                       last_mark_price_usd, total_cost_basis_sol, opened_at,
				                       peak_unrealized_pnl_pct)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				string(kind), p.Mint, p.Symbol, p.Quantity, p.AverageEntryPriceUSD,
				p.LastMarkPriceUSD, p.TotalCostBasisSOL, toNanos(p.OpenedAt), p.PeakUnrealizedPnlPct,
			); err != nil {
				return fmt.Errorf("insert position %s/%s: %w", kind, p.Mint, err)
			}
		}
	}
	return nil
}

// writeTrades inserts trades past the persisted mark and updates the
// annotation of older ones whose note changed. It returns the annotation
// record to keep once tx commits. A log shorter than the mark is rewritten.
func (s *Store) writeTrades(ctx context.Context, tx *sql.Tx, trades []store.Trade) (map[string]sql.NullString, int, error) {
	from := s.written
	if from > len(trades) {
		from = 0
	}

	notes := make(map[string]sql.NullString, len(trades))
	changed := 0
	for i, t := range trades {
		note, err := nullJSON(t.Annotation)
		if err != nil {
			return nil, 0, fmt.Errorf("encode annotation of trade %s: %w", t.ID, err)
		}
		notes[t.ID] = note

		if i < from {
			if prev, ok := s.notes[t.ID]; ok && prev == note {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE trades SET annotation = ? WHERE id = ?", note, t.ID); err != nil {
				return nil, 0, fmt.Errorf("update annotation of trade %s: %w", t.ID, err)
			}
			changed++
			continue
		}

		plan, err := nullJSON(t.Plan)
		if err != nil {
			return nil, 0, fmt.Errorf("encode plan of trade %s: %w", t.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trades (id, seq, timestamp, side, book, mint, symbol, sol_amount,
			                    token_quantity, price_usd, market_cap_usd, realized_pnl_sol,
			                    strategy_tag, plan, annotation)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET annotation = excluded.annotation`,
			t.ID, i, toNanos(t.Timestamp), string(t.Side), string(t.Book), t.Mint, t.Symbol,
			t.SolAmount, t.TokenQuantity, t.PriceUSD, t.MarketCapUSD, t.RealizedPnlSOL,
			t.StrategyTag, plan, note,
		); err != nil {
			return nil, 0, fmt.Errorf("insert trade %s: %w", t.ID, err)
		}
		changed++
	}
	return notes, changed, nil
}

func nullJSON(v any) (sql.NullString, error) {
	switch x := v.(type) {
	case *store.Plan:
		if x == nil {
			return sql.NullString{}, nil
		}
	case *store.Annotation:
		if x == nil {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
