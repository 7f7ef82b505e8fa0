// Package store persists order-book snapshots. Each side is saved as a full
// replacement set; arrival order is kept by an autoincrement sequence so a
// reload rebuilds time priority exactly.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"exchange/internal/book"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var (
	// ErrUnavailable wraps failures to open or read the underlying store.
	ErrUnavailable = errors.New("order store unavailable")
	// ErrCorrupt wraps snapshots whose rows violate order invariants.
	ErrCorrupt = errors.New("order store corrupt")
	// ErrWriteFailed wraps failures to persist a snapshot.
	ErrWriteFailed = errors.New("order store write failed")
)

// Store is a SQLite-backed SnapshotStore.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and initializes the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init schema: %v", ErrUnavailable, err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		side TEXT NOT NULL,  -- 'buy' or 'sell'
		price INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		executed INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_orders_side ON orders(side);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load returns one side's resting orders in arrival order.
func (s *Store) Load(ctx context.Context, side book.Side) ([]book.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, price, quantity, executed
		FROM orders WHERE side = ? ORDER BY seq`, side.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var orders []book.Order
	for rows.Next() {
		o := book.Order{Side: side}
		if err := rows.Scan(&o.ID, &o.Price, &o.Quantity, &o.Executed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if o.Price <= 0 || o.Quantity <= 0 || o.Executed < 0 || o.Executed >= o.Quantity {
			return nil, fmt.Errorf("%w: order %s has price=%d quantity=%d executed=%d",
				ErrCorrupt, o.ID, o.Price, o.Quantity, o.Executed)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return orders, nil
}

// Save replaces one side's snapshot in a single transaction, so readers and
// crashes see either the old set or the new one.
func (s *Store) Save(ctx context.Context, side book.Side, orders []book.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE side = ?`, side.String()); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	for _, o := range orders {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, side, price, quantity, executed)
			VALUES (?, ?, ?, ?, ?)`,
			o.ID, side.String(), o.Price, o.Quantity, o.Executed)
		if err != nil {
			return fmt.Errorf("%w: order %s: %v", ErrWriteFailed, o.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	log.Debug().Stringer("side", side).Int("orders", len(orders)).Msg("snapshot saved")
	return nil
}
