package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"exchange/internal/book"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInvalidOrder rejects submissions with a non-positive quantity or
	// price before they can corrupt fill accounting.
	ErrInvalidOrder = errors.New("quantity and price must be positive")

	// ErrOrderNotFound is the normal outcome of looking up an id that never
	// existed or whose order has been fully filled and removed.
	ErrOrderNotFound = errors.New("order not found")
)

// SnapshotStore persists one side of the book as a full replacement set in
// arrival order. Save should be atomic so a crash never leaves a torn
// snapshot.
type SnapshotStore interface {
	Load(ctx context.Context, side book.Side) ([]book.Order, error)
	Save(ctx context.Context, side book.Side, orders []book.Order) error
}

// Report describes how a submission fared: how much matched immediately and
// the resting order's final fields. The id only resolves via Lookup when
// part of the submission actually rested.
type Report struct {
	ID       string    `json:"id"`
	Side     book.Side `json:"isBuyOrder"`
	Price    int64     `json:"price"`
	Quantity int64     `json:"quantity"`
	Executed int64     `json:"executedQuantity"`
}

// Engine matches submissions for a single instrument against a bid and an
// ask book. Mutations run under a single writer lock: each Submit is one
// indivisible walk-save-apply cycle, and in-memory state for a side only
// changes after that side's snapshot was saved. Queries read committed
// state under the read lock.
type Engine struct {
	mu    sync.RWMutex
	store SnapshotStore
	bids  *book.OrderBook
	asks  *book.OrderBook
}

// New builds an engine with both books loaded from the store.
func New(ctx context.Context, store SnapshotStore) (*Engine, error) {
	e := &Engine{
		store: store,
		bids:  book.New(book.Buy),
		asks:  book.New(book.Sell),
	}
	for _, b := range []*book.OrderBook{e.bids, e.asks} {
		orders, err := store.Load(ctx, b.Side())
		if err != nil {
			return nil, fmt.Errorf("load %s book: %w", b.Side(), err)
		}
		for i := range orders {
			o := orders[i]
			b.Insert(&o)
		}
	}
	log.Info().Int("bids", e.bids.Len()).Int("asks", e.asks.Len()).Msg("order books loaded")
	return e, nil
}

func (e *Engine) bookFor(side book.Side) *book.OrderBook {
	if side == book.Buy {
		return e.bids
	}
	return e.asks
}

// Submit matches an incoming order against the opposite book in price-time
// priority and rests any leftover quantity on its own side.
//
// The walk consumes whole resting orders while the incoming quantity covers
// them, carrying the excess to the next candidate; the first candidate it
// cannot fully clear is topped up partially and the walk stops. So at most
// one resting order per submission ends partially filled, and none is ever
// over-filled.
func (e *Engine) Submit(ctx context.Context, side book.Side, quantity, price int64) (Report, error) {
	if quantity <= 0 || price <= 0 {
		return Report{}, ErrInvalidOrder
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	opposite := e.bookFor(side.Opposite())

	remaining := quantity
	var consumed []*book.Order
	var partial *book.Order
	var partialExecuted int64

	for _, resting := range opposite.Candidates(price) {
		wouldBe := resting.Executed + remaining
		if wouldBe >= resting.Quantity {
			consumed = append(consumed, resting)
			remaining = wouldBe - resting.Quantity
			if remaining == 0 {
				break
			}
			continue
		}
		partial = resting
		partialExecuted = wouldBe
		remaining = 0
		break
	}

	// Persist the opposite book first, then apply the same changes in
	// memory. Untouched orders are carried over exactly as they were.
	if len(consumed) > 0 || partial != nil {
		gone := make(map[string]struct{}, len(consumed))
		for _, o := range consumed {
			gone[o.ID] = struct{}{}
		}
		snapshot := make([]book.Order, 0, opposite.Len()-len(consumed))
		for _, o := range opposite.Orders() {
			if _, ok := gone[o.ID]; ok {
				continue
			}
			if partial != nil && o.ID == partial.ID {
				o.Executed = partialExecuted
			}
			snapshot = append(snapshot, o)
		}
		if err := e.store.Save(ctx, side.Opposite(), snapshot); err != nil {
			return Report{}, fmt.Errorf("save %s book: %w", side.Opposite(), err)
		}
		for _, o := range consumed {
			if err := opposite.Remove(o.ID); err != nil {
				log.Error().Err(err).Msg("removing consumed order")
			}
		}
		if partial != nil {
			partial.Executed = partialExecuted
		}
	}

	report := Report{
		ID:       newID(side),
		Side:     side,
		Price:    price,
		Quantity: quantity,
		Executed: quantity - remaining,
	}

	if remaining > 0 {
		resting := &book.Order{
			ID:       report.ID,
			Side:     side,
			Price:    price,
			Quantity: quantity,
			Executed: report.Executed,
		}
		own := e.bookFor(side)
		if err := e.store.Save(ctx, side, append(own.Orders(), *resting)); err != nil {
			return Report{}, fmt.Errorf("save %s book: %w", side, err)
		}
		own.Insert(resting)
	}

	log.Debug().
		Str("id", report.ID).
		Stringer("side", side).
		Int64("price", price).
		Int64("quantity", quantity).
		Int64("executed", report.Executed).
		Msg("order submitted")

	return report, nil
}

// QuantityAt returns the open quantity resting exactly at price. Bids take
// precedence: when any bid sits at that price the ask book is ignored,
// otherwise the ask-side sum is returned.
func (e *Engine) QuantityAt(price int64) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if qty := e.bids.OpenQuantityAt(price); qty > 0 {
		return qty
	}
	return e.asks.OpenQuantityAt(price)
}

// Lookup finds a resting order by id, routing on the id's side prefix.
// Fully filled orders have been removed and report ErrOrderNotFound.
func (e *Engine) Lookup(id string) (book.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	o, ok := e.bookFor(book.SideOfID(id)).Get(id)
	if !ok {
		return book.Order{}, ErrOrderNotFound
	}
	return *o, nil
}

// Snapshot returns both books in arrival order.
func (e *Engine) Snapshot() (bids, asks []book.Order) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bids.Orders(), e.asks.Orders()
}

func newID(side book.Side) string {
	return side.String() + "-" + uuid.NewString()
}
