package store

import (
	"context"
	"sync"

	"exchange/internal/book"
)

// Memory is an in-process SnapshotStore for tests and ephemeral runs. It
// copies on both load and save so callers never alias stored state.
type Memory struct {
	mu    sync.Mutex
	sides map[book.Side][]book.Order
}

func NewMemory() *Memory {
	return &Memory{sides: make(map[book.Side][]book.Order)}
}

func (m *Memory) Load(_ context.Context, side book.Side) ([]book.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	orders := make([]book.Order, len(m.sides[side]))
	copy(orders, m.sides[side])
	return orders, nil
}

func (m *Memory) Save(_ context.Context, side book.Side, orders []book.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]book.Order, len(orders))
	copy(stored, orders)
	m.sides[side] = stored
	return nil
}
