package book

import (
	"fmt"

	"github.com/tidwall/btree"
)

// priceLevel holds all resting orders at one price, oldest first.
type priceLevel struct {
	price  int64
	orders []*Order
}

// OrderBook stores the resting orders for one side of the market. Price
// levels live in a btree keyed best-price-first, so a matching walk reads
// levels in priority order and insertion never re-sorts. FIFO within a
// level and the arrival slice preserve time priority and snapshot order.
//
// The book itself is not locked; the engine serializes access.
type OrderBook struct {
	side    Side
	levels  *btree.BTreeG[*priceLevel]
	byID    map[string]*Order
	arrival []*Order
}

func New(side Side) *OrderBook {
	return &OrderBook{
		side: side,
		levels: btree.NewBTreeG(func(a, b *priceLevel) bool {
			return side.Before(a.price, b.price)
		}),
		byID: make(map[string]*Order),
	}
}

func (b *OrderBook) Side() Side {
	return b.side
}

func (b *OrderBook) Len() int {
	return len(b.arrival)
}

// Insert appends an order to its price level, creating the level if this is
// the first order at that price. Arrival order among equal prices is the
// append order.
func (b *OrderBook) Insert(order *Order) {
	level, ok := b.levels.GetMut(&priceLevel{price: order.Price})
	if ok {
		level.orders = append(level.orders, order)
	} else {
		b.levels.Set(&priceLevel{price: order.Price, orders: []*Order{order}})
	}
	b.byID[order.ID] = order
	b.arrival = append(b.arrival, order)
}

// Remove deletes the order with the given id. The engine only removes ids it
// just walked, so a miss indicates a corrupted book.
func (b *OrderBook) Remove(id string) error {
	order, ok := b.byID[id]
	if !ok {
		return fmt.Errorf("order %s not in %s book", id, b.side)
	}
	delete(b.byID, id)

	if level, ok := b.levels.GetMut(&priceLevel{price: order.Price}); ok {
		for i, o := range level.orders {
			if o.ID == id {
				level.orders = append(level.orders[:i], level.orders[i+1:]...)
				break
			}
		}
		if len(level.orders) == 0 {
			b.levels.Delete(level)
		}
	}

	for i, o := range b.arrival {
		if o.ID == id {
			b.arrival = append(b.arrival[:i], b.arrival[i+1:]...)
			break
		}
	}
	return nil
}

// Candidates returns the resting orders an incoming opposite-side order at
// incomingPrice could trade against, best price first and oldest first
// within a price. The scan stops at the first level that no longer crosses;
// everything past it is worse-priced. Does not mutate the book.
func (b *OrderBook) Candidates(incomingPrice int64) []*Order {
	var out []*Order
	b.levels.Scan(func(level *priceLevel) bool {
		if !b.side.Crosses(level.price, incomingPrice) {
			return false
		}
		out = append(out, level.orders...)
		return true
	})
	return out
}

// OpenQuantityAt sums the open quantity resting exactly at price.
func (b *OrderBook) OpenQuantityAt(price int64) int64 {
	level, ok := b.levels.Get(&priceLevel{price: price})
	if !ok {
		return 0
	}
	var total int64
	for _, o := range level.orders {
		total += o.Open()
	}
	return total
}

// Get returns the resting order with the given id.
func (b *OrderBook) Get(id string) (*Order, bool) {
	o, ok := b.byID[id]
	return o, ok
}

// Orders returns a copy of the book in arrival order, the shape snapshots
// are persisted and served in.
func (b *OrderBook) Orders() []Order {
	out := make([]Order, len(b.arrival))
	for i, o := range b.arrival {
		out[i] = *o
	}
	return out
}
