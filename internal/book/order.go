package book

import (
	"strings"
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Crosses reports whether a resting order on this side at restingPrice can
// trade against an incoming opposite-side order at incomingPrice. A resting
// bid crosses an ask priced at or below it; a resting ask crosses a bid
// priced at or above it.
func (s Side) Crosses(restingPrice, incomingPrice int64) bool {
	if s == Buy {
		return restingPrice >= incomingPrice
	}
	return restingPrice <= incomingPrice
}

// Before reports whether price a has better priority than price b on this
// side: highest first for bids, lowest first for asks.
func (s Side) Before(a, b int64) bool {
	if s == Buy {
		return a > b
	}
	return a < b
}

// Side serializes as the wire field isBuyOrder.
func (s Side) MarshalJSON() ([]byte, error) {
	if s == Buy {
		return []byte("true"), nil
	}
	return []byte("false"), nil
}

func (s *Side) UnmarshalJSON(data []byte) error {
	if string(data) == "true" {
		*s = Buy
	} else {
		*s = Sell
	}
	return nil
}

// SideOfID decodes the side prefix of an order id so lookups can route to a
// single book. Anything without a "sell-" prefix routes to the bid book.
func SideOfID(id string) Side {
	if strings.HasPrefix(id, Sell.String()+"-") {
		return Sell
	}
	return Buy
}

// Order is a single bid or ask. ID, Side, Price and Quantity are fixed at
// creation; only Executed advances as the order fills. Prices are integer
// cents to keep equality checks exact.
type Order struct {
	ID       string `json:"id"`
	Side     Side   `json:"isBuyOrder"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
	Executed int64  `json:"executedQuantity"`
}

// Open returns the quantity still available to match.
func (o *Order) Open() int64 {
	return o.Quantity - o.Executed
}

func (o *Order) IsFilled() bool {
	return o.Executed >= o.Quantity
}
