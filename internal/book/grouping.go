package book

import (
	"l3book/internal/common"
	"l3book/internal/fixed"
)

// Group coarsens ladder into a new ladder whose prices are multiples of
// increment. It is a pure function of its inputs.
func Group(ladder *Ladder, increment fixed.Value) *Ladder {
	grouped := NewLadder(ladder.side, ladder.capacity)
	if increment <= 0 {
		return grouped
	}
	ladder.Scan(func(level Level) bool {
		addGrouped(grouped, level.Price.Round(increment), positive(level.Qty))
		return true
	})
	return grouped
}

func addGrouped(grouped *Ladder, price, delta fixed.Value) {
	if delta == 0 {
		return
	}
	level, outcome := grouped.Upsert(price, delta)
	if outcome == RejectedAtCapacity {
		return
	}
	if level.Qty <= 0 {
		grouped.Remove(level)
	}
}

// grouping holds the grouped ladders for the active increment. A zero
// increment means no grouping and both ladders stay empty.
type grouping struct {
	increment fixed.Value
	bids      *Ladder
	asks      *Ladder
}

func newGrouping(capacity int) *grouping {
	return &grouping{
		bids: NewLadder(common.Buy, capacity),
		asks: NewLadder(common.Sell, capacity),
	}
}

func (g *grouping) active() bool { return g.increment > 0 }

func (g *grouping) ladder(side common.Side) *Ladder {
	if side == common.Buy {
		return g.bids
	}
	return g.asks
}

// apply adds a signed raw delta to the grouped level the raw price rounds to.
func (g *grouping) apply(side common.Side, price, delta fixed.Value) {
	if !g.active() {
		return
	}
	addGrouped(g.ladder(side), price.Round(g.increment), delta)
}

// rebuild discards the grouped ladders and recomputes them from the raw ones.
// Changing the increment moves every rounded price, so there is nothing to
// patch incrementally.
func (g *grouping) rebuild(increment fixed.Value, bids, asks *Ladder) {
	g.increment = max(increment, 0)
	g.bids = Group(bids, g.increment)
	g.asks = Group(asks, g.increment)
}
