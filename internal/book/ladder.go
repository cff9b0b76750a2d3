package book

import (
	"github.com/tidwall/btree"

	"l3book/internal/common"
	"l3book/internal/fixed"
)

// Level is the aggregated resting quantity at one price on one side.
type Level struct {
	Price fixed.Value
	Qty   fixed.Value
}

// Outcome reports what upsertLevel did with a price.
type Outcome int

const (
	Created Outcome = iota
	Updated
	RejectedAtCapacity
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case RejectedAtCapacity:
		return "rejected_at_capacity"
	default:
		return "unknown"
	}
}

type PriceLevels = btree.BTreeG[*Level]

// Ladder is one side's price levels, best price first. It holds at most
// capacity levels; zero means unbounded.
type Ladder struct {
	side     common.Side
	capacity int
	less     func(a, b *Level) bool
	levels   *PriceLevels
}

func NewLadder(side common.Side, capacity int) *Ladder {
	// Sorted least first.
	less := func(a, b *Level) bool {
		return a.Price < b.Price
	}
	if side == common.Buy {
		// Sorted greatest first.
		less = func(a, b *Level) bool {
			return a.Price > b.Price
		}
	}
	l := &Ladder{
		side:     side,
		capacity: capacity,
		less:     less,
	}
	l.reset()
	return l
}

func (l *Ladder) reset() {
	l.levels = btree.NewBTreeGOptions(l.less, btree.Options{NoLocks: true})
}

func (l *Ladder) Side() common.Side { return l.side }

func (l *Ladder) Len() int { return l.levels.Len() }

// Get returns the level resting at price.
func (l *Ladder) Get(price fixed.Value) (*Level, bool) {
	// Levels comparator only accounts for prices, so a dummy level is enough
	// for the search.
	return l.levels.GetMut(&Level{Price: price})
}

// Best returns the top-of-book level.
func (l *Ladder) Best() (*Level, bool) {
	return l.levels.MinMut()
}

// IsBest reports whether level is currently the top of this ladder.
func (l *Ladder) IsBest(level *Level) bool {
	best, ok := l.levels.Min()
	return ok && best == level
}

// Upsert adds delta to the level at price, creating the level if there is
// room. An updated level is returned even if its quantity dropped to zero or
// below so that the caller can finish its bookkeeping before removing it.
func (l *Ladder) Upsert(price, delta fixed.Value) (*Level, Outcome) {
	if level, ok := l.Get(price); ok {
		level.Qty += delta
		return level, Updated
	}

	if l.capacity > 0 && l.levels.Len() >= l.capacity {
		return nil, RejectedAtCapacity
	}

	level := &Level{Price: price, Qty: delta}
	l.levels.Set(level)
	return level, Created
}

// Remove deletes level by identity. Removing a level that is no longer on the
// ladder, or a different level object at the same price, is a no-op.
func (l *Ladder) Remove(level *Level) bool {
	if level == nil {
		return false
	}
	current, ok := l.levels.Get(level)
	if !ok || current != level {
		return false
	}
	l.levels.Delete(level)
	return true
}

// PruneCrossed removes every level that would cross or lock against a new
// best price on the contra side: asks at or below a new best bid, bids at or
// above a new best ask. Crossed levels always sit at the top of the ladder.
func (l *Ladder) PruneCrossed(threshold fixed.Value) []Level {
	var pruned []Level
	for {
		best, ok := l.levels.Min()
		if !ok || !l.crosses(best.Price, threshold) {
			break
		}
		l.levels.Delete(best)
		pruned = append(pruned, *best)
	}
	return pruned
}

func (l *Ladder) crosses(price, threshold fixed.Value) bool {
	if l.side == common.Buy {
		return price >= threshold
	}
	return price <= threshold
}

// Top copies out up to n levels, best first. A non-positive n copies all.
func (l *Ladder) Top(n int) []Level {
	size := l.levels.Len()
	if n > 0 && n < size {
		size = n
	}
	out := make([]Level, 0, size)
	l.levels.Scan(func(level *Level) bool {
		out = append(out, *level)
		return n <= 0 || len(out) < n
	})
	return out
}

// Scan walks the ladder best first until fn returns false.
func (l *Ladder) Scan(fn func(level Level) bool) {
	l.levels.Scan(func(level *Level) bool {
		return fn(*level)
	})
}

// ladderStore is the pair of raw ladders. Every quantity change it makes is
// mirrored into the active grouping so the grouped ladders never need a
// rebuild between increment changes.
type ladderStore struct {
	bids    *Ladder
	asks    *Ladder
	grouped *grouping
}

func newLadderStore(capacity int) *ladderStore {
	return &ladderStore{
		bids:    NewLadder(common.Buy, capacity),
		asks:    NewLadder(common.Sell, capacity),
		grouped: newGrouping(capacity),
	}
}

func (s *ladderStore) ladder(side common.Side) *Ladder {
	if side == common.Buy {
		return s.bids
	}
	return s.asks
}

func (s *ladderStore) reset() {
	s.bids.reset()
	s.asks.reset()
	s.grouped.rebuild(s.grouped.increment, s.bids, s.asks)
}

// upsertLevel adds delta at price on side, creating the level when needed.
func (s *ladderStore) upsertLevel(side common.Side, price, delta fixed.Value) (*Level, Outcome) {
	level, outcome := s.ladder(side).Upsert(price, delta)
	if outcome != RejectedAtCapacity {
		s.mirror(side, price, level.Qty-delta, level.Qty)
	}
	return level, outcome
}

// adjustLevel adds delta to an existing level only.
func (s *ladderStore) adjustLevel(side common.Side, price, delta fixed.Value) (*Level, bool) {
	level, ok := s.ladder(side).Get(price)
	if !ok {
		return nil, false
	}
	before := level.Qty
	level.Qty += delta
	s.mirror(side, price, before, level.Qty)
	return level, true
}

func (s *ladderStore) removeLevel(side common.Side, level *Level) bool {
	if !s.ladder(side).Remove(level) {
		return false
	}
	s.mirror(side, level.Price, level.Qty, 0)
	return true
}

// pruneCrossed drops the levels on the side opposite to side that cross the
// new best price threshold.
func (s *ladderStore) pruneCrossed(side common.Side, threshold fixed.Value) []Level {
	contra := side.Opposite()
	pruned := s.ladder(contra).PruneCrossed(threshold)
	for _, level := range pruned {
		s.mirror(contra, level.Price, level.Qty, 0)
	}
	return pruned
}

// mirror forwards a raw quantity change to the grouped ladder. Only positive
// quantities count towards a grouped level, so a raw level that went negative
// on its way out is accounted for exactly once.
func (s *ladderStore) mirror(side common.Side, price, before, after fixed.Value) {
	s.grouped.apply(side, price, positive(after)-positive(before))
}

func positive(v fixed.Value) fixed.Value {
	return max(v, 0)
}
