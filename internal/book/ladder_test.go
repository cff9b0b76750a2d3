package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "l3book/internal/common"
	"l3book/internal/fixed"
)

// --- Setup & Helpers --------------------------------------------------------

func px(s string) fixed.Value {
	return fixed.MustParse(s)
}

func lvl(price, qty string) Level {
	return Level{Price: px(price), Qty: px(qty)}
}

func prices(levels []Level) []fixed.Value {
	out := make([]fixed.Value, len(levels))
	for i, l := range levels {
		out[i] = l.Price
	}
	return out
}

// --- Tests ------------------------------------------------------------------

func TestLadder_Ordering(t *testing.T) {
	bids := NewLadder(Buy, 0)
	asks := NewLadder(Sell, 0)
	for _, p := range []string{"99.5", "101", "98", "100"} {
		bids.Upsert(px(p), px("1"))
		asks.Upsert(px(p), px("1"))
	}

	assert.Equal(t, []fixed.Value{px("101"), px("100"), px("99.5"), px("98")}, prices(bids.Top(0)))
	assert.Equal(t, []fixed.Value{px("98"), px("99.5"), px("100"), px("101")}, prices(asks.Top(0)))

	best, ok := bids.Best()
	require.True(t, ok)
	assert.Equal(t, px("101"), best.Price)
	assert.True(t, bids.IsBest(best))
}

func TestLadder_UpsertMergesSamePrice(t *testing.T) {
	ladder := NewLadder(Sell, 0)

	level, outcome := ladder.Upsert(px("10"), px("1.5"))
	assert.Equal(t, Created, outcome)

	again, outcome := ladder.Upsert(px("10"), px("0.5"))
	assert.Equal(t, Updated, outcome)
	assert.Same(t, level, again)
	assert.Equal(t, px("2"), again.Qty)
	assert.Equal(t, 1, ladder.Len())
}

func TestLadder_Capacity(t *testing.T) {
	ladder := NewLadder(Buy, 2)

	_, outcome := ladder.Upsert(px("1"), px("1"))
	assert.Equal(t, Created, outcome)
	_, outcome = ladder.Upsert(px("2"), px("1"))
	assert.Equal(t, Created, outcome)

	level, outcome := ladder.Upsert(px("3"), px("1"))
	assert.Equal(t, RejectedAtCapacity, outcome)
	assert.Nil(t, level)
	assert.Equal(t, 2, ladder.Len())

	// Existing prices can still be updated when full.
	_, outcome = ladder.Upsert(px("2"), px("1"))
	assert.Equal(t, Updated, outcome)
}

func TestLadder_RemoveByIdentity(t *testing.T) {
	ladder := NewLadder(Sell, 0)
	level, _ := ladder.Upsert(px("5"), px("1"))

	assert.False(t, ladder.Remove(nil))
	assert.False(t, ladder.Remove(&Level{Price: px("5"), Qty: px("1")}), "a different object at the same price")
	assert.Equal(t, 1, ladder.Len())

	assert.True(t, ladder.Remove(level))
	assert.Equal(t, 0, ladder.Len())
	assert.False(t, ladder.Remove(level))
}

func TestLadder_PruneCrossed(t *testing.T) {
	t.Run("bids at or above a new best ask", func(t *testing.T) {
		bids := NewLadder(Buy, 0)
		for _, p := range []string{"100", "99", "98", "97"} {
			bids.Upsert(px(p), px("1"))
		}

		pruned := bids.PruneCrossed(px("98"))
		assert.Equal(t, []Level{lvl("100", "1"), lvl("99", "1"), lvl("98", "1")}, pruned)
		assert.Equal(t, []Level{lvl("97", "1")}, bids.Top(0))
	})

	t.Run("asks at or below a new best bid", func(t *testing.T) {
		asks := NewLadder(Sell, 0)
		for _, p := range []string{"101", "102", "103"} {
			asks.Upsert(px(p), px("1"))
		}

		pruned := asks.PruneCrossed(px("101.5"))
		assert.Equal(t, []Level{lvl("101", "1")}, pruned)
		assert.Equal(t, 2, asks.Len())
	})

	t.Run("nothing crossed", func(t *testing.T) {
		asks := NewLadder(Sell, 0)
		asks.Upsert(px("101"), px("1"))
		assert.Empty(t, asks.PruneCrossed(px("100")))
		assert.Equal(t, 1, asks.Len())
	})
}

func TestLadder_Top(t *testing.T) {
	ladder := NewLadder(Sell, 0)
	for _, p := range []string{"3", "1", "2"} {
		ladder.Upsert(px(p), px("1"))
	}

	assert.Equal(t, []fixed.Value{px("1"), px("2")}, prices(ladder.Top(2)))
	assert.Len(t, ladder.Top(10), 3)
	assert.Len(t, ladder.Top(-1), 3)
	assert.Empty(t, NewLadder(Buy, 0).Top(5))
}
