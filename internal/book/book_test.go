package book

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "l3book/internal/common"
	"l3book/internal/fixed"
)

// --- Setup & Helpers --------------------------------------------------------

// newLiveBook installs a snapshot into a fresh book and returns it live.
func newLiveBook(t *testing.T, seq int64, bids, asks []SnapshotEntry, opts ...Option) *Book {
	t.Helper()
	b := New(opts...)
	require.NoError(t, b.Install(Snapshot{Sequence: seq, Bids: bids, Asks: asks}))
	require.Equal(t, Live, b.State())
	return b
}

// scenarioBook is the two-order book used by the reference scenarios.
func scenarioBook(t *testing.T) *Book {
	return newLiveBook(t, 100,
		[]SnapshotEntry{{"99.0", "3.0", "b1"}},
		[]SnapshotEntry{{"100.0", "2.0", "a1"}},
	)
}

// assertConsistent checks ladder ordering and that every level holds exactly
// the quantity of the orders resting on it.
func assertConsistent(t *testing.T, b *Book) {
	t.Helper()

	for _, side := range []Side{Buy, Sell} {
		ladder := b.store.ladder(side)
		assert.LessOrEqual(t, ladder.Len(), b.MaxLevels())

		var prev *Level
		ladder.Scan(func(level Level) bool {
			if prev != nil {
				assert.True(t, ladder.less(prev, &level), "%s ladder out of order at %s", side, level.Price)
			}
			prev = &Level{Price: level.Price, Qty: level.Qty}

			var sum fixed.Value
			for _, order := range b.orders.byLevel[levelKey{side: side, price: level.Price}] {
				sum += order.Qty
			}
			assert.Equal(t, level.Qty, sum, "%s level %s", side, level.Price)
			assert.Positive(t, int64(level.Qty))
			return true
		})
	}

	indexed := 0
	for key, members := range b.orders.byLevel {
		_, ok := b.store.ladder(key.side).Get(key.price)
		assert.True(t, ok, "orders attributed to missing level %s %s", key.side, key.price)
		for id, order := range members {
			assert.Same(t, b.orders.orders[id], order)
			assert.Equal(t, key, keyOf(order))
			assert.Positive(t, int64(order.Qty))
		}
		indexed += len(members)
	}
	assert.Equal(t, b.OrderCount(), indexed)
}

// --- Tests ------------------------------------------------------------------

func TestBook_ScenarioA_MatchReducesMaker(t *testing.T) {
	b := scenarioBook(t)
	now := time.Now()

	got := b.Handle(Match{
		Seq:          101,
		MakerOrderID: "b1",
		Side:         Buy,
		Price:        px("99.0"),
		Size:         px("1.0"),
		Time:         now,
	})
	assert.Equal(t, Applied, got)

	assert.Equal(t, []Level{lvl("99", "2")}, b.BestLevels(Buy, 10))
	order, ok := b.Order("b1")
	require.True(t, ok)
	assert.Equal(t, px("2.0"), order.Qty)

	price, ok := b.LastTradedPrice()
	require.True(t, ok)
	assert.Equal(t, px("99"), price)
	trade, _ := b.LastTrade()
	assert.Equal(t, int64(101), trade.Sequence)
	assert.Equal(t, now, trade.Timestamp)
	assertConsistent(t, b)
}

func TestBook_ScenarioB_DoneRemovesOrder(t *testing.T) {
	b := scenarioBook(t)

	b.Handle(Done{Seq: 101, OrderID: "b1", Side: Buy, Reason: "canceled", RemainingSize: px("3.0")})

	assert.Empty(t, b.BestLevels(Buy, 10))
	_, ok := b.Order("b1")
	assert.False(t, ok)
	assert.Equal(t, 1, b.OrderCount())
	assertConsistent(t, b)
}

func TestBook_ScenarioC_NewBestAskPrunesCrossedBids(t *testing.T) {
	b := newLiveBook(t, 100,
		[]SnapshotEntry{{"99.0", "3.0", "b1"}, {"97.0", "1.0", "b2"}},
		[]SnapshotEntry{{"100.0", "2.0", "a1"}},
	)

	b.Handle(Open{Seq: 101, OrderID: "a2", Side: Sell, Price: px("98.0"), RemainingSize: px("1.0")})

	assert.Equal(t, []Level{lvl("97", "1")}, b.BestLevels(Buy, 10))
	assert.Equal(t, []Level{lvl("98", "1"), lvl("100", "2")}, b.BestLevels(Sell, 10))
	_, ok := b.Order("b1")
	assert.False(t, ok, "orders on a pruned level are dropped")
	assertConsistent(t, b)
}

func TestBook_ScenarioD_DuplicateSequence(t *testing.T) {
	b := newLiveBook(t, 49, nil, nil)

	first := b.Handle(Open{Seq: 50, OrderID: "x1", Side: Buy, Price: px("10"), RemainingSize: px("1")})
	second := b.Handle(Open{Seq: 50, OrderID: "x2", Side: Buy, Price: px("11"), RemainingSize: px("1")})

	assert.Equal(t, Applied, first)
	assert.Equal(t, Dropped, second)
	assert.Equal(t, []Level{lvl("10", "1")}, b.BestLevels(Buy, 10))
	assert.Equal(t, int64(50), b.LastApplied())
}

func TestBook_PruneOnlyOnCreatedBest(t *testing.T) {
	b := newLiveBook(t, 1,
		[]SnapshotEntry{{"99", "1", "b1"}},
		[]SnapshotEntry{{"98", "1", "a1"}, {"100", "1", "a2"}},
	)
	// The snapshot itself is crossed; loading never prunes.
	require.Equal(t, 2, b.Depth(Sell))

	// Updating the existing best bid does not prune either.
	b.Handle(Open{Seq: 2, OrderID: "b2", Side: Buy, Price: px("99"), RemainingSize: px("1")})
	assert.Equal(t, 2, b.Depth(Sell))

	// A new bid level behind the best does not prune.
	b.Handle(Open{Seq: 3, OrderID: "b3", Side: Buy, Price: px("95"), RemainingSize: px("1")})
	assert.Equal(t, 2, b.Depth(Sell))

	// A new best bid does.
	b.Handle(Open{Seq: 4, OrderID: "b4", Side: Buy, Price: px("99.5"), RemainingSize: px("1")})
	assert.Equal(t, []Level{lvl("100", "1")}, b.BestLevels(Sell, 10))
	_, ok := b.Order("a1")
	assert.False(t, ok)
	assertConsistent(t, b)
}

func TestBook_OpenIgnoresDuplicateAndEmptyOrders(t *testing.T) {
	b := scenarioBook(t)

	b.Handle(Open{Seq: 101, OrderID: "b1", Side: Buy, Price: px("98"), RemainingSize: px("5")})
	b.Handle(Open{Seq: 102, OrderID: "b9", Side: Buy, Price: px("98"), RemainingSize: 0})

	assert.Equal(t, []Level{lvl("99", "3")}, b.BestLevels(Buy, 10))
	assert.Equal(t, 2, b.OrderCount())
}

func TestBook_UnknownOrdersAreNoOps(t *testing.T) {
	b := scenarioBook(t)
	before := b.BestLevels(Buy, 10)

	assert.Equal(t, Applied, b.Handle(Match{Seq: 101, MakerOrderID: "nope", Price: px("99"), Size: px("1")}))
	assert.Equal(t, Applied, b.Handle(Done{Seq: 102, OrderID: "nope", RemainingSize: px("1")}))
	assert.Equal(t, Applied, b.Handle(Change{Seq: 103, OrderID: "nope", Reason: "modify_order", NewSize: px("1")}))

	assert.Equal(t, before, b.BestLevels(Buy, 10))
	// The trade still happened.
	price, ok := b.LastTradedPrice()
	assert.True(t, ok)
	assert.Equal(t, px("99"), price)
	assertConsistent(t, b)
}

func TestBook_MatchLargerThanOrder(t *testing.T) {
	b := newLiveBook(t, 1,
		[]SnapshotEntry{{"99", "1", "b1"}, {"99", "2", "b2"}},
		nil,
	)

	b.Handle(Match{Seq: 2, MakerOrderID: "b1", Price: px("99"), Size: px("1.5")})

	assert.Equal(t, []Level{lvl("99", "2")}, b.BestLevels(Buy, 10))
	_, ok := b.Order("b1")
	assert.False(t, ok)
	assertConsistent(t, b)
}

func TestBook_Reprice(t *testing.T) {
	tests := []struct {
		name     string
		change   Change
		wantBids []Level
		wantQty  fixed.Value
		gone     bool
	}{
		{
			name:     "size only keeps price",
			change:   Change{Seq: 2, OrderID: "b1", NewSize: px("0.5")},
			wantBids: []Level{lvl("99", "2.5")},
			wantQty:  px("0.5"),
		},
		{
			name:     "move to a new price",
			change:   Change{Seq: 2, OrderID: "b1", Reason: "modify_order", NewPrice: px("98"), NewSize: px("1")},
			wantBids: []Level{lvl("99", "2"), lvl("98", "1")},
			wantQty:  px("1"),
		},
		{
			name:     "self trade prevention shrink",
			change:   Change{Seq: 2, OrderID: "b1", Reason: "stp", NewSize: px("0.25")},
			wantBids: []Level{lvl("99", "2.25")},
			wantQty:  px("0.25"),
		},
		{
			name:     "zero size drops the order",
			change:   Change{Seq: 2, OrderID: "b1", Reason: "modify_order", NewSize: 0},
			wantBids: []Level{lvl("99", "2")},
			gone:     true,
		},
		{
			name:     "unrelated reason is ignored",
			change:   Change{Seq: 2, OrderID: "b1", Reason: "other", NewSize: px("5")},
			wantBids: []Level{lvl("99", "3")},
			wantQty:  px("1"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newLiveBook(t, 1,
				[]SnapshotEntry{{"99", "1", "b1"}, {"99", "2", "b2"}},
				nil,
			)

			assert.Equal(t, Applied, b.Handle(tt.change))
			assert.Equal(t, tt.wantBids, b.BestLevels(Buy, 10))

			order, ok := b.Order("b1")
			if tt.gone {
				assert.False(t, ok)
			} else {
				require.True(t, ok)
				assert.Equal(t, tt.wantQty, order.Qty)
			}
			assertConsistent(t, b)
		})
	}
}

func TestBook_RepriceDoesNotPrune(t *testing.T) {
	b := scenarioBook(t)

	b.Handle(Change{Seq: 101, OrderID: "b1", Reason: "modify_order", NewPrice: px("100.5"), NewSize: px("3")})

	assert.Equal(t, []Level{lvl("100.5", "3")}, b.BestLevels(Buy, 10))
	assert.Equal(t, []Level{lvl("100", "2")}, b.BestLevels(Sell, 10))
}

func TestBook_CapacityBound(t *testing.T) {
	b := newLiveBook(t, 0, nil, nil, WithMaxLevels(3))

	for i := 1; i <= 10; i++ {
		b.Handle(Open{
			Seq:           int64(i),
			OrderID:       "o" + string(rune('a'+i)),
			Side:          Sell,
			Price:         fixed.Value(i) * px("1"),
			RemainingSize: px("1"),
		})
		assert.LessOrEqual(t, b.Depth(Sell), 3)
	}

	assert.Equal(t, []Level{lvl("1", "1"), lvl("2", "1"), lvl("3", "1")}, b.BestLevels(Sell, 0))
	assert.Equal(t, 3, b.OrderCount(), "rejected orders are not tracked")

	// A later order at a rejected price is still ignored, an existing one merges.
	b.Handle(Open{Seq: 11, OrderID: "late", Side: Sell, Price: px("2"), RemainingSize: px("1")})
	assert.Equal(t, lvl("2", "2"), b.BestLevels(Sell, 0)[1])
	assertConsistent(t, b)
}

func TestBook_SnapshotCappedAndMerged(t *testing.T) {
	b := newLiveBook(t, 10,
		[]SnapshotEntry{
			{"99", "1", "b1"},
			{"99", "2", "b2"},
			{"98", "1", "b3"},
			{"97", "1", "b4"},
		},
		nil,
		WithMaxLevels(3),
	)

	// Only the first three entries are ingested, the same-price ones merge.
	assert.Equal(t, []Level{lvl("99", "3"), lvl("98", "1")}, b.BestLevels(Buy, 0))
	_, ok := b.Order("b4")
	assert.False(t, ok)
	assertConsistent(t, b)
}

func TestBook_SnapshotSkipsZeroSize(t *testing.T) {
	b := newLiveBook(t, 10,
		[]SnapshotEntry{{"99", "0", "b1"}, {"98", "1", "b2"}},
		[]SnapshotEntry{{"100", "0.00000000", "a1"}},
	)

	assert.Equal(t, []Level{lvl("98", "1")}, b.BestLevels(Buy, 0))
	assert.Zero(t, b.Depth(Sell))
	_, ok := b.Order("b1")
	assert.False(t, ok)
	assert.Equal(t, 1, b.OrderCount())

	// A later event for the skipped order is an unknown-id no-op.
	b.Handle(Done{Seq: 11, OrderID: "a1", Reason: "canceled"})
	assert.Equal(t, int64(11), b.LastApplied())
	assertConsistent(t, b)
}

func TestBook_LevelsUseActiveGrouping(t *testing.T) {
	b := scenarioBook(t)
	b.SetGroupingIncrement(px("5"))

	assert.Equal(t, []Level{lvl("100", "3")}, b.Levels(Buy, 5))
	assert.Equal(t, []Level{lvl("100", "2")}, b.Levels(Sell, 5))

	b.Handle(Open{Seq: 101, OrderID: "b2", Side: Buy, Price: px("96"), RemainingSize: px("1")})
	assert.Equal(t, []Level{lvl("100", "3"), lvl("95", "1")}, b.Levels(Buy, 5))

	b.SetGroupingIncrement(0)
	assert.Equal(t, b.BestLevels(Buy, 5), b.Levels(Buy, 5))
}
