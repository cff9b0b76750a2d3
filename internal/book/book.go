package book

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"l3book/internal/common"
	"l3book/internal/fixed"
)

// DefaultMaxLevels bounds each ladder when no limit is configured.
const DefaultMaxLevels = 10000

// Book is a level-3 order book rebuilt from a snapshot and a sequenced event
// stream. It is single-writer: callers must not use it from more than one
// goroutine at a time.
type Book struct {
	maxLevels int
	store     *ladderStore
	orders    *registry
	recon     reconciler
	lastTrade *common.Trade

	observer Observer
	log      zerolog.Logger
}

type Option func(*Book)

// WithMaxLevels caps the number of levels kept per side.
func WithMaxLevels(n int) Option {
	return func(b *Book) {
		if n > 0 {
			b.maxLevels = n
		}
	}
}

func WithObserver(o Observer) Option {
	return func(b *Book) {
		if o != nil {
			b.observer = o
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *Book) {
		b.log = l
	}
}

func New(opts ...Option) *Book {
	b := &Book{
		maxLevels: DefaultMaxLevels,
		observer:  nopObserver{},
		log:       log.Logger,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.store = newLadderStore(b.maxLevels)
	b.orders = newRegistry(b.store)
	b.recon = newReconciler()
	b.log = b.log.With().Str("component", "book").Logger()
	return b
}

// apply dispatches a single event. Unknown order ids are ignored throughout:
// the feed may mention orders that an earlier event already removed.
func (b *Book) apply(ev Event) {
	switch e := ev.(type) {
	case Open:
		b.applyOpen(e)
	case Match:
		b.lastTrade = &common.Trade{
			Sequence:     e.Seq,
			MakerOrderID: e.MakerOrderID,
			Price:        e.Price,
			Size:         e.Size,
			Timestamp:    e.Time,
		}
		b.orders.reduce(e.MakerOrderID, e.Size)
	case Done:
		b.orders.reduce(e.OrderID, e.RemainingSize)
	case Change:
		b.applyChange(e)
	case Ignored:
	default:
		b.log.Error().Int64("sequence", ev.Sequence()).Msg("unhandled event type")
	}
}

// applyOpen rests a new order. When the order opens a new best level, levels
// on the other side that now cross it are treated as stale and dropped.
func (b *Book) applyOpen(e Open) {
	level, outcome, ok := b.orders.open(e.OrderID, e.Side, e.Price, e.RemainingSize)
	if !ok {
		if outcome == RejectedAtCapacity {
			b.observer.LevelRejected(e.Side)
			b.log.Debug().
				Str("order_id", e.OrderID).
				Str("side", e.Side.String()).
				Str("price", e.Price.String()).
				Msg("level rejected at capacity")
		}
		return
	}

	if outcome != Created || !b.store.ladder(e.Side).IsBest(level) {
		return
	}

	pruned := b.store.pruneCrossed(e.Side, e.Price)
	if len(pruned) == 0 {
		return
	}
	contra := e.Side.Opposite()
	for _, p := range pruned {
		b.orders.dropLevel(contra, p.Price)
	}
	b.observer.LevelsPruned(contra, len(pruned))
	b.log.Debug().
		Str("side", contra.String()).
		Int("levels", len(pruned)).
		Str("threshold", e.Price.String()).
		Msg("pruned crossed levels")
}

func (b *Book) applyChange(e Change) {
	if !e.ModifiesOrder() {
		return
	}
	order, ok := b.orders.get(e.OrderID)
	if !ok {
		return
	}
	price := e.NewPrice
	if price == 0 {
		price = order.Price
	}
	b.orders.reprice(e.OrderID, price, e.NewSize)
}

// ---- Queries ----

// BestLevels returns up to count raw levels of side, best first.
func (b *Book) BestLevels(side common.Side, count int) []Level {
	return b.store.ladder(side).Top(count)
}

// GroupedLevels returns up to count levels of side grouped by increment. It
// reads the maintained ladder when increment is the active grouping and
// groups a one-off copy otherwise, which costs O(levels). A zero increment
// returns the raw ladder.
func (b *Book) GroupedLevels(side common.Side, count int, increment fixed.Value) []Level {
	switch {
	case increment <= 0:
		return b.BestLevels(side, count)
	case increment == b.store.grouped.increment:
		return b.store.grouped.ladder(side).Top(count)
	default:
		return Group(b.store.ladder(side), increment).Top(count)
	}
}

// Levels returns up to count levels of side using the active grouping.
func (b *Book) Levels(side common.Side, count int) []Level {
	if b.store.grouped.active() {
		return b.store.grouped.ladder(side).Top(count)
	}
	return b.BestLevels(side, count)
}

// SetGroupingIncrement switches the grouping and rebuilds the grouped ladders.
// Zero disables grouping.
func (b *Book) SetGroupingIncrement(increment fixed.Value) {
	b.store.grouped.rebuild(increment, b.store.bids, b.store.asks)
}

func (b *Book) GroupingIncrement() fixed.Value {
	return b.store.grouped.increment
}

// Best returns the top-of-book level of side.
func (b *Book) Best(side common.Side) (Level, bool) {
	level, ok := b.store.ladder(side).Best()
	if !ok {
		return Level{}, false
	}
	return *level, true
}

// Depth returns the number of raw levels on side.
func (b *Book) Depth(side common.Side) int {
	return b.store.ladder(side).Len()
}

// LastTradedPrice returns the price of the most recent match.
func (b *Book) LastTradedPrice() (fixed.Value, bool) {
	if b.lastTrade == nil {
		return 0, false
	}
	return b.lastTrade.Price, true
}

func (b *Book) LastTrade() (common.Trade, bool) {
	if b.lastTrade == nil {
		return common.Trade{}, false
	}
	return *b.lastTrade, true
}

// Order returns a copy of a resting order.
func (b *Book) Order(id string) (common.Order, bool) {
	order, ok := b.orders.get(id)
	if !ok {
		return common.Order{}, false
	}
	return *order, true
}

func (b *Book) OrderCount() int { return b.orders.len() }

func (b *Book) State() State { return b.recon.state }

func (b *Book) LastApplied() int64 { return b.recon.lastApplied }

// Gaps counts applied events whose sequence skipped ahead of the previous one.
func (b *Book) Gaps() int { return b.recon.gaps }

// Buffered is the number of events waiting for a snapshot.
func (b *Book) Buffered() int { return b.recon.buffer.Len() }

func (b *Book) MaxLevels() int { return b.maxLevels }
