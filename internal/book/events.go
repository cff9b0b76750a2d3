package book

import (
	"time"

	"l3book/internal/common"
	"l3book/internal/fixed"
)

type Kind int

const (
	KindOpen Kind = iota
	KindMatch
	KindDone
	KindChange
	KindIgnored
)

var kindName = map[Kind]string{
	KindOpen:    "open",
	KindMatch:   "match",
	KindDone:    "done",
	KindChange:  "change",
	KindIgnored: "ignored",
}

func (k Kind) String() string {
	if name, ok := kindName[k]; ok {
		return name
	}
	return "unknown"
}

// Event is one sequenced feed update. The set of implementations is closed:
// Open, Match, Done and Change mutate the book, Ignored only consumes its
// sequence number.
type Event interface {
	Sequence() int64
	Kind() Kind
	event()
}

// Open places a new resting order on the book.
type Open struct {
	Seq           int64
	OrderID       string
	Side          common.Side
	Price         fixed.Value
	RemainingSize fixed.Value
	Time          time.Time
}

// Match reports a trade against the resting maker order.
type Match struct {
	Seq          int64
	TradeID      int64
	MakerOrderID string
	TakerOrderID string
	Side         common.Side // maker side
	Price        fixed.Value
	Size         fixed.Value
	Time         time.Time
}

// Done removes whatever is left of an order from the book.
type Done struct {
	Seq           int64
	OrderID       string
	Side          common.Side
	Reason        string
	Price         fixed.Value
	RemainingSize fixed.Value
	Time          time.Time
}

// Change modifies the price and/or size of a resting order. NewPrice is zero
// when the feed only changed the size.
type Change struct {
	Seq      int64
	OrderID  string
	Side     common.Side
	Reason   string
	NewPrice fixed.Value
	NewSize  fixed.Value
	OldPrice fixed.Value
	OldSize  fixed.Value
	Time     time.Time
}

// Ignored stands in for a sequenced message that does not touch the book,
// such as a received or activate message, so that its sequence number is
// still accounted for.
type Ignored struct {
	Seq  int64
	Type string
}

func (e Open) Sequence() int64    { return e.Seq }
func (e Match) Sequence() int64   { return e.Seq }
func (e Done) Sequence() int64    { return e.Seq }
func (e Change) Sequence() int64  { return e.Seq }
func (e Ignored) Sequence() int64 { return e.Seq }

func (Open) Kind() Kind    { return KindOpen }
func (Match) Kind() Kind   { return KindMatch }
func (Done) Kind() Kind    { return KindDone }
func (Change) Kind() Kind  { return KindChange }
func (Ignored) Kind() Kind { return KindIgnored }

func (Open) event()    {}
func (Match) event()   {}
func (Done) event()    {}
func (Change) event()  {}
func (Ignored) event() {}

// ModifiesOrder reports whether the change is a size/price modification of a
// resting order. Empty reasons come from the legacy size-only change message.
func (e Change) ModifiesOrder() bool {
	switch e.Reason {
	case "modify_order", "stp", "":
		return true
	default:
		return false
	}
}

// SnapshotEntry is one resting order as returned by the snapshot endpoint.
type SnapshotEntry struct {
	Price   string
	Size    string
	OrderID string
}

// Snapshot is a point-in-time copy of the book. Both sides are ordered
// best-to-worst.
type Snapshot struct {
	Sequence int64
	Bids     []SnapshotEntry
	Asks     []SnapshotEntry
}
