package book

import (
	"errors"
	"fmt"

	"github.com/tidwall/btree"

	"l3book/internal/common"
	"l3book/internal/fixed"
)

var ErrNotBuffering = errors.New("snapshot can only be installed while buffering")

// State is the reconciliation phase of a book.
type State int

const (
	// Buffering holds stream events back until a snapshot arrives.
	Buffering State = iota
	// Replaying drains buffered events that are newer than the snapshot.
	Replaying
	// Live applies every event as it arrives.
	Live
)

func (s State) String() string {
	switch s {
	case Buffering:
		return "buffering"
	case Replaying:
		return "replaying"
	case Live:
		return "live"
	default:
		return "unknown"
	}
}

// Disposition tells the caller what Handle did with an event.
type Disposition int

const (
	Buffered Disposition = iota
	Applied
	Dropped
)

func (d Disposition) String() string {
	switch d {
	case Buffered:
		return "buffered"
	case Applied:
		return "applied"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

type reconciler struct {
	state       State
	lastApplied int64
	gaps        int
	buffer      *btree.BTreeG[Event]
}

func newReconciler() reconciler {
	bySequence := func(a, b Event) bool {
		return a.Sequence() < b.Sequence()
	}
	return reconciler{
		state:  Buffering,
		buffer: btree.NewBTreeGOptions(bySequence, btree.Options{NoLocks: true}),
	}
}

// Handle feeds one stream event to the book. Before a snapshot is installed
// the event is buffered; afterwards it is applied unless its sequence is not
// newer than the last applied one.
func (b *Book) Handle(ev Event) Disposition {
	if b.recon.state == Buffering {
		if _, dup := b.recon.buffer.Get(ev); dup {
			b.drop(ev, DropDuplicate)
			return Dropped
		}
		b.recon.buffer.Set(ev)
		return Buffered
	}

	if !b.applyNext(ev) {
		return Dropped
	}
	return Applied
}

// Install loads snap, replays the buffered events that are newer than it and
// switches the book live. A snapshot with a malformed entry is rejected as a
// whole and the book keeps buffering.
func (b *Book) Install(snap Snapshot) error {
	if b.recon.state != Buffering {
		return fmt.Errorf("%w: book is %s", ErrNotBuffering, b.recon.state)
	}

	bids, err := parseEntries(common.Buy, snap.Bids, b.maxLevels)
	if err != nil {
		return err
	}
	asks, err := parseEntries(common.Sell, snap.Asks, b.maxLevels)
	if err != nil {
		return err
	}

	b.load(bids, asks)
	b.recon.lastApplied = snap.Sequence
	b.recon.state = Replaying
	b.log.Info().
		Int64("sequence", snap.Sequence).
		Int("bids", b.store.bids.Len()).
		Int("asks", b.store.asks.Len()).
		Int("buffered", b.recon.buffer.Len()).
		Msg("snapshot installed")

	replayed := 0
	b.recon.buffer.Scan(func(ev Event) bool {
		if b.applyNext(ev) {
			replayed++
		}
		return true
	})
	b.recon.buffer = newReconciler().buffer
	b.recon.state = Live

	b.log.Info().
		Int("replayed", replayed).
		Int64("last_applied", b.recon.lastApplied).
		Msg("book live")
	return nil
}

// Reset discards all book state and starts buffering again. It is the hook a
// caller uses to resynchronise from a fresh snapshot.
func (b *Book) Reset() {
	b.store.reset()
	b.orders.reset()
	b.lastTrade = nil
	b.recon = newReconciler()
}

// applyNext applies ev if it is newer than everything applied so far.
func (b *Book) applyNext(ev Event) bool {
	seq := ev.Sequence()
	if seq <= b.recon.lastApplied {
		b.drop(ev, DropStale)
		return false
	}

	if expected := b.recon.lastApplied + 1; seq > expected {
		b.recon.gaps++
		b.observer.GapDetected(expected, seq)
		b.log.Warn().
			Int64("expected", expected).
			Int64("sequence", seq).
			Str("state", b.recon.state.String()).
			Msg("sequence gap")
	}

	b.apply(ev)
	b.recon.lastApplied = seq
	b.observer.EventApplied(ev.Kind())
	return true
}

func (b *Book) drop(ev Event, reason string) {
	b.observer.EventDropped(ev.Kind(), reason)
	b.log.Debug().
		Int64("sequence", ev.Sequence()).
		Int64("last_applied", b.recon.lastApplied).
		Str("kind", ev.Kind().String()).
		Str("reason", reason).
		Msg("event dropped")
}

type restingOrder struct {
	id    string
	side  common.Side
	price fixed.Value
	qty   fixed.Value
}

// parseEntries converts at most limit snapshot entries of one side.
func parseEntries(side common.Side, entries []SnapshotEntry, limit int) ([]restingOrder, error) {
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	out := make([]restingOrder, 0, len(entries))
	for i, entry := range entries {
		price, err := fixed.Parse(entry.Price)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s[%d] price: %w", side, i, err)
		}
		qty, err := fixed.Parse(entry.Size)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s[%d] size: %w", side, i, err)
		}
		out = append(out, restingOrder{
			id:    entry.OrderID,
			side:  side,
			price: price,
			qty:   qty,
		})
	}
	return out, nil
}

// load replaces the book contents with the snapshot's resting orders.
// Entries at the same price merge into one level.
func (b *Book) load(bids, asks []restingOrder) {
	b.store.reset()
	b.orders.reset()
	b.lastTrade = nil

	// Zero-size entries never rest: open skips them like any empty order.
	for _, side := range [][]restingOrder{bids, asks} {
		for _, o := range side {
			if _, outcome, ok := b.orders.open(o.id, o.side, o.price, o.qty); !ok && outcome == RejectedAtCapacity {
				b.observer.LevelRejected(o.side)
			}
		}
	}
}
