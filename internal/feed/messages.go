package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"l3book/internal/book"
	. "l3book/internal/common"
	"l3book/internal/fixed"
)

var (
	ErrIgnoredMessage   = errors.New("ignored message type")
	ErrMalformedMessage = errors.New("malformed message")
	ErrFeedError        = errors.New("feed reported an error")
)

// Full channel message types.
const (
	TypeOpen          = "open"
	TypeMatch         = "match"
	TypeDone          = "done"
	TypeChange        = "change"
	TypeReceived      = "received"
	TypeActivate      = "activate"
	TypeHeartbeat     = "heartbeat"
	TypeSubscriptions = "subscriptions"
	TypeError         = "error"
)

// header is the part every feed message shares.
type header struct {
	Type      string `json:"type"`
	Sequence  int64  `json:"sequence"`
	ProductID string `json:"product_id"`
	Time      string `json:"time"`
	Message   string `json:"message"`
}

type openMessage struct {
	OrderID       string `json:"order_id"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	RemainingSize string `json:"remaining_size"`
}

type matchMessage struct {
	TradeID      int64  `json:"trade_id"`
	MakerOrderID string `json:"maker_order_id"`
	TakerOrderID string `json:"taker_order_id"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	Size         string `json:"size"`
}

type doneMessage struct {
	OrderID       string `json:"order_id"`
	Side          string `json:"side"`
	Reason        string `json:"reason"`
	Price         string `json:"price"`
	RemainingSize string `json:"remaining_size"`
}

type changeMessage struct {
	OrderID  string `json:"order_id"`
	Side     string `json:"side"`
	Reason   string `json:"reason"`
	NewPrice string `json:"new_price"`
	OldPrice string `json:"old_price"`
	NewSize  string `json:"new_size"`
	OldSize  string `json:"old_size"`
	// Legacy size-only changes carry the price under this name.
	Price string `json:"price"`
}

// Decoder turns raw feed messages into book events. When Product is set,
// messages for any other product are ignored.
type Decoder struct {
	Product string
}

// ParseMessage decodes a single message without product filtering.
func ParseMessage(data []byte) (book.Event, error) {
	return Decoder{}.Decode(data)
}

// Decode returns the book event carried by data. Sequenced messages that do
// not affect the book decode to book.Ignored so their sequence is still
// consumed. Unsequenced control messages yield ErrIgnoredMessage and messages
// with missing or unparseable fields yield ErrMalformedMessage. A sequenced
// message with a bad field also returns a book.Ignored for its sequence, so
// a caller that skips it does not see a gap afterwards.
func (d Decoder) Decode(data []byte) (book.Event, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	switch h.Type {
	case TypeOpen, TypeMatch, TypeDone, TypeChange, TypeReceived, TypeActivate:
	case TypeError:
		return nil, fmt.Errorf("%w: %s", ErrFeedError, h.Message)
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: %s", ErrIgnoredMessage, h.Type)
	}

	if d.Product != "" && h.ProductID != "" && h.ProductID != d.Product {
		return nil, fmt.Errorf("%w: product %s", ErrIgnoredMessage, h.ProductID)
	}
	if h.Sequence <= 0 {
		return nil, fmt.Errorf("%w: %s without sequence", ErrMalformedMessage, h.Type)
	}

	ev, err := decodeEvent(h, data)
	if err != nil {
		return book.Ignored{Seq: h.Sequence, Type: h.Type}, fmt.Errorf("%w: %s %d: %w", ErrMalformedMessage, h.Type, h.Sequence, err)
	}
	return ev, nil
}

func decodeEvent(h header, data []byte) (book.Event, error) {
	p := fieldParser{}
	at := p.time(h.Time)

	switch h.Type {
	case TypeReceived, TypeActivate:
		return book.Ignored{Seq: h.Sequence, Type: h.Type}, nil

	case TypeOpen:
		var m openMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		ev := book.Open{
			Seq:           h.Sequence,
			OrderID:       p.id("order_id", m.OrderID),
			Side:          p.side(m.Side),
			Price:         p.value("price", m.Price),
			RemainingSize: p.value("remaining_size", m.RemainingSize),
			Time:          at,
		}
		return ev, p.err

	case TypeMatch:
		var m matchMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		ev := book.Match{
			Seq:          h.Sequence,
			TradeID:      m.TradeID,
			MakerOrderID: p.id("maker_order_id", m.MakerOrderID),
			TakerOrderID: m.TakerOrderID,
			Side:         p.side(m.Side),
			Price:        p.value("price", m.Price),
			Size:         p.value("size", m.Size),
			Time:         at,
		}
		return ev, p.err

	case TypeDone:
		var m doneMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		// Market orders finish without a price or remaining size.
		ev := book.Done{
			Seq:           h.Sequence,
			OrderID:       p.id("order_id", m.OrderID),
			Side:          p.side(m.Side),
			Reason:        m.Reason,
			Price:         p.optional("price", m.Price),
			RemainingSize: p.optional("remaining_size", m.RemainingSize),
			Time:          at,
		}
		return ev, p.err

	default:
		var m changeMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		// Market orders change funds, not size, and never rest on the book.
		if m.NewSize == "" {
			return book.Ignored{Seq: h.Sequence, Type: h.Type}, nil
		}
		newPrice := m.NewPrice
		if newPrice == "" {
			newPrice = m.Price
		}
		ev := book.Change{
			Seq:      h.Sequence,
			OrderID:  p.id("order_id", m.OrderID),
			Side:     p.side(m.Side),
			Reason:   m.Reason,
			NewPrice: p.optional("new_price", newPrice),
			NewSize:  p.value("new_size", m.NewSize),
			OldPrice: p.optional("old_price", m.OldPrice),
			OldSize:  p.optional("old_size", m.OldSize),
			Time:     at,
		}
		return ev, p.err
	}
}

// fieldParser converts string fields and keeps the first error it hits.
type fieldParser struct {
	err error
}

func (p *fieldParser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *fieldParser) value(name, s string) fixed.Value {
	if s == "" {
		p.fail(fmt.Errorf("missing %s", name))
		return 0
	}
	v, err := fixed.Parse(s)
	if err != nil {
		p.fail(fmt.Errorf("%s: %w", name, err))
	}
	return v
}

func (p *fieldParser) optional(name, s string) fixed.Value {
	if s == "" {
		return 0
	}
	return p.value(name, s)
}

func (p *fieldParser) id(name, s string) string {
	if s == "" {
		p.fail(fmt.Errorf("missing %s", name))
	}
	return s
}

func (p *fieldParser) side(s string) Side {
	side, err := ParseSide(s)
	if err != nil {
		p.fail(err)
	}
	return side
}

func (p *fieldParser) time(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		p.fail(fmt.Errorf("time: %w", err))
	}
	return t
}

// snapshotDocument is the level-3 book endpoint's response. Each entry is
// [price, size, order_id].
type snapshotDocument struct {
	Sequence int64       `json:"sequence"`
	Bids     [][3]string `json:"bids"`
	Asks     [][3]string `json:"asks"`
}

// ParseSnapshot decodes a level-3 book document. Numeric fields are left as
// strings; the book validates them when the snapshot is installed.
func ParseSnapshot(data []byte) (book.Snapshot, error) {
	var doc snapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return book.Snapshot{}, fmt.Errorf("%w: snapshot: %w", ErrMalformedMessage, err)
	}
	if doc.Sequence <= 0 {
		return book.Snapshot{}, fmt.Errorf("%w: snapshot without sequence", ErrMalformedMessage)
	}

	return book.Snapshot{
		Sequence: doc.Sequence,
		Bids:     snapshotEntries(doc.Bids),
		Asks:     snapshotEntries(doc.Asks),
	}, nil
}

func snapshotEntries(rows [][3]string) []book.SnapshotEntry {
	entries := make([]book.SnapshotEntry, len(rows))
	for i, row := range rows {
		entries[i] = book.SnapshotEntry{Price: row[0], Size: row[1], OrderID: row[2]}
	}
	return entries
}
