package common

import (
	"fmt"
	"time"

	"l3book/internal/fixed"
)

// Trade is the most recent execution seen on the feed.
type Trade struct {
	Sequence     int64
	MakerOrderID string
	Price        fixed.Value
	Size         fixed.Value
	Timestamp    time.Time
}

func (t Trade) String() string {
	return fmt.Sprintf(
		`Sequence:  %d
Maker:     %s
Price:     %s
Size:      %s
Timestamp: %v`,
		t.Sequence,
		t.MakerOrderID,
		t.Price,
		t.Size,
		t.Timestamp.Format(time.RFC3339Nano),
	)
}
