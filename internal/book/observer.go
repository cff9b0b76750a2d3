package book

import "l3book/internal/common"

// Observer receives book telemetry. Calls are made synchronously from the
// goroutine applying events, so implementations must be cheap.
type Observer interface {
	EventApplied(kind Kind)
	EventDropped(kind Kind, reason string)
	GapDetected(expected, got int64)
	LevelRejected(side common.Side)
	LevelsPruned(side common.Side, n int)
}

// Reasons passed to Observer.EventDropped.
const (
	DropStale     = "stale"
	DropDuplicate = "duplicate"
)

type nopObserver struct{}

func (nopObserver) EventApplied(Kind)             {}
func (nopObserver) EventDropped(Kind, string)     {}
func (nopObserver) GapDetected(int64, int64)      {}
func (nopObserver) LevelRejected(common.Side)     {}
func (nopObserver) LevelsPruned(common.Side, int) {}
