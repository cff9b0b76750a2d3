package feed

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"l3book/internal/book"
)

const defaultEventBuffer = 1024

// Runner drives a book from a snapshot source and a stream source. The
// snapshot fetch and the stream reader run concurrently, exactly as they race
// against each other on a live feed, while a single goroutine applies
// everything to the book.
type Runner struct {
	book      *book.Book
	snapshots SnapshotSource
	stream    StreamSource
	buffer    int
	session   string
	probe     func(*book.Book)
	log       zerolog.Logger

	stats Stats
}

// Stats counts stream events by what the book did with them on arrival.
// Buffered events are applied or dropped later during replay.
type Stats struct {
	Received int
	Buffered int
	Applied  int
	Dropped  int
}

type RunnerOption func(*Runner)

// WithEventBuffer sets how many decoded events may queue up in front of the
// apply loop.
func WithEventBuffer(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.buffer = n
		}
	}
}

func WithSession(id string) RunnerOption {
	return func(r *Runner) {
		if id != "" {
			r.session = id
		}
	}
}

// WithProbe registers fn to be called with the book after the snapshot is
// installed and after every live event. It runs on the apply goroutine.
func WithProbe(fn func(*book.Book)) RunnerOption {
	return func(r *Runner) {
		r.probe = fn
	}
}

func WithRunnerLogger(l zerolog.Logger) RunnerOption {
	return func(r *Runner) {
		r.log = l
	}
}

func NewRunner(b *book.Book, snapshots SnapshotSource, stream StreamSource, opts ...RunnerOption) *Runner {
	r := &Runner{
		book:      b,
		snapshots: snapshots,
		stream:    stream,
		buffer:    defaultEventBuffer,
		session:   uuid.New().String(),
		log:       log.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With().Str("session", r.session).Logger()
	return r
}

func (r *Runner) Session() string { return r.session }

// Stats is only meaningful once Run has returned.
func (r *Runner) Stats() Stats { return r.stats }

// Run blocks until the stream is exhausted and the snapshot is installed, an
// error occurs, or ctx is cancelled. Cancellation is not an error.
func (r *Runner) Run(ctx context.Context) error {
	t, ctx := tomb.WithContext(ctx)

	events := make(chan book.Event, r.buffer)
	snapshots := make(chan book.Snapshot, 1)

	r.log.Info().Msg("runner starting")

	// Spawn the workers from inside the tomb so none of them can finish
	// before the others are tracked.
	t.Go(func() error {
		t.Go(func() error {
			return r.readStream(ctx, t, events)
		})
		t.Go(func() error {
			return r.fetchSnapshot(ctx, t, snapshots)
		})
		return r.apply(t, events, snapshots)
	})

	err := t.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	r.log.Info().
		Str("state", r.book.State().String()).
		Int64("last_applied", r.book.LastApplied()).
		Int("received", r.stats.Received).
		Int("buffered", r.stats.Buffered).
		Int("applied", r.stats.Applied).
		Int("dropped", r.stats.Dropped).
		Int("gaps", r.book.Gaps()).
		Err(err).
		Msg("runner stopped")
	return err
}

// readStream forwards stream events until the stream ends. Closing events
// tells the apply loop no more are coming.
func (r *Runner) readStream(ctx context.Context, t *tomb.Tomb, events chan<- book.Event) error {
	defer close(events)

	for {
		ev, err := r.stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			r.log.Debug().Msg("stream exhausted")
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream: %w", err)
		}

		select {
		case <-t.Dying():
			return nil
		case events <- ev:
		}
	}
}

func (r *Runner) fetchSnapshot(ctx context.Context, t *tomb.Tomb, snapshots chan<- book.Snapshot) error {
	snap, err := r.snapshots.FetchSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	r.log.Debug().
		Int64("sequence", snap.Sequence).
		Int("bids", len(snap.Bids)).
		Int("asks", len(snap.Asks)).
		Msg("snapshot fetched")

	select {
	case <-t.Dying():
	case snapshots <- snap:
	}
	return nil
}

// apply is the only goroutine touching the book. It returns once the book is
// live and the stream has been drained.
func (r *Runner) apply(t *tomb.Tomb, events <-chan book.Event, snapshots <-chan book.Snapshot) error {
	for {
		select {
		case <-t.Dying():
			return nil

		case snap := <-snapshots:
			if err := r.book.Install(snap); err != nil {
				return fmt.Errorf("install snapshot: %w", err)
			}
			r.sample()
			snapshots = nil
			if events == nil {
				return nil
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				if r.book.State() == book.Live {
					return nil
				}
				continue
			}

			r.stats.Received++
			switch r.book.Handle(ev) {
			case book.Buffered:
				r.stats.Buffered++
			case book.Applied:
				r.stats.Applied++
				r.sample()
			case book.Dropped:
				r.stats.Dropped++
			}
		}
	}
}

func (r *Runner) sample() {
	if r.probe != nil {
		r.probe(r.book)
	}
}
