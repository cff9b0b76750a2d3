package feed

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"l3book/internal/book"
)

const maxLineSize = 1024 * 1024

// SnapshotSource delivers the point-in-time book the stream is reconciled
// against. FetchSnapshot may block and must return once ctx is done.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context) (book.Snapshot, error)
}

// StreamSource delivers feed events one at a time. Next returns io.EOF once
// the stream is exhausted.
type StreamSource interface {
	Next(ctx context.Context) (book.Event, error)
}

// SnapshotFunc adapts a function to SnapshotSource.
type SnapshotFunc func(ctx context.Context) (book.Snapshot, error)

func (f SnapshotFunc) FetchSnapshot(ctx context.Context) (book.Snapshot, error) {
	return f(ctx)
}

// FileSnapshot reads a level-3 book document from disk. Delay holds the
// snapshot back to reproduce the latency of a real request.
type FileSnapshot struct {
	Path  string
	Delay time.Duration
}

func (s FileSnapshot) FetchSnapshot(ctx context.Context) (book.Snapshot, error) {
	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return book.Snapshot{}, ctx.Err()
		case <-timer.C:
		}
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		return book.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	return ParseSnapshot(data)
}

// JSONLStream replays feed messages stored one JSON document per line.
// Control messages are skipped and malformed lines are logged and dropped.
// A malformed line that still carries a sequence is passed on as a
// book.Ignored placeholder so the sequence stays contiguous.
type JSONLStream struct {
	scanner *bufio.Scanner
	closer  io.Closer
	decoder Decoder
	log     zerolog.Logger

	line      int
	malformed int
}

// NewJSONLStream reads messages for product from r. An empty product accepts
// every product.
func NewJSONLStream(r io.Reader, product string) *JSONLStream {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &JSONLStream{
		scanner: scanner,
		decoder: Decoder{Product: product},
		log:     log.With().Str("component", "stream").Logger(),
	}
}

// OpenJSONLStream opens a capture file. The caller must Close the stream.
func OpenJSONLStream(path, product string) (*JSONLStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	s := NewJSONLStream(f, product)
	s.closer = f
	return s, nil
}

func (s *JSONLStream) Next(ctx context.Context) (book.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("read stream line %d: %w", s.line+1, err)
			}
			return nil, io.EOF
		}
		s.line++

		data := bytes.TrimSpace(s.scanner.Bytes())
		if len(data) == 0 {
			continue
		}

		ev, err := s.decoder.Decode(data)
		switch {
		case err == nil:
			return ev, nil
		case errors.Is(err, ErrIgnoredMessage):
			continue
		default:
			s.malformed++
			s.log.Warn().
				Err(err).
				Int("line", s.line).
				Msg("dropping feed message")
			if ev != nil {
				return ev, nil
			}
		}
	}
}

// Malformed is the number of lines dropped because they could not be decoded.
func (s *JSONLStream) Malformed() int { return s.malformed }

func (s *JSONLStream) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
