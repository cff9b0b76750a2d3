package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"l3book/internal/book"
	"l3book/internal/config"
	"l3book/internal/feed"
	"l3book/internal/logging"
	"l3book/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (overrides L3BOOK_CONFIG)")
	snapshotPath := flag.String("snapshot", "", "Level-3 book snapshot JSON")
	eventsPath := flag.String("events", "", "Feed capture, one JSON message per line")
	delay := flag.Duration("delay", -1, "Hold the snapshot back this long to reproduce a slow fetch")
	grouping := flag.Int("grouping", 0, "Index into display.groupings to print the book with")
	serve := flag.Bool("serve", false, "Keep serving metrics after the replay until interrupted")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *snapshotPath != "" {
		cfg.Replay.Snapshot = *snapshotPath
	}
	if *eventsPath != "" {
		cfg.Replay.Events = *eventsPath
	}
	if *delay >= 0 {
		cfg.Replay.SnapshotDelay = *delay
	}
	if cfg.Replay.Snapshot == "" || cfg.Replay.Events == "" {
		fmt.Fprintln(os.Stderr, "Error: a snapshot and an events file are required.")
		flag.Usage()
		os.Exit(1)
	}
	if *grouping < 0 || *grouping >= len(cfg.Display.Groupings) {
		fmt.Fprintf(os.Stderr, "Error: -grouping must be within 0..%d.\n", len(cfg.Display.Groupings)-1)
		os.Exit(1)
	}

	logger := logging.Setup(cfg)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	if err := run(ctx, cfg, *grouping, *serve, logger); err != nil {
		logger.Error().Err(err).Msg("replay failed")
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func run(ctx context.Context, cfg config.Config, grouping int, serve bool, logger zerolog.Logger) error {
	m := metrics.New()

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 2 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
		logger.Info().Str("addr", cfg.Metrics.Addr).Msg("serving metrics")

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("metrics server shutdown failed")
			}
		}()
	}

	b := book.New(
		book.WithMaxLevels(cfg.Book.MaxLevels),
		book.WithObserver(m),
		book.WithLogger(logger),
	)

	stream, err := feed.OpenJSONLStream(cfg.Replay.Events, cfg.Product)
	if err != nil {
		return err
	}
	defer stream.Close()

	snapshots := feed.FileSnapshot{Path: cfg.Replay.Snapshot, Delay: cfg.Replay.SnapshotDelay}
	runner := feed.NewRunner(b, snapshots, stream,
		feed.WithEventBuffer(cfg.Replay.EventBuffer),
		feed.WithProbe(m.ObserveBook),
		feed.WithRunnerLogger(logger),
	)
	if err := runner.Run(ctx); err != nil {
		return err
	}
	if stream.Malformed() > 0 {
		logger.Warn().Int("lines", stream.Malformed()).Msg("malformed feed lines were skipped")
	}

	increments, err := cfg.Increments()
	if err != nil {
		return err
	}
	if b.State() == book.Live {
		b.SetGroupingIncrement(increments[grouping])
		printBook(os.Stdout, b, cfg.Display.Rows, cfg.Display.Groupings[grouping].Decimals)
	}

	if serve && srv != nil {
		logger.Info().Msg("replay done, serving metrics until interrupted")
		<-ctx.Done()
	}
	return nil
}
