package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"l3book/internal/config"
)

// Setup configures the global zerolog logger from cfg and returns it. An
// unknown level falls back to info.
func Setup(cfg config.Config) zerolog.Logger {
	return setup(cfg, os.Stderr)
}

func setup(cfg config.Config, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Logging.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = zerolog.New(out).With().
		Timestamp().
		Str("product", cfg.Product).
		Logger()
	return log.Logger
}
