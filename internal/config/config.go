package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"l3book/internal/book"
	"l3book/internal/fixed"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Product string `yaml:"product"`
	Book    struct {
		MaxLevels int `yaml:"max_levels"`
	} `yaml:"book"`
	Display struct {
		Rows      int        `yaml:"rows"`
		Groupings []Grouping `yaml:"groupings"`
	} `yaml:"display"`
	Replay struct {
		Snapshot      string        `yaml:"snapshot"`
		Events        string        `yaml:"events"`
		SnapshotDelay time.Duration `yaml:"snapshot_delay"`
		EventBuffer   int           `yaml:"event_buffer"`
	} `yaml:"replay"`
	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

// Grouping is one selectable price increment and the number of decimals its
// levels are displayed with. An increment of 0 shows the raw book.
type Grouping struct {
	Increment string `yaml:"increment"`
	Decimals  int    `yaml:"decimals"`
}

func Default() Config {
	var c Config
	c.Product = "ETH-EUR"
	c.Book.MaxLevels = book.DefaultMaxLevels
	c.Display.Rows = 16
	c.Display.Groupings = []Grouping{
		{Increment: "0", Decimals: 2},
		{Increment: "0.1", Decimals: 1},
		{Increment: "0.5", Decimals: 1},
		{Increment: "1", Decimals: 0},
	}
	c.Replay.EventBuffer = 1024
	c.Logging.Level = "info"
	return c
}

// Load builds the configuration from defaults, the YAML file named by
// L3BOOK_CONFIG if set, and L3BOOK_* environment overrides, in that order.
func Load() (Config, error) {
	c := Default()
	if path := os.Getenv("L3BOOK_CONFIG"); path != "" {
		if err := c.readFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

// LoadFile is Load with an explicit file path taking the place of
// L3BOOK_CONFIG.
func LoadFile(path string) (Config, error) {
	c := Default()
	if err := c.readFile(path); err != nil {
		return Config{}, err
	}
	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

func (c *Config) readFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("L3BOOK_PRODUCT"); v != "" {
		c.Product = v
	}
	if v := os.Getenv("L3BOOK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("L3BOOK_LOG_PRETTY"); v == "1" || v == "true" {
		c.Logging.Pretty = true
	}
	if v := os.Getenv("L3BOOK_MAX_LEVELS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: L3BOOK_MAX_LEVELS: %w", ErrInvalidConfig, err)
		}
		c.Book.MaxLevels = n
	}
	if v := os.Getenv("L3BOOK_SNAPSHOT"); v != "" {
		c.Replay.Snapshot = v
	}
	if v := os.Getenv("L3BOOK_EVENTS"); v != "" {
		c.Replay.Events = v
	}
	if v := os.Getenv("L3BOOK_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	return nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Product) == "" {
		return fmt.Errorf("%w: product is empty", ErrInvalidConfig)
	}
	if c.Book.MaxLevels <= 0 {
		return fmt.Errorf("%w: book.max_levels must be positive, got %d", ErrInvalidConfig, c.Book.MaxLevels)
	}
	if c.Display.Rows <= 0 {
		return fmt.Errorf("%w: display.rows must be positive, got %d", ErrInvalidConfig, c.Display.Rows)
	}
	if len(c.Display.Groupings) == 0 {
		return fmt.Errorf("%w: display.groupings is empty", ErrInvalidConfig)
	}
	if _, err := c.Increments(); err != nil {
		return err
	}
	for i, g := range c.Display.Groupings {
		if g.Decimals < 0 || g.Decimals > fixed.Digits {
			return fmt.Errorf("%w: display.groupings[%d].decimals must be within 0..%d", ErrInvalidConfig, i, fixed.Digits)
		}
	}
	if c.Replay.SnapshotDelay < 0 {
		return fmt.Errorf("%w: replay.snapshot_delay is negative", ErrInvalidConfig)
	}
	return nil
}

// Increments parses the configured grouping increments.
func (c Config) Increments() ([]fixed.Value, error) {
	out := make([]fixed.Value, len(c.Display.Groupings))
	for i, g := range c.Display.Groupings {
		v, err := fixed.Parse(g.Increment)
		if err != nil {
			return nil, fmt.Errorf("%w: display.groupings[%d].increment: %w", ErrInvalidConfig, i, err)
		}
		out[i] = v
	}
	return out, nil
}
