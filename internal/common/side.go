package common

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidSide = errors.New("invalid side")

type Side int

const (
	Buy Side = iota
	Sell
)

var sideName = map[Side]string{
	Buy:  "buy",
	Sell: "sell",
}

func (s Side) String() string {
	if name, ok := sideName[s]; ok {
		return name
	}
	return fmt.Sprintf("side(%d)", int(s))
}

// Opposite returns the contra side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide accepts the feed's "buy"/"sell" spelling, case-insensitively.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}
