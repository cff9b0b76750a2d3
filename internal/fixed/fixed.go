package fixed

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Digits is the number of fractional decimal digits carried by a Value.
const Digits = 8

var ErrInvalidNumericLiteral = errors.New("invalid numeric literal")

// Literals outside these bounds are rejected before any arithmetic, which
// would otherwise rescale to 10^|exponent|.
const (
	maxLiteralLen = 64
	minExponent   = -32
	maxExponent   = 19
)

var (
	scale    = decimal.New(1, Digits)
	half     = decimal.New(5, -1)
	maxValue = decimal.NewFromInt(math.MaxInt64)
)

// Value is a price or quantity scaled by 10^Digits. Keeping financial
// quantities as integers means repeated additions never drift.
type Value int64

// Parse converts a non-negative decimal literal into a Value using
// floor(scale * (v + 0.5/scale)), i.e. round to nearest with halves going up.
// The computation is exact, so a given literal always yields the same Value.
func Parse(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if len(s) > maxLiteralLen {
		return 0, fmt.Errorf("%w: %d characters", ErrInvalidNumericLiteral, len(s))
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumericLiteral, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidNumericLiteral, s)
	}
	if exp := d.Exponent(); exp < minExponent || exp > maxExponent {
		return 0, fmt.Errorf("%w: %q exponent out of range", ErrInvalidNumericLiteral, s)
	}

	scaled := d.Mul(scale).Add(half).Floor()
	if scaled.GreaterThan(maxValue) {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidNumericLiteral, s)
	}
	return Value(scaled.IntPart()), nil
}

// MustParse is Parse for literals known to be valid. It panics otherwise.
func MustParse(s string) Value {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Decimal returns the unscaled decimal representation of v.
func (v Value) Decimal() decimal.Decimal {
	return decimal.New(int64(v), -Digits)
}

// Format renders v with exactly digits fractional digits.
func (v Value) Format(digits int) string {
	return v.Decimal().StringFixed(int32(digits))
}

func (v Value) String() string {
	return v.Format(Digits)
}

// Round snaps v to the nearest multiple of step, with halves rounded away
// from zero. A non-positive step leaves v unchanged. Near the int64 limit,
// where the next multiple does not fit, v rounds down instead.
func (v Value) Round(step Value) Value {
	if step <= 0 {
		return v
	}
	if v < 0 {
		return -(-v).Round(step)
	}
	q, r := v/step, v%step
	if r >= step-r && q < math.MaxInt64/step {
		q++
	}
	return q * step
}
