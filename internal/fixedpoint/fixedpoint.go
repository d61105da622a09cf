package fixedpoint

import (
	"errors"

	"github.com/holiman/uint256"
)

// Integer fixed-point arithmetic with scale S = 1_000_000. Everything the
// consensus path computes goes through the checked operations here: an
// overflow is a programming error, surfaced as ErrArithmetic, never a
// silently wrapped value. No IEEE-754 anywhere on this path, so two correct
// implementations agree byte for byte.

// Scale is the fixed-point scale S (six decimals).
const Scale uint64 = 1_000_000

// ErrArithmetic is the fatal overflow/underflow/divide-by-zero kind.
var ErrArithmetic = errors.New("fixedpoint: arithmetic error")

// Add returns a + b, failing on wrap.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	z, carry := new(uint256.Int).AddOverflow(a, b)
	if carry {
		return nil, ErrArithmetic
	}
	return z, nil
}

// Sub returns a - b, failing on underflow.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	z, borrow := new(uint256.Int).SubOverflow(a, b)
	if borrow {
		return nil, ErrArithmetic
	}
	return z, nil
}

// Mul returns a * b, failing on wrap.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrArithmetic
	}
	return z, nil
}

// Div returns a / b rounded toward zero, failing on division by zero.
func Div(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrArithmetic
	}
	return new(uint256.Int).Div(a, b), nil
}

// MulDiv returns a * b / c without intermediate overflow (512-bit
// intermediate), rounding toward zero. Fails when c is zero or the quotient
// itself exceeds 256 bits.
func MulDiv(a, b, c *uint256.Int) (*uint256.Int, error) {
	if c.IsZero() {
		return nil, ErrArithmetic
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, c)
	if overflow {
		return nil, ErrArithmetic
	}
	return z, nil
}

// SaturatingToU8Percent clamps an S-scaled value in [0*S, 100*S] to a u8
// percent in [0, 100].
func SaturatingToU8Percent(x *uint256.Int) uint8 {
	pct := new(uint256.Int).Div(x, uint256.NewInt(Scale))
	if pct.CmpUint64(100) > 0 {
		return 100
	}
	return uint8(pct.Uint64())
}

// ── uint64 conveniences ─────────────────────────────────────────────
//
// The engine's ledgers denominate in uint64 base units; these wrappers keep
// the call sites terse while still failing loudly.

// AddU64 returns a + b with wrap detection.
func AddU64(a, b uint64) (uint64, error) {
	s := a + b
	if s < a {
		return 0, ErrArithmetic
	}
	return s, nil
}

// SubU64 returns a - b with underflow detection.
func SubU64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrArithmetic
	}
	return a - b, nil
}

// MulU64 returns a * b with wrap detection.
func MulU64(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	p := a * b
	if p/a != b {
		return 0, ErrArithmetic
	}
	return p, nil
}

// MulDivU64 computes a * b / c exactly through a 256-bit intermediate,
// rounding toward zero. Fails when c is zero or the result exceeds 64 bits.
func MulDivU64(a, b, c uint64) (uint64, error) {
	z, err := MulDiv(uint256.NewInt(a), uint256.NewInt(b), uint256.NewInt(c))
	if err != nil {
		return 0, err
	}
	if !z.IsUint64() {
		return 0, ErrArithmetic
	}
	return z.Uint64(), nil
}

// MulDiv3U64 computes a * b * c / d exactly, rounding toward zero. Used for
// the worker payout pool * weight * quality / (10_000 * 100) shape.
func MulDiv3U64(a, b, c, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrArithmetic
	}
	ab, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow {
		return 0, ErrArithmetic
	}
	z, err := MulDiv(ab, uint256.NewInt(c), uint256.NewInt(d))
	if err != nil {
		return 0, err
	}
	if !z.IsUint64() {
		return 0, ErrArithmetic
	}
	return z.Uint64(), nil
}
