package fixedpoint

import (
	"math"
	"testing"

	"github.com/holiman/uint256"
)

func TestAddOverflowDetected(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	if _, err := Add(max, uint256.NewInt(1)); err != ErrArithmetic {
		t.Errorf("expected ErrArithmetic on 2^256-1 + 1, got %v", err)
	}

	z, err := Add(uint256.NewInt(40), uint256.NewInt(2))
	if err != nil || z.Uint64() != 42 {
		t.Errorf("40 + 2 = %v (err %v), want 42", z, err)
	}
}

func TestSubUnderflowDetected(t *testing.T) {
	if _, err := Sub(uint256.NewInt(1), uint256.NewInt(2)); err != ErrArithmetic {
		t.Errorf("expected ErrArithmetic on 1 - 2, got %v", err)
	}
}

func TestDivByZero(t *testing.T) {
	if _, err := Div(uint256.NewInt(1), uint256.NewInt(0)); err != ErrArithmetic {
		t.Errorf("expected ErrArithmetic on div by zero, got %v", err)
	}
}

func TestMulDivNoIntermediateOverflow(t *testing.T) {
	// a * b overflows 256 bits as a plain product path for 2^200 * 2^200,
	// but a*b/c fits when c = 2^200.
	a := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	b := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	c := new(uint256.Int).Lsh(uint256.NewInt(1), 200)

	z, err := MulDiv(a, b, c)
	if err != nil {
		t.Fatalf("MulDiv failed: %v", err)
	}
	if z.Cmp(a) != 0 {
		t.Errorf("2^200 * 2^200 / 2^200 = %v, want 2^200", z)
	}
}

func TestMulDivRoundsTowardZero(t *testing.T) {
	z, err := MulDiv(uint256.NewInt(7), uint256.NewInt(3), uint256.NewInt(2))
	if err != nil {
		t.Fatalf("MulDiv failed: %v", err)
	}
	if z.Uint64() != 10 { // 21/2 floors to 10
		t.Errorf("7*3/2 = %d, want 10", z.Uint64())
	}
}

func TestSaturatingToU8Percent(t *testing.T) {
	tests := []struct {
		name string
		in   uint64
		want uint8
	}{
		{"zero", 0, 0},
		{"mid", 50 * Scale, 50},
		{"exact hundred", 100 * Scale, 100},
		{"above hundred clamps", 250 * Scale, 100},
		{"sub-unit floors", Scale - 1, 0},
		{"eighty and change floors", 80*Scale + 999_999, 80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SaturatingToU8Percent(uint256.NewInt(tt.in)); got != tt.want {
				t.Errorf("SaturatingToU8Percent(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestU64Helpers(t *testing.T) {
	if _, err := AddU64(math.MaxUint64, 1); err != ErrArithmetic {
		t.Errorf("AddU64 wrap not detected")
	}
	if _, err := SubU64(0, 1); err != ErrArithmetic {
		t.Errorf("SubU64 underflow not detected")
	}
	if _, err := MulU64(math.MaxUint64, 2); err != ErrArithmetic {
		t.Errorf("MulU64 wrap not detected")
	}
	if v, err := MulU64(0, math.MaxUint64); err != nil || v != 0 {
		t.Errorf("MulU64(0, max) = %d (err %v), want 0", v, err)
	}

	// MulDivU64 must survive a*b > 2^64 when the quotient fits.
	v, err := MulDivU64(math.MaxUint64, 10, 20)
	if err != nil {
		t.Fatalf("MulDivU64 failed: %v", err)
	}
	if v != math.MaxUint64/2 {
		t.Errorf("MulDivU64(max, 10, 20) = %d, want %d", v, uint64(math.MaxUint64/2))
	}

	if _, err := MulDivU64(1, 1, 0); err != ErrArithmetic {
		t.Errorf("MulDivU64 div by zero not detected")
	}
}

func TestMulDiv3U64WorkerPayoutShape(t *testing.T) {
	// worker_pool * weight_bp * quality / (10_000 * 100), scenario values.
	got, err := MulDiv3U64(850_000, 10_000, 80, 1_000_000)
	if err != nil {
		t.Fatalf("MulDiv3U64 failed: %v", err)
	}
	if got != 680_000 {
		t.Errorf("payout = %d, want 680000", got)
	}

	got, err = MulDiv3U64(850_000, 6_000, 90, 1_000_000)
	if err != nil {
		t.Fatalf("MulDiv3U64 failed: %v", err)
	}
	if got != 459_000 {
		t.Errorf("payout = %d, want 459000", got)
	}
}
