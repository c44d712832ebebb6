package mathutil

import (
	"fmt"

	"github.com/holiman/uint256"
)

// BPS is the basis-point denominator.
const BPS = 10_000

// Fraction is an immutable numerator/denominator pair. The denominator is not
// validated on construction; applying a zero-denominator fraction fails with
// ErrDivisionByZero.
type Fraction struct {
	num uint256.Int
	den uint256.Int
}

// NewFraction copies num and den into a Fraction.
func NewFraction(num, den *uint256.Int) Fraction {
	var f Fraction
	f.num.Set(num)
	f.den.Set(den)
	return f
}

// Bps returns the fraction bps/10000.
func Bps(bps uint64) Fraction {
	return NewFraction(uint256.NewInt(bps), uint256.NewInt(BPS))
}

func (f Fraction) Numerator() *uint256.Int   { return f.num.Clone() }
func (f Fraction) Denominator() *uint256.Int { return f.den.Clone() }

// MulDown returns floor(x * num / den).
func (f Fraction) MulDown(x *uint256.Int) (*uint256.Int, error) {
	return MulDivDown(x, &f.num, &f.den)
}

// MulUp returns ceil(x * num / den).
func (f Fraction) MulUp(x *uint256.Int) (*uint256.Int, error) {
	return MulDivUp(x, &f.num, &f.den)
}

// Inverse swaps numerator and denominator.
func (f Fraction) Inverse() Fraction {
	return NewFraction(&f.den, &f.num)
}

func (f Fraction) String() string {
	return fmt.Sprintf("%s/%s", f.num.Dec(), f.den.Dec())
}

// Max is the largest representable amount.
func Max() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// IsMax reports whether x is the largest representable amount.
func IsMax(x *uint256.Int) bool {
	return x.Eq(Max())
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// SaturatingSub returns max(a-b, 0).
func SaturatingSub(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}
