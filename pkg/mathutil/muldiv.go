// Package mathutil implements the fixed-point arithmetic used for every
// share/asset conversion in the vault.
package mathutil

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrOverflow       = errors.New("uint256 overflow")
)

// MulDivDown returns floor(x*y/d). The product is held in 512 bits so it never
// truncates before the division.
func MulDivDown(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	if x.IsZero() || y.IsZero() {
		return new(uint256.Int), nil
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// MulDivUp returns ceil(x*y/d).
func MulDivUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	z, err := MulDivDown(x, y, d)
	if err != nil {
		return nil, err
	}
	if x.IsZero() || y.IsZero() {
		return z, nil
	}
	if new(uint256.Int).MulMod(x, y, d).IsZero() {
		return z, nil
	}
	if _, overflow := z.AddOverflow(z, uint256.NewInt(1)); overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Rounding selects the direction of a conversion.
type Rounding int

const (
	Down Rounding = iota
	Up
)

func (r Rounding) String() string {
	if r == Up {
		return "up"
	}
	return "down"
}

// MulDiv dispatches to MulDivDown or MulDivUp.
func MulDiv(x, y, d *uint256.Int, r Rounding) (*uint256.Int, error) {
	if r == Up {
		return MulDivUp(x, y, d)
	}
	return MulDivDown(x, y, d)
}
