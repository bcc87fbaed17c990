package math

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// BpsDenominator is 100% expressed in basis points.
	BpsDenominator = 10_000

	// SecondsPerYear is the annualisation base for fee accrual (365 days).
	SecondsPerYear = 365 * 24 * 60 * 60

	// DefaultShareDecimals matches the 18-decimal convention of the share tokens.
	DefaultShareDecimals uint8 = 18
)

var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrOverflow       = errors.New("uint256 overflow")
)

type RoundingMode int

const (
	RoundDown RoundingMode = iota // Floor, used for all protocol math
)

// Unit returns 10^decimals.
func Unit(decimals uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
}

// MulDiv computes x * y / d with a 512-bit intermediate so the product never
// truncates before the division.
func MulDiv(x, y, d *uint256.Int, mode RoundingMode) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}

	if mode != RoundDown {
		return nil, fmt.Errorf("unsupported rounding mode %d", mode)
	}

	result, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return result, nil
}

// MustMulDiv is MulDiv for call sites whose operands are bounded by construction.
func MustMulDiv(x, y, d *uint256.Int) *uint256.Int {
	r, err := MulDiv(x, y, d, RoundDown)
	if err != nil {
		panic(err)
	}
	return r
}

// ApplyBps returns amount * bps / 10000, floored.
func ApplyBps(amount *uint256.Int, bps uint16) *uint256.Int {
	return MustMulDiv(amount, uint256.NewInt(uint64(bps)), uint256.NewInt(BpsDenominator))
}

// SharePrice returns totalAssets per one whole share scaled by 10^decimals.
// An empty supply prices at exactly one unit.
func SharePrice(totalAssets, totalSupply *uint256.Int, decimals uint8) (*uint256.Int, error) {
	unit := Unit(decimals)
	if totalSupply.IsZero() {
		return unit, nil
	}
	return MulDiv(totalAssets, unit, totalSupply, RoundDown)
}

// ConvertToShares converts assets to shares at price, floored.
func ConvertToShares(assets, price *uint256.Int, decimals uint8) (*uint256.Int, error) {
	return MulDiv(assets, Unit(decimals), price, RoundDown)
}

// ConvertToAssets converts shares to assets at price, floored.
func ConvertToAssets(shares, price *uint256.Int, decimals uint8) (*uint256.Int, error) {
	return MulDiv(shares, price, Unit(decimals), RoundDown)
}

// SignedDelta returns a - b as a signed big integer.
func SignedDelta(a, b *uint256.Int) *big.Int {
	return new(big.Int).Sub(a.ToBig(), b.ToBig())
}

// SaturatingSub returns a - b, or zero when b > a.
func SaturatingSub(a, b *uint256.Int) *uint256.Int {
	if b.Gt(a) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}
