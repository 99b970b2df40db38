package futarchy

import (
	"fmt"
	"math"
	"math/big"

	"github.com/alanyoungcy/ideapool/internal/domain"
	"github.com/shopspring/decimal"
)

var maxUint64 = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// ToBaseUnits converts a decimal token amount to base units of a mint with
// the given decimals, rounding toward zero. Amounts that are not positive,
// that overflow u64, or whose dropped remainder exceeds epsilon base units
// are rejected.
func ToBaseUnits(amount decimal.Decimal, decimals int32, epsilon decimal.Decimal) (uint64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("%w: %s must be positive", domain.ErrInvalidAmount, amount)
	}
	scaled := amount.Shift(decimals)
	whole := scaled.Truncate(0)
	if rem := scaled.Sub(whole); rem.GreaterThan(epsilon) {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", domain.ErrInvalidAmount, amount, decimals)
	}
	if whole.IsZero() {
		return 0, fmt.Errorf("%w: %s rounds to zero base units", domain.ErrInvalidAmount, amount)
	}
	if whole.GreaterThan(maxUint64) {
		return 0, fmt.Errorf("%w: %s overflows", domain.ErrInvalidAmount, amount)
	}
	return whole.BigInt().Uint64(), nil
}

// FromBaseUnits converts base units back to a decimal token amount.
func FromBaseUnits(units uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -decimals)
}

// PriceObservation encodes a price for the TWAP oracle, which stores prices
// scaled by 1e12 and adjusted for the difference between quote and base
// decimals.
func PriceObservation(price decimal.Decimal, baseDecimals, quoteDecimals int32) (U128, error) {
	scaled := price.Shift(12 + quoteDecimals - baseDecimals).Truncate(0)
	if scaled.IsNegative() {
		return U128{}, fmt.Errorf("%w: negative price %s", domain.ErrInvalidAmount, price)
	}
	return U128FromBig(scaled.BigInt())
}

// AmmFeeBps is the swap fee the futarchy AMM charges, in basis points.
const AmmFeeBps = 100

// ExpectedSwapOutput quotes a constant-product swap of amountIn against the
// given reserves after a fee in basis points.
func ExpectedSwapOutput(reserveIn, reserveOut, amountIn uint64, feeBps int) uint64 {
	if reserveIn == 0 || reserveOut == 0 || amountIn == 0 {
		return 0
	}
	in := new(big.Int).SetUint64(amountIn)
	in.Mul(in, big.NewInt(int64(10_000-feeBps)))
	in.Quo(in, big.NewInt(10_000))

	num := new(big.Int).Mul(in, new(big.Int).SetUint64(reserveOut))
	den := new(big.Int).Add(new(big.Int).SetUint64(reserveIn), in)
	return num.Quo(num, den).Uint64()
}

// MinOutputWithSlippage applies a slippage tolerance in basis points to an
// expected output.
func MinOutputWithSlippage(expected uint64, slippageBps int) uint64 {
	if slippageBps <= 0 {
		return expected
	}
	if slippageBps >= 10_000 {
		return 0
	}
	v := new(big.Int).SetUint64(expected)
	v.Mul(v, big.NewInt(int64(10_000-slippageBps)))
	return v.Quo(v, big.NewInt(10_000)).Uint64()
}
