package packages

import (
	"errors"
	"fmt"
	"math/big"
)

// CanonicalDecimals is the fixed fractional-digit count used for all internal
// reward-token arithmetic. Payment amounts are normalised to this precision
// on entry and denormalised on exit.
const CanonicalDecimals = 18

var (
	ErrNegativeAmount   = errors.New("packages: amount must not be negative")
	ErrPrecisionLoss    = errors.New("packages: scaling would lose precision")
	ErrInvalidRate      = errors.New("packages: exchange rate must be positive")
	ErrDecimalsTooLarge = errors.New("packages: decimal count out of range")
)

// maxDecimals bounds pow10 exponents to keep scaling factors sane. No real
// asset carries more than 30 fractional digits.
const maxDecimals = 30

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// canonicalUnit is 10^18, the scale factor of one whole reward token.
var canonicalUnit = pow10(CanonicalDecimals)

// ToCanonical converts an amount expressed with sourceDecimals fractional
// digits into the engine's canonical 18-decimal representation. Scaling is
// exact integer multiplication or division; a downscale that would truncate
// is rejected rather than silently rounded.
func ToCanonical(amount *big.Int, sourceDecimals uint8) (*big.Int, error) {
	return rescale(amount, sourceDecimals, CanonicalDecimals)
}

// FromCanonical converts a canonical 18-decimal amount back to the native
// precision of the target asset.
func FromCanonical(amount *big.Int, targetDecimals uint8) (*big.Int, error) {
	return rescale(amount, CanonicalDecimals, targetDecimals)
}

func rescale(amount *big.Int, from, to uint8) (*big.Int, error) {
	if amount == nil {
		return big.NewInt(0), nil
	}
	if amount.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	if from > maxDecimals || to > maxDecimals {
		return nil, ErrDecimalsTooLarge
	}
	if from == to {
		return new(big.Int).Set(amount), nil
	}
	if to > from {
		return new(big.Int).Mul(amount, pow10(to-from)), nil
	}
	factor := pow10(from - to)
	quo, rem := new(big.Int).QuoRem(amount, factor, new(big.Int))
	if rem.Sign() != 0 {
		return nil, fmt.Errorf("%w: %s is not divisible by 10^%d", ErrPrecisionLoss, amount, from-to)
	}
	return quo, nil
}

// TokensForPayment converts a canonical net payment amount into reward-token
// units using an exchange rate that is itself expressed at canonical
// precision (payment units per one whole reward token).
//
// The scale factor is applied exactly once: tokens = payment * 10^18 / rate.
// Callers must not pre-scale either operand; feeding a native-precision rate
// in here is how historical deployments inflated payouts by the decimals
// delta.
func TokensForPayment(netCanonical, rateCanonical *big.Int) (*big.Int, error) {
	if rateCanonical == nil || rateCanonical.Sign() <= 0 {
		return nil, ErrInvalidRate
	}
	if netCanonical == nil {
		return big.NewInt(0), nil
	}
	if netCanonical.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	tokens := new(big.Int).Mul(netCanonical, canonicalUnit)
	return tokens.Quo(tokens, rateCanonical), nil
}

// shareByBps computes amount * bps / 10000. The caller is responsible for
// assigning the remainder so no unit is lost to rounding.
func shareByBps(amount *big.Int, bps uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(bps)))
	return share.Quo(share, big.NewInt(10_000))
}
