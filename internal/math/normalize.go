package math

import (
	"errors"
	"fmt"
	"math/big"
)

// LedgerDecimals is the fixed accounting precision: all normalized values
// are integers with 6 fractional digits (USD-6).
const LedgerDecimals = 6

// maxDecimals bounds assetDecimals + priceDecimals so the 10^n scaling
// factor stays within a precomputed table and cannot blow up the exponent.
const maxDecimals = 77

var (
	// ErrArithmeticOverflow signals that a normalized value does not fit the
	// ledger's integer width. Callers must abort, never wrap.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	// ErrNonPositivePrice signals a zero or negative oracle price reached
	// the normalizer. The oracle gateway rejects these earlier.
	ErrNonPositivePrice = errors.New("price must be positive")
)

var pow10Table [maxDecimals + 1]*big.Int

func init() {
	v := big.NewInt(1)
	ten := big.NewInt(10)
	for i := 0; i <= maxDecimals; i++ {
		pow10Table[i] = new(big.Int).Set(v)
		v.Mul(v, ten)
	}
}

// pow10 returns 10^n from the shared table. The result is read-only.
func pow10(n int) *big.Int {
	return pow10Table[n]
}

// ToLedgerUnits converts an asset-native integer amount into USD-6 ledger
// units, given an oracle price and the price's own decimal precision.
//
//	exponent = assetDecimals + priceDecimals - LedgerDecimals
//	exponent >= 0: usd = floor(amount * price / 10^exponent)
//	exponent <  0: usd = amount * price * 10^(-exponent)
//
// Division always truncates toward zero. Truncation slightly under-credits
// the depositor; the same policy is applied on the way out so the drift
// stays bounded (see FromLedgerUnits).
func ToLedgerUnits(amount *big.Int, assetDecimals uint8, price *big.Int, priceDecimals uint8) (int64, error) {
	if price == nil || price.Sign() <= 0 {
		return 0, ErrNonPositivePrice
	}
	if amount == nil || amount.Sign() < 0 {
		return 0, fmt.Errorf("amount must be non-negative")
	}
	if int(assetDecimals)+int(priceDecimals) > maxDecimals {
		return 0, fmt.Errorf("decimals out of range: %w", ErrArithmeticOverflow)
	}

	exponent := int(assetDecimals) + int(priceDecimals) - LedgerDecimals

	usd := new(big.Int).Mul(amount, price)
	if exponent >= 0 {
		usd.Quo(usd, pow10(exponent))
	} else {
		usd.Mul(usd, pow10(-exponent))
	}

	if !usd.IsInt64() {
		return 0, fmt.Errorf("normalized amount exceeds ledger width: %w", ErrArithmeticOverflow)
	}
	return usd.Int64(), nil
}

// FromLedgerUnits is the algebraic inverse of ToLedgerUnits: it converts a
// USD-6 ledger amount back into asset-native units at the given price.
//
// The round trip FromLedgerUnits(ToLedgerUnits(a)) is NOT exact — floor
// truncation loses the fractional remainder — but the drift is bounded by
// the native value of one USD-6 unit and never produces a negative amount.
func FromLedgerUnits(usdAmount int64, assetDecimals uint8, price *big.Int, priceDecimals uint8) (*big.Int, error) {
	if price == nil || price.Sign() <= 0 {
		return nil, ErrNonPositivePrice
	}
	if usdAmount < 0 {
		return nil, fmt.Errorf("usd amount must be non-negative")
	}
	if int(assetDecimals)+int(priceDecimals) > maxDecimals {
		return nil, fmt.Errorf("decimals out of range: %w", ErrArithmeticOverflow)
	}

	exponent := int(assetDecimals) + int(priceDecimals) - LedgerDecimals
	usd := big.NewInt(usdAmount)

	if exponent >= 0 {
		amount := new(big.Int).Mul(usd, pow10(exponent))
		return amount.Quo(amount, price), nil
	}

	denominator := new(big.Int).Mul(price, pow10(-exponent))
	return new(big.Int).Quo(usd, denominator), nil
}
