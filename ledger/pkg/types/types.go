package types

import (
	"fmt"
	"math/big"

	"github.com/mr-tron/base58"
)

// AssetDecimals is the fixed decimal precision of the staking asset.
const AssetDecimals = 6

// OneUnit is 1.0 of the staking asset in smallest units.
const OneUnit = int64(1_000_000)

// MaxBps is the basis-point denominator: 10000 bps = 100%.
const MaxBps = int64(10_000)

// Address is a base58-encoded account identifier, as issued by the custody
// service. The zero value is invalid.
type Address string

// ParseAddress validates and normalizes a base58 address string.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return "", fmt.Errorf("address is empty")
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return "", fmt.Errorf("address %q is not valid base58: %w", s, err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("address %q decodes to zero bytes", s)
	}
	return Address(s), nil
}

// MustAddress is ParseAddress that panics on error, for tests and constants.
func MustAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) String() string { return string(a) }

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a == "" }

// BpsOf returns floor(amount * bps / 10000). Computed through MulDiv because
// amount is unbounded (total_donation accumulates across participants) and
// the raw product can exceed 63 bits.
func BpsOf(amount, bps int64) int64 {
	return MulDiv(amount, bps, MaxBps)
}

// MulDiv returns floor(a * b / den) computed without intermediate overflow.
// Used for the proportional discount and reward-pot splits, where a*b can
// exceed 63 bits. den must be positive.
func MulDiv(a, b, den int64) int64 {
	product := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	return product.Div(product, big.NewInt(den)).Int64()
}
