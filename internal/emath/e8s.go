// Package emath implements the protocol's fixed-point arithmetic.
// All amounts, rates and ratios carry 8 implied decimal digits (e8s).
package emath

import "math/big"

// E8s is the fixed-point scale: 1.0 == 100_000_000.
const E8s uint64 = 100_000_000

// E8sFloat is the scale as a float, for display-only conversions.
const E8sFloat float64 = 100_000_000.0

// MulE8s computes a*b/1e8 in a wide intermediate, truncating toward zero.
func MulE8s(a, b uint64) uint64 {
	r := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	r.Quo(r, big.NewInt(int64(E8s)))
	return r.Uint64()
}

// DivE8s computes a*1e8/b in a wide intermediate, truncating toward zero.
// b must be non-zero.
func DivE8s(a, b uint64) uint64 {
	r := new(big.Int).Mul(new(big.Int).SetUint64(a), big.NewInt(int64(E8s)))
	r.Quo(r, new(big.Int).SetUint64(b))
	return r.Uint64()
}

// ToE8s normalizes an amount quoted with the given number of decimal
// digits to the 8-decimal convention.
func ToE8s(amount uint64, decimals uint32) uint64 {
	if decimals >= 8 {
		return amount / pow10(decimals-8)
	}
	return amount * pow10(8-decimals)
}

func pow10(n uint32) uint64 {
	r := uint64(1)
	for i := uint32(0); i < n; i++ {
		r *= 10
	}
	return r
}

// SaturatingSub returns a-b, or zero when b exceeds a.
func SaturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
