// Package commission splits rent between landlord and agent by a basis-point
// commission rate.
package commission

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// MaxRateBps is 100%.
const MaxRateBps uint32 = 10000

var bpsDenominator = big.NewInt(int64(MaxRateBps))

// Split divides amount so that agent receives floor(amount*rateBps/10000) and
// landlord receives the remainder; the two always sum to amount. The product
// is computed at arbitrary precision so large amounts cannot overflow.
//
// Rates above MaxRateBps are rejected by agreement validation before reaching
// this function.
func Split(amount int64, rateBps uint32) (landlord, agent int64) {
	if rateBps == 0 || amount == 0 {
		return amount, 0
	}
	product := new(big.Int).Mul(big.NewInt(amount), big.NewInt(int64(rateBps)))
	// Div is Euclidean, which floors for a positive divisor.
	agent = product.Div(product, bpsDenominator).Int64()
	return amount - agent, agent
}

// Prorate returns floor(share*part/whole), the slice of share that part of
// whole accounts for. It returns 0 when whole is not positive.
func Prorate(share, part, whole int64) int64 {
	if whole <= 0 || share == 0 || part == 0 {
		return 0
	}
	product := new(big.Int).Mul(big.NewInt(share), big.NewInt(part))
	return product.Div(product, big.NewInt(whole)).Int64()
}

// Percent renders a basis-point rate as a percentage, e.g. 250 -> 2.5.
func Percent(rateBps uint32) decimal.Decimal {
	return decimal.New(int64(rateBps), -2)
}

// ValidRate reports whether rateBps lies in [0, MaxRateBps].
func ValidRate(rateBps uint32) bool {
	return rateBps <= MaxRateBps
}
