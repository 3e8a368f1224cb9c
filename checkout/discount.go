package checkout

import "math/big"

// Loyalty policy constants. Loyalty units are indivisible (zero decimals).
const (
	// LoyaltyThreshold is the balance at which a buyer becomes eligible for
	// the discount. A balance exactly at the threshold is eligible.
	LoyaltyThreshold uint64 = 5
	// RedeemAmount is spent buyer to merchant when the discount applies.
	RedeemAmount uint64 = 5
	// RewardAmount is granted merchant to buyer on a full-price purchase.
	RewardAmount uint64 = 1
	// LoyaltyDecimals is the loyalty asset's precision.
	LoyaltyDecimals uint8 = 0
)

// LoyaltyFlow is the direction of the loyalty-asset movement.
type LoyaltyFlow uint8

const (
	// FlowRedeem moves loyalty units from the buyer to the merchant.
	FlowRedeem LoyaltyFlow = iota + 1
	// FlowReward moves loyalty units from the merchant to the buyer.
	FlowReward
)

// DiscountOutcome is the tagged result of the discount policy. Each variant
// fixes its own loyalty direction, loyalty amount, and payment multiplier;
// the transaction builder consumes it exhaustively.
type DiscountOutcome struct {
	Flow          LoyaltyFlow
	LoyaltyAmount uint64
	multiplier    *big.Rat
}

// EvaluateDiscount decides the outcome from the buyer's loyalty balance.
// Pure and deterministic; no I/O.
func EvaluateDiscount(balance uint64) DiscountOutcome {
	if balance >= LoyaltyThreshold {
		return DiscountOutcome{
			Flow:          FlowRedeem,
			LoyaltyAmount: RedeemAmount,
			multiplier:    big.NewRat(1, 2),
		}
	}
	return DiscountOutcome{
		Flow:          FlowReward,
		LoyaltyAmount: RewardAmount,
		multiplier:    big.NewRat(1, 1),
	}
}

// Eligible reports whether the discount applies.
func (o DiscountOutcome) Eligible() bool {
	return o.Flow == FlowRedeem
}

// Apply scales the price by the outcome's payment multiplier. The zero
// value carries no multiplier and leaves the price unchanged.
func (o DiscountOutcome) Apply(price *big.Rat) *big.Rat {
	if o.multiplier == nil {
		return new(big.Rat).Set(price)
	}
	return new(big.Rat).Mul(price, o.multiplier)
}
