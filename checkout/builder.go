package checkout

import (
	"fmt"
	"math/big"

	"storepay/crypto"
	"storepay/ledger"
)

// BuildParams carries everything the transaction builder consumes. All
// fields are required.
type BuildParams struct {
	Price        *big.Rat
	Outcome      DiscountOutcome
	Accounts     *Accounts
	Buyer        crypto.PublicKey
	Merchant     crypto.PublicKey
	PaymentAsset crypto.PublicKey
	LoyaltyAsset crypto.PublicKey
	Reference    crypto.PublicKey
	Marker       ledger.StateMarker
}

// BuildTransaction assembles the two-instruction purchase transaction:
// the payment transfer first, the loyalty transfer second. The build is
// all-or-nothing; no partial transaction is ever returned.
//
// The payment instruction carries the reference identity as a non-signing,
// non-writable extra key so an external watcher can locate the transaction
// later. The loyalty instruction always names the merchant as a required
// signer, in both directions: when the buyer spends loyalty units the
// merchant is otherwise not a party to that instruction.
func BuildTransaction(p BuildParams) (*ledger.Transaction, error) {
	if p.Price == nil || p.Price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive price", ErrInvalidRequest)
	}
	if p.Accounts == nil {
		return nil, fmt.Errorf("accounts required")
	}
	if p.Reference.IsZero() {
		return nil, fmt.Errorf("%w: no reference provided", ErrInvalidRequest)
	}

	amount, err := smallestUnits(p.Outcome.Apply(p.Price), p.Accounts.PaymentDecimals)
	if err != nil {
		return nil, err
	}

	payment := ledger.Instruction{
		Asset:       p.PaymentAsset,
		Source:      p.Accounts.BuyerPayment,
		Destination: p.Accounts.MerchantPayment,
		Owner:       p.Buyer,
		Amount:      amount,
		Decimals:    p.Accounts.PaymentDecimals,
		Keys: []ledger.AccountMeta{
			{Key: p.Reference, IsSigner: false, IsWritable: false},
		},
	}

	loyalty := ledger.Instruction{
		Asset:    p.LoyaltyAsset,
		Amount:   p.Outcome.LoyaltyAmount,
		Decimals: LoyaltyDecimals,
	}
	switch p.Outcome.Flow {
	case FlowRedeem:
		loyalty.Source = p.Accounts.BuyerLoyalty
		loyalty.Destination = p.Accounts.MerchantLoyalty
		loyalty.Owner = p.Buyer
	case FlowReward:
		loyalty.Source = p.Accounts.MerchantLoyalty
		loyalty.Destination = p.Accounts.BuyerLoyalty
		loyalty.Owner = p.Merchant
	default:
		return nil, fmt.Errorf("unhandled loyalty flow %d", p.Outcome.Flow)
	}
	loyalty.Keys = append(loyalty.Keys, ledger.AccountMeta{
		Key:        p.Merchant,
		IsSigner:   true,
		IsWritable: false,
	})

	// The buyer pays the network fee for their own purchase.
	return ledger.NewTransaction(p.Buyer, p.Marker, payment, loyalty)
}

// smallestUnits scales a price to the asset's smallest unit. Fractional
// smallest units are truncated, never rounded up; the truncation is exact
// integer arithmetic on the rational, so float drift cannot occur.
func smallestUnits(price *big.Rat, decimals uint8) (uint64, error) {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Rat).Mul(price, new(big.Rat).SetInt(scale))
	units := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if units.Sign() <= 0 {
		return 0, fmt.Errorf("%w: amount truncates to zero at %d decimals", ErrInvalidRequest, decimals)
	}
	if !units.IsUint64() {
		return 0, fmt.Errorf("%w: amount overflows smallest units", ErrInvalidRequest)
	}
	return units.Uint64(), nil
}
