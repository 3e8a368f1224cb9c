package checkout

import (
	"context"
	"errors"
	"fmt"

	"storepay/crypto"
	"storepay/ledger"
)

// Accounts holds the four resolved holding accounts for a purchase, plus the
// state the later stages need: the buyer's loyalty balance and the payment
// asset's precision.
type Accounts struct {
	BuyerPayment    crypto.PublicKey
	MerchantPayment crypto.PublicKey
	BuyerLoyalty    crypto.PublicKey
	MerchantLoyalty crypto.PublicKey

	BuyerLoyaltyBalance uint64
	PaymentDecimals     uint8
}

// Resolver locates or provisions holding accounts through the ledger.
type Resolver struct {
	ledger ledger.Client
}

// NewResolver constructs a resolver over the given ledger client.
func NewResolver(client ledger.Client) *Resolver {
	if client == nil {
		panic("ledger client required")
	}
	return &Resolver{ledger: client}
}

// Resolve derives the four holding-account addresses and fetches the state
// the pipeline needs. The buyer's loyalty account is created when absent,
// with the creation cost charged to the merchant; merchant-side accounts are
// assumed pre-existing and only derived. Any ledger failure aborts the whole
// resolution.
func (r *Resolver) Resolve(ctx context.Context, buyer, merchant, paymentAsset, loyaltyAsset crypto.PublicKey) (*Accounts, error) {
	accounts := &Accounts{
		BuyerPayment:    ledger.HoldingAddress(buyer, paymentAsset),
		MerchantPayment: ledger.HoldingAddress(merchant, paymentAsset),
		BuyerLoyalty:    ledger.HoldingAddress(buyer, loyaltyAsset),
		MerchantLoyalty: ledger.HoldingAddress(merchant, loyaltyAsset),
	}

	info, err := r.ledger.GetAssetInfo(ctx, paymentAsset)
	if err != nil {
		return nil, classifyLedgerError("payment asset info", err)
	}
	accounts.PaymentDecimals = info.Decimals

	loyaltyAccount, err := r.ledger.GetTokenAccount(ctx, accounts.BuyerLoyalty)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrAccountNotFound):
		loyaltyAccount, err = r.ledger.CreateTokenAccount(ctx, buyer, loyaltyAsset, merchant)
		if err != nil {
			return nil, classifyLedgerError("create buyer loyalty account", err)
		}
	default:
		return nil, classifyLedgerError("buyer loyalty account", err)
	}
	accounts.BuyerLoyaltyBalance = loyaltyAccount.Balance

	return accounts, nil
}

func classifyLedgerError(op string, err error) error {
	if errors.Is(err, ledger.ErrUnknownAsset) {
		return fmt.Errorf("%w: %s: %v", ErrInvalidAsset, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrLedgerUnavailable, op, err)
}
