package checkout

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"storepay/crypto"
	"storepay/ledger"
)

// stubLedger is a hand-rolled test double with call counters so tests can
// assert that invalid requests never reach the ledger.
type stubLedger struct {
	loyaltyBalance uint64
	loyaltyExists  bool
	decimals       uint8

	assetErr  error
	getErr    error
	createErr error
	markerErr error

	getCalls    int
	createCalls int
	assetCalls  int
	markerCalls int

	createdOwner    crypto.PublicKey
	createdAsset    crypto.PublicKey
	createdFeePayer crypto.PublicKey
}

func (s *stubLedger) calls() int {
	return s.getCalls + s.createCalls + s.assetCalls + s.markerCalls
}

func (s *stubLedger) GetTokenAccount(ctx context.Context, address crypto.PublicKey) (*ledger.TokenAccount, error) {
	s.getCalls++
	if s.getErr != nil {
		return nil, s.getErr
	}
	if !s.loyaltyExists {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, address)
	}
	return &ledger.TokenAccount{Address: address, Balance: s.loyaltyBalance}, nil
}

func (s *stubLedger) CreateTokenAccount(ctx context.Context, owner, asset, feePayer crypto.PublicKey) (*ledger.TokenAccount, error) {
	s.createCalls++
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.createdOwner = owner
	s.createdAsset = asset
	s.createdFeePayer = feePayer
	return &ledger.TokenAccount{
		Address: ledger.HoldingAddress(owner, asset),
		Owner:   owner,
		Asset:   asset,
		Balance: 0,
	}, nil
}

func (s *stubLedger) GetAssetInfo(ctx context.Context, asset crypto.PublicKey) (*ledger.AssetInfo, error) {
	s.assetCalls++
	if s.assetErr != nil {
		return nil, s.assetErr
	}
	return &ledger.AssetInfo{Address: asset, Decimals: s.decimals}, nil
}

func (s *stubLedger) LatestMarker(ctx context.Context) (ledger.StateMarker, error) {
	s.markerCalls++
	if s.markerErr != nil {
		return ledger.StateMarker{}, s.markerErr
	}
	return ledger.StateMarker{7, 7, 7}, nil
}

type stubRecorder struct {
	calls      int
	references []crypto.PublicKey
	amounts    []uint64
	err        error
}

func (r *stubRecorder) Record(ctx context.Context, reference crypto.PublicKey, amount uint64) error {
	r.calls++
	r.references = append(r.references, reference)
	r.amounts = append(r.amounts, amount)
	return r.err
}

type serviceFixture struct {
	svc       *Service
	stub      *stubLedger
	recorder  *stubRecorder
	merchant  *crypto.PrivateKey
	buyer     *crypto.PrivateKey
	reference crypto.PublicKey
}

func newServiceFixture(t *testing.T, stub *stubLedger) *serviceFixture {
	t.Helper()
	merchant, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate merchant key: %v", err)
	}
	buyer, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate buyer key: %v", err)
	}
	refKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate reference key: %v", err)
	}
	paymentAsset, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate payment asset: %v", err)
	}
	loyaltyAsset, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate loyalty asset: %v", err)
	}
	recorder := &stubRecorder{}
	svc := NewService(Config{
		Ledger:       stub,
		MerchantKey:  merchant,
		PaymentAsset: paymentAsset.PubKey(),
		LoyaltyAsset: loyaltyAsset.PubKey(),
		Recorder:     recorder,
	})
	return &serviceFixture{
		svc:       svc,
		stub:      stub,
		recorder:  recorder,
		merchant:  merchant,
		buyer:     buyer,
		reference: refKey.PubKey(),
	}
}

func (f *serviceFixture) request(cart map[string]int64) Request {
	return Request{
		Buyer:     f.buyer.PubKey().String(),
		Reference: f.reference.String(),
		Cart:      cart,
	}
}

func tenDollarCart() map[string]int64 {
	return map[string]int64{"basket-of-cookies": 1}
}

func TestBuildPurchaseStandardScenario(t *testing.T) {
	stub := &stubLedger{loyaltyExists: true, loyaltyBalance: 0, decimals: 2}
	f := newServiceFixture(t, stub)

	result, err := f.svc.BuildPurchase(context.Background(), f.request(tenDollarCart()))
	if err != nil {
		t.Fatalf("build purchase: %v", err)
	}
	if result.AmountUnits != 1000 {
		t.Fatalf("amount = %d, want 1000", result.AmountUnits)
	}
	if result.Discounted {
		t.Fatalf("balance 0 must not be discounted")
	}
	if result.Message != MessageStandard {
		t.Fatalf("message = %q, want standard variant", result.Message)
	}

	tx, partial, err := ledger.DecodeBase64(result.Transaction)
	if err != nil {
		t.Fatalf("decode transaction: %v", err)
	}
	if !partial {
		t.Fatalf("payload must be flagged as partially authorized")
	}
	if len(tx.Signatures) != 1 {
		t.Fatalf("signatures = %d, want exactly the merchant's", len(tx.Signatures))
	}
	if !tx.Signatures[0].Signer.Equal(f.merchant.PubKey()) {
		t.Fatalf("signer is not the merchant")
	}
	if tx.FullySigned() {
		t.Fatalf("transaction must still require the buyer's signature")
	}
	if err := tx.VerifySignatures(); err != nil {
		t.Fatalf("merchant signature invalid: %v", err)
	}
	loyalty := tx.Instructions[1]
	if !loyalty.Owner.Equal(f.merchant.PubKey()) {
		t.Fatalf("standard purchase must reward merchant to buyer")
	}
	if loyalty.Amount != RewardAmount {
		t.Fatalf("loyalty amount = %d, want %d", loyalty.Amount, RewardAmount)
	}
}

func TestBuildPurchaseDiscountScenario(t *testing.T) {
	stub := &stubLedger{loyaltyExists: true, loyaltyBalance: 7, decimals: 2}
	f := newServiceFixture(t, stub)

	result, err := f.svc.BuildPurchase(context.Background(), f.request(tenDollarCart()))
	if err != nil {
		t.Fatalf("build purchase: %v", err)
	}
	if result.AmountUnits != 500 {
		t.Fatalf("amount = %d, want 500", result.AmountUnits)
	}
	if !result.Discounted {
		t.Fatalf("balance 7 must be discounted")
	}
	if result.Message != MessageDiscount {
		t.Fatalf("message = %q, want discount variant", result.Message)
	}

	tx, _, err := ledger.DecodeBase64(result.Transaction)
	if err != nil {
		t.Fatalf("decode transaction: %v", err)
	}
	loyalty := tx.Instructions[1]
	if !loyalty.Owner.Equal(f.buyer.PubKey()) {
		t.Fatalf("discounted purchase must redeem buyer to merchant")
	}
	if loyalty.Amount != RedeemAmount {
		t.Fatalf("loyalty amount = %d, want %d", loyalty.Amount, RedeemAmount)
	}
}

func TestBuildPurchaseProvisionsLoyaltyAccount(t *testing.T) {
	stub := &stubLedger{loyaltyExists: false, decimals: 2}
	f := newServiceFixture(t, stub)

	result, err := f.svc.BuildPurchase(context.Background(), f.request(tenDollarCart()))
	if err != nil {
		t.Fatalf("build purchase: %v", err)
	}
	if stub.createCalls != 1 {
		t.Fatalf("create calls = %d, want 1", stub.createCalls)
	}
	if !stub.createdFeePayer.Equal(f.merchant.PubKey()) {
		t.Fatalf("account creation must be charged to the merchant")
	}
	if !stub.createdOwner.Equal(f.buyer.PubKey()) {
		t.Fatalf("created account must belong to the buyer")
	}
	if result.Discounted {
		t.Fatalf("fresh account has balance 0, no discount")
	}
}

func TestBuildPurchaseZeroCartNoLedgerCalls(t *testing.T) {
	stub := &stubLedger{loyaltyExists: true, decimals: 2}
	f := newServiceFixture(t, stub)

	_, err := f.svc.BuildPurchase(context.Background(), f.request(map[string]int64{"box-of-cookies": 0}))
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	if stub.calls() != 0 {
		t.Fatalf("ledger calls = %d, want 0", stub.calls())
	}
}

func TestBuildPurchaseMissingReferenceNoLedgerCalls(t *testing.T) {
	stub := &stubLedger{loyaltyExists: true, decimals: 2}
	f := newServiceFixture(t, stub)

	req := f.request(tenDollarCart())
	req.Reference = ""
	_, err := f.svc.BuildPurchase(context.Background(), req)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	if stub.calls() != 0 {
		t.Fatalf("ledger calls = %d, want 0", stub.calls())
	}
}

func TestBuildPurchaseMissingBuyerNoLedgerCalls(t *testing.T) {
	stub := &stubLedger{loyaltyExists: true, decimals: 2}
	f := newServiceFixture(t, stub)

	req := f.request(tenDollarCart())
	req.Buyer = ""
	_, err := f.svc.BuildPurchase(context.Background(), req)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	if stub.calls() != 0 {
		t.Fatalf("ledger calls = %d, want 0", stub.calls())
	}
}

func TestBuildPurchaseMissingMerchantKey(t *testing.T) {
	stub := &stubLedger{loyaltyExists: true, decimals: 2}
	f := newServiceFixture(t, stub)
	f.svc.merchantKey = nil

	_, err := f.svc.BuildPurchase(context.Background(), f.request(tenDollarCart()))
	if !errors.Is(err, ErrServerMisconfigured) {
		t.Fatalf("err = %v, want ErrServerMisconfigured", err)
	}
	if stub.calls() != 0 {
		t.Fatalf("ledger calls = %d, want 0", stub.calls())
	}
}

func TestBuildPurchaseLedgerFailures(t *testing.T) {
	t.Run("unknown asset", func(t *testing.T) {
		stub := &stubLedger{loyaltyExists: true, decimals: 2, assetErr: ledger.ErrUnknownAsset}
		f := newServiceFixture(t, stub)
		_, err := f.svc.BuildPurchase(context.Background(), f.request(tenDollarCart()))
		if !errors.Is(err, ErrInvalidAsset) {
			t.Fatalf("err = %v, want ErrInvalidAsset", err)
		}
	})
	t.Run("marker unavailable", func(t *testing.T) {
		stub := &stubLedger{loyaltyExists: true, decimals: 2, markerErr: ledger.ErrUnavailable}
		f := newServiceFixture(t, stub)
		_, err := f.svc.BuildPurchase(context.Background(), f.request(tenDollarCart()))
		if !errors.Is(err, ErrLedgerUnavailable) {
			t.Fatalf("err = %v, want ErrLedgerUnavailable", err)
		}
	})
	t.Run("create fails", func(t *testing.T) {
		stub := &stubLedger{loyaltyExists: false, decimals: 2, createErr: ledger.ErrUnavailable}
		f := newServiceFixture(t, stub)
		_, err := f.svc.BuildPurchase(context.Background(), f.request(tenDollarCart()))
		if !errors.Is(err, ErrLedgerUnavailable) {
			t.Fatalf("err = %v, want ErrLedgerUnavailable", err)
		}
	})
}

func TestBuildPurchaseRecordsOrder(t *testing.T) {
	stub := &stubLedger{loyaltyExists: true, loyaltyBalance: 7, decimals: 2}
	f := newServiceFixture(t, stub)

	if _, err := f.svc.BuildPurchase(context.Background(), f.request(tenDollarCart())); err != nil {
		t.Fatalf("build purchase: %v", err)
	}
	if f.recorder.calls != 1 {
		t.Fatalf("recorder calls = %d, want 1", f.recorder.calls)
	}
	if !f.recorder.references[0].Equal(f.reference) {
		t.Fatalf("recorded reference mismatch")
	}
	if f.recorder.amounts[0] != 500 {
		t.Fatalf("recorded amount = %d, want 500", f.recorder.amounts[0])
	}
}

func TestBuildPurchaseRecorderFailureIsNotFatal(t *testing.T) {
	stub := &stubLedger{loyaltyExists: true, decimals: 2}
	f := newServiceFixture(t, stub)
	f.recorder.err = errors.New("disk full")

	if _, err := f.svc.BuildPurchase(context.Background(), f.request(tenDollarCart())); err != nil {
		t.Fatalf("recorder failure must not fail the build: %v", err)
	}
}
