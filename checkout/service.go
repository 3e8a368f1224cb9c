package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"storepay/crypto"
	"storepay/ledger"
	"storepay/observability/metrics"
)

// Confirmation messages chosen from the discount outcome.
const (
	MessageDiscount = "50% Discount! 🍪"
	MessageStandard = "Thanks for your order! 🍪"
)

// Recorder is the persistence side channel invoked after a successful build.
// Recording failures never fail the build; the hook sits outside the core's
// correctness surface.
type Recorder interface {
	Record(ctx context.Context, reference crypto.PublicKey, amountUnits uint64) error
}

// Config wires a Service. Loaded once at process start and treated as
// read-only for the process lifetime; the merchant key is never looked up
// ad hoc mid-request.
type Config struct {
	Ledger       ledger.Client
	Catalog      Catalog
	MerchantKey  *crypto.PrivateKey
	PaymentAsset crypto.PublicKey
	LoyaltyAsset crypto.PublicKey
	Recorder     Recorder
	CallTimeout  time.Duration
	Logger       *slog.Logger
}

// Service builds partially signed purchase transactions. Requests are
// independent and stateless; the service holds no mutable state beyond
// configuration.
type Service struct {
	ledger       ledger.Client
	resolver     *Resolver
	catalog      Catalog
	merchantKey  *crypto.PrivateKey
	paymentAsset crypto.PublicKey
	loyaltyAsset crypto.PublicKey
	recorder     Recorder
	callTimeout  time.Duration
	log          *slog.Logger
}

// NewService constructs the checkout pipeline. A missing merchant key is not
// fatal here: every construction attempt fails with ErrServerMisconfigured
// until the key is supplied.
func NewService(cfg Config) *Service {
	if cfg.Ledger == nil {
		panic("ledger client required")
	}
	if cfg.PaymentAsset.IsZero() || cfg.LoyaltyAsset.IsZero() {
		panic("payment and loyalty assets required")
	}
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ledger:       cfg.Ledger,
		resolver:     NewResolver(cfg.Ledger),
		catalog:      catalog,
		merchantKey:  cfg.MerchantKey,
		paymentAsset: cfg.PaymentAsset,
		loyaltyAsset: cfg.LoyaltyAsset,
		recorder:     cfg.Recorder,
		callTimeout:  timeout,
		log:          logger,
	}
}

// Request is one purchase-construction attempt. Buyer and Reference are
// base58 public keys supplied by the caller; the reference is a single-use
// tracking key, unique per attempt.
type Request struct {
	Buyer     string
	Reference string
	Cart      map[string]int64
}

// Result is the successful output: the base64 transaction payload awaiting
// the buyer's signature, and the confirmation message.
type Result struct {
	Transaction string
	Message     string
	Discounted  bool
	AmountUnits uint64
}

// BuildPurchase runs the full pipeline: price, resolve, discount, build,
// merchant co-sign, serialize, record. Input validation happens before any
// ledger interaction; the pipeline short-circuits on first failure.
func (s *Service) BuildPurchase(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	result, err := s.buildPurchase(ctx, req)
	if err != nil {
		metrics.Checkout().IncFailure(failureReason(err))
		return nil, err
	}
	outcome := "standard"
	if result.Discounted {
		outcome = "discount"
	}
	metrics.Checkout().ObserveBuild(outcome, time.Since(started).Seconds())
	return result, nil
}

func (s *Service) buildPurchase(ctx context.Context, req Request) (*Result, error) {
	price, err := s.catalog.Price(req.Cart)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Reference) == "" {
		return nil, fmt.Errorf("%w: no reference provided", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Buyer) == "" {
		return nil, fmt.Errorf("%w: no account provided", ErrInvalidRequest)
	}
	reference, err := crypto.DecodePublicKey(req.Reference)
	if err != nil {
		return nil, fmt.Errorf("%w: reference: %v", ErrInvalidRequest, err)
	}
	buyer, err := crypto.DecodePublicKey(req.Buyer)
	if err != nil {
		return nil, fmt.Errorf("%w: account: %v", ErrInvalidRequest, err)
	}
	if s.merchantKey == nil {
		return nil, fmt.Errorf("%w: merchant signing key not available", ErrServerMisconfigured)
	}
	merchant := s.merchantKey.PubKey()

	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	// Account resolution and the marker fetch are independent ledger calls;
	// both must complete before the build.
	var (
		accounts *Accounts
		marker   ledger.StateMarker
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		accounts, err = s.resolver.Resolve(gctx, buyer, merchant, s.paymentAsset, s.loyaltyAsset)
		return err
	})
	g.Go(func() error {
		m, err := s.ledger.LatestMarker(gctx)
		if err != nil {
			return classifyLedgerError("latest marker", err)
		}
		marker = m
		return nil
	})
	if err := g.Wait(); err != nil {
		s.log.Error("checkout ledger stage failed", "error", err, "buyer", req.Buyer)
		return nil, err
	}

	outcome := EvaluateDiscount(accounts.BuyerLoyaltyBalance)

	tx, err := BuildTransaction(BuildParams{
		Price:        price,
		Outcome:      outcome,
		Accounts:     accounts,
		Buyer:        buyer,
		Merchant:     merchant,
		PaymentAsset: s.paymentAsset,
		LoyaltyAsset: s.loyaltyAsset,
		Reference:    reference,
		Marker:       marker,
	})
	if err != nil {
		return nil, err
	}

	// Merchant co-sign. The buyer's signature is applied outside this
	// system by their own wallet.
	if err := tx.Sign(s.merchantKey); err != nil {
		return nil, fmt.Errorf("merchant co-sign: %w", err)
	}

	encoded, err := tx.EncodeBase64()
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}

	amount := tx.Instructions[0].Amount
	if s.recorder != nil {
		if err := s.recorder.Record(ctx, reference, amount); err != nil {
			s.log.Error("order record failed", "error", err, "reference", reference.String())
		}
	}

	message := MessageStandard
	if outcome.Eligible() {
		message = MessageDiscount
	}
	s.log.Info("purchase transaction built",
		"reference", reference.String(),
		"amount_units", amount,
		"discount", outcome.Eligible(),
	)
	return &Result{
		Transaction: encoded,
		Message:     message,
		Discounted:  outcome.Eligible(),
		AmountUnits: amount,
	}, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrInvalidAsset):
		return "invalid_asset"
	case errors.Is(err, ErrLedgerUnavailable):
		return "ledger_unavailable"
	case errors.Is(err, ErrServerMisconfigured):
		return "misconfigured"
	default:
		return "internal"
	}
}
