package checkout

import "errors"

// Error taxonomy for the purchase-construction pipeline. The pipeline is
// strictly sequential and short-circuits on the first failure; no partially
// built transaction is ever returned.
var (
	// ErrInvalidRequest covers caller mistakes: zero-value carts, unknown
	// items, missing buyer or reference identities. Recoverable by the
	// caller correcting input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidAsset indicates a configured asset identity the ledger does
	// not recognize.
	ErrInvalidAsset = errors.New("invalid asset")
	// ErrLedgerUnavailable indicates the ledger could not be reached or a
	// call timed out. Retries are the caller's responsibility.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	// ErrServerMisconfigured indicates missing merchant signing material.
	// Surfaced to clients as a generic server error, never with detail.
	ErrServerMisconfigured = errors.New("server misconfigured")
)
