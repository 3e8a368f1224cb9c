package ledger

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcutil/base58"

	"storepay/crypto"
)

// MarkerSize is the length in bytes of a ledger state marker.
const MarkerSize = 32

// StateMarker binds a transaction to a recent ledger state. Markers are
// short-lived; a transaction built against a stale marker fails validation
// downstream and must be rebuilt by the caller.
type StateMarker [MarkerSize]byte

// DecodeStateMarker parses the base58 form of a marker.
func DecodeStateMarker(s string) (StateMarker, error) {
	var marker StateMarker
	decoded := base58.Decode(s)
	if len(decoded) != MarkerSize {
		return marker, fmt.Errorf("state marker must be %d bytes, got %d", MarkerSize, len(decoded))
	}
	copy(marker[:], decoded)
	return marker, nil
}

func (m StateMarker) String() string {
	return base58.Encode(m[:])
}

// IsZero reports whether the marker is unset.
func (m StateMarker) IsZero() bool {
	return m == StateMarker{}
}

// AccountMeta is an extra key attached to an instruction, with flags for
// whether the key must sign and whether the account it names is mutated.
type AccountMeta struct {
	Key        crypto.PublicKey
	IsSigner   bool
	IsWritable bool
}

// Instruction moves Amount smallest units of Asset from Source to
// Destination, authorized by Owner. Keys carries additional reference keys
// attached for external indexing; they never affect settlement.
type Instruction struct {
	Asset       crypto.PublicKey
	Source      crypto.PublicKey
	Destination crypto.PublicKey
	Owner       crypto.PublicKey
	Amount      uint64
	Decimals    uint8
	Keys        []AccountMeta
}

// TokenAccount is a per-(owner, asset) holding account on the ledger.
type TokenAccount struct {
	Address crypto.PublicKey
	Owner   crypto.PublicKey
	Asset   crypto.PublicKey
	Balance uint64
}

// AssetInfo describes an asset class.
type AssetInfo struct {
	Address  crypto.PublicKey
	Decimals uint8
}

const holdingSeed = "storepay/holding/v1"

// HoldingAddress derives the deterministic holding-account address for an
// (owner, asset) pair. Derivation is offline; only existence and balance
// require a ledger call.
func HoldingAddress(owner, asset crypto.PublicKey) crypto.PublicKey {
	h := sha256.New()
	h.Write([]byte(holdingSeed))
	h.Write(owner.Bytes())
	h.Write(asset.Bytes())
	key, err := crypto.NewPublicKey(h.Sum(nil))
	if err != nil {
		panic(err)
	}
	return key
}
