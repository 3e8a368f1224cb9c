package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
)

// PublicKeySize is the length in bytes of a ledger public key.
const PublicKeySize = ed25519.PublicKeySize

// PublicKey identifies a participant or an asset class on the ledger.
// Keys are opaque 32-byte ed25519 points, rendered as base58 strings.
type PublicKey struct {
	bytes []byte
}

// NewPublicKey wraps raw key bytes.
func NewPublicKey(b []byte) (PublicKey, error) {
	if len(b) != PublicKeySize {
		return PublicKey{}, fmt.Errorf("public key must be %d bytes, got %d", PublicKeySize, len(b))
	}
	cp := make([]byte, PublicKeySize)
	copy(cp, b)
	return PublicKey{bytes: cp}, nil
}

// DecodePublicKey parses the base58 string form of a key.
func DecodePublicKey(s string) (PublicKey, error) {
	decoded := base58.Decode(s)
	if len(decoded) == 0 {
		return PublicKey{}, fmt.Errorf("invalid base58 string %q", s)
	}
	key, err := NewPublicKey(decoded)
	if err != nil {
		return PublicKey{}, fmt.Errorf("invalid public key %q: %w", s, err)
	}
	return key, nil
}

func (k PublicKey) String() string {
	return base58.Encode(k.bytes)
}

func (k PublicKey) Bytes() []byte {
	return k.bytes
}

// IsZero reports whether the key is the unset zero value.
func (k PublicKey) IsZero() bool {
	return len(k.bytes) == 0
}

// Equal reports whether two keys carry the same bytes.
func (k PublicKey) Equal(other PublicKey) bool {
	return bytes.Equal(k.bytes, other.bytes)
}

// Verify checks sig over msg against the key.
func (k PublicKey) Verify(msg, sig []byte) bool {
	if len(k.bytes) != PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(k.bytes), msg, sig)
}

// --- Key Management ---

// PrivateKey holds signing material for a ledger participant.
type PrivateKey struct {
	key ed25519.PrivateKey
}

// GeneratePrivateKey creates a fresh keypair.
func GeneratePrivateKey() (*PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes restores a key from its 64-byte expanded form or its
// 32-byte seed.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	switch len(b) {
	case ed25519.PrivateKeySize:
		cp := make([]byte, ed25519.PrivateKeySize)
		copy(cp, b)
		return &PrivateKey{key: ed25519.PrivateKey(cp)}, nil
	case ed25519.SeedSize:
		return &PrivateKey{key: ed25519.NewKeyFromSeed(b)}, nil
	default:
		return nil, fmt.Errorf("private key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(b))
	}
}

// DecodePrivateKey parses base58-encoded key material.
func DecodePrivateKey(s string) (*PrivateKey, error) {
	decoded := base58.Decode(s)
	if len(decoded) == 0 {
		return nil, fmt.Errorf("invalid base58 private key")
	}
	return PrivateKeyFromBytes(decoded)
}

// Bytes returns the expanded 64-byte representation.
func (k *PrivateKey) Bytes() []byte {
	return k.key
}

func (k *PrivateKey) PubKey() PublicKey {
	pub := k.key.Public().(ed25519.PublicKey)
	key, _ := NewPublicKey(pub)
	return key
}

// Sign produces an ed25519 signature over msg.
func (k *PrivateKey) Sign(msg []byte) []byte {
	return ed25519.Sign(k.key, msg)
}
