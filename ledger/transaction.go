package ledger

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"storepay/crypto"
)

// ErrNotRequiredSigner is returned when a key that the transaction does not
// name attempts to sign it.
var ErrNotRequiredSigner = errors.New("signer is not required by transaction")

// Signature is one partial authorization over the transaction message.
type Signature struct {
	Signer    crypto.PublicKey
	Signature []byte
}

// Transaction is an ordered sequence of instructions applied atomically by
// the ledger. It stays unsubmittable until every required signer has signed;
// this package never enforces completeness, callers serialize partially
// signed transactions on purpose.
type Transaction struct {
	Instructions []Instruction
	FeePayer     crypto.PublicKey
	Marker       StateMarker
	Signatures   []Signature
}

// NewTransaction assembles a transaction over the given instructions.
func NewTransaction(feePayer crypto.PublicKey, marker StateMarker, instructions ...Instruction) (*Transaction, error) {
	if feePayer.IsZero() {
		return nil, errors.New("fee payer required")
	}
	if marker.IsZero() {
		return nil, errors.New("state marker required")
	}
	if len(instructions) == 0 {
		return nil, errors.New("at least one instruction required")
	}
	return &Transaction{
		Instructions: instructions,
		FeePayer:     feePayer,
		Marker:       marker,
	}, nil
}

// RequiredSigners lists every key that must authorize the transaction: the
// fee payer, each instruction owner, and each extra key flagged as a signer.
// Order is deterministic (fee payer first, then appearance order) and the
// list is deduplicated.
func (tx *Transaction) RequiredSigners() []crypto.PublicKey {
	signers := make([]crypto.PublicKey, 0, 1+len(tx.Instructions))
	seen := func(key crypto.PublicKey) bool {
		for _, s := range signers {
			if s.Equal(key) {
				return true
			}
		}
		return false
	}
	add := func(key crypto.PublicKey) {
		if !key.IsZero() && !seen(key) {
			signers = append(signers, key)
		}
	}
	add(tx.FeePayer)
	for _, ins := range tx.Instructions {
		add(ins.Owner)
		for _, meta := range ins.Keys {
			if meta.IsSigner {
				add(meta.Key)
			}
		}
	}
	return signers
}

// MessageBytes returns the canonical byte encoding that signatures cover.
func (tx *Transaction) MessageBytes() ([]byte, error) {
	return rlp.EncodeToBytes(messageToWire(tx))
}

// Sign applies one partial authorization. The key must be a required signer;
// signing twice with the same key replaces the earlier signature.
func (tx *Transaction) Sign(key *crypto.PrivateKey) error {
	if key == nil {
		return errors.New("nil private key")
	}
	pub := key.PubKey()
	required := false
	for _, signer := range tx.RequiredSigners() {
		if signer.Equal(pub) {
			required = true
			break
		}
	}
	if !required {
		return fmt.Errorf("%w: %s", ErrNotRequiredSigner, pub)
	}
	msg, err := tx.MessageBytes()
	if err != nil {
		return err
	}
	sig := Signature{Signer: pub, Signature: key.Sign(msg)}
	for i := range tx.Signatures {
		if tx.Signatures[i].Signer.Equal(pub) {
			tx.Signatures[i] = sig
			return nil
		}
	}
	tx.Signatures = append(tx.Signatures, sig)
	return nil
}

// SignedBy reports whether the key has already authorized the transaction.
func (tx *Transaction) SignedBy(key crypto.PublicKey) bool {
	for _, sig := range tx.Signatures {
		if sig.Signer.Equal(key) {
			return true
		}
	}
	return false
}

// FullySigned reports whether every required signer has authorized.
func (tx *Transaction) FullySigned() bool {
	for _, signer := range tx.RequiredSigners() {
		if !tx.SignedBy(signer) {
			return false
		}
	}
	return true
}

// VerifySignatures checks every collected signature against the message.
func (tx *Transaction) VerifySignatures() error {
	msg, err := tx.MessageBytes()
	if err != nil {
		return err
	}
	for _, sig := range tx.Signatures {
		if !sig.Signer.Verify(msg, sig.Signature) {
			return fmt.Errorf("invalid signature from %s", sig.Signer)
		}
	}
	return nil
}

// --- wire encoding ---

// The wire envelope flattens keys to raw bytes for RLP and carries an
// explicit Partial flag so downstream consumers know a further signing step
// is required before submission.

type wireMeta struct {
	Key        []byte
	IsSigner   bool
	IsWritable bool
}

type wireInstruction struct {
	Asset       []byte
	Source      []byte
	Destination []byte
	Owner       []byte
	Amount      uint64
	Decimals    uint8
	Keys        []wireMeta
}

type wireMessage struct {
	FeePayer     []byte
	Marker       []byte
	Instructions []wireInstruction
}

type wireSignature struct {
	Signer    []byte
	Signature []byte
}

type wireEnvelope struct {
	Message    wireMessage
	Signatures []wireSignature
	Partial    bool
}

func messageToWire(tx *Transaction) wireMessage {
	msg := wireMessage{
		FeePayer:     tx.FeePayer.Bytes(),
		Marker:       tx.Marker[:],
		Instructions: make([]wireInstruction, 0, len(tx.Instructions)),
	}
	for _, ins := range tx.Instructions {
		w := wireInstruction{
			Asset:       ins.Asset.Bytes(),
			Source:      ins.Source.Bytes(),
			Destination: ins.Destination.Bytes(),
			Owner:       ins.Owner.Bytes(),
			Amount:      ins.Amount,
			Decimals:    ins.Decimals,
			Keys:        make([]wireMeta, 0, len(ins.Keys)),
		}
		for _, meta := range ins.Keys {
			w.Keys = append(w.Keys, wireMeta{
				Key:        meta.Key.Bytes(),
				IsSigner:   meta.IsSigner,
				IsWritable: meta.IsWritable,
			})
		}
		msg.Instructions = append(msg.Instructions, w)
	}
	return msg
}

// Marshal serializes the full transaction, signatures included. The
// envelope's Partial flag is set whenever required authorizations are still
// missing.
func (tx *Transaction) Marshal() ([]byte, error) {
	env := wireEnvelope{
		Message:    messageToWire(tx),
		Signatures: make([]wireSignature, 0, len(tx.Signatures)),
		Partial:    !tx.FullySigned(),
	}
	for _, sig := range tx.Signatures {
		env.Signatures = append(env.Signatures, wireSignature{
			Signer:    sig.Signer.Bytes(),
			Signature: sig.Signature,
		})
	}
	return rlp.EncodeToBytes(env)
}

// EncodeBase64 returns the transport-safe form of Marshal.
func (tx *Transaction) EncodeBase64() (string, error) {
	raw, err := tx.Marshal()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Unmarshal decodes a serialized transaction. The second return value is the
// envelope's Partial flag.
func Unmarshal(raw []byte) (*Transaction, bool, error) {
	var env wireEnvelope
	if err := rlp.DecodeBytes(raw, &env); err != nil {
		return nil, false, fmt.Errorf("decode transaction: %w", err)
	}
	tx := &Transaction{}
	feePayer, err := crypto.NewPublicKey(env.Message.FeePayer)
	if err != nil {
		return nil, false, fmt.Errorf("decode fee payer: %w", err)
	}
	tx.FeePayer = feePayer
	if len(env.Message.Marker) != MarkerSize {
		return nil, false, fmt.Errorf("decode marker: want %d bytes, got %d", MarkerSize, len(env.Message.Marker))
	}
	copy(tx.Marker[:], env.Message.Marker)
	for _, w := range env.Message.Instructions {
		ins, err := instructionFromWire(w)
		if err != nil {
			return nil, false, err
		}
		tx.Instructions = append(tx.Instructions, ins)
	}
	for _, w := range env.Signatures {
		signer, err := crypto.NewPublicKey(w.Signer)
		if err != nil {
			return nil, false, fmt.Errorf("decode signer: %w", err)
		}
		tx.Signatures = append(tx.Signatures, Signature{Signer: signer, Signature: w.Signature})
	}
	return tx, env.Partial, nil
}

// DecodeBase64 reverses EncodeBase64.
func DecodeBase64(encoded string) (*Transaction, bool, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, fmt.Errorf("decode base64: %w", err)
	}
	return Unmarshal(raw)
}

func instructionFromWire(w wireInstruction) (Instruction, error) {
	var ins Instruction
	var err error
	if ins.Asset, err = crypto.NewPublicKey(w.Asset); err != nil {
		return ins, fmt.Errorf("decode asset: %w", err)
	}
	if ins.Source, err = crypto.NewPublicKey(w.Source); err != nil {
		return ins, fmt.Errorf("decode source: %w", err)
	}
	if ins.Destination, err = crypto.NewPublicKey(w.Destination); err != nil {
		return ins, fmt.Errorf("decode destination: %w", err)
	}
	if ins.Owner, err = crypto.NewPublicKey(w.Owner); err != nil {
		return ins, fmt.Errorf("decode owner: %w", err)
	}
	ins.Amount = w.Amount
	ins.Decimals = w.Decimals
	for _, meta := range w.Keys {
		key, err := crypto.NewPublicKey(meta.Key)
		if err != nil {
			return ins, fmt.Errorf("decode meta key: %w", err)
		}
		ins.Keys = append(ins.Keys, AccountMeta{Key: key, IsSigner: meta.IsSigner, IsWritable: meta.IsWritable})
	}
	return ins, nil
}
