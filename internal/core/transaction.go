// Package core defines the canonical transaction and block types shared by
// every other component: mempool, chain store, consensus, block builder,
// event sync, and the raw-transaction ingestor all operate on these types
// rather than private ones of their own.
package core

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"empower1.com/ptcnode/internal/crypto"
	"empower1.com/ptcnode/internal/errkind"
)

// TxType identifies the shape and intent of a transaction.
type TxType string

const (
	TxStandard       TxType = "STANDARD"
	TxContractDeploy TxType = "CONTRACT_DEPLOY"
	TxContractCall   TxType = "CONTRACT_CALL"
	TxValidatorStake TxType = "VALIDATOR_STAKE"
)

var (
	ErrMissingSignature  = errkind.New(errkind.Validation, errors.New("core: transaction missing signature"))
	ErrMissingPublicKey  = errkind.New(errkind.Validation, errors.New("core: transaction missing public key"))
	ErrInvalidAmount     = errkind.New(errkind.Validation, errors.New("core: transaction amount must be non-negative"))
	ErrInvalidFee        = errkind.New(errkind.Validation, errors.New("core: transaction fee is invalid"))
	ErrZeroTimestamp     = errkind.New(errkind.Validation, errors.New("core: transaction timestamp cannot be zero"))
	ErrVerificationFailed = errkind.New(errkind.Authentication, errors.New("core: transaction signature verification failed"))
	ErrSenderMismatch    = errkind.New(errkind.Authentication, errors.New("core: recovered signer does not match From address"))
)

// Transaction is the canonical account-model transaction record (§3/§4.2).
type Transaction struct {
	Hash      []byte         `json:"hash"`
	TxType    TxType         `json:"txType"`
	From      crypto.Address `json:"from"`
	To        crypto.Address `json:"to"`
	Amount    uint64         `json:"amount"`
	Nonce     uint64         `json:"nonce"`
	GasLimit  uint64         `json:"gasLimit"`
	GasPrice  uint64         `json:"gasPrice"`
	Data      []byte         `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`

	PublicKey []byte `json:"publicKey,omitempty"`
	Signature []byte `json:"signature,omitempty"`

	// RawSource is non-empty when the transaction was decoded by
	// internal/ingest from an externally signed Ethereum-style raw
	// transaction, carrying its original raw-hash for idempotency.
	RawSource []byte `json:"rawSource,omitempty"`
}

// Fee is the amount the sender pays for inclusion: gasLimit * gasPrice.
func (tx *Transaction) Fee() uint64 {
	return tx.GasLimit * tx.GasPrice
}

// canonicalPayload mirrors the teacher's CanonicalTxPayload pattern: a flat,
// deterministically ordered struct marshaled with encoding/json so hashing
// and signing operate over one unambiguous byte sequence.
type canonicalPayload struct {
	TxType    TxType `json:"txType"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    uint64 `json:"amount"`
	Nonce     uint64 `json:"nonce"`
	GasLimit  uint64 `json:"gasLimit"`
	GasPrice  uint64 `json:"gasPrice"`
	Data      string `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (tx *Transaction) canonicalBytes() ([]byte, error) {
	p := canonicalPayload{
		TxType:    tx.TxType,
		From:      hex.EncodeToString(tx.From[:]),
		To:        hex.EncodeToString(tx.To[:]),
		Amount:    tx.Amount,
		Nonce:     tx.Nonce,
		GasLimit:  tx.GasLimit,
		GasPrice:  tx.GasPrice,
		Data:      hex.EncodeToString(tx.Data),
		Timestamp: tx.Timestamp,
	}
	return json.Marshal(p)
}

// NewTransaction constructs an unsigned transaction with the current time
// as its timestamp.
func NewTransaction(txType TxType, from, to crypto.Address, amount, nonce, gasLimit, gasPrice uint64, data []byte) *Transaction {
	return &Transaction{
		TxType:    txType,
		From:      from,
		To:        to,
		Amount:    amount,
		Nonce:     nonce,
		GasLimit:  gasLimit,
		GasPrice:  gasPrice,
		Data:      data,
		Timestamp: time.Now().UnixNano(),
	}
}

// ComputeHash returns the Keccak256 digest of the canonical payload. It does
// not mutate tx.
func (tx *Transaction) ComputeHash() ([]byte, error) {
	data, err := tx.canonicalBytes()
	if err != nil {
		return nil, fmt.Errorf("core: marshal canonical payload: %w", err)
	}
	return crypto.Keccak256(data), nil
}

// Sign computes tx's hash and signs it with priv, populating Hash,
// PublicKey, and Signature.
func (tx *Transaction) Sign(priv *ecdsa.PrivateKey) error {
	h, err := tx.ComputeHash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(h, priv)
	if err != nil {
		return fmt.Errorf("core: sign transaction: %w", err)
	}
	tx.Hash = h
	tx.Signature = sig
	tx.PublicKey = crypto.MarshalPublicKey(&priv.PublicKey)
	return nil
}

// VerifySignature recomputes tx's hash and checks Signature against
// PublicKey, and that the recovered address matches From.
func (tx *Transaction) VerifySignature() error {
	if len(tx.Signature) == 0 {
		return ErrMissingSignature
	}
	if len(tx.PublicKey) == 0 {
		return ErrMissingPublicKey
	}
	h, err := tx.ComputeHash()
	if err != nil {
		return err
	}
	pub, err := crypto.ParsePublicKey(tx.PublicKey)
	if err != nil {
		return err
	}
	if !crypto.Verify(h, pub, tx.Signature) {
		return ErrVerificationFailed
	}
	if crypto.AddressFromPubKey(pub) != tx.From {
		return ErrSenderMismatch
	}
	if !bytes.Equal(h, tx.Hash) {
		return ErrVerificationFailed
	}
	return nil
}

// Validate checks the structural invariants spec §4.2 requires,
// independent of signature verification.
func (tx *Transaction) Validate() error {
	if tx.Timestamp == 0 {
		return ErrZeroTimestamp
	}
	switch tx.TxType {
	case TxStandard, TxContractDeploy, TxContractCall, TxValidatorStake:
	default:
		return errkind.New(errkind.Validation, fmt.Errorf("core: unknown transaction type %q", tx.TxType))
	}
	return nil
}

// Serialize encodes tx as JSON for storage/transport. Plain JSON is used
// rather than a binary codec because the teacher's own canonical-payload
// pattern is JSON-based and nothing in the example pack supplies a more
// idiomatic binary codec for this shape.
func (tx *Transaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// DeserializeTransaction decodes a transaction previously produced by
// Serialize.
func DeserializeTransaction(data []byte) (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("core: deserialize transaction: %w", err)
	}
	return &tx, nil
}
