// Package ingest implements RawIngestor (spec §4.12): decodes an
// externally-signed, hex-encoded Ethereum-style transaction (legacy or
// typed-2/EIP-1559), recovers the sender, and constructs a canonical
// internal/core.Transaction ready for the mempool.
//
// Grounded on github.com/ethereum/go-ethereum/core/types' Transaction
// decode/Sender recovery API (the same package internal/crypto wraps for
// signing/verification), matching this repo's choice of secp256k1/Keccak256
// for Ethereum-compatible hashes across the whole node.
package ingest

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/jellydator/ttlcache/v3"

	"empower1.com/ptcnode/internal/core"
	"empower1.com/ptcnode/internal/crypto"
	"empower1.com/ptcnode/internal/errkind"
)

var (
	// ErrMalformedRaw is returned when the hex payload is not a well-formed
	// legacy or typed-2 RLP transaction (spec §4.12 "ParseError").
	ErrMalformedRaw = errkind.New(errkind.Validation, errors.New("ingest: malformed raw transaction"))
	// ErrSenderMismatch is returned when the recovered signer does not
	// match a caller-declared from address (spec §4.12 "SignatureError").
	ErrSenderMismatch = errkind.New(errkind.Authentication, errors.New("ingest: recovered sender does not match declared from address"))
)

// Decode parses rawHex (with or without a "0x" prefix) into a canonical
// core.Transaction. If declaredFrom is non-nil, the recovered signer must
// match it exactly.
func Decode(rawHex string, declaredFrom *crypto.Address) (*core.Transaction, error) {
	data, err := hex.DecodeString(strings.TrimPrefix(rawHex, "0x"))
	if err != nil {
		return nil, ErrMalformedRaw
	}

	var ethTx ethtypes.Transaction
	if err := ethTx.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRaw, err)
	}

	signer := ethtypes.LatestSignerForChainID(ethTx.ChainId())
	fromAddr, err := ethtypes.Sender(signer, &ethTx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRaw, err)
	}
	from := crypto.Address(fromAddr)
	if declaredFrom != nil && *declaredFrom != from {
		return nil, ErrSenderMismatch
	}

	var to crypto.Address
	txType := core.TxContractDeploy
	if dst := ethTx.To(); dst != nil {
		to = crypto.Address(*dst)
		if len(ethTx.Data()) > 0 {
			txType = core.TxContractCall
		} else {
			txType = core.TxStandard
		}
	}

	gasPrice := effectiveGasPrice(&ethTx)
	v, r, s := ethTx.RawSignatureValues()
	sig := append(append(r.Bytes(), s.Bytes()...), byte(v.Uint64()))

	tx := &core.Transaction{
		TxType:    txType,
		From:      from,
		To:        to,
		Amount:    safeUint64(ethTx.Value()),
		Nonce:     ethTx.Nonce(),
		GasLimit:  ethTx.Gas(),
		GasPrice:  gasPrice,
		Data:      ethTx.Data(),
		Timestamp: 0, // left zero; the hash below covers it, so the same raw input always yields the same hash
		Signature: sig,
		RawSource: ethTx.Hash().Bytes(),
	}
	h, err := tx.ComputeHash()
	if err != nil {
		return nil, err
	}
	tx.Hash = h
	return tx, nil
}

// effectiveGasPrice returns the legacy gas price for type-0 transactions,
// or the max fee per gas for typed-2 transactions, absent a base-fee oracle
// to compute the true effective price at inclusion time.
func effectiveGasPrice(tx *ethtypes.Transaction) uint64 {
	if tx.Type() == ethtypes.LegacyTxType {
		return safeUint64(tx.GasPrice())
	}
	return safeUint64(tx.GasFeeCap())
}

func safeUint64(v interface{ Uint64() uint64 }) uint64 {
	if v == nil {
		return 0
	}
	return v.Uint64()
}

// Ingestor dedupes raw transaction hashes and hands accepted transactions
// off to a sink (the mempool, in production wiring).
type Ingestor struct {
	seen *ttlcache.Cache[string, struct{}]
	mu   sync.Mutex
	sink func(*core.Transaction) error
}

// NewIngestor constructs an Ingestor that calls sink for every
// newly-decoded, not-yet-seen transaction.
func NewIngestor(sink func(*core.Transaction) error) *Ingestor {
	cache := ttlcache.New[string, struct{}]()
	go cache.Start()
	return &Ingestor{seen: cache, sink: sink}
}

// Close stops the dedup cache's TTL janitor.
func (ig *Ingestor) Close() { ig.seen.Stop() }

// Submit decodes rawHex and, if not a duplicate of a previously submitted
// raw transaction, passes it to the configured sink.
func (ig *Ingestor) Submit(rawHex string, declaredFrom *crypto.Address) (*core.Transaction, error) {
	tx, err := Decode(rawHex, declaredFrom)
	if err != nil {
		return nil, err
	}

	ig.mu.Lock()
	key := hex.EncodeToString(tx.RawSource)
	if ig.seen.Get(key) != nil {
		ig.mu.Unlock()
		return tx, nil // already ingested, idempotent no-op
	}
	ig.seen.Set(key, struct{}{}, ttlcache.NoTTL)
	ig.mu.Unlock()

	if err := ig.sink(tx); err != nil {
		return nil, err
	}
	return tx, nil
}
