package core

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"empower1.com/ptcnode/internal/crypto"
	"empower1.com/ptcnode/internal/errkind"
)

var (
	ErrEmptyProposerAddress  = errkind.New(errkind.Validation, errors.New("core: block proposer address cannot be empty"))
	ErrInvalidPrevBlockHash  = errkind.New(errkind.Validation, errors.New("core: previous block hash cannot be empty for non-genesis block"))
	ErrBlockVerificationFail = errkind.New(errkind.Authentication, errors.New("core: block signature verification failed"))
)

// SignatureScheme tags how a block was signed, so verifiers know which
// algorithm to check against. HMAC fallback is gated behind
// consensus.allow_hmac_fallback in the typed configuration (SPEC_FULL §9).
type SignatureScheme string

const (
	SchemeECDSA SignatureScheme = "ecdsa-secp256k1"
	SchemeHMAC  SignatureScheme = "hmac-sha256"
)

// Block is the canonical block record (§3/§4.3).
type Block struct {
	Height          uint64          `json:"height"`
	Timestamp       int64           `json:"timestamp"`
	PrevBlockHash   []byte          `json:"prevBlockHash"`
	Transactions    []*Transaction  `json:"transactions"`
	MerkleRoot      []byte          `json:"merkleRoot"`
	ProposerAddress crypto.Address  `json:"proposerAddress"`
	SignatureScheme SignatureScheme `json:"signatureScheme"`
	Signature       []byte          `json:"signature"`
	Hash            []byte          `json:"hash"`
}

// NewBlock constructs an unsigned, unhashed block from a proposer's packed
// transaction set. MerkleRoot is computed immediately since it depends only
// on the transaction set, not on signing.
func NewBlock(height uint64, prevBlockHash []byte, txs []*Transaction, proposer crypto.Address) *Block {
	b := &Block{
		Height:          height,
		Timestamp:       time.Now().UnixNano(),
		PrevBlockHash:   prevBlockHash,
		Transactions:    txs,
		ProposerAddress: proposer,
	}
	b.MerkleRoot = MerkleRoot(txHashes(txs))
	return b
}

func txHashes(txs []*Transaction) [][]byte {
	hashes := make([][]byte, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash
	}
	return hashes
}

// MerkleRoot computes the root of a Merkle tree over leaves, duplicating the
// last node at each level when the count is odd. Returns the 32-byte
// all-zero sentinel hash for zero leaves (SPEC_FULL §4.3/§8).
func MerkleRoot(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		return make([]byte, 32)
	}
	level := make([][]byte, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, crypto.Digest(append(append([]byte{}, level[i]...), level[i+1]...)))
		}
		level = next
	}
	return level[0]
}

// headerForSigning returns the byte representation of the block content
// that gets signed, deliberately excluding Hash and Signature themselves.
func (b *Block) headerForSigning() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, b.Height)
	binary.Write(&buf, binary.BigEndian, b.Timestamp)
	buf.Write(b.PrevBlockHash)
	buf.Write(b.MerkleRoot)
	buf.Write(b.ProposerAddress.Bytes())
	return buf.Bytes()
}

// ComputeHash hashes the header-for-signing bytes together with the
// signature, so the final Hash commits to the signed block as a whole.
func (b *Block) ComputeHash() []byte {
	return crypto.Digest(append(b.headerForSigning(), b.Signature...))
}

// Sign signs the block header with priv (ECDSA/secp256k1) and sets Hash.
func (b *Block) Sign(priv *ecdsa.PrivateKey) error {
	if len(b.ProposerAddress.Bytes()) == 0 {
		return ErrEmptyProposerAddress
	}
	digest := crypto.Digest(b.headerForSigning())
	sig, err := crypto.Sign(digest, priv)
	if err != nil {
		return fmt.Errorf("core: sign block: %w", err)
	}
	b.Signature = sig
	b.SignatureScheme = SchemeECDSA
	b.Hash = b.ComputeHash()
	return nil
}

// SignHMAC signs the block header with an HMAC-SHA256 tag under secret,
// used only when consensus.allow_hmac_fallback is enabled and no ECDSA key
// is available for the proposer.
func (b *Block) SignHMAC(secret []byte) {
	digest := crypto.Digest(b.headerForSigning())
	b.Signature = crypto.HMACSHA256(secret, digest)
	b.SignatureScheme = SchemeHMAC
	b.Hash = b.ComputeHash()
}

// VerifySignature checks b's signature according to its declared scheme.
// For ECDSA, pub is the proposer's public key. For HMAC, pub is ignored and
// hmacSecret must be supplied by the caller via VerifyHMAC instead.
func (b *Block) VerifySignature(pub *ecdsa.PublicKey) error {
	if b.SignatureScheme != SchemeECDSA {
		return fmt.Errorf("core: block uses scheme %q, call VerifyHMAC instead", b.SignatureScheme)
	}
	digest := crypto.Digest(b.headerForSigning())
	if !crypto.Verify(digest, pub, b.Signature) {
		return ErrBlockVerificationFail
	}
	if crypto.AddressFromPubKey(pub) != b.ProposerAddress {
		return fmt.Errorf("core: %w: proposer address mismatch", ErrBlockVerificationFail)
	}
	return nil
}

// VerifyHMAC checks an HMAC-signed block against secret.
func (b *Block) VerifyHMAC(secret []byte) error {
	if b.SignatureScheme != SchemeHMAC {
		return fmt.Errorf("core: block uses scheme %q, call VerifySignature instead", b.SignatureScheme)
	}
	digest := crypto.Digest(b.headerForSigning())
	if !crypto.VerifyHMACSHA256(secret, digest, b.Signature) {
		return ErrBlockVerificationFail
	}
	return nil
}

// ValidateStructure checks invariants independent of signature verification
// and chain linkage (those are ChainStore's job): non-empty proposer,
// merkle root matches the transaction set, non-zero timestamp.
func (b *Block) ValidateStructure() error {
	if b.ProposerAddress == (crypto.Address{}) {
		return ErrEmptyProposerAddress
	}
	if b.Height > 0 && len(b.PrevBlockHash) == 0 {
		return ErrInvalidPrevBlockHash
	}
	want := MerkleRoot(txHashes(b.Transactions))
	if !bytes.Equal(want, b.MerkleRoot) {
		return errkind.New(errkind.Integrity, errors.New("core: merkle root does not match transaction set"))
	}
	if b.Timestamp == 0 {
		return errkind.New(errkind.Validation, errors.New("core: block timestamp cannot be zero"))
	}
	return nil
}
