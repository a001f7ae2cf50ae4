// Package crypto implements the primitive operations every other component
// builds on: digests, HMAC, secp256k1 signing/recovery, and address
// derivation. Signing and address derivation are Ethereum-compatible so
// that internal/ingest can recover the sender of externally signed raw
// transactions with the same curve and hash used everywhere else in the
// node.
package crypto

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressLength is the size, in bytes, of an account address.
const AddressLength = 20

// Address is a 20-byte account identifier derived from a public key.
type Address [AddressLength]byte

func (a Address) Bytes() []byte { return a[:] }

func (a Address) String() string {
	return fmt.Sprintf("0x%x", a[:])
}

var (
	ErrInvalidSignatureLength = errors.New("crypto: signature has invalid length")
	ErrInvalidPublicKey       = errors.New("crypto: invalid public key bytes")
	ErrRecoveryFailed         = errors.New("crypto: failed to recover public key from signature")
)

// Digest returns the SHA-256 digest of data. Plain SHA-256 has no ecosystem
// replacement worth a dependency; see DESIGN.md.
func Digest(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// Keccak256 returns the Keccak-256 digest of data, the hash used by
// transaction signing throughout this node and by Ethereum-style raw
// transactions ingested via internal/ingest.
func Keccak256(data ...[]byte) []byte {
	return ethcrypto.Keccak256(data...)
}

// HMACSHA256 computes an HMAC-SHA256 tag over data under key. Used for
// circuit-gated peer-to-peer sync authentication (§6) and as the block
// proposer's signature fallback when ECDSA key material is unavailable.
func HMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// VerifyHMACSHA256 reports whether tag is a valid HMAC-SHA256 over data
// under key, using a constant-time comparison.
func VerifyHMACSHA256(key, data, tag []byte) bool {
	expected := HMACSHA256(key, data)
	return hmac.Equal(expected, tag)
}

// GenerateKeypair creates a new secp256k1 key pair.
func GenerateKeypair() (*ecdsa.PrivateKey, error) {
	return ethcrypto.GenerateKey()
}

// Sign produces a recoverable secp256k1 signature (r || s || v, 65 bytes)
// over a 32-byte digest.
func Sign(digest []byte, priv *ecdsa.PrivateKey) ([]byte, error) {
	return ethcrypto.Sign(digest, priv)
}

// Recover recovers the uncompressed public key that produced sig over
// digest.
func Recover(digest, sig []byte) (*ecdsa.PublicKey, error) {
	if len(sig) != 65 {
		return nil, ErrInvalidSignatureLength
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
	}
	return pub, nil
}

// Verify reports whether sig (64-byte r||s, signature malleability not
// checked beyond the underlying curve) over digest was produced by pub.
func Verify(digest []byte, pub *ecdsa.PublicKey, sig []byte) bool {
	if len(sig) < 64 {
		return false
	}
	pubBytes := ethcrypto.FromECDSAPub(pub)
	return ethcrypto.VerifySignature(pubBytes, digest, sig[:64])
}

// AddressFromPubKey derives the 20-byte account address from a public key,
// matching the convention used by every Ethereum-family repo in the
// example pack: the low 20 bytes of Keccak256(pubkey.X || pubkey.Y).
func AddressFromPubKey(pub *ecdsa.PublicKey) Address {
	var addr Address
	full := ethcrypto.PubkeyToAddress(*pub)
	copy(addr[:], full.Bytes())
	return addr
}

// ParsePublicKey parses uncompressed secp256k1 public key bytes (65 bytes,
// 0x04 prefix).
func ParsePublicKey(b []byte) (*ecdsa.PublicKey, error) {
	pub, err := ethcrypto.UnmarshalPubkey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}

// MarshalPublicKey serializes pub to uncompressed form.
func MarshalPublicKey(pub *ecdsa.PublicKey) []byte {
	return ethcrypto.FromECDSAPub(pub)
}

// RandomBytes returns n cryptographically random bytes, used for node IDs,
// HMAC secrets, and nonces that are not derived from a key.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
