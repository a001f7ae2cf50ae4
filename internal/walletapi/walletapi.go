// Package walletapi names the external wallet boundary (spec §1): building
// and signing transactions client-side before they reach the node as raw,
// externally-signed input to internal/ingest. Nothing in the node core
// calls this package; it exists for code outside the node, such as tests,
// that needs to construct signed fixtures.
//
// Adapted from the teacher's doc-only internal/wallet package (key
// generation, address management, transaction construction/signing, UTXO
// selection) down to the one contract this repo's scope actually needs:
// signing a transaction hash.
package walletapi

import (
	"crypto/ecdsa"

	"empower1.com/ptcnode/internal/crypto"
)

// Signer produces a signature over a transaction hash, letting fixture
// code sign without depending on a concrete key-management scheme.
type Signer interface {
	Sign(hash []byte) (signature []byte, err error)
	Address() crypto.Address
}

// ECDSASigner is a Signer backed by a single secp256k1 private key, the
// only concrete implementation in this repository.
type ECDSASigner struct {
	priv *ecdsa.PrivateKey
	addr crypto.Address
}

// NewECDSASigner wraps priv as a Signer.
func NewECDSASigner(priv *ecdsa.PrivateKey) *ECDSASigner {
	return &ECDSASigner{priv: priv, addr: crypto.AddressFromPubKey(&priv.PublicKey)}
}

// Sign signs hash with the wrapped private key.
func (s *ECDSASigner) Sign(hash []byte) ([]byte, error) {
	return crypto.Sign(hash, s.priv)
}

// Address returns the signer's derived address.
func (s *ECDSASigner) Address() crypto.Address {
	return s.addr
}
