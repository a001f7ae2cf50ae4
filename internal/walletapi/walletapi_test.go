package walletapi

import (
	"bytes"
	"testing"

	"empower1.com/ptcnode/internal/crypto"
)

func TestECDSASigner_SignAndAddress(t *testing.T) {
	priv, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}
	signer := NewECDSASigner(priv)

	hash := bytes.Repeat([]byte{0xab}, 32)
	sig, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if len(sig) == 0 {
		t.Fatal("Sign() returned empty signature")
	}

	wantAddr := crypto.AddressFromPubKey(&priv.PublicKey)
	if signer.Address() != wantAddr {
		t.Errorf("Address() = %v, want %v", signer.Address(), wantAddr)
	}
}

func TestECDSASigner_ImplementsSigner(t *testing.T) {
	var _ Signer = (*ECDSASigner)(nil)
}
