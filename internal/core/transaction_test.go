package core

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"testing"

	"empower1.com/ptcnode/internal/crypto"
)

type testKeyPair struct {
	priv *ecdsa.PrivateKey
	addr crypto.Address
}

func newTestKeyHelper(t *testing.T) testKeyPair {
	t.Helper()
	priv, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}
	return testKeyPair{priv: priv, addr: crypto.AddressFromPubKey(&priv.PublicKey)}
}

func TestTransactionSignAndVerify(t *testing.T) {
	sender := newTestKeyHelper(t)
	recipient := newTestKeyHelper(t)

	tx := NewTransaction(TxStandard, sender.addr, recipient.addr, 100, 1, 21000, 1, nil)
	if err := tx.Sign(sender.priv); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if len(tx.Hash) == 0 {
		t.Fatal("Sign() did not set Hash")
	}
	if err := tx.VerifySignature(); err != nil {
		t.Errorf("VerifySignature() on untampered tx error = %v, want nil", err)
	}
}

func TestTransactionVerify_Tampered(t *testing.T) {
	sender := newTestKeyHelper(t)
	recipient := newTestKeyHelper(t)

	tx := NewTransaction(TxStandard, sender.addr, recipient.addr, 100, 1, 21000, 1, nil)
	if err := tx.Sign(sender.priv); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	tx.Amount = 999
	if err := tx.VerifySignature(); err == nil {
		t.Error("VerifySignature() on tampered amount = nil, want error")
	}
}

func TestTransactionVerify_WrongSender(t *testing.T) {
	sender := newTestKeyHelper(t)
	other := newTestKeyHelper(t)
	recipient := newTestKeyHelper(t)

	tx := NewTransaction(TxStandard, sender.addr, recipient.addr, 100, 1, 21000, 1, nil)
	if err := tx.Sign(other.priv); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if err := tx.VerifySignature(); !errors.Is(err, ErrSenderMismatch) {
		t.Errorf("VerifySignature() error = %v, want %v", err, ErrSenderMismatch)
	}
}

func TestTransactionVerify_MissingSignature(t *testing.T) {
	sender := newTestKeyHelper(t)
	recipient := newTestKeyHelper(t)
	tx := NewTransaction(TxStandard, sender.addr, recipient.addr, 100, 1, 21000, 1, nil)
	if err := tx.VerifySignature(); !errors.Is(err, ErrMissingSignature) {
		t.Errorf("VerifySignature() error = %v, want %v", err, ErrMissingSignature)
	}
}

func TestTransactionHashDeterministic(t *testing.T) {
	sender := newTestKeyHelper(t)
	recipient := newTestKeyHelper(t)

	tx1 := NewTransaction(TxStandard, sender.addr, recipient.addr, 100, 1, 21000, 1, []byte("payload"))
	tx2 := *tx1

	h1, err := tx1.ComputeHash()
	if err != nil {
		t.Fatalf("ComputeHash() error = %v", err)
	}
	h2, err := (&tx2).ComputeHash()
	if err != nil {
		t.Fatalf("ComputeHash() error = %v", err)
	}
	if !bytes.Equal(h1, h2) {
		t.Errorf("ComputeHash() not deterministic for identical fields: %x != %x", h1, h2)
	}

	tx2.Amount = 101
	h3, _ := (&tx2).ComputeHash()
	if bytes.Equal(h1, h3) {
		t.Error("ComputeHash() unchanged after amount was modified")
	}
}

func TestTransactionSerializeRoundTrip(t *testing.T) {
	sender := newTestKeyHelper(t)
	recipient := newTestKeyHelper(t)
	tx := NewTransaction(TxContractCall, sender.addr, recipient.addr, 0, 5, 50000, 2, []byte("call()"))
	if err := tx.Sign(sender.priv); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	data, err := tx.Serialize()
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	got, err := DeserializeTransaction(data)
	if err != nil {
		t.Fatalf("DeserializeTransaction() error = %v", err)
	}
	if !bytes.Equal(got.Hash, tx.Hash) || got.Nonce != tx.Nonce || got.TxType != tx.TxType {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, tx)
	}
}

func TestTransactionValidate(t *testing.T) {
	sender := newTestKeyHelper(t)
	recipient := newTestKeyHelper(t)
	tx := NewTransaction(TxStandard, sender.addr, recipient.addr, 100, 1, 21000, 1, nil)
	if err := tx.Validate(); err != nil {
		t.Errorf("Validate() on well-formed tx error = %v, want nil", err)
	}

	tx.Timestamp = 0
	if err := tx.Validate(); !errors.Is(err, ErrZeroTimestamp) {
		t.Errorf("Validate() with zero timestamp error = %v, want %v", err, ErrZeroTimestamp)
	}
}
