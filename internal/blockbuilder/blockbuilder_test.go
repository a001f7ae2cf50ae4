package blockbuilder

import (
	"errors"
	"testing"
	"time"

	"empower1.com/ptcnode/internal/core"
	"empower1.com/ptcnode/internal/crypto"
	"empower1.com/ptcnode/internal/mempool"
)

func TestPack_RejectsEmptyMempoolByDefault(t *testing.T) {
	mp := mempool.New(10, time.Hour)
	defer mp.Close()
	b := New(false)
	_, err := b.Pack(mp, 1, []byte("prev"), crypto.Address{1})
	if !errors.Is(err, ErrEmptyMempool) {
		t.Errorf("Pack() error = %v, want %v", err, ErrEmptyMempool)
	}
}

func TestPack_AllowsEmptyWhenConfigured(t *testing.T) {
	mp := mempool.New(10, time.Hour)
	defer mp.Close()
	b := New(true)
	block, err := b.Pack(mp, 1, []byte("prev"), crypto.Address{1})
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if len(block.Transactions) != 0 {
		t.Errorf("Pack() transactions = %d, want 0", len(block.Transactions))
	}
}

func TestPack_IncludesMempoolTransactions(t *testing.T) {
	mp := mempool.New(10, time.Hour)
	defer mp.Close()

	priv, _ := crypto.GenerateKeypair()
	from := crypto.AddressFromPubKey(&priv.PublicKey)
	tx := core.NewTransaction(core.TxStandard, from, crypto.Address{2}, 5, 1, 21000, 1, nil)
	tx.Sign(priv)
	if err := mp.AddTransaction(tx); err != nil {
		t.Fatalf("AddTransaction() error = %v", err)
	}

	b := New(false)
	block, err := b.Pack(mp, 1, []byte("prev"), crypto.Address{1})
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if len(block.Transactions) != 1 {
		t.Fatalf("Pack() transactions = %d, want 1", len(block.Transactions))
	}
	if err := block.ValidateStructure(); err != nil {
		t.Errorf("ValidateStructure() error = %v, want nil", err)
	}
}
