package mempool

import (
	"errors"
	"testing"
	"time"

	"empower1.com/ptcnode/internal/core"
	"empower1.com/ptcnode/internal/crypto"
)

func mustTx(t *testing.T, nonce, gasLimit, gasPrice uint64) *core.Transaction {
	t.Helper()
	priv, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}
	from := crypto.AddressFromPubKey(&priv.PublicKey)
	tx := core.NewTransaction(core.TxStandard, from, crypto.Address{}, 1, nonce, gasLimit, gasPrice, nil)
	if err := tx.Sign(priv); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return tx
}

func TestAddTransaction_RejectsDuplicate(t *testing.T) {
	mp := New(10, time.Hour)
	defer mp.Close()
	tx := mustTx(t, 1, 21000, 1)
	if err := mp.AddTransaction(tx); err != nil {
		t.Fatalf("AddTransaction() error = %v", err)
	}
	if err := mp.AddTransaction(tx); !errors.Is(err, ErrTxExists) {
		t.Errorf("AddTransaction() duplicate error = %v, want %v", err, ErrTxExists)
	}
}

func TestAddTransaction_RejectsNonMonotonicNonce(t *testing.T) {
	mp := New(10, time.Hour)
	defer mp.Close()
	priv, _ := crypto.GenerateKeypair()
	from := crypto.AddressFromPubKey(&priv.PublicKey)

	tx1 := core.NewTransaction(core.TxStandard, from, crypto.Address{}, 1, 5, 21000, 1, nil)
	tx1.Sign(priv)
	if err := mp.AddTransaction(tx1); err != nil {
		t.Fatalf("AddTransaction() error = %v", err)
	}

	tx2 := core.NewTransaction(core.TxStandard, from, crypto.Address{}, 1, 5, 21000, 1, nil)
	tx2.Sign(priv)
	if err := mp.AddTransaction(tx2); !errors.Is(err, ErrNonceTooLow) {
		t.Errorf("AddTransaction() same nonce error = %v, want %v", err, ErrNonceTooLow)
	}
}

func TestGetBatch_OrdersByFeeRateDescending(t *testing.T) {
	mp := New(10, time.Hour)
	defer mp.Close()

	low := mustTx(t, 1, 21000, 1)
	high := mustTx(t, 1, 21000, 10)
	mid := mustTx(t, 1, 21000, 5)

	for _, tx := range []*core.Transaction{low, high, mid} {
		if err := mp.AddTransaction(tx); err != nil {
			t.Fatalf("AddTransaction() error = %v", err)
		}
	}

	batch := mp.GetBatch(3)
	if len(batch) != 3 {
		t.Fatalf("GetBatch() returned %d txs, want 3", len(batch))
	}
	if string(batch[0].Hash) != string(high.Hash) || string(batch[2].Hash) != string(low.Hash) {
		t.Errorf("GetBatch() not ordered by descending fee rate")
	}
}

func TestGetBatch_EnforcesPerSenderNonceOrder(t *testing.T) {
	mp := New(10, time.Hour)
	defer mp.Close()

	priv, _ := crypto.GenerateKeypair()
	from := crypto.AddressFromPubKey(&priv.PublicKey)

	// Same sender: nonce 1 carries a lower fee rate than nonce 2. Fee-rate
	// order alone would emit nonce 2 first, but nonce 2 must never be
	// emitted before nonce 1.
	low := core.NewTransaction(core.TxStandard, from, crypto.Address{}, 1, 1, 21000, 20, nil)
	low.Sign(priv)
	if err := mp.AddTransaction(low); err != nil {
		t.Fatalf("AddTransaction(nonce 1) error = %v", err)
	}
	high := core.NewTransaction(core.TxStandard, from, crypto.Address{}, 1, 2, 21000, 50, nil)
	high.Sign(priv)
	if err := mp.AddTransaction(high); err != nil {
		t.Fatalf("AddTransaction(nonce 2) error = %v", err)
	}

	// An unrelated sender's transaction has a fee rate below both of the
	// above, so it should still sort last once nonce 2 is unblocked.
	other := mustTx(t, 1, 21000, 10)
	if err := mp.AddTransaction(other); err != nil {
		t.Fatalf("AddTransaction(other) error = %v", err)
	}

	batch := mp.GetBatch(3)
	if len(batch) != 3 {
		t.Fatalf("GetBatch() returned %d txs, want 3", len(batch))
	}
	if string(batch[0].Hash) != string(low.Hash) {
		t.Errorf("GetBatch()[0] = %x, want nonce-1 tx %x (lowest nonce for its sender goes first)", batch[0].Hash, low.Hash)
	}
	if string(batch[1].Hash) != string(high.Hash) {
		t.Errorf("GetBatch()[1] = %x, want nonce-2 tx %x (unblocked, and higher fee rate than other)", batch[1].Hash, high.Hash)
	}
	if string(batch[2].Hash) != string(other.Hash) {
		t.Errorf("GetBatch()[2] = %x, want other-sender tx %x last", batch[2].Hash, other.Hash)
	}
}

func TestCapacityEviction_RejectsLowerFeeWhenFull(t *testing.T) {
	mp := New(1, time.Hour)
	defer mp.Close()

	resident := mustTx(t, 1, 21000, 10)
	if err := mp.AddTransaction(resident); err != nil {
		t.Fatalf("AddTransaction() error = %v", err)
	}

	lowerFee := mustTx(t, 1, 21000, 1)
	if err := mp.AddTransaction(lowerFee); !errors.Is(err, ErrMempoolFull) {
		t.Errorf("AddTransaction() lower-fee at capacity error = %v, want %v", err, ErrMempoolFull)
	}

	higherFee := mustTx(t, 1, 21000, 50)
	if err := mp.AddTransaction(higherFee); err != nil {
		t.Errorf("AddTransaction() higher-fee at capacity error = %v, want nil (should evict resident)", err)
	}
	if mp.Size() != 1 {
		t.Errorf("Size() = %d, want 1 after eviction-and-admit", mp.Size())
	}
}

func TestRemove(t *testing.T) {
	mp := New(10, time.Hour)
	defer mp.Close()
	tx := mustTx(t, 1, 21000, 1)
	mp.AddTransaction(tx)
	mp.Remove(tx.Hash)
	if mp.Size() != 0 {
		t.Errorf("Size() after Remove() = %d, want 0", mp.Size())
	}
}

func TestExpire_EvictsAfterTTL(t *testing.T) {
	mp := New(10, 10*time.Millisecond)
	defer mp.Close()
	tx := mustTx(t, 1, 21000, 1)
	mp.AddTransaction(tx)
	time.Sleep(30 * time.Millisecond)
	mp.Expire()
	if mp.Size() != 0 {
		t.Errorf("Size() after TTL expiry = %d, want 0", mp.Size())
	}
}

func TestStats(t *testing.T) {
	mp := New(10, time.Hour)
	defer mp.Close()
	tx := mustTx(t, 1, 21000, 5)
	mp.AddTransaction(tx)
	stats := mp.Stats()
	if stats.Size != 1 || stats.TotalFees != tx.Fee() {
		t.Errorf("Stats() = %+v, want size=1 totalFees=%d", stats, tx.Fee())
	}
}
