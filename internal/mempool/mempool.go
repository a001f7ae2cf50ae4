// Package mempool holds pending transactions awaiting inclusion in a
// block. It fills in the teacher's own TODOs ("eviction policies, max
// size, sorting by fee") with a fee-priority index, per-sender nonce
// monotonicity, TTL-based expiry, and capacity-based eviction.
package mempool

import (
	"container/heap"
	"context"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"empower1.com/ptcnode/internal/core"
	"empower1.com/ptcnode/internal/errkind"
)

var (
	ErrTxExists       = errkind.New(errkind.Validation, errors.New("mempool: transaction already present"))
	ErrNilTransaction = errkind.New(errkind.Validation, errors.New("mempool: transaction or hash is nil"))
	ErrNonceTooLow    = errkind.New(errkind.Validation, errors.New("mempool: nonce is not greater than the last seen nonce for this sender"))
	ErrMempoolFull    = errkind.New(errkind.Resource, errors.New("mempool: at capacity and incoming fee does not exceed the lowest-priority entry"))
)

// DefaultTTL is the uniform expiry applied to every entry absent an
// explicit override (SPEC_FULL §9 open-question decision).
const DefaultTTL = time.Hour

// DefaultCapacity bounds the number of entries retained before the lowest
// fee-rate entries are evicted to make room for higher-priority ones.
const DefaultCapacity = 50_000

// entry is one mempool-resident transaction plus its priority-queue index.
type entry struct {
	tx       *core.Transaction
	feeRate  float64 // fee / gasLimit, used for fee-rate priority
	queueIdx int
}

// Stats summarizes the mempool's current contents.
type Stats struct {
	Size         int
	TotalFees    uint64
	OldestTxUnix int64
}

// Mempool is the priority-ordered pending-transaction pool.
type Mempool struct {
	mu       sync.RWMutex
	byHash   map[string]*entry
	byNonce  map[string]uint64 // hex(from) -> highest nonce admitted so far; not cleared on removal
	pq       priorityQueue
	ttl      *ttlcache.Cache[string, struct{}]
	capacity int
}

// New constructs an empty Mempool with the given capacity and TTL. A zero
// ttl uses DefaultTTL; a zero capacity uses DefaultCapacity.
func New(capacity int, ttl time.Duration) *Mempool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	mp := &Mempool{
		byHash:   make(map[string]*entry),
		byNonce:  make(map[string]uint64),
		pq:       make(priorityQueue, 0),
		capacity: capacity,
	}
	mp.ttl = ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](ttl),
	)
	mp.ttl.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, struct{}]) {
		mp.removeLocked(item.Key())
	})
	heap.Init(&mp.pq)
	go mp.ttl.Start()
	return mp
}

// Close stops the background TTL-eviction goroutine.
func (mp *Mempool) Close() {
	mp.ttl.Stop()
}

// AddTransaction admits tx into the pool. Per-sender nonces must strictly
// increase; when the pool is at capacity, tx is admitted only if its fee
// rate exceeds the lowest-priority resident, which is then evicted.
func (mp *Mempool) AddTransaction(tx *core.Transaction) error {
	if tx == nil || len(tx.Hash) == 0 {
		return ErrNilTransaction
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()

	key := hex.EncodeToString(tx.Hash)
	if _, exists := mp.byHash[key]; exists {
		return ErrTxExists
	}

	fromKey := hex.EncodeToString(tx.From.Bytes())
	if last, ok := mp.byNonce[fromKey]; ok && tx.Nonce <= last {
		return ErrNonceTooLow
	}

	feeRate := feeRateOf(tx)
	if len(mp.byHash) >= mp.capacity {
		lowest := mp.pq[0]
		for _, e := range mp.pq[1:] {
			if e.feeRate < lowest.feeRate {
				lowest = e
			}
		}
		if feeRate <= lowest.feeRate {
			return ErrMempoolFull
		}
		mp.removeLocked(hex.EncodeToString(lowest.tx.Hash))
	}

	e := &entry{tx: tx, feeRate: feeRate}
	mp.byHash[key] = e
	mp.byNonce[fromKey] = tx.Nonce
	heap.Push(&mp.pq, e)
	mp.ttl.Set(key, struct{}{}, ttlcache.DefaultTTL)
	return nil
}

func feeRateOf(tx *core.Transaction) float64 {
	if tx.GasLimit == 0 {
		return float64(tx.Fee())
	}
	return float64(tx.Fee()) / float64(tx.GasLimit)
}

// GetBatch returns up to limit transactions in descending fee-rate
// priority order, without removing them from the pool. Per sender, a
// transaction is only eligible once every lower-nonce transaction from
// that same sender currently in the pool already appears earlier in the
// batch (SPEC_FULL §8: nonces must be released in strictly increasing
// order).
//
// The candidate set is copied into independent batchItem values rather
// than reusing the live *entry pointers backing mp.pq: mp.pq's heap
// methods write queueIdx on those entries, and doing that here (under
// only an RLock) would corrupt the resident priority queue and race with
// concurrent writers.
func (mp *Mempool) GetBatch(limit int) []*core.Transaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	if limit <= 0 || limit > len(mp.byHash) {
		limit = len(mp.byHash)
	}

	bySender := make(map[string][]*entry)
	for _, e := range mp.byHash {
		fromKey := hex.EncodeToString(e.tx.From.Bytes())
		bySender[fromKey] = append(bySender[fromKey], e)
	}
	for _, txs := range bySender {
		sort.Slice(txs, func(i, j int) bool { return txs[i].tx.Nonce < txs[j].tx.Nonce })
	}

	// ready holds, per sender, only the lowest-nonce transaction not yet
	// included in the batch; later nonces from that sender are queued in
	// pending until their predecessor is popped.
	ready := make(batchQueue, 0, len(bySender))
	pending := make(map[string][]*entry, len(bySender))
	for sender, txs := range bySender {
		ready = append(ready, batchItem{tx: txs[0].tx, feeRate: txs[0].feeRate, sender: sender})
		pending[sender] = txs[1:]
	}
	heap.Init(&ready)

	out := make([]*core.Transaction, 0, limit)
	for len(out) < limit && ready.Len() > 0 {
		item := heap.Pop(&ready).(batchItem)
		out = append(out, item.tx)
		if rest := pending[item.sender]; len(rest) > 0 {
			heap.Push(&ready, batchItem{tx: rest[0].tx, feeRate: rest[0].feeRate, sender: item.sender})
			pending[item.sender] = rest[1:]
		}
	}
	return out
}

// Remove evicts a transaction by hash, typically after block inclusion.
func (mp *Mempool) Remove(txHash []byte) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	key := hex.EncodeToString(txHash)
	mp.removeLocked(key)
	mp.ttl.Delete(key)
}

// removeLocked removes the entry for key; caller must hold mp.mu.
func (mp *Mempool) removeLocked(key string) {
	e, ok := mp.byHash[key]
	if !ok {
		return
	}
	heap.Remove(&mp.pq, e.queueIdx)
	delete(mp.byHash, key)
}

// Expire forces an immediate TTL sweep rather than waiting for the cache's
// own timer. Within this repository only tests call it.
func (mp *Mempool) Expire() {
	mp.ttl.DeleteExpired()
}

// Size returns the current number of resident transactions.
func (mp *Mempool) Size() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return len(mp.byHash)
}

// Stats summarizes the pool's current contents.
func (mp *Mempool) Stats() Stats {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	s := Stats{Size: len(mp.byHash)}
	var oldest int64
	for _, e := range mp.byHash {
		s.TotalFees += e.tx.Fee()
		if oldest == 0 || e.tx.Timestamp < oldest {
			oldest = e.tx.Timestamp
		}
	}
	s.OldestTxUnix = oldest
	return s
}

// priorityQueue implements container/heap as a max-heap over fee rate.
type priorityQueue []*entry

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	return pq[i].feeRate > pq[j].feeRate
}
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].queueIdx, pq[j].queueIdx = i, j
}
func (pq *priorityQueue) Push(x any) {
	e := x.(*entry)
	e.queueIdx = len(*pq)
	*pq = append(*pq, e)
}
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.queueIdx = -1
	*pq = old[:n-1]
	return e
}

// batchItem is GetBatch's value-type view of a candidate transaction: a
// plain snapshot, never aliased with the live entries in mp.pq.
type batchItem struct {
	tx      *core.Transaction
	feeRate float64
	sender  string
}

// batchQueue is a max-heap over batchItem.feeRate, scoped to one GetBatch
// call.
type batchQueue []batchItem

func (bq batchQueue) Len() int           { return len(bq) }
func (bq batchQueue) Less(i, j int) bool { return bq[i].feeRate > bq[j].feeRate }
func (bq batchQueue) Swap(i, j int)      { bq[i], bq[j] = bq[j], bq[i] }
func (bq *batchQueue) Push(x any)        { *bq = append(*bq, x.(batchItem)) }
func (bq *batchQueue) Pop() any {
	old := *bq
	n := len(old)
	item := old[n-1]
	*bq = old[:n-1]
	return item
}
