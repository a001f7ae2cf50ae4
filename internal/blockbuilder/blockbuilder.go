// Package blockbuilder packs mempool transactions into a block proposal.
// It is deliberately pack-only: leader eligibility and broadcast/commit
// orchestration live in internal/orchestrator, resolving the cyclic
// dependency the teacher's internal/consensus.ProposerService had between
// proposal construction and network broadcast (SPEC_FULL §9).
package blockbuilder

import (
	"errors"

	"empower1.com/ptcnode/internal/core"
	"empower1.com/ptcnode/internal/crypto"
	"empower1.com/ptcnode/internal/errkind"
	"empower1.com/ptcnode/internal/mempool"
)

var (
	// ErrNotLeader is returned by the orchestrator's propose step when the
	// calling node is not the height's selected leader; kept here so every
	// caller along the propose pipeline shares one sentinel.
	ErrNotLeader = errkind.New(errkind.Validation, errors.New("blockbuilder: node is not the leader for this height"))
	// ErrEmptyMempool is returned by Pack when the mempool has no eligible
	// transactions and the builder is configured to require at least one.
	ErrEmptyMempool = errkind.New(errkind.Validation, errors.New("blockbuilder: mempool has no eligible transactions"))
	// ErrAppendConflict is returned by the orchestrator's commit step when
	// ChainStore rejects the packed block (parent hash/height race lost to
	// a concurrently appended block).
	ErrAppendConflict = errkind.New(errkind.Integrity, errors.New("blockbuilder: chain tip advanced before block could be appended"))
)

// MaxTxPerBlock bounds how many mempool entries a single block may include.
const MaxTxPerBlock = 2000

// Builder packs transactions from a Mempool into an unsigned block.
type Builder struct {
	AllowEmptyBlocks bool
}

// New constructs a Builder.
func New(allowEmptyBlocks bool) *Builder {
	return &Builder{AllowEmptyBlocks: allowEmptyBlocks}
}

// Pack selects up to MaxTxPerBlock transactions from mp in priority order
// and assembles them into an unsigned, unhashed block proposal for height,
// built on prevHash, attributed to proposer.
func (b *Builder) Pack(mp *mempool.Mempool, height uint64, prevHash []byte, proposer crypto.Address) (*core.Block, error) {
	txs := mp.GetBatch(MaxTxPerBlock)
	if len(txs) == 0 && !b.AllowEmptyBlocks {
		return nil, ErrEmptyMempool
	}
	return core.NewBlock(height, prevHash, txs, proposer), nil
}
