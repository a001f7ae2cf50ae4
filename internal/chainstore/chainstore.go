// Package chainstore persists the append-only block chain and serves it by
// hash, height, or as the current tip. It dual-writes every appended block
// to a relational mirror (MySQL via database/sql + go-sql-driver/mysql,
// SPEC_FULL §4.4/§6) and a flat, length-prefixed append-only file mirror used
// to cross-check height on startup after a crash.
//
// Grounded on the teacher's internal/blockchain/blockchain.go: the height ==
// currentHeight+1 and prevHash-equality checks in AddBlock are preserved
// here almost verbatim, generalized to also serialize appends through a
// single writer lock and to fan the write out to two durable stores instead
// of one in-memory slice.
package chainstore

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	_ "github.com/go-sql-driver/mysql"

	"empower1.com/ptcnode/internal/core"
	"empower1.com/ptcnode/internal/errkind"
)

var (
	// ErrNotFound is returned by ByIndex/ByHash when no matching block exists.
	ErrNotFound = errkind.New(errkind.Resource, errors.New("chainstore: block not found"))
	// ErrParentMismatch is returned by Append when the candidate block's
	// PrevBlockHash does not equal the current tip's hash.
	ErrParentMismatch = errkind.New(errkind.Integrity, errors.New("chainstore: block parent hash does not match current tip"))
	// ErrHeightMismatch is returned by Append when the candidate block's
	// height is not exactly one past the current tip.
	ErrHeightMismatch = errkind.New(errkind.Integrity, errors.New("chainstore: block height is not current tip height + 1"))
	// ErrReplaceNotAllowed is returned by ReplaceTail per spec §4.4: the new
	// tail is shorter than the current chain, fails signature verification
	// against the current validator set, or fails append validation.
	ErrReplaceNotAllowed = errkind.New(errkind.Validation, errors.New("chainstore: replaceTail rejected"))
)

// dbExecer is satisfied by both *sql.DB and *sql.Tx, letting migrate run
// either directly or inside a transaction.
type dbExecer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// GenesisParentHash is the all-zero sentinel used as PrevBlockHash for the
// height-0 block (spec §8 test 1: "byIndex(0).parentHash == all-zero
// sentinel").
var GenesisParentHash = make([]byte, 32)

// snapshot is the immutable, lock-free-readable view of the chain held in
// memory. Every write to ChainStore publishes a new snapshot via RCU, the
// same pattern internal/validator.Registry uses for its active set.
type snapshot struct {
	byHeight    []*core.Block // index i holds height i
	byHash      map[string]*core.Block
	fileOffsets []int64 // fileOffsets[i] = byte offset of height i's record in the file mirror
}

// ChainStore is the durable, single-writer block store described in
// SPEC_FULL §4.4. All mutating calls (Append, ReplaceTail) serialize through
// mu; reads (Latest, ByIndex, ByHash, HeightOf) are lock-free snapshot reads.
type ChainStore struct {
	mu       sync.Mutex // single-writer discipline (spec §5)
	db       *sql.DB
	filePath string
	file     *os.File
	cur      atomic.Value // holds *snapshot
}

// Open connects to the relational mirror at dsn, migrates its schema,
// opens (or creates) the append-only file mirror at filePath, and replays
// both to reconstruct in-memory state. If the store is empty, the caller is
// expected to Append a genesis block next.
func Open(dsn string, filePath string) (*ChainStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("chainstore: open db: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("chainstore: migrate: %w", err)
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("chainstore: open file mirror: %w", err)
	}
	cs := &ChainStore{db: db, filePath: filePath, file: f}
	snap, err := replayFileMirror(f)
	if err != nil {
		return nil, fmt.Errorf("chainstore: replay file mirror: %w", err)
	}
	cs.cur.Store(snap)
	if err := cs.reconcileWithRelationalMirror(); err != nil {
		return nil, fmt.Errorf("chainstore: reconcile mirrors: %w", err)
	}
	return cs, nil
}

// DB returns the underlying relational-mirror handle, so other components
// (internal/breaker's persisted circuit state) can share the same
// connection pool instead of opening a second one to the same DSN.
func (cs *ChainStore) DB() *sql.DB {
	return cs.db
}

// Close releases the underlying database and file handles.
func (cs *ChainStore) Close() error {
	fileErr := cs.file.Close()
	dbErr := cs.db.Close()
	if fileErr != nil {
		return fileErr
	}
	return dbErr
}

func (cs *ChainStore) snapshot() *snapshot {
	return cs.cur.Load().(*snapshot)
}

// HeightOf returns the current tip height, or 0 with no blocks present.
func (cs *ChainStore) HeightOf() uint64 {
	snap := cs.snapshot()
	if len(snap.byHeight) == 0 {
		return 0
	}
	return uint64(len(snap.byHeight) - 1)
}

// Latest returns the current tip block, or nil if the store is empty.
func (cs *ChainStore) Latest() *core.Block {
	snap := cs.snapshot()
	if len(snap.byHeight) == 0 {
		return nil
	}
	return snap.byHeight[len(snap.byHeight)-1]
}

// ByIndex returns the block at height i.
func (cs *ChainStore) ByIndex(i uint64) (*core.Block, error) {
	snap := cs.snapshot()
	if i >= uint64(len(snap.byHeight)) {
		return nil, ErrNotFound
	}
	return snap.byHeight[i], nil
}

// ByHash returns the block with the given hash.
func (cs *ChainStore) ByHash(hash []byte) (*core.Block, error) {
	snap := cs.snapshot()
	b, ok := snap.byHash[string(hash)]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

// Append validates b against the current tip and, if valid, atomically
// writes it to the relational mirror, the file mirror, and publishes a new
// in-memory snapshot. Mirrors internal/blockchain.Blockchain.AddBlock's
// height/parentHash checks, generalized across two durable stores.
func (cs *ChainStore) Append(b *core.Block) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	snap := cs.snapshot()
	if err := validateLinkage(snap, b); err != nil {
		return err
	}
	if err := b.ValidateStructure(); err != nil {
		return err
	}

	if err := cs.insertBlockSQL(b); err != nil {
		return fmt.Errorf("chainstore: insert block %d: %w", b.Height, err)
	}
	offset, err := cs.appendFileMirror(b)
	if err != nil {
		return fmt.Errorf("chainstore: append file mirror for block %d: %w", b.Height, err)
	}

	next := &snapshot{
		byHeight:    append(append([]*core.Block{}, snap.byHeight...), b),
		byHash:      cloneHashIndex(snap.byHash),
		fileOffsets: append(append([]int64{}, snap.fileOffsets...), offset),
	}
	next.byHash[string(b.Hash)] = b
	cs.cur.Store(next)
	return nil
}

func validateLinkage(snap *snapshot, b *core.Block) error {
	wantHeight := uint64(len(snap.byHeight))
	if b.Height != wantHeight {
		return ErrHeightMismatch
	}
	if wantHeight == 0 {
		return nil
	}
	tip := snap.byHeight[len(snap.byHeight)-1]
	if !bytes.Equal(b.PrevBlockHash, tip.Hash) {
		return ErrParentMismatch
	}
	return nil
}

func cloneHashIndex(m map[string]*core.Block) map[string]*core.Block {
	next := make(map[string]*core.Block, len(m)+1)
	for k, v := range m {
		next[k] = v
	}
	return next
}

// ReplaceTail atomically replaces every block from fromIndex onward with
// blocks, per spec §4.4: rejected if the resulting chain would be shorter
// than the current one, if verify rejects any replacement block (the
// caller's hook into PoSEngine/ValidatorRegistry — chainstore itself has no
// notion of signatures or stake), or if any block fails structural or
// linkage validation. Either the whole suffix is replaced or the store is
// left unchanged.
func (cs *ChainStore) ReplaceTail(fromIndex uint64, blocks []*core.Block, verify func(*core.Block) error) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	snap := cs.snapshot()
	currentHeight := uint64(0)
	if len(snap.byHeight) > 0 {
		currentHeight = uint64(len(snap.byHeight) - 1)
	}
	if fromIndex == 0 || fromIndex > uint64(len(snap.byHeight)) {
		return fmt.Errorf("%w: fromIndex %d out of range", ErrReplaceNotAllowed, fromIndex)
	}
	newTipHeight := fromIndex + uint64(len(blocks)) - 1
	if len(blocks) == 0 || newTipHeight < currentHeight {
		return fmt.Errorf("%w: replacement tail is empty or shorter than the current chain", ErrReplaceNotAllowed)
	}

	prefix := append([]*core.Block{}, snap.byHeight[:fromIndex]...)
	prevHash := prefix[len(prefix)-1].Hash
	for i, b := range blocks {
		if verify != nil {
			if err := verify(b); err != nil {
				return fmt.Errorf("%w: block %d failed verification: %v", ErrReplaceNotAllowed, b.Height, err)
			}
		}
		if b.Height != fromIndex+uint64(i) {
			return fmt.Errorf("%w: block at position %d has height %d, want %d", ErrReplaceNotAllowed, i, b.Height, fromIndex+uint64(i))
		}
		if !bytes.Equal(b.PrevBlockHash, prevHash) {
			return fmt.Errorf("%w: block %d parent hash mismatch", ErrReplaceNotAllowed, b.Height)
		}
		if err := b.ValidateStructure(); err != nil {
			return fmt.Errorf("%w: block %d: %v", ErrReplaceNotAllowed, b.Height, err)
		}
		prevHash = b.Hash
	}

	if err := cs.deleteFromHeightSQL(fromIndex); err != nil {
		return fmt.Errorf("chainstore: replaceTail delete from %d: %w", fromIndex, err)
	}
	for _, b := range blocks {
		if err := cs.insertBlockSQL(b); err != nil {
			return fmt.Errorf("chainstore: replaceTail insert block %d: %w", b.Height, err)
		}
	}

	truncateAt := int64(0)
	if fromIndex < uint64(len(snap.fileOffsets)) {
		truncateAt = snap.fileOffsets[fromIndex]
	} else {
		info, err := cs.file.Stat()
		if err != nil {
			return fmt.Errorf("chainstore: replaceTail stat file mirror: %w", err)
		}
		truncateAt = info.Size()
	}
	if err := cs.file.Truncate(truncateAt); err != nil {
		return fmt.Errorf("chainstore: replaceTail truncate file mirror: %w", err)
	}
	if _, err := cs.file.Seek(truncateAt, 0); err != nil {
		return fmt.Errorf("chainstore: replaceTail seek file mirror: %w", err)
	}

	fileOffsets := append([]int64{}, snap.fileOffsets[:fromIndex]...)
	for _, b := range blocks {
		offset, err := cs.appendFileMirror(b)
		if err != nil {
			return fmt.Errorf("chainstore: replaceTail append file mirror block %d: %w", b.Height, err)
		}
		fileOffsets = append(fileOffsets, offset)
	}

	byHash := make(map[string]*core.Block, fromIndex+uint64(len(blocks)))
	for _, b := range prefix {
		byHash[string(b.Hash)] = b
	}
	for _, b := range blocks {
		byHash[string(b.Hash)] = b
	}
	next := &snapshot{
		byHeight:    append(prefix, blocks...),
		byHash:      byHash,
		fileOffsets: fileOffsets,
	}
	cs.cur.Store(next)
	return nil
}

func (cs *ChainStore) insertBlockSQL(b *core.Block) error {
	tx, err := cs.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO blocks (height, hash, prev_hash, timestamp, merkle_root, proposer_address, signature_scheme, signature, tx_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Height, b.Hash, b.PrevBlockHash, b.Timestamp, b.MerkleRoot, b.ProposerAddress.Bytes(), string(b.SignatureScheme), b.Signature, len(b.Transactions),
	); err != nil {
		tx.Rollback()
		return err
	}
	for _, t := range b.Transactions {
		if _, err := tx.Exec(
			`INSERT INTO transactions (hash, block_height, tx_type, from_address, to_address, amount, nonce, gas_limit, gas_price, data, timestamp, public_key, signature, raw_source)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.Hash, b.Height, string(t.TxType), t.From.Bytes(), t.To.Bytes(), t.Amount, t.Nonce, t.GasLimit, t.GasPrice, t.Data, t.Timestamp, t.PublicKey, t.Signature, t.RawSource,
		); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (cs *ChainStore) deleteFromHeightSQL(fromIndex uint64) error {
	tx, err := cs.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM transactions WHERE block_height >= ?`, fromIndex); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`DELETE FROM blocks WHERE height >= ?`, fromIndex); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// appendFileMirror writes b as a length-prefixed JSON record and returns the
// byte offset at which the record begins.
func (cs *ChainStore) appendFileMirror(b *core.Block) (int64, error) {
	info, err := cs.file.Stat()
	if err != nil {
		return 0, err
	}
	offset := info.Size()
	data, err := b.Serialize()
	if err != nil {
		return 0, err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := cs.file.WriteAt(lenBuf[:], offset); err != nil {
		return 0, err
	}
	if _, err := cs.file.WriteAt(data, offset+4); err != nil {
		return 0, err
	}
	return offset, nil
}

// replayFileMirror reconstructs a snapshot by reading every length-prefixed
// record in f from the start.
func replayFileMirror(f *os.File) (*snapshot, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	snap := &snapshot{byHash: make(map[string]*core.Block)}
	var offset int64
	for {
		var lenBuf [4]byte
		n, err := f.ReadAt(lenBuf[:], offset)
		if n < 4 {
			break
		}
		if err != nil && n != 4 {
			return nil, err
		}
		recLen := binary.BigEndian.Uint32(lenBuf[:])
		data := make([]byte, recLen)
		if _, err := f.ReadAt(data, offset+4); err != nil {
			return nil, fmt.Errorf("truncated file mirror record at offset %d: %w", offset, err)
		}
		b, err := core.DeserializeBlock(data)
		if err != nil {
			return nil, err
		}
		snap.byHeight = append(snap.byHeight, b)
		snap.byHash[string(b.Hash)] = b
		snap.fileOffsets = append(snap.fileOffsets, offset)
		offset += 4 + int64(recLen)
	}
	if _, err := f.Seek(0, 2); err != nil {
		return nil, err
	}
	return snap, nil
}

// reconcileWithRelationalMirror implements the §7 fatal-recovery rule: on
// startup, if the file mirror (the source of truth used here, since it is
// replayed in full) disagrees with the relational mirror's recorded height,
// the file mirror wins and the relational mirror is rebuilt to match it.
func (cs *ChainStore) reconcileWithRelationalMirror() error {
	snap := cs.snapshot()
	var dbHeight sql.NullInt64
	row := cs.db.QueryRow(`SELECT MAX(height) FROM blocks`)
	if err := row.Scan(&dbHeight); err != nil {
		return err
	}
	fileHeight := int64(-1)
	if len(snap.byHeight) > 0 {
		fileHeight = int64(len(snap.byHeight) - 1)
	}
	if dbHeight.Valid && dbHeight.Int64 == fileHeight {
		return nil
	}
	if err := cs.deleteFromHeightSQL(0); err != nil {
		return err
	}
	for _, b := range snap.byHeight {
		if err := cs.insertBlockSQL(b); err != nil {
			return err
		}
	}
	return nil
}
