// Package api exposes spec §6's JSON HTTP surface: node registration, chain
// explorer reads, and raw-transaction submission. Handlers stay thin,
// delegating to internal/peer, internal/chainstore, internal/mempool, and
// internal/ingest; the wire shapes are internal/rpcapi's DTOs.
//
// Grounded on orbas1-Synnergy's github.com/go-chi/chi/v5 usage for a
// lightweight JSON node API; the node/explorer/submit concepts named here
// come from the teacher's doc-only internal/rpc stub, now given a
// concrete server.
package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"empower1.com/ptcnode/internal/chainstore"
	"empower1.com/ptcnode/internal/core"
	"empower1.com/ptcnode/internal/crypto"
	"empower1.com/ptcnode/internal/ingest"
	"empower1.com/ptcnode/internal/mempool"
	"empower1.com/ptcnode/internal/peer"
	"empower1.com/ptcnode/internal/rpcapi"
)

// Server holds the dependencies every handler delegates to.
type Server struct {
	Chain        *chainstore.ChainStore
	Peers        *peer.Registry
	Mempool      *mempool.Mempool
	Ingestor     *ingest.Ingestor
	NetworkName  string
	Version      string
	ConsensusTag string
	DebugEnabled bool
}

// Routes mounts every spec §6 endpoint this package owns onto router.
// POST /api/sync/events is mounted separately by internal/eventsync.Receiver.
func (s *Server) Routes(r chi.Router) {
	r.Post("/api/nodes/register", s.handleRegisterNode)
	r.Get("/api/explorer/stats", s.handleExplorerStats)
	r.Get("/api/explorer/blocks", s.handleExplorerBlocks)
	r.Get("/api/explorer/block", s.handleExplorerBlock)
	r.Get("/api/explorer/transactions", s.handleExplorerTransactions)
	r.Get("/api/explorer/transaction", s.handleExplorerTransaction)
	r.Post("/api/blockchain/submit", s.handleSubmitRawTx)
}

func writeEnvelope(w http.ResponseWriter, status int, env rpcapi.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func decodeJSON(req *http.Request, v any) error {
	defer req.Body.Close()
	return json.NewDecoder(req.Body).Decode(v)
}

func (s *Server) handleRegisterNode(w http.ResponseWriter, req *http.Request) {
	var body rpcapi.RegisterNodeRequest
	if err := decodeJSON(req, &body); err != nil {
		writeEnvelope(w, http.StatusBadRequest, rpcapi.Envelope{Status: "error", Message: err.Error()})
		return
	}
	if body.NodeID == "" {
		writeEnvelope(w, http.StatusBadRequest, rpcapi.Envelope{Status: "error", Message: "node_id is required"})
		return
	}
	pubKey, err := hex.DecodeString(body.PublicKey)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, rpcapi.Envelope{Status: "error", Message: "public_key must be hex-encoded"})
		return
	}
	if err := s.Peers.Register(body.NodeID, body.IPAddress, body.Port, pubKey, body.Version); err != nil {
		writeEnvelope(w, http.StatusConflict, rpcapi.Envelope{Status: "error", Message: err.Error()})
		return
	}
	writeEnvelope(w, http.StatusOK, rpcapi.Envelope{
		Status: "ok",
		Data: rpcapi.RegisterNodeData{
			NodeID:       body.NodeID,
			Domain:       body.Domain,
			RegisteredAt: time.Now().Unix(),
		},
	})
}

func (s *Server) handleExplorerStats(w http.ResponseWriter, req *http.Request) {
	latest := s.Chain.Latest()
	height := s.Chain.HeightOf()
	stats := rpcapi.ExplorerStats{
		Network:       s.NetworkName,
		CurrentHeight: height,
		Consensus:     s.ConsensusTag,
		Version:       s.Version,
	}
	if latest != nil {
		stats.LastBlockTime = latest.Timestamp
	}
	var total uint64
	for i := uint64(0); i <= height; i++ {
		if b, err := s.Chain.ByIndex(i); err == nil {
			total += uint64(len(b.Transactions))
		}
	}
	stats.TotalTransactions = total
	writeEnvelope(w, http.StatusOK, rpcapi.Envelope{Status: "ok", Data: stats})
}

// parsePagination reads page/limit query params, clamping limit to
// rpcapi.MaxPageLimit (spec §6).
func parsePagination(req *http.Request) rpcapi.Pagination {
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > rpcapi.MaxPageLimit {
		limit = rpcapi.MaxPageLimit
	}
	return rpcapi.Pagination{Page: page, Limit: limit}
}

func summarizeBlock(b *core.Block) rpcapi.BlockSummary {
	return rpcapi.BlockSummary{
		Hash:              hex.EncodeToString(b.Hash),
		ParentHash:        hex.EncodeToString(b.PrevBlockHash),
		Height:            b.Height,
		Timestamp:         b.Timestamp,
		Validator:         b.ProposerAddress.String(),
		TransactionsCount: len(b.Transactions),
	}
}

func summarizeTx(tx *core.Transaction, blockHash string, blockHeight uint64) rpcapi.TransactionSummary {
	return rpcapi.TransactionSummary{
		Hash:        hex.EncodeToString(tx.Hash),
		BlockHash:   blockHash,
		BlockHeight: blockHeight,
		From:        tx.From.String(),
		To:          tx.To.String(),
		Amount:      tx.Amount,
		Fee:         tx.Fee(),
		GasLimit:    tx.GasLimit,
		GasPrice:    tx.GasPrice,
		Nonce:       tx.Nonce,
		Status:      "confirmed",
		Timestamp:   tx.Timestamp,
	}
}

// handleExplorerBlocks lists blocks newest-first, paginated by height.
func (s *Server) handleExplorerBlocks(w http.ResponseWriter, req *http.Request) {
	pg := parsePagination(req)
	height := s.Chain.HeightOf()
	start := int64(height) - int64((pg.Page-1)*pg.Limit)
	out := make([]rpcapi.BlockSummary, 0, pg.Limit)
	for i := start; i >= 0 && len(out) < pg.Limit; i-- {
		b, err := s.Chain.ByIndex(uint64(i))
		if err != nil {
			continue
		}
		out = append(out, summarizeBlock(b))
	}
	writeEnvelope(w, http.StatusOK, rpcapi.Envelope{Status: "ok", Data: out})
}

// handleExplorerBlock resolves a block by ?hash= or ?height=.
func (s *Server) handleExplorerBlock(w http.ResponseWriter, req *http.Request) {
	var (
		b   *core.Block
		err error
	)
	if hashHex := req.URL.Query().Get("hash"); hashHex != "" {
		raw, decErr := hex.DecodeString(hashHex)
		if decErr != nil {
			writeEnvelope(w, http.StatusBadRequest, rpcapi.Envelope{Status: "error", Message: "invalid hash"})
			return
		}
		b, err = s.Chain.ByHash(raw)
	} else if heightStr := req.URL.Query().Get("height"); heightStr != "" {
		h, convErr := strconv.ParseUint(heightStr, 10, 64)
		if convErr != nil {
			writeEnvelope(w, http.StatusBadRequest, rpcapi.Envelope{Status: "error", Message: "invalid height"})
			return
		}
		b, err = s.Chain.ByIndex(h)
	} else {
		writeEnvelope(w, http.StatusBadRequest, rpcapi.Envelope{Status: "error", Message: "hash or height is required"})
		return
	}
	if errors.Is(err, chainstore.ErrNotFound) {
		writeEnvelope(w, http.StatusNotFound, rpcapi.Envelope{Status: "error", Message: "block not found"})
		return
	}
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, rpcapi.Envelope{Status: "error", Message: err.Error()})
		return
	}

	detail := rpcapi.BlockDetail{BlockSummary: summarizeBlock(b)}
	hashHex := hex.EncodeToString(b.Hash)
	for _, tx := range b.Transactions {
		detail.Transactions = append(detail.Transactions, summarizeTx(tx, hashHex, b.Height))
	}
	writeEnvelope(w, http.StatusOK, rpcapi.Envelope{Status: "ok", Data: detail})
}

// handleExplorerTransactions lists the most recent confirmed transactions,
// walking the chain tip-downward until limit is satisfied.
func (s *Server) handleExplorerTransactions(w http.ResponseWriter, req *http.Request) {
	pg := parsePagination(req)
	out := make([]rpcapi.TransactionSummary, 0, pg.Limit)
	skip := (pg.Page - 1) * pg.Limit
	height := s.Chain.HeightOf()
	for i := int64(height); i >= 0 && len(out) < pg.Limit; i-- {
		b, err := s.Chain.ByIndex(uint64(i))
		if err != nil {
			continue
		}
		hashHex := hex.EncodeToString(b.Hash)
		for j := len(b.Transactions) - 1; j >= 0; j-- {
			if skip > 0 {
				skip--
				continue
			}
			if len(out) >= pg.Limit {
				break
			}
			out = append(out, summarizeTx(b.Transactions[j], hashHex, b.Height))
		}
	}
	writeEnvelope(w, http.StatusOK, rpcapi.Envelope{Status: "ok", Data: out})
}

// handleExplorerTransaction resolves a single confirmed transaction by
// ?hash=, scanning blocks tip-downward. Unconfirmed mempool-only lookups are
// out of scope for this endpoint (spec §6 describes it as a chain lookup).
func (s *Server) handleExplorerTransaction(w http.ResponseWriter, req *http.Request) {
	hashHex := req.URL.Query().Get("hash")
	want, err := hex.DecodeString(hashHex)
	if hashHex == "" || err != nil {
		writeEnvelope(w, http.StatusBadRequest, rpcapi.Envelope{Status: "error", Message: "hash is required"})
		return
	}
	height := s.Chain.HeightOf()
	for i := int64(height); i >= 0; i-- {
		b, blkErr := s.Chain.ByIndex(uint64(i))
		if blkErr != nil {
			continue
		}
		for _, tx := range b.Transactions {
			if hex.EncodeToString(tx.Hash) == hex.EncodeToString(want) {
				writeEnvelope(w, http.StatusOK, rpcapi.Envelope{
					Status: "ok",
					Data:   summarizeTx(tx, hex.EncodeToString(b.Hash), b.Height),
				})
				return
			}
		}
	}
	writeEnvelope(w, http.StatusNotFound, rpcapi.Envelope{Status: "error", Message: "transaction not found"})
}

func (s *Server) handleSubmitRawTx(w http.ResponseWriter, req *http.Request) {
	var body rpcapi.SubmitRawTxRequest
	if err := decodeJSON(req, &body); err != nil {
		writeEnvelope(w, http.StatusBadRequest, rpcapi.Envelope{Status: "error", Message: err.Error()})
		return
	}
	var declared *crypto.Address
	if body.From != "" {
		raw, decErr := hex.DecodeString(body.From)
		if decErr != nil || len(raw) != len(crypto.Address{}) {
			writeEnvelope(w, http.StatusBadRequest, rpcapi.Envelope{Status: "error", Message: "invalid from address"})
			return
		}
		var addr crypto.Address
		copy(addr[:], raw)
		declared = &addr
	}
	// Ingestor.Submit dedupes by raw hash and hands the decoded transaction
	// to its configured sink (wired to s.Mempool.AddTransaction by the
	// orchestrator), so admission happens inside Submit, not here.
	tx, err := s.Ingestor.Submit(body.RawTransaction, declared)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, rpcapi.Envelope{Status: "error", Message: err.Error()})
		return
	}
	writeEnvelope(w, http.StatusOK, rpcapi.Envelope{
		Status: "ok",
		Data:   rpcapi.SubmitRawTxResponse{Hash: hex.EncodeToString(tx.Hash)},
	})
}
