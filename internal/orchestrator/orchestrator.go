// Package orchestrator wires every component into a running node: the
// mempool+block-builder pipeline, the PoS consensus engine, durable chain
// storage, the peer registry, the circuit breaker, the health monitor, and
// event-driven peer sync. It owns the one ChainStore database handle and
// the one HMAC broadcast secret every other package borrows.
//
// Grounded on the teacher's cmd/empower1d/main.go construct-and-start
// sequence (state -> blockchain -> mempool -> consensus engine -> network
// -> start loop), generalized to build every SPEC_FULL component instead of
// the teacher's now-deleted UTXO-era types.
package orchestrator

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"empower1.com/ptcnode/internal/api"
	"empower1.com/ptcnode/internal/blockbuilder"
	"empower1.com/ptcnode/internal/breaker"
	"empower1.com/ptcnode/internal/chainstore"
	"empower1.com/ptcnode/internal/config"
	"empower1.com/ptcnode/internal/consensus"
	"empower1.com/ptcnode/internal/core"
	"empower1.com/ptcnode/internal/crypto"
	"empower1.com/ptcnode/internal/errkind"
	"empower1.com/ptcnode/internal/eventsync"
	"empower1.com/ptcnode/internal/health"
	"empower1.com/ptcnode/internal/ingest"
	"empower1.com/ptcnode/internal/mempool"
	"empower1.com/ptcnode/internal/peer"
	"empower1.com/ptcnode/internal/validator"
	"empower1.com/ptcnode/internal/vmhost"
)

var ErrNotLeaderThisHeight = errkind.New(errkind.Validation, errors.New("orchestrator: not the selected leader for this height, skipping proposal"))

// Node is the fully wired node: every package above, plus the loops that
// drive mining and peer health.
type Node struct {
	cfg    *config.Config
	nodeID string
	self   crypto.Address
	key    *ecdsa.PrivateKey
	log    *logrus.Logger

	Chain      *chainstore.ChainStore
	Validators *validator.Registry
	Mempool    *mempool.Mempool
	Builder    *blockbuilder.Builder
	Peers      *peer.Registry
	Breaker    *breaker.Breaker
	Health     *health.Monitor
	Queue      *eventsync.Queue
	Dispatcher *eventsync.Dispatcher
	Broadcast  *eventsync.Broadcaster
	Receiver   *eventsync.Receiver
	Ingestor   *ingest.Ingestor
	API        *api.Server
	Executor   vmhost.Executor

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New wires every component from cfg. key is this node's proposer signing
// key (nil is valid only when cfg.Consensus.AllowHMACFallback is set). The
// circuit breaker persists its state through the same database/sql handle
// ChainStore opens (SPEC_FULL §9), not a second connection to the same DSN.
func New(cfg *config.Config, key *ecdsa.PrivateKey, nodeID string, logger *logrus.Logger) (*Node, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	chain, err := chainstore.Open(cfg.Storage.MySQLDSN, cfg.Storage.FileMirrorPath)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open chain store: %w", err)
	}

	var self crypto.Address
	if key != nil {
		self = crypto.AddressFromPubKey(&key.PublicKey)
	}

	validators := validator.New(cfg.Consensus.Cooldown)
	mp := mempool.New(cfg.Mempool.Capacity, cfg.Mempool.TTL)
	builder := blockbuilder.New(cfg.AutoMine.MinTransactions == 0)
	peers := peer.New(10 * time.Minute)
	brk := breaker.New(breaker.DefaultConfig(), chain.DB())
	queue := eventsync.NewQueue(10_000)
	dispatcher := eventsync.NewDispatcher(queue)
	bcast := eventsync.NewBroadcaster(nodeID, []byte(cfg.Network.BroadcastSecret), brk, cfg.Network.MultiCurlMaxConcurrent)

	n := &Node{
		cfg:        cfg,
		nodeID:     nodeID,
		self:       self,
		key:        key,
		log:        logger,
		Chain:      chain,
		Validators: validators,
		Mempool:    mp,
		Builder:    builder,
		Peers:      peers,
		Breaker:    brk,
		Queue:      queue,
		Dispatcher: dispatcher,
		Broadcast:  bcast,
		Executor:   vmhost.NullExecutor{},
		stopChan:   make(chan struct{}),
	}

	n.Receiver = eventsync.NewReceiver(nodeID, []byte(cfg.Network.BroadcastSecret), queue, dispatcher, n.rebroadcast)
	n.Ingestor = ingest.NewIngestor(n.admitTransaction)
	n.Health = health.New(health.Dependencies{
		CollectHeartbeat:   n.collectHeartbeat,
		BroadcastHeartbeat: n.broadcastHeartbeat,
		LocalHeight:        chain.HeightOf,
		PollPeerHeights:    n.pollPeerHeights,
		TriggerSync:        n.triggerSync,
		LiveStats:          n.liveStats,
	}, health.DefaultSyncThreshold)

	n.API = &api.Server{
		Chain:        chain,
		Peers:        peers,
		Mempool:      mp,
		Ingestor:     n.Ingestor,
		NetworkName:  "ptcnode",
		Version:      "dev",
		ConsensusTag: "pos",
		DebugEnabled: cfg.API.DebugEnabled,
	}

	dispatcher.On(eventsync.EventBlockCreated, n.onRemoteBlock)

	return n, nil
}

// Self returns this node's derived proposer address.
func (n *Node) Self() crypto.Address {
	return n.self
}

// SeedGenesis registers self as the initial validator with the given stake
// and appends a signed genesis block, used once by the startup command when
// the chain store is empty.
func (n *Node) SeedGenesis(initialStake uint64) error {
	if err := n.Validators.Add(n.self, initialStake); err != nil {
		return fmt.Errorf("orchestrator: seed genesis validator: %w", err)
	}
	genesis := core.NewBlock(0, chainstore.GenesisParentHash, nil, n.self)
	if err := consensus.SignBlock(genesis, n.key, []byte(n.cfg.Network.BroadcastSecret), n.cfg.Consensus.AllowHMACFallback); err != nil {
		return fmt.Errorf("orchestrator: sign genesis block: %w", err)
	}
	if err := n.Chain.Append(genesis); err != nil {
		return fmt.Errorf("orchestrator: append genesis block: %w", err)
	}
	return nil
}

// Router builds the node's HTTP handler: spec §6 node/explorer endpoints
// plus the event-sync receiver.
func (n *Node) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	n.API.Routes(r)
	n.Receiver.Routes(r)
	return r
}

// Start launches the health monitor, the event dispatcher, and (when
// configured) the auto-mining loop.
func (n *Node) Start(ctx context.Context) {
	n.Health.Start()
	n.Dispatcher.Start()
	if n.cfg.AutoMine.Enabled {
		n.wg.Add(1)
		go n.runAutoMineLoop(ctx)
	}
	n.log.WithField("node_id", n.nodeID).Info("node started")
}

// Stop shuts every loop down and closes owned resources.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopChan)
		n.Health.Stop()
		n.Dispatcher.Stop()
		n.Receiver.Close()
		n.Broadcast.Close()
		n.Ingestor.Close()
		n.Mempool.Close()
		n.wg.Wait()
		if err := n.Chain.Close(); err != nil {
			n.log.WithError(err).Warn("error closing chain store")
		}
	})
	n.log.Info("node stopped")
}

// admitTransaction is the Ingestor sink: pending transactions land in the
// mempool.
func (n *Node) admitTransaction(tx *core.Transaction) error {
	return n.Mempool.AddTransaction(tx)
}

// runAutoMineLoop proposes a block whenever this node is the selected
// leader and the mempool satisfies cfg.AutoMine.MinTransactions, bounded by
// cfg.AutoMine.MaxBlocksPerMinute.
func (n *Node) runAutoMineLoop(ctx context.Context) {
	defer n.wg.Done()
	interval := time.Minute / time.Duration(maxInt(n.cfg.AutoMine.MaxBlocksPerMinute, 1))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopChan:
			return
		case <-ticker.C:
			if err := n.proposeIfLeader(); err != nil && !errors.Is(err, ErrNotLeaderThisHeight) && !errors.Is(err, blockbuilder.ErrEmptyMempool) {
				n.log.WithError(err).Warn("block proposal failed")
			}
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// proposeIfLeader packs, signs, appends, and broadcasts exactly one block
// when this node is the height's selected leader.
func (n *Node) proposeIfLeader() error {
	if n.cfg.AutoMine.MinTransactions > 0 && n.Mempool.Size() < n.cfg.AutoMine.MinTransactions {
		return blockbuilder.ErrEmptyMempool
	}

	var height uint64
	prevHash := chainstore.GenesisParentHash
	if latest := n.Chain.Latest(); latest != nil {
		height = latest.Height + 1
		prevHash = latest.Hash
	}

	active := n.Validators.GetActive()
	leader, err := consensus.SelectLeader(active, prevHash, height)
	if err != nil {
		return fmt.Errorf("orchestrator: select leader: %w", err)
	}
	if leader != n.self {
		return ErrNotLeaderThisHeight
	}

	block, err := n.Builder.Pack(n.Mempool, height, prevHash, n.self)
	if err != nil {
		return err
	}
	if err := consensus.SignBlock(block, n.key, []byte(n.cfg.Network.BroadcastSecret), n.cfg.Consensus.AllowHMACFallback); err != nil {
		return fmt.Errorf("orchestrator: sign block: %w", err)
	}
	if err := n.Chain.Append(block); err != nil {
		return fmt.Errorf("%w: %v", blockbuilder.ErrAppendConflict, err)
	}

	for _, tx := range block.Transactions {
		n.Mempool.Remove(tx.Hash)
	}
	n.executeContractTxs(block)
	if err := n.Validators.Reward(leader, blockReward(n.cfg, block)); err != nil {
		n.log.WithError(err).Warn("failed to credit block reward")
	}

	n.broadcastNewBlock(block)
	n.log.WithFields(logrus.Fields{"height": block.Height, "txs": len(block.Transactions)}).Info("proposed block")
	return nil
}

// executeContractTxs runs every TxContractDeploy/TxContractCall transaction
// in a newly appended block through the wired Executor. A node running
// without a real VM keeps the default NullExecutor, which just records
// success; this still exercises the vmhost boundary for every contract
// transaction that reaches a block.
func (n *Node) executeContractTxs(b *core.Block) {
	for _, tx := range b.Transactions {
		if tx.TxType != core.TxContractDeploy && tx.TxType != core.TxContractCall {
			continue
		}
		receipt, err := n.Executor.Execute(context.Background(), vmhost.ContractCall{Tx: tx, GasLimit: tx.GasLimit})
		if err != nil {
			n.log.WithError(err).WithField("tx", hex.EncodeToString(tx.Hash)).Warn("contract execution failed")
			continue
		}
		n.log.WithFields(logrus.Fields{"tx": hex.EncodeToString(tx.Hash), "gas_used": receipt.GasUsed, "success": receipt.Success}).Debug("contract executed")
	}
}

// blockReward computes the per-block validator reward from the configured
// reward rate, applied against the block's total transaction fees.
func blockReward(cfg *config.Config, b *core.Block) uint64 {
	var fees uint64
	for _, tx := range b.Transactions {
		fees += tx.Fee()
	}
	return uint64(float64(fees) * cfg.Consensus.RewardRate)
}

func (n *Node) broadcastNewBlock(b *core.Block) {
	payload := fmt.Sprintf(`{"height":%d,"hash":%q}`, b.Height, hex.EncodeToString(b.Hash))
	ev := eventsync.NewEvent(eventsync.EventBlockCreated, eventsync.PriorityHigh, []byte(payload), n.nodeID)
	targets := n.broadcastTargets()
	n.Broadcast.Broadcast(context.Background(), ev, targets)
}

func (n *Node) broadcastTargets() []eventsync.PeerTarget {
	active := n.Peers.Active()
	out := make([]eventsync.PeerTarget, 0, len(active))
	for _, p := range active {
		out = append(out, eventsync.PeerTarget{NodeID: p.NodeID, BaseURL: fmt.Sprintf("http://%s:%d", p.IPAddress, p.Port)})
	}
	return out
}

// rebroadcast forwards an event to peers not already in its path, used as
// Receiver's rebroadcast callback.
func (n *Node) rebroadcast(ev eventsync.Event) {
	n.Broadcast.Broadcast(context.Background(), ev, n.broadcastTargets())
}

// onRemoteBlock handles a dispatched EventBlockCreated by logging the
// notification. The node does not fetch or append remote blocks, here or
// in the sync-check path.
func (n *Node) onRemoteBlock(ev eventsync.Event) {
	n.log.WithField("source", ev.SourceNodeID).Debug("observed remote new-block event")
}

func (n *Node) collectHeartbeat() health.Heartbeat {
	return health.Heartbeat{
		NodeID:      n.nodeID,
		Height:      n.Chain.HeightOf(),
		MempoolSize: n.Mempool.Size(),
		Version:     "dev",
	}
}

func (n *Node) broadcastHeartbeat(hb health.Heartbeat) {
	payload := fmt.Sprintf(`{"node_id":%q,"height":%d,"mempool_size":%d}`, hb.NodeID, hb.Height, hb.MempoolSize)
	ev := eventsync.NewEvent(eventsync.EventHeartbeat, eventsync.PriorityLow, []byte(payload), n.nodeID)
	n.Broadcast.Broadcast(context.Background(), ev, n.broadcastTargets())
}

// pollPeerHeights is a placeholder for the actual peer-height RPC: the
// transport for height queries lives in the explorer/node API on each
// peer, which this node would call over HTTP. Hooking the real client in
// is left to the command that starts multiple nodes under test.
func (n *Node) pollPeerHeights(ctx context.Context) []health.PeerHeight {
	return nil
}

func (n *Node) triggerSync(targetHeight uint64, fromPeer string) {
	n.log.WithFields(logrus.Fields{"target_height": targetHeight, "from_peer": fromPeer}).Info("sync triggered")
	payload := fmt.Sprintf(`{"target_height":%d,"from_peer":%q}`, targetHeight, fromPeer)
	ev := eventsync.NewEvent(eventsync.EventSyncManualTrigger, eventsync.PriorityHigh, []byte(payload), n.nodeID)
	if err := n.Queue.Push(ev); err != nil {
		n.log.WithError(err).Warn("failed to enqueue sync trigger")
		return
	}
	n.Dispatcher.Notify()
}

func (n *Node) liveStats() health.Stats {
	active := n.Peers.Active()
	return health.Stats{ActivePeers: len(active)}
}
