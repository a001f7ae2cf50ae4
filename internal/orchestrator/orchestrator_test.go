package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"empower1.com/ptcnode/internal/config"
	"empower1.com/ptcnode/internal/core"
	"empower1.com/ptcnode/internal/crypto"
)

func TestBlockReward_AppliesRewardRate(t *testing.T) {
	var cfg config.Config
	cfg.Consensus.RewardRate = 0.5
	b := &core.Block{Transactions: []*core.Transaction{
		{GasLimit: 10, GasPrice: 2},
		{GasLimit: 5, GasPrice: 4},
	}}
	// fees = 10*2 + 5*4 = 40, reward = 40*0.5 = 20
	if got := blockReward(&cfg, b); got != 20 {
		t.Errorf("blockReward() = %d, want 20", got)
	}
}

func TestMaxInt(t *testing.T) {
	if maxInt(3, 5) != 5 {
		t.Errorf("maxInt(3,5) = %d, want 5", maxInt(3, 5))
	}
	if maxInt(0, 0) != 0 {
		t.Errorf("maxInt(0,0) = %d, want 0", maxInt(0, 0))
	}
}

// TestNew_RequiresLiveMySQL exercises the full wiring path against a real
// MySQL instance. Skipped unless ORCHESTRATOR_TEST_DSN is set, mirroring
// internal/chainstore's test convention.
func TestNew_RequiresLiveMySQL(t *testing.T) {
	dsn := os.Getenv("ORCHESTRATOR_TEST_DSN")
	if dsn == "" {
		t.Skip("ORCHESTRATOR_TEST_DSN not set, skipping live-MySQL orchestrator test")
	}

	priv, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}

	var cfg config.Config
	cfg.Storage.MySQLDSN = dsn
	cfg.Storage.FileMirrorPath = filepath.Join(t.TempDir(), "chain.log")
	cfg.Mempool.Capacity = 100
	cfg.Mempool.TTL = time.Hour
	cfg.Network.MultiCurlMaxConcurrent = 2
	cfg.AutoMine.MaxBlocksPerMinute = 1

	node, err := New(&cfg, priv, "test-node", nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer node.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	node.Start(ctx)

	if err := node.SeedGenesis(1000); err != nil {
		t.Fatalf("SeedGenesis() error = %v", err)
	}
	if node.Chain.HeightOf() != 0 {
		t.Errorf("HeightOf() = %d, want 0", node.Chain.HeightOf())
	}
}
