package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestLoad_AppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir, "default", `
blockchain:
  block_time: 5
  max_block_size: 1024
consensus:
  min_stake: 1000
  reward_rate: 0.1
  epoch_length: 100
  slashing_penalty: 10
network:
  max_peers: 10
  broadcast_secret: "s3cr3t"
  sync_batch_size: 50
  multi_curl_max_concurrent: 4
  multi_curl_timeout: 5s
broadcast:
  max_retries: 3
  min_success_rate: 0.5
auto_mine:
  enabled: true
  min_transactions: 1
  max_transactions_per_block: 100
  max_blocks_per_minute: 6
api:
  listen_addr: ":9090"
storage:
  mysql_dsn: "dsn"
  file_mirror_path: "chain.log"
logging:
  level: "debug"
`)

	cfg, err := Load(dir, "default")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Blockchain.BlockTime != 5 {
		t.Errorf("BlockTime = %d, want 5", cfg.Blockchain.BlockTime)
	}
	if cfg.Consensus.AllowHMACFallback != false {
		t.Errorf("AllowHMACFallback default = %v, want false", cfg.Consensus.AllowHMACFallback)
	}
	if cfg.Mempool.Capacity != 50_000 {
		t.Errorf("Mempool.Capacity default = %d, want 50000", cfg.Mempool.Capacity)
	}
	if cfg.Network.BroadcastSecret != "s3cr3t" {
		t.Errorf("BroadcastSecret = %q, want s3cr3t", cfg.Network.BroadcastSecret)
	}
	if cfg.AutoMine.MaxBlocksPerMinute != 6 {
		t.Errorf("MaxBlocksPerMinute = %d, want 6", cfg.AutoMine.MaxBlocksPerMinute)
	}
}

func TestLoad_RejectsUnknownKey(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir, "default", `
blockchain:
  block_time: 5
unknown_section:
  foo: bar
`)

	if _, err := Load(dir, "default"); err == nil {
		t.Error("Load() with unknown key = nil error, want error")
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir, "nonexistent"); err == nil {
		t.Error("Load() with missing file = nil error, want error")
	}
}
