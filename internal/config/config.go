// Package config loads the node's typed configuration from YAML plus
// environment overrides (spec §6 "Configuration").
//
// Grounded on orbas1-Synnergy's pkg/config/config.go: same
// viper.SetConfigName/AddConfigPath/SetConfigType/ReadInConfig +
// viper.AutomaticEnv shape, same nested-struct-with-mapstructure-tags
// layout. Unlike the teacher, Unmarshal uses UnmarshalExact so an unknown
// key is a startup error rather than a silently ignored typo (SPEC_FULL §9
// Open Question decision).
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the unified node configuration, one struct field group per
// spec §6 key prefix.
type Config struct {
	Blockchain struct {
		BlockTime    int `mapstructure:"block_time" json:"block_time"`
		MaxBlockSize int `mapstructure:"max_block_size" json:"max_block_size"`
	} `mapstructure:"blockchain" json:"blockchain"`

	Consensus struct {
		MinStake          uint64        `mapstructure:"min_stake" json:"min_stake"`
		RewardRate        float64       `mapstructure:"reward_rate" json:"reward_rate"`
		EpochLength       uint64        `mapstructure:"epoch_length" json:"epoch_length"`
		SlashingPenalty   uint64        `mapstructure:"slashing_penalty" json:"slashing_penalty"`
		AllowHMACFallback bool          `mapstructure:"allow_hmac_fallback" json:"allow_hmac_fallback"`
		Cooldown          time.Duration `mapstructure:"cooldown" json:"cooldown"`
	} `mapstructure:"consensus" json:"consensus"`

	Network struct {
		MaxPeers               int           `mapstructure:"max_peers" json:"max_peers"`
		BroadcastSecret        string        `mapstructure:"broadcast_secret" json:"broadcast_secret"`
		SyncBatchSize          int           `mapstructure:"sync_batch_size" json:"sync_batch_size"`
		MultiCurlMaxConcurrent int           `mapstructure:"multi_curl_max_concurrent" json:"multi_curl_max_concurrent"`
		MultiCurlTimeout       time.Duration `mapstructure:"multi_curl_timeout" json:"multi_curl_timeout"`
	} `mapstructure:"network" json:"network"`

	Broadcast struct {
		Enabled        bool          `mapstructure:"enabled" json:"enabled"`
		Timeout        time.Duration `mapstructure:"timeout" json:"timeout"`
		MaxRetries     int           `mapstructure:"max_retries" json:"max_retries"`
		MinSuccessRate float64       `mapstructure:"min_success_rate" json:"min_success_rate"`
	} `mapstructure:"broadcast" json:"broadcast"`

	AutoMine struct {
		Enabled                 bool `mapstructure:"enabled" json:"enabled"`
		MinTransactions         int  `mapstructure:"min_transactions" json:"min_transactions"`
		MaxTransactionsPerBlock int  `mapstructure:"max_transactions_per_block" json:"max_transactions_per_block"`
		MaxBlocksPerMinute      int  `mapstructure:"max_blocks_per_minute" json:"max_blocks_per_minute"`
	} `mapstructure:"auto_mine" json:"auto_mine"`

	Mempool struct {
		TTL      time.Duration `mapstructure:"ttl" json:"ttl"`
		Capacity int           `mapstructure:"capacity" json:"capacity"`
	} `mapstructure:"mempool" json:"mempool"`

	API struct {
		ListenAddr   string `mapstructure:"listen_addr" json:"listen_addr"`
		DebugEnabled bool   `mapstructure:"debug_enabled" json:"debug_enabled"`
	} `mapstructure:"api" json:"api"`

	Storage struct {
		MySQLDSN       string `mapstructure:"mysql_dsn" json:"mysql_dsn"`
		FileMirrorPath string `mapstructure:"file_mirror_path" json:"file_mirror_path"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// Load reads configName.yaml from configPath (and environment overrides via
// viper.AutomaticEnv), rejecting any key not recognized by Config.
func Load(configPath, configName string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(configName)
	v.AddConfigPath(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s/%s.yaml: %w", configPath, configName, err)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal (unknown key?): %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("consensus.allow_hmac_fallback", false)
	v.SetDefault("consensus.cooldown", 10*time.Minute)
	v.SetDefault("mempool.ttl", time.Hour)
	v.SetDefault("mempool.capacity", 50_000)
	v.SetDefault("api.debug_enabled", false)
	v.SetDefault("broadcast.enabled", true)
	v.SetDefault("broadcast.timeout", 5*time.Second)
}
