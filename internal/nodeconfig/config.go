// Package nodeconfig loads the node's layered configuration: compiled-in
// defaults, a YAML file selected by network name, environment variables,
// and explicit overrides, in the precedence spec.md §6 states: explicit
// map entry > environment variable > compiled-in default > absent.
// Grounded on orbas1-Synnergy/synnergy-network/pkg/config/config.go's
// viper-based Load/LoadFromEnv pattern.
package nodeconfig

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the unified node configuration, mirroring the teacher's
// nested-struct-per-concern shape. Treated as an immutable snapshot once
// returned from Load — see DESIGN.md's Open Question decisions for why.
type Config struct {
	Network string `mapstructure:"network" json:"network"`
	DataDir string `mapstructure:"data_dir" json:"data_dir"`

	Store struct {
		Path string `mapstructure:"path" json:"path"`
		Sync bool   `mapstructure:"sync" json:"sync"`
	} `mapstructure:"store" json:"store"`

	Sequencer struct {
		PrivateKeyHex string `mapstructure:"private_key_hex" json:"private_key_hex"`
	} `mapstructure:"sequencer" json:"sequencer"`

	Executor struct {
		VMEndpoint   string `mapstructure:"vm_endpoint" json:"vm_endpoint"`
		SMTCacheSize int    `mapstructure:"smt_cache_size" json:"smt_cache_size"`
	} `mapstructure:"executor" json:"executor"`

	DA struct {
		MaxBlockTxs   uint64 `mapstructure:"max_block_txs" json:"max_block_txs"`
		TurboEndpoint string `mapstructure:"turbo_endpoint" json:"turbo_endpoint"`
		TurboAPIKey   string `mapstructure:"turbo_api_key" json:"turbo_api_key"`
		LightEndpoint string `mapstructure:"light_endpoint" json:"light_endpoint"`
		RatePerMinute int    `mapstructure:"rate_per_minute" json:"rate_per_minute"`
		MaxTurboRetry int    `mapstructure:"max_turbo_retry" json:"max_turbo_retry"`
	} `mapstructure:"da" json:"da"`

	Indexer struct {
		DSN string `mapstructure:"dsn" json:"dsn"`
	} `mapstructure:"indexer" json:"indexer"`

	L1 struct {
		BitcoinRPCURL      string `mapstructure:"bitcoin_rpc_url" json:"bitcoin_rpc_url"`
		BitcoinRPCUsername string `mapstructure:"bitcoin_rpc_username" json:"bitcoin_rpc_username"`
		BitcoinRPCPassword string `mapstructure:"bitcoin_rpc_password" json:"bitcoin_rpc_password"`
		EthRPCURL          string `mapstructure:"eth_rpc_url" json:"eth_rpc_url"`
	} `mapstructure:"l1" json:"l1"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
	} `mapstructure:"logging" json:"logging"`
}

// defaults are the compiled-in values, the lowest-precedence layer.
func setDefaults(v *viper.Viper) {
	v.SetDefault("network", "local")
	v.SetDefault("store.path", "./data/store")
	v.SetDefault("store.sync", true)
	v.SetDefault("executor.vm_endpoint", "127.0.0.1:9090")
	v.SetDefault("executor.smt_cache_size", 65536)
	v.SetDefault("da.max_block_txs", 8192)
	v.SetDefault("da.rate_per_minute", 20)
	v.SetDefault("da.max_turbo_retry", 5)
	v.SetDefault("indexer.dsn", "file:indexer.db")
	v.SetDefault("logging.level", "info")
}

// envBindings names the environment variables spec.md §6 lists, each
// bound to its config key.
var envBindings = map[string]string{
	"data_dir":                "KANARI_CONFIG_DIR",
	"l1.eth_rpc_url":          "ETH_RPC_URL",
	"l1.bitcoin_rpc_url":      "BITCOIN_RPC_URL",
	"l1.bitcoin_rpc_username": "BTC_RPC_USERNAME",
	"l1.bitcoin_rpc_password": "BTC_RPC_PASSWORD",
}

// Load builds a Config for the named network, reading
// "<configDir>/<network>.yaml" if present, applying spec.md §6's bound
// environment variables, then overrides (the highest-precedence layer —
// typically CLI flags) on top.
func Load(configDir, network string, overrides map[string]string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.Set("network", network)

	v.SetConfigName(network)
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("nodeconfig: read config: %w", err)
		}
	}

	for key, envVar := range envBindings {
		if err := v.BindEnv(key, envVar); err != nil {
			return nil, fmt.Errorf("nodeconfig: bind env %s: %w", envVar, err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("nodeconfig: unmarshal: %w", err)
	}
	return &cfg, nil
}
