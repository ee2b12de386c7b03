// Package config provides centralized configuration for the espo indexer.
// All network constants (genesis height, canonical quotes, factory ids)
// are defined here; no hardcoded values should exist elsewhere.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// NetworkType represents the Bitcoin network being indexed.
type NetworkType string

const (
	NetworkMainnet NetworkType = "mainnet"
	NetworkTestnet NetworkType = "testnet"
	NetworkRegtest NetworkType = "regtest"
)

// AppConfig holds all configuration for the indexer, constructed once at
// startup and passed by reference to each component.
type AppConfig struct {
	// NetworkType selects the constants set (genesis height, canonical
	// quotes, AMM factory address).
	NetworkType NetworkType `yaml:"network"`

	Storage StorageConfig `yaml:"storage"`
	Indexer IndexerConfig `yaml:"indexer"`
	RPC     RPCConfig     `yaml:"rpc"`
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig holds store locations.
type StorageConfig struct {
	// DBPath is the primary KV store location.
	DBPath string `yaml:"db_path"`

	// AofPath is the AOF log store location.
	AofPath string `yaml:"aof_path"`
}

// IndexerConfig holds indexing-loop settings.
type IndexerConfig struct {
	// AofDepth is the number of blocks retained for reorg revert.
	AofDepth uint32 `yaml:"aof_depth"`

	// BlockDelayMs throttles between blocks when non-zero.
	BlockDelayMs uint64 `yaml:"indexer_block_delay_ms"`

	// ViewOnly disables indexing; only reads are served.
	ViewOnly bool `yaml:"view_only"`

	// SourceURL is the base URL of the chain source (esplora-compatible).
	SourceURL string `yaml:"source_url"`

	// EssentialsURL is the base URL of the essentials module serving the
	// creation-record and balance feeds.
	EssentialsURL string `yaml:"essentials_url"`
}

// RPCConfig holds the read-surface settings.
type RPCConfig struct {
	// Listen is the JSON-RPC listen address.
	Listen string `yaml:"listen"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`
}

// IsMainnet reports whether the config targets mainnet.
func (c *AppConfig) IsMainnet() bool {
	return c.NetworkType == NetworkMainnet
}

// DefaultConfig returns an AppConfig with sensible defaults.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		NetworkType: NetworkMainnet,
		Storage: StorageConfig{
			DBPath:  "~/.espo/db",
			AofPath: "~/.espo/aof",
		},
		Indexer: IndexerConfig{
			AofDepth:      100,
			BlockDelayMs:  0,
			ViewOnly:      false,
			SourceURL:     "https://mempool.space/api",
			EssentialsURL: "http://127.0.0.1:8552",
		},
		RPC: RPCConfig{
			Listen: "127.0.0.1:8545",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "espo.yaml"

// Load loads configuration from a YAML file in dataDir. If the file does
// not exist, one with default values is created.
func Load(dataDir string) (*AppConfig, error) {
	expandedDir := ExpandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DBPath = filepath.Join(dataDir, "db")
		cfg.Storage.AofPath = filepath.Join(dataDir, "aof")
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Indexer.AofDepth == 0 {
		cfg.Indexer.AofDepth = 100
	}

	return cfg, nil
}

// Save writes the config as YAML to path, creating parent directories.
func (c *AppConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, raw, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ConfigPath returns the config file path for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), ConfigFileName)
}

// ExpandPath expands ~ to the home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
