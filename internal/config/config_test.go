package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/subfrost/espo/internal/schema"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.NetworkType != NetworkMainnet {
		t.Errorf("network = %v, want mainnet", cfg.NetworkType)
	}
	if cfg.Indexer.AofDepth != 100 {
		t.Errorf("aof depth = %d, want 100", cfg.Indexer.AofDepth)
	}

	if _, err := os.Stat(filepath.Join(dir, ConfigFileName)); err != nil {
		t.Errorf("default config file not created: %v", err)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.NetworkType = NetworkTestnet
	cfg.Indexer.BlockDelayMs = 250
	cfg.Indexer.ViewOnly = true
	cfg.RPC.Listen = "127.0.0.1:9999"

	if err := cfg.Save(filepath.Join(dir, ConfigFileName)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.NetworkType != NetworkTestnet {
		t.Errorf("network = %v", loaded.NetworkType)
	}
	if loaded.Indexer.BlockDelayMs != 250 || !loaded.Indexer.ViewOnly {
		t.Errorf("indexer section = %+v", loaded.Indexer)
	}
	if loaded.RPC.Listen != "127.0.0.1:9999" {
		t.Errorf("listen = %q", loaded.RPC.Listen)
	}
}

func TestNetworkConstants(t *testing.T) {
	if GenesisHeight(NetworkMainnet) != 904_648 {
		t.Errorf("mainnet genesis = %d", GenesisHeight(NetworkMainnet))
	}
	if GenesisHeight(NetworkRegtest) != 0 {
		t.Errorf("regtest genesis = %d", GenesisHeight(NetworkRegtest))
	}

	factory, err := AmmFactory(NetworkMainnet)
	if err != nil {
		t.Fatalf("AmmFactory(mainnet) error = %v", err)
	}
	if factory != (schema.AlkaneId{Block: 4, Tx: 65522}) {
		t.Errorf("factory = %v", factory)
	}
	if _, err := AmmFactory(NetworkRegtest); err == nil {
		t.Error("AmmFactory(regtest) should not be defined")
	}

	units := CanonicalQuoteUnits(NetworkMainnet)
	if units[schema.AlkaneId{Block: 32, Tx: 0}] != UnitBtc {
		t.Error("(32,0) should be the BTC canonical quote")
	}
	if units[schema.AlkaneId{Block: 2, Tx: 56801}] != UnitUsd {
		t.Error("(2,56801) should be the USD canonical quote")
	}
}
