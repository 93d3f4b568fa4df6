package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"LOG_LEVEL", "API_PORT", "NETWORK_PASSPHRASE", "CHAIN_BACKEND", "STORAGE_BACKEND", "TX_MAX_WAIT_MS", "WALLET_SEEDS"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.NetworkPassphrase != network.TestNetworkPassphrase {
		t.Errorf("Expected testnet passphrase, got %q", cfg.NetworkPassphrase)
	}
	if cfg.ChainBackend != ChainSimulated || cfg.StorageBackend != StorageMemory {
		t.Errorf("Unexpected backends: %s / %s", cfg.ChainBackend, cfg.StorageBackend)
	}
	if cfg.TxMaxWait != time.Minute || cfg.CurrencyDecimals != 7 {
		t.Errorf("Unexpected defaults: wait=%s decimals=%d", cfg.TxMaxWait, cfg.CurrencyDecimals)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default configuration must be valid: %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	seed := keypair.MustRandom().Seed()
	t.Setenv("API_PORT", "9090")
	t.Setenv("CHAIN_BACKEND", "JSONRPC")
	t.Setenv("CHAIN_RPC_URL", "http://localhost:8000/rpc")
	t.Setenv("TX_POLL_INTERVAL_MS", "250")
	t.Setenv("LISTING_FEE", "0.5")
	t.Setenv("WALLET_SEEDS", " "+seed+" ,, ")

	cfg := Load()
	if cfg.APIPort != 9090 || cfg.ChainBackend != ChainJSONRPC || cfg.TxPollInterval != 250*time.Millisecond {
		t.Errorf("Environment not applied: %+v", cfg)
	}
	if cfg.ListingFee.String() != "0.5" {
		t.Errorf("Expected fee 0.5, got %s", cfg.ListingFee)
	}
	if len(cfg.WalletSeeds) != 1 || cfg.WalletSeeds[0] != seed {
		t.Errorf("Expected one trimmed seed, got %v", cfg.WalletSeeds)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid configuration, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"jsonrpc without url", func(c *Config) { c.ChainBackend = ChainJSONRPC }, "CHAIN_RPC_URL"},
		{"unknown chain backend", func(c *Config) { c.ChainBackend = "evm" }, "CHAIN_BACKEND"},
		{"unknown storage backend", func(c *Config) { c.StorageBackend = "s3" }, "STORAGE_BACKEND"},
		{"account id as contract", func(c *Config) { c.ContractID = keypair.MustRandom().Address() }, "CONTRACT_ID"},
		{"wait shorter than poll", func(c *Config) { c.TxMaxWait = c.TxPollInterval / 2 }, "TX_MAX_WAIT_MS"},
		{"no await attempts", func(c *Config) { c.TxAwaitAttempts = 0 }, "TX_AWAIT_ATTEMPTS"},
		{"bad seed", func(c *Config) { c.WalletSeeds = []string{"SNOTASEED"} }, "WALLET_SEEDS"},
		{"bad port", func(c *Config) { c.APIPort = 0 }, "API_PORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			cfg.StorageBackend = StorageMemory
			cfg.ChainBackend = ChainSimulated
			cfg.ChainRPCURL = ""
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}
