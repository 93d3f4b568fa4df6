package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/network"
	"github.com/stellar/go/strkey"
)

// Chain backends
const (
	ChainSimulated = "simulated"
	ChainJSONRPC   = "jsonrpc"
)

// Storage backends
const (
	StorageIPFS   = "ipfs"
	StorageMemory = "memory"
)

type Config struct {
	// Log level ( debug, info, warn, error )
	LogLevel string

	// Port of the HTTP API
	APIPort int

	// Postgres URL for the workflow journal ( empty keeps the journal in memory )
	DatabaseURL string

	// Network passphrase ( mainnet or testnet )
	NetworkPassphrase string

	// Network the wallet must stay on; a wallet reporting another one puts the
	// session in the error state ( empty disables the check )
	ExpectedNetwork string

	// Marketplace contract address
	ContractID string

	// Contract backend ( simulated or jsonrpc )
	ChainBackend string

	// JSON-RPC gateway of the deployed marketplace contract
	ChainRPCURL string

	// Stellar RPC endpoint used for the network health probe ( optional )
	StellarRPCURL string

	// Content storage backend ( ipfs or memory )
	StorageBackend string

	// IPFS HTTP API and gateway
	IPFSAPIURL        string
	IPFSGatewayURL    string
	IPFSProjectID     string
	IPFSProjectSecret string
	IPFSTimeout       time.Duration

	// Transaction confirmation
	TxPollInterval  time.Duration
	TxMaxWait       time.Duration
	TxAwaitAttempts int

	// Catalog
	CatalogFetchConcurrency int
	CatalogRefreshInterval  time.Duration

	// Decimal places of the marketplace currency on the wire ( 7 = stroops )
	CurrencyDecimals int32

	// Listing fee charged by the simulated contract
	ListingFee decimal.Decimal

	// Secret seeds loaded into the keystore wallet ( comma separated )
	WalletSeeds []string

	// Port the development chain serves its JSON-RPC gateway on
	DevChainPort int
}

// Load returns the configuration from the environment. Call godotenv.Load
// first to pick up a .env file.
func Load() *Config {
	return &Config{
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		APIPort:     getEnvAsInt("API_PORT", 8080),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		// Mainnet passphrase use: Public Global Stellar Network ; September 2015
		NetworkPassphrase: getEnv("NETWORK_PASSPHRASE", network.TestNetworkPassphrase),
		ExpectedNetwork:   getEnv("EXPECTED_NETWORK", ""),

		ContractID:    getEnv("CONTRACT_ID", ""),
		ChainBackend:  strings.ToLower(getEnv("CHAIN_BACKEND", ChainSimulated)),
		ChainRPCURL:   getEnv("CHAIN_RPC_URL", ""),
		StellarRPCURL: getEnv("STELLAR_RPC_URL", ""),

		StorageBackend:    strings.ToLower(getEnv("STORAGE_BACKEND", StorageMemory)),
		IPFSAPIURL:        getEnv("IPFS_API_URL", "http://127.0.0.1:5001"),
		IPFSGatewayURL:    getEnv("IPFS_GATEWAY_URL", "http://127.0.0.1:8081"),
		IPFSProjectID:     getEnv("IPFS_PROJECT_ID", ""),
		IPFSProjectSecret: getEnv("IPFS_PROJECT_SECRET", ""),
		IPFSTimeout:       getEnvAsMillis("IPFS_TIMEOUT_MS", 30000),

		TxPollInterval:  getEnvAsMillis("TX_POLL_INTERVAL_MS", 1000),
		TxMaxWait:       getEnvAsMillis("TX_MAX_WAIT_MS", 60000),
		TxAwaitAttempts: getEnvAsInt("TX_AWAIT_ATTEMPTS", 2),

		CatalogFetchConcurrency: getEnvAsInt("CATALOG_FETCH_CONCURRENCY", 8),
		CatalogRefreshInterval:  getEnvAsMillis("CATALOG_REFRESH_INTERVAL_MS", 30000),

		CurrencyDecimals: int32(getEnvAsInt("CURRENCY_DECIMALS", 7)),
		ListingFee:       getEnvAsDecimal("LISTING_FEE", decimal.RequireFromString("0.025")),
		WalletSeeds:      getEnvAsList("WALLET_SEEDS"),
		DevChainPort:     getEnvAsInt("DEVCHAIN_PORT", 8545),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.NetworkPassphrase == "" {
		return fmt.Errorf("NETWORK_PASSPHRASE is required")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT must be between 1 and 65535, got %d", c.APIPort)
	}
	if c.ContractID != "" {
		if _, err := strkey.Decode(strkey.VersionByteContract, c.ContractID); err != nil {
			return fmt.Errorf("CONTRACT_ID %q is not a valid contract address: %w", c.ContractID, err)
		}
	}

	switch c.ChainBackend {
	case ChainSimulated:
	case ChainJSONRPC:
		if c.ChainRPCURL == "" {
			return fmt.Errorf("CHAIN_RPC_URL is required for the %s backend", ChainJSONRPC)
		}
	default:
		return fmt.Errorf("unknown CHAIN_BACKEND %q", c.ChainBackend)
	}

	switch c.StorageBackend {
	case StorageMemory:
	case StorageIPFS:
		if c.IPFSAPIURL == "" || c.IPFSGatewayURL == "" {
			return fmt.Errorf("IPFS_API_URL and IPFS_GATEWAY_URL are required for the %s backend", StorageIPFS)
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	if c.TxPollInterval <= 0 || c.TxMaxWait < c.TxPollInterval {
		return fmt.Errorf("TX_MAX_WAIT_MS must be at least TX_POLL_INTERVAL_MS")
	}
	if c.TxAwaitAttempts < 1 {
		return fmt.Errorf("TX_AWAIT_ATTEMPTS must be at least 1")
	}
	if c.CatalogFetchConcurrency < 1 {
		return fmt.Errorf("CATALOG_FETCH_CONCURRENCY must be at least 1")
	}
	if c.CurrencyDecimals < 0 || c.CurrencyDecimals > 18 {
		return fmt.Errorf("CURRENCY_DECIMALS must be between 0 and 18")
	}
	if c.ListingFee.IsNegative() {
		return fmt.Errorf("LISTING_FEE must not be negative")
	}
	for i, seed := range c.WalletSeeds {
		if _, err := strkey.Decode(strkey.VersionByteSeed, seed); err != nil {
			return fmt.Errorf("WALLET_SEEDS entry %d is not a valid secret seed: %w", i, err)
		}
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	val, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvAsMillis(key string, defaultMs int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultMs)) * time.Millisecond
}

func getEnvAsDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	val, err := decimal.NewFromString(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
