package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace/internal/api"
	"marketplace/internal/catalog"
	"marketplace/internal/chain"
	"marketplace/internal/chain/jsonrpc"
	"marketplace/internal/config"
	"marketplace/internal/ipfs"
	"marketplace/internal/listing"
	"marketplace/internal/retry"
	"marketplace/internal/storage"
	"marketplace/internal/wallet"

	"github.com/joho/godotenv"
)

func main() {
	fmt.Println("🌟 Starting Marketplace...")

	// 1. Load configuration
	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	// 2. Configure logger
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Configuration loaded",
		"network", cfg.NetworkPassphrase,
		"chain_backend", cfg.ChainBackend,
		"storage_backend", cfg.StorageBackend,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Workflow journal
	var journal storage.Repository
	if cfg.DatabaseURL != "" {
		repository, err := storage.NewPostgresRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("❌ Failed to connect to database: %v", err)
		}
		journal = repository
		slog.Info("Database connected successfully")
	} else {
		journal = storage.NewMemoryRepository()
		slog.Warn("DATABASE_URL not set, workflow journal is kept in memory")
	}
	defer journal.Close()

	// 4. Wallet and session
	keystore, err := wallet.NewKeystore(cfg.NetworkPassphrase, wallet.AutoApprove, cfg.WalletSeeds...)
	if err != nil {
		log.Fatalf("❌ Failed to load wallet: %v", err)
	}
	if len(cfg.WalletSeeds) == 0 {
		address, err := keystore.Generate()
		if err != nil {
			log.Fatalf("❌ Failed to generate wallet account: %v", err)
		}
		slog.Warn("WALLET_SEEDS not set, using an ephemeral account", "account", address)
	}

	sessions := newSessions(keystore, cfg.ExpectedNetwork)
	defer sessions.Close()
	if sess, err := sessions.Restore(ctx); err != nil {
		slog.Warn("Failed to restore wallet session", "error", err)
	} else {
		slog.Info("Wallet session", "state", sess.State)
	}

	// 5. Contract backend
	contract, err := newContract(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to create contract backend: %v", err)
	}
	if closer, ok := contract.(io.Closer); ok {
		defer closer.Close()
	}
	chainClient := chain.NewClient(contract, keystore, chain.Config{
		PollInterval: cfg.TxPollInterval,
		MaxWait:      cfg.TxMaxWait,
	})

	var probe api.Probe
	if cfg.StellarRPCURL != "" {
		p := jsonrpc.NewProbe(cfg.StellarRPCURL)
		if latest, err := p.LatestLedger(ctx); err != nil {
			slog.Warn("Stellar RPC is not reachable", "rpc_server", cfg.StellarRPCURL, "error", err)
		} else {
			slog.Info("Stellar RPC reachable", "latest_ledger", latest)
		}
		probe = p
	}

	// 6. Content storage
	var store listing.Storage
	switch cfg.StorageBackend {
	case config.StorageIPFS:
		store = ipfs.NewClient(ipfs.Config{
			APIURL:        cfg.IPFSAPIURL,
			GatewayURL:    cfg.IPFSGatewayURL,
			ProjectID:     cfg.IPFSProjectID,
			ProjectSecret: cfg.IPFSProjectSecret,
			Timeout:       cfg.IPFSTimeout,
		})
	default:
		store = ipfs.NewMemoryStore()
		slog.Warn("Using in-memory content storage, assets are lost on restart")
	}

	// 7. Listing service and catalog
	strategy := retry.NewStrategy(retry.LoadConfig())
	listings, err := listing.NewService(store, chainClient, sessions, journal, strategy, listing.Config{
		FetchConcurrency: cfg.CatalogFetchConcurrency,
		AwaitAttempts:    cfg.TxAwaitAttempts,
	})
	if err != nil {
		log.Fatalf("❌ Failed to create listing service: %v", err)
	}

	cache := catalog.NewCache(listings)
	listings.SetLookup(cache)
	refresher := catalog.NewRefresher(cache, cfg.CatalogRefreshInterval, listings.Outcomes())

	// 8. HTTP API
	server := api.NewServer(cfg.APIPort, api.Dependencies{
		Sessions: sessions,
		Listings: listings,
		Catalog:  cache,
		Journal:  journal,
		Probe:    probe,
	})
	if err := server.Start(); err != nil {
		log.Fatalf("❌ Failed to start API server: %v", err)
	}

	// 9. Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := refresher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- err
		}
	}()

	slog.Info("✅ Marketplace ready", "port", cfg.APIPort, "retry_strategy", strategy.Name())

	select {
	case <-sigChan:
		slog.Warn("Interrupt received, shutting down...")
	case err := <-errChan:
		slog.Error("Catalog refresher error", "error", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error stopping API server", "error", err)
	}

	slog.Info("Marketplace stopped")
}
