// Command devchain runs the simulated marketplace contract behind the JSON-RPC
// gateway protocol, for running the daemon with CHAIN_BACKEND=jsonrpc locally.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace/internal/chain/jsonrpc"
	"marketplace/internal/chain/simulated"
	"marketplace/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	ledger := simulated.New(simulated.Options{
		ContractID: cfg.ContractID,
		Network:    cfg.NetworkPassphrase,
		ListingFee: cfg.ListingFee,
		AutoMine:   true,
	})

	rpcHandler := jsonrpc.NewHandler(ledger, cfg.CurrencyDecimals)
	defer rpcHandler.Close()

	mux := http.NewServeMux()
	mux.Handle("/rpc", rpcHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok pending=%d\n", ledger.Pending())
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.DevChainPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("🔗 Development chain listening",
			"port", cfg.DevChainPort,
			"contract_id", ledger.ContractID(),
			"network", cfg.NetworkPassphrase,
			"listing_fee", cfg.ListingFee.String(),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ Development chain failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Warn("Interrupt received, shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Error stopping development chain", "error", err)
	}
}
