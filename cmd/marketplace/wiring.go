package main

import (
	"fmt"
	"log/slog"
	"time"

	"marketplace/internal/chain"
	"marketplace/internal/chain/jsonrpc"
	"marketplace/internal/chain/simulated"
	"marketplace/internal/config"
	"marketplace/internal/session"
	"marketplace/internal/wallet"
)

// newSessions creates the process-wide session manager over the keystore
func newSessions(keystore *wallet.Keystore, expectedNetwork string) *session.Manager {
	return session.NewManager(keystore, expectedNetwork)
}

// newContract selects the marketplace contract backend
func newContract(cfg *config.Config) (chain.Contract, error) {
	switch cfg.ChainBackend {
	case config.ChainJSONRPC:
		slog.Info("Using JSON-RPC contract gateway", "url", cfg.ChainRPCURL)
		return jsonrpc.NewContract(cfg.ChainRPCURL, cfg.CurrencyDecimals, 30*time.Second), nil

	case config.ChainSimulated:
		ledger := simulated.New(simulated.Options{
			ContractID: cfg.ContractID,
			Network:    cfg.NetworkPassphrase,
			ListingFee: cfg.ListingFee,
			AutoMine:   true,
		})
		slog.Warn("Using the in-process simulated contract", "contract_id", ledger.ContractID())
		return ledger, nil
	}
	return nil, fmt.Errorf("unknown chain backend %q", cfg.ChainBackend)
}
