package jsonrpc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	rpcclient "github.com/stellar/go/clients/rpcclient"
)

// Probe reports liveness of the Stellar RPC node the contract runs on
type Probe struct {
	client *rpcclient.Client
}

// NewProbe creates a probe against a Stellar RPC endpoint
func NewProbe(rpcServerURL string) *Probe {
	return &Probe{
		client: rpcclient.NewClient(rpcServerURL, &http.Client{Timeout: 10 * time.Second}),
	}
}

// LatestLedger returns the latest ledger sequence seen by the node
func (p *Probe) LatestLedger(ctx context.Context) (uint32, error) {
	health, err := p.client.GetHealth(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get health from RPC: %w", err)
	}
	if health.Status != "healthy" {
		return health.LatestLedger, fmt.Errorf("rpc node reports status %q", health.Status)
	}
	return health.LatestLedger, nil
}
