package jsonrpc

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"marketplace/internal/chain"
	"marketplace/internal/chain/simulated"
	"marketplace/internal/models"

	"github.com/creachadair/jrpc2"
	"github.com/shopspring/decimal"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
)

type seedSigner map[string]*keypair.Full

func (s seedSigner) Sign(ctx context.Context, account string, payload []byte) ([]byte, error) {
	return s[account].Sign(payload)
}

func newGateway(t *testing.T) (*simulated.Ledger, *Contract) {
	t.Helper()
	ledger := simulated.New(simulated.Options{
		Network:    network.TestNetworkPassphrase,
		ListingFee: decimal.RequireFromString("0.025"),
		AutoMine:   true,
	})
	handler := NewHandler(ledger, 7)
	server := httptest.NewServer(handler)
	contract := NewContract(server.URL, 7, time.Second)
	t.Cleanup(func() {
		contract.Close()
		server.Close()
		handler.Close()
	})
	return ledger, contract
}

func TestContract_RoundTripThroughGateway(t *testing.T) {
	_, contract := newGateway(t)
	seller, buyer := keypair.MustRandom(), keypair.MustRandom()
	signer := seedSigner{seller.Address(): seller, buyer.Address(): buyer}
	client := chain.NewClient(contract, signer, chain.Config{PollInterval: 5 * time.Millisecond, MaxWait: time.Second})
	ctx := context.Background()

	sellerSess := models.ConnectedSession(seller.Address(), network.TestNetworkPassphrase)
	buyerSess := models.ConnectedSession(buyer.Address(), network.TestNetworkPassphrase)

	fee, err := client.ListingFee(ctx)
	if err != nil {
		t.Fatalf("ListingFee failed: %v", err)
	}
	if !fee.Equal(decimal.RequireFromString("0.025")) {
		t.Errorf("Expected fee 0.025, got %s", fee)
	}

	h, err := client.SubmitListing(ctx, sellerSess, "ipfs://bafkreiexample", decimal.RequireFromString("1.5"))
	if err != nil {
		t.Fatalf("SubmitListing failed: %v", err)
	}
	listing, err := client.Await(ctx, h)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if !listing.Price.Equal(decimal.RequireFromString("1.5")) || listing.MetadataLocator != "ipfs://bafkreiexample" {
		t.Errorf("Unexpected listing: %+v", listing)
	}

	h, err = client.SubmitPurchase(ctx, buyerSess, listing.ListingID, listing.Price)
	if err != nil {
		t.Fatalf("SubmitPurchase failed: %v", err)
	}
	if _, err := client.Await(ctx, h); err != nil {
		t.Fatalf("Await purchase failed: %v", err)
	}

	owned, err := client.QueryListingsByOwner(ctx, buyer.Address())
	if err != nil {
		t.Fatalf("QueryListingsByOwner failed: %v", err)
	}
	if len(owned) != 1 || !owned[0].Sold {
		t.Errorf("Expected one sold listing owned by buyer, got %+v", owned)
	}

	h, _ = client.SubmitPurchase(ctx, buyerSess, listing.ListingID, listing.Price)
	if _, err := client.Await(ctx, h); !errors.Is(err, models.ErrReverted) {
		t.Errorf("Expected ErrReverted, got: %v", err)
	}
}

func TestContract_ErrorMapping(t *testing.T) {
	_, contract := newGateway(t)
	ctx := context.Background()

	if _, err := contract.Listing(ctx, 42); !errors.Is(err, models.ErrListingNotFound) {
		t.Errorf("Expected ErrListingNotFound, got: %v", err)
	}

	// A forged signature is rejected at submission
	kp := keypair.MustRandom()
	call := chain.SignedCall{
		Call: chain.Call{
			Nonce:   "n",
			Method:  chain.MethodCreateListing,
			From:    kp.Address(),
			Network: network.TestNetworkPassphrase,
			Price:   decimal.NewFromInt(1),
			Value:   decimal.RequireFromString("0.025"),
		},
		Signature: []byte("forged"),
	}
	if _, err := contract.Submit(ctx, call); !errors.Is(err, models.ErrReverted) {
		t.Errorf("Expected ErrReverted for forged signature, got: %v", err)
	}
}

func TestHandler_ProtocolErrors(t *testing.T) {
	_, contract := newGateway(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		method string
		params any
		want   jrpc2.Code
	}{
		{"unknown method", "market_nope", nil, jrpc2.MethodNotFound},
		{"wrong param type", methodListing, map[string]string{"listingId": "one"}, jrpc2.InvalidParams},
		{"bad amount", methodSubmit, wireCall{Method: "createListing", Price: "1.5", Value: "0"}, jrpc2.InvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out any
			err := contract.call(ctx, tt.method, tt.params, &out)
			var rpcErr *jrpc2.Error
			if !errors.As(err, &rpcErr) {
				t.Fatalf("Expected a JSON-RPC error, got: %v", err)
			}
			if rpcErr.Code != tt.want {
				t.Errorf("Expected code %d, got %d (%s)", tt.want, rpcErr.Code, rpcErr.Message)
			}
		})
	}
}

func TestContract_TransportFailure(t *testing.T) {
	server := httptest.NewServer(NewHandler(simulated.New(simulated.Options{}), 7))
	url := server.URL
	server.Close()

	contract := NewContract(url, 7, time.Second)
	defer contract.Close()

	_, err := contract.MarketItems(context.Background())
	if err == nil {
		t.Fatal("Expected an error from a closed gateway")
	}
	if !strings.Contains(err.Error(), "market_fetchMarketItems") {
		t.Errorf("Expected the method in the error, got: %v", err)
	}
}
