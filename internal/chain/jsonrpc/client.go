// Package jsonrpc connects the chain client to a marketplace contract gateway
// speaking JSON-RPC 2.0, and serves any chain.Contract over the same protocol.
package jsonrpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"marketplace/internal/chain"
	"marketplace/internal/models"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/shopspring/decimal"
)

// Contract is a chain.Contract backed by a JSON-RPC gateway
type Contract struct {
	rpc      *jrpc2.Client
	decimals int32
}

// NewContract creates a gateway client. decimals is the number of base units
// per currency unit used on the wire.
func NewContract(url string, decimals int32, timeout time.Duration) *Contract {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	ch := jhttp.NewChannel(url, &jhttp.ChannelOptions{
		Client: &http.Client{Timeout: timeout},
	})
	return &Contract{
		rpc:      jrpc2.NewClient(ch, nil),
		decimals: decimals,
	}
}

// Close releases the underlying RPC client
func (c *Contract) Close() error {
	return c.rpc.Close()
}

// ListingFee implements chain.Contract
func (c *Contract) ListingFee(ctx context.Context) (decimal.Decimal, error) {
	var units string
	if err := c.call(ctx, methodListingFee, nil, &units); err != nil {
		return decimal.Zero, err
	}
	return models.FromBaseUnits(units, c.decimals)
}

// Submit implements chain.Contract
func (c *Contract) Submit(ctx context.Context, call chain.SignedCall) (string, error) {
	wire, err := encodeCall(call, c.decimals)
	if err != nil {
		return "", err
	}
	var txHash string
	if err := c.call(ctx, methodSubmit, wire, &txHash); err != nil {
		return "", err
	}
	return txHash, nil
}

// Receipt implements chain.Contract
func (c *Contract) Receipt(ctx context.Context, txHash string) (chain.Receipt, error) {
	var wire wireReceipt
	if err := c.call(ctx, methodReceipt, receiptParams{TxHash: txHash}, &wire); err != nil {
		return chain.Receipt{}, err
	}
	receipt := chain.Receipt{
		TxHash: wire.TxHash,
		Status: chain.ReceiptStatus(wire.Status),
		Reason: wire.Reason,
	}
	if wire.Listing != nil {
		listing, err := decodeListing(*wire.Listing, c.decimals)
		if err != nil {
			return chain.Receipt{}, err
		}
		receipt.Listing = listing
	}
	return receipt, nil
}

// MarketItems implements chain.Contract
func (c *Contract) MarketItems(ctx context.Context) ([]models.Listing, error) {
	return c.listings(ctx, methodMarketItems, nil)
}

// ItemsListed implements chain.Contract
func (c *Contract) ItemsListed(ctx context.Context, account string) ([]models.Listing, error) {
	return c.listings(ctx, methodItemsListed, accountParams{Account: account})
}

// ItemsOwned implements chain.Contract
func (c *Contract) ItemsOwned(ctx context.Context, account string) ([]models.Listing, error) {
	return c.listings(ctx, methodItemsOwned, accountParams{Account: account})
}

// Listing implements chain.Contract
func (c *Contract) Listing(ctx context.Context, listingID uint64) (models.Listing, error) {
	var wire wireListing
	if err := c.call(ctx, methodListing, listingParams{ListingID: listingID}, &wire); err != nil {
		return models.Listing{}, err
	}
	return decodeListing(wire, c.decimals)
}

func (c *Contract) listings(ctx context.Context, method string, params any) ([]models.Listing, error) {
	var wire []wireListing
	if err := c.call(ctx, method, params, &wire); err != nil {
		return nil, err
	}
	return decodeListings(wire, c.decimals)
}

// call performs one JSON-RPC request and decodes its result into out.
// Contract verdicts are mapped onto the models error taxonomy.
func (c *Contract) call(ctx context.Context, method string, params, out any) error {
	err := c.rpc.CallResult(ctx, method, params, out)
	if err == nil {
		return nil
	}
	var rpcErr *jrpc2.Error
	if errors.As(err, &rpcErr) {
		return fromRPCError(method, rpcErr)
	}
	return fmt.Errorf("rpc request %s failed: %w", method, err)
}
