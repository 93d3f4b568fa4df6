package jsonrpc

import (
	"context"
	"net/http"

	"marketplace/internal/chain"
	"marketplace/internal/models"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
)

// Handler serves a chain.Contract over JSON-RPC 2.0
type Handler struct {
	contract chain.Contract
	decimals int32
	bridge   interface {
		http.Handler
		Close() error
	}
}

// NewHandler creates a JSON-RPC handler for contract
func NewHandler(contract chain.Contract, decimals int32) *Handler {
	h := &Handler{contract: contract, decimals: decimals}
	h.bridge = jhttp.NewBridge(handler.Map{
		methodListingFee:  h.listingFee,
		methodSubmit:      h.submit,
		methodReceipt:     h.receipt,
		methodMarketItems: h.marketItems,
		methodItemsListed: h.itemsListed,
		methodItemsOwned:  h.itemsOwned,
		methodListing:     h.listing,
	}, nil)
	return h
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.bridge.ServeHTTP(w, r)
}

// Close stops the RPC server behind the handler
func (h *Handler) Close() error {
	return h.bridge.Close()
}

func (h *Handler) listingFee(ctx context.Context, req *jrpc2.Request) (any, error) {
	fee, err := h.contract.ListingFee(ctx)
	if err != nil {
		return nil, toRPCError(err)
	}
	return models.ToBaseUnits(fee, h.decimals)
}

func (h *Handler) submit(ctx context.Context, req *jrpc2.Request) (any, error) {
	var wire wireCall
	if err := req.UnmarshalParams(&wire); err != nil {
		return nil, err
	}
	call, err := decodeCall(wire, h.decimals)
	if err != nil {
		return nil, &jrpc2.Error{Code: jrpc2.InvalidParams, Message: err.Error()}
	}
	txHash, err := h.contract.Submit(ctx, call)
	if err != nil {
		return nil, toRPCError(err)
	}
	return txHash, nil
}

func (h *Handler) receipt(ctx context.Context, req *jrpc2.Request) (any, error) {
	var params receiptParams
	if err := req.UnmarshalParams(&params); err != nil {
		return nil, err
	}
	receipt, err := h.contract.Receipt(ctx, params.TxHash)
	if err != nil {
		return nil, toRPCError(err)
	}
	wire := wireReceipt{TxHash: receipt.TxHash, Status: string(receipt.Status), Reason: receipt.Reason}
	if receipt.Status == chain.ReceiptConfirmed {
		listing, err := encodeListing(receipt.Listing, h.decimals)
		if err != nil {
			return nil, err
		}
		wire.Listing = &listing
	}
	return wire, nil
}

func (h *Handler) marketItems(ctx context.Context, req *jrpc2.Request) (any, error) {
	return h.listings(h.contract.MarketItems(ctx))
}

func (h *Handler) itemsListed(ctx context.Context, req *jrpc2.Request) (any, error) {
	var params accountParams
	if err := req.UnmarshalParams(&params); err != nil {
		return nil, err
	}
	return h.listings(h.contract.ItemsListed(ctx, params.Account))
}

func (h *Handler) itemsOwned(ctx context.Context, req *jrpc2.Request) (any, error) {
	var params accountParams
	if err := req.UnmarshalParams(&params); err != nil {
		return nil, err
	}
	return h.listings(h.contract.ItemsOwned(ctx, params.Account))
}

func (h *Handler) listing(ctx context.Context, req *jrpc2.Request) (any, error) {
	var params listingParams
	if err := req.UnmarshalParams(&params); err != nil {
		return nil, err
	}
	listing, err := h.contract.Listing(ctx, params.ListingID)
	if err != nil {
		return nil, toRPCError(err)
	}
	return encodeListing(listing, h.decimals)
}

func (h *Handler) listings(listings []models.Listing, err error) (any, error) {
	if err != nil {
		return nil, toRPCError(err)
	}
	return encodeListings(listings, h.decimals)
}
