package jsonrpc

import (
	"errors"
	"fmt"

	"marketplace/internal/chain"
	"marketplace/internal/models"

	"github.com/creachadair/jrpc2"
)

// Method names exposed by the marketplace gateway
const (
	methodListingFee  = "market_getListingFee"
	methodSubmit      = "market_submit"
	methodReceipt     = "market_getReceipt"
	methodMarketItems = "market_fetchMarketItems"
	methodItemsListed = "market_fetchItemsListed"
	methodItemsOwned  = "market_fetchMyNFTs"
	methodListing     = "market_getListing"
)

// Contract verdicts carried as JSON-RPC error codes
const (
	codeReverted jrpc2.Code = 3
	codeNotFound jrpc2.Code = 4
)

type accountParams struct {
	Account string `json:"account"`
}

type listingParams struct {
	ListingID uint64 `json:"listingId"`
}

type receiptParams struct {
	TxHash string `json:"txHash"`
}

// wireListing carries amounts as integer base units
type wireListing struct {
	ListingID uint64 `json:"listingId"`
	TokenURI  string `json:"tokenURI"`
	Price     string `json:"price"`
	Seller    string `json:"seller"`
	Owner     string `json:"owner"`
	Sold      bool   `json:"sold"`
	Closed    bool   `json:"closed,omitempty"`
}

type wireCall struct {
	Nonce     string `json:"nonce"`
	Method    string `json:"method"`
	From      string `json:"from"`
	Network   string `json:"network"`
	ListingID uint64 `json:"listingId,omitempty"`
	TokenURI  string `json:"tokenURI,omitempty"`
	Price     string `json:"price"`
	Value     string `json:"value"`
	Signature []byte `json:"signature"`
}

type wireReceipt struct {
	TxHash  string       `json:"txHash"`
	Status  string       `json:"status"`
	Listing *wireListing `json:"listing,omitempty"`
	Reason  string       `json:"reason,omitempty"`
}

func encodeListing(l models.Listing, decimals int32) (wireListing, error) {
	price, err := models.ToBaseUnits(l.Price, decimals)
	if err != nil {
		return wireListing{}, err
	}
	return wireListing{
		ListingID: l.ListingID,
		TokenURI:  l.MetadataLocator.String(),
		Price:     price,
		Seller:    l.Seller,
		Owner:     l.Owner,
		Sold:      l.Sold,
		Closed:    l.Closed,
	}, nil
}

func decodeListing(w wireListing, decimals int32) (models.Listing, error) {
	price, err := models.FromBaseUnits(w.Price, decimals)
	if err != nil {
		return models.Listing{}, fmt.Errorf("listing %d: %w", w.ListingID, err)
	}
	return models.Listing{
		ListingID:       w.ListingID,
		MetadataLocator: models.Locator(w.TokenURI),
		Price:           price,
		Seller:          w.Seller,
		Owner:           w.Owner,
		Sold:            w.Sold,
		Closed:          w.Closed,
	}, nil
}

func encodeListings(listings []models.Listing, decimals int32) ([]wireListing, error) {
	out := make([]wireListing, 0, len(listings))
	for _, l := range listings {
		w, err := encodeListing(l, decimals)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func decodeListings(in []wireListing, decimals int32) ([]models.Listing, error) {
	out := make([]models.Listing, 0, len(in))
	for _, w := range in {
		l, err := decodeListing(w, decimals)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func encodeCall(c chain.SignedCall, decimals int32) (wireCall, error) {
	price, err := models.ToBaseUnits(c.Price, decimals)
	if err != nil {
		return wireCall{}, err
	}
	value, err := models.ToBaseUnits(c.Value, decimals)
	if err != nil {
		return wireCall{}, err
	}
	return wireCall{
		Nonce:     c.Nonce,
		Method:    string(c.Method),
		From:      c.From,
		Network:   c.Network,
		ListingID: c.ListingID,
		TokenURI:  c.MetadataLocator.String(),
		Price:     price,
		Value:     value,
		Signature: c.Signature,
	}, nil
}

func decodeCall(w wireCall, decimals int32) (chain.SignedCall, error) {
	price, err := models.FromBaseUnits(w.Price, decimals)
	if err != nil {
		return chain.SignedCall{}, err
	}
	value, err := models.FromBaseUnits(w.Value, decimals)
	if err != nil {
		return chain.SignedCall{}, err
	}
	return chain.SignedCall{
		Call: chain.Call{
			Nonce:           w.Nonce,
			Method:          chain.Method(w.Method),
			From:            w.From,
			Network:         w.Network,
			ListingID:       w.ListingID,
			MetadataLocator: models.Locator(w.TokenURI),
			Price:           price,
			Value:           value,
		},
		Signature: w.Signature,
	}, nil
}

// toRPCError maps contract verdicts onto gateway error codes. Other failures
// are returned as-is and reported by the server as system errors.
func toRPCError(err error) error {
	switch {
	case errors.Is(err, models.ErrReverted):
		return &jrpc2.Error{Code: codeReverted, Message: err.Error()}
	case errors.Is(err, models.ErrListingNotFound):
		return &jrpc2.Error{Code: codeNotFound, Message: err.Error()}
	}
	return err
}

// fromRPCError maps gateway error codes back onto the models taxonomy
func fromRPCError(method string, rpcErr *jrpc2.Error) error {
	switch rpcErr.Code {
	case codeReverted:
		return fmt.Errorf("%w: %s", models.ErrReverted, rpcErr.Message)
	case codeNotFound:
		return fmt.Errorf("%w: %s", models.ErrListingNotFound, rpcErr.Message)
	}
	return fmt.Errorf("rpc %s failed: %w", method, rpcErr)
}
