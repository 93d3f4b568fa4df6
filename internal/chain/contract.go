package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"marketplace/internal/models"

	"github.com/shopspring/decimal"
)

// Method is a mutating marketplace contract method
type Method string

const (
	MethodCreateListing Method = "create_listing"
	MethodResell        Method = "resell"
	MethodBuy           Method = "buy"
)

// Call is an unsigned contract invocation
type Call struct {
	// Nonce makes every call unique so that identical intents produce distinct transactions
	Nonce           string          `json:"nonce"`
	Method          Method          `json:"method"`
	From            string          `json:"from"`
	Network         string          `json:"network"`
	ListingID       uint64          `json:"listing_id,omitempty"`
	MetadataLocator models.Locator  `json:"metadata_locator,omitempty"`
	Price           decimal.Decimal `json:"price"`

	// Value is the payment attached to the call: the listing fee for
	// create/resell, the listing price for buy
	Value decimal.Decimal `json:"value"`
}

// Payload returns the canonical bytes a wallet signs for this call
func (c Call) Payload() []byte {
	fields := []string{
		c.Nonce,
		string(c.Method),
		c.From,
		c.Network,
		fmt.Sprintf("%d", c.ListingID),
		c.MetadataLocator.String(),
		c.Price.String(),
		c.Value.String(),
	}
	return []byte(strings.Join(fields, "|"))
}

// Hash returns the transaction hash of the call
func (c Call) Hash() string {
	sum := sha256.Sum256(c.Payload())
	return hex.EncodeToString(sum[:])
}

// SignedCall is a call together with the caller's signature over Payload
type SignedCall struct {
	Call
	Signature []byte `json:"signature"`
}

// ReceiptStatus is the confirmation status of a submitted transaction
type ReceiptStatus string

const (
	ReceiptPending   ReceiptStatus = "pending"
	ReceiptConfirmed ReceiptStatus = "confirmed"
	ReceiptReverted  ReceiptStatus = "reverted"
)

// Receipt reports the outcome of a submitted transaction.
// Listing is the listing created or updated by a confirmed transaction.
type Receipt struct {
	TxHash  string         `json:"tx_hash"`
	Status  ReceiptStatus  `json:"status"`
	Listing models.Listing `json:"listing"`
	Reason  string         `json:"reason,omitempty"`
}

// Contract is the marketplace contract as seen by the client. The contract
// is the authoritative enforcement point for every business rule; listing
// identifiers must be assigned in strictly increasing order and never reused.
type Contract interface {
	// ListingFee returns the fee attached to create_listing and resell calls
	ListingFee(ctx context.Context) (decimal.Decimal, error)

	// Submit broadcasts a signed call and returns its transaction hash.
	// Acceptance means only that the transaction is pending.
	Submit(ctx context.Context, call SignedCall) (string, error)

	// Receipt returns the current status of a transaction
	Receipt(ctx context.Context, txHash string) (Receipt, error)

	// MarketItems returns every listing currently for sale in contract order
	MarketItems(ctx context.Context) ([]models.Listing, error)

	// ItemsListed returns unsold listings put up for sale by account
	ItemsListed(ctx context.Context, account string) ([]models.Listing, error)

	// ItemsOwned returns listings bought by account that have not been re-listed
	ItemsOwned(ctx context.Context, account string) ([]models.Listing, error)

	// Listing returns a single listing by id
	Listing(ctx context.Context, listingID uint64) (models.Listing, error)
}

// Signer signs call payloads on behalf of a wallet account
type Signer interface {
	Sign(ctx context.Context, account string, payload []byte) ([]byte, error)
}
