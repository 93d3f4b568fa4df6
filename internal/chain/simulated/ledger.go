// Package simulated provides an in-process marketplace contract. It enforces
// the same rules a deployed contract does and serialises writes in
// submission order, which makes it suitable for development and tests.
package simulated

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"marketplace/internal/chain"
	"marketplace/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/keypair"
)

// Options configures a Ledger
type Options struct {
	// ContractID is the address that holds listings while they are for sale
	ContractID string

	// Network rejects calls signed for another network when set
	Network string

	ListingFee decimal.Decimal

	// AutoMine confirms pending transactions whenever a receipt is requested
	AutoMine bool
}

type transaction struct {
	call    chain.SignedCall
	receipt chain.Receipt
}

// Ledger is an in-memory marketplace contract
type Ledger struct {
	mu       sync.Mutex
	opts     Options
	listings []models.Listing // listing id N lives at index N-1
	txs      map[string]*transaction
	pending  []string
}

// New creates an empty Ledger
func New(opts Options) *Ledger {
	if opts.ContractID == "" {
		opts.ContractID = "marketplace"
	}
	return &Ledger{
		opts: opts,
		txs:  make(map[string]*transaction),
	}
}

// ContractID returns the escrow address of unsold listings
func (l *Ledger) ContractID() string {
	return l.opts.ContractID
}

// SetAutoMine toggles confirmation on receipt polling
func (l *Ledger) SetAutoMine(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opts.AutoMine = enabled
}

// ListingFee implements chain.Contract
func (l *Ledger) ListingFee(ctx context.Context) (decimal.Decimal, error) {
	return l.opts.ListingFee, nil
}

// Submit implements chain.Contract
func (l *Ledger) Submit(ctx context.Context, call chain.SignedCall) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	kp, err := keypair.ParseAddress(call.From)
	if err != nil {
		return "", fmt.Errorf("%w: invalid caller address %q", models.ErrReverted, call.From)
	}
	if err := kp.Verify(call.Payload(), call.Signature); err != nil {
		return "", fmt.Errorf("%w: invalid signature", models.ErrReverted)
	}
	if l.opts.Network != "" && call.Network != l.opts.Network {
		return "", fmt.Errorf("%w: call signed for network %q", models.ErrReverted, call.Network)
	}

	hash := call.Hash()

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.txs[hash]; ok {
		return hash, nil
	}
	l.txs[hash] = &transaction{
		call:    call,
		receipt: chain.Receipt{TxHash: hash, Status: chain.ReceiptPending},
	}
	l.pending = append(l.pending, hash)
	return hash, nil
}

// Receipt implements chain.Contract
func (l *Ledger) Receipt(ctx context.Context, txHash string) (chain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return chain.Receipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.opts.AutoMine {
		l.mineLocked()
	}
	tx, ok := l.txs[txHash]
	if !ok {
		return chain.Receipt{}, fmt.Errorf("unknown transaction %s", txHash)
	}
	return tx.receipt, nil
}

// Mine applies every pending transaction in submission order and returns how
// many were processed
func (l *Ledger) Mine() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mineLocked()
}

// Pending returns the number of unconfirmed transactions
func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Ledger) mineLocked() int {
	n := len(l.pending)
	for _, hash := range l.pending {
		tx := l.txs[hash]
		listing, err := l.applyLocked(tx.call.Call)
		if err != nil {
			tx.receipt.Status = chain.ReceiptReverted
			tx.receipt.Reason = err.Error()
			slog.Debug("Simulated transaction reverted", "tx_hash", hash, "method", tx.call.Method, "reason", err)
			continue
		}
		tx.receipt.Status = chain.ReceiptConfirmed
		tx.receipt.Listing = listing
	}
	l.pending = nil
	return n
}

// applyLocked executes a call against contract state
func (l *Ledger) applyLocked(call chain.Call) (models.Listing, error) {
	switch call.Method {
	case chain.MethodCreateListing:
		if !call.Price.IsPositive() {
			return models.Listing{}, fmt.Errorf("price must be at least 1 unit")
		}
		if !call.Value.Equal(l.opts.ListingFee) {
			return models.Listing{}, fmt.Errorf("value must be equal to listing fee")
		}
		listing := models.Listing{
			ListingID:       uint64(len(l.listings)) + 1,
			MetadataLocator: call.MetadataLocator,
			Price:           call.Price,
			Seller:          call.From,
			Owner:           l.opts.ContractID,
		}
		l.listings = append(l.listings, listing)
		return listing, nil

	case chain.MethodResell:
		prior, err := l.listingLocked(call.ListingID)
		if err != nil {
			return models.Listing{}, err
		}
		if prior.Owner != call.From {
			return models.Listing{}, fmt.Errorf("only item owner can perform this operation")
		}
		if !prior.Sold || prior.Closed {
			return models.Listing{}, fmt.Errorf("listing %d cannot be relisted", call.ListingID)
		}
		if !call.Price.IsPositive() {
			return models.Listing{}, fmt.Errorf("price must be at least 1 unit")
		}
		if !call.Value.Equal(l.opts.ListingFee) {
			return models.Listing{}, fmt.Errorf("value must be equal to listing fee")
		}
		prior.Closed = true
		listing := models.Listing{
			ListingID:       uint64(len(l.listings)) + 1,
			MetadataLocator: prior.MetadataLocator,
			Price:           call.Price,
			Seller:          call.From,
			Owner:           l.opts.ContractID,
		}
		l.listings = append(l.listings, listing)
		return listing, nil

	case chain.MethodBuy:
		listing, err := l.listingLocked(call.ListingID)
		if err != nil {
			return models.Listing{}, err
		}
		if listing.Sold {
			return models.Listing{}, fmt.Errorf("listing %d is already sold", call.ListingID)
		}
		if listing.Seller == call.From {
			return models.Listing{}, fmt.Errorf("seller cannot buy their own listing")
		}
		if !call.Value.Equal(listing.Price) {
			return models.Listing{}, fmt.Errorf("please submit the asking price in order to complete the purchase")
		}
		// The seller is cleared at sale and set again by a resale
		listing.Seller = ""
		listing.Owner = call.From
		listing.Sold = true
		return *listing, nil
	}
	return models.Listing{}, fmt.Errorf("unknown method %q", call.Method)
}

func (l *Ledger) listingLocked(id uint64) (*models.Listing, error) {
	if id == 0 || id > uint64(len(l.listings)) {
		return nil, fmt.Errorf("%w: listing %d", models.ErrListingNotFound, id)
	}
	return &l.listings[id-1], nil
}

// MarketItems implements chain.Contract
func (l *Ledger) MarketItems(ctx context.Context) ([]models.Listing, error) {
	return l.filter(func(m models.Listing) bool { return !m.Sold }), nil
}

// ItemsListed implements chain.Contract
func (l *Ledger) ItemsListed(ctx context.Context, account string) ([]models.Listing, error) {
	return l.filter(func(m models.Listing) bool { return !m.Sold && m.Seller == account }), nil
}

// ItemsOwned implements chain.Contract
func (l *Ledger) ItemsOwned(ctx context.Context, account string) ([]models.Listing, error) {
	return l.filter(func(m models.Listing) bool { return m.Sold && !m.Closed && m.Owner == account }), nil
}

// Listing implements chain.Contract
func (l *Ledger) Listing(ctx context.Context, listingID uint64) (models.Listing, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	listing, err := l.listingLocked(listingID)
	if err != nil {
		return models.Listing{}, err
	}
	return *listing, nil
}

func (l *Ledger) filter(keep func(models.Listing) bool) []models.Listing {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.Listing, 0, len(l.listings))
	for _, m := range l.listings {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}
