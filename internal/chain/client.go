package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marketplace/internal/metrics"
	"marketplace/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config bounds how long Await waits for a receipt
type Config struct {
	PollInterval time.Duration
	MaxWait      time.Duration
}

// TransactionHandle identifies a pending contract write
type TransactionHandle struct {
	TxHash          string          `json:"tx_hash"`
	Method          Method          `json:"method"`
	Account         string          `json:"account"`
	ListingID       uint64          `json:"listing_id,omitempty"`
	MetadataLocator models.Locator  `json:"metadata_locator,omitempty"`
	Price           decimal.Decimal `json:"price"`
	SubmittedAt     time.Time       `json:"submitted_at"`
}

var errPending = errors.New("transaction pending")

// Client is the typed wrapper over the marketplace contract. Every write is
// signed by the session's account through the wallet signer.
type Client struct {
	contract Contract
	signer   Signer
	config   Config
}

// NewClient creates a new chain client
func NewClient(contract Contract, signer Signer, config Config) *Client {
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.MaxWait <= 0 {
		config.MaxWait = 60 * time.Second
	}
	return &Client{
		contract: contract,
		signer:   signer,
		config:   config,
	}
}

// SubmitListing puts metadataLocator up for sale at price
func (c *Client) SubmitListing(ctx context.Context, sess models.Session, metadataLocator models.Locator, price decimal.Decimal) (TransactionHandle, error) {
	if metadataLocator == "" {
		return TransactionHandle{}, fmt.Errorf("%w: metadata locator is required", models.ErrInvalidInput)
	}
	fee, err := c.ListingFee(ctx)
	if err != nil {
		return TransactionHandle{}, err
	}
	return c.submit(ctx, sess, Call{
		Method:          MethodCreateListing,
		MetadataLocator: metadataLocator,
		Price:           price,
		Value:           fee,
	})
}

// SubmitResale re-lists an owned listing at price
func (c *Client) SubmitResale(ctx context.Context, sess models.Session, listingID uint64, price decimal.Decimal) (TransactionHandle, error) {
	fee, err := c.ListingFee(ctx)
	if err != nil {
		return TransactionHandle{}, err
	}
	return c.submit(ctx, sess, Call{
		Method:    MethodResell,
		ListingID: listingID,
		Price:     price,
		Value:     fee,
	})
}

// SubmitPurchase buys a listing. price must be the exact asking price.
func (c *Client) SubmitPurchase(ctx context.Context, sess models.Session, listingID uint64, price decimal.Decimal) (TransactionHandle, error) {
	return c.submit(ctx, sess, Call{
		Method:    MethodBuy,
		ListingID: listingID,
		Price:     price,
		Value:     price,
	})
}

func (c *Client) submit(ctx context.Context, sess models.Session, call Call) (TransactionHandle, error) {
	account, ok := sess.AccountID()
	if !ok {
		return TransactionHandle{}, fmt.Errorf("failed to submit %s: %w", call.Method, models.ErrNotConnected)
	}
	if !call.Price.IsPositive() {
		return TransactionHandle{}, fmt.Errorf("%w: price must be greater than zero", models.ErrInvalidInput)
	}

	call.Nonce = uuid.NewString()
	call.From = account
	call.Network = sess.Network

	sig, err := c.signer.Sign(ctx, account, call.Payload())
	if err != nil {
		return TransactionHandle{}, fmt.Errorf("failed to sign %s: %w", call.Method, err)
	}

	txHash, err := c.contract.Submit(ctx, SignedCall{Call: call, Signature: sig})
	if err != nil {
		return TransactionHandle{}, fmt.Errorf("failed to submit %s: %w", call.Method, err)
	}

	metrics.TransactionsSubmitted.WithLabelValues(string(call.Method)).Inc()
	slog.Info("📤 Transaction submitted",
		"method", call.Method,
		"tx_hash", txHash,
		"listing_id", call.ListingID,
		"price", call.Price.String(),
	)

	return TransactionHandle{
		TxHash:          txHash,
		Method:          call.Method,
		Account:         account,
		ListingID:       call.ListingID,
		MetadataLocator: call.MetadataLocator,
		Price:           call.Price,
		SubmittedAt:     time.Now(),
	}, nil
}

// Await polls for the receipt of h until it is confirmed, reverted or the
// configured wait window runs out. A window that runs out yields ErrTimeout;
// the transaction may still land afterwards.
func (c *Client) Await(ctx context.Context, h TransactionHandle) (models.Listing, error) {
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, c.config.MaxWait)
	defer cancel()

	var receipt Receipt
	operation := func() error {
		r, err := c.contract.Receipt(waitCtx, h.TxHash)
		if err != nil {
			return err
		}
		switch r.Status {
		case ReceiptConfirmed:
			receipt = r
			return nil
		case ReceiptReverted:
			receipt = r
			return backoff.Permanent(fmt.Errorf("%w: %s", models.ErrReverted, r.Reason))
		default:
			return errPending
		}
	}
	notify := func(err error, next time.Duration) {
		if !errors.Is(err, errPending) {
			slog.Debug("Receipt poll failed", "tx_hash", h.TxHash, "error", err)
		}
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(c.config.PollInterval), waitCtx)
	err := backoff.RetryNotify(operation, policy, notify)
	metrics.ConfirmationDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.TransactionOutcomes.WithLabelValues(string(h.Method), "confirmed").Inc()
		slog.Info("✅ Transaction confirmed",
			"method", h.Method,
			"tx_hash", h.TxHash,
			"listing_id", receipt.Listing.ListingID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return receipt.Listing, nil
	case errors.Is(err, models.ErrReverted):
		metrics.TransactionOutcomes.WithLabelValues(string(h.Method), "reverted").Inc()
		slog.Warn("Transaction reverted", "method", h.Method, "tx_hash", h.TxHash, "reason", receipt.Reason)
		return models.Listing{}, fmt.Errorf("transaction %s: %w", h.TxHash, err)
	case ctx.Err() != nil:
		return models.Listing{}, fmt.Errorf("await of %s abandoned: %w", h.TxHash, ctx.Err())
	default:
		metrics.TransactionOutcomes.WithLabelValues(string(h.Method), "timeout").Inc()
		slog.Warn("Transaction not confirmed in time", "method", h.Method, "tx_hash", h.TxHash, "max_wait", c.config.MaxWait)
		return models.Listing{}, fmt.Errorf("%w: transaction %s not confirmed within %s", models.ErrTimeout, h.TxHash, c.config.MaxWait)
	}
}

// Status reads the receipt of h once, without waiting
func (c *Client) Status(ctx context.Context, h TransactionHandle) (Receipt, error) {
	r, err := c.contract.Receipt(ctx, h.TxHash)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to get receipt for %s: %w", h.TxHash, err)
	}
	return r, nil
}

// ListingFee returns the contract's listing fee
func (c *Client) ListingFee(ctx context.Context) (decimal.Decimal, error) {
	fee, err := c.contract.ListingFee(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get listing fee: %w", err)
	}
	return fee, nil
}

// QueryAllListings returns every listing for sale in contract order
func (c *Client) QueryAllListings(ctx context.Context) ([]models.Listing, error) {
	listings, err := c.contract.MarketItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query market items: %w", err)
	}
	return listings, nil
}

// QueryListingsBySeller returns unsold listings put up for sale by account
func (c *Client) QueryListingsBySeller(ctx context.Context, account string) ([]models.Listing, error) {
	listings, err := c.contract.ItemsListed(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings by seller: %w", err)
	}
	return listings, nil
}

// QueryListingsByOwner returns listings owned by account
func (c *Client) QueryListingsByOwner(ctx context.Context, account string) ([]models.Listing, error) {
	listings, err := c.contract.ItemsOwned(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to query listings by owner: %w", err)
	}
	return listings, nil
}

// GetListing returns one listing
func (c *Client) GetListing(ctx context.Context, listingID uint64) (models.Listing, error) {
	listing, err := c.contract.Listing(ctx, listingID)
	if err != nil {
		return models.Listing{}, fmt.Errorf("failed to get listing %d: %w", listingID, err)
	}
	return listing, nil
}
