// Package listing implements the marketplace workflows. Each List, Resell or
// Buy call coordinates content-addressed storage and the marketplace contract
// as a journaled state machine; there is no transaction spanning the two, so
// every step is ordered and every failure reports the stage it happened at.
package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marketplace/internal/chain"
	"marketplace/internal/metrics"
	"marketplace/internal/models"
	"marketplace/internal/retry"
	"marketplace/internal/storage"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
)

// Storage is the content-addressed store used for assets and metadata
type Storage interface {
	Store(ctx context.Context, data []byte, contentType string) (models.Locator, error)
	StoreJSON(ctx context.Context, v any) (models.Locator, error)
	Fetch(ctx context.Context, loc models.Locator) ([]byte, error)
}

// Chain is the typed marketplace contract client
type Chain interface {
	SubmitListing(ctx context.Context, sess models.Session, metadataLocator models.Locator, price decimal.Decimal) (chain.TransactionHandle, error)
	SubmitResale(ctx context.Context, sess models.Session, listingID uint64, price decimal.Decimal) (chain.TransactionHandle, error)
	SubmitPurchase(ctx context.Context, sess models.Session, listingID uint64, price decimal.Decimal) (chain.TransactionHandle, error)
	Await(ctx context.Context, h chain.TransactionHandle) (models.Listing, error)
	Status(ctx context.Context, h chain.TransactionHandle) (chain.Receipt, error)
	QueryAllListings(ctx context.Context) ([]models.Listing, error)
	QueryListingsBySeller(ctx context.Context, account string) ([]models.Listing, error)
	QueryListingsByOwner(ctx context.Context, account string) ([]models.Listing, error)
	GetListing(ctx context.Context, listingID uint64) (models.Listing, error)
}

// Sessions exposes the current wallet session
type Sessions interface {
	Current() models.Session
}

// Lookup serves listing data for client-side pre-checks without a chain query
type Lookup interface {
	Lookup(listingID uint64) (models.CatalogEntry, bool)
}

// Config holds ListingService tuning
type Config struct {
	// FetchConcurrency bounds parallel metadata fetches in FetchCatalog
	FetchConcurrency int

	// AwaitAttempts is the number of confirmation windows waited before a
	// timeout is reported, with chain state re-queried after each window
	AwaitAttempts int

	// MetadataCacheSize is the number of resolved metadata documents kept
	MetadataCacheSize int
}

// Result is the outcome of a successful workflow
type Result struct {
	WorkflowID string         `json:"workflow_id"`
	Listing    models.Listing `json:"listing"`

	// Superseded is set when a newer instance for the same key was started
	// while this one ran; its result was not published to observers.
	Superseded bool `json:"superseded,omitempty"`
}

// Outcome is published for every finished workflow that was not superseded
type Outcome struct {
	Record  models.WorkflowRecord
	Listing models.Listing
	Err     error
}

// ListRequest is the input of List
type ListRequest struct {
	Asset       []byte
	ContentType string
	Name        string
	Description string
	Price       decimal.Decimal
}

// Service is the ListingService
type Service struct {
	store    Storage
	chain    Chain
	sessions Sessions
	journal  storage.Repository
	retry    retry.Strategy
	config   Config
	metadata *lru.Cache[models.Locator, models.AssetMetadata]

	mu          sync.Mutex
	lookup      Lookup
	generations map[string]uint64

	outcomes chan Outcome
}

// NewService creates a ListingService
func NewService(store Storage, chainClient Chain, sessions Sessions, journal storage.Repository, strategy retry.Strategy, config Config) (*Service, error) {
	if config.FetchConcurrency <= 0 {
		config.FetchConcurrency = 8
	}
	if config.AwaitAttempts <= 0 {
		config.AwaitAttempts = 2
	}
	if config.MetadataCacheSize <= 0 {
		config.MetadataCacheSize = 1024
	}
	if strategy == nil {
		strategy = retry.NewNoRetryStrategy()
	}
	if journal == nil {
		journal = storage.NewMemoryRepository()
	}

	cache, err := lru.New[models.Locator, models.AssetMetadata](config.MetadataCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata cache: %w", err)
	}

	return &Service{
		store:       store,
		chain:       chainClient,
		sessions:    sessions,
		journal:     journal,
		retry:       strategy,
		config:      config,
		metadata:    cache,
		generations: make(map[string]uint64),
		outcomes:    make(chan Outcome, 64),
	}, nil
}

// SetLookup installs the listing lookup used for pre-checks
func (s *Service) SetLookup(lookup Lookup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookup = lookup
}

// Outcomes delivers finished, non-superseded workflows. Outcomes are dropped
// when nobody keeps up with the channel.
func (s *Service) Outcomes() <-chan Outcome {
	return s.outcomes
}

// Workflow returns the journaled record of a workflow instance
func (s *Service) Workflow(ctx context.Context, id string) (*models.WorkflowRecord, error) {
	return s.journal.GetWorkflow(ctx, id)
}

// Listing returns a listing for display decisions, from the catalog snapshot
// when it holds the listing and from the chain otherwise
func (s *Service) Listing(ctx context.Context, listingID uint64) (models.Listing, error) {
	return s.listingForCheck(ctx, listingID)
}

// List publishes an asset and its metadata, then puts it up for sale
func (s *Service) List(ctx context.Context, req ListRequest) (Result, error) {
	return s.list(ctx, req, nil)
}

// Resell re-lists a listing owned by the current account at newPrice
func (s *Service) Resell(ctx context.Context, listingID uint64, newPrice decimal.Decimal) (Result, error) {
	return s.resell(ctx, listingID, newPrice, nil)
}

// Buy purchases a listing at its exact asking price
func (s *Service) Buy(ctx context.Context, listingID uint64, price decimal.Decimal) (Result, error) {
	return s.buy(ctx, listingID, price, nil)
}

// Retry starts a new instance of a failed workflow. Artifacts produced by the
// failed instance are reused: a List skips uploads whose locators are known,
// and a transaction the failed instance submitted is reconciled against chain
// state before anything is resubmitted. asset is only needed for a List that
// failed before its image was stored.
func (s *Service) Retry(ctx context.Context, workflowID string, asset []byte) (Result, error) {
	prior, err := s.journal.GetWorkflow(ctx, workflowID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}
	if prior.State != models.WorkflowFailed {
		return Result{}, fmt.Errorf("%w: workflow %s is %s, only failed workflows can be retried",
			models.ErrInvalidInput, workflowID, prior.State)
	}
	if latest := s.latestGeneration(ctx, prior.Key); latest > prior.Generation {
		return Result{}, fmt.Errorf("%w: workflow %s", models.ErrSuperseded, workflowID)
	}

	price, err := models.ParsePrice(prior.Input.Price)
	if err != nil {
		return Result{}, err
	}

	slog.Info("Retrying workflow", "workflow_id", workflowID, "kind", prior.Kind, "failed_stage", prior.Stage)

	switch prior.Kind {
	case models.WorkflowList:
		return s.list(ctx, ListRequest{
			Asset:       asset,
			ContentType: prior.Input.ContentType,
			Name:        prior.Input.Name,
			Description: prior.Input.Description,
			Price:       price,
		}, prior)
	case models.WorkflowResell:
		return s.resell(ctx, prior.Input.ListingID, price, prior)
	case models.WorkflowBuy:
		return s.buy(ctx, prior.Input.ListingID, price, prior)
	}
	return Result{}, fmt.Errorf("%w: unknown workflow kind %q", models.ErrInvalidInput, prior.Kind)
}

func (s *Service) list(ctx context.Context, req ListRequest, prior *models.WorkflowRecord) (Result, error) {
	sess := s.sessions.Current()
	account, connected := sess.AccountID()

	key := listKey(account, req)
	if prior != nil {
		key = prior.Key
	}
	w := s.begin(ctx, models.WorkflowList, key, account, models.WorkflowInput{
		Name:        req.Name,
		Description: req.Description,
		ContentType: req.ContentType,
		Price:       req.Price.String(),
	}, prior)

	if !connected {
		return s.fail(ctx, w, models.StageValidate, models.ErrNotConnected)
	}
	if err := s.checkRetryAccount(prior, account); err != nil {
		return s.fail(ctx, w, models.StageValidate, err)
	}
	if prior != nil {
		w.record.Artifacts.ImageLocator = prior.Artifacts.ImageLocator
		w.record.Artifacts.MetadataLocator = prior.Artifacts.MetadataLocator
	}
	if err := validateListRequest(req, w.record.Artifacts); err != nil {
		return s.fail(ctx, w, models.StageValidate, err)
	}

	// A submission by the failed instance may have landed after all
	if prior != nil && prior.Artifacts.TxHash != "" {
		h := priorHandle(prior, chain.MethodCreateListing)
		h.MetadataLocator = prior.Artifacts.MetadataLocator
		if res, done, err := s.adoptPrior(ctx, w, h); done {
			return res, err
		}
	}

	if w.record.Artifacts.MetadataLocator == "" {
		if err := w.advance(ctx, models.WorkflowUploading, models.StageUploadAsset); err != nil {
			return s.fail(ctx, w, models.StageUploadAsset, err)
		}

		if w.record.Artifacts.ImageLocator == "" {
			imageLocator, err := retry.Do(ctx, s.retry, func() (models.Locator, error) {
				return s.store.Store(ctx, req.Asset, req.ContentType)
			})
			if err != nil {
				return s.fail(ctx, w, models.StageUploadAsset, fmt.Errorf("failed to store asset: %w", err))
			}
			w.record.Artifacts.ImageLocator = imageLocator
			w.record.Stage = models.StageUploadMetadata
			w.save(ctx)
		}

		metadata := models.AssetMetadata{
			Name:        req.Name,
			Description: req.Description,
			Image:       w.record.Artifacts.ImageLocator,
		}
		metadataLocator, err := retry.Do(ctx, s.retry, func() (models.Locator, error) {
			return s.store.StoreJSON(ctx, metadata)
		})
		if err != nil {
			return s.fail(ctx, w, models.StageUploadMetadata, fmt.Errorf("failed to store metadata: %w", err))
		}
		w.record.Artifacts.MetadataLocator = metadataLocator
		s.metadata.Add(metadataLocator, metadata)
		w.save(ctx)
	}

	return s.submitAndConfirm(ctx, w, sess, func() (chain.TransactionHandle, error) {
		return s.chain.SubmitListing(ctx, sess, w.record.Artifacts.MetadataLocator, req.Price)
	})
}

func (s *Service) resell(ctx context.Context, listingID uint64, price decimal.Decimal, prior *models.WorkflowRecord) (Result, error) {
	sess := s.sessions.Current()
	account, connected := sess.AccountID()

	w := s.begin(ctx, models.WorkflowResell, fmt.Sprintf("resell:%d", listingID), account, models.WorkflowInput{
		Price:     price.String(),
		ListingID: listingID,
	}, prior)

	if !connected {
		return s.fail(ctx, w, models.StageValidate, models.ErrNotConnected)
	}
	if err := s.checkRetryAccount(prior, account); err != nil {
		return s.fail(ctx, w, models.StageValidate, err)
	}
	if !price.IsPositive() {
		return s.fail(ctx, w, models.StageValidate, fmt.Errorf("%w: price must be greater than zero", models.ErrInvalidInput))
	}

	if prior != nil && prior.Artifacts.TxHash != "" {
		if res, done, err := s.adoptPrior(ctx, w, priorHandle(prior, chain.MethodResell)); done {
			return res, err
		}
	}

	// Re-read the listing instead of trusting a cached copy; the metadata
	// locator carries over to the new listing unchanged
	current, err := s.chain.GetListing(ctx, listingID)
	if err != nil {
		return s.fail(ctx, w, models.StageValidate, err)
	}
	if current.Owner != account {
		return s.fail(ctx, w, models.StageValidate, fmt.Errorf("%w: listing %d is owned by %s",
			models.ErrNotOwner, listingID, models.ShortenAddress(current.Owner)))
	}
	w.record.Artifacts.MetadataLocator = current.MetadataLocator

	return s.submitAndConfirm(ctx, w, sess, func() (chain.TransactionHandle, error) {
		return s.chain.SubmitResale(ctx, sess, listingID, price)
	})
}

func (s *Service) buy(ctx context.Context, listingID uint64, price decimal.Decimal, prior *models.WorkflowRecord) (Result, error) {
	sess := s.sessions.Current()
	account, connected := sess.AccountID()

	w := s.begin(ctx, models.WorkflowBuy, fmt.Sprintf("buy:%d", listingID), account, models.WorkflowInput{
		Price:     price.String(),
		ListingID: listingID,
	}, prior)

	if !connected {
		return s.fail(ctx, w, models.StageValidate, models.ErrNotConnected)
	}
	if err := s.checkRetryAccount(prior, account); err != nil {
		return s.fail(ctx, w, models.StageValidate, err)
	}
	if !price.IsPositive() {
		return s.fail(ctx, w, models.StageValidate, fmt.Errorf("%w: price must be greater than zero", models.ErrInvalidInput))
	}

	if prior != nil && prior.Artifacts.TxHash != "" {
		if res, done, err := s.adoptPrior(ctx, w, priorHandle(prior, chain.MethodBuy)); done {
			return res, err
		}
	}

	// Advisory only: the contract rejects self-purchase on its own
	target, err := s.listingForCheck(ctx, listingID)
	if err != nil {
		return s.fail(ctx, w, models.StageValidate, err)
	}
	if target.Seller == account {
		return s.fail(ctx, w, models.StageValidate, fmt.Errorf("%w: listing %d", models.ErrSelfPurchase, listingID))
	}
	w.record.Artifacts.MetadataLocator = target.MetadataLocator

	return s.submitAndConfirm(ctx, w, sess, func() (chain.TransactionHandle, error) {
		return s.chain.SubmitPurchase(ctx, sess, listingID, price)
	})
}

// submitAndConfirm runs the Submitting and Confirming steps shared by all workflows
func (s *Service) submitAndConfirm(ctx context.Context, w *Workflow, snapshot models.Session, submit func() (chain.TransactionHandle, error)) (Result, error) {
	if err := s.checkSession(snapshot); err != nil {
		return s.fail(ctx, w, models.StageSubmit, err)
	}
	if err := w.advance(ctx, models.WorkflowSubmitting, models.StageSubmit); err != nil {
		return s.fail(ctx, w, models.StageSubmit, err)
	}

	h, err := submit()
	if err != nil {
		return s.fail(ctx, w, models.StageSubmit, err)
	}
	w.record.Artifacts.TxHash = h.TxHash
	if err := w.advance(ctx, models.WorkflowConfirming, models.StageConfirm); err != nil {
		return s.fail(ctx, w, models.StageConfirm, err)
	}

	listing, stage, err := s.confirm(ctx, w, h)
	if err != nil {
		return s.fail(ctx, w, stage, err)
	}
	return s.succeed(ctx, w, listing)
}

// confirm awaits h. A timed out window is followed by a re-query of chain
// state, since the transaction may still land; Timeout is only reported once
// every window is used up without the effect becoming visible.
func (s *Service) confirm(ctx context.Context, w *Workflow, h chain.TransactionHandle) (models.Listing, models.Stage, error) {
	for attempt := 1; ; attempt++ {
		listing, err := s.chain.Await(ctx, h)
		if err == nil {
			return listing, models.StageConfirm, nil
		}
		if !errors.Is(err, models.ErrTimeout) {
			return models.Listing{}, models.StageConfirm, err
		}

		landed, found, rerr := s.reconcile(ctx, h)
		switch {
		case rerr != nil && errors.Is(rerr, models.ErrReverted):
			metrics.Reconciliations.WithLabelValues(string(w.record.Kind), "reverted").Inc()
			return models.Listing{}, models.StageReconcile, rerr
		case rerr != nil:
			slog.Warn("Reconciliation query failed", "workflow_id", w.ID(), "error", rerr)
		case found:
			metrics.Reconciliations.WithLabelValues(string(w.record.Kind), "landed").Inc()
			slog.Info("Transaction landed after confirmation timeout", "workflow_id", w.ID(), "tx_hash", h.TxHash)
			return landed, models.StageReconcile, nil
		}
		metrics.Reconciliations.WithLabelValues(string(w.record.Kind), "not_found").Inc()

		if attempt >= s.config.AwaitAttempts {
			return models.Listing{}, models.StageReconcile, err
		}
		slog.Info("Transaction still unconfirmed, waiting another window",
			"workflow_id", w.ID(),
			"tx_hash", h.TxHash,
			"attempt", attempt+1,
		)
	}
}

// reconcile inspects chain state for the effect of h
func (s *Service) reconcile(ctx context.Context, h chain.TransactionHandle) (models.Listing, bool, error) {
	if receipt, err := s.chain.Status(ctx, h); err == nil {
		switch receipt.Status {
		case chain.ReceiptConfirmed:
			return receipt.Listing, true, nil
		case chain.ReceiptReverted:
			return models.Listing{}, false, fmt.Errorf("%w: %s", models.ErrReverted, receipt.Reason)
		}
	}

	switch h.Method {
	case chain.MethodBuy:
		listing, err := s.chain.GetListing(ctx, h.ListingID)
		if err != nil {
			return models.Listing{}, false, err
		}
		return listing, listing.Sold && listing.Owner == h.Account, nil

	case chain.MethodCreateListing:
		listed, err := s.chain.QueryListingsBySeller(ctx, h.Account)
		if err != nil {
			return models.Listing{}, false, err
		}
		return newestMatching(listed, 0, h.MetadataLocator, h.Price)

	case chain.MethodResell:
		prior, err := s.chain.GetListing(ctx, h.ListingID)
		if err != nil {
			return models.Listing{}, false, err
		}
		if !prior.Closed {
			return models.Listing{}, false, nil
		}
		listed, err := s.chain.QueryListingsBySeller(ctx, h.Account)
		if err != nil {
			return models.Listing{}, false, err
		}
		return newestMatching(listed, h.ListingID, prior.MetadataLocator, h.Price)
	}
	return models.Listing{}, false, nil
}

// adoptPrior completes w from a transaction submitted by the failed instance
// it retries, when that transaction turns out to have landed
func (s *Service) adoptPrior(ctx context.Context, w *Workflow, h chain.TransactionHandle) (Result, bool, error) {
	landed, found, err := s.reconcile(ctx, h)
	if err != nil || !found {
		return Result{}, false, nil
	}

	w.record.Artifacts.TxHash = h.TxHash
	if err := w.advance(ctx, models.WorkflowSubmitting, models.StageSubmit); err != nil {
		res, ferr := s.fail(ctx, w, models.StageSubmit, err)
		return res, true, ferr
	}
	if err := w.advance(ctx, models.WorkflowConfirming, models.StageReconcile); err != nil {
		res, ferr := s.fail(ctx, w, models.StageReconcile, err)
		return res, true, ferr
	}
	slog.Info("Retry adopted a transaction that already landed", "workflow_id", w.ID(), "tx_hash", h.TxHash)
	res, serr := s.succeed(ctx, w, landed)
	return res, true, serr
}

// listingForCheck returns listing data for pre-checks, from the catalog
// snapshot when it holds the listing and from the chain otherwise
func (s *Service) listingForCheck(ctx context.Context, listingID uint64) (models.Listing, error) {
	s.mu.Lock()
	lookup := s.lookup
	s.mu.Unlock()

	if lookup != nil {
		if entry, ok := lookup.Lookup(listingID); ok {
			return models.Listing{
				ListingID:       entry.ListingID,
				MetadataLocator: entry.MetadataLocator,
				Price:           entry.Price,
				Seller:          entry.Seller,
				Owner:           entry.Owner,
				Sold:            entry.Sold,
			}, nil
		}
	}
	return s.chain.GetListing(ctx, listingID)
}

// checkSession fails with ErrSessionChanged when the account a workflow
// started under is no longer the connected one
func (s *Service) checkSession(snapshot models.Session) error {
	current := s.sessions.Current()
	if !current.IsConnected() || current.Account != snapshot.Account {
		return fmt.Errorf("%w: started as %s, now %s",
			models.ErrSessionChanged,
			models.ShortenAddress(snapshot.Account),
			describeSession(current),
		)
	}
	return nil
}

func (s *Service) checkRetryAccount(prior *models.WorkflowRecord, account string) error {
	if prior != nil && prior.Account != "" && prior.Account != account {
		return fmt.Errorf("%w: workflow %s belongs to %s", models.ErrSessionChanged, prior.ID, models.ShortenAddress(prior.Account))
	}
	return nil
}

// begin creates a workflow instance and makes it the newest generation of key
func (s *Service) begin(ctx context.Context, kind models.WorkflowKind, key, account string, input models.WorkflowInput, prior *models.WorkflowRecord) *Workflow {
	generation := s.nextGeneration(ctx, key)
	now := time.Now().UTC()

	w := &Workflow{
		record: models.WorkflowRecord{
			ID:         uuid.NewString(),
			Kind:       kind,
			Key:        key,
			Generation: generation,
			State:      models.WorkflowIdle,
			Account:    account,
			Input:      input,
			CreatedAt:  now,
		},
		started: time.Now(),
		journal: s.journal,
	}
	if prior != nil {
		w.record.RetryOf = prior.ID
	}
	w.save(ctx)

	metrics.WorkflowsStarted.WithLabelValues(string(kind)).Inc()
	slog.Info("🚀 Workflow started",
		"workflow_id", w.ID(),
		"kind", kind,
		"key", key,
		"generation", generation,
		"retry_of", w.record.RetryOf,
	)
	return w
}

// nextGeneration bumps the generation of key. The first use of a key in this
// process continues from the journal so generations survive restarts.
func (s *Service) nextGeneration(ctx context.Context, key string) uint64 {
	latest := s.latestGeneration(ctx, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[key] < latest {
		s.generations[key] = latest
	}
	s.generations[key]++
	return s.generations[key]
}

func (s *Service) latestGeneration(ctx context.Context, key string) uint64 {
	s.mu.Lock()
	generation, ok := s.generations[key]
	s.mu.Unlock()
	if ok {
		return generation
	}

	record, err := s.journal.LatestWorkflow(ctx, key)
	if err != nil {
		return 0
	}
	return record.Generation
}

func (s *Service) isCurrent(w *Workflow) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[w.record.Key] == w.record.Generation
}

func (s *Service) succeed(ctx context.Context, w *Workflow, listing models.Listing) (Result, error) {
	if err := w.succeed(ctx, listing); err != nil {
		return s.fail(ctx, w, models.StageConfirm, err)
	}
	slog.Info("✅ Workflow succeeded",
		"workflow_id", w.ID(),
		"kind", w.record.Kind,
		"listing_id", listing.ListingID,
	)
	superseded := !s.publish(w, listing, nil)
	return Result{WorkflowID: w.ID(), Listing: listing, Superseded: superseded}, nil
}

func (s *Service) fail(ctx context.Context, w *Workflow, stage models.Stage, err error) (Result, error) {
	wfErr := &models.WorkflowError{
		WorkflowID: w.ID(),
		Kind:       w.record.Kind,
		Stage:      stage,
		Err:        err,
	}
	w.fail(ctx, stage, err)

	slog.Warn("Workflow failed",
		"workflow_id", w.ID(),
		"kind", w.record.Kind,
		"stage", stage,
		"retryable", wfErr.Retryable(),
		"error", err,
	)
	superseded := !s.publish(w, models.Listing{}, wfErr)
	return Result{WorkflowID: w.ID(), Superseded: superseded}, wfErr
}

// publish hands a finished workflow to observers unless a newer instance
// for the same key has started. It reports whether the result was current.
func (s *Service) publish(w *Workflow, listing models.Listing, err error) bool {
	if !s.isCurrent(w) {
		metrics.SupersededResults.WithLabelValues(string(w.record.Kind)).Inc()
		slog.Info("Discarding result of superseded workflow",
			"workflow_id", w.ID(),
			"key", w.record.Key,
			"generation", w.record.Generation,
		)
		return false
	}

	select {
	case s.outcomes <- Outcome{Record: w.Record(), Listing: listing, Err: err}:
	default:
		slog.Debug("Outcome channel full, dropping outcome", "workflow_id", w.ID())
	}
	return true
}
