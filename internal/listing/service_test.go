package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketplace/internal/chain"
	"marketplace/internal/chain/simulated"
	"marketplace/internal/ipfs"
	"marketplace/internal/models"
	"marketplace/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
)

type fakeSessions struct {
	mu sync.Mutex
	s  models.Session
}

func (f *fakeSessions) Current() models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

func (f *fakeSessions) set(s models.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.s = s
}

// flakyStore fails chosen Store calls (1-based) and can run a hook before each
type flakyStore struct {
	*ipfs.MemoryStore

	mu      sync.Mutex
	calls   int
	failOn  map[int]bool
	onStore func(call int)
}

func (f *flakyStore) Store(ctx context.Context, data []byte, contentType string) (models.Locator, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	fail := f.failOn[n]
	hook := f.onStore
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if fail {
		return "", fmt.Errorf("%w: injected failure on call %d", models.ErrStorageUnavailable, n)
	}
	return f.MemoryStore.Store(ctx, data, contentType)
}

func (f *flakyStore) StoreJSON(ctx context.Context, v any) (models.Locator, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return f.Store(ctx, data, "application/json")
}

// countingChain counts submissions and can act when a confirmation window expires
type countingChain struct {
	*chain.Client
	submits      atomic.Int32
	afterTimeout func()
}

func (c *countingChain) SubmitListing(ctx context.Context, sess models.Session, loc models.Locator, price decimal.Decimal) (chain.TransactionHandle, error) {
	c.submits.Add(1)
	return c.Client.SubmitListing(ctx, sess, loc, price)
}

func (c *countingChain) SubmitResale(ctx context.Context, sess models.Session, id uint64, price decimal.Decimal) (chain.TransactionHandle, error) {
	c.submits.Add(1)
	return c.Client.SubmitResale(ctx, sess, id, price)
}

func (c *countingChain) SubmitPurchase(ctx context.Context, sess models.Session, id uint64, price decimal.Decimal) (chain.TransactionHandle, error) {
	c.submits.Add(1)
	return c.Client.SubmitPurchase(ctx, sess, id, price)
}

func (c *countingChain) Await(ctx context.Context, h chain.TransactionHandle) (models.Listing, error) {
	listing, err := c.Client.Await(ctx, h)
	if errors.Is(err, models.ErrTimeout) && c.afterTimeout != nil {
		c.afterTimeout()
	}
	return listing, err
}

type keySigner map[string]*keypair.Full

func (s keySigner) Sign(ctx context.Context, account string, payload []byte) ([]byte, error) {
	kp, ok := s[account]
	if !ok {
		return nil, models.ErrNotConnected
	}
	return kp.Sign(payload)
}

type env struct {
	store    *flakyStore
	ledger   *simulated.Ledger
	chain    *countingChain
	signer   keySigner
	sessions *fakeSessions
	journal  *storage.MemoryRepository
	svc      *Service
	seller   models.Session
	buyer    models.Session
}

func newEnv(t *testing.T) *env {
	t.Helper()
	sellerKP, buyerKP := keypair.MustRandom(), keypair.MustRandom()
	signer := keySigner{sellerKP.Address(): sellerKP, buyerKP.Address(): buyerKP}

	ledger := simulated.New(simulated.Options{
		Network:    network.TestNetworkPassphrase,
		ListingFee: decimal.RequireFromString("0.025"),
		AutoMine:   true,
	})
	client := chain.NewClient(ledger, signer, chain.Config{
		PollInterval: 2 * time.Millisecond,
		MaxWait:      40 * time.Millisecond,
	})

	e := &env{
		store:    &flakyStore{MemoryStore: ipfs.NewMemoryStore(), failOn: map[int]bool{}},
		ledger:   ledger,
		chain:    &countingChain{Client: client},
		signer:   signer,
		sessions: &fakeSessions{},
		journal:  storage.NewMemoryRepository(),
		seller:   models.ConnectedSession(sellerKP.Address(), network.TestNetworkPassphrase),
		buyer:    models.ConnectedSession(buyerKP.Address(), network.TestNetworkPassphrase),
	}
	e.sessions.set(e.seller)
	e.svc = e.newService(t, e.sessions)
	return e
}

// newService creates another ListingService over the same store and ledger,
// as a second browser tab would
func (e *env) newService(t *testing.T, sessions Sessions) *Service {
	t.Helper()
	svc, err := NewService(e.store, e.chain, sessions, e.journal, nil, Config{FetchConcurrency: 2, AwaitAttempts: 2})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func artwork(name, price string) ListRequest {
	return ListRequest{
		Asset:       []byte("image bytes of " + name),
		ContentType: "image/png",
		Name:        name,
		Description: "a description of " + name,
		Price:       decimal.RequireFromString(price),
	}
}

func mustWorkflowError(t *testing.T, err error) *models.WorkflowError {
	t.Helper()
	var wfErr *models.WorkflowError
	if !errors.As(err, &wfErr) {
		t.Fatalf("Expected *models.WorkflowError, got %T: %v", err, err)
	}
	return wfErr
}

func TestService_ListBuyScenario(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.svc.List(ctx, artwork("Artwork A", "1.5"))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	entries, partial, err := e.svc.FetchCatalog(ctx, models.AllListings())
	if err != nil || partial != nil {
		t.Fatalf("FetchCatalog failed: %v %v", err, partial)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.Name != "Artwork A" || !got.Price.Equal(decimal.RequireFromString("1.5")) || got.Sold {
		t.Errorf("Unexpected entry: %+v", got)
	}
	if got.Description != "a description of Artwork A" || got.Image == "" {
		t.Errorf("Metadata not joined: %+v", got)
	}

	e.sessions.set(e.buyer)
	bought, err := e.svc.Buy(ctx, res.Listing.ListingID, got.Price)
	if err != nil {
		t.Fatalf("Buy failed: %v", err)
	}
	if !bought.Listing.Sold || bought.Listing.Owner != e.buyer.Account {
		t.Errorf("Expected sold listing owned by buyer, got %+v", bought.Listing)
	}

	owned, _, err := e.svc.FetchCatalog(ctx, models.OwnedBy(e.buyer.Account))
	if err != nil {
		t.Fatalf("FetchCatalog failed: %v", err)
	}
	if len(owned) != 1 || !owned[0].Sold || owned[0].Name != "Artwork A" {
		t.Errorf("Expected the bought entry, got %+v", owned)
	}

	forSale, _, _ := e.svc.FetchCatalog(ctx, models.AllListings())
	if len(forSale) != 0 {
		t.Errorf("Sold listing must leave the market, got %+v", forSale)
	}
}

func TestService_SelfPurchaseFailsBeforeSubmit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.svc.List(ctx, artwork("Mine", "1"))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	before := e.chain.submits.Load()

	_, err = e.svc.Buy(ctx, res.Listing.ListingID, res.Listing.Price)
	if !errors.Is(err, models.ErrSelfPurchase) {
		t.Fatalf("Expected ErrSelfPurchase, got: %v", err)
	}
	wfErr := mustWorkflowError(t, err)
	if wfErr.Stage != models.StageValidate || wfErr.Retryable() {
		t.Errorf("Expected terminal validate failure, got stage=%s retryable=%v", wfErr.Stage, wfErr.Retryable())
	}
	if e.chain.submits.Load() != before {
		t.Error("No transaction may be submitted for a self-purchase")
	}

	record, err := e.svc.Workflow(ctx, wfErr.WorkflowID)
	if err != nil {
		t.Fatalf("Workflow lookup failed: %v", err)
	}
	if record.State != models.WorkflowFailed || record.ErrorKind != "self_purchase" {
		t.Errorf("Unexpected journal record: %+v", record)
	}
}

func TestService_SecondBuyReverted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, _ := e.svc.List(ctx, artwork("Once", "2"))
	e.sessions.set(e.buyer)

	if _, err := e.svc.Buy(ctx, res.Listing.ListingID, res.Listing.Price); err != nil {
		t.Fatalf("First buy failed: %v", err)
	}
	_, err := e.svc.Buy(ctx, res.Listing.ListingID, res.Listing.Price)
	if !errors.Is(err, models.ErrReverted) {
		t.Fatalf("Expected ErrReverted, got: %v", err)
	}
	if mustWorkflowError(t, err).Retryable() {
		t.Error("Reverted must not be retryable")
	}

	listing, _ := e.chain.GetListing(ctx, res.Listing.ListingID)
	if !listing.Sold || listing.Owner != e.buyer.Account {
		t.Errorf("Expected listing owned by first buyer, got %+v", listing)
	}
}

func TestService_ConcurrentBuysExactlyOneWins(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res, _ := e.svc.List(ctx, artwork("Contested", "1"))

	other := keypair.MustRandom()
	e.signer[other.Address()] = other
	tabs := []*Service{
		e.newService(t, &fakeSessions{s: e.buyer}),
		e.newService(t, &fakeSessions{s: models.ConnectedSession(other.Address(), network.TestNetworkPassphrase)}),
	}

	var wg sync.WaitGroup
	errs := make([]error, len(tabs))
	for i, tab := range tabs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = tab.Buy(ctx, res.Listing.ListingID, res.Listing.Price)
		}()
	}
	wg.Wait()

	var won, reverted int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, models.ErrReverted):
			reverted++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if won != 1 || reverted != 1 {
		t.Errorf("Expected one success and one Reverted, got won=%d reverted=%d", won, reverted)
	}
}

func TestService_StorageFailureTouchesNoChain(t *testing.T) {
	e := newEnv(t)
	e.store.failOn[1] = true

	_, err := e.svc.List(context.Background(), artwork("Broken", "1"))
	if !errors.Is(err, models.ErrStorageUnavailable) {
		t.Fatalf("Expected ErrStorageUnavailable, got: %v", err)
	}
	wfErr := mustWorkflowError(t, err)
	if wfErr.Stage != models.StageUploadAsset || !wfErr.Retryable() {
		t.Errorf("Expected retryable upload_asset failure, got stage=%s retryable=%v", wfErr.Stage, wfErr.Retryable())
	}
	if e.chain.submits.Load() != 0 {
		t.Error("No transaction may be submitted when the upload failed")
	}
}

func TestService_RetryReusesUploadedArtifacts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.store.failOn[2] = true // metadata upload

	_, err := e.svc.List(ctx, artwork("Artwork A", "1.5"))
	wfErr := mustWorkflowError(t, err)
	if wfErr.Stage != models.StageUploadMetadata || !wfErr.Retryable() {
		t.Fatalf("Expected retryable upload_metadata failure, got %v", err)
	}
	failed, _ := e.svc.Workflow(ctx, wfErr.WorkflowID)
	if failed.Artifacts.ImageLocator == "" {
		t.Fatal("Image locator of the failed instance must be journaled")
	}

	res, err := e.svc.Retry(ctx, wfErr.WorkflowID, nil)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if res.WorkflowID == wfErr.WorkflowID {
		t.Error("Retry must create a new workflow instance")
	}
	if e.store.Puts() != 2 {
		t.Errorf("Expected the image to be stored once plus metadata, got %d puts", e.store.Puts())
	}

	retried, _ := e.svc.Workflow(ctx, res.WorkflowID)
	if retried.RetryOf != wfErr.WorkflowID || retried.Artifacts.ImageLocator != failed.Artifacts.ImageLocator {
		t.Errorf("Unexpected retried record: %+v", retried)
	}
	if retried.State != models.WorkflowSucceeded {
		t.Errorf("Expected succeeded, got %s", retried.State)
	}

	entries, _, _ := e.svc.FetchCatalog(ctx, models.AllListings())
	if len(entries) != 1 || entries[0].Name != "Artwork A" {
		t.Errorf("Expected exactly one listing, got %+v", entries)
	}
}

func TestService_RetryRejectsSucceededAndUnknown(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, _ := e.svc.List(ctx, artwork("Done", "1"))
	if _, err := e.svc.Retry(ctx, res.WorkflowID, nil); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for a succeeded workflow, got: %v", err)
	}
	if _, err := e.svc.Retry(ctx, "missing", nil); !errors.Is(err, storage.ErrWorkflowNotFound) {
		t.Errorf("Expected ErrWorkflowNotFound, got: %v", err)
	}
}

func TestService_SessionChangedMidFlight(t *testing.T) {
	e := newEnv(t)
	e.store.onStore = func(call int) {
		if call == 2 {
			e.sessions.set(e.buyer)
		}
	}

	_, err := e.svc.List(context.Background(), artwork("Switch", "1"))
	if !errors.Is(err, models.ErrSessionChanged) {
		t.Fatalf("Expected ErrSessionChanged, got: %v", err)
	}
	wfErr := mustWorkflowError(t, err)
	if wfErr.Stage != models.StageSubmit || wfErr.Retryable() {
		t.Errorf("Expected terminal submit failure, got stage=%s", wfErr.Stage)
	}
	if e.chain.submits.Load() != 0 {
		t.Error("Nothing may be submitted under a changed session")
	}
}

func TestService_NotConnected(t *testing.T) {
	e := newEnv(t)
	e.sessions.set(models.DisconnectedSession())

	_, err := e.svc.List(context.Background(), artwork("Nobody", "1"))
	if !errors.Is(err, models.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got: %v", err)
	}
}

func TestService_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		req  ListRequest
	}{
		{"missing name", ListRequest{Asset: []byte("x"), Price: decimal.NewFromInt(1)}},
		{"zero price", ListRequest{Asset: []byte("x"), Name: "n"}},
		{"missing asset", ListRequest{Name: "n", Price: decimal.NewFromInt(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			_, err := e.svc.List(context.Background(), tt.req)
			if !errors.Is(err, models.ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput, got: %v", err)
			}
		})
	}
}

func TestService_TimeoutThenLandedIsSuccess(t *testing.T) {
	e := newEnv(t)
	e.ledger.SetAutoMine(false)
	e.chain.afterTimeout = func() { e.ledger.Mine() }

	res, err := e.svc.List(context.Background(), artwork("Slow", "1"))
	if err != nil {
		t.Fatalf("Expected reconciliation to find the landed listing, got: %v", err)
	}
	if res.Listing.ListingID != 1 {
		t.Errorf("Expected listing 1, got %+v", res.Listing)
	}
}

func TestService_TimeoutRetryAdoptsLandedTransaction(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res, _ := e.svc.List(ctx, artwork("Slow buy", "3"))

	e.sessions.set(e.buyer)
	e.ledger.SetAutoMine(false)

	_, err := e.svc.Buy(ctx, res.Listing.ListingID, res.Listing.Price)
	if !errors.Is(err, models.ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got: %v", err)
	}
	wfErr := mustWorkflowError(t, err)
	if !wfErr.Retryable() {
		t.Error("Timeout must be retryable")
	}
	submits := e.chain.submits.Load()

	// The purchase lands after the workflow gave up
	e.ledger.Mine()

	retried, err := e.svc.Retry(ctx, wfErr.WorkflowID, nil)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if !retried.Listing.Sold || retried.Listing.Owner != e.buyer.Account {
		t.Errorf("Expected adopted purchase, got %+v", retried.Listing)
	}
	if e.chain.submits.Load() != submits {
		t.Error("Retry must not resubmit a transaction that already landed")
	}
}

func TestService_Resell(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res, _ := e.svc.List(ctx, artwork("Flip", "1"))

	// The seller does not own an unsold listing
	if _, err := e.svc.Resell(ctx, res.Listing.ListingID, decimal.NewFromInt(2)); !errors.Is(err, models.ErrNotOwner) {
		t.Errorf("Expected ErrNotOwner, got: %v", err)
	}

	e.sessions.set(e.buyer)
	if _, err := e.svc.Buy(ctx, res.Listing.ListingID, res.Listing.Price); err != nil {
		t.Fatalf("Buy failed: %v", err)
	}

	resold, err := e.svc.Resell(ctx, res.Listing.ListingID, decimal.NewFromInt(4))
	if err != nil {
		t.Fatalf("Resell failed: %v", err)
	}
	if resold.Listing.ListingID == res.Listing.ListingID || resold.Listing.MetadataLocator != res.Listing.MetadataLocator {
		t.Errorf("Expected a new listing with the same metadata, got %+v", resold.Listing)
	}

	entries, _, _ := e.svc.FetchCatalog(ctx, models.AllListings())
	if len(entries) != 1 || entries[0].Name != "Flip" || !entries[0].Price.Equal(decimal.NewFromInt(4)) {
		t.Errorf("Expected the relisted entry, got %+v", entries)
	}

	prior, _ := e.chain.GetListing(ctx, res.Listing.ListingID)
	if !prior.Sold {
		t.Error("Sold must never be reset on the prior listing")
	}
}

func TestService_FetchCatalogPartialFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, _ := e.svc.List(ctx, artwork("Kept", "1"))
	second, _ := e.svc.List(ctx, artwork("Lost", "2"))
	e.store.Forget(second.Listing.MetadataLocator)

	// A fresh service has no cached metadata
	fresh := e.newService(t, e.sessions)
	entries, partial, err := fresh.FetchCatalog(ctx, models.AllListings())
	if err != nil {
		t.Fatalf("Partial failure must not be fatal: %v", err)
	}
	if len(entries) != 1 || entries[0].ListingID != first.Listing.ListingID {
		t.Errorf("Expected only the resolvable entry, got %+v", entries)
	}
	if partial.Count() != 1 || partial.Total != 2 || partial.Unresolved[0].ListingID != second.Listing.ListingID {
		t.Errorf("Unexpected partial report: %+v", partial)
	}
}

func TestService_FetchCatalogInvalidScope(t *testing.T) {
	e := newEnv(t)
	if _, _, err := e.svc.FetchCatalog(context.Background(), models.Scope{Kind: models.ScopeOwnedBy}); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got: %v", err)
	}
}

func TestService_SupersededResultNotPublished(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	req := artwork("Twice", "1")

	var newer Result
	var started atomic.Bool
	e.store.onStore = func(call int) {
		if !started.CompareAndSwap(false, true) {
			return
		}
		// The user resubmits the same listing before the first one finished
		var err error
		newer, err = e.svc.List(ctx, req)
		if err != nil {
			t.Errorf("Newer List failed: %v", err)
		}
	}

	older, err := e.svc.List(ctx, req)
	if err != nil {
		t.Fatalf("Older List failed: %v", err)
	}
	if !older.Superseded || newer.Superseded {
		t.Errorf("Expected only the older instance superseded, got older=%v newer=%v", older.Superseded, newer.Superseded)
	}

	var published []string
	for {
		select {
		case o := <-e.svc.Outcomes():
			published = append(published, o.Record.ID)
			continue
		default:
		}
		break
	}
	if len(published) != 1 || published[0] != newer.WorkflowID {
		t.Errorf("Expected only %s published, got %v", newer.WorkflowID, published)
	}
}

func TestService_UsesCatalogLookupForBuyCheck(t *testing.T) {
	e := newEnv(t)
	e.sessions.set(e.buyer)
	e.svc.SetLookup(lookupFunc(func(id uint64) (models.CatalogEntry, bool) {
		return models.CatalogEntry{ListingID: id, Seller: e.buyer.Account}, true
	}))

	_, err := e.svc.Buy(context.Background(), 7, decimal.NewFromInt(1))
	if !errors.Is(err, models.ErrSelfPurchase) {
		t.Errorf("Expected ErrSelfPurchase from the catalog snapshot, got: %v", err)
	}
}

type lookupFunc func(uint64) (models.CatalogEntry, bool)

func (f lookupFunc) Lookup(id uint64) (models.CatalogEntry, bool) { return f(id) }
