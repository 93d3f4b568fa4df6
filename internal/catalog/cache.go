// Package catalog holds the in-memory projection of on-chain listings served
// to the presentation layer. Searches and sorts run on the cached snapshot and
// never reach the network.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"marketplace/internal/metrics"
	"marketplace/internal/models"
)

// Fetcher produces catalog entries for a scope
type Fetcher interface {
	FetchCatalog(ctx context.Context, scope models.Scope) ([]models.CatalogEntry, *models.PartialCatalogFailure, error)
}

// Criterion is a sort order over the snapshot
type Criterion string

const (
	PriceAsc    Criterion = "price_asc"
	PriceDesc   Criterion = "price_desc"
	RecentFirst Criterion = "recent"
)

// ParseCriterion parses the query-string form of a criterion
func ParseCriterion(s string) (Criterion, error) {
	switch Criterion(strings.ToLower(strings.TrimSpace(s))) {
	case PriceAsc:
		return PriceAsc, nil
	case PriceDesc:
		return PriceDesc, nil
	case RecentFirst, "":
		return RecentFirst, nil
	}
	return "", fmt.Errorf("%w: unknown sort criterion %q", models.ErrInvalidInput, s)
}

// Snapshot is the cached projection together with how it was produced
type Snapshot struct {
	Scope       models.Scope
	Entries     []models.CatalogEntry
	RefreshedAt time.Time
	Partial     *models.PartialCatalogFailure
}

// Cache is the CatalogCache
type Cache struct {
	fetcher Fetcher

	mu          sync.RWMutex
	scope       models.Scope
	entries     []models.CatalogEntry
	byID        map[uint64]int
	refreshedAt time.Time
	partial     *models.PartialCatalogFailure
	issued      uint64 // generation handed to the latest refresh
	applied     uint64 // generation of the current snapshot
}

// NewCache creates an empty Cache
func NewCache(fetcher Fetcher) *Cache {
	return &Cache{
		fetcher: fetcher,
		scope:   models.AllListings(),
		byID:    make(map[uint64]int),
	}
}

// Refresh fetches scope and replaces the snapshot wholesale. Entries whose
// metadata could not be resolved are reported, not fatal. When refreshes
// overlap, a slower older one never replaces the result of a newer one.
func (c *Cache) Refresh(ctx context.Context, scope models.Scope) (*models.PartialCatalogFailure, error) {
	c.mu.Lock()
	c.issued++
	generation := c.issued
	c.mu.Unlock()

	start := time.Now()
	entries, partial, err := c.fetcher.FetchCatalog(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh catalog: %w", err)
	}
	metrics.CatalogRefreshDuration.Observe(time.Since(start).Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	if generation < c.applied {
		slog.Debug("Discarding stale catalog refresh", "generation", generation, "applied", c.applied)
		return partial, nil
	}

	c.applied = generation
	c.scope = scope
	c.entries = entries
	c.reindexLocked()
	c.refreshedAt = time.Now().UTC()
	c.partial = partial

	metrics.CatalogEntries.WithLabelValues(string(scope.Kind)).Set(float64(len(entries)))
	slog.Debug("Catalog refreshed",
		"scope", scope.String(),
		"entries", len(entries),
		"unresolved", partial.Count(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return partial, nil
}

// Entries returns the current snapshot
func (c *Cache) Entries() []models.CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.CatalogEntry(nil), c.entries...)
}

// Snapshot returns the current snapshot with its scope and refresh time
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Scope:       c.scope,
		Entries:     append([]models.CatalogEntry(nil), c.entries...),
		RefreshedAt: c.refreshedAt,
		Partial:     c.partial,
	}
}

// Search returns entries whose name contains term, ignoring case, in snapshot
// order. An empty term returns the whole snapshot.
func (c *Cache) Search(term string) []models.CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.searchLocked(term)
}

// SortBy reorders the snapshot by criterion and returns it. The sort is
// stable, so entries that compare equal keep their previous relative order.
// RecentFirst relies on the contract assigning increasing listing ids.
func (c *Cache) SortBy(criterion Criterion) []models.CatalogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sortLocked(criterion)
	return append([]models.CatalogEntry(nil), c.entries...)
}

// Query sorts the snapshot by criterion, when one is given, and searches it
// for term under a single lock, so concurrent callers each see the order
// they asked for
func (c *Cache) Query(term string, criterion Criterion) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if criterion != "" {
		c.sortLocked(criterion)
	}
	return Snapshot{
		Scope:       c.scope,
		Entries:     c.searchLocked(term),
		RefreshedAt: c.refreshedAt,
		Partial:     c.partial,
	}
}

func (c *Cache) searchLocked(term string) []models.CatalogEntry {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return append([]models.CatalogEntry(nil), c.entries...)
	}

	out := make([]models.CatalogEntry, 0)
	for _, e := range c.entries {
		if strings.Contains(strings.ToLower(e.Name), term) {
			out = append(out, e)
		}
	}
	return out
}

func (c *Cache) sortLocked(criterion Criterion) {
	var less func(a, b models.CatalogEntry) bool
	switch criterion {
	case PriceAsc:
		less = func(a, b models.CatalogEntry) bool { return a.Price.LessThan(b.Price) }
	case PriceDesc:
		less = func(a, b models.CatalogEntry) bool { return a.Price.GreaterThan(b.Price) }
	default:
		less = func(a, b models.CatalogEntry) bool { return a.ListingID > b.ListingID }
	}

	sort.SliceStable(c.entries, func(i, j int) bool {
		return less(c.entries[i], c.entries[j])
	})
	c.reindexLocked()
}

// Lookup returns the cached entry for listingID
func (c *Cache) Lookup(listingID uint64) (models.CatalogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.byID[listingID]
	if !ok {
		return models.CatalogEntry{}, false
	}
	return c.entries[i], true
}

// Scope returns the scope of the current snapshot
func (c *Cache) Scope() models.Scope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scope
}

func (c *Cache) reindexLocked() {
	c.byID = make(map[uint64]int, len(c.entries))
	for i, e := range c.entries {
		c.byID[e.ListingID] = i
	}
}
