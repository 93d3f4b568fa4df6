package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"marketplace/internal/metrics"
	"marketplace/internal/models"

	"golang.org/x/sync/errgroup"
)

// FetchCatalog queries the listings in scope and joins each with its metadata.
// Metadata is fetched in parallel with bounded concurrency. An entry whose
// metadata cannot be resolved is omitted and reported in the returned
// PartialCatalogFailure; only a failed chain query or an abandoned context
// fails the whole call.
func (s *Service) FetchCatalog(ctx context.Context, scope models.Scope) ([]models.CatalogEntry, *models.PartialCatalogFailure, error) {
	if err := scope.Validate(); err != nil {
		return nil, nil, err
	}

	var (
		listings []models.Listing
		err      error
	)
	switch scope.Kind {
	case models.ScopeAll:
		listings, err = s.chain.QueryAllListings(ctx)
	case models.ScopeOwnedBy:
		listings, err = s.chain.QueryListingsByOwner(ctx, scope.Account)
	case models.ScopeListedBy:
		listings, err = s.chain.QueryListingsBySeller(ctx, scope.Account)
	}
	if err != nil {
		return nil, nil, err
	}

	resolved := make([]*models.CatalogEntry, len(listings))
	var (
		mu         sync.Mutex
		unresolved []models.UnresolvedEntry
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.FetchConcurrency)

	for i, l := range listings {
		g.Go(func() error {
			metadata, err := s.resolveMetadata(gctx, l.MetadataLocator)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				mu.Lock()
				unresolved = append(unresolved, models.UnresolvedEntry{
					ListingID:       l.ListingID,
					MetadataLocator: l.MetadataLocator,
					Reason:          err.Error(),
				})
				mu.Unlock()
				return nil
			}
			entry := models.NewCatalogEntry(l, metadata)
			resolved[i] = &entry
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("catalog fetch abandoned: %w", err)
	}

	entries := make([]models.CatalogEntry, 0, len(listings))
	for _, e := range resolved {
		if e != nil {
			entries = append(entries, *e)
		}
	}

	if len(unresolved) == 0 {
		return entries, nil, nil
	}

	sort.Slice(unresolved, func(i, j int) bool {
		return unresolved[i].ListingID < unresolved[j].ListingID
	})
	metrics.CatalogUnresolved.Add(float64(len(unresolved)))
	slog.Warn("Catalog fetched with unresolved entries",
		"scope", scope.String(),
		"total", len(listings),
		"unresolved", len(unresolved),
	)
	return entries, &models.PartialCatalogFailure{Total: len(listings), Unresolved: unresolved}, nil
}

// resolveMetadata returns the metadata document behind loc. Documents are
// immutable, so resolved ones are cached by locator.
func (s *Service) resolveMetadata(ctx context.Context, loc models.Locator) (models.AssetMetadata, error) {
	if metadata, ok := s.metadata.Get(loc); ok {
		return metadata, nil
	}

	data, err := s.store.Fetch(ctx, loc)
	if err != nil {
		return models.AssetMetadata{}, err
	}

	var metadata models.AssetMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return models.AssetMetadata{}, fmt.Errorf("failed to decode metadata %s: %w", loc, err)
	}

	s.metadata.Add(loc, metadata)
	return metadata, nil
}
