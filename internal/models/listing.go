package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Locator is an opaque content-address string of the form <scheme>://<content-address>
type Locator string

// String implements fmt.Stringer
func (l Locator) String() string {
	return string(l)
}

// AssetMetadata is the JSON document published next to every asset.
// It is immutable once stored.
type AssetMetadata struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Image       Locator `json:"image"`
}

// Listing is the on-chain sale record as returned by the marketplace contract
type Listing struct {
	ListingID       uint64          `json:"listing_id"`
	MetadataLocator Locator         `json:"metadata_locator"`
	Price           decimal.Decimal `json:"price"`
	Seller          string          `json:"seller"` // empty once sold
	Owner           string          `json:"owner"`
	Sold            bool            `json:"sold"`

	// Closed is set on a sold listing once it has been re-listed
	Closed bool `json:"closed,omitempty"`
}

// CatalogEntry is the UI-facing join of a listing with its resolved metadata
type CatalogEntry struct {
	ListingID       uint64          `json:"listing_id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Image           Locator         `json:"image"`
	MetadataLocator Locator         `json:"metadata_locator"`
	Price           decimal.Decimal `json:"price"`
	Seller          string          `json:"seller"`
	Owner           string          `json:"owner"`
	Sold            bool            `json:"sold"`
}

// NewCatalogEntry joins a listing with its metadata
func NewCatalogEntry(l Listing, m AssetMetadata) CatalogEntry {
	return CatalogEntry{
		ListingID:       l.ListingID,
		Name:            m.Name,
		Description:     m.Description,
		Image:           m.Image,
		MetadataLocator: l.MetadataLocator,
		Price:           l.Price,
		Seller:          l.Seller,
		Owner:           l.Owner,
		Sold:            l.Sold,
	}
}

// ScopeKind selects which listings a catalog fetch covers
type ScopeKind string

const (
	ScopeAll      ScopeKind = "all"    // every listing currently for sale
	ScopeOwnedBy  ScopeKind = "owned"  // listings bought by an account
	ScopeListedBy ScopeKind = "listed" // listings put up for sale by an account
)

// Scope is a catalog query scope
type Scope struct {
	Kind    ScopeKind `json:"kind"`
	Account string    `json:"account,omitempty"`
}

// AllListings returns the scope covering every listing for sale
func AllListings() Scope {
	return Scope{Kind: ScopeAll}
}

// OwnedBy returns the scope of listings owned by account
func OwnedBy(account string) Scope {
	return Scope{Kind: ScopeOwnedBy, Account: account}
}

// ListedBy returns the scope of listings sold by account
func ListedBy(account string) Scope {
	return Scope{Kind: ScopeListedBy, Account: account}
}

// Validate checks the scope is well formed
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeAll:
		return nil
	case ScopeOwnedBy, ScopeListedBy:
		if s.Account == "" {
			return fmt.Errorf("%w: scope %q requires an account", ErrInvalidInput, s.Kind)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidInput, s.Kind)
	}
}

// String implements fmt.Stringer
func (s Scope) String() string {
	if s.Account == "" {
		return string(s.Kind)
	}
	return string(s.Kind) + ":" + s.Account
}

// ParseScopeKind parses the query-string form of a scope kind
func ParseScopeKind(s string) (ScopeKind, error) {
	switch ScopeKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeAll:
		return ScopeAll, nil
	case ScopeOwnedBy:
		return ScopeOwnedBy, nil
	case ScopeListedBy:
		return ScopeListedBy, nil
	default:
		return "", fmt.Errorf("%w: unknown scope %q", ErrInvalidInput, s)
	}
}
