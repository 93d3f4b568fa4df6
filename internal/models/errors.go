package models

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy shared by every component. Components wrap these with
// fmt.Errorf("...: %w") and callers match them with errors.Is.
var (
	ErrWalletUnavailable  = errors.New("wallet unavailable")
	ErrUserRejected       = errors.New("user rejected request")
	ErrSessionChanged     = errors.New("session changed during workflow")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrReverted           = errors.New("transaction reverted")
	ErrTimeout            = errors.New("transaction confirmation timed out")

	// Client-side guards. The contract re-checks all of them.
	ErrNotConnected    = errors.New("wallet not connected")
	ErrSelfPurchase    = errors.New("cannot buy your own listing")
	ErrNotOwner        = errors.New("only the owner can resell a listing")
	ErrListingNotFound = errors.New("listing not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrSuperseded      = errors.New("workflow superseded by a newer instance")
)

// ErrorKind returns the taxonomy name of err, or "internal" when err matches none
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrWalletUnavailable):
		return "wallet_unavailable"
	case errors.Is(err, ErrUserRejected):
		return "user_rejected"
	case errors.Is(err, ErrSessionChanged):
		return "session_changed"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrReverted):
		return "reverted"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrSelfPurchase):
		return "self_purchase"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrListingNotFound):
		return "listing_not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrSuperseded):
		return "superseded"
	}
	var partial *PartialCatalogFailure
	if errors.As(err, &partial) {
		return "partial_catalog_failure"
	}
	return "internal"
}

// Stage identifies which step of a workflow failed
type Stage string

const (
	StageValidate       Stage = "validate"
	StageUploadAsset    Stage = "upload_asset"
	StageUploadMetadata Stage = "upload_metadata"
	StageSubmit         Stage = "submit"
	StageConfirm        Stage = "confirm"
	StageReconcile      Stage = "reconcile"
)

// WorkflowError is the typed failure returned at the ListingService boundary
type WorkflowError struct {
	WorkflowID string
	Kind       WorkflowKind
	Stage      Stage
	Err        error
}

// Error implements error
func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s workflow %s failed at %s: %v", e.Kind, e.WorkflowID, e.Stage, e.Err)
}

// Unwrap exposes the underlying taxonomy error
func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Retryable reports whether re-running the workflow is safe without user intervention.
// StorageUnavailable during uploads and Timeout anywhere are safe; everything else
// requires the user to re-initiate deliberately.
func (e *WorkflowError) Retryable() bool {
	if errors.Is(e.Err, ErrTimeout) {
		return true
	}
	if errors.Is(e.Err, ErrStorageUnavailable) {
		return e.Stage == StageUploadAsset || e.Stage == StageUploadMetadata
	}
	return false
}

// IsRetryable reports whether err is a WorkflowError that is safe to retry
func IsRetryable(err error) bool {
	var wfErr *WorkflowError
	if errors.As(err, &wfErr) {
		return wfErr.Retryable()
	}
	return false
}

// UnresolvedEntry is a listing whose metadata could not be resolved
type UnresolvedEntry struct {
	ListingID       uint64  `json:"listing_id"`
	MetadataLocator Locator `json:"metadata_locator"`
	Reason          string  `json:"reason"`
}

// PartialCatalogFailure is a non-fatal report of catalog entries omitted from a fetch
type PartialCatalogFailure struct {
	Total      int               `json:"total"`
	Unresolved []UnresolvedEntry `json:"unresolved"`
}

// Error implements error
func (p *PartialCatalogFailure) Error() string {
	ids := make([]string, 0, len(p.Unresolved))
	for _, u := range p.Unresolved {
		ids = append(ids, fmt.Sprintf("%d", u.ListingID))
	}
	return fmt.Sprintf("partial catalog failure: %d of %d entries unresolved (%s)",
		len(p.Unresolved), p.Total, strings.Join(ids, ", "))
}

// Count returns the number of omitted entries
func (p *PartialCatalogFailure) Count() int {
	if p == nil {
		return 0
	}
	return len(p.Unresolved)
}
