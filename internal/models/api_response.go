package models

import "time"

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Code       int    `json:"code"`
	Kind       string `json:"kind,omitempty"`
	Stage      Stage  `json:"stage,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Retryable  bool   `json:"retryable"`
}

// CatalogResponse is returned by the catalog endpoints
type CatalogResponse struct {
	Scope       Scope                  `json:"scope"`
	Entries     []CatalogEntry         `json:"entries"`
	Total       int                    `json:"total"`
	RefreshedAt time.Time              `json:"refreshed_at"`
	Partial     *PartialCatalogFailure `json:"partial,omitempty"`
}

// ListingResponse is returned by workflow endpoints on success
type ListingResponse struct {
	WorkflowID string  `json:"workflow_id"`
	Listing    Listing `json:"listing"`
	Superseded bool    `json:"superseded,omitempty"`
}

// WorkflowListResponse is a page of journaled workflows
type WorkflowListResponse struct {
	Workflows []*WorkflowRecord `json:"workflows"`
	Total     int               `json:"total"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

// EligibilityResponse tells the UI which action a session may take on a listing
type EligibilityResponse struct {
	ListingID   uint64 `json:"listing_id"`
	Eligibility string `json:"eligibility"`
}
