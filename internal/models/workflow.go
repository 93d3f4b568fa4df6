package models

import "time"

// WorkflowKind names a user-facing workflow
type WorkflowKind string

const (
	WorkflowList   WorkflowKind = "list"
	WorkflowResell WorkflowKind = "resell"
	WorkflowBuy    WorkflowKind = "buy"
)

// WorkflowState is a state of the per-instance workflow state machine
type WorkflowState string

const (
	WorkflowIdle       WorkflowState = "idle"
	WorkflowUploading  WorkflowState = "uploading"
	WorkflowSubmitting WorkflowState = "submitting"
	WorkflowConfirming WorkflowState = "confirming"
	WorkflowSucceeded  WorkflowState = "succeeded"
	WorkflowFailed     WorkflowState = "failed"
)

// Terminal reports whether no further transition is possible
func (s WorkflowState) Terminal() bool {
	return s == WorkflowSucceeded || s == WorkflowFailed
}

// Artifacts are the external effects produced by a workflow instance
type Artifacts struct {
	ImageLocator    Locator `json:"image_locator,omitempty"`
	MetadataLocator Locator `json:"metadata_locator,omitempty"`
	TxHash          string  `json:"tx_hash,omitempty"`
	ListingID       uint64  `json:"listing_id,omitempty"`
}

// WorkflowRecord is the journaled view of a workflow instance
type WorkflowRecord struct {
	ID         string        `json:"id"`
	Kind       WorkflowKind  `json:"kind"`
	Key        string        `json:"key"`
	Generation uint64        `json:"generation"`
	State      WorkflowState `json:"state"`
	Stage      Stage         `json:"stage,omitempty"`
	Account    string        `json:"account"`
	Artifacts  Artifacts     `json:"artifacts"`
	Input      WorkflowInput `json:"input"`
	Error      string        `json:"error,omitempty"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	RetryOf    string        `json:"retry_of,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// WorkflowInput is the user input a workflow was started with.
// Asset bytes are never journaled; a List retry relies on the recorded locators.
type WorkflowInput struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Price       string `json:"price"`
	ListingID   uint64 `json:"listing_id,omitempty"`
}
