package storage

import (
	"context"
	"errors"

	"marketplace/internal/models"
)

// ErrWorkflowNotFound is returned when no workflow record has the requested id
var ErrWorkflowNotFound = errors.New("workflow not found")

// Repository defines the interface for the workflow journal
type Repository interface {
	// Workflows
	SaveWorkflow(ctx context.Context, record *models.WorkflowRecord) error
	GetWorkflow(ctx context.Context, id string) (*models.WorkflowRecord, error)
	ListWorkflows(ctx context.Context, account string, limit, offset int) ([]*models.WorkflowRecord, error)
	LatestWorkflow(ctx context.Context, key string) (*models.WorkflowRecord, error)

	// Health & Maintenance
	Ping(ctx context.Context) error
	Close() error
}
