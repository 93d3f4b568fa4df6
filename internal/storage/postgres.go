package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"marketplace/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
	CREATE TABLE IF NOT EXISTS workflows (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		key         TEXT NOT NULL,
		generation  BIGINT NOT NULL,
		state       TEXT NOT NULL,
		stage       TEXT NOT NULL DEFAULT '',
		account     TEXT NOT NULL,
		artifacts   JSONB NOT NULL,
		input       JSONB NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		error_kind  TEXT NOT NULL DEFAULT '',
		retry_of    TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS workflows_account_idx ON workflows (account, created_at DESC);
	CREATE INDEX IF NOT EXISTS workflows_key_idx ON workflows (key, generation DESC);
`

const workflowColumns = `
	id, kind, key, generation, state, stage, account,
	artifacts, input, error, error_kind, retry_of, created_at, updated_at
`

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository and ensures the schema exists
func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresRepository{
		pool: pool,
	}, nil
}

// SaveWorkflow inserts or updates a workflow record
func (r *PostgresRepository) SaveWorkflow(ctx context.Context, record *models.WorkflowRecord) error {
	artifactsJSON, err := json.Marshal(record.Artifacts)
	if err != nil {
		return fmt.Errorf("failed to marshal artifacts: %w", err)
	}
	inputJSON, err := json.Marshal(record.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}

	query := `
		INSERT INTO workflows (` + workflowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			stage = EXCLUDED.stage,
			artifacts = EXCLUDED.artifacts,
			error = EXCLUDED.error,
			error_kind = EXCLUDED.error_kind,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.pool.Exec(ctx, query,
		record.ID,
		record.Kind,
		record.Key,
		int64(record.Generation),
		record.State,
		record.Stage,
		record.Account,
		artifactsJSON,
		inputJSON,
		record.Error,
		record.ErrorKind,
		record.RetryOf,
		record.CreatedAt,
		record.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	return nil
}

// GetWorkflow retrieves a workflow record by id
func (r *PostgresRepository) GetWorkflow(ctx context.Context, id string) (*models.WorkflowRecord, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1`

	record, err := scanWorkflow(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return record, nil
}

// LatestWorkflow returns the highest generation recorded for key
func (r *PostgresRepository) LatestWorkflow(ctx context.Context, key string) (*models.WorkflowRecord, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE key = $1 ORDER BY generation DESC LIMIT 1`

	record, err := scanWorkflow(r.pool.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: key %s", ErrWorkflowNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest workflow: %w", err)
	}
	return record, nil
}

// ListWorkflows lists an account's workflows, newest first, with pagination
func (r *PostgresRepository) ListWorkflows(ctx context.Context, account string, limit, offset int) ([]*models.WorkflowRecord, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE account = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, account, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var records []*models.WorkflowRecord
	for rows.Next() {
		record, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return records, nil
}

func scanWorkflow(row pgx.Row) (*models.WorkflowRecord, error) {
	var record models.WorkflowRecord
	var generation int64
	var artifactsJSON, inputJSON []byte

	err := row.Scan(
		&record.ID,
		&record.Kind,
		&record.Key,
		&generation,
		&record.State,
		&record.Stage,
		&record.Account,
		&artifactsJSON,
		&inputJSON,
		&record.Error,
		&record.ErrorKind,
		&record.RetryOf,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.Generation = uint64(generation)

	if err := json.Unmarshal(artifactsJSON, &record.Artifacts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifacts: %w", err)
	}
	if err := json.Unmarshal(inputJSON, &record.Input); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input: %w", err)
	}
	return &record, nil
}

// Ping checks if the database connection is alive
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
