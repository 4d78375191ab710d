package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads integration endpoints and stamps their health after calls.
type Store struct {
	db rowQuerier
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("integration: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithQuerier(db rowQuerier) *Store {
	if db == nil {
		panic("integration: querier required")
	}
	return &Store{db: db}
}

const endpointColumns = `
	id, clinic_id, branch_id, base_url, auth_type, credentials, active,
	last_success_at, last_error_at, last_error
`

// ResolveForBranch returns the endpoint serving a branch: a branch-scoped
// row wins over the clinic-wide one. Inactive rows are not considered.
func (s *Store) ResolveForBranch(ctx context.Context, branchID uuid.UUID) (*Endpoint, error) {
	query := `
		SELECT ` + endpointColumns + `
		FROM integration_endpoints e
		WHERE e.active
		  AND (e.branch_id = $1
		       OR (e.branch_id IS NULL
		           AND e.clinic_id = (SELECT clinic_id FROM branches WHERE id = $1)))
		ORDER BY e.branch_id NULLS LAST
		LIMIT 1
	`
	return s.scanEndpoint(s.db.QueryRow(ctx, query, branchID))
}

// GetByID loads one endpoint row regardless of its active flag.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM integration_endpoints e WHERE e.id = $1`
	return s.scanEndpoint(s.db.QueryRow(ctx, query, id))
}

// MarkSuccess clears the error fields and stamps last_success_at.
func (s *Store) MarkSuccess(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE integration_endpoints
		SET last_success_at = $2, last_error_at = NULL, last_error = ''
		WHERE id = $1
	`
	if _, err := s.db.Exec(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("integration: mark success: %w", err)
	}
	return nil
}

// MarkFailure records the failure message and stamps last_error_at.
func (s *Store) MarkFailure(ctx context.Context, id uuid.UUID, message string) error {
	if len(message) > 1000 {
		message = message[:1000]
	}
	query := `
		UPDATE integration_endpoints
		SET last_error_at = $2, last_error = $3
		WHERE id = $1
	`
	if _, err := s.db.Exec(ctx, query, id, time.Now().UTC(), message); err != nil {
		return fmt.Errorf("integration: mark failure: %w", err)
	}
	return nil
}

func (s *Store) scanEndpoint(row pgx.Row) (*Endpoint, error) {
	var (
		ep        Endpoint
		rawCreds  []byte
		lastError *string
	)
	err := row.Scan(
		&ep.ID,
		&ep.ClinicID,
		&ep.BranchID,
		&ep.BaseURL,
		&ep.AuthType,
		&rawCreds,
		&ep.Active,
		&ep.LastSuccessAt,
		&ep.LastErrorAt,
		&lastError,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEndpointNotConfigured
		}
		return nil, fmt.Errorf("integration: load endpoint: %w", err)
	}
	if lastError != nil {
		ep.LastError = *lastError
	}
	ep.Credentials = Credentials{}
	if len(rawCreds) > 0 {
		if err := json.Unmarshal(rawCreds, &ep.Credentials); err != nil {
			return nil, fmt.Errorf("integration: decode credentials: %w", err)
		}
	}
	return &ep, nil
}
