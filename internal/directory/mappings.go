package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MappingStore persists (clinic, local_type, local_id) to external_id
// translations. Rows appear lazily on first successful resolution and are
// the durable fast path for later lookups.
type MappingStore struct {
	db querier
}

func NewMappingStore(pool *pgxpool.Pool) *MappingStore {
	if pool == nil {
		panic("directory: pgx pool required")
	}
	return &MappingStore{db: pool}
}

func newMappingStoreWithQuerier(db querier) *MappingStore {
	if db == nil {
		panic("directory: querier required")
	}
	return &MappingStore{db: db}
}

// LookupLocalID finds the local id an external id maps to.
func (s *MappingStore) LookupLocalID(ctx context.Context, clinicID uuid.UUID, localType, externalID string) (*uuid.UUID, error) {
	query := `
		SELECT local_id FROM external_mappings
		WHERE clinic_id = $1 AND local_type = $2 AND external_id = $3
	`
	var id uuid.UUID
	if err := s.db.QueryRow(ctx, query, clinicID, localType, externalID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("directory: lookup mapping: %w", err)
	}
	return &id, nil
}

// Save upserts the mapping for a local entity. The unique key is the local
// triple, so remapping the same entity replaces its external id.
func (s *MappingStore) Save(ctx context.Context, clinicID uuid.UUID, localType string, localID uuid.UUID, externalID string) error {
	query := `
		INSERT INTO external_mappings (id, clinic_id, local_type, local_id, external_id, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (clinic_id, local_type, local_id)
		DO UPDATE SET external_id = EXCLUDED.external_id, last_synced_at = EXCLUDED.last_synced_at
	`
	if _, err := s.db.Exec(ctx, query, uuid.New(), clinicID, localType, localID, externalID, time.Now().UTC()); err != nil {
		return fmt.Errorf("directory: save mapping: %w", err)
	}
	return nil
}
