package directory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicore/onec-bridge/pkg/logging"
)

type mappingLookup interface {
	LookupLocalID(ctx context.Context, clinicID uuid.UUID, localType, externalID string) (*uuid.UUID, error)
	Save(ctx context.Context, clinicID uuid.UUID, localType string, localID uuid.UUID, externalID string) error
}

type entityLookup interface {
	FindIDByExternalID(ctx context.Context, clinicID uuid.UUID, entityType, externalID string) (*uuid.UUID, error)
	FindDoctorByName(ctx context.Context, clinicID uuid.UUID, last, first, second string) (*Doctor, error)
	SetDoctorExternalID(ctx context.Context, doctorID uuid.UUID, externalID string) error
	AttachDoctorToBranch(ctx context.Context, doctorID, branchID uuid.UUID) error
}

type cacheKey struct {
	clinicID   uuid.UUID
	entityType string
	externalID string
}

// Resolver translates external entity ids to local primary keys. The cache
// is run-local only: construct one Resolver per sync run or request, never
// share it across them. An unresolved lookup is a nil id, not an error.
type Resolver struct {
	mappings mappingLookup
	entities entityLookup
	logger   *logging.Logger

	cache map[cacheKey]*uuid.UUID
}

func NewResolver(mappings mappingLookup, entities entityLookup, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{
		mappings: mappings,
		entities: entities,
		logger:   logger,
		cache:    make(map[cacheKey]*uuid.UUID),
	}
}

// Resolve maps (clinic, entity type, external id) to a local id:
// run cache, then persisted mapping, then the entity's own external_id
// column. Successful column hits are persisted as mappings for next time.
func (r *Resolver) Resolve(ctx context.Context, clinicID uuid.UUID, entityType, externalID string) (*uuid.UUID, error) {
	if externalID == "" {
		return nil, nil
	}

	key := cacheKey{clinicID: clinicID, entityType: entityType, externalID: externalID}
	if id, ok := r.cache[key]; ok {
		return id, nil
	}

	id, err := r.lookup(ctx, clinicID, entityType, externalID)
	if err != nil {
		return nil, err
	}
	r.cache[key] = id
	return id, nil
}

// ResolveDoctor resolves a doctor id with the name-matching fallback. The
// fallback exists because some payload shapes carry no stable id: it must
// only match an existing doctor, never create one. A match persists the
// discovered external id onto the doctor and the clinic/branch relation.
func (r *Resolver) ResolveDoctor(ctx context.Context, clinicID uuid.UUID, externalID, fullName string, branchID *uuid.UUID) (*uuid.UUID, error) {
	id, err := r.Resolve(ctx, clinicID, TypeDoctor, externalID)
	if err != nil || id != nil {
		return id, err
	}
	if fullName == "" {
		return nil, nil
	}

	last, first, second, ok := SplitDoctorName(fullName)
	if !ok {
		r.logger.Debug("doctor name too short for fallback match", "name", fullName)
		return nil, nil
	}

	doc, err := r.entities.FindDoctorByName(ctx, clinicID, last, first, second)
	if err != nil {
		return nil, fmt.Errorf("directory: doctor name fallback: %w", err)
	}
	if doc == nil {
		return nil, nil
	}

	if externalID != "" {
		if err := r.entities.SetDoctorExternalID(ctx, doc.ID, externalID); err != nil {
			return nil, err
		}
		if err := r.mappings.Save(ctx, clinicID, TypeDoctor, doc.ID, externalID); err != nil {
			return nil, err
		}
		r.cache[cacheKey{clinicID: clinicID, entityType: TypeDoctor, externalID: externalID}] = &doc.ID
	}
	if branchID != nil {
		if err := r.entities.AttachDoctorToBranch(ctx, doc.ID, *branchID); err != nil {
			return nil, err
		}
	}

	r.logger.Info("doctor matched by name fallback",
		"doctor_id", doc.ID, "external_id", externalID, "name", fullName)
	return &doc.ID, nil
}

func (r *Resolver) lookup(ctx context.Context, clinicID uuid.UUID, entityType, externalID string) (*uuid.UUID, error) {
	if r.mappings != nil {
		id, err := r.mappings.LookupLocalID(ctx, clinicID, entityType, externalID)
		if err != nil {
			return nil, err
		}
		if id != nil {
			return id, nil
		}
	}

	id, err := r.entities.FindIDByExternalID(ctx, clinicID, entityType, externalID)
	if err != nil {
		return nil, err
	}
	if id != nil && r.mappings != nil {
		if err := r.mappings.Save(ctx, clinicID, entityType, *id, externalID); err != nil {
			return nil, err
		}
	}
	return id, nil
}
