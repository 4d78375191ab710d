package slots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicore/onec-bridge/internal/integration"
	"github.com/clinicore/onec-bridge/internal/observability/metrics"
	"github.com/clinicore/onec-bridge/pkg/logging"
)

var syncTracer = otel.Tracer("onecbridge.internal.slots")

// Resolver is the identity-resolution surface the engine needs. A fresh
// one is constructed per batch so its cache stays run-local.
type Resolver interface {
	Resolve(ctx context.Context, clinicID uuid.UUID, entityType, externalID string) (*uuid.UUID, error)
	ResolveDoctor(ctx context.Context, clinicID uuid.UUID, externalID, fullName string, branchID *uuid.UUID) (*uuid.UUID, error)
}

type endpointHealth interface {
	ResolveForBranch(ctx context.Context, branchID uuid.UUID) (*integration.Endpoint, error)
	MarkSuccess(ctx context.Context, id uuid.UUID) error
}

// SyncResult reports what one reconciliation batch did, counted inside the
// same transaction that wrote it.
type SyncResult struct {
	TotalReceived int `json:"total_received"`
	Created       int `json:"created"`
	Updated       int `json:"updated"`
	Blocked       int `json:"blocked"`
}

// EngineConfig wires the sync engine's collaborators.
type EngineConfig struct {
	Repo        Repository
	NewResolver func() Resolver
	Location    *time.Location
	Endpoints   endpointHealth // optional; stamps health after a batch
	Metrics     *metrics.SyncMetrics
	Logger      *logging.Logger
}

// Engine reconciles canonical slot payloads into the local slot table so
// that one (clinic, branch) scope converges to exactly what a batch says.
type Engine struct {
	repo        Repository
	newResolver func() Resolver
	loc         *time.Location
	endpoints   endpointHealth
	metrics     *metrics.SyncMetrics
	logger      *logging.Logger
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Repo == nil {
		return nil, errors.New("slots: engine requires repository")
	}
	if cfg.NewResolver == nil {
		return nil, errors.New("slots: engine requires resolver factory")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		repo:        cfg.Repo,
		newResolver: cfg.NewResolver,
		loc:         loc,
		endpoints:   cfg.Endpoints,
		metrics:     cfg.Metrics,
		logger:      logger,
	}, nil
}

// SyncBatch applies a full feed for one (clinic, branch) scope in a single
// transaction: per-slot upserts plus the completion rule that blocks every
// previously known external id the batch no longer mentions. Partial
// application is never observable.
func (e *Engine) SyncBatch(ctx context.Context, clinicID, branchID uuid.UUID, payloads []Payload) (*SyncResult, error) {
	ctx, span := syncTracer.Start(ctx, "onec.sync.batch")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic_id", clinicID.String()),
		attribute.String("branch_id", branchID.String()),
		attribute.Int("total_received", len(payloads)),
	)

	res := e.newResolver()
	started := time.Now()
	now := started.UTC()
	result := &SyncResult{TotalReceived: len(payloads)}
	skipped := 0

	err := e.repo.InTx(ctx, func(store Store) error {
		seen := make([]string, 0, len(payloads))
		for _, p := range payloads {
			outcome, err := e.applyPayload(ctx, store, res, clinicID, branchID, p, now)
			if err != nil {
				return err
			}
			switch outcome {
			case outcomeCreated:
				result.Created++
			case outcomeUpdated:
				result.Updated++
			case outcomeSkipped:
				skipped++
				continue
			}
			seen = append(seen, p.SlotID)
		}

		blocked, err := store.BlockMissing(ctx, clinicID, branchID, seen)
		if err != nil {
			return err
		}
		result.Blocked = int(blocked)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("slots: sync batch: %w", err)
	}

	e.metrics.ObserveBatch(result.Created, result.Updated, result.Blocked, skipped)
	e.metrics.ObserveBatchDuration(time.Since(started).Seconds())
	span.SetAttributes(
		attribute.Int("created", result.Created),
		attribute.Int("updated", result.Updated),
		attribute.Int("blocked", result.Blocked),
	)
	e.stampEndpointHealthy(ctx, branchID)

	e.logger.Info("slot batch reconciled",
		"clinic_id", clinicID, "branch_id", branchID,
		"total", result.TotalReceived, "created", result.Created,
		"updated", result.Updated, "blocked", result.Blocked, "skipped", skipped)
	return result, nil
}

// UpsertOne feeds a single payload through the same per-slot path without
// the completion rule. Event-driven updates use it.
func (e *Engine) UpsertOne(ctx context.Context, clinicID, branchID uuid.UUID, p Payload) error {
	res := e.newResolver()
	_, err := e.applyPayload(ctx, e.repo, res, clinicID, branchID, p, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("slots: upsert one: %w", err)
	}
	return nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCreated
	outcomeUpdated
	outcomeUnchanged
)

func (e *Engine) applyPayload(ctx context.Context, store Store, res Resolver, clinicID, branchID uuid.UUID, p Payload, now time.Time) (outcome, error) {
	if p.SlotID == "" {
		e.logger.Warn("slot payload without identifier skipped", "clinic_id", clinicID, "branch_id", branchID)
		return outcomeSkipped, nil
	}

	hash := p.Hash()

	doctorID, err := res.ResolveDoctor(ctx, clinicID, p.DoctorExternalID, p.DoctorName, &branchID)
	if err != nil {
		return outcomeSkipped, err
	}
	cabinetID, err := res.Resolve(ctx, clinicID, "cabinet", p.CabinetExternalID)
	if err != nil {
		return outcomeSkipped, err
	}

	startAt := e.parseTime(p.StartAt, p.SlotID, "start_at")
	endAt := e.parseTime(p.EndAt, p.SlotID, "end_at")
	status := NormalizeStatus(p.Status)

	existing, err := store.GetByExternalID(ctx, clinicID, p.SlotID)
	if err != nil {
		return outcomeSkipped, err
	}

	if existing != nil &&
		existing.PayloadHash == hash &&
		equalIDs(existing.DoctorID, doctorID) &&
		equalIDs(existing.CabinetID, cabinetID) &&
		existing.BookingUUID == p.BookingUUID {
		if err := store.TouchSynced(ctx, existing.ID, now); err != nil {
			return outcomeSkipped, err
		}
		return outcomeUnchanged, nil
	}

	slot := &Slot{
		ClinicID:      clinicID,
		BranchID:      &branchID,
		DoctorID:      doctorID,
		CabinetID:     cabinetID,
		ExternalID:    p.SlotID,
		StartAt:       startAt,
		EndAt:         endAt,
		Status:        status,
		BookingUUID:   p.BookingUUID,
		PayloadHash:   hash,
		SourcePayload: p.Canonical(),
		SyncedAt:      now,
	}

	if existing == nil {
		slot.ID = uuid.New()
		if err := store.Insert(ctx, slot); err != nil {
			return outcomeSkipped, err
		}
		return outcomeCreated, nil
	}

	slot.ID = existing.ID
	if err := store.Update(ctx, slot); err != nil {
		return outcomeSkipped, err
	}
	return outcomeUpdated, nil
}

func (e *Engine) parseTime(value, slotID, field string) *time.Time {
	if value == "" {
		return nil
	}
	t := ParseTime(value, e.loc)
	if t == nil {
		e.logger.Warn("unparsable slot timestamp", "slot_id", slotID, "field", field, "value", value)
	}
	return t
}

func (e *Engine) stampEndpointHealthy(ctx context.Context, branchID uuid.UUID) {
	if e.endpoints == nil {
		return
	}
	ep, err := e.endpoints.ResolveForBranch(ctx, branchID)
	if err != nil {
		if !errors.Is(err, integration.ErrEndpointNotConfigured) {
			e.logger.Warn("endpoint lookup after sync failed", "branch_id", branchID, "error", err)
		}
		return
	}
	if err := e.endpoints.MarkSuccess(ctx, ep.ID); err != nil {
		e.logger.Warn("endpoint health stamp failed", "endpoint_id", ep.ID, "error", err)
	}
}

func equalIDs(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
