package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicore/onec-bridge/internal/booking"
	"github.com/clinicore/onec-bridge/internal/directory"
	"github.com/clinicore/onec-bridge/internal/observability/metrics"
	"github.com/clinicore/onec-bridge/internal/slots"
	"github.com/clinicore/onec-bridge/pkg/logging"
)

var webhookTracer = otel.Tracer("onecbridge.internal.webhook")

type slotSyncer interface {
	UpsertOne(ctx context.Context, clinicID, branchID uuid.UUID, p slots.Payload) error
	SyncBatch(ctx context.Context, clinicID, branchID uuid.UUID, payloads []slots.Payload) (*slots.SyncResult, error)
}

type slotReader interface {
	GetByExternalID(ctx context.Context, clinicID uuid.UUID, externalID string) (*slots.Slot, error)
	FindByBookingUUID(ctx context.Context, clinicID uuid.UUID, bookingUUID string) (*slots.Slot, error)
	SetStatus(ctx context.Context, slotID uuid.UUID, status, bookingUUID string) error
}

type applicationStore interface {
	FindByExternalAppointmentID(ctx context.Context, clinicID uuid.UUID, externalID string) (*booking.Application, error)
	GetByID(ctx context.Context, id uuid.UUID) (*booking.Application, error)
	Create(ctx context.Context, app *booking.Application) error
	SaveIntegrationOutcome(ctx context.Context, app *booking.Application) error
	SetIntegrationStatus(ctx context.Context, id uuid.UUID, status string, response []byte) error
}

type branchReader interface {
	GetBranchByExternalID(ctx context.Context, clinicID uuid.UUID, externalID string) (*directory.Branch, error)
	GetBranch(ctx context.Context, id uuid.UUID) (*directory.Branch, error)
	ListBranches(ctx context.Context, clinicID uuid.UUID) ([]directory.Branch, error)
}

// ProcessorConfig wires the inbound event processor's collaborators.
type ProcessorConfig struct {
	Engine       slotSyncer
	Slots        slotReader
	Applications applicationStore
	Branches     branchReader
	Location     *time.Location
	Extension    SyncExtension // optional
	Metrics      *metrics.SyncMetrics
	Logger       *logging.Logger
}

// Processor consumes payloads 1C pushes at us: booking lifecycle events,
// per-doctor day sheets ("cells") and the legacy nested schedule. It only
// writes local state; it never calls back out.
type Processor struct {
	engine       slotSyncer
	slots        slotReader
	applications applicationStore
	branches     branchReader
	loc          *time.Location
	extension    SyncExtension
	metrics      *metrics.SyncMetrics
	logger       *logging.Logger
}

func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Engine == nil || cfg.Slots == nil {
		return nil, errors.New("webhook: processor requires sync engine and slot store")
	}
	if cfg.Applications == nil || cfg.Branches == nil {
		return nil, errors.New("webhook: processor requires application and branch stores")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{
		engine:       cfg.Engine,
		slots:        cfg.Slots,
		applications: cfg.Applications,
		branches:     cfg.Branches,
		loc:          loc,
		extension:    cfg.Extension,
		metrics:      cfg.Metrics,
		logger:       logger,
	}, nil
}

// ProcessEvent routes one booking lifecycle event. Unknown event names are
// logged and dropped; malformed pieces skip at the smallest granularity.
func (p *Processor) ProcessEvent(ctx context.Context, clinicID uuid.UUID, ev *Event) error {
	ctx, span := webhookTracer.Start(ctx, "onec.webhook.event")
	defer span.End()
	eventType := ev.Type()
	span.SetAttributes(
		attribute.String("clinic_id", clinicID.String()),
		attribute.String("event_type", eventType),
	)

	switch eventType {
	case EventBookingCreated, EventBookingUpdated:
		err := p.handleBookingUpsert(ctx, clinicID, ev, eventType)
		p.observe(eventType, err)
		return err
	case EventBookingCancelled:
		err := p.handleBookingCancelled(ctx, clinicID, ev)
		p.observe(eventType, err)
		return err
	default:
		p.logger.Warn("unknown webhook event dropped", "clinic_id", clinicID, "event", ev.Event)
		p.metrics.ObserveWebhook(eventType, "dropped")
		return nil
	}
}

func (p *Processor) handleBookingUpsert(ctx context.Context, clinicID uuid.UUID, ev *Event, eventType string) error {
	correlation := ev.CorrelationID()
	sb := ev.ResolvedSlot()

	status := sb.Status
	if eventType == EventBookingCreated || status == "" {
		status = slots.StatusBooked
	}
	bookingUUID := correlation
	if slots.NormalizeStatus(status) == slots.StatusFree {
		bookingUUID = ""
	}

	branch := p.slotBranch(ctx, clinicID, sb)
	if sb.SlotID != "" && branch != nil {
		payload := slots.Payload{
			SlotID:            sb.SlotID,
			DoctorExternalID:  sb.DoctorExternalID,
			DoctorName:        sb.DoctorName,
			CabinetExternalID: sb.CabinetExternalID,
			BranchExternalID:  sb.BranchExternalID,
			StartAt:           sb.StartAt,
			EndAt:             sb.EndAt,
			Status:            status,
			BookingUUID:       bookingUUID,
		}
		if err := p.engine.UpsertOne(ctx, clinicID, branch.ID, payload); err != nil {
			return err
		}
	} else if sb.SlotID != "" {
		p.logger.Warn("slot upsert skipped, branch unresolved",
			"clinic_id", clinicID, "slot_id", sb.SlotID, "branch_external_id", sb.BranchExternalID)
	}

	if correlation == "" {
		p.logger.Warn("booking event without correlation id", "clinic_id", clinicID, "event", ev.Event)
		return nil
	}
	return p.reconcileBooking(ctx, clinicID, ev, sb, branch, correlation, slots.NormalizeStatus(status))
}

func (p *Processor) handleBookingCancelled(ctx context.Context, clinicID uuid.UUID, ev *Event) error {
	correlation := ev.CorrelationID()
	sb := ev.ResolvedSlot()

	if sb.SlotID != "" {
		if branch := p.slotBranch(ctx, clinicID, sb); branch != nil {
			payload := slots.Payload{
				SlotID:            sb.SlotID,
				DoctorExternalID:  sb.DoctorExternalID,
				DoctorName:        sb.DoctorName,
				CabinetExternalID: sb.CabinetExternalID,
				BranchExternalID:  sb.BranchExternalID,
				StartAt:           sb.StartAt,
				EndAt:             sb.EndAt,
				Status:            slots.StatusFree,
			}
			if err := p.engine.UpsertOne(ctx, clinicID, branch.ID, payload); err != nil {
				return err
			}
		}
	} else if correlation != "" {
		// Cancellations often arrive with no slot reference at all.
		slot, err := p.slots.FindByBookingUUID(ctx, clinicID, correlation)
		if err != nil {
			return err
		}
		if slot != nil {
			if err := p.slots.SetStatus(ctx, slot.ID, slots.StatusFree, ""); err != nil {
				return err
			}
		}
	}

	if correlation == "" {
		return nil
	}
	app, err := p.findApplication(ctx, clinicID, correlation, ev.Meta.ApplicationID)
	if err != nil {
		return err
	}
	if app == nil {
		p.logger.Info("cancellation for unknown booking", "clinic_id", clinicID, "claim_id", correlation)
		return nil
	}
	return p.applications.SetIntegrationStatus(ctx, app.ID, booking.StatusCancelled, nil)
}

// reconcileBooking finds the local booking the event refers to, creating a
// shell one from the patient block when nothing matches. slotStatus is the
// normalized slot status: an updated event that released the slot marks the
// booking cancelled instead of booked.
func (p *Processor) reconcileBooking(ctx context.Context, clinicID uuid.UUID, ev *Event, sb SlotBlock, branch *directory.Branch, correlation, slotStatus string) error {
	app, err := p.findApplication(ctx, clinicID, correlation, ev.Meta.ApplicationID)
	if err != nil {
		return err
	}

	appStatus := booking.StatusBooked
	if slotStatus == slots.StatusFree {
		appStatus = booking.StatusCancelled
	}
	appointmentAt := slots.ParseTime(sb.StartAt, p.loc)

	if app != nil {
		app.ExternalAppointmentID = correlation
		app.IntegrationType = booking.IntegrationExternal
		app.IntegrationStatus = appStatus
		if appointmentAt != nil {
			app.AppointmentAt = appointmentAt
		}
		return p.applications.SaveIntegrationOutcome(ctx, app)
	}

	if appStatus != booking.StatusBooked {
		// A release of a booking we never tracked leaves nothing to create.
		return nil
	}

	city := p.inferCity(ctx, clinicID, branch)
	if city == "" {
		p.logger.Error("shell booking dropped, no city resolvable",
			"clinic_id", clinicID, "claim_id", correlation, "branch_external_id", sb.BranchExternalID)
		p.metrics.ObserveWebhook(ev.Type(), "city_missing")
		return nil
	}

	shell := &booking.Application{
		ClinicID:              clinicID,
		City:                  city,
		Source:                ev.Meta.Source,
		AppointmentAt:         appointmentAt,
		ExternalAppointmentID: correlation,
		IntegrationType:       booking.IntegrationExternal,
		IntegrationStatus:     booking.StatusBooked,
	}
	if branch != nil {
		shell.BranchID = &branch.ID
	}
	if ev.Patient != nil {
		shell.PatientName = ev.Patient.FullName
		shell.ParentName = ev.Patient.FullNameParent
		shell.Phone = ev.Patient.Phone
		shell.BirthDate = ev.Patient.BirthDate
	}
	if err := p.applications.Create(ctx, shell); err != nil {
		return fmt.Errorf("webhook: create shell booking: %w", err)
	}
	p.logger.Info("shell booking created from webhook",
		"clinic_id", clinicID, "application_id", shell.ID, "claim_id", correlation)
	return nil
}

func (p *Processor) findApplication(ctx context.Context, clinicID uuid.UUID, correlation, localRef string) (*booking.Application, error) {
	app, err := p.applications.FindByExternalAppointmentID(ctx, clinicID, correlation)
	if err != nil || app != nil {
		return app, err
	}
	if localRef == "" {
		return nil, nil
	}
	id, err := uuid.Parse(localRef)
	if err != nil {
		p.logger.Warn("unparsable local booking reference", "clinic_id", clinicID, "application_id", localRef)
		return nil, nil
	}
	app, err = p.applications.GetByID(ctx, id)
	if errors.Is(err, booking.ErrApplicationNotFound) {
		return nil, nil
	}
	return app, err
}

func (p *Processor) slotBranch(ctx context.Context, clinicID uuid.UUID, sb SlotBlock) *directory.Branch {
	if sb.BranchExternalID == "" {
		return nil
	}
	branch, err := p.branches.GetBranchByExternalID(ctx, clinicID, sb.BranchExternalID)
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			p.logger.Warn("branch lookup failed", "clinic_id", clinicID, "branch_external_id", sb.BranchExternalID, "error", err)
		}
		return nil
	}
	return branch
}

// inferCity takes the slot branch's city, falling back to the first branch
// of the clinic that has one.
func (p *Processor) inferCity(ctx context.Context, clinicID uuid.UUID, branch *directory.Branch) string {
	if branch != nil && branch.City != "" {
		return branch.City
	}
	branches, err := p.branches.ListBranches(ctx, clinicID)
	if err != nil {
		p.logger.Warn("branch list for city inference failed", "clinic_id", clinicID, "error", err)
		return ""
	}
	for _, b := range branches {
		if b.City != "" {
			return b.City
		}
	}
	return ""
}

func (p *Processor) observe(eventType string, err error) {
	if err != nil {
		p.metrics.ObserveWebhook(eventType, "error")
		return
	}
	p.metrics.ObserveWebhook(eventType, "processed")
}
