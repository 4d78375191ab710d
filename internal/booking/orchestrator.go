package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicore/onec-bridge/internal/directory"
	"github.com/clinicore/onec-bridge/internal/integration"
	"github.com/clinicore/onec-bridge/internal/observability/metrics"
	"github.com/clinicore/onec-bridge/internal/onec"
	"github.com/clinicore/onec-bridge/internal/slots"
	"github.com/clinicore/onec-bridge/pkg/logging"
)

var bookingTracer = otel.Tracer("onecbridge.internal.booking")

type onecClient interface {
	BookSlot(ctx context.Context, ep *integration.Endpoint, req onec.BookSlotRequest) (*onec.Response, error)
	CancelBooking(ctx context.Context, ep *integration.Endpoint, claimID string, extra map[string]any) (*onec.Response, error)
	CreateManualBooking(ctx context.Context, ep *integration.Endpoint, req onec.ManualBookingRequest) (*onec.Response, error)
}

type endpointStore interface {
	ResolveForBranch(ctx context.Context, branchID uuid.UUID) (*integration.Endpoint, error)
	MarkSuccess(ctx context.Context, id uuid.UUID) error
	MarkFailure(ctx context.Context, id uuid.UUID, message string) error
}

type directoryReader interface {
	GetClinic(ctx context.Context, id uuid.UUID) (*directory.Clinic, error)
	GetBranch(ctx context.Context, id uuid.UUID) (*directory.Branch, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*directory.Doctor, error)
	GetCabinet(ctx context.Context, id uuid.UUID) (*directory.Cabinet, error)
}

type applicationStore interface {
	SaveIntegrationOutcome(ctx context.Context, app *Application) error
	SetIntegrationStatus(ctx context.Context, id uuid.UUID, status string, response []byte) error
}

type slotStore interface {
	GetByExternalID(ctx context.Context, clinicID uuid.UUID, externalID string) (*slots.Slot, error)
	FindByBookingUUID(ctx context.Context, clinicID uuid.UUID, bookingUUID string) (*slots.Slot, error)
	FindByPayloadCorrelation(ctx context.Context, clinicID uuid.UUID, correlationID string) (*slots.Slot, error)
	SetStatus(ctx context.Context, slotID uuid.UUID, status, bookingUUID string) error
}

// OrchestratorConfig wires the booking orchestrator's collaborators.
type OrchestratorConfig struct {
	Client       onecClient
	Endpoints    endpointStore
	Directory    directoryReader
	Applications applicationStore
	Slots        slotStore
	Metrics      *metrics.OutboundMetrics
	Logger       *logging.Logger

	// Source tags outbound bookings; PhoneFiller replaces empty phones.
	Source      string
	PhoneFiller string
}

// Orchestrator is the sole originator of booking and cancellation calls
// against 1C. It keeps the local application and slot rows consistent with
// the external outcome; it never retries, that belongs to the job layer.
type Orchestrator struct {
	client       onecClient
	endpoints    endpointStore
	directory    directoryReader
	applications applicationStore
	slots        slotStore
	metrics      *metrics.OutboundMetrics
	logger       *logging.Logger
	source       string
	phoneFiller  string
}

func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Client == nil || cfg.Endpoints == nil || cfg.Directory == nil {
		return nil, errors.New("booking: orchestrator requires client, endpoints and directory")
	}
	if cfg.Applications == nil || cfg.Slots == nil {
		return nil, errors.New("booking: orchestrator requires application and slot stores")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	phoneFiller := cfg.PhoneFiller
	if phoneFiller == "" {
		phoneFiller = "0000000000"
	}
	return &Orchestrator{
		client:       cfg.Client,
		endpoints:    cfg.Endpoints,
		directory:    cfg.Directory,
		applications: cfg.Applications,
		slots:        cfg.Slots,
		metrics:      cfg.Metrics,
		logger:       logger,
		source:       cfg.Source,
		phoneFiller:  phoneFiller,
	}, nil
}

// Book books the given slot for the application. Fail-fast checks (endpoint
// configured, doctor carries an external id, slot has timing) all happen
// before any network call.
func (o *Orchestrator) Book(ctx context.Context, app *Application, slot *slots.Slot, extra map[string]any) error {
	ctx, span := bookingTracer.Start(ctx, "onec.book")
	defer span.End()
	span.SetAttributes(attribute.String("application_id", app.ID.String()))

	branchID := firstID(slot.BranchID, app.BranchID)
	if branchID == nil {
		return &Error{Kind: FailConfiguration, Err: errors.New("booking: no branch to resolve endpoint by")}
	}
	ep, err := o.resolveEndpoint(ctx, *branchID)
	if err != nil {
		return err
	}

	doctorID := firstID(slot.DoctorID, app.DoctorID)
	if doctorID == nil {
		return &Error{Kind: FailDoctorID, Err: errors.New("booking: slot and application carry no doctor")}
	}
	doctor, err := o.directory.GetDoctor(ctx, *doctorID)
	if err != nil {
		return &Error{Kind: FailConfiguration, Err: err}
	}
	if doctor.ExternalID == "" {
		return &Error{Kind: FailDoctorID, Err: fmt.Errorf("booking: doctor %s has no external id", doctor.ID)}
	}

	if slot.StartAt == nil {
		return &Error{Kind: FailTiming, Err: fmt.Errorf("booking: slot %s has no start time", slot.ExternalID)}
	}

	// Reuse the existing correlation id as the idempotency key: a retried
	// call for the same application converges instead of double-booking.
	appointmentID := app.ExternalAppointmentID
	if appointmentID == "" {
		appointmentID = uuid.NewString()
	}

	payload := onec.BookSlotRequest{
		AppointmentID:     appointmentID,
		SlotID:            slot.ExternalID,
		DoctorExternalID:  doctor.ExternalID,
		Comment:           enrichComment(app.Comment, app.ParentName),
		AppointmentSource: o.source,
		Patient: onec.PatientBlock{
			FullName:       app.PatientName,
			FullNameParent: app.ParentName,
			BirthDate:      NormalizeBirthDate(app.BirthDate),
			Phone:          NormalizePhone(app.Phone, o.phoneFiller),
		},
		Meta: mergeMeta(extra, map[string]any{
			"application_id": app.ID.String(),
			"source":         o.source,
		}),
	}
	o.fillExternalIDs(ctx, &payload, *branchID, slot.CabinetID)

	resp, err := o.client.BookSlot(ctx, ep, payload)
	if err := o.classifyCallError(ctx, ep, "book", payload, err); err != nil {
		return err
	}
	if resp.Failed() {
		o.metrics.ObserveCall("book", "rejected")
		return &Error{Kind: FailRejected, Payload: payload, Response: resp}
	}
	o.markHealthy(ctx, ep)
	o.metrics.ObserveCall("book", "success")

	correlation := resp.CorrelationID()
	if correlation == "" {
		correlation = appointmentID
	}

	app.ExternalAppointmentID = correlation
	app.IntegrationType = IntegrationExternal
	app.IntegrationStatus = StatusBooked
	app.IntegrationResponse = rawResponse(resp)
	app.AppointmentAt = slot.StartAt
	if err := o.applications.SaveIntegrationOutcome(ctx, app); err != nil {
		return err
	}
	if err := o.slots.SetStatus(ctx, slot.ID, slots.StatusBooked, correlation); err != nil {
		return err
	}

	o.logger.Info("slot booked externally",
		"application_id", app.ID, "slot", slot.ExternalID, "claim_id", correlation)
	return nil
}

// Cancel cancels the application's external booking. A transport failure
// leaves local state exactly as it was: the outcome is uncertain and must
// be reconciled manually.
func (o *Orchestrator) Cancel(ctx context.Context, app *Application, extra map[string]any) error {
	ctx, span := bookingTracer.Start(ctx, "onec.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("application_id", app.ID.String()))

	if app.ExternalAppointmentID == "" {
		return &Error{Kind: FailConfiguration, Err: ErrNoCorrelationID}
	}
	if app.BranchID == nil {
		return &Error{Kind: FailConfiguration, Err: errors.New("booking: no branch to resolve endpoint by")}
	}
	ep, err := o.resolveEndpoint(ctx, *app.BranchID)
	if err != nil {
		return err
	}

	resp, err := o.client.CancelBooking(ctx, ep, app.ExternalAppointmentID, extra)
	if err := o.classifyCallError(ctx, ep, "cancel", app.ExternalAppointmentID, err); err != nil {
		return err
	}
	if resp.Failed() {
		o.metrics.ObserveCall("cancel", "rejected")
		return &Error{Kind: FailRejected, Response: resp}
	}
	o.markHealthy(ctx, ep)
	o.metrics.ObserveCall("cancel", "success")

	if err := o.applications.SetIntegrationStatus(ctx, app.ID, StatusCancelled, rawResponse(resp)); err != nil {
		return err
	}
	app.IntegrationStatus = StatusCancelled

	o.freeSlotAfterCancel(ctx, app)
	return nil
}

// BookDirect posts a manual, slot-less booking for an ad-hoc time.
func (o *Orchestrator) BookDirect(ctx context.Context, app *Application, branch *directory.Branch, extra map[string]any) error {
	if branch == nil {
		return &Error{Kind: FailConfiguration, Err: errors.New("booking: manual booking requires a branch")}
	}
	ep, err := o.resolveEndpoint(ctx, branch.ID)
	if err != nil {
		return err
	}

	if app.DoctorID == nil {
		return &Error{Kind: FailDoctorID, Err: errors.New("booking: manual booking requires a doctor")}
	}
	doctor, err := o.directory.GetDoctor(ctx, *app.DoctorID)
	if err != nil {
		return &Error{Kind: FailConfiguration, Err: err}
	}
	if doctor.ExternalID == "" {
		return &Error{Kind: FailDoctorID, Err: fmt.Errorf("booking: doctor %s has no external id", doctor.ID)}
	}
	if app.AppointmentAt == nil {
		return &Error{Kind: FailTiming, Err: errors.New("booking: manual booking requires a time")}
	}

	appointmentID := app.ExternalAppointmentID
	if appointmentID == "" {
		appointmentID = uuid.NewString()
	}

	surname, given, patronymic := SplitPatientName(app.PatientName)
	req := onec.ManualBookingRequest{
		AppointmentID:     appointmentID,
		AppointmentSource: o.source,
		Client: onec.ManualClient{
			MobilePhone: NormalizePhone(app.Phone, o.phoneFiller),
			LastName:    surname,
			FirstName:   given,
			SecondName:  patronymic,
			Birthday:    NormalizeBirthDate(app.BirthDate),
		},
	}
	req.Doctor.ID = doctor.ExternalID
	req.Appointment.DtStart = app.AppointmentAt.Format("2006-01-02 15:04:05")
	req.Appointment.Comment = enrichComment(app.Comment, app.ParentName)
	req.Meta = mergeMeta(extra, map[string]any{
		"application_id": app.ID.String(),
		"source":         o.source,
	})

	resp, err := o.client.CreateManualBooking(ctx, ep, req)
	if err := o.classifyCallError(ctx, ep, "manual", req, err); err != nil {
		return err
	}
	if resp.Failed() {
		o.metrics.ObserveCall("manual", "rejected")
		return &Error{Kind: FailRejected, Payload: req, Response: resp}
	}
	o.markHealthy(ctx, ep)
	o.metrics.ObserveCall("manual", "success")

	correlation := resp.CorrelationID()
	if correlation == "" {
		correlation = appointmentID
	}
	app.ExternalAppointmentID = correlation
	app.IntegrationType = IntegrationExternal
	app.IntegrationStatus = StatusBooked
	app.IntegrationResponse = rawResponse(resp)
	return o.applications.SaveIntegrationOutcome(ctx, app)
}

func (o *Orchestrator) resolveEndpoint(ctx context.Context, branchID uuid.UUID) (*integration.Endpoint, error) {
	ep, err := o.endpoints.ResolveForBranch(ctx, branchID)
	if err != nil {
		return nil, &Error{Kind: FailConfiguration, Err: err}
	}
	if !ep.Configured() {
		return nil, &Error{Kind: FailConfiguration, Err: integration.ErrEndpointNotConfigured}
	}
	return ep, nil
}

// classifyCallError folds transport and rejection errors into the booking
// taxonomy. Only transport failures mark the endpoint unhealthy: a business
// rejection is the provider answering, not the endpoint failing.
func (o *Orchestrator) classifyCallError(ctx context.Context, ep *integration.Endpoint, operation string, payload any, err error) error {
	if err == nil {
		return nil
	}

	var rejection *onec.RejectionError
	if errors.As(err, &rejection) {
		o.metrics.ObserveCall(operation, "rejected")
		return &Error{Kind: FailRejected, Payload: payload, Response: rejection.Response, Err: err}
	}

	o.metrics.ObserveCall(operation, "transport_error")
	var transport *onec.TransportError
	if errors.As(err, &transport) {
		if markErr := o.endpoints.MarkFailure(ctx, ep.ID, transport.Error()); markErr != nil {
			o.logger.Warn("endpoint failure stamp failed", "endpoint_id", ep.ID, "error", markErr)
		}
	}
	return &Error{Kind: FailTransport, Payload: payload, Err: err}
}

// freeSlotAfterCancel flips the matching local slot back to free. The
// lookup is advisory: cancellations may arrive with no slot reference.
func (o *Orchestrator) freeSlotAfterCancel(ctx context.Context, app *Application) {
	correlation := app.ExternalAppointmentID

	slot, err := o.slots.FindByBookingUUID(ctx, app.ClinicID, correlation)
	if err == nil && slot == nil {
		slot, err = o.slots.GetByExternalID(ctx, app.ClinicID, correlation)
	}
	if err == nil && slot == nil {
		slot, err = o.slots.FindByPayloadCorrelation(ctx, app.ClinicID, correlation)
	}
	if err != nil {
		o.logger.Warn("slot lookup after cancel failed", "application_id", app.ID, "error", err)
		return
	}
	if slot == nil {
		o.logger.Info("no local slot matched cancelled booking", "application_id", app.ID, "claim_id", correlation)
		return
	}
	if err := o.slots.SetStatus(ctx, slot.ID, slots.StatusFree, ""); err != nil {
		o.logger.Warn("slot release after cancel failed", "slot_id", slot.ID, "error", err)
	}
}

func (o *Orchestrator) fillExternalIDs(ctx context.Context, payload *onec.BookSlotRequest, branchID uuid.UUID, cabinetID *uuid.UUID) {
	if branch, err := o.directory.GetBranch(ctx, branchID); err == nil {
		payload.BranchExternalID = branch.ExternalID
		if clinic, err := o.directory.GetClinic(ctx, branch.ClinicID); err == nil {
			payload.ClinicExternalID = clinic.ExternalID
		}
	}
	if cabinetID != nil {
		if cabinet, err := o.directory.GetCabinet(ctx, *cabinetID); err == nil {
			payload.CabinetExternalID = cabinet.ExternalID
		}
	}
}

func (o *Orchestrator) markHealthy(ctx context.Context, ep *integration.Endpoint) {
	if err := o.endpoints.MarkSuccess(ctx, ep.ID); err != nil {
		o.logger.Warn("endpoint health stamp failed", "endpoint_id", ep.ID, "error", err)
	}
}

func enrichComment(comment, parentName string) string {
	if parentName == "" {
		return comment
	}
	note := "Представитель: " + parentName
	if comment == "" {
		return note
	}
	return comment + "; " + note
}

func mergeMeta(extra, base map[string]any) map[string]any {
	out := make(map[string]any, len(extra)+len(base))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range base {
		out[k] = v
	}
	return out
}

func rawResponse(resp *onec.Response) []byte {
	if resp == nil {
		return nil
	}
	if resp.Raw != nil {
		if data, err := json.Marshal(resp.Raw); err == nil {
			return data
		}
	}
	data, _ := json.Marshal(resp)
	return data
}

func firstID(ids ...*uuid.UUID) *uuid.UUID {
	for _, id := range ids {
		if id != nil {
			return id
		}
	}
	return nil
}
