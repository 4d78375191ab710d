package booking

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicore/onec-bridge/internal/slots"
	"github.com/clinicore/onec-bridge/pkg/logging"
)

type orchestrator interface {
	Book(ctx context.Context, app *Application, slot *slots.Slot, extra map[string]any) error
	Cancel(ctx context.Context, app *Application, extra map[string]any) error
}

type applicationRepo interface {
	Create(ctx context.Context, app *Application) error
	GetByID(ctx context.Context, id uuid.UUID) (*Application, error)
}

type slotLookup interface {
	GetByExternalID(ctx context.Context, clinicID uuid.UUID, externalID string) (*slots.Slot, error)
}

// Handler is the command surface callers use to drive bookings. It is a
// thin layer: all semantics live in the orchestrator.
type Handler struct {
	orch   orchestrator
	repo   applicationRepo
	slots  slotLookup
	logger *logging.Logger
}

func NewHandler(orch orchestrator, repo applicationRepo, slotStore slotLookup, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{orch: orch, repo: repo, slots: slotStore, logger: logger}
}

// Routes mounts the booking command endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/applications", h.createApplication)
	r.Post("/applications/{id}/book", h.bookApplication)
	r.Post("/applications/{id}/cancel", h.cancelApplication)
}

type createApplicationRequest struct {
	ClinicID    string `json:"clinic_id"`
	BranchID    string `json:"branch_id,omitempty"`
	DoctorID    string `json:"doctor_id,omitempty"`
	City        string `json:"city"`
	PatientName string `json:"patient_name"`
	ParentName  string `json:"parent_name,omitempty"`
	Phone       string `json:"phone"`
	BirthDate   string `json:"birth_date,omitempty"`
	Comment     string `json:"comment,omitempty"`
	Source      string `json:"source,omitempty"`
}

func (h *Handler) createApplication(w http.ResponseWriter, r *http.Request) {
	var req createApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	clinicID, err := uuid.Parse(req.ClinicID)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid clinic_id")
		return
	}
	if req.PatientName == "" || req.City == "" {
		h.respondError(w, http.StatusBadRequest, "patient_name and city are required")
		return
	}

	app := &Application{
		ClinicID:    clinicID,
		City:        req.City,
		PatientName: req.PatientName,
		ParentName:  req.ParentName,
		Phone:       req.Phone,
		BirthDate:   req.BirthDate,
		Comment:     req.Comment,
		Source:      req.Source,
	}
	if id, err := uuid.Parse(req.BranchID); err == nil {
		app.BranchID = &id
	}
	if id, err := uuid.Parse(req.DoctorID); err == nil {
		app.DoctorID = &id
	}

	if err := h.repo.Create(r.Context(), app); err != nil {
		h.logger.Error("application create failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "could not persist application")
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]string{"id": app.ID.String()})
}

type bookRequest struct {
	SlotExternalID string         `json:"slot_external_id"`
	Extra          map[string]any `json:"extra,omitempty"`
}

func (h *Handler) bookApplication(w http.ResponseWriter, r *http.Request) {
	app, ok := h.loadApplication(w, r)
	if !ok {
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SlotExternalID == "" {
		h.respondError(w, http.StatusBadRequest, "slot_external_id is required")
		return
	}

	slot, err := h.slots.GetByExternalID(r.Context(), app.ClinicID, req.SlotExternalID)
	if err != nil {
		h.logger.Error("slot lookup failed", "application_id", app.ID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "slot lookup failed")
		return
	}
	if slot == nil {
		h.respondError(w, http.StatusNotFound, "unknown slot")
		return
	}

	if err := h.orch.Book(r.Context(), app, slot, req.Extra); err != nil {
		h.respondBookingError(w, app.ID, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{
		"status":                  "booked",
		"external_appointment_id": app.ExternalAppointmentID,
	})
}

func (h *Handler) cancelApplication(w http.ResponseWriter, r *http.Request) {
	app, ok := h.loadApplication(w, r)
	if !ok {
		return
	}

	var req struct {
		Extra map[string]any `json:"extra,omitempty"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.orch.Cancel(r.Context(), app, req.Extra); err != nil {
		h.respondBookingError(w, app.ID, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) loadApplication(w http.ResponseWriter, r *http.Request) (*Application, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid application id")
		return nil, false
	}
	app, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrApplicationNotFound) {
			h.respondError(w, http.StatusNotFound, "unknown application")
			return nil, false
		}
		h.logger.Error("application lookup failed", "application_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "application lookup failed")
		return nil, false
	}
	return app, true
}

// respondBookingError maps the failure taxonomy onto HTTP. Callers must be
// able to tell "fix configuration" from "the provider rejected this" from
// "uncertain outcome, reconcile manually".
func (h *Handler) respondBookingError(w http.ResponseWriter, appID uuid.UUID, err error) {
	kind := KindOf(err)
	h.logger.Warn("booking action failed", "application_id", appID, "kind", string(kind), "error", err)

	switch kind {
	case FailConfiguration:
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "integration endpoint not configured", "kind": string(kind),
		})
	case FailDoctorID, FailTiming:
		h.respondJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(), "kind": string(kind),
		})
	case FailRejected:
		detail := err.Error()
		var be *Error
		if errors.As(err, &be) && be.Response != nil {
			detail = be.Response.ErrorText()
		}
		h.respondJSON(w, http.StatusConflict, map[string]string{
			"error": detail, "kind": string(kind),
		})
	case FailTransport:
		h.respondJSON(w, http.StatusBadGateway, map[string]string{
			"error": "provider unreachable, outcome unknown", "kind": string(kind),
		})
	default:
		h.respondError(w, http.StatusInternalServerError, "booking failed")
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) respondError(w http.ResponseWriter, status int, msg string) {
	h.respondJSON(w, status, map[string]string{"error": msg})
}
