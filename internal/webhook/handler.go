package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicore/onec-bridge/pkg/logging"
)

const (
	secretHeader = "X-Webhook-Secret"
	maxBodyBytes = 1 << 20
)

// Handler exposes the inbound 1C surface. Deliveries are processed within
// the request; the response confirms what was applied, not queued.
type Handler struct {
	processor *Processor
	deduper   *Deduper
	secret    string
	logger    *logging.Logger
}

func NewHandler(processor *Processor, deduper *Deduper, secret string, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{processor: processor, deduper: deduper, secret: secret, logger: logger}
}

// Routes mounts the webhook endpoints. Routes are clinic-scoped because
// inbound payloads identify branches only by their external ids.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/webhooks/onec/{clinicID}/events", h.handleEvents)
	r.Post("/webhooks/onec/{clinicID}/schedule", h.handleSchedule)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	clinicID, body, ok := h.accept(w, r)
	if !ok {
		return
	}

	// One endpoint serves both booking events and cells day sheets; the
	// body's shape tells them apart.
	var probe struct {
		Event string          `json:"event"`
		Cells json.RawMessage `json:"cells"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload"})
		return
	}

	ctx := r.Context()
	switch {
	case len(probe.Cells) > 0:
		var cp CellsPayload
		if err := json.Unmarshal(body, &cp); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed cells payload"})
			return
		}
		applied, err := h.processor.ProcessCells(ctx, clinicID, cp)
		if err != nil {
			h.deduper.Forget(ctx, body)
			h.logger.Error("cells processing failed", "clinic_id", clinicID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "applied": applied})
	case probe.Event != "":
		var ev Event
		if err := json.Unmarshal(body, &ev); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed event payload"})
			return
		}
		if err := h.processor.ProcessEvent(ctx, clinicID, &ev); err != nil {
			h.deduper.Forget(ctx, body)
			h.logger.Error("event processing failed", "clinic_id", clinicID, "event", ev.Event, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unrecognized payload shape"})
	}
}

func (h *Handler) handleSchedule(w http.ResponseWriter, r *http.Request) {
	clinicID, body, ok := h.accept(w, r)
	if !ok {
		return
	}

	var sched LegacySchedule
	if err := json.Unmarshal(body, &sched); err != nil || len(sched.Schedule.Data) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed schedule payload"})
		return
	}

	results, err := h.processor.ProcessLegacySchedule(r.Context(), clinicID, sched)
	if err != nil {
		h.deduper.Forget(r.Context(), body)
		h.logger.Error("schedule processing failed", "clinic_id", clinicID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "branches": results})
}

// accept runs the shared gatekeeping: secret, clinic id, body, dedupe.
func (h *Handler) accept(w http.ResponseWriter, r *http.Request) (uuid.UUID, []byte, bool) {
	if h.secret != "" {
		got := r.Header.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return uuid.Nil, nil, false
		}
	}

	clinicID, err := uuid.Parse(chi.URLParam(r, "clinicID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid clinic id"})
		return uuid.Nil, nil, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return uuid.Nil, nil, false
	}

	if h.deduper.Seen(r.Context(), body) {
		h.logger.Info("duplicate webhook delivery suppressed", "clinic_id", clinicID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return uuid.Nil, nil, false
	}
	return clinicID, body, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
