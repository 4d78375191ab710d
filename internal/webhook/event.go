package webhook

import (
	"strings"

	"github.com/clinicore/onec-bridge/internal/onec"
)

// Event kinds after normalization. 1C instances deliver them dot- or
// underscore-separated and in mixed case.
const (
	EventBookingCreated   = "booking_created"
	EventBookingUpdated   = "booking_updated"
	EventBookingCancelled = "booking_cancelled"
)

// NormalizeEventType folds the delivered event name onto the canonical set.
func NormalizeEventType(event string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(event)), ".", "_")
}

// SlotBlock is the slot description inside a booking event. Events either
// nest it under "slot" or inline the same fields at the top level.
type SlotBlock struct {
	SlotID            string `json:"slot_id"`
	DoctorExternalID  string `json:"doctor_external_id"`
	DoctorName        string `json:"doctor_name"`
	CabinetExternalID string `json:"cabinet_external_id"`
	BranchExternalID  string `json:"branch_external_id"`
	StartAt           string `json:"start_at"`
	EndAt             string `json:"end_at"`
	Status            string `json:"status"`
}

// EventMeta carries the local references 1C echoes back.
type EventMeta struct {
	ApplicationID string `json:"application_id"`
	Source        string `json:"source"`
}

// Event is one inbound booking webhook.
type Event struct {
	SlotBlock

	Event         string             `json:"event"`
	AppointmentID string             `json:"appointment_id"`
	ID            string             `json:"id"`
	Slot          *SlotBlock         `json:"slot"`
	Patient       *onec.PatientBlock `json:"patient"`
	Meta          EventMeta          `json:"meta"`
}

// Type returns the normalized event name.
func (e *Event) Type() string { return NormalizeEventType(e.Event) }

// CorrelationID returns the external booking id, whichever field carried it.
func (e *Event) CorrelationID() string {
	if e.AppointmentID != "" {
		return e.AppointmentID
	}
	return e.ID
}

// ResolvedSlot returns the nested slot block when present, else the fields
// inlined at the event's top level. Some instances nest the slot but keep
// the status at the top level, so an empty nested status falls back.
func (e *Event) ResolvedSlot() SlotBlock {
	if e.Slot == nil {
		return e.SlotBlock
	}
	block := *e.Slot
	if block.Status == "" {
		block.Status = e.Status
	}
	return block
}

// Cell is one time window in a day sheet.
type Cell struct {
	SlotID    string `json:"slot_id"`
	TimeStart string `json:"time_start"`
	TimeEnd   string `json:"time_end"`
	Free      *bool  `json:"free"`
	ClaimID   string `json:"claim_id"`
}

// CellsPayload is a whole day of per-doctor time cells for one branch.
type CellsPayload struct {
	BranchExternalID string `json:"branch_external_id"`
	FilialID         string `json:"filial_id"`
	DoctorID         string `json:"doctor_id"`
	DoctorName       string `json:"doctor_name"`
	Date             string `json:"date"`
	Cells            []Cell `json:"cells"`
}

// Branch returns the branch external id, whichever alias carried it.
func (p *CellsPayload) Branch() string {
	if p.BranchExternalID != "" {
		return p.BranchExternalID
	}
	return p.FilialID
}

// LegacyCell is one window in the nested legacy schedule shape.
type LegacyCell struct {
	Dt        string `json:"dt"`
	TimeStart string `json:"time_start"`
	TimeEnd   string `json:"time_end"`
	Free      *bool  `json:"free"`
	SlotID    string `json:"slot_id"`
}

// LegacyDoctorDay is one doctor's section of the legacy schedule.
type LegacyDoctorDay struct {
	EFIO  string       `json:"efio"`
	ESpec string       `json:"espec"`
	Cells []LegacyCell `json:"cells"`
}

// LegacySchedule is the old full-feed shape: branch external id to doctor
// external id to that doctor's day.
type LegacySchedule struct {
	Schedule struct {
		Data map[string]map[string]LegacyDoctorDay `json:"data"`
	} `json:"schedule"`
}
