package slots

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Slot statuses. Transitions are externally driven except for the local
// book/cancel path: free and booked mirror the feed, blocked means the
// external id stopped appearing in the latest full feed.
const (
	StatusFree    = "free"
	StatusBooked  = "booked"
	StatusBlocked = "blocked"
)

// Slot is the local materialization of one externally offered appointment
// window. Exactly one row exists per (clinic, external id); the local
// system never invents slots, it only mirrors what the feed reports.
type Slot struct {
	ID         uuid.UUID
	ClinicID   uuid.UUID
	BranchID   *uuid.UUID
	DoctorID   *uuid.UUID
	CabinetID  *uuid.UUID
	ExternalID string

	StartAt *time.Time
	EndAt   *time.Time

	Status        string
	BookingUUID   string
	PayloadHash   string
	SourcePayload []byte
	SyncedAt      time.Time
}

// NormalizeStatus maps feed wording onto the local status set.
func NormalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case StatusBooked, "busy", "taken":
		return StatusBooked
	case StatusBlocked, "closed":
		return StatusBlocked
	default:
		return StatusFree
	}
}
