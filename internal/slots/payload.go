package slots

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Payload is the canonical wire shape one slot arrives in, whatever the
// source (full feed, booking webhook, cells day-sheet, legacy schedule).
// Transformers produce this; the sync engine consumes it.
type Payload struct {
	SlotID            string `json:"slot_id"`
	DoctorExternalID  string `json:"doctor_external_id,omitempty"`
	DoctorName        string `json:"doctor_name,omitempty"`
	DoctorSpeciality  string `json:"doctor_speciality,omitempty"`
	CabinetExternalID string `json:"cabinet_external_id,omitempty"`
	BranchExternalID  string `json:"branch_external_id,omitempty"`
	StartAt           string `json:"start_at,omitempty"`
	EndAt             string `json:"end_at,omitempty"`
	Status            string `json:"status,omitempty"`
	BookingUUID       string `json:"booking_uuid,omitempty"`
}

// Canonical returns the stable JSON encoding of the payload. Struct field
// order fixes the byte layout, so the same content always hashes the same.
func (p Payload) Canonical() []byte {
	data, _ := json.Marshal(p)
	return data
}

// Hash is the content hash the unchanged short-circuit compares. It covers
// the whole canonical payload, timestamps included.
func (p Payload) Hash() string {
	sum := sha256.Sum256(p.Canonical())
	return hex.EncodeToString(sum[:])
}

// Timestamp layouts the 1C feeds have been seen to use.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
}

// ParseTime parses a feed timestamp in the app timezone when the value
// carries no offset of its own. Returns nil when nothing matches.
func ParseTime(value string, loc *time.Location) *time.Time {
	if value == "" {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timeLayouts {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339 {
			t, err = time.Parse(layout, value)
		} else {
			t, err = time.ParseInLocation(layout, value, loc)
		}
		if err == nil {
			return &t
		}
	}
	return nil
}
