package directory

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Local entity types used in external mappings.
const (
	TypeClinic  = "clinic"
	TypeBranch  = "branch"
	TypeDoctor  = "doctor"
	TypeCabinet = "cabinet"
)

const defaultSlotDuration = 30 * time.Minute

// Clinic is the tenant a 1C feed belongs to.
type Clinic struct {
	ID         uuid.UUID
	Name       string
	ExternalID string
	Timezone   string
}

// Branch is a clinic location. SlotDurationMins drives synthesized cell end
// times when the feed omits them.
type Branch struct {
	ID               uuid.UUID
	ClinicID         uuid.UUID
	Name             string
	ExternalID       string
	City             string
	SlotDurationMins int
}

// EffectiveSlotDuration returns the branch slot length, defaulting to 30m.
func (b *Branch) EffectiveSlotDuration() time.Duration {
	if b == nil || b.SlotDurationMins <= 0 {
		return defaultSlotDuration
	}
	return time.Duration(b.SlotDurationMins) * time.Minute
}

// Doctor carries the split name parts the 1C feed matches against.
type Doctor struct {
	ID         uuid.UUID
	ClinicID   uuid.UUID
	LastName   string
	FirstName  string
	SecondName string
	ExternalID string
}

// Cabinet is a room within a branch.
type Cabinet struct {
	ID         uuid.UUID
	BranchID   uuid.UUID
	Name       string
	ExternalID string
}

// SplitDoctorName tokenizes a human-readable doctor name into
// last/first/[second] parts. The first two tokens are mandatory.
func SplitDoctorName(fullName string) (last, first, second string, ok bool) {
	parts := strings.Fields(strings.TrimSpace(fullName))
	if len(parts) < 2 {
		return "", "", "", false
	}
	last, first = parts[0], parts[1]
	if len(parts) > 2 {
		second = parts[2]
	}
	return last, first, second, true
}
