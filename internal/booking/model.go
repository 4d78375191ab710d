package booking

import (
	"time"

	"github.com/google/uuid"
)

// Integration types and statuses stamped onto an application.
const (
	IntegrationExternal = "external"

	StatusBooked    = "booked"
	StatusCancelled = "cancelled"
)

// Application is a patient's booking. The appointment time is copied from
// the slot at booking time; the slot itself is referenced logically, not by
// a durable foreign key. Once IntegrationType is "external" the external
// appointment id is always set.
type Application struct {
	ID       uuid.UUID
	ClinicID uuid.UUID
	BranchID *uuid.UUID
	DoctorID *uuid.UUID

	City        string
	PatientName string
	ParentName  string
	Phone       string
	BirthDate   string
	Comment     string
	Source      string

	AppointmentAt *time.Time

	ExternalAppointmentID string
	IntegrationType       string
	IntegrationStatus     string
	IntegrationResponse   []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}
