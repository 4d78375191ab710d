package onec

import "strings"

// PatientBlock is the patient description sent with a slot booking.
type PatientBlock struct {
	FullName       string `json:"full_name"`
	FullNameParent string `json:"full_name_parent,omitempty"`
	BirthDate      string `json:"birth_date,omitempty"`
	Phone          string `json:"phone"`
}

// BookSlotRequest is the payload for POST {base}/events?action=bookslot.
type BookSlotRequest struct {
	AppointmentID     string         `json:"appointment_id"`
	SlotID            string         `json:"slot_id"`
	ClinicExternalID  string         `json:"clinic_external_id,omitempty"`
	DoctorExternalID  string         `json:"doctor_external_id"`
	BranchExternalID  string         `json:"branch_external_id,omitempty"`
	CabinetExternalID string         `json:"cabinet_external_id,omitempty"`
	Comment           string         `json:"comment,omitempty"`
	AppointmentSource string         `json:"appointment_source,omitempty"`
	Patient           PatientBlock   `json:"patient"`
	Meta              map[string]any `json:"meta,omitempty"`
}

// ManualClient is the client block for manual (no-slot) bookings.
type ManualClient struct {
	MobilePhone string `json:"mobile_phone"`
	LastName    string `json:"last_name"`
	FirstName   string `json:"first_name"`
	SecondName  string `json:"second_name,omitempty"`
	Birthday    string `json:"birthday,omitempty"`
}

// ManualBookingRequest is the payload for POST {base}/events?action=newrecord.
type ManualBookingRequest struct {
	AppointmentID string `json:"appointment_id"`
	Doctor        struct {
		ID string `json:"id"`
	} `json:"doctor"`
	Appointment struct {
		DtStart string `json:"dt_start"`
		Comment string `json:"comment,omitempty"`
	} `json:"appointment"`
	Client            ManualClient   `json:"client"`
	AppointmentSource string         `json:"appointment_source,omitempty"`
	Meta              map[string]any `json:"meta,omitempty"`
}

// Response is the decoded 1C reply. 1C instances disagree on field names,
// so correlation and error text go through accessors instead of fields.
type Response struct {
	Status        string `json:"status"`
	StatusCode    int    `json:"status_code"`
	ClaimID       string `json:"claim_id"`
	AppointmentID string `json:"appointment_id"`
	Detail        string `json:"detail"`
	Message       string `json:"message"`

	// HTTPStatus is the transport status the body arrived with.
	HTTPStatus int `json:"-"`
	// Raw keeps the undecoded body for persistence and diagnostics.
	Raw map[string]any `json:"-"`
}

// CorrelationID returns the booking id 1C assigned, whichever field carried it.
func (r *Response) CorrelationID() string {
	if r == nil {
		return ""
	}
	if r.ClaimID != "" {
		return r.ClaimID
	}
	return r.AppointmentID
}

// Failed reports a textual failure status inside a structurally valid reply.
func (r *Response) Failed() bool {
	if r == nil {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(r.Status)) {
	case "fail", "failed", "error", "rejected":
		return true
	}
	if r.StatusCode >= 400 {
		return true
	}
	return false
}

// ErrorText returns the provider's own wording for a rejection.
func (r *Response) ErrorText() string {
	if r == nil {
		return ""
	}
	if r.Detail != "" {
		return r.Detail
	}
	if r.Message != "" {
		return r.Message
	}
	return r.Status
}
