package booking

import (
	"errors"
	"fmt"

	"github.com/clinicore/onec-bridge/internal/onec"
)

// FailureKind tells callers which of the three user-facing stories applies:
// "fix configuration", "show the provider's rejection text", or "we could
// not reach the provider, reconcile manually".
type FailureKind string

const (
	FailConfiguration FailureKind = "configuration"
	FailDoctorID      FailureKind = "missing_doctor_external_id"
	FailTiming        FailureKind = "missing_slot_timing"
	FailTransport     FailureKind = "transport"
	FailRejected      FailureKind = "rejected"
)

var ErrNoCorrelationID = errors.New("booking: application has no external correlation id")

// Error wraps every failure the orchestrator surfaces, carrying the payload
// that was (or would have been) sent and the provider response when one
// exists.
type Error struct {
	Kind     FailureKind
	Payload  any
	Response *onec.Response
	Err      error
}

func (e *Error) Error() string {
	if e.Kind == FailRejected && e.Response != nil {
		return fmt.Sprintf("booking: %s: %s", e.Kind, e.Response.ErrorText())
	}
	if e.Err != nil {
		return fmt.Sprintf("booking: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("booking: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from any error chain, "" when the error
// did not come from the orchestrator.
func KindOf(err error) FailureKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}
