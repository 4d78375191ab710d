package onec

import (
	"fmt"

	"github.com/google/uuid"
)

// TransportError covers network failures, timeouts and undecodable non-2xx
// replies. Callers mark the endpoint unhealthy when they see one.
type TransportError struct {
	EndpointID uuid.UUID
	Method     string
	URI        string
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("onec: %s %s (endpoint %s): %v", e.Method, e.URI, e.EndpointID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectionError is a structurally valid reply that declines the operation.
// It is a business outcome, not an endpoint health problem.
type RejectionError struct {
	EndpointID uuid.UUID
	Response   *Response
}

func (e *RejectionError) Error() string {
	text := e.Response.ErrorText()
	if text == "" {
		text = fmt.Sprintf("http %d", e.Response.HTTPStatus)
	}
	return fmt.Sprintf("onec: rejected by endpoint %s: %s", e.EndpointID, text)
}
