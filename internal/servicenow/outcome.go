package servicenow

import (
	"errors"
	"fmt"
)

// HibernatingMessage is the fixed message reported when the instance serves
// its hibernation placeholder page instead of API output.
const HibernatingMessage = "Service Now instance is hibernating"

// hibernatingMarker is the text ServiceNow puts in the placeholder page of a
// hibernating developer instance. There is no header or status code for it.
const hibernatingMarker = "Instance Hibernating page"

var errNoResponse = errors.New("transport returned no response")

// OutcomeKind identifies which case of an Outcome is populated.
type OutcomeKind int

const (
	// OutcomeUnknown is the zero value and never returned by a Fetcher.
	OutcomeUnknown OutcomeKind = iota
	OutcomeSuccess
	OutcomeTransportError
	OutcomeStatusError
	OutcomeHibernating
)

// String returns the snake_case name used in logs, metrics and events.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeStatusError:
		return "status_error"
	case OutcomeHibernating:
		return "hibernating"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one fetch. Exactly one case is set:
//
//	Success         Response() is the unmodified response, Err() is nil
//	TransportError  Err() is a *TransportError
//	StatusError     Err() is a *StatusError carrying the full response
//	Hibernating     Err() is a *HibernatingError with HibernatingMessage
//
// Outcome values are built only through the constructors below.
type Outcome struct {
	kind     OutcomeKind
	response *Response
	err      error
}

// SuccessOutcome wraps a response that passed every check.
func SuccessOutcome(resp *Response) Outcome {
	return Outcome{kind: OutcomeSuccess, response: resp}
}

// TransportErrorOutcome wraps a failure that happened before any response arrived.
func TransportErrorOutcome(err error) Outcome {
	return Outcome{kind: OutcomeTransportError, err: &TransportError{Err: err}}
}

// StatusErrorOutcome wraps a response whose status code was rejected.
func StatusErrorOutcome(resp *Response) Outcome {
	return Outcome{kind: OutcomeStatusError, err: &StatusError{Response: resp}}
}

// HibernatingOutcome reports a hibernating instance. The response is dropped.
func HibernatingOutcome() Outcome {
	return Outcome{kind: OutcomeHibernating, err: &HibernatingError{Message: HibernatingMessage}}
}

// Kind reports which case is populated.
func (o Outcome) Kind() OutcomeKind { return o.kind }

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool { return o.kind == OutcomeSuccess }

// Response returns the response for a success outcome and nil otherwise.
// The rejected response of a status error is available via Err().
func (o Outcome) Response() *Response {
	if o.kind != OutcomeSuccess {
		return nil
	}
	return o.response
}

// Err returns nil for a success and the typed error for every other case.
func (o Outcome) Err() error { return o.err }

// StatusCode returns the HTTP status of the response behind the outcome, or 0
// when none is kept (transport errors, hibernating instances, nil responses).
func (o Outcome) StatusCode() int {
	var resp *Response
	switch o.kind {
	case OutcomeSuccess:
		resp = o.response
	case OutcomeStatusError:
		resp = o.err.(*StatusError).Response
	}
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

// TransportError is a network-level failure: connection refused, DNS, TLS,
// timeout, or a cancelled context.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("servicenow transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is returned when the instance answered with a non-2xx status.
// The full response is kept so callers can inspect status and body.
type StatusError struct {
	Response *Response
}

func (e *StatusError) Error() string {
	if e.Response == nil {
		return "servicenow status error: no response"
	}
	if apiErr, ok := e.Response.APIError(); ok {
		if apiErr.Error.Detail != "" {
			return fmt.Sprintf("servicenow status %d: %s (%s)", e.Response.StatusCode, apiErr.Error.Message, apiErr.Error.Detail)
		}
		return fmt.Sprintf("servicenow status %d: %s", e.Response.StatusCode, apiErr.Error.Message)
	}
	return fmt.Sprintf("servicenow status %d: %s", e.Response.StatusCode, truncateBody(e.Response.Body))
}

// HibernatingError reports that the instance served its hibernation page.
type HibernatingError struct {
	Message string
}

func (e *HibernatingError) Error() string { return e.Message }

// truncateBody returns the first 500 bytes of a response body for logging.
func truncateBody(body []byte) string {
	if len(body) > 500 {
		return string(body[:500]) + "..."
	}
	return string(body)
}
