package synoptic

import "fmt"

// TransportError means the service could not be reached or the response could
// not be read (DNS, TLS, connection reset, timeout, cancelled context).
type TransportError struct {
	Kind Kind
	URL  string // token already stripped
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error fetching %s stations from %s: %v", e.Kind, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RetrievalError means the service answered but rejected the request, either
// with a non-2xx HTTP status or with a non-success RESPONSE_CODE in the envelope.
type RetrievalError struct {
	Kind         Kind
	HTTPStatus   int
	ResponseCode int
	Message      string
}

func (e *RetrievalError) Error() string {
	if e.HTTPStatus != 0 && (e.HTTPStatus < 200 || e.HTTPStatus > 299) {
		return fmt.Sprintf("failed to retrieve %s stations: HTTP %d %s", e.Kind, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("failed to retrieve %s stations: response code %d %s", e.Kind, e.ResponseCode, e.Message)
}

// MalformedResponseError means the body was not the expected JSON envelope
type MalformedResponseError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s response: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed %s response: %s", e.Kind, e.Reason)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }
