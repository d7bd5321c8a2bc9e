package synoptic

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind selects the stations endpoint: /stations/{kind}
type Kind string

const (
	KindMetadata Kind = "metadata"
	KindLatest   Kind = "latest"
)

// ErrUnknownKind is returned for any kind other than metadata or latest
var ErrUnknownKind = errors.New("unknown station data kind")

// ErrMissingToken is returned by Fetch when no API token is configured
var ErrMissingToken = errors.New("synoptic token is not set (use SYNOPTIC_TOKEN or [synoptic] token)")

// Kinds lists every supported kind
func Kinds() []Kind {
	return []Kind{KindMetadata, KindLatest}
}

// ParseKind validates a textual kind
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindMetadata, KindLatest:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Validate reports whether k is a supported kind
func (k Kind) Validate() error {
	_, err := ParseKind(string(k))
	return err
}

// ResponseCodeSuccess is the SUMMARY.RESPONSE_CODE of a successful request
const ResponseCodeSuccess = 1

// Envelope is the top-level response object of the stations endpoints.
// Station stays raw until the summary reports success.
type Envelope struct {
	Summary *Summary        `json:"SUMMARY"`
	Station json.RawMessage `json:"STATION"`
}

// Summary carries the application-level outcome of a request
type Summary struct {
	ResponseCode    *int   `json:"RESPONSE_CODE"`
	ResponseMessage string `json:"RESPONSE_MESSAGE,omitempty"`
	NumberOfObjects int    `json:"NUMBER_OF_OBJECTS,omitempty"`
}

// StationRecord is one station object exactly as the API returned it.
// The coordinate fields stay raw because the API sends them as strings or
// numbers; coercion happens during normalization.
type StationRecord struct {
	STID         string          `json:"STID"`
	Name         string          `json:"NAME"`
	Latitude     json.RawMessage `json:"LATITUDE"`
	Longitude    json.RawMessage `json:"LONGITUDE"`
	Distance     json.RawMessage `json:"DISTANCE,omitempty"`
	Observations json.RawMessage `json:"OBSERVATIONS,omitempty"`

	raw json.RawMessage
}

// UnmarshalJSON decodes the known fields and keeps the original bytes
func (r *StationRecord) UnmarshalJSON(data []byte) error {
	type plain StationRecord
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = StationRecord(p)
	r.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the original bytes when the record came off the wire
func (r StationRecord) MarshalJSON() ([]byte, error) {
	if r.raw != nil {
		return r.raw, nil
	}
	type plain StationRecord
	return json.Marshal(plain(r))
}

// HasObservations reports whether the record carries a non-null OBSERVATIONS payload
func (r StationRecord) HasObservations() bool {
	trimmed := bytes.TrimSpace(r.Observations)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
