package stations

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/yegors/stationmap/internal/synoptic"
)

var errMissingValue = errors.New("value is missing")

// ValidationError describes a record that was dropped during normalization
type ValidationError struct {
	Index     int    // position in the raw station list
	StationID string // may be empty when the id itself is the problem
	Field     string
	Reason    string
	Err       error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("station %q (record %d): %s %s", e.StationID, e.Index, e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Normalize reduces raw records to the kind's columns. Records that fail
// validation are dropped and reported; the rest keep their order. A station id
// seen twice keeps the later record in the earlier position.
func Normalize(kind synoptic.Kind, records []synoptic.StationRecord) (Table, []*ValidationError) {
	table := Table{Kind: kind, Rows: make([]Row, 0, len(records))}
	var problems []*ValidationError
	positions := make(map[string]int, len(records))

	for i, rec := range records {
		row, verr := normalizeRecord(kind, i, rec)
		if verr != nil {
			problems = append(problems, verr)
			continue
		}

		if pos, ok := positions[row.StationID]; ok {
			table.Rows[pos] = row
			continue
		}
		positions[row.StationID] = len(table.Rows)
		table.Rows = append(table.Rows, row)
	}

	return table, problems
}

func normalizeRecord(kind synoptic.Kind, index int, rec synoptic.StationRecord) (Row, *ValidationError) {
	stid := strings.TrimSpace(rec.STID)
	invalid := func(field, reason string, err error) *ValidationError {
		return &ValidationError{Index: index, StationID: stid, Field: field, Reason: reason, Err: err}
	}

	if stid == "" {
		return Row{}, invalid("STID", "is missing", nil)
	}

	lat, err := parseCoordinate(rec.Latitude)
	if err != nil {
		return Row{}, invalid("LATITUDE", "is not a number", err)
	}
	if lat < -90 || lat > 90 {
		return Row{}, invalid("LATITUDE", fmt.Sprintf("%v is outside [-90, 90]", lat), nil)
	}

	lon, err := parseCoordinate(rec.Longitude)
	if err != nil {
		return Row{}, invalid("LONGITUDE", "is not a number", err)
	}
	if lon < -180 || lon > 180 {
		return Row{}, invalid("LONGITUDE", fmt.Sprintf("%v is outside [-180, 180]", lon), nil)
	}

	row := Row{
		Name:      rec.Name,
		StationID: stid,
		Latitude:  lat,
		Longitude: lon,
	}

	if kind == synoptic.KindLatest {
		if !rec.HasObservations() {
			return Row{}, invalid("OBSERVATIONS", "is missing", nil)
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, rec.Observations); err != nil {
			return Row{}, invalid("OBSERVATIONS", "is not valid JSON", err)
		}
		row.Observations = buf.Bytes()
	}

	return row, nil
}

// parseCoordinate accepts a JSON number or a JSON string holding a number
func parseCoordinate(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errMissingValue
	}

	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return 0, errMissingValue
		}
	} else {
		text = string(raw)
	}

	// ParseFloat also takes hex floats, underscores and inf/nan spellings
	if strings.ContainsFunc(text, func(r rune) bool {
		return !strings.ContainsRune("0123456789+-.eE", r)
	}) {
		return 0, fmt.Errorf("%q is not a decimal number", text)
	}

	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not finite", text)
	}
	return v, nil
}
