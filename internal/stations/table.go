package stations

import (
	"encoding/json"

	"github.com/yegors/stationmap/internal/synoptic"
)

// ErrUnknownKind is returned for any kind other than metadata or latest
var ErrUnknownKind = synoptic.ErrUnknownKind

// Column names of the normalized schema
const (
	ColumnName         = "name"
	ColumnStationID    = "station_id"
	ColumnLatitude     = "latitude"
	ColumnLongitude    = "longitude"
	ColumnObservations = "observations"
)

// Columns returns the normalized column set for kind
func Columns(kind synoptic.Kind) []string {
	cols := []string{ColumnName, ColumnStationID, ColumnLatitude, ColumnLongitude}
	if kind == synoptic.KindLatest {
		cols = append(cols, ColumnObservations)
	}
	return cols
}

// Row is one station reduced to the normalized columns.
// Observations is only set for the latest kind and is stored compacted.
type Row struct {
	Name         string          `json:"name"`
	StationID    string          `json:"station_id"`
	Latitude     float64         `json:"latitude"`
	Longitude    float64         `json:"longitude"`
	Observations json.RawMessage `json:"observations,omitempty"`
}

// Table is a normalized station table for a single kind. Rows keep the order
// the API returned them in.
type Table struct {
	Kind synoptic.Kind `json:"kind"`
	Rows []Row         `json:"rows"`
}

// Len returns the number of rows
func (t Table) Len() int {
	return len(t.Rows)
}

// Columns returns the column set of the table's kind
func (t Table) Columns() []string {
	return Columns(t.Kind)
}

// Find returns the row for a station id
func (t Table) Find(stationID string) (Row, bool) {
	for _, r := range t.Rows {
		if r.StationID == stationID {
			return r, true
		}
	}
	return Row{}, false
}

// Filter returns a derived table holding the rows keep accepts.
// The receiver is left untouched.
func (t Table) Filter(keep func(Row) bool) Table {
	out := Table{Kind: t.Kind, Rows: make([]Row, 0, len(t.Rows))}
	for _, r := range t.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, cloneRow(r))
		}
	}
	return out
}

// Clone returns a deep copy
func (t Table) Clone() Table {
	out := Table{Kind: t.Kind, Rows: make([]Row, len(t.Rows))}
	for i, r := range t.Rows {
		out.Rows[i] = cloneRow(r)
	}
	return out
}

// WithinBounds keeps rows inside a latitude/longitude box
func WithinBounds(minLat, minLon, maxLat, maxLon float64) func(Row) bool {
	return func(r Row) bool {
		return r.Latitude >= minLat && r.Latitude <= maxLat &&
			r.Longitude >= minLon && r.Longitude <= maxLon
	}
}

func cloneRow(r Row) Row {
	if r.Observations != nil {
		r.Observations = append(json.RawMessage(nil), r.Observations...)
	}
	return r
}
