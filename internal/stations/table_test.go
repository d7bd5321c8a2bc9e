package stations

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/stationmap/internal/synoptic"
)

func sampleLatest() Table {
	return Table{
		Kind: synoptic.KindLatest,
		Rows: []Row{
			{Name: "Alpha", StationID: "A", Latitude: 40.5, Longitude: -111.9, Observations: json.RawMessage(`{"t":1}`)},
			{Name: "Bravo", StationID: "B", Latitude: 41.2, Longitude: -112.3, Observations: json.RawMessage(`{"t":2}`)},
			{Name: "Charlie", StationID: "C", Latitude: 39.9, Longitude: -110.1, Observations: json.RawMessage(`{}`)},
		},
	}
}

func TestColumns(t *testing.T) {
	assert.Equal(t, []string{"name", "station_id", "latitude", "longitude"}, Columns(synoptic.KindMetadata))
	assert.Equal(t, []string{"name", "station_id", "latitude", "longitude", "observations"}, Columns(synoptic.KindLatest))
	assert.Equal(t, Columns(synoptic.KindLatest), sampleLatest().Columns())
}

func TestFilterDoesNotMutateSource(t *testing.T) {
	src := sampleLatest()
	before := src.Clone()

	view := src.Filter(WithinBounds(40, -112, 41, -111))
	require.Len(t, view.Rows, 1)
	assert.Equal(t, "A", view.Rows[0].StationID)
	assert.Equal(t, synoptic.KindLatest, view.Kind)

	view.Rows[0].Name = "changed"
	view.Rows[0].Observations[2] = 'X'
	assert.Equal(t, before, src)
}

func TestFind(t *testing.T) {
	table := sampleLatest()

	row, ok := table.Find("B")
	require.True(t, ok)
	assert.Equal(t, "Bravo", row.Name)

	_, ok = table.Find("Z")
	assert.False(t, ok)
}

func TestRowJSONShape(t *testing.T) {
	data, err := json.Marshal(Row{Name: "Test", StationID: "ABC", Latitude: 40, Longitude: -111})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Test","station_id":"ABC","latitude":40,"longitude":-111}`, string(data))
}
