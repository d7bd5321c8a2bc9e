// Package maps renders normalized station tables as an interactive web map and
// a static image.
package maps

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"math"
	"time"

	"github.com/yegors/stationmap/internal/config"
	"github.com/yegors/stationmap/internal/fsutil"
	"github.com/yegors/stationmap/internal/geo"
	"github.com/yegors/stationmap/internal/stations"
	"github.com/yegors/stationmap/pkg/logger"
)

// ErrEmptyTable is returned when a table has no rows to draw
var ErrEmptyTable = errors.New("station table has no rows")

const osmAttribution = `&copy; <a href="https://www.openstreetmap.org/copyright">OpenStreetMap</a> contributors`

var pageTemplate = template.Must(template.New("map").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
<link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css">
<script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
<style>html, body, #map { height: 100%; margin: 0; }</style>
</head>
<body>
<div id="map"></div>
<script>
var map = L.map('map').setView([{{.Center.Lat}}, {{.Center.Lon}}], {{.Zoom}});
L.tileLayer({{.TileURL}}, {maxZoom: 19, attribution: {{.Attribution}}}).addTo(map);
var stations = {{.Markers}};
stations.forEach(function (s) {
	L.marker([s.lat, s.lon], {title: s.id}).addTo(map).bindPopup(s.popup);
});
</script>
</body>
</html>
`))

// marker is one station as handed to the page script
type marker struct {
	StationID string  `json:"id"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Popup     string  `json:"popup"`
}

type page struct {
	Title       string
	Center      geo.Point
	Zoom        int
	TileURL     string
	Attribution string
	Markers     []marker
}

// InteractiveRenderer writes a Leaflet map with one marker per station
type InteractiveRenderer struct {
	zoom    int
	tileURL string
	logger  *logger.Logger
	now     func() time.Time
}

// NewInteractiveRenderer creates a new interactive map renderer
func NewInteractiveRenderer(cfg config.MapsConfig, log *logger.Logger) *InteractiveRenderer {
	return &InteractiveRenderer{
		zoom:    cfg.Zoom,
		tileURL: cfg.TileURL,
		logger:  log.Named("map-html"),
		now:     time.Now,
	}
}

// Render writes the HTML page for table to w. The view starts centered on the
// first row.
func (r *InteractiveRenderer) Render(w io.Writer, table stations.Table) error {
	p, err := r.page(table)
	if err != nil {
		return err
	}
	if err := pageTemplate.Execute(w, p); err != nil {
		return fmt.Errorf("failed to render map page: %w", err)
	}
	return nil
}

// RenderFile renders table to path, replacing any previous file
func (r *InteractiveRenderer) RenderFile(path string, table stations.Table) error {
	if table.Len() == 0 {
		return ErrEmptyTable
	}
	if err := fsutil.WriteFileAtomic(path, func(w io.Writer) error {
		return r.Render(w, table)
	}); err != nil {
		return err
	}

	r.logger.Info("Wrote interactive map",
		logger.String("path", path),
		logger.String("kind", string(table.Kind)),
		logger.Int("markers", table.Len()))
	return nil
}

func (r *InteractiveRenderer) page(table stations.Table) (page, error) {
	if table.Len() == 0 {
		return page{}, ErrEmptyTable
	}

	now := r.now()
	markers := make([]marker, 0, table.Len())
	for _, row := range table.Rows {
		markers = append(markers, marker{
			StationID: row.StationID,
			Lat:       row.Latitude,
			Lon:       row.Longitude,
			Popup:     popupHTML(row, now),
		})
	}

	first := table.Rows[0]
	return page{
		Title:       fmt.Sprintf("Stations (%s)", table.Kind),
		Center:      geo.Point{Lat: first.Latitude, Lon: first.Longitude},
		Zoom:        r.zoom,
		TileURL:     r.tileURL,
		Attribution: osmAttribution,
		Markers:     markers,
	}, nil
}

// popupHTML is "<b>STID</b><br>NAME" with the local magnetic declination appended
func popupHTML(row stations.Row, at time.Time) string {
	html := fmt.Sprintf("<b>%s</b><br>%s",
		template.HTMLEscapeString(row.StationID),
		template.HTMLEscapeString(row.Name))

	if decl, ok := geo.MagneticDeclination(row.Latitude, row.Longitude, 0, at); ok {
		html += "<br>Declination: " + formatDeclination(decl)
	}
	return html
}

func formatDeclination(decl float64) string {
	dir := "E"
	if decl < 0 {
		dir = "W"
	}
	return fmt.Sprintf("%.1f&deg; %s", math.Abs(decl), dir)
}
