package maps

import (
	"fmt"
	"io"
	"math"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"github.com/yegors/stationmap/internal/config"
	"github.com/yegors/stationmap/internal/fsutil"
	"github.com/yegors/stationmap/internal/geo"
	"github.com/yegors/stationmap/internal/stations"
	"github.com/yegors/stationmap/pkg/logger"
)

// minExtentMeters keeps a single station from collapsing the axis ranges
const minExtentMeters = 2000.0

var defaultDotColor = drawing.Color{R: 68, G: 1, B: 84, A: 255}

// StaticRenderer draws stations as a web-mercator scatter plot.
// When a center is set, dots are colored by distance from it on a reversed
// viridis ramp so the nearest stations are brightest.
type StaticRenderer struct {
	width  int
	height int
	center *geo.Point
	logger *logger.Logger
}

// NewStaticRenderer creates a new static map renderer. center may be nil.
func NewStaticRenderer(cfg config.MapsConfig, center *geo.Point, log *logger.Logger) *StaticRenderer {
	return &StaticRenderer{
		width:  cfg.Width,
		height: cfg.Height,
		center: center,
		logger: log.Named("map-png"),
	}
}

// Render writes a PNG of table to w
func (r *StaticRenderer) Render(w io.Writer, table stations.Table) error {
	graph, err := r.chart(table)
	if err != nil {
		return err
	}
	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("failed to render static map: %w", err)
	}
	return nil
}

// RenderFile renders table to path, replacing any previous file
func (r *StaticRenderer) RenderFile(path string, table stations.Table) error {
	if table.Len() == 0 {
		return ErrEmptyTable
	}
	if err := fsutil.WriteFileAtomic(path, func(w io.Writer) error {
		return r.Render(w, table)
	}); err != nil {
		return err
	}

	r.logger.Info("Wrote static map",
		logger.String("path", path),
		logger.String("kind", string(table.Kind)),
		logger.Int("points", table.Len()))
	return nil
}

func (r *StaticRenderer) chart(table stations.Table) (chart.Chart, error) {
	if table.Len() == 0 {
		return chart.Chart{}, ErrEmptyTable
	}

	xs := make([]float64, table.Len())
	ys := make([]float64, table.Len())
	for i, row := range table.Rows {
		xs[i], ys[i] = geo.WebMercator(row.Latitude, row.Longitude)
	}
	xRange, yRange := r.ranges(xs, ys)

	colors := r.dotColors(table)
	style := chart.Style{
		StrokeWidth: chart.Disabled,
		DotWidth:    6,
		DotColorProvider: func(_, _ chart.Range, index int, _, _ float64) drawing.Color {
			return colors[index]
		},
	}

	hidden := chart.Style{Hidden: true}
	return chart.Chart{
		Width:  r.width,
		Height: r.height,
		Background: chart.Style{
			Padding: chart.Box{Top: 10, Left: 10, Right: 10, Bottom: 10},
		},
		XAxis: chart.XAxis{Style: hidden, Range: xRange},
		YAxis: chart.YAxis{Style: hidden, Range: yRange},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    fmt.Sprintf("%s stations", table.Kind),
				Style:   style,
				XValues: xs,
				YValues: ys,
			},
		},
	}, nil
}

// ranges pads the data extent and widens one axis so meters are square on the image
func (r *StaticRenderer) ranges(xs, ys []float64) (*chart.ContinuousRange, *chart.ContinuousRange) {
	minX, maxX := extent(xs)
	minY, maxY := extent(ys)

	spanX := math.Max(maxX-minX, minExtentMeters) * 1.1
	spanY := math.Max(maxY-minY, minExtentMeters) * 1.1

	aspect := float64(r.width) / float64(r.height)
	if spanX/spanY < aspect {
		spanX = spanY * aspect
	} else {
		spanY = spanX / aspect
	}

	midX := (minX + maxX) / 2
	midY := (minY + maxY) / 2
	return &chart.ContinuousRange{Min: midX - spanX/2, Max: midX + spanX/2},
		&chart.ContinuousRange{Min: midY - spanY/2, Max: midY + spanY/2}
}

// dotColors returns one color per row
func (r *StaticRenderer) dotColors(table stations.Table) []drawing.Color {
	colors := make([]drawing.Color, table.Len())
	if r.center == nil {
		for i := range colors {
			colors[i] = defaultDotColor
		}
		return colors
	}

	dist := make([]float64, table.Len())
	for i, row := range table.Rows {
		dist[i] = geo.HaversineKM(r.center.Lat, r.center.Lon, row.Latitude, row.Longitude)
	}
	lo, hi := extent(dist)
	for i, d := range dist {
		colors[i] = reversedViridis(d, lo, hi)
	}
	return colors
}

func reversedViridis(v, lo, hi float64) drawing.Color {
	if hi <= lo {
		return chart.Viridis(0.5, 0, 1)
	}
	return chart.Viridis(hi-(v-lo), lo, hi)
}

func extent(values []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}
