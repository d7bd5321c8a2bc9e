package geo

import (
	"math"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

// Constants
const (
	EarthRadiusKM     = 6371.0       // Mean earth radius used for great-circle distances
	WebMercatorRadius = 6378137.0    // WGS84 semi-major axis (m), EPSG:3857
	MaxMercatorLat    = 85.051128779 // Latitude where web mercator y reaches its square bound
	degToRad          = math.Pi / 180
)

// Point is a WGS84 position in decimal degrees
type Point struct {
	Lat float64
	Lon float64
}

// HaversineKM returns the great-circle distance between two positions in kilometers
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return EarthRadiusKM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// WebMercator projects a position to EPSG:3857 meters.
// Latitudes beyond the mercator bound are pinned to it.
func WebMercator(lat, lon float64) (x, y float64) {
	lat = math.Max(-MaxMercatorLat, math.Min(MaxMercatorLat, lat))
	x = WebMercatorRadius * lon * degToRad
	y = WebMercatorRadius * math.Log(math.Tan(math.Pi/4+lat*degToRad/2))
	return x, y
}

// MagneticDeclination calculates the magnetic declination for a given position and time.
// Returns declination in degrees (+East, -West), or ok=false when the model
// cannot be evaluated for the date.
func MagneticDeclination(lat, lon, altM float64, date time.Time) (decl float64, ok bool) {
	// Create location from Geodetic coordinates
	loc := egm96.NewLocationGeodetic(lat, lon, altM)

	// Calculate magnetic field
	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		return 0, false
	}

	return mag.D(), true
}
