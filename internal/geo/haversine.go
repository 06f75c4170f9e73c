// Package geo computes great-circle distances for the attendance geofence.
package geo

import (
	"errors"
	"math"
)

// EarthRadiusM is the mean Earth radius used by Distance, in metres.
const EarthRadiusM = 6371000.0

// ErrInvalidCoord is returned for out-of-range or NaN coordinates.
var ErrInvalidCoord = errors.New("invalid coordinates")

// Coord is a latitude/longitude pair in decimal degrees.
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks that c lies on the globe.
func (c Coord) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return ErrInvalidCoord
	}
	if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
		return ErrInvalidCoord
	}
	return nil
}

// Distance returns the haversine distance between a and b in metres.
func Distance(a, b Coord) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusM * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Within reports whether b is at most radius metres from a. The boundary is inclusive.
func Within(a, b Coord, radius float64) bool {
	return Distance(a, b) <= radius
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
