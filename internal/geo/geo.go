// Package geo holds the distance checks used to decide whether a person is
// where they claim to be.
package geo

import (
	"errors"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// ErrInvalidPoint marks coordinates that are not finite or out of range.
var ErrInvalidPoint = errors.New("invalid coordinates")

// Validate rejects NaN, infinities and coordinates outside [-90,90]x[-180,180].
func (p Point) Validate() error {
	for _, v := range []float64{p.Lat, p.Lon} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrInvalidPoint
		}
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return ErrInvalidPoint
	}
	return nil
}

// Distance returns the haversine great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	phi1 := radians(a.Lat)
	phi2 := radians(b.Lat)
	dPhi := radians(b.Lat - a.Lat)
	dLambda := radians(b.Lon - a.Lon)

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// IsNearRegisteredLocation reports whether current lies within thresholdMeters
// of the person's registered location.
func IsNearRegisteredLocation(current, registered Point, thresholdMeters float64) bool {
	return Distance(current, registered) <= thresholdMeters
}

// IsWithinCampus reports whether current lies inside the campus circle. The
// boundary itself counts as inside.
func IsWithinCampus(current, center Point, radiusMeters float64) bool {
	return Distance(current, center) <= radiusMeters
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
