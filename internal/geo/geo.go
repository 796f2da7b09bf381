package geo

import (
	"fmt"
	"math"

	"github.com/superjustkidding/fango/internal/apperr"
	"github.com/superjustkidding/fango/internal/models"
)

// earthRadiusM is the mean Earth radius used by the Haversine formula.
const earthRadiusM = 6371000.0

// Haversine returns the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// Distance is Haversine over Coord values.
func Distance(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

// ValidateCoordinate rejects latitudes outside [-90,90] and longitudes
// outside [-180,180].
func ValidateCoordinate(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90,90]: %w", lat, apperr.ErrValidation)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %v out of range [-180,180]: %w", lon, apperr.ErrValidation)
	}
	return nil
}

// BoundingBox is a cheap rectangular pre-filter around a center point.
// Points outside the box are certainly farther than the radius; points
// inside still need an exact distance check.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// BoxAround derives the bounding box for a radius in meters. One degree of
// latitude is ~111 km; one degree of longitude shrinks by cos(latitude).
func BoxAround(lat, lon, radiusM float64) BoundingBox {
	latDelta := radiusM / 111000.0
	lonDelta := radiusM / (111000.0 * math.Cos(toRad(lat)))
	return BoundingBox{
		MinLat: lat - latDelta,
		MaxLat: lat + latDelta,
		MinLon: lon - lonDelta,
		MaxLon: lon + lonDelta,
	}
}

// Contains reports whether the point falls inside the box.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

func toRad(deg float64) float64 { return deg * math.Pi / 180.0 }
