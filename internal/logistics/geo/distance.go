// Package geo provides great-circle distance helpers.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used by DistanceKm.
const EarthRadiusKm = 6371.0

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// DistanceKm returns the Haversine distance between a and b.
func DistanceKm(a, b Point) float64 {
	if a == b {
		return 0
	}
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push h just outside [0, 1] for near-antipodal points.
	h = math.Min(1, math.Max(0, h))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// TravelMinutes converts a distance into minutes at the given speed.
func TravelMinutes(km, speedKmh float64) float64 {
	if speedKmh <= 0 {
		return 0
	}
	return km / speedKmh * 60
}

// Nearest returns the index of the candidate closest to origin, or -1 when
// candidates is empty. Ties keep the earliest candidate.
func Nearest(origin Point, candidates []Point) int {
	best := -1
	bestKm := math.Inf(1)
	for i, c := range candidates {
		if d := DistanceKm(origin, c); d < bestKm {
			best, bestKm = i, d
		}
	}
	return best
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
