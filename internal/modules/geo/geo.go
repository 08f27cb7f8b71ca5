// Package geo contains pure geographic helpers used by the driver feed.
package geo

import (
	"math"

	"tripmatch/internal/types"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance in kilometres between two points.
func DistanceKm(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

// Box is a lat/lng rectangle that encloses a circle. Stores use it as a cheap
// prefilter before the exact haversine check.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// BoundingBox returns the box around center with the given radius. Longitude
// bounds are clamped instead of wrapped across the antimeridian.
func BoundingBox(center types.Point, radiusKm float64) Box {
	dLat := radiansToDegrees(radiusKm / earthRadiusKm)
	cosLat := math.Cos(degreesToRadians(center.Lat))
	dLng := 180.0
	if cosLat > 1e-9 {
		dLng = math.Min(180, radiansToDegrees(radiusKm/(earthRadiusKm*cosLat)))
	}
	return Box{
		MinLat: math.Max(-90, center.Lat-dLat),
		MaxLat: math.Min(90, center.Lat+dLat),
		MinLng: math.Max(-180, center.Lng-dLng),
		MaxLng: math.Min(180, center.Lng+dLng),
	}
}

func (b Box) Contains(p types.Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// Within reports whether p lies within radiusKm of center.
func Within(center, p types.Point, radiusKm float64) bool {
	return DistanceKm(center, p) <= radiusKm
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func radiansToDegrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

// SortByDistance performs a stable insertion sort (fine for feed-sized N) on any
// slice where each element exposes a distance via the accessor function.
func SortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
