// Package geo holds the distance and arrival-time math shared by tracking and display code.
package geo

import (
	"fmt"
	"math"

	"booking/internal/domain"
)

const (
	// EarthRadiusKm is the mean Earth radius used by DistanceKm.
	EarthRadiusKm = 6371.0

	// DefaultSpeedKmh is the assumed average travel speed for ETA.
	DefaultSpeedKmh = 30.0

	// ArrivedThresholdKm is the distance under which the worker counts as arrived.
	ArrivedThresholdKm = 0.1
)

// DistanceKm returns the great-circle distance between a and b in kilometers.
func DistanceKm(a, b domain.Point) float64 {
	if a == b {
		return 0
	}

	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)

	// Rounding can push h slightly outside [0, 1] for near-antipodal points.
	h = math.Min(1, math.Max(0, h))

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// ETAMinutes returns the travel time in whole minutes at speedKmh.
// A non-positive speed falls back to DefaultSpeedKmh.
func ETAMinutes(distanceKm, speedKmh float64) int {
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	if distanceKm <= 0 {
		return 0
	}
	return int(math.Round(distanceKm / speedKmh * 60))
}

// ETALabel buckets an ETA into the text shown to the client.
func ETALabel(minutes int, distanceKm float64) string {
	switch {
	case distanceKm < ArrivedThresholdKm:
		return "arrived"
	case minutes < 5:
		return "arriving soon"
	case minutes < 60:
		return fmt.Sprintf("~%d minutes", minutes)
	default:
		return fmt.Sprintf("~%dh %dm", minutes/60, minutes%60)
	}
}

// Estimate computes the distance estimate from worker to client.
func Estimate(worker, client domain.Point, speedKmh float64) domain.DistanceEstimate {
	d := DistanceKm(worker, client)
	m := ETAMinutes(d, speedKmh)
	return domain.DistanceEstimate{
		DistanceKm: d,
		ETAMinutes: m,
		ETALabel:   ETALabel(m, d),
	}
}

// FormatCoordinates renders a point as "lat, lng" with six decimals.
func FormatCoordinates(p domain.Point) string {
	return fmt.Sprintf("%.6f, %.6f", p.Lat, p.Lng)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
