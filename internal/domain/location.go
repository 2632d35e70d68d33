package domain

import "time"

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64
	Lng float64
}

// IsZero reports whether the point is (0, 0), which devices send when no fix is available.
func (p Point) IsZero() bool {
	return p.Lat == 0 && p.Lng == 0
}

// Valid reports whether the coordinates are within range.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// ServiceLocation is where the client wants the service performed.
type ServiceLocation struct {
	Point
	Address string
}

// WorkerLocationSample is a single position report from a worker's device.
type WorkerLocationSample struct {
	WorkerID  string
	Lat       float64
	Lng       float64
	Timestamp time.Time
}

// Point returns the sample position.
func (s WorkerLocationSample) Point() Point {
	return Point{Lat: s.Lat, Lng: s.Lng}
}

// DistanceEstimate is derived from the latest sample and never persisted.
type DistanceEstimate struct {
	DistanceKm float64
	ETAMinutes int
	ETALabel   string
}
