package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"booking/internal/domain"
	"booking/internal/geo"
	"booking/internal/observability"
)

// Geocoder turns coordinates into a street address.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, p domain.Point) (string, error)
}

// ResolveAddress reverse-geocodes p, falling back to the coordinate text on failure.
func ResolveAddress(ctx context.Context, g Geocoder, p domain.Point, log *slog.Logger) string {
	if g == nil {
		return geo.FormatCoordinates(p)
	}
	addr, err := g.ReverseGeocode(ctx, p)
	if err == nil && strings.TrimSpace(addr) == "" {
		err = fmt.Errorf("%w: empty address", ErrGeocodeFailed)
	}
	if err != nil {
		observability.GeocodeFailuresTotal.Inc()
		log.Warn("reverse geocode failed, using coordinates", "lat", p.Lat, "lng", p.Lng, "error", err)
		return geo.FormatCoordinates(p)
	}
	return addr
}
