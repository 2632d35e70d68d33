package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking/internal/domain"
)

func TestNominatim_ReverseGeocode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "14.599500", r.URL.Query().Get("lat"))
		assert.Equal(t, "120.984200", r.URL.Query().Get("lon"))
		assert.Equal(t, "booking-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"display_name":"Rizal Park, Manila"}`))
	}))
	defer srv.Close()

	n := NewNominatim(srv.URL+"/", "booking-test", time.Second)
	addr, err := n.ReverseGeocode(context.Background(), domain.Point{Lat: 14.5995, Lng: 120.9842})

	require.NoError(t, err)
	assert.Equal(t, "Rizal Park, Manila", addr)
}

func TestNominatim_NoAddress(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Unable to geocode"}`))
	}))
	defer srv.Close()

	_, err := NewNominatim(srv.URL, "", time.Second).ReverseGeocode(context.Background(), domain.Point{})
	assert.ErrorIs(t, err, ErrNoAddress)
}

func TestNominatim_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewNominatim(srv.URL, "", time.Second).ReverseGeocode(context.Background(), domain.Point{Lat: 1, Lng: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
