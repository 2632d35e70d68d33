package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"booking/internal/domain"
	"booking/internal/service"
)

// LocationSink accepts worker location samples.
type LocationSink interface {
	Ingest(ctx context.Context, sample domain.WorkerLocationSample) error
}

// LocationHandler receives worker location updates.
type LocationHandler struct {
	sink LocationSink
}

// NewLocationHandler creates a new LocationHandler.
func NewLocationHandler(sink LocationSink) *LocationHandler {
	return &LocationHandler{sink: sink}
}

// UpdateLocationRequest is the HTTP request body for updating worker location.
type UpdateLocationRequest struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// UpdateLocation handles POST /v1/workers/:id/location
func (h *LocationHandler) UpdateLocation(c *gin.Context) {
	workerID := c.Param("id")
	if workerID == "" {
		respondError(c, service.ErrInvalidWorkerID)
		return
	}

	var req UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	p := domain.Point{Lat: req.Lat, Lng: req.Lng}
	if !p.Valid() || p.IsZero() {
		respondError(c, service.ErrInvalidLocation)
		return
	}

	err := h.sink.Ingest(c.Request.Context(), domain.WorkerLocationSample{
		WorkerID:  workerID,
		Lat:       req.Lat,
		Lng:       req.Lng,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}
