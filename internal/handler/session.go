package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"booking/internal/service"
)

const (
	eventBuffer = 64
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = pongWait * 9 / 10
)

// SessionHandler handles HTTP requests for booking sessions.
type SessionHandler struct {
	sessions *service.SessionManager
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions *service.SessionManager, log *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		log:      log,
	}
}

// OpenSessionRequest is the HTTP request body for opening a session.
type OpenSessionRequest struct {
	DeviceID string `json:"device_id"`
}

// SubmitRatingRequest is the HTTP request body for rating a booking.
type SubmitRatingRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// CancelRequest is the HTTP request body for cancelling a booking.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// Open handles POST /v1/bookings/:id/sessions
func (h *SessionHandler) Open(c *gin.Context) {
	var req OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	s, err := h.sessions.Open(c.Request.Context(), c.Param("id"), req.DeviceID)
	if err != nil {
		respondError(c, err)
		return
	}

	st, err := s.State(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toSessionResponse(st))
}

// Get handles GET /v1/sessions/:id
func (h *SessionHandler) Get(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	st, err := s.State(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toSessionResponse(st))
}

// Close handles DELETE /v1/sessions/:id
func (h *SessionHandler) Close(c *gin.Context) {
	if err := h.sessions.Close(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SubmitRating handles POST /v1/sessions/:id/rating
func (h *SessionHandler) SubmitRating(c *gin.Context) {
	var req SubmitRatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	breakdown, err := s.SubmitRating(c.Request.Context(), req.Rating, req.Comment)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toBreakdown(&breakdown))
}

// Cancel handles POST /v1/sessions/:id/cancel
func (h *SessionHandler) Cancel(c *gin.Context) {
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if err := s.Cancel(c.Request.Context(), req.Reason); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}

// Events handles GET /v1/sessions/:id/events as a websocket stream.
func (h *SessionHandler) Events(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "session_id", s.ID(), "error", err)
		return
	}
	defer conn.Close()

	events, stop := s.Events(eventBuffer)
	defer stop()

	// Reads only serve to notice the client going away and to handle pongs.
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(toEventMessage(e)); err != nil {
				h.log.Debug("websocket write failed", "session_id", s.ID(), "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			return
		case <-s.Done():
			return
		}
	}
}
