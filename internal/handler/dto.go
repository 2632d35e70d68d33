package handler

import (
	"booking/internal/domain"
	"booking/internal/service"
)

// DistanceResponse is the worker distance shown while tracking.
type DistanceResponse struct {
	DistanceKm float64 `json:"distance_km"`
	ETAMinutes int     `json:"eta_minutes"`
	ETALabel   string  `json:"eta_label"`
}

// BreakdownResponse is the final price of a job.
type BreakdownResponse struct {
	BasePrice       float64 `json:"base_price"`
	ServiceCharge   float64 `json:"service_charge"`
	TransportFee    float64 `json:"transport_fee"`
	Total           float64 `json:"total"`
	WorkerEarnings  float64 `json:"worker_earnings"`
	PricingType     string  `json:"pricing_type"`
	DurationSeconds int64   `json:"duration_seconds"`
	Estimated       bool    `json:"estimated,omitempty"`
}

// CoordinatorResponse is the rating and payment progress of a session.
type CoordinatorResponse struct {
	RatingPromptOpen bool               `json:"rating_prompt_open"`
	RatingSubmitted  bool               `json:"rating_submitted"`
	BreakdownShown   bool               `json:"breakdown_shown"`
	PaymentConfirmed bool               `json:"payment_confirmed"`
	Cancelled        bool               `json:"cancelled"`
	Breakdown        *BreakdownResponse `json:"breakdown,omitempty"`
}

// SessionResponse is the HTTP response for session operations.
type SessionResponse struct {
	SessionID      string              `json:"session_id"`
	BookingID      string              `json:"booking_id"`
	DeviceID       string              `json:"device_id"`
	Status         string              `json:"status"`
	Address        string              `json:"address,omitempty"`
	Tracking       bool                `json:"tracking"`
	Locating       bool                `json:"locating"`
	Distance       *DistanceResponse   `json:"distance,omitempty"`
	TimerRunning   bool                `json:"timer_running"`
	TimerText      string              `json:"timer_text,omitempty"`
	ElapsedSeconds int64               `json:"elapsed_seconds"`
	Coordinator    CoordinatorResponse `json:"coordinator"`
	OpenResources  int                 `json:"open_resources"`
}

// EventMessage is a session event pushed over the websocket.
type EventMessage struct {
	Type           string             `json:"type"`
	BookingID      string             `json:"booking_id"`
	Status         string             `json:"status,omitempty"`
	Distance       *DistanceResponse  `json:"distance,omitempty"`
	Locating       bool               `json:"locating,omitempty"`
	TimerText      string             `json:"timer_text,omitempty"`
	ElapsedSeconds int64              `json:"elapsed_seconds,omitempty"`
	Breakdown      *BreakdownResponse `json:"breakdown,omitempty"`
	Message        string             `json:"message,omitempty"`
	At             string             `json:"at"`
}

// BookingResponse is the HTTP response for booking operations.
type BookingResponse struct {
	BookingID     string             `json:"booking_id"`
	ClientID      string             `json:"client_id"`
	WorkerID      string             `json:"worker_id,omitempty"`
	Status        string             `json:"status"`
	PaymentStatus string             `json:"payment_status"`
	ScheduledDate string             `json:"scheduled_date"`
	Address       string             `json:"address,omitempty"`
	StartedAt     string             `json:"started_at,omitempty"`
	EndedAt       string             `json:"ended_at,omitempty"`
	FinalPricing  *BreakdownResponse `json:"final_pricing,omitempty"`
	CancelReason  string             `json:"cancel_reason,omitempty"`
}

func toDistance(d *domain.DistanceEstimate) *DistanceResponse {
	if d == nil {
		return nil
	}
	return &DistanceResponse{DistanceKm: d.DistanceKm, ETAMinutes: d.ETAMinutes, ETALabel: d.ETALabel}
}

// toBreakdown renders amounts rounded to cents.
func toBreakdown(b *domain.PricingBreakdown) *BreakdownResponse {
	if b == nil {
		return nil
	}
	r := b.Rounded()
	return &BreakdownResponse{
		BasePrice:       r.BasePrice,
		ServiceCharge:   r.ServiceCharge,
		TransportFee:    r.TransportFee,
		Total:           r.Total,
		WorkerEarnings:  r.WorkerEarnings,
		PricingType:     string(r.PricingType),
		DurationSeconds: r.DurationSeconds,
	}
}

func toSessionResponse(st service.SessionState) SessionResponse {
	return SessionResponse{
		SessionID:      st.ID,
		BookingID:      st.BookingID,
		DeviceID:       st.DeviceID,
		Status:         string(st.Status),
		Address:        st.Address,
		Tracking:       st.Tracking,
		Locating:       st.Locating,
		Distance:       toDistance(st.Distance),
		TimerRunning:   st.TimerRunning,
		TimerText:      st.TimerText,
		ElapsedSeconds: st.ElapsedSeconds,
		Coordinator: CoordinatorResponse{
			RatingPromptOpen: st.Coordinator.RatingPromptOpen,
			RatingSubmitted:  st.Coordinator.RatingSubmitted,
			BreakdownShown:   st.Coordinator.BreakdownShown,
			PaymentConfirmed: st.Coordinator.PaymentConfirmed,
			Cancelled:        st.Coordinator.Cancelled,
			Breakdown:        toBreakdown(st.Coordinator.Breakdown),
		},
		OpenResources: st.OpenResources,
	}
}

func toEventMessage(e service.Event) EventMessage {
	return EventMessage{
		Type:           string(e.Type),
		BookingID:      e.BookingID,
		Status:         string(e.Status),
		Distance:       toDistance(e.Distance),
		Locating:       e.Locating,
		TimerText:      e.TimerText,
		ElapsedSeconds: e.ElapsedSeconds,
		Breakdown:      toBreakdown(e.Breakdown),
		Message:        e.Message,
		At:             e.At.Format(timeLayout),
	}
}

func toBookingResponse(b *domain.Booking) BookingResponse {
	resp := BookingResponse{
		BookingID:     b.ID,
		ClientID:      b.ClientID,
		WorkerID:      b.WorkerID,
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		ScheduledDate: b.ScheduledDate.Format(timeLayout),
		Address:       b.Location.Address,
		FinalPricing:  toBreakdown(b.FinalPricing),
		CancelReason:  b.CancelReason,
	}
	if !b.JobTimer.StartedAt.IsZero() {
		resp.StartedAt = b.JobTimer.StartedAt.Format(timeLayout)
	}
	if !b.JobTimer.EndedAt.IsZero() {
		resp.EndedAt = b.JobTimer.EndedAt.Format(timeLayout)
	}
	return resp
}
