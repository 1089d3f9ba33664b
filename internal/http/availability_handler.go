package http

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/rafast/vox-med-app/internal/application"
	"github.com/rafast/vox-med-app/internal/scheduler"
)

type availabilityService interface {
	GetAvailableSlots(ctx context.Context, doctorID string, date scheduler.Date) ([]scheduler.Slot, error)
	GetAvailabilityCalendar(ctx context.Context, doctorID string, from, to scheduler.Date) ([]application.DayAvailability, error)
}

// AvailabilityHandler serves slot queries for a doctor.
type AvailabilityHandler struct {
	service   availabilityService
	responder responder
}

func NewAvailabilityHandler(service availabilityService, logger zerolog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{service: service, responder: newResponder(logger)}
}

// Slots serves GET /doctors/{doctorId}/available-slots?date=YYYY-MM-DD.
func (h *AvailabilityHandler) Slots(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	date := q.requiredDate("date")
	if err := q.err(); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	slots, err := h.service.GetAvailableSlots(r.Context(), r.PathValue("doctorId"), date)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toDayDTO(date, slots))
}

// Calendar serves GET /doctors/{doctorId}/availability?from=&to=.
func (h *AvailabilityHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	from, to := q.requiredDate("from"), q.requiredDate("to")
	if err := q.err(); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	days, err := h.service.GetAvailabilityCalendar(r.Context(), r.PathValue("doctorId"), from, to)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]dayDTO, 0, len(days))
	for _, day := range days {
		out = append(out, toDayDTO(day.Date, day.Slots))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, calendarResponse{
		DoctorID: r.PathValue("doctorId"),
		Days:     out,
	})
}

type slotDTO struct {
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time"`
	TimeRange         string `json:"time_range"`
	DurationMinutes   int    `json:"duration_minutes"`
	IsAvailable       bool   `json:"is_available"`
	UnavailableReason string `json:"unavailable_reason,omitempty"`
}

type dayDTO struct {
	Date           string    `json:"date"`
	AvailableCount int       `json:"available_count"`
	Slots          []slotDTO `json:"slots"`
}

type calendarResponse struct {
	DoctorID string   `json:"doctor_id"`
	Days     []dayDTO `json:"days"`
}

func toDayDTO(date scheduler.Date, slots []scheduler.Slot) dayDTO {
	day := dayDTO{Date: date.String(), Slots: make([]slotDTO, 0, len(slots))}
	for _, slot := range slots {
		if slot.Available {
			day.AvailableCount++
		}
		day.Slots = append(day.Slots, slotDTO{
			StartTime:         slot.Start.String(),
			EndTime:           slot.End.String(),
			TimeRange:         slot.TimeRange(),
			DurationMinutes:   slot.DurationMinutes,
			IsAvailable:       slot.Available,
			UnavailableReason: slot.UnavailableReason,
		})
	}
	return day
}
