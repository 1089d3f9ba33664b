package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rafast/vox-med-app/internal/application"
	"github.com/rafast/vox-med-app/internal/scheduler"
)

type exceptionService interface {
	CreateException(ctx context.Context, params application.CreateExceptionParams) (scheduler.ScheduleException, error)
	UpdateException(ctx context.Context, params application.UpdateExceptionParams) (scheduler.ScheduleException, error)
	DeleteException(ctx context.Context, principal application.Principal, exceptionID string) error
	GetException(ctx context.Context, exceptionID string) (scheduler.ScheduleException, error)
	ListExceptions(ctx context.Context, doctorID string, from, to *scheduler.Date) ([]scheduler.ScheduleException, error)
}

// ExceptionHandler serves /schedule-exceptions.
type ExceptionHandler struct {
	service   exceptionService
	responder responder
}

func NewExceptionHandler(service exceptionService, logger zerolog.Logger) *ExceptionHandler {
	return &ExceptionHandler{service: service, responder: newResponder(logger)}
}

func (h *ExceptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req exceptionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.badRequest(r.Context(), w, err)
		return
	}
	input, err := req.toInput()
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	exception, err := h.service.CreateException(r.Context(), application.CreateExceptionParams{Principal: principal, Input: input})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toExceptionDTO(exception))
}

func (h *ExceptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	exception, err := h.service.GetException(r.Context(), r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toExceptionDTO(exception))
}

func (h *ExceptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req exceptionUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.badRequest(r.Context(), w, err)
		return
	}
	errs := fieldErrors{}
	start := errs.optionalTimeOfDay("start_time", req.StartTime)
	end := errs.optionalTimeOfDay("end_time", req.EndTime)
	if err := errs.err(); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	exception, err := h.service.UpdateException(r.Context(), application.UpdateExceptionParams{
		Principal:   principal,
		ExceptionID: r.PathValue("id"),
		Revision:    req.Revision,
		Reason:      req.Reason,
		Start:       start,
		End:         end,
		SlotMinutes: req.SlotMinutes,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toExceptionDTO(exception))
}

func (h *ExceptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.DeleteException(r.Context(), principal, r.PathValue("id")); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// ListForDoctor serves GET /doctors/{doctorId}/schedule-exceptions?from=&to=.
func (h *ExceptionHandler) ListForDoctor(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	from, to := q.date("from"), q.date("to")
	if err := q.err(); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	exceptions, err := h.service.ListExceptions(r.Context(), r.PathValue("doctorId"), from, to)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	items := make([]exceptionDTO, 0, len(exceptions))
	for _, exception := range exceptions {
		items = append(items, toExceptionDTO(exception))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, exceptionListResponse{Items: items})
}

type exceptionRequest struct {
	DoctorID    string  `json:"doctor_id"`
	Date        string  `json:"date"`
	Type        string  `json:"type"`
	StartTime   *string `json:"start_time"`
	EndTime     *string `json:"end_time"`
	SlotMinutes *int    `json:"slot_duration_minutes"`
	Reason      string  `json:"reason"`
	IsRecurring bool    `json:"is_recurring"`
}

func (req exceptionRequest) toInput() (application.ExceptionInput, error) {
	errs := fieldErrors{}
	input := application.ExceptionInput{
		DoctorID:    strings.TrimSpace(req.DoctorID),
		Date:        errs.date("date", req.Date),
		Start:       errs.optionalTimeOfDay("start_time", req.StartTime),
		End:         errs.optionalTimeOfDay("end_time", req.EndTime),
		SlotMinutes: req.SlotMinutes,
		Reason:      req.Reason,
		Recurring:   req.IsRecurring,
	}
	exceptionType, err := scheduler.ParseExceptionType(req.Type)
	if err != nil {
		errs.add("type", "type must be one of unavailable, custom_hours, vacation, conference, emergency, holiday")
	}
	input.Type = exceptionType
	return input, errs.err()
}

type exceptionUpdateRequest struct {
	Reason      *string `json:"reason"`
	StartTime   *string `json:"start_time"`
	EndTime     *string `json:"end_time"`
	SlotMinutes *int    `json:"slot_duration_minutes"`
	Revision    int64   `json:"revision"`
}

type exceptionDTO struct {
	ID                    string  `json:"id"`
	DoctorID              string  `json:"doctor_id"`
	Date                  string  `json:"date"`
	Type                  string  `json:"type"`
	StartTime             *string `json:"start_time,omitempty"`
	EndTime               *string `json:"end_time,omitempty"`
	SlotMinutes           *int    `json:"slot_duration_minutes,omitempty"`
	Reason                string  `json:"reason,omitempty"`
	IsRecurring           bool    `json:"is_recurring"`
	IsAvailable           bool    `json:"is_available"`
	HasCustomWorkingHours bool    `json:"has_custom_working_hours"`
	CreatedAt             string  `json:"created_at"`
	CreatedBy             string  `json:"created_by"`
	UpdatedAt             string  `json:"updated_at"`
	UpdatedBy             string  `json:"updated_by"`
	Revision              int64   `json:"revision"`
}

type exceptionListResponse struct {
	Items []exceptionDTO `json:"items"`
}

func toExceptionDTO(exception scheduler.ScheduleException) exceptionDTO {
	return exceptionDTO{
		ID:                    exception.ID,
		DoctorID:              exception.DoctorID,
		Date:                  exception.Date.String(),
		Type:                  string(exception.Type),
		StartTime:             formatOptionalTime(exception.Start),
		EndTime:               formatOptionalTime(exception.End),
		SlotMinutes:           exception.SlotMinutes,
		Reason:                exception.Reason,
		IsRecurring:           exception.Recurring,
		IsAvailable:           exception.IsAvailable(),
		HasCustomWorkingHours: exception.HasCustomWorkingHours(),
		CreatedAt:             formatInstant(exception.CreatedAt),
		CreatedBy:             exception.CreatedBy,
		UpdatedAt:             formatInstant(exception.UpdatedAt),
		UpdatedBy:             exception.UpdatedBy,
		Revision:              exception.Revision,
	}
}
