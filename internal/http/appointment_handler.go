package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rafast/vox-med-app/internal/application"
	"github.com/rafast/vox-med-app/internal/scheduler"
)

type appointmentService interface {
	CreateAppointment(ctx context.Context, params application.CreateAppointmentParams) (scheduler.Appointment, error)
	UpdateAppointment(ctx context.Context, params application.UpdateAppointmentParams) (scheduler.Appointment, error)
	DeleteAppointment(ctx context.Context, principal application.Principal, appointmentID string) error
	GetAppointment(ctx context.Context, appointmentID string) (scheduler.Appointment, error)
	ListAppointments(ctx context.Context, params application.ListAppointmentsParams) (application.AppointmentPage, error)
	UpcomingForDoctor(ctx context.Context, doctorID string) ([]scheduler.Appointment, error)
	UpcomingForPatient(ctx context.Context, patientID string) ([]scheduler.Appointment, error)
	TodayForDoctor(ctx context.Context, doctorID string) ([]scheduler.Appointment, error)
	Pending(ctx context.Context) ([]scheduler.Appointment, error)
	Confirm(ctx context.Context, principal application.Principal, appointmentID string) (scheduler.Appointment, error)
	Cancel(ctx context.Context, principal application.Principal, appointmentID, reason string) (scheduler.Appointment, error)
	Start(ctx context.Context, principal application.Principal, appointmentID string) (scheduler.Appointment, error)
	Complete(ctx context.Context, principal application.Principal, appointmentID string, notes scheduler.CompletionNotes) (scheduler.Appointment, error)
	MarkNoShow(ctx context.Context, principal application.Principal, appointmentID string) (scheduler.Appointment, error)
	Reschedule(ctx context.Context, principal application.Principal, appointmentID string, newDateTime time.Time) (scheduler.Appointment, error)
	AddSymptoms(ctx context.Context, principal application.Principal, appointmentID, symptoms string) (scheduler.Appointment, error)
	UpdateLocation(ctx context.Context, principal application.Principal, appointmentID string, location *string, isOnline bool) (scheduler.Appointment, error)
}

// AppointmentHandler serves /appointments and the per-doctor and per-patient
// appointment queries. Instants are rendered in the clinic location.
type AppointmentHandler struct {
	service   appointmentService
	location  *time.Location
	responder responder
}

func NewAppointmentHandler(service appointmentService, location *time.Location, logger zerolog.Logger) *AppointmentHandler {
	if location == nil {
		location = time.UTC
	}
	return &AppointmentHandler{service: service, location: location, responder: newResponder(logger)}
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req appointmentRequest
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
	appt, err := h.service.CreateAppointment(r.Context(), application.CreateAppointmentParams{Principal: principal, Input: input})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, h.toDTO(appt))
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.render(w, r)(h.service.GetAppointment(r.Context(), r.PathValue("id")))
}

// Update applies a partial edit. Omitted descriptive fields keep their
// current values.
func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req appointmentUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.badRequest(r.Context(), w, err)
		return
	}
	errs := fieldErrors{}
	params := application.UpdateAppointmentParams{
		AppointmentID:   r.PathValue("id"),
		Revision:        req.Revision,
		DurationMinutes: req.DurationMinutes,
	}
	params.Principal, _ = PrincipalFromContext(r.Context())
	if req.DateTime != nil {
		at := errs.instant("appointment_date_time", *req.DateTime)
		params.DateTime = &at
	}
	if req.Type != nil {
		if _, err := scheduler.ParseAppointmentType(*req.Type); err != nil {
			errs.add("type", "appointment type is invalid")
		}
	}
	if err := errs.err(); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	if req.hasDetails() {
		current, err := h.service.GetAppointment(r.Context(), params.AppointmentID)
		if err != nil {
			h.responder.handleServiceError(r.Context(), w, err)
			return
		}
		details := req.mergeDetails(current)
		params.Details = &details
		if params.Revision == 0 {
			params.Revision = current.Revision
		}
	}

	h.render(w, r)(h.service.UpdateAppointment(r.Context(), params))
}

func (h *AppointmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.DeleteAppointment(r.Context(), principal, r.PathValue("id")); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// List serves GET /appointments with doctor, patient, status and range
// filters.
func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	params := application.ListAppointmentsParams{
		DoctorID:  q.str("doctor_id"),
		PatientID: q.str("patient_id"),
		Statuses:  q.statuses("status"),
		From:      q.instantOrDate("from", h.location),
		To:        q.instantOrDate("to", h.location),
		Page:      q.integer("page"),
		PageSize:  q.integer("page_size"),
	}
	if err := q.err(); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	page, err := h.service.ListAppointments(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, appointmentListResponse{
		Items:    h.toDTOs(page.Appointments),
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	})
}

func (h *AppointmentHandler) Pending(w http.ResponseWriter, r *http.Request) {
	h.renderList(w, r)(h.service.Pending(r.Context()))
}

func (h *AppointmentHandler) UpcomingForDoctor(w http.ResponseWriter, r *http.Request) {
	h.renderList(w, r)(h.service.UpcomingForDoctor(r.Context(), r.PathValue("doctorId")))
}

func (h *AppointmentHandler) TodayForDoctor(w http.ResponseWriter, r *http.Request) {
	h.renderList(w, r)(h.service.TodayForDoctor(r.Context(), r.PathValue("doctorId")))
}

func (h *AppointmentHandler) UpcomingForPatient(w http.ResponseWriter, r *http.Request) {
	h.renderList(w, r)(h.service.UpcomingForPatient(r.Context(), r.PathValue("patientId")))
}

func (h *AppointmentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	h.render(w, r)(h.service.Confirm(r.Context(), principal, r.PathValue("id")))
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.badRequest(r.Context(), w, err)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	h.render(w, r)(h.service.Cancel(r.Context(), principal, r.PathValue("id"), req.Reason))
}

func (h *AppointmentHandler) Start(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	h.render(w, r)(h.service.Start(r.Context(), principal, r.PathValue("id")))
}

// Complete accepts an optional body with diagnosis, treatment and notes.
func (h *AppointmentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			h.responder.badRequest(r.Context(), w, err)
			return
		}
	}
	principal, _ := PrincipalFromContext(r.Context())
	h.render(w, r)(h.service.Complete(r.Context(), principal, r.PathValue("id"), scheduler.CompletionNotes{
		Diagnosis: req.Diagnosis,
		Treatment: req.Treatment,
		Notes:     req.Notes,
	}))
}

func (h *AppointmentHandler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	h.render(w, r)(h.service.MarkNoShow(r.Context(), principal, r.PathValue("id")))
}

func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.badRequest(r.Context(), w, err)
		return
	}
	errs := fieldErrors{}
	at := errs.instant("new_date_time", req.NewDateTime)
	if err := errs.err(); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	h.render(w, r)(h.service.Reschedule(r.Context(), principal, r.PathValue("id"), at))
}

func (h *AppointmentHandler) AddSymptoms(w http.ResponseWriter, r *http.Request) {
	var req symptomsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.badRequest(r.Context(), w, err)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	h.render(w, r)(h.service.AddSymptoms(r.Context(), principal, r.PathValue("id"), req.Symptoms))
}

func (h *AppointmentHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.badRequest(r.Context(), w, err)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	h.render(w, r)(h.service.UpdateLocation(r.Context(), principal, r.PathValue("id"), req.Location, req.IsOnline))
}

func (h *AppointmentHandler) render(w http.ResponseWriter, r *http.Request) func(scheduler.Appointment, error) {
	return func(appt scheduler.Appointment, err error) {
		if err != nil {
			h.responder.handleServiceError(r.Context(), w, err)
			return
		}
		h.responder.writeJSON(r.Context(), w, http.StatusOK, h.toDTO(appt))
	}
}

func (h *AppointmentHandler) renderList(w http.ResponseWriter, r *http.Request) func([]scheduler.Appointment, error) {
	return func(appts []scheduler.Appointment, err error) {
		if err != nil {
			h.responder.handleServiceError(r.Context(), w, err)
			return
		}
		h.responder.writeJSON(r.Context(), w, http.StatusOK, appointmentListResponse{
			Items: h.toDTOs(appts),
			Total: len(appts),
		})
	}
}

type appointmentRequest struct {
	DoctorID            string  `json:"doctor_id"`
	PatientID           string  `json:"patient_id"`
	ScheduleID          *string `json:"schedule_id"`
	DateTime            string  `json:"appointment_date_time"`
	DurationMinutes     int     `json:"duration_minutes"`
	Type                string  `json:"type"`
	Reason              string  `json:"reason"`
	IsOnline            bool    `json:"is_online"`
	Location            *string `json:"location"`
	RequireConfirmation bool    `json:"require_confirmation"`
}

func (req appointmentRequest) toInput() (application.AppointmentInput, error) {
	errs := fieldErrors{}
	input := application.AppointmentInput{
		DoctorID:            strings.TrimSpace(req.DoctorID),
		PatientID:           strings.TrimSpace(req.PatientID),
		ScheduleID:          req.ScheduleID,
		DateTime:            errs.instant("appointment_date_time", req.DateTime),
		DurationMinutes:     req.DurationMinutes,
		Reason:              req.Reason,
		IsOnline:            req.IsOnline,
		Location:            req.Location,
		RequireConfirmation: req.RequireConfirmation,
	}
	if strings.TrimSpace(req.Type) != "" {
		appointmentType, err := scheduler.ParseAppointmentType(req.Type)
		if err != nil {
			errs.add("type", "appointment type is invalid")
		}
		input.Type = appointmentType
	}
	return input, errs.err()
}

type appointmentUpdateRequest struct {
	DateTime        *string `json:"appointment_date_time"`
	DurationMinutes *int    `json:"duration_minutes"`
	Type            *string `json:"type"`
	Reason          *string `json:"reason"`
	Notes           *string `json:"notes"`
	Symptoms        *string `json:"symptoms"`
	Diagnosis       *string `json:"diagnosis"`
	Treatment       *string `json:"treatment"`
	Prescription    *string `json:"prescription"`
	Revision        int64   `json:"revision"`
}

func (req appointmentUpdateRequest) hasDetails() bool {
	return req.Type != nil || req.Reason != nil || req.Notes != nil || req.Symptoms != nil ||
		req.Diagnosis != nil || req.Treatment != nil || req.Prescription != nil
}

func (req appointmentUpdateRequest) mergeDetails(current scheduler.Appointment) scheduler.DetailsUpdate {
	pick := func(value *string, fallback string) string {
		if value != nil {
			return *value
		}
		return fallback
	}
	details := scheduler.DetailsUpdate{
		Type:         current.Type,
		Reason:       pick(req.Reason, current.Reason),
		Notes:        pick(req.Notes, current.Notes),
		Symptoms:     pick(req.Symptoms, current.Symptoms),
		Diagnosis:    pick(req.Diagnosis, current.Diagnosis),
		Treatment:    pick(req.Treatment, current.Treatment),
		Prescription: pick(req.Prescription, current.Prescription),
	}
	if req.Type != nil {
		details.Type, _ = scheduler.ParseAppointmentType(*req.Type)
	}
	return details
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type completeRequest struct {
	Diagnosis string `json:"diagnosis"`
	Treatment string `json:"treatment"`
	Notes     string `json:"notes"`
}

type rescheduleRequest struct {
	NewDateTime string `json:"new_date_time"`
}

type symptomsRequest struct {
	Symptoms string `json:"symptoms"`
}

type locationRequest struct {
	Location *string `json:"location"`
	IsOnline bool    `json:"is_online"`
}

type appointmentDTO struct {
	ID                 string  `json:"id"`
	DoctorID           string  `json:"doctor_id"`
	PatientID          string  `json:"patient_id"`
	ScheduleID         *string `json:"schedule_id,omitempty"`
	DateTime           string  `json:"appointment_date_time"`
	EndTime            string  `json:"end_time"`
	DurationMinutes    int     `json:"duration_minutes"`
	Status             string  `json:"status"`
	Type               string  `json:"type"`
	Reason             string  `json:"reason,omitempty"`
	Notes              string  `json:"notes,omitempty"`
	Symptoms           string  `json:"symptoms,omitempty"`
	Diagnosis          string  `json:"diagnosis,omitempty"`
	Treatment          string  `json:"treatment,omitempty"`
	Prescription       string  `json:"prescription,omitempty"`
	IsOnline           bool    `json:"is_online"`
	Location           *string `json:"location,omitempty"`
	ConfirmedAt        *string `json:"confirmed_at,omitempty"`
	CancelledAt        *string `json:"cancelled_at,omitempty"`
	CancellationReason string  `json:"cancellation_reason,omitempty"`
	CompletedAt        *string `json:"completed_at,omitempty"`
	CreatedAt          string  `json:"created_at"`
	CreatedBy          string  `json:"created_by"`
	UpdatedAt          string  `json:"updated_at"`
	UpdatedBy          string  `json:"updated_by"`
	Revision           int64   `json:"revision"`
}

type appointmentListResponse struct {
	Items    []appointmentDTO `json:"items"`
	Total    int              `json:"total"`
	Page     int              `json:"page,omitempty"`
	PageSize int              `json:"page_size,omitempty"`
}

func (h *AppointmentHandler) toDTO(appt scheduler.Appointment) appointmentDTO {
	return appointmentDTO{
		ID:                 appt.ID,
		DoctorID:           appt.DoctorID,
		PatientID:          appt.PatientID,
		ScheduleID:         appt.ScheduleID,
		DateTime:           appt.DateTime.In(h.location).Format(time.RFC3339),
		EndTime:            appt.EndTime().In(h.location).Format(time.RFC3339),
		DurationMinutes:    appt.DurationMinutes,
		Status:             string(appt.Status),
		Type:               string(appt.Type),
		Reason:             appt.Reason,
		Notes:              appt.Notes,
		Symptoms:           appt.Symptoms,
		Diagnosis:          appt.Diagnosis,
		Treatment:          appt.Treatment,
		Prescription:       appt.Prescription,
		IsOnline:           appt.IsOnline,
		Location:           appt.Location,
		ConfirmedAt:        formatOptionalInstant(appt.ConfirmedAt),
		CancelledAt:        formatOptionalInstant(appt.CancelledAt),
		CancellationReason: appt.CancellationReason,
		CompletedAt:        formatOptionalInstant(appt.CompletedAt),
		CreatedAt:          formatInstant(appt.CreatedAt),
		CreatedBy:          appt.CreatedBy,
		UpdatedAt:          formatInstant(appt.UpdatedAt),
		UpdatedBy:          appt.UpdatedBy,
		Revision:           appt.Revision,
	}
}

func (h *AppointmentHandler) toDTOs(appts []scheduler.Appointment) []appointmentDTO {
	out := make([]appointmentDTO, 0, len(appts))
	for _, appt := range appts {
		out = append(out, h.toDTO(appt))
	}
	return out
}
