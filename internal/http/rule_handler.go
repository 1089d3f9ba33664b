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

type ruleService interface {
	CreateRule(ctx context.Context, params application.CreateRuleParams) (scheduler.ScheduleRule, error)
	UpdateRule(ctx context.Context, params application.UpdateRuleParams) (scheduler.ScheduleRule, error)
	ActivateRule(ctx context.Context, principal application.Principal, ruleID string) (scheduler.ScheduleRule, error)
	DeactivateRule(ctx context.Context, principal application.Principal, ruleID string) (scheduler.ScheduleRule, error)
	DeleteRule(ctx context.Context, principal application.Principal, ruleID string) error
	GetRule(ctx context.Context, ruleID string) (scheduler.ScheduleRule, error)
	ListRules(ctx context.Context, params application.ListRulesParams) (application.RulePage, error)
}

// RuleHandler serves /schedule-rules and the per-doctor rule listing.
type RuleHandler struct {
	service   ruleService
	responder responder
}

func NewRuleHandler(service ruleService, logger zerolog.Logger) *RuleHandler {
	return &RuleHandler{service: service, responder: newResponder(logger)}
}

func (h *RuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
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
	rule, err := h.service.CreateRule(r.Context(), application.CreateRuleParams{Principal: principal, Input: input})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toRuleDTO(rule))
}

func (h *RuleHandler) Get(w http.ResponseWriter, r *http.Request) {
	rule, err := h.service.GetRule(r.Context(), r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toRuleDTO(rule))
}

func (h *RuleHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
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
	rule, err := h.service.UpdateRule(r.Context(), application.UpdateRuleParams{
		Principal: principal,
		RuleID:    r.PathValue("id"),
		Revision:  req.Revision,
		Input:     input,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toRuleDTO(rule))
}

func (h *RuleHandler) Activate(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	h.renderRule(w, r)(h.service.ActivateRule(r.Context(), principal, r.PathValue("id")))
}

func (h *RuleHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	h.renderRule(w, r)(h.service.DeactivateRule(r.Context(), principal, r.PathValue("id")))
}

func (h *RuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.DeleteRule(r.Context(), principal, r.PathValue("id")); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// List serves GET /schedule-rules?doctor_id=&is_active=&page=&page_size=.
func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	params := application.ListRulesParams{
		DoctorID: q.str("doctor_id"),
		Active:   q.boolean("is_active"),
		Page:     q.integer("page"),
		PageSize: q.integer("page_size"),
	}
	if err := q.err(); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.list(w, r, params)
}

// ListForDoctor serves GET /doctors/{doctorId}/schedule-rules?active=&from=&to=.
func (h *RuleHandler) ListForDoctor(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	params := application.ListRulesParams{
		DoctorID: r.PathValue("doctorId"),
		Active:   q.boolean("active"),
		From:     q.date("from"),
		To:       q.date("to"),
	}
	if err := q.err(); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.list(w, r, params)
}

func (h *RuleHandler) list(w http.ResponseWriter, r *http.Request, params application.ListRulesParams) {
	page, err := h.service.ListRules(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	items := make([]ruleDTO, 0, len(page.Rules))
	for _, rule := range page.Rules {
		items = append(items, toRuleDTO(rule))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, ruleListResponse{
		Items:    items,
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	})
}

func (h *RuleHandler) renderRule(w http.ResponseWriter, r *http.Request) func(scheduler.ScheduleRule, error) {
	return func(rule scheduler.ScheduleRule, err error) {
		if err != nil {
			h.responder.handleServiceError(r.Context(), w, err)
			return
		}
		h.responder.writeJSON(r.Context(), w, http.StatusOK, toRuleDTO(rule))
	}
}

type ruleRequest struct {
	DoctorID      string  `json:"doctor_id"`
	DayOfWeek     *int    `json:"day_of_week"`
	StartTime     string  `json:"start_time"`
	EndTime       string  `json:"end_time"`
	SlotMinutes   *int    `json:"slot_duration_minutes"`
	BreakMinutes  *int    `json:"break_duration_minutes"`
	EffectiveFrom *string `json:"effective_from"`
	EffectiveTo   *string `json:"effective_to"`
	Revision      int64   `json:"revision"`
}

func (req ruleRequest) toInput() (application.RuleInput, error) {
	errs := fieldErrors{}
	input := application.RuleInput{
		DoctorID:      strings.TrimSpace(req.DoctorID),
		Start:         errs.timeOfDay("start_time", req.StartTime),
		End:           errs.timeOfDay("end_time", req.EndTime),
		SlotMinutes:   req.SlotMinutes,
		BreakMinutes:  req.BreakMinutes,
		EffectiveFrom: errs.optionalDate("effective_from", req.EffectiveFrom),
		EffectiveTo:   errs.optionalDate("effective_to", req.EffectiveTo),
	}
	if req.DayOfWeek == nil {
		errs.add("day_of_week", "day of week is required")
	} else {
		input.DayOfWeek = time.Weekday(*req.DayOfWeek)
	}
	return input, errs.err()
}

type ruleDTO struct {
	ID               string  `json:"id"`
	DoctorID         string  `json:"doctor_id"`
	DayOfWeek        int     `json:"day_of_week"`
	DayName          string  `json:"day_name"`
	StartTime        string  `json:"start_time"`
	EndTime          string  `json:"end_time"`
	SlotMinutes      int     `json:"slot_duration_minutes"`
	BreakMinutes     int     `json:"break_duration_minutes"`
	IsActive         bool    `json:"is_active"`
	EffectiveFrom    *string `json:"effective_from,omitempty"`
	EffectiveTo      *string `json:"effective_to,omitempty"`
	TotalSlotsPerDay int     `json:"total_slots_per_day"`
	CreatedAt        string  `json:"created_at"`
	CreatedBy        string  `json:"created_by"`
	UpdatedAt        string  `json:"updated_at"`
	UpdatedBy        string  `json:"updated_by"`
	Revision         int64   `json:"revision"`
}

type ruleListResponse struct {
	Items    []ruleDTO `json:"items"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

func toRuleDTO(rule scheduler.ScheduleRule) ruleDTO {
	return ruleDTO{
		ID:               rule.ID,
		DoctorID:         rule.DoctorID,
		DayOfWeek:        int(rule.DayOfWeek),
		DayName:          rule.DayOfWeek.String(),
		StartTime:        rule.Start.String(),
		EndTime:          rule.End.String(),
		SlotMinutes:      rule.SlotMinutes,
		BreakMinutes:     rule.BreakMinutes,
		IsActive:         rule.Active,
		EffectiveFrom:    formatOptionalDate(rule.EffectiveFrom),
		EffectiveTo:      formatOptionalDate(rule.EffectiveTo),
		TotalSlotsPerDay: rule.TotalSlotsPerDay(),
		CreatedAt:        formatInstant(rule.CreatedAt),
		CreatedBy:        rule.CreatedBy,
		UpdatedAt:        formatInstant(rule.UpdatedAt),
		UpdatedBy:        rule.UpdatedBy,
		Revision:         rule.Revision,
	}
}

func formatInstant(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalInstant(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatInstant(*t)
	return &s
}

func formatOptionalDate(d *scheduler.Date) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func formatOptionalTime(t *scheduler.TimeOfDay) *string {
	if t == nil {
		return nil
	}
	s := t.String()
	return &s
}
