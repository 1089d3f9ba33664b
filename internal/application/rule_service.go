package application

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rafast/vox-med-app/internal/persistence"
	"github.com/rafast/vox-med-app/internal/scheduler"
)

const ruleResource = "Schedule rule"

// ScheduleRuleService manages doctors' recurring weekly rules.
type ScheduleRuleService struct {
	deps Dependencies
}

// NewScheduleRuleService wires dependencies for rule operations.
func NewScheduleRuleService(deps Dependencies) *ScheduleRuleService {
	return &ScheduleRuleService{deps: deps.withDefaults()}
}

func (s *ScheduleRuleService) loggerWith(ctx context.Context, operation string) zerolog.Logger {
	return serviceLogger(ctx, s.deps.Logger, "ScheduleRuleService", operation)
}

// CreateRule validates the rule and stores it unless it overlaps another
// active rule of the same doctor and weekday.
func (s *ScheduleRuleService) CreateRule(ctx context.Context, params CreateRuleParams) (rule scheduler.ScheduleRule, err error) {
	if s == nil {
		err = fmt.Errorf("ScheduleRuleService is nil")
		return
	}
	input := params.Input
	doctorID := strings.TrimSpace(input.DoctorID)
	if doctorID == "" && params.Principal.Role == RoleDoctor {
		doctorID = params.Principal.ActorID
	}

	logger := s.loggerWith(ctx, "CreateRule")
	logger = logger.With().Str("doctor_id", doctorID).Logger()
	defer func() {
		if err != nil {
			logFailure(&logger, err, "create schedule rule failed")
			return
		}
		logger.Info().Str("rule_id", rule.ID).Int64("revision", rule.Revision).Msg("schedule rule created")
	}()

	if doctorID != "" && !params.Principal.CanManageDoctor(doctorID) {
		err = ErrUnauthorized
		return
	}

	candidate, err := scheduler.NewScheduleRule(s.deps.IDGenerator(), scheduler.RuleParams{
		DoctorID:      doctorID,
		DayOfWeek:     input.DayOfWeek,
		Start:         input.Start,
		End:           input.End,
		SlotMinutes:   intOr(input.SlotMinutes, scheduler.DefaultSlotMinutes),
		BreakMinutes:  intOr(input.BreakMinutes, scheduler.DefaultBreakMinutes),
		EffectiveFrom: input.EffectiveFrom,
		EffectiveTo:   input.EffectiveTo,
	}, s.deps.Now(), params.Principal.ActorID)
	if err != nil {
		return
	}

	err = s.deps.Store.Transactor.WithinDoctorLock(ctx, doctorID, func(ctx context.Context) error {
		if err := s.ensureNoOverlap(ctx, candidate); err != nil {
			return err
		}
		persisted, err := s.deps.Store.Rules.CreateRule(ctx, candidate)
		if err != nil {
			return err
		}
		rule = persisted
		return nil
	})
	if err != nil {
		err = mapRepoError(ruleResource, candidate.ID, "create schedule rule", err)
		return
	}

	s.committed(scheduler.EventRuleCreated, rule)
	return
}

// UpdateRule replaces the weekly window and effective dates of a rule.
func (s *ScheduleRuleService) UpdateRule(ctx context.Context, params UpdateRuleParams) (rule scheduler.ScheduleRule, err error) {
	if s == nil {
		err = fmt.Errorf("ScheduleRuleService is nil")
		return
	}
	logger := s.loggerWith(ctx, "UpdateRule")
	logger = logger.With().Str("rule_id", params.RuleID).Logger()
	defer func() {
		if err != nil {
			logFailure(&logger, err, "update schedule rule failed")
			return
		}
		logger.Info().Int64("revision", rule.Revision).Msg("schedule rule updated")
	}()

	input := params.Input
	rule, err = s.mutate(ctx, params.Principal, params.RuleID, params.Revision, func(r *scheduler.ScheduleRule) error {
		at, actor := s.deps.Now(), params.Principal.ActorID
		vErr := &scheduler.ValidationError{}
		if err := r.Update(input.DayOfWeek, input.Start, input.End,
			intOr(input.SlotMinutes, r.SlotMinutes), intOr(input.BreakMinutes, r.BreakMinutes), at, actor); err != nil {
			mergeDomain(vErr, err)
		}
		if err := r.SetEffectiveDates(input.EffectiveFrom, input.EffectiveTo, at, actor); err != nil {
			mergeDomain(vErr, err)
		}
		return vErr.Err()
	})
	if err != nil {
		return
	}
	s.committed(scheduler.EventRuleUpdated, rule)
	return
}

// ActivateRule re-checks overlap, because an inactive rule may overlap an
// active one.
func (s *ScheduleRuleService) ActivateRule(ctx context.Context, principal Principal, ruleID string) (scheduler.ScheduleRule, error) {
	return s.toggle(ctx, principal, ruleID, true)
}

func (s *ScheduleRuleService) DeactivateRule(ctx context.Context, principal Principal, ruleID string) (scheduler.ScheduleRule, error) {
	return s.toggle(ctx, principal, ruleID, false)
}

func (s *ScheduleRuleService) toggle(ctx context.Context, principal Principal, ruleID string, active bool) (rule scheduler.ScheduleRule, err error) {
	if s == nil {
		err = fmt.Errorf("ScheduleRuleService is nil")
		return
	}
	operation, eventType := "DeactivateRule", scheduler.EventRuleDeactivated
	if active {
		operation, eventType = "ActivateRule", scheduler.EventRuleActivated
	}
	logger := s.loggerWith(ctx, operation)
	logger = logger.With().Str("rule_id", ruleID).Logger()
	defer func() {
		if err != nil {
			logFailure(&logger, err, "toggle schedule rule failed")
			return
		}
		logger.Info().Bool("active", rule.Active).Msg("schedule rule toggled")
	}()

	rule, err = s.mutate(ctx, principal, ruleID, 0, func(r *scheduler.ScheduleRule) error {
		if active {
			r.Activate(s.deps.Now(), principal.ActorID)
		} else {
			r.Deactivate(s.deps.Now(), principal.ActorID)
		}
		return nil
	})
	if err != nil {
		return
	}
	s.committed(eventType, rule)
	return
}

// DeleteRule soft-deletes a rule. It stops generating slots immediately.
func (s *ScheduleRuleService) DeleteRule(ctx context.Context, principal Principal, ruleID string) (err error) {
	if s == nil {
		return fmt.Errorf("ScheduleRuleService is nil")
	}
	logger := s.loggerWith(ctx, "DeleteRule")
	logger = logger.With().Str("rule_id", ruleID).Logger()
	defer func() {
		if err != nil {
			logFailure(&logger, err, "delete schedule rule failed")
			return
		}
		logger.Info().Msg("schedule rule deleted")
	}()

	rule, err := s.mutate(ctx, principal, ruleID, 0, func(r *scheduler.ScheduleRule) error {
		r.Delete(s.deps.Now(), principal.ActorID)
		return nil
	})
	if err != nil {
		return err
	}
	s.committed(scheduler.EventRuleDeleted, rule)
	return nil
}

// GetRule hides soft-deleted rules.
func (s *ScheduleRuleService) GetRule(ctx context.Context, ruleID string) (scheduler.ScheduleRule, error) {
	if s == nil {
		return scheduler.ScheduleRule{}, fmt.Errorf("ScheduleRuleService is nil")
	}
	rule, err := s.deps.Store.Rules.GetRule(ctx, ruleID)
	if err != nil {
		return scheduler.ScheduleRule{}, mapRepoError(ruleResource, ruleID, "get schedule rule", err)
	}
	if rule.IsDeleted() {
		return scheduler.ScheduleRule{}, &NotFoundError{Resource: ruleResource, ID: ruleID}
	}
	return rule, nil
}

// ListRules returns one page of rules ordered by weekday then start time,
// together with the total number of matches.
func (s *ScheduleRuleService) ListRules(ctx context.Context, params ListRulesParams) (RulePage, error) {
	if s == nil {
		return RulePage{}, fmt.Errorf("ScheduleRuleService is nil")
	}
	vErr := &ValidationError{}
	if params.Page < 0 {
		vErr.add("page", "page must not be negative")
	}
	if params.PageSize < 0 || params.PageSize > maxPageSize {
		vErr.add("page_size", fmt.Sprintf("page size must be between 0 and %d", maxPageSize))
	}
	if params.From != nil && params.To != nil && params.To.Before(*params.From) {
		vErr.add("to", "end date must not precede start date")
	}
	if vErr.HasErrors() {
		return RulePage{}, vErr
	}

	rules, total, err := s.deps.Store.Rules.ListRules(ctx, persistence.RuleFilter{
		DoctorID:       strings.TrimSpace(params.DoctorID),
		Active:         params.Active,
		IncludeDeleted: params.IncludeDeleted,
		EffectiveFrom:  params.From,
		EffectiveTo:    params.To,
		Pagination:     persistence.Pagination{Page: params.Page, PageSize: params.PageSize},
	})
	if err != nil {
		return RulePage{}, mapRepoError(ruleResource, "", "list schedule rules", err)
	}
	return RulePage{Rules: rules, Total: total, Page: max(params.Page, 1), PageSize: params.PageSize}, nil
}

// RulesForDate returns the active rules of doctorID that are effective on
// date, ordered by start time.
func (s *ScheduleRuleService) RulesForDate(ctx context.Context, doctorID string, date scheduler.Date) ([]scheduler.ScheduleRule, error) {
	if s == nil {
		return nil, fmt.Errorf("ScheduleRuleService is nil")
	}
	return rulesForDate(ctx, s.deps.Store.Rules, doctorID, date)
}

// mutate loads a rule, applies change under the doctor lock and stores it
// with compare-and-swap. Active rules are checked for overlap first.
func (s *ScheduleRuleService) mutate(ctx context.Context, principal Principal, ruleID string, revision int64, change func(*scheduler.ScheduleRule) error) (scheduler.ScheduleRule, error) {
	current, err := s.GetRule(ctx, ruleID)
	if err != nil {
		return scheduler.ScheduleRule{}, err
	}
	if !principal.CanManageDoctor(current.DoctorID) {
		return scheduler.ScheduleRule{}, ErrUnauthorized
	}

	var updated scheduler.ScheduleRule
	err = s.deps.Store.Transactor.WithinDoctorLock(ctx, current.DoctorID, func(ctx context.Context) error {
		rule, err := s.deps.Store.Rules.GetRule(ctx, ruleID)
		if err != nil {
			return err
		}
		if rule.IsDeleted() {
			return &NotFoundError{Resource: ruleResource, ID: ruleID}
		}
		if revision != 0 && revision != rule.Revision {
			return persistence.ErrStaleRevision
		}
		if err := change(&rule); err != nil {
			return err
		}
		if rule.Active && !rule.IsDeleted() {
			if err := s.ensureNoOverlap(ctx, rule); err != nil {
				return err
			}
		}
		updated, err = s.deps.Store.Rules.UpdateRule(ctx, rule)
		return err
	})
	if err != nil {
		return scheduler.ScheduleRule{}, mapRepoError(ruleResource, ruleID, "update schedule rule", err)
	}
	return updated, nil
}

func (s *ScheduleRuleService) ensureNoOverlap(ctx context.Context, rule scheduler.ScheduleRule) error {
	if !rule.Active {
		return nil
	}
	conflictID, found, err := s.deps.Store.Rules.HasConflictingRule(ctx, rule.DoctorID, rule.DayOfWeek, rule.Window(), rule.ID)
	if err != nil {
		return err
	}
	if found {
		return &ConflictError{
			Resource:      ruleResource,
			ConflictingID: conflictID,
			Message:       fmt.Sprintf("Schedule rule overlaps an existing rule on %s", rule.DayOfWeek),
		}
	}
	return nil
}

func (s *ScheduleRuleService) committed(eventType scheduler.EventType, rule scheduler.ScheduleRule) {
	s.deps.invalidate(rule.DoctorID)
	s.deps.publish(scheduler.RuleEvent(eventType, rule))
}

func rulesForDate(ctx context.Context, repo persistence.ScheduleRuleRepository, doctorID string, date scheduler.Date) ([]scheduler.ScheduleRule, error) {
	rules, err := repo.FindRulesForDay(ctx, doctorID, date.Weekday())
	if err != nil {
		return nil, mapRepoError(ruleResource, "", "find schedule rules", err)
	}
	effective := rules[:0]
	for _, rule := range rules {
		if rule.IsEffectiveOn(date) {
			effective = append(effective, rule)
		}
	}
	sort.Slice(effective, func(i, j int) bool {
		return effective[i].Start.Before(effective[j].Start)
	})
	return effective, nil
}

const maxPageSize = 200

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

// mergeDomain folds a domain validation error into vErr. Other errors are
// recorded under "rule".
func mergeDomain(vErr *scheduler.ValidationError, err error) {
	if dErr, ok := err.(*scheduler.ValidationError); ok {
		vErr.Merge(dErr)
		return
	}
	vErr.Add("rule", err.Error())
}
