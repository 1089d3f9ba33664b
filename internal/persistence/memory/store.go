// Package memory provides an in-process persistence backend used by tests and
// the "memory" storage driver.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rafast/vox-med-app/internal/persistence"
	"github.com/rafast/vox-med-app/internal/scheduler"
)

// Store keeps every record in maps guarded by a single RWMutex. Doctor locks
// are separate mutexes so a locked doctor does not block reads.
type Store struct {
	mu           sync.RWMutex
	rules        map[string]scheduler.ScheduleRule
	exceptions   map[string]scheduler.ScheduleException
	appointments map[string]scheduler.Appointment
	actors       map[string]persistence.Actor

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		rules:        make(map[string]scheduler.ScheduleRule),
		exceptions:   make(map[string]scheduler.ScheduleException),
		appointments: make(map[string]scheduler.Appointment),
		actors:       make(map[string]persistence.Actor),
		locks:        make(map[string]*sync.Mutex),
	}
}

// Repositories exposes the store through the persistence contracts.
func (s *Store) Repositories() persistence.Store {
	return persistence.Store{
		Rules:        s,
		Exceptions:   s,
		Appointments: s,
		Actors:       s,
		Transactor:   s,
	}
}

// WithinDoctorLock runs fn while holding doctorID's mutex.
func (s *Store) WithinDoctorLock(ctx context.Context, doctorID string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.doctorLock(doctorID)
	lock.Lock()
	defer lock.Unlock()
	return fn(ctx)
}

func (s *Store) doctorLock(doctorID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[doctorID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[doctorID] = lock
	}
	return lock
}

// --- ScheduleRuleRepository ---

func (s *Store) CreateRule(ctx context.Context, rule scheduler.ScheduleRule) (scheduler.ScheduleRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[rule.ID]; ok {
		return scheduler.ScheduleRule{}, persistence.ErrDuplicate
	}
	if s.ruleOverlapLocked(rule) {
		return scheduler.ScheduleRule{}, persistence.ErrConflict
	}
	rule.Revision = 1
	s.rules[rule.ID] = cloneRule(rule)
	return cloneRule(rule), nil
}

func (s *Store) UpdateRule(ctx context.Context, rule scheduler.ScheduleRule) (scheduler.ScheduleRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rules[rule.ID]
	if !ok {
		return scheduler.ScheduleRule{}, persistence.ErrNotFound
	}
	if existing.Revision != rule.Revision {
		return scheduler.ScheduleRule{}, persistence.ErrStaleRevision
	}
	if s.ruleOverlapLocked(rule) {
		return scheduler.ScheduleRule{}, persistence.ErrConflict
	}
	rule.Revision = existing.Revision + 1
	rule.CreatedAt = existing.CreatedAt
	rule.CreatedBy = existing.CreatedBy
	s.rules[rule.ID] = cloneRule(rule)
	return cloneRule(rule), nil
}

func (s *Store) GetRule(ctx context.Context, id string) (scheduler.ScheduleRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[id]
	if !ok {
		return scheduler.ScheduleRule{}, persistence.ErrNotFound
	}
	return cloneRule(rule), nil
}

func (s *Store) ListRules(ctx context.Context, filter persistence.RuleFilter) ([]scheduler.ScheduleRule, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]scheduler.ScheduleRule, 0)
	for _, rule := range s.rules {
		if matchesRuleFilter(rule, filter) {
			matched = append(matched, cloneRule(rule))
		}
	}
	sortRules(matched)

	start, end := filter.Bounds(len(matched))
	return matched[start:end], len(matched), nil
}

func (s *Store) FindRulesForDay(ctx context.Context, doctorID string, day time.Weekday) ([]scheduler.ScheduleRule, error) {
	active := true
	rules, _, err := s.ListRules(ctx, persistence.RuleFilter{DoctorID: doctorID, Active: &active})
	if err != nil {
		return nil, err
	}
	out := rules[:0]
	for _, rule := range rules {
		if rule.DayOfWeek == day {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (s *Store) HasConflictingRule(ctx context.Context, doctorID string, day time.Weekday, window scheduler.TimeWindow, excludeID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidate := scheduler.ScheduleRule{
		ID:        excludeID,
		DoctorID:  doctorID,
		DayOfWeek: day,
		Start:     window.Start,
		End:       window.End,
		Active:    true,
	}
	if found, ok := scheduler.FindRuleConflict(s.sortedRulesLocked(), candidate); ok {
		return found.ID, true, nil
	}
	return "", false, nil
}

func (s *Store) ruleOverlapLocked(rule scheduler.ScheduleRule) bool {
	_, ok := scheduler.FindRuleConflict(s.sortedRulesLocked(), rule)
	return ok
}

func (s *Store) sortedRulesLocked() []scheduler.ScheduleRule {
	rules := make([]scheduler.ScheduleRule, 0, len(s.rules))
	for _, rule := range s.rules {
		rules = append(rules, rule)
	}
	sortRules(rules)
	return rules
}

// --- ScheduleExceptionRepository ---

func (s *Store) CreateException(ctx context.Context, exception scheduler.ScheduleException) (scheduler.ScheduleException, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.exceptions[exception.ID]; ok {
		return scheduler.ScheduleException{}, persistence.ErrDuplicate
	}
	if s.exceptionOnDateLocked(exception.DoctorID, exception.Date, exception.ID) {
		return scheduler.ScheduleException{}, persistence.ErrDuplicate
	}
	exception.Revision = 1
	s.exceptions[exception.ID] = cloneException(exception)
	return cloneException(exception), nil
}

func (s *Store) UpdateException(ctx context.Context, exception scheduler.ScheduleException) (scheduler.ScheduleException, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.exceptions[exception.ID]
	if !ok {
		return scheduler.ScheduleException{}, persistence.ErrNotFound
	}
	if existing.Revision != exception.Revision {
		return scheduler.ScheduleException{}, persistence.ErrStaleRevision
	}
	if s.exceptionOnDateLocked(exception.DoctorID, exception.Date, exception.ID) {
		return scheduler.ScheduleException{}, persistence.ErrDuplicate
	}
	exception.Revision = existing.Revision + 1
	exception.CreatedAt = existing.CreatedAt
	exception.CreatedBy = existing.CreatedBy
	s.exceptions[exception.ID] = cloneException(exception)
	return cloneException(exception), nil
}

func (s *Store) DeleteException(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.exceptions[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.exceptions, id)
	return nil
}

func (s *Store) GetException(ctx context.Context, id string) (scheduler.ScheduleException, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exception, ok := s.exceptions[id]
	if !ok {
		return scheduler.ScheduleException{}, persistence.ErrNotFound
	}
	return cloneException(exception), nil
}

func (s *Store) GetExceptionForDate(ctx context.Context, doctorID string, date scheduler.Date) (scheduler.ScheduleException, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, exception := range s.exceptions {
		if exception.DoctorID == doctorID && exception.Date == date {
			return cloneException(exception), nil
		}
	}
	return scheduler.ScheduleException{}, persistence.ErrNotFound
}

func (s *Store) ListExceptions(ctx context.Context, filter persistence.ExceptionFilter) ([]scheduler.ScheduleException, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]scheduler.ScheduleException, 0)
	for _, exception := range s.exceptions {
		if filter.DoctorID != "" && exception.DoctorID != filter.DoctorID {
			continue
		}
		if filter.From != nil && exception.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && exception.Date.After(*filter.To) {
			continue
		}
		out = append(out, cloneException(exception))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date == out[j].Date {
			return out[i].DoctorID < out[j].DoctorID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

func (s *Store) exceptionOnDateLocked(doctorID string, date scheduler.Date, excludeID string) bool {
	for id, existing := range s.exceptions {
		if id != excludeID && existing.DoctorID == doctorID && existing.Date == date {
			return true
		}
	}
	return false
}

// --- AppointmentRepository ---

func (s *Store) CreateAppointment(ctx context.Context, appt scheduler.Appointment) (scheduler.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.appointments[appt.ID]; ok {
		return scheduler.Appointment{}, persistence.ErrDuplicate
	}
	if s.appointmentOverlapLocked(appt) {
		return scheduler.Appointment{}, persistence.ErrConflict
	}
	appt.Revision = 1
	s.appointments[appt.ID] = cloneAppointment(appt)
	return cloneAppointment(appt), nil
}

func (s *Store) UpdateAppointment(ctx context.Context, appt scheduler.Appointment) (scheduler.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.appointments[appt.ID]
	if !ok {
		return scheduler.Appointment{}, persistence.ErrNotFound
	}
	if existing.Revision != appt.Revision {
		return scheduler.Appointment{}, persistence.ErrStaleRevision
	}
	if s.appointmentOverlapLocked(appt) {
		return scheduler.Appointment{}, persistence.ErrConflict
	}
	appt.Revision = existing.Revision + 1
	appt.CreatedAt = existing.CreatedAt
	appt.CreatedBy = existing.CreatedBy
	s.appointments[appt.ID] = cloneAppointment(appt)
	return cloneAppointment(appt), nil
}

func (s *Store) DeleteAppointment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.appointments[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.appointments, id)
	return nil
}

func (s *Store) GetAppointment(ctx context.Context, id string) (scheduler.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	appt, ok := s.appointments[id]
	if !ok {
		return scheduler.Appointment{}, persistence.ErrNotFound
	}
	return cloneAppointment(appt), nil
}

func (s *Store) ListAppointments(ctx context.Context, filter persistence.AppointmentFilter) ([]scheduler.Appointment, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]scheduler.Appointment, 0)
	for _, appt := range s.appointments {
		if matchesAppointmentFilter(appt, filter) {
			matched = append(matched, cloneAppointment(appt))
		}
	}
	sortAppointments(matched)

	start, end := filter.Bounds(len(matched))
	return matched[start:end], len(matched), nil
}

func (s *Store) FindOverlapping(ctx context.Context, doctorID string, start, end time.Time, excludeID string) ([]scheduler.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := scheduler.Interval{Start: start, End: end}
	out := make([]scheduler.Appointment, 0)
	for _, appt := range s.appointments {
		if appt.DoctorID != doctorID || appt.ID == excludeID || !appt.IsActive() {
			continue
		}
		if appt.Interval().Overlaps(window) {
			out = append(out, cloneAppointment(appt))
		}
	}
	sortAppointments(out)
	return out, nil
}

func (s *Store) appointmentOverlapLocked(appt scheduler.Appointment) bool {
	if !appt.IsActive() {
		return false
	}
	for id, existing := range s.appointments {
		if id == appt.ID {
			continue
		}
		if existing.ConflictsWith(appt) {
			return true
		}
	}
	return false
}

// --- ActorRepository ---

func (s *Store) CreateActor(ctx context.Context, actor persistence.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.actors[actor.ID]; ok {
		return persistence.ErrDuplicate
	}
	s.actors[actor.ID] = actor
	return nil
}

func (s *Store) GetActor(ctx context.Context, id string) (persistence.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	actor, ok := s.actors[id]
	if !ok {
		return persistence.Actor{}, persistence.ErrNotFound
	}
	return actor, nil
}

// --- Helpers ---

func matchesRuleFilter(rule scheduler.ScheduleRule, filter persistence.RuleFilter) bool {
	if filter.DoctorID != "" && rule.DoctorID != filter.DoctorID {
		return false
	}
	if !filter.IncludeDeleted && rule.IsDeleted() {
		return false
	}
	if filter.Active != nil && rule.Active != *filter.Active {
		return false
	}
	if filter.EffectiveFrom != nil && filter.EffectiveTo != nil && !rule.EffectiveDuring(*filter.EffectiveFrom, *filter.EffectiveTo) {
		return false
	}
	return true
}

func matchesAppointmentFilter(appt scheduler.Appointment, filter persistence.AppointmentFilter) bool {
	if filter.DoctorID != "" && appt.DoctorID != filter.DoctorID {
		return false
	}
	if filter.PatientID != "" && appt.PatientID != filter.PatientID {
		return false
	}
	if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, appt.Status) {
		return false
	}
	if filter.StartsFrom != nil && appt.DateTime.Before(*filter.StartsFrom) {
		return false
	}
	if filter.StartsBefore != nil && !appt.DateTime.Before(*filter.StartsBefore) {
		return false
	}
	return true
}

func sortRules(rules []scheduler.ScheduleRule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].DayOfWeek != rules[j].DayOfWeek {
			return rules[i].DayOfWeek < rules[j].DayOfWeek
		}
		if rules[i].Start != rules[j].Start {
			return rules[i].Start.Before(rules[j].Start)
		}
		return rules[i].ID < rules[j].ID
	})
}

func sortAppointments(appts []scheduler.Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].DateTime.Equal(appts[j].DateTime) {
			return appts[i].ID < appts[j].ID
		}
		return appts[i].DateTime.Before(appts[j].DateTime)
	})
}

func cloneRule(rule scheduler.ScheduleRule) scheduler.ScheduleRule {
	if rule.EffectiveFrom != nil {
		from := *rule.EffectiveFrom
		rule.EffectiveFrom = &from
	}
	if rule.EffectiveTo != nil {
		to := *rule.EffectiveTo
		rule.EffectiveTo = &to
	}
	if rule.DeletedAt != nil {
		deletedAt := *rule.DeletedAt
		rule.DeletedAt = &deletedAt
	}
	return rule
}

func cloneException(exception scheduler.ScheduleException) scheduler.ScheduleException {
	if exception.Start != nil {
		start := *exception.Start
		exception.Start = &start
	}
	if exception.End != nil {
		end := *exception.End
		exception.End = &end
	}
	if exception.SlotMinutes != nil {
		slot := *exception.SlotMinutes
		exception.SlotMinutes = &slot
	}
	return exception
}

func cloneAppointment(appt scheduler.Appointment) scheduler.Appointment {
	appt.ScheduleID = cloneString(appt.ScheduleID)
	appt.Location = cloneString(appt.Location)
	appt.ConfirmedAt = cloneTime(appt.ConfirmedAt)
	appt.CancelledAt = cloneTime(appt.CancelledAt)
	appt.CompletedAt = cloneTime(appt.CompletedAt)
	return appt
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
