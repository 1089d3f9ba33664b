package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/rafast/vox-med-app/internal/persistence"
	"github.com/rafast/vox-med-app/internal/recurrence"
	"github.com/rafast/vox-med-app/internal/scheduler"
)

const (
	// MaxCalendarDays bounds GetAvailabilityCalendar.
	MaxCalendarDays = 31

	DefaultSlotCacheSize = 512
	DefaultSlotCacheTTL  = 30 * time.Second
)

// AvailabilityService derives bookable slots from rules, exceptions and
// existing appointments. Results are cached per doctor and date until the
// TTL expires or a write for that doctor invalidates them.
type AvailabilityService struct {
	store  persistence.Store
	engine *recurrence.Engine
	cache  *expirable.LRU[string, []scheduler.Slot]
	logger zerolog.Logger

	// generations counts invalidations per doctor. A computation that saw
	// an older generation is not cached.
	mu          sync.Mutex
	generations map[string]uint64
}

// NewAvailabilityService builds the service. Non-positive cache settings use
// the defaults.
func NewAvailabilityService(store persistence.Store, engine *recurrence.Engine, cacheSize int, cacheTTL time.Duration, logger zerolog.Logger) *AvailabilityService {
	if engine == nil {
		engine = recurrence.NewEngine(time.UTC)
	}
	if cacheSize <= 0 {
		cacheSize = DefaultSlotCacheSize
	}
	if cacheTTL <= 0 {
		cacheTTL = DefaultSlotCacheTTL
	}
	return &AvailabilityService{
		store:  store,
		engine: engine,
		cache:  expirable.NewLRU[string, []scheduler.Slot](cacheSize, nil, cacheTTL),
		logger: logger,

		generations: make(map[string]uint64),
	}
}

func (s *AvailabilityService) loggerWith(ctx context.Context, operation string) zerolog.Logger {
	return serviceLogger(ctx, s.logger, "AvailabilityService", operation)
}

// GetAvailableSlots lists the slots of doctorID on date. Slots overlapping an
// active appointment are returned with Available=false.
func (s *AvailabilityService) GetAvailableSlots(ctx context.Context, doctorID string, date scheduler.Date) (slots []scheduler.Slot, err error) {
	if s == nil {
		err = fmt.Errorf("AvailabilityService is nil")
		return
	}
	doctorID = strings.TrimSpace(doctorID)
	if doctorID == "" {
		err = fieldError("doctor_id", "doctor id is required")
		return
	}
	if date.IsZero() {
		err = fieldError("date", "date is required")
		return
	}

	key := cacheKey(doctorID, date)
	if cached, ok := s.cache.Get(key); ok {
		return cloneSlots(cached), nil
	}

	logger := s.loggerWith(ctx, "GetAvailableSlots")
	logger = logger.With().Str("doctor_id", doctorID).Str("date", date.String()).Logger()
	defer func() {
		if err != nil {
			logFailure(&logger, err, "slot lookup failed")
			return
		}
		logger.Debug().Int("slots", len(slots)).Msg("slots computed")
	}()

	generation := s.generation(doctorID)
	slots, err = s.computeSlots(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	s.storeSlots(doctorID, key, generation, slots)
	return slots, nil
}

// GetAvailabilityCalendar runs GetAvailableSlots for every date in [from, to].
func (s *AvailabilityService) GetAvailabilityCalendar(ctx context.Context, doctorID string, from, to scheduler.Date) ([]DayAvailability, error) {
	if s == nil {
		return nil, fmt.Errorf("AvailabilityService is nil")
	}
	vErr := &ValidationError{}
	if from.IsZero() {
		vErr.add("from", "start date is required")
	}
	if to.IsZero() {
		vErr.add("to", "end date is required")
	}
	if !from.IsZero() && !to.IsZero() {
		if to.Before(from) {
			vErr.add("to", "end date must not precede start date")
		} else if from.AddDays(MaxCalendarDays - 1).Before(to) {
			vErr.add("to", fmt.Sprintf("range must not exceed %d days", MaxCalendarDays))
		}
	}
	if vErr.HasErrors() {
		return nil, vErr
	}

	dates, err := s.engine.ExpandDates(from, to)
	if err != nil {
		return nil, fieldError("to", err.Error())
	}
	days := make([]DayAvailability, 0, len(dates))
	for _, date := range dates {
		slots, err := s.GetAvailableSlots(ctx, doctorID, date)
		if err != nil {
			return nil, err
		}
		days = append(days, DayAvailability{Date: date, Slots: slots})
	}
	return days, nil
}

// InvalidateDoctor drops every cached day of doctorID.
func (s *AvailabilityService) InvalidateDoctor(doctorID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[doctorID]++

	prefix := doctorID + "|"
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Remove(key)
		}
	}
}

func (s *AvailabilityService) generation(doctorID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[doctorID]
}

// storeSlots caches slots unless doctorID was invalidated after generation
// was read. Holding mu keeps an invalidation from slipping between the
// check and the Add.
func (s *AvailabilityService) storeSlots(doctorID, key string, generation uint64, slots []scheduler.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[doctorID] != generation {
		return
	}
	s.cache.Add(key, cloneSlots(slots))
}

func (s *AvailabilityService) computeSlots(ctx context.Context, doctorID string, date scheduler.Date) ([]scheduler.Slot, error) {
	rules, err := rulesForDate(ctx, s.store.Rules, doctorID, date)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return []scheduler.Slot{}, nil
	}

	var exception *scheduler.ScheduleException
	found, err := s.store.Exceptions.GetExceptionForDate(ctx, doctorID, date)
	switch {
	case err == nil:
		exception = &found
	case !errors.Is(err, persistence.ErrNotFound):
		return nil, mapRepoError(exceptionResource, "", "find schedule exception", err)
	}

	slots := make([]scheduler.Slot, 0)
	for _, rule := range rules {
		slots = append(slots, s.engine.GenerateSlots(rule, date, exception)...)
		if exception != nil && exception.Type == scheduler.ExceptionCustomHours {
			// Custom hours replace the whole day, not each rule.
			break
		}
	}
	if len(slots) == 0 {
		return slots, nil
	}

	start, end := s.engine.DayBounds(date)
	booked, err := s.store.Appointments.FindOverlapping(ctx, doctorID, start, end, "")
	if err != nil {
		return nil, mapRepoError(appointmentResource, "", "find booked appointments", err)
	}
	return scheduler.MarkBooked(slots, booked, s.engine.Location()), nil
}

func cacheKey(doctorID string, date scheduler.Date) string {
	return doctorID + "|" + date.String()
}

func cloneSlots(slots []scheduler.Slot) []scheduler.Slot {
	out := make([]scheduler.Slot, len(slots))
	copy(out, slots)
	return out
}
