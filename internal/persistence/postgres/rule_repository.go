package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"

	"github.com/rafast/vox-med-app/internal/persistence"
	"github.com/rafast/vox-med-app/internal/scheduler"
)

const ruleColumns = `id, doctor_id, day_of_week, start_minute, end_minute, slot_minutes, break_minutes,
	is_active, effective_from, effective_to, created_at, created_by, updated_at, updated_by, deleted_at, revision`

// CreateRule inserts rule at revision 1. schedule_rules_no_overlap rejects a
// live rule that intersects another one of the same doctor and weekday.
func (s *Store) CreateRule(ctx context.Context, rule scheduler.ScheduleRule) (scheduler.ScheduleRule, error) {
	rule.Revision = 1
	record := ruleRecord(rule)
	record["id"] = rule.ID
	record["doctor_id"] = rule.DoctorID
	record["created_at"] = rule.CreatedAt.UTC()
	record["created_by"] = rule.CreatedBy
	record["revision"] = rule.Revision

	query, args, err := s.dialect.Insert("schedule_rules").Rows(record).Prepared(true).ToSQL()
	if err != nil {
		return scheduler.ScheduleRule{}, fmt.Errorf("postgres: build rule insert: %w", err)
	}
	if _, err := s.conn(ctx).Exec(ctx, query, args...); err != nil {
		return scheduler.ScheduleRule{}, mapError(err)
	}
	return rule, nil
}

// UpdateRule writes rule when its revision still matches the stored one.
func (s *Store) UpdateRule(ctx context.Context, rule scheduler.ScheduleRule) (scheduler.ScheduleRule, error) {
	record := ruleRecord(rule)
	record["revision"] = goqu.L("revision + 1")

	query, args, err := s.dialect.Update("schedule_rules").
		Set(record).
		Where(goqu.Ex{"id": rule.ID, "revision": rule.Revision}).
		Returning(goqu.L(ruleColumns)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return scheduler.ScheduleRule{}, fmt.Errorf("postgres: build rule update: %w", err)
	}

	q := s.conn(ctx)
	updated, err := scanRule(q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return scheduler.ScheduleRule{}, staleOrMissing(ctx, q, "schedule_rules", rule.ID)
	}
	if err != nil {
		return scheduler.ScheduleRule{}, mapError(err)
	}
	return updated, nil
}

func (s *Store) GetRule(ctx context.Context, id string) (scheduler.ScheduleRule, error) {
	rule, err := scanRule(s.conn(ctx).QueryRow(ctx, `SELECT `+ruleColumns+` FROM schedule_rules WHERE id = $1`, id))
	if err != nil {
		return scheduler.ScheduleRule{}, mapError(err)
	}
	return rule, nil
}

func (s *Store) ListRules(ctx context.Context, filter persistence.RuleFilter) ([]scheduler.ScheduleRule, int, error) {
	countSQL, countArgs, listSQL, listArgs, err := s.ruleListQueries(filter)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}
	rules, err := s.queryRules(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	return rules, total, nil
}

func (s *Store) ruleListQueries(filter persistence.RuleFilter) (countSQL string, countArgs []any, listSQL string, listArgs []any, err error) {
	where := ruleFilterExpressions(filter)

	countSQL, countArgs, err = s.dialect.From("schedule_rules").
		Select(goqu.COUNT(goqu.Star())).
		Where(where...).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, "", nil, fmt.Errorf("postgres: build rule count: %w", err)
	}

	ds := s.dialect.From("schedule_rules").
		Select(goqu.L(ruleColumns)).
		Where(where...).
		Order(goqu.C("day_of_week").Asc(), goqu.C("start_minute").Asc(), goqu.C("id").Asc())
	if filter.Enabled() {
		ds = ds.Limit(uint(filter.PageSize)).Offset(uint(filter.Offset()))
	}
	listSQL, listArgs, err = ds.Prepared(true).ToSQL()
	if err != nil {
		return "", nil, "", nil, fmt.Errorf("postgres: build rule list: %w", err)
	}
	return countSQL, countArgs, listSQL, listArgs, nil
}

func (s *Store) FindRulesForDay(ctx context.Context, doctorID string, day time.Weekday) ([]scheduler.ScheduleRule, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM schedule_rules
		WHERE doctor_id = $1 AND day_of_week = $2 AND is_active AND deleted_at IS NULL
		ORDER BY start_minute, id`, doctorID, int(day))
}

func (s *Store) HasConflictingRule(ctx context.Context, doctorID string, day time.Weekday, window scheduler.TimeWindow, excludeID string) (string, bool, error) {
	var id string
	err := s.conn(ctx).QueryRow(ctx, `SELECT id FROM schedule_rules
		WHERE doctor_id = $1 AND day_of_week = $2 AND id <> $3
		  AND is_active AND deleted_at IS NULL
		  AND int4range(start_minute, end_minute) && int4range($4, $5)
		ORDER BY start_minute, id
		LIMIT 1`,
		doctorID, int(day), excludeID, window.Start.Minutes(), window.End.Minutes(),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, mapError(err)
	}
	return id, true, nil
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]scheduler.ScheduleRule, error) {
	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	rules := make([]scheduler.ScheduleRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, mapError(err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return rules, nil
}

func ruleFilterExpressions(filter persistence.RuleFilter) []exp.Expression {
	var where []exp.Expression
	if filter.DoctorID != "" {
		where = append(where, goqu.C("doctor_id").Eq(filter.DoctorID))
	}
	if !filter.IncludeDeleted {
		where = append(where, goqu.C("deleted_at").IsNull())
	}
	if filter.Active != nil {
		where = append(where, goqu.C("is_active").Eq(*filter.Active))
	}
	if filter.EffectiveFrom != nil && filter.EffectiveTo != nil {
		where = append(where,
			goqu.Or(goqu.C("effective_from").IsNull(), goqu.C("effective_from").Lte(dateValue(filter.EffectiveTo))),
			goqu.Or(goqu.C("effective_to").IsNull(), goqu.C("effective_to").Gte(dateValue(filter.EffectiveFrom))),
		)
	}
	return where
}

// ruleRecord holds the mutable columns of rule.
func ruleRecord(rule scheduler.ScheduleRule) goqu.Record {
	return goqu.Record{
		"day_of_week":    int(rule.DayOfWeek),
		"start_minute":   rule.Start.Minutes(),
		"end_minute":     rule.End.Minutes(),
		"slot_minutes":   rule.SlotMinutes,
		"break_minutes":  rule.BreakMinutes,
		"is_active":      rule.Active,
		"effective_from": dateValue(rule.EffectiveFrom),
		"effective_to":   dateValue(rule.EffectiveTo),
		"updated_at":     rule.UpdatedAt.UTC(),
		"updated_by":     rule.UpdatedBy,
		"deleted_at":     nullable(utcPtr(rule.DeletedAt)),
	}
}

func scanRule(row pgx.Row) (scheduler.ScheduleRule, error) {
	var (
		rule                        scheduler.ScheduleRule
		day, startMinute, endMinute int
		effectiveFrom, effectiveTo  *time.Time
	)
	if err := row.Scan(
		&rule.ID, &rule.DoctorID, &day, &startMinute, &endMinute, &rule.SlotMinutes, &rule.BreakMinutes,
		&rule.Active, &effectiveFrom, &effectiveTo, &rule.CreatedAt, &rule.CreatedBy,
		&rule.UpdatedAt, &rule.UpdatedBy, &rule.DeletedAt, &rule.Revision,
	); err != nil {
		return scheduler.ScheduleRule{}, err
	}

	var err error
	rule.DayOfWeek = time.Weekday(day)
	if rule.Start, err = scheduler.TimeOfDayFromMinutes(startMinute); err != nil {
		return scheduler.ScheduleRule{}, err
	}
	if rule.End, err = scheduler.TimeOfDayFromMinutes(endMinute); err != nil {
		return scheduler.ScheduleRule{}, err
	}
	rule.EffectiveFrom = dateFromValue(effectiveFrom)
	rule.EffectiveTo = dateFromValue(effectiveTo)
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	rule.DeletedAt = utcPtr(rule.DeletedAt)
	return rule, nil
}
