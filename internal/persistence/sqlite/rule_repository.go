package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/rafast/vox-med-app/internal/persistence"
	"github.com/rafast/vox-med-app/internal/scheduler"
)

const ruleColumns = `id, doctor_id, day_of_week, start_minute, end_minute, slot_minutes, break_minutes,
	is_active, effective_from, effective_to, created_at, created_by, updated_at, updated_by, deleted_at, revision`

// ruleOverlapGuard is true when another live rule of the same doctor and
// weekday intersects [:start_minute, :end_minute).
const ruleOverlapGuard = `EXISTS (
	SELECT 1 FROM schedule_rules o
	WHERE o.doctor_id = :doctor_id
	  AND o.day_of_week = :day_of_week
	  AND o.id <> :id
	  AND o.is_active = 1
	  AND o.deleted_at IS NULL
	  AND o.start_minute < :end_minute
	  AND o.end_minute > :start_minute)`

// CreateRule inserts rule at revision 1. The overlap check and the insert are
// one statement, so no concurrent writer can slip in between.
func (s *Store) CreateRule(ctx context.Context, rule scheduler.ScheduleRule) (scheduler.ScheduleRule, error) {
	rule.Revision = 1
	query := `INSERT INTO schedule_rules (` + ruleColumns + `)
		SELECT :id, :doctor_id, :day_of_week, :start_minute, :end_minute, :slot_minutes, :break_minutes,
			:is_active, :effective_from, :effective_to, :created_at, :created_by, :updated_at, :updated_by, :deleted_at, :revision
		WHERE NOT (:guarded AND ` + ruleOverlapGuard + `)`

	result, err := s.conn(ctx).ExecContext(ctx, query, bindNamed(query, ruleArgs(rule))...)
	if err != nil {
		return scheduler.ScheduleRule{}, mapError(err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return scheduler.ScheduleRule{}, mapError(err)
	} else if n == 0 {
		return scheduler.ScheduleRule{}, persistence.ErrConflict
	}
	return rule, nil
}

// UpdateRule writes rule when its revision still matches the stored one.
func (s *Store) UpdateRule(ctx context.Context, rule scheduler.ScheduleRule) (scheduler.ScheduleRule, error) {
	var updated scheduler.ScheduleRule
	err := s.inTx(ctx, func(ctx context.Context, q queryer) error {
		query := `UPDATE schedule_rules SET
				day_of_week = :day_of_week, start_minute = :start_minute, end_minute = :end_minute,
				slot_minutes = :slot_minutes, break_minutes = :break_minutes, is_active = :is_active,
				effective_from = :effective_from, effective_to = :effective_to,
				updated_at = :updated_at, updated_by = :updated_by, deleted_at = :deleted_at,
				revision = revision + 1
			WHERE id = :id AND revision = :revision AND NOT (:guarded AND ` + ruleOverlapGuard + `)`

		result, err := q.ExecContext(ctx, query, bindNamed(query, ruleArgs(rule))...)
		if err != nil {
			return mapError(err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return mapError(err)
		}
		if n == 0 {
			if err := s.staleOrMissing(ctx, q, "schedule_rules", rule.ID, rule.Revision); err != nil {
				return err
			}
			return persistence.ErrConflict
		}
		updated, err = s.getRule(ctx, q, rule.ID)
		return err
	})
	if err != nil {
		return scheduler.ScheduleRule{}, err
	}
	return updated, nil
}

func (s *Store) GetRule(ctx context.Context, id string) (scheduler.ScheduleRule, error) {
	return s.getRule(ctx, s.conn(ctx), id)
}

func (s *Store) getRule(ctx context.Context, q queryer, id string) (scheduler.ScheduleRule, error) {
	row := q.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM schedule_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if err != nil {
		return scheduler.ScheduleRule{}, mapError(err)
	}
	return rule, nil
}

func (s *Store) ListRules(ctx context.Context, filter persistence.RuleFilter) ([]scheduler.ScheduleRule, int, error) {
	where := ruleFilterExpressions(filter)

	countSQL, countArgs, err := s.dialect.From("schedule_rules").
		Select(goqu.COUNT(goqu.Star())).
		Where(where...).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite: build rule count: %w", err)
	}
	var total int
	if err := s.conn(ctx).QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	ds := s.dialect.From("schedule_rules").
		Select(goqu.L(ruleColumns)).
		Where(where...).
		Order(goqu.C("day_of_week").Asc(), goqu.C("start_minute").Asc(), goqu.C("id").Asc())
	if filter.Enabled() {
		ds = ds.Limit(uint(filter.PageSize)).Offset(uint(filter.Offset()))
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite: build rule list: %w", err)
	}

	rules, err := s.queryRules(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return rules, total, nil
}

func (s *Store) FindRulesForDay(ctx context.Context, doctorID string, day time.Weekday) ([]scheduler.ScheduleRule, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM schedule_rules
		WHERE doctor_id = ? AND day_of_week = ? AND is_active = 1 AND deleted_at IS NULL
		ORDER BY start_minute, id`, doctorID, int(day))
}

func (s *Store) HasConflictingRule(ctx context.Context, doctorID string, day time.Weekday, window scheduler.TimeWindow, excludeID string) (string, bool, error) {
	var id string
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT id FROM schedule_rules
		WHERE doctor_id = ? AND day_of_week = ? AND id <> ?
		  AND is_active = 1 AND deleted_at IS NULL
		  AND start_minute < ? AND end_minute > ?
		ORDER BY start_minute, id
		LIMIT 1`,
		doctorID, int(day), excludeID, window.End.Minutes(), window.Start.Minutes(),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, mapError(err)
	}
	return id, true, nil
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]scheduler.ScheduleRule, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
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
		where = append(where, goqu.C("is_active").Eq(boolInt(*filter.Active)))
	}
	if filter.EffectiveFrom != nil && filter.EffectiveTo != nil {
		where = append(where,
			goqu.Or(goqu.C("effective_from").IsNull(), goqu.C("effective_from").Lte(filter.EffectiveTo.String())),
			goqu.Or(goqu.C("effective_to").IsNull(), goqu.C("effective_to").Gte(filter.EffectiveFrom.String())),
		)
	}
	return where
}

func ruleArgs(rule scheduler.ScheduleRule) []sql.NamedArg {
	return []sql.NamedArg{
		sql.Named("id", rule.ID),
		sql.Named("doctor_id", rule.DoctorID),
		sql.Named("day_of_week", int(rule.DayOfWeek)),
		sql.Named("start_minute", rule.Start.Minutes()),
		sql.Named("end_minute", rule.End.Minutes()),
		sql.Named("slot_minutes", rule.SlotMinutes),
		sql.Named("break_minutes", rule.BreakMinutes),
		sql.Named("is_active", boolInt(rule.Active)),
		sql.Named("effective_from", nullDate(rule.EffectiveFrom)),
		sql.Named("effective_to", nullDate(rule.EffectiveTo)),
		sql.Named("created_at", formatAudit(rule.CreatedAt)),
		sql.Named("created_by", rule.CreatedBy),
		sql.Named("updated_at", formatAudit(rule.UpdatedAt)),
		sql.Named("updated_by", rule.UpdatedBy),
		sql.Named("deleted_at", nullAudit(rule.DeletedAt)),
		sql.Named("revision", rule.Revision),
		sql.Named("guarded", boolInt(rule.Active && !rule.IsDeleted())),
	}
}

func scanRule(row rowScanner) (scheduler.ScheduleRule, error) {
	var (
		rule                       scheduler.ScheduleRule
		day, start, end            int64
		active                     bool
		effectiveFrom, effectiveTo sql.NullString
		createdAt, updatedAt       string
		deletedAt                  sql.NullString
	)
	if err := row.Scan(
		&rule.ID, &rule.DoctorID, &day, &start, &end, &rule.SlotMinutes, &rule.BreakMinutes,
		&active, &effectiveFrom, &effectiveTo, &createdAt, &rule.CreatedBy, &updatedAt, &rule.UpdatedBy,
		&deletedAt, &rule.Revision,
	); err != nil {
		return scheduler.ScheduleRule{}, err
	}

	var err error
	rule.DayOfWeek = time.Weekday(day)
	rule.Active = active
	if rule.Start, err = parseMinutes(start); err != nil {
		return scheduler.ScheduleRule{}, err
	}
	if rule.End, err = parseMinutes(end); err != nil {
		return scheduler.ScheduleRule{}, err
	}
	if rule.EffectiveFrom, err = parseNullDate(effectiveFrom); err != nil {
		return scheduler.ScheduleRule{}, err
	}
	if rule.EffectiveTo, err = parseNullDate(effectiveTo); err != nil {
		return scheduler.ScheduleRule{}, err
	}
	if rule.CreatedAt, err = parseAudit(createdAt); err != nil {
		return scheduler.ScheduleRule{}, err
	}
	if rule.UpdatedAt, err = parseAudit(updatedAt); err != nil {
		return scheduler.ScheduleRule{}, err
	}
	if rule.DeletedAt, err = parseNullAudit(deletedAt); err != nil {
		return scheduler.ScheduleRule{}, err
	}
	return rule, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
