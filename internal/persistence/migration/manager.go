package migration

import (
	"context"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Manager applies pending migrations in version order.
type Manager struct {
	fsys     fs.FS
	dir      string
	executor Executor
	logger   zerolog.Logger
}

// NewManager creates a Manager reading migrations from dir inside fsys.
func NewManager(fsys fs.FS, dir string, executor Executor, logger zerolog.Logger) *Manager {
	return &Manager{
		fsys:     fsys,
		dir:      dir,
		executor: executor,
		logger:   logger.With().Str("component", "migration").Logger(),
	}
}

// Run executes every pending migration and returns how many were applied.
// Execution stops at the first failure; earlier migrations stay committed.
func (m *Manager) Run(ctx context.Context) (int, error) {
	started := time.Now()
	status, err := m.Status(ctx)
	if err != nil {
		return 0, err
	}
	if len(status.Pending) == 0 {
		m.logger.Info().Str("version", status.CurrentVersion).Msg("schema up to date")
		return 0, nil
	}

	m.logger.Info().
		Str("current_version", status.CurrentVersion).
		Int("pending", len(status.Pending)).
		Msg("applying migrations")

	for i, migration := range status.Pending {
		elapsed, err := m.executor.ExecuteMigration(ctx, migration)
		if err != nil {
			m.logger.Error().Err(err).
				Str("version", migration.Version).
				Str("file", migration.FilePath).
				Msg("migration failed")
			return i, NewMigrationError(migration.Version, migration.FilePath, "execute migration",
				fmt.Errorf("%w: %w", ErrMigrationFailed, err))
		}
		m.logger.Info().
			Str("version", migration.Version).
			Str("description", migration.Description).
			Dur("elapsed", elapsed).
			Msg("migration applied")
	}

	m.logger.Info().
		Int("applied", len(status.Pending)).
		Dur("elapsed", time.Since(started)).
		Msg("migrations completed")
	return len(status.Pending), nil
}

// Status reports the current version plus applied and pending migrations.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return Status{}, fmt.Errorf("initialize version table: %w", err)
	}
	available, err := Scan(m.fsys, m.dir)
	if err != nil {
		return Status{}, fmt.Errorf("scan migrations: %w", err)
	}
	applied, err := m.executor.AppliedMigrations(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("read applied migrations: %w", err)
	}
	if err := validateSequence(available, applied); err != nil {
		return Status{}, err
	}

	appliedSet := make(map[string]AppliedMigration, len(applied))
	status := Status{Applied: applied}
	maxVersion := -1
	for _, record := range applied {
		appliedSet[record.Version] = record
		if v := versionNumber(record.Version); v > maxVersion {
			maxVersion = v
			status.CurrentVersion = record.Version
		}
	}
	for _, migration := range available {
		record, ok := appliedSet[migration.Version]
		if !ok {
			status.Pending = append(status.Pending, migration)
			continue
		}
		if record.Checksum != "" && record.Checksum != migration.Checksum {
			m.logger.Warn().
				Str("version", migration.Version).
				Str("file", migration.FilePath).
				Msg("applied migration file changed since it ran")
		}
	}
	return status, nil
}

// validateSequence rejects gaps in the available versions and applied
// versions that no longer have a file.
func validateSequence(available []Migration, applied []AppliedMigration) error {
	present := make(map[int]bool, len(available))
	for _, migration := range available {
		present[versionNumber(migration.Version)] = true
	}
	if len(available) > 0 {
		first := versionNumber(available[0].Version)
		last := versionNumber(available[len(available)-1].Version)
		for v := first; v <= last; v++ {
			if !present[v] {
				return fmt.Errorf("%w: missing migration version %03d in sequence", ErrVersionConflict, v)
			}
		}
	}
	for _, record := range applied {
		v, err := strconv.Atoi(record.Version)
		if err != nil {
			return fmt.Errorf("%w: applied version %q is not numeric", ErrInvalidVersion, record.Version)
		}
		if !present[v] {
			return fmt.Errorf("%w: applied migration %03d not found in available migrations", ErrVersionConflict, v)
		}
	}
	return nil
}
