package migration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	applied  []AppliedMigration
	executed []string
	failOn   string
	initErr  error
}

func (f *fakeExecutor) InitializeVersionTable(context.Context) error {
	return f.initErr
}

func (f *fakeExecutor) ExecuteMigration(_ context.Context, m Migration) (time.Duration, error) {
	if m.Version == f.failOn {
		return 0, errors.New("syntax error")
	}
	f.executed = append(f.executed, m.Version)
	f.applied = append(f.applied, AppliedMigration{Version: m.Version, Checksum: m.Checksum, AppliedAt: time.Now()})
	return time.Millisecond, nil
}

func (f *fakeExecutor) AppliedMigrations(context.Context) ([]AppliedMigration, error) {
	return append([]AppliedMigration(nil), f.applied...), nil
}

func threeMigrations() map[string]string {
	return map[string]string{
		"001_a.sql": "CREATE TABLE a (id TEXT);",
		"002_b.sql": "CREATE TABLE b (id TEXT);",
		"003_c.sql": "CREATE TABLE c (id TEXT);",
	}
}

func TestManager_RunAppliesPendingInOrder(t *testing.T) {
	executor := &fakeExecutor{}
	manager := NewManager(mapFS(threeMigrations()), "migrations", executor, zerolog.Nop())

	applied, err := manager.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, applied)
	assert.Equal(t, []string{"001", "002", "003"}, executor.executed)

	applied, err = manager.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, applied)
	assert.Len(t, executor.executed, 3)
}

func TestManager_RunStopsAtFailure(t *testing.T) {
	executor := &fakeExecutor{failOn: "002"}
	manager := NewManager(mapFS(threeMigrations()), "migrations", executor, zerolog.Nop())

	applied, err := manager.Run(context.Background())
	require.ErrorIs(t, err, ErrMigrationFailed)
	assert.Equal(t, 1, applied)
	assert.Equal(t, []string{"001"}, executor.executed)

	var migrationErr *MigrationError
	require.ErrorAs(t, err, &migrationErr)
	assert.Equal(t, "002", migrationErr.Version)
}

func TestManager_Status(t *testing.T) {
	executor := &fakeExecutor{applied: []AppliedMigration{{Version: "001"}}}
	manager := NewManager(mapFS(threeMigrations()), "migrations", executor, zerolog.Nop())

	status, err := manager.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "001", status.CurrentVersion)
	assert.Len(t, status.Applied, 1)
	require.Len(t, status.Pending, 2)
	assert.Equal(t, "002", status.Pending[0].Version)
}

func TestManager_StatusRejectsGap(t *testing.T) {
	files := map[string]string{
		"001_a.sql": "CREATE TABLE a (id TEXT);",
		"003_c.sql": "CREATE TABLE c (id TEXT);",
	}
	manager := NewManager(mapFS(files), "migrations", &fakeExecutor{}, zerolog.Nop())

	_, err := manager.Status(context.Background())
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestManager_StatusRejectsUnknownAppliedVersion(t *testing.T) {
	executor := &fakeExecutor{applied: []AppliedMigration{{Version: "004"}}}
	manager := NewManager(mapFS(threeMigrations()), "migrations", executor, zerolog.Nop())

	_, err := manager.Status(context.Background())
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestManager_StatusPropagatesInitError(t *testing.T) {
	executor := &fakeExecutor{initErr: errors.New("disk full")}
	manager := NewManager(mapFS(threeMigrations()), "migrations", executor, zerolog.Nop())

	_, err := manager.Status(context.Background())
	assert.ErrorContains(t, err, "disk full")
}
