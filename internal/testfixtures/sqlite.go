package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rafast/vox-med-app/internal/persistence"
	"github.com/rafast/vox-med-app/internal/persistence/sqlite"
)

// SQLiteHarness is a migrated SQLite store in a per-test temporary file.
type SQLiteHarness struct {
	persistence.Store
	Storage *sqlite.Store
}

// NewSQLiteHarness opens and migrates a fresh database. It is closed through
// tb.Cleanup.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "voxmed.db")
	storage, err := sqlite.Open(context.Background(), sqlite.DefaultConfig(path), zerolog.Nop())
	if err != nil {
		tb.Fatalf("open sqlite store: %v", err)
	}
	tb.Cleanup(func() { _ = storage.Close() })

	if _, err := storage.Migrate(context.Background()); err != nil {
		tb.Fatalf("migrate sqlite store: %v", err)
	}

	return &SQLiteHarness{
		Store:   storage.Repositories(),
		Storage: storage,
	}
}
