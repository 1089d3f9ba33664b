package sqlite

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds SQLite connection settings.
type Config struct {
	// Path is the database file, or ":memory:" for a private in-memory database.
	Path string
	// BusyTimeout bounds how long a writer waits for the database lock.
	BusyTimeout time.Duration
	// JournalMode is applied with PRAGMA journal_mode (WAL, DELETE, ...).
	JournalMode string
	// Synchronous is applied with PRAGMA synchronous (FULL, NORMAL, OFF).
	Synchronous string
	// MaxOpenConns caps the pool. One connection keeps ":memory:" databases
	// alive and orders writers without relying on busy retries.
	MaxOpenConns int
}

// DefaultConfig returns settings suited to a single-node deployment.
func DefaultConfig(path string) Config {
	return Config{
		Path:         path,
		BusyTimeout:  5 * time.Second,
		JournalMode:  "WAL",
		Synchronous:  "NORMAL",
		MaxOpenConns: 1,
	}
}

// Validate reports invalid settings.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Path) == "" {
		errs = append(errs, errors.New("path is required"))
	}
	if c.BusyTimeout < 0 {
		errs = append(errs, errors.New("busy timeout must not be negative"))
	}
	if c.MaxOpenConns < 0 {
		errs = append(errs, errors.New("max open conns must not be negative"))
	}
	switch strings.ToUpper(c.JournalMode) {
	case "", "WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "OFF":
	default:
		errs = append(errs, fmt.Errorf("unsupported journal mode %q", c.JournalMode))
	}
	switch strings.ToUpper(c.Synchronous) {
	case "", "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		errs = append(errs, fmt.Errorf("unsupported synchronous mode %q", c.Synchronous))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("sqlite: invalid config: %w", err)
	}
	return nil
}

// DSN renders the driver connection string. PRAGMAs travel in the DSN so that
// every pooled connection gets them, and _txlock=immediate makes each
// transaction take the write lock at BEGIN.
func (c Config) DSN() string {
	params := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", c.BusyTimeout.Milliseconds()),
		"_pragma=foreign_keys(1)",
	}
	if c.Path != ":memory:" && c.JournalMode != "" {
		params = append(params, fmt.Sprintf("_pragma=journal_mode(%s)", strings.ToUpper(c.JournalMode)))
	}
	if c.Synchronous != "" {
		params = append(params, fmt.Sprintf("_pragma=synchronous(%s)", strings.ToUpper(c.Synchronous)))
	}
	params = append(params, "_txlock=immediate")
	return "file:" + c.Path + "?" + strings.Join(params, "&")
}
