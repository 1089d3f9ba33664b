package postgres

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds PostgreSQL pool settings.
type Config struct {
	URL      string
	MaxConns int32
	MinConns int32
}

// Validate reports invalid settings.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.URL) == "" {
		errs = append(errs, errors.New("url is required"))
	}
	if c.MaxConns < 0 {
		errs = append(errs, errors.New("max conns must not be negative"))
	}
	if c.MinConns < 0 {
		errs = append(errs, errors.New("min conns must not be negative"))
	}
	if c.MaxConns > 0 && c.MinConns > c.MaxConns {
		errs = append(errs, fmt.Errorf("min conns %d exceeds max conns %d", c.MinConns, c.MaxConns))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("postgres: invalid config: %w", err)
	}
	return nil
}
