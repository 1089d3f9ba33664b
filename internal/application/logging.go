package application

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/rafast/vox-med-app/internal/logging"
	"github.com/rafast/vox-med-app/internal/scheduler"
)

func serviceLogger(ctx context.Context, base zerolog.Logger, serviceName, operation string) zerolog.Logger {
	logger := base
	if fromCtx := logging.FromContext(ctx); fromCtx != nil {
		logger = *fromCtx
	}

	lctx := logger.With().Str("service", serviceName)
	if operation != "" {
		lctx = lctx.Str("operation", operation)
	}
	return lctx.Logger()
}

// logFailure writes the single error line of a failed operation.
func logFailure(logger *zerolog.Logger, err error, msg string) {
	logger.Error().Err(err).Str("error_kind", ErrorKind(err)).Msg(msg)
}

// ErrorKind maps sentinel and validation errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, scheduler.ErrInvalidTransition):
		return "invalid_transition"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}
	var dErr *scheduler.ValidationError
	if errors.As(err, &dErr) {
		return "validation"
	}
	var cErr *ConflictError
	if errors.As(err, &cErr) {
		return "conflict"
	}
	var iErr *InfrastructureError
	if errors.As(err, &iErr) {
		return "infrastructure"
	}

	return "unexpected"
}
