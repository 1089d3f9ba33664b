package http

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rafast/vox-med-app/internal/logging"
)

func handlerLogger(ctx context.Context, fallback zerolog.Logger, handlerName, operation string) zerolog.Logger {
	logger := fallback
	if fromCtx := logging.FromContext(ctx); fromCtx != nil {
		logger = *fromCtx
	}

	if handlerName == "" {
		return logger
	}
	lctx := logger.With().Str("handler", handlerName)
	if operation != "" {
		lctx = lctx.Str("operation", operation)
	}
	return lctx.Logger()
}
