package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/rafast/vox-med-app/internal/application"
	"github.com/rafast/vox-med-app/internal/scheduler"
)

// Error codes carried in errorResponse.ErrorCode.
const (
	codeBadRequest        = "BAD_REQUEST"
	codeValidation        = "VALIDATION_FAILED"
	codeConflict          = "CONFLICT"
	codeNotFound          = "NOT_FOUND"
	codeInvalidTransition = "INVALID_STATE_TRANSITION"
	codeForbidden         = "FORBIDDEN"
	codeUnauthenticated   = "UNAUTHENTICATED"
	codeInvalidCredential = "INVALID_CREDENTIALS"
	codeInternal          = "INTERNAL_ERROR"
)

// maxBodyBytes caps decoded request bodies.
const maxBodyBytes = 1 << 20

var (
	errBadRequestBody = errors.New("request body is not valid JSON")
	errMissingToken   = errors.New("a bearer token is required")
)

type errorResponse struct {
	ErrorCode string            `json:"error_code"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}

type responder struct {
	logger zerolog.Logger
}

func newResponder(logger zerolog.Logger) responder {
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger := r.loggerFor(ctx)
		logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	r.writeJSON(ctx, w, status, errorResponse{ErrorCode: code, Message: message})
}

func (r responder) badRequest(ctx context.Context, w http.ResponseWriter, err error) {
	r.writeError(ctx, w, http.StatusBadRequest, codeBadRequest, err.Error())
}

// handleServiceError maps application and domain errors onto status codes.
// Infrastructure failures are logged and answered with a generic message.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	var (
		appValidation    *application.ValidationError
		domainValidation *scheduler.ValidationError
		conflict         *application.ConflictError
		transition       *scheduler.TransitionError
		notFound         *application.NotFoundError
	)
	switch {
	case errors.As(err, &appValidation):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: codeValidation,
			Message:   "Validation failed",
			Errors:    appValidation.FieldErrors,
		})
	case errors.As(err, &domainValidation):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: codeValidation,
			Message:   "Validation failed",
			Errors:    domainValidation.FieldErrors,
		})
	case errors.As(err, &conflict):
		message := conflict.Message
		if message == "" {
			message = conflict.Error()
		}
		r.writeError(ctx, w, http.StatusConflict, codeConflict, message)
	case errors.As(err, &transition):
		r.writeError(ctx, w, http.StatusConflict, codeInvalidTransition, transition.Error())
	case errors.As(err, &notFound):
		r.writeError(ctx, w, http.StatusNotFound, codeNotFound, notFound.Error())
	case errors.Is(err, application.ErrNotFound):
		r.writeError(ctx, w, http.StatusNotFound, codeNotFound, "Resource not found")
	case errors.Is(err, application.ErrUnauthorized):
		r.writeError(ctx, w, http.StatusForbidden, codeForbidden, "You are not allowed to perform this action")
	case errors.Is(err, application.ErrInvalidCredentials):
		r.writeError(ctx, w, http.StatusUnauthorized, codeInvalidCredential, "Invalid credentials")
	default:
		logger := r.loggerFor(ctx)
		logger.Error().Err(err).Str("error_kind", application.ErrorKind(err)).Msg("request failed")
		r.writeError(ctx, w, http.StatusInternalServerError, codeInternal, "Internal server error")
	}
}

func (r responder) loggerFor(ctx context.Context) *zerolog.Logger {
	logger := handlerLogger(ctx, r.logger, "", "")
	return &logger
}

// decodeJSON reads a single JSON object from the request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errBadRequestBody
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errBadRequestBody
		}
		return fmt.Errorf("%w: %v", errBadRequestBody, err)
	}
	return nil
}
