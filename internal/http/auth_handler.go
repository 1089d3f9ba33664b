package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rafast/vox-med-app/internal/application"
)

type tokenIssuer interface {
	IssueToken(ctx context.Context, actorID, secret string) (application.IssuedToken, error)
}

// AuthHandler exchanges actor credentials for bearer tokens.
type AuthHandler struct {
	service   tokenIssuer
	responder responder
	logger    zerolog.Logger
}

func NewAuthHandler(service tokenIssuer, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{service: service, responder: newResponder(logger), logger: logger}
}

// IssueToken serves POST /auth/token.
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	logger := handlerLogger(r.Context(), h.logger, "AuthHandler", "IssueToken")

	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		logger.Warn().Err(err).Str("error_kind", "bad_request").Msg("failed to decode token request")
		h.responder.badRequest(r.Context(), w, err)
		return
	}

	actorID := strings.TrimSpace(req.ActorID)
	token, err := h.service.IssueToken(r.Context(), actorID, req.Secret)
	if err != nil {
		if errors.Is(err, application.ErrInvalidCredentials) {
			logger.Warn().Str("actor_id", actorID).Str("error_kind", application.ErrorKind(err)).Msg("token request rejected")
			h.responder.writeError(r.Context(), w, http.StatusUnauthorized, codeInvalidCredential, "Actor id or secret is incorrect")
			return
		}
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, tokenResponse{
		Token:     token.Token,
		TokenType: "Bearer",
		ExpiresAt: formatInstant(token.ExpiresAt),
	})
}

type tokenRequest struct {
	ActorID string `json:"actor_id"`
	Secret  string `json:"secret"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresAt string `json:"expires_at"`
}
