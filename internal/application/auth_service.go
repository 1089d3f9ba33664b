package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/rafast/vox-med-app/internal/persistence"
)

// MinTokenSecretLength is the shortest accepted HMAC key.
const MinTokenSecretLength = 32

// DefaultTokenTTL applies when the configured lifetime is not positive.
const DefaultTokenTTL = 12 * time.Hour

// SecretVerifier compares a stored hash with a candidate secret.
type SecretVerifier func(encoded, secret string) error

// AuthService registers actors and issues and validates their bearer tokens.
type AuthService struct {
	actors       persistence.ActorRepository
	signingKey   []byte
	tokenTTL     time.Duration
	hashParams   Argon2idParams
	verifySecret SecretVerifier
	idGenerator  func() string
	now          func() time.Time
	logger       zerolog.Logger
}

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewAuthService constructs an AuthService. signingKey signs HS256 tokens.
func NewAuthService(actors persistence.ActorRepository, signingKey []byte, tokenTTL time.Duration, idGenerator func() string, now func() time.Time, logger zerolog.Logger) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &AuthService{
		actors:       actors,
		signingKey:   signingKey,
		tokenTTL:     tokenTTL,
		hashParams:   DefaultArgon2idParams,
		verifySecret: VerifySecret,
		idGenerator:  idGenerator,
		now:          now,
		logger:       logger,
	}
}

// WithHashParams overrides the argon2id cost, which tests lower.
func (s *AuthService) WithHashParams(params Argon2idParams) *AuthService {
	s.hashParams = params
	return s
}

func (s *AuthService) loggerWith(ctx context.Context, operation string) zerolog.Logger {
	return serviceLogger(ctx, s.logger, "AuthService", operation)
}

// RegisterActor stores a new actor and returns its secret. The secret is not
// recoverable afterwards.
func (s *AuthService) RegisterActor(ctx context.Context, params RegisterActorParams) (actor persistence.Actor, secret string, err error) {
	if s == nil {
		err = fmt.Errorf("AuthService is nil")
		return
	}
	if s.actors == nil {
		err = fmt.Errorf("actor repository not configured")
		return
	}

	logger := s.loggerWith(ctx, "RegisterActor")
	defer func() {
		if err != nil {
			logFailure(&logger, err, "actor registration failed")
			return
		}
		logger.Info().Str("actor_id", actor.ID).Str("role", actor.Role).Msg("actor registered")
	}()

	vErr := &ValidationError{}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		vErr.add("name", "name is required")
	}
	role, ok := ParseRole(params.Role)
	if !ok {
		vErr.add("role", "role must be one of admin, doctor, staff, patient")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	id := strings.TrimSpace(params.ID)
	if id == "" {
		id = s.idGenerator()
	}
	if id == "" {
		err = fieldError("id", "id is required")
		return
	}

	secret, err = GenerateSecret()
	if err != nil {
		err = &InfrastructureError{Op: "generate secret", Err: err}
		return
	}
	hash, err := HashSecret(secret, s.hashParams)
	if err != nil {
		err = &InfrastructureError{Op: "hash secret", Err: err}
		return
	}

	actor = persistence.Actor{
		ID:         id,
		Name:       name,
		Role:       string(role),
		SecretHash: hash,
		CreatedAt:  s.now().UTC(),
	}
	if err = s.actors.CreateActor(ctx, actor); err != nil {
		err = mapRepoError("Actor", id, "create actor", err)
		secret = ""
		return
	}
	return
}

// IssueToken verifies the actor's secret and returns a signed token.
func (s *AuthService) IssueToken(ctx context.Context, actorID, secret string) (token IssuedToken, err error) {
	if s == nil {
		err = fmt.Errorf("AuthService is nil")
		return
	}
	if s.actors == nil {
		err = fmt.Errorf("actor repository not configured")
		return
	}
	actorID = strings.TrimSpace(actorID)

	logger := s.loggerWith(ctx, "IssueToken")
	logger = logger.With().Str("actor_id", actorID).Logger()
	defer func() {
		if err != nil {
			logFailure(&logger, err, "token issue failed")
			return
		}
		logger.Info().Time("expires_at", token.ExpiresAt).Msg("token issued")
	}()

	if actorID == "" || secret == "" {
		err = ErrInvalidCredentials
		return
	}

	actor, err := s.actors.GetActor(ctx, actorID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = ErrInvalidCredentials
			return
		}
		err = &InfrastructureError{Op: "get actor", Err: err}
		return
	}
	if err = s.verifySecret(actor.SecretHash, secret); err != nil {
		err = ErrInvalidCredentials
		return
	}

	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	claims := tokenClaims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		err = &InfrastructureError{Op: "sign token", Err: err}
		return
	}
	token = IssuedToken{Token: signed, ExpiresAt: expiresAt}
	return
}

// ValidateToken checks the signature and expiry of token and returns the
// principal it carries.
func (s *AuthService) ValidateToken(ctx context.Context, token string) (Principal, error) {
	if s == nil {
		return Principal{}, fmt.Errorf("AuthService is nil")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrInvalidCredentials
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		logger := s.loggerWith(ctx, "ValidateToken")
		logger.Debug().Err(err).Msg("token rejected")
		return Principal{}, ErrInvalidCredentials
	}

	role, ok := ParseRole(claims.Role)
	if !ok || claims.Subject == "" {
		return Principal{}, ErrInvalidCredentials
	}
	return Principal{ActorID: claims.Subject, Role: role}, nil
}
