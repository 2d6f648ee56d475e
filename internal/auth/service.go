package auth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"signal-pipeline/internal/settings"
)

// AuthError is a coded authentication failure
type AuthError struct {
	Code    string
	Message string
}

func (e AuthError) Error() string { return e.Message }

var (
	ErrUnauthorized  = AuthError{Code: "UNAUTHORIZED", Message: "authentication required"}
	ErrInvalidToken  = AuthError{Code: "INVALID_TOKEN", Message: "token is invalid"}
	ErrTokenExpired  = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrBadCredential = AuthError{Code: "BAD_CREDENTIAL", Message: "admin token is incorrect"}
	ErrNotConfigured = AuthError{Code: "NOT_CONFIGURED", Message: "admin token is not configured"}
)

// Service exchanges the shared admin token for operator session tokens.
// The admin token is stored only as a bcrypt hash in system settings.
type Service struct {
	settings settings.Reader
	jwt      *JWTManager
}

// NewService creates the operator auth service
func NewService(settingsReader settings.Reader, jwtSecret string, tokenDuration time.Duration) *Service {
	return &Service{
		settings: settingsReader,
		jwt:      NewJWTManager(jwtSecret, tokenDuration),
	}
}

// JWTManager exposes the token manager for middleware wiring
func (s *Service) JWTManager() *JWTManager {
	return s.jwt
}

// Login verifies the admin token and issues a session token
func (s *Service) Login(ctx context.Context, operator, adminToken string) (string, error) {
	if operator == "" || adminToken == "" {
		return "", ErrBadCredential
	}

	hash := s.settings.GetString(ctx, settings.KeyAdminTokenHash, "")
	if hash == "" {
		return "", ErrNotConfigured
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(adminToken)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return "", ErrBadCredential
		}
		return "", err
	}

	return s.jwt.GenerateToken(OperatorClaims{Operator: operator})
}

// HashAdminToken produces the bcrypt hash stored in system settings.
// Used by seeding tooling, never at request time.
func HashAdminToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
