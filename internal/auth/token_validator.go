package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken   = errors.New("admin token: token required")
	ErrInvalidToken   = errors.New("admin token: invalid token")
	ErrExpiredToken   = errors.New("admin token: token expired")
	ErrMissingRole    = errors.New("admin token: role not granted")
	errBearerRequired = errors.New("authorization header must use the Bearer scheme")
)

// TokenValidator validates HS256 admin tokens.
type TokenValidator struct {
	config TokenConfig
}

// NewTokenValidator constructs a validator sharing the issuer's configuration.
func NewTokenValidator(cfg TokenConfig) (*TokenValidator, error) {
	normalized, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	return &TokenValidator{config: normalized}, nil
}

// ValidateToken parses tokenString and returns its claims.
func (v *TokenValidator) ValidateToken(tokenString string) (AdminClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return AdminClaims{}, ErrMissingToken
	}

	claims := &AdminClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return v.config.SigningSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.config.Issuer),
		jwt.WithAudience(v.config.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.config.Clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return AdminClaims{}, ErrExpiredToken
		}
		return AdminClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return AdminClaims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return AdminClaims{}, ErrMissingSubject
	}
	return *claims, nil
}

// ValidateRequest validates the bearer token of r and requires role.
func (v *TokenValidator) ValidateRequest(r *http.Request, role string) (AdminClaims, error) {
	if r == nil {
		return AdminClaims{}, ErrMissingToken
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return AdminClaims{}, ErrMissingToken
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return AdminClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, errBearerRequired)
	}
	claims, err := v.ValidateToken(token)
	if err != nil {
		return AdminClaims{}, err
	}
	if role != "" && !claims.HasRole(role) {
		return AdminClaims{}, ErrMissingRole
	}
	return claims, nil
}
