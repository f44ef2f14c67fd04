package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 15 * time.Minute

	// RoleRefresh authorizes forcing a synchronization session.
	RoleRefresh = "definitions:refresh"
)

var (
	ErrMissingSigningSecret = errors.New("admin token: signing secret required")
	ErrMissingIssuer        = errors.New("admin token: issuer required")
	ErrMissingAudience      = errors.New("admin token: audience required")
	ErrMissingSubject       = errors.New("admin token: subject required")
)

// AdminClaims is the JWT payload carried by admin bearer tokens.
type AdminClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims grant role.
func (c AdminClaims) HasRole(role string) bool {
	for _, granted := range c.Roles {
		if granted == role {
			return true
		}
	}
	return false
}

// TokenConfig configures admin token issuance and validation.
type TokenConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

func (cfg TokenConfig) normalized() (TokenConfig, error) {
	if len(cfg.SigningSecret) == 0 {
		return TokenConfig{}, ErrMissingSigningSecret
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	if cfg.Issuer == "" {
		return TokenConfig{}, ErrMissingIssuer
	}
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	if cfg.Audience == "" {
		return TokenConfig{}, ErrMissingAudience
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	cfg.SigningSecret = append([]byte(nil), cfg.SigningSecret...)
	return cfg, nil
}

// TokenIssuer mints HS256 admin tokens for operators.
type TokenIssuer struct {
	config TokenConfig
}

// NewTokenIssuer constructs a TokenIssuer.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	normalized, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	return &TokenIssuer{config: normalized}, nil
}

// Issue produces a signed token for subject carrying roles, and its expiry.
func (i *TokenIssuer) Issue(_ context.Context, subject string, roles ...string) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, ErrMissingSubject
	}

	now := i.config.Clock().UTC()
	expiresAt := now.Add(i.config.TokenTTL)

	claims := AdminClaims{
		Roles: append([]string(nil), roles...),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.config.Issuer,
			Audience:  []string{i.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
