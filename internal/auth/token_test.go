package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef-admin")

func testTokenConfig(clock func() time.Time) TokenConfig {
	return TokenConfig{
		SigningSecret: testSecret,
		Issuer:        "vatdefs",
		Audience:      "vatdefs-admin",
		TokenTTL:      10 * time.Minute,
		Clock:         clock,
	}
}

func newTestPair(testContext *testing.T, clock func() time.Time) (*TokenIssuer, *TokenValidator) {
	testContext.Helper()
	issuer, err := NewTokenIssuer(testTokenConfig(clock))
	if err != nil {
		testContext.Fatalf("unexpected issuer error: %v", err)
	}
	validator, err := NewTokenValidator(testTokenConfig(clock))
	if err != nil {
		testContext.Fatalf("unexpected validator error: %v", err)
	}
	return issuer, validator
}

func TestTokenIssuerRoundTrip(testContext *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	issuer, validator := newTestPair(testContext, func() time.Time { return now })

	token, expiresAt, err := issuer.Issue(context.Background(), "operator", RoleRefresh)
	if err != nil {
		testContext.Fatalf("issue failed: %v", err)
	}
	if !expiresAt.Equal(now.Add(10 * time.Minute)) {
		testContext.Fatalf("unexpected expiry %v", expiresAt)
	}

	claims, err := validator.ValidateToken(token)
	if err != nil {
		testContext.Fatalf("validate failed: %v", err)
	}
	if claims.Subject != "operator" || !claims.HasRole(RoleRefresh) {
		testContext.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokenValidatorRejectsExpired(testContext *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	current := now
	issuer, validator := newTestPair(testContext, func() time.Time { return current })

	token, _, err := issuer.Issue(context.Background(), "operator", RoleRefresh)
	if err != nil {
		testContext.Fatalf("issue failed: %v", err)
	}
	current = now.Add(time.Hour)

	if _, err := validator.ValidateToken(token); !errors.Is(err, ErrExpiredToken) {
		testContext.Fatalf("expected expired token error, got %v", err)
	}
}

func TestTokenValidatorRejectsForeignTokens(testContext *testing.T) {
	_, validator := newTestPair(testContext, time.Now)

	testCases := map[string]jwt.Claims{
		"wrong issuer": AdminClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject: "operator", Issuer: "someone-else", Audience: []string{"vatdefs-admin"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		}},
		"wrong audience": AdminClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject: "operator", Issuer: "vatdefs", Audience: []string{"public"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		}},
		"no expiry": AdminClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject: "operator", Issuer: "vatdefs", Audience: []string{"vatdefs-admin"},
		}},
	}
	for name, claims := range testCases {
		testContext.Run(name, func(testContext *testing.T) {
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
			if err != nil {
				testContext.Fatalf("sign failed: %v", err)
			}
			if _, err := validator.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
				testContext.Fatalf("expected invalid token error, got %v", err)
			}
		})
	}

	otherKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject: "operator", Issuer: "vatdefs", Audience: []string{"vatdefs-admin"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}).SignedString([]byte("a-different-secret"))
	if err != nil {
		testContext.Fatalf("sign failed: %v", err)
	}
	if _, err := validator.ValidateToken(otherKey); !errors.Is(err, ErrInvalidToken) {
		testContext.Fatalf("expected signature failure, got %v", err)
	}
}

func TestTokenValidatorValidateRequest(testContext *testing.T) {
	issuer, validator := newTestPair(testContext, time.Now)
	withRole, _, err := issuer.Issue(context.Background(), "operator", RoleRefresh)
	if err != nil {
		testContext.Fatalf("issue failed: %v", err)
	}
	withoutRole, _, err := issuer.Issue(context.Background(), "viewer")
	if err != nil {
		testContext.Fatalf("issue failed: %v", err)
	}

	testCases := []struct {
		name     string
		header   string
		expected error
	}{
		{name: "granted", header: "Bearer " + withRole},
		{name: "missing header", expected: ErrMissingToken},
		{name: "basic scheme", header: "Basic abc", expected: ErrInvalidToken},
		{name: "missing role", header: "Bearer " + withoutRole, expected: ErrMissingRole},
	}
	for _, testCase := range testCases {
		testContext.Run(testCase.name, func(testContext *testing.T) {
			request := httptest.NewRequest(http.MethodPost, "/sync/refresh", nil)
			if testCase.header != "" {
				request.Header.Set("Authorization", testCase.header)
			}
			_, err := validator.ValidateRequest(request, RoleRefresh)
			if testCase.expected == nil && err != nil {
				testContext.Fatalf("unexpected error: %v", err)
			}
			if testCase.expected != nil && !errors.Is(err, testCase.expected) {
				testContext.Fatalf("expected %v, got %v", testCase.expected, err)
			}
		})
	}
}

func TestTokenConfigValidation(testContext *testing.T) {
	testCases := map[string]struct {
		mutate   func(*TokenConfig)
		expected error
	}{
		"secret":   {mutate: func(cfg *TokenConfig) { cfg.SigningSecret = nil }, expected: ErrMissingSigningSecret},
		"issuer":   {mutate: func(cfg *TokenConfig) { cfg.Issuer = " " }, expected: ErrMissingIssuer},
		"audience": {mutate: func(cfg *TokenConfig) { cfg.Audience = "" }, expected: ErrMissingAudience},
	}
	for name, testCase := range testCases {
		testContext.Run(name, func(testContext *testing.T) {
			cfg := testTokenConfig(nil)
			testCase.mutate(&cfg)
			if _, err := NewTokenIssuer(cfg); !errors.Is(err, testCase.expected) {
				testContext.Fatalf("expected %v, got %v", testCase.expected, err)
			}
		})
	}

	issuer, _ := newTestPair(testContext, nil)
	if _, _, err := issuer.Issue(context.Background(), " "); !errors.Is(err, ErrMissingSubject) {
		testContext.Fatalf("expected missing subject error, got %v", err)
	}
}
