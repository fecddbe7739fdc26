package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestAuthenticator(cfg AuthConfig) *Authenticator {
	cfg.Enabled = true
	if cfg.HMACSecret == "" {
		cfg.HMACSecret = testSecret
	}
	return NewAuthenticator(cfg, nil)
}

func echoSubject() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(Subject(r.Context())))
	})
}

func TestAuthenticatorRejectsMissingToken(t *testing.T) {
	auth := newTestAuthenticator(AuthConfig{})
	handler := auth.Middleware()(echoSubject())

	req := httptest.NewRequest(http.MethodPost, "/v1/lending/supply", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", res.Code)
	}
}

func TestAuthenticatorAcceptsValidToken(t *testing.T) {
	auth := newTestAuthenticator(AuthConfig{Issuer: "lendpool", Audience: "gateway"})
	handler := auth.Middleware("lending:write")(echoSubject())

	token := signToken(t, jwt.MapClaims{
		"iss":   "lendpool",
		"aud":   "gateway",
		"sub":   "ops@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "lending:write lending:read",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/lending/supply", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid token, got %d: %s", res.Code, res.Body.String())
	}
	if res.Body.String() != "ops@example.com" {
		t.Fatalf("expected subject to be propagated, got %q", res.Body.String())
	}
}

func TestAuthenticatorRejectsMissingScope(t *testing.T) {
	auth := newTestAuthenticator(AuthConfig{})
	handler := auth.Middleware("lending:write")(echoSubject())

	token := signToken(t, jwt.MapClaims{
		"sub":   "reader@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "lending:read",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/lending/supply", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing scope, got %d", res.Code)
	}
}

func TestAuthenticatorRejectsExpiredToken(t *testing.T) {
	auth := newTestAuthenticator(AuthConfig{ClockSkew: time.Second})
	handler := auth.Middleware()(echoSubject())

	token := signToken(t, jwt.MapClaims{
		"sub": "late@example.com",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/lending/supply", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", res.Code)
	}
}

func TestAuthenticatorRejectsWrongIssuer(t *testing.T) {
	auth := newTestAuthenticator(AuthConfig{Issuer: "lendpool"})
	handler := auth.Middleware()(echoSubject())

	token := signToken(t, jwt.MapClaims{
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/lending/supply", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for issuer mismatch, got %d", res.Code)
	}
}

func TestAuthenticatorScopeArrayClaim(t *testing.T) {
	auth := newTestAuthenticator(AuthConfig{})
	handler := auth.Middleware("lending:write")(echoSubject())

	token := signToken(t, jwt.MapClaims{
		"sub":   "array@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": []string{"lending:write"},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/lending/supply", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for array scope claim, got %d", res.Code)
	}
}

func TestAuthenticatorAllowsAnonymousOptionalPath(t *testing.T) {
	auth := newTestAuthenticator(AuthConfig{
		OptionalPaths:  []string{"/v1/lending/markets"},
		AllowAnonymous: true,
	})
	handler := auth.Middleware()(echoSubject())

	req := httptest.NewRequest(http.MethodGet, "/v1/lending/markets", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected optional path to bypass auth, got %d", res.Code)
	}

	other := httptest.NewRequest(http.MethodPost, "/v1/lending/supply", nil)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, other)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected non-optional path to require a token, got %d", res.Code)
	}
}

func TestAuthenticatorFailsClosedWithoutSecret(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true}, nil)
	handler := auth.Middleware()(echoSubject())

	token := signToken(t, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/lending/supply", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when no secret is configured, got %d", res.Code)
	}
}
