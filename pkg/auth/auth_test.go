package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/helicon-ai/helicon/pkg/config"
)

// jwksFixture serves a generated RSA key set and signs tokens with it.
type jwksFixture struct {
	key    jwk.Key
	server *httptest.Server
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()

	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key, err := jwk.FromRaw(raw)
	if err != nil {
		t.Fatalf("wrap key: %v", err)
	}
	key.Set(jwk.KeyIDKey, "test-key")
	key.Set(jwk.AlgorithmKey, jwa.RS256)

	pub, err := key.PublicKey()
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	set := jwk.NewSet()
	set.AddKey(pub)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(server.Close)

	return &jwksFixture{key: key, server: server}
}

func (f *jwksFixture) sign(t *testing.T, subject, issuer, audience string) string {
	t.Helper()
	tok, err := jwt.NewBuilder().
		Subject(subject).
		Issuer(issuer).
		Audience([]string{audience}).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour)).
		Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, f.key))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return string(signed)
}

func authConfig(jwksURL string) config.AuthConfig {
	return config.AuthConfig{
		Enabled:         true,
		JWKSURL:         jwksURL,
		Issuer:          "https://sso.example.com",
		Audience:        "helicon",
		RefreshInterval: 15 * time.Minute,
		ExcludedPaths:   []string{"/healthz"},
	}
}

func TestValidator_AcceptsGoodToken(t *testing.T) {
	fixture := newJWKSFixture(t)
	cfg := authConfig(fixture.server.URL)

	v, err := NewValidator(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	token := fixture.sign(t, "alice", cfg.Issuer, cfg.Audience)
	claims, err := v.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("subject = %q", claims.Subject)
	}
}

func TestValidator_RejectsWrongIssuer(t *testing.T) {
	fixture := newJWKSFixture(t)
	cfg := authConfig(fixture.server.URL)

	v, err := NewValidator(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	token := fixture.sign(t, "alice", "https://evil.example.com", cfg.Audience)
	if _, err := v.Validate(context.Background(), token); err == nil {
		t.Fatal("token with wrong issuer accepted")
	}
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(UserID(r.Context())))
	})
}

func TestMiddleware_DisabledUsesHeader(t *testing.T) {
	handler := Middleware(config.AuthConfig{}, nil, nil)(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/v1/search", nil)
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Body.String() != "alice" {
		t.Errorf("user = %q", rec.Body.String())
	}

	// No header falls back to the default identity.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/search", nil))
	if rec.Body.String() != DefaultUserID {
		t.Errorf("user = %q, want %q", rec.Body.String(), DefaultUserID)
	}
}

func TestMiddleware_EnabledRejectsMissingToken(t *testing.T) {
	fixture := newJWKSFixture(t)
	cfg := authConfig(fixture.server.URL)
	v, err := NewValidator(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	handler := Middleware(cfg, v, nil)(echoUser())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/chat", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}

	// Excluded paths bypass authentication entirely.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("excluded path status = %d", rec.Code)
	}
}

func TestMiddleware_EnabledAcceptsBearerAndCookie(t *testing.T) {
	fixture := newJWKSFixture(t)
	cfg := authConfig(fixture.server.URL)
	v, err := NewValidator(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	handler := Middleware(cfg, v, nil)(echoUser())
	token := fixture.sign(t, "bob", cfg.Issuer, cfg.Audience)

	req := httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Body.String() != "bob" {
		t.Errorf("bearer user = %q", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Body.String() != "bob" {
		t.Errorf("cookie user = %q", rec.Body.String())
	}
}
