package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func signToken(t *testing.T, claims *Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func runJWT(t *testing.T, cfg JWTConfig, authHeader string) (int, context.Context) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen context.Context
	err := JWTMiddleware(cfg)(func(c echo.Context) error {
		seen = c.Request().Context()
		return c.NoContent(http.StatusOK)
	})(c)
	if err != nil {
		if he, ok := err.(*echo.HTTPError); ok {
			return he.Code, nil
		}
		t.Fatalf("unexpected error type %T", err)
	}
	return rec.Code, seen
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role:      "physician",
		SessionID: "sess-1",
	}
	code, ctx := runJWT(t, JWTConfig{SigningKey: testKey}, "Bearer "+signToken(t, claims, testKey))
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if UserIDFromContext(ctx) != "user-42" {
		t.Errorf("user id = %q", UserIDFromContext(ctx))
	}
	if RoleFromContext(ctx) != "physician" {
		t.Errorf("role = %q", RoleFromContext(ctx))
	}
	if SessionFromContext(ctx) != "sess-1" {
		t.Errorf("session = %q", SessionFromContext(ctx))
	}
}

func TestJWTMiddleware_Rejections(t *testing.T) {
	valid := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "nurse",
	}
	expired := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		Role: "nurse",
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"malformed header", "Token abc"},
		{"garbage token", "Bearer not.a.jwt"},
		{"wrong key", "Bearer " + signToken(t, valid, []byte("another-key-entirely-32-bytes!!!"))},
		{"expired", "Bearer " + signToken(t, expired, testKey)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := runJWT(t, JWTConfig{SigningKey: testKey}, tt.header)
			if code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", code)
			}
		})
	}
}

func TestJWTMiddleware_IssuerCheck(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			Issuer:    "other-issuer",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "nurse",
	}
	code, _ := runJWT(t, JWTConfig{SigningKey: testKey, Issuer: "carelink"}, "Bearer "+signToken(t, claims, testKey))
	if code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for issuer mismatch", code)
	}
}

func TestIdentityAccessors_Unbound(t *testing.T) {
	ctx := context.Background()
	if UserIDFromContext(ctx) != "" || RoleFromContext(ctx) != "" || SessionFromContext(ctx) != "" {
		t.Error("unauthenticated context must report empty identity")
	}
}
