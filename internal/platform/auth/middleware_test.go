package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func runJWT(t *testing.T, cfg JWTConfig, header string, handler echo.HandlerFunc) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	if handler == nil {
		handler = func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	}
	return c, JWTMiddleware(cfg)(handler)(c)
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "", nil)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	for _, header := range []string{"Token abc123", "Bearer", "Bearer ", "Basic dXNlcjpwYXNz"} {
		_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, header, nil)
		expectStatus(t, err, http.StatusUnauthorized)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	token := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "reviewer-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}, testSigningKey)
	_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+token, nil)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	token := createTestToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "x"}}, []byte("other"))
	_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "Bearer "+token, nil)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_ClaimsExtraction(t *testing.T) {
	token := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "reviewer-7",
			Issuer:    "https://idp.scheme.test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		SchemeID:   "nhis",
		Roles:      []string{RoleReviewer},
		FacilityID: "fac-1",
	}, testSigningKey)

	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "https://idp.scheme.test"}
	c, err := runJWT(t, cfg, "Bearer "+token, func(c echo.Context) error {
		ctx := c.Request().Context()
		if UserIDFromContext(ctx) != "reviewer-7" {
			t.Errorf("expected reviewer-7, got %s", UserIDFromContext(ctx))
		}
		if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RoleReviewer {
			t.Errorf("unexpected roles %v", roles)
		}
		if FacilityFromContext(ctx) != "fac-1" {
			t.Errorf("expected fac-1, got %s", FacilityFromContext(ctx))
		}
		if Actor(c) != "reviewer-7" {
			t.Errorf("expected actor reviewer-7, got %s", Actor(c))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Get("jwt_scheme_id") != "nhis" {
		t.Errorf("expected jwt_scheme_id nhis, got %v", c.Get("jwt_scheme_id"))
	}
}

func TestJWTMiddleware_WrongIssuer(t *testing.T) {
	token := createTestToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "x", Issuer: "evil"}}, testSigningKey)
	_, err := runJWT(t, JWTConfig{SigningKey: testSigningKey, Issuer: "https://idp.scheme.test"}, "Bearer "+token, nil)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestDevAuthMiddleware_Defaults(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := DevAuthMiddleware()(func(c echo.Context) error {
		if Actor(c) != "dev-user" {
			t.Errorf("expected dev-user, got %s", Actor(c))
		}
		if roles := RolesFromContext(c.Request().Context()); len(roles) != 1 || roles[0] != RoleAdmin {
			t.Errorf("expected admin role, got %v", roles)
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_HeaderOverrides(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Dev-User", "finance-officer")
	req.Header.Set("X-Dev-Roles", "finance, reviewer")
	c := e.NewContext(req, httptest.NewRecorder())

	_ = DevAuthMiddleware()(func(c echo.Context) error {
		roles := RolesFromContext(c.Request().Context())
		if len(roles) != 2 || roles[0] != RoleFinance || roles[1] != RoleReviewer {
			t.Errorf("unexpected roles %v", roles)
		}
		if Actor(c) != "finance-officer" {
			t.Errorf("expected finance-officer, got %s", Actor(c))
		}
		return nil
	})(c)
}
