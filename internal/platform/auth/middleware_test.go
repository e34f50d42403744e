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
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func runJWT(t *testing.T, header string) (Caller, bool, echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var got Caller
	var ok bool
	h := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: "hospital-idp"})(func(c echo.Context) error {
		got, ok = CallerFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})
	err := h(c)
	return got, ok, c, err
}

func expectStatus(t *testing.T, err error, status int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != status {
		t.Errorf("expected %d, got %d", status, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, _, _, err := runJWT(t, "")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	for _, header := range []string{"Token abc", "Bearer", "Bearer ", "Basic dXNlcjpwYXNz"} {
		_, _, _, err := runJWT(t, header)
		if err == nil {
			t.Errorf("expected error for header %q", header)
			continue
		}
		expectStatus(t, err, http.StatusUnauthorized)
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	doctorID := int64(7)
	tok := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			Issuer:    "hospital-idp",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: "city_general",
		Roles:    []string{RoleDoctor},
		DoctorID: &doctorID,
	}, testSigningKey)

	caller, ok, c, err := runJWT(t, "Bearer "+tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected caller on context")
	}
	if caller.UserID != 42 {
		t.Errorf("expected user 42, got %d", caller.UserID)
	}
	if caller.IsAdmin {
		t.Error("doctor should not be admin")
	}
	if caller.DoctorID == nil || *caller.DoctorID != 7 {
		t.Errorf("expected doctor binding 7, got %v", caller.DoctorID)
	}
	if tid, _ := c.Get("jwt_tenant_id").(string); tid != "city_general" {
		t.Errorf("expected jwt_tenant_id city_general, got %q", tid)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	tok := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			Issuer:    "hospital-idp",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}, testSigningKey)

	_, _, _, err := runJWT(t, "Bearer "+tok)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongIssuer(t *testing.T) {
	tok := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, testSigningKey)

	_, _, _, err := runJWT(t, "Bearer "+tok)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_NonNumericSubject(t *testing.T) {
	tok := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "dev-user",
			Issuer:    "hospital-idp",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, testSigningKey)

	_, _, _, err := runJWT(t, "Bearer "+tok)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestDevAuthMiddleware_DefaultsToAdmin(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	var got Caller
	h := DevAuthMiddleware()(func(c echo.Context) error {
		got, _ = CallerFromContext(c.Request().Context())
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsAdmin {
		t.Error("expected admin caller by default")
	}
}

func TestDevAuthMiddleware_Headers(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "9")
	req.Header.Set("X-Roles", "doctor")
	req.Header.Set("X-Doctor-ID", "7")
	c := e.NewContext(req, httptest.NewRecorder())

	var got Caller
	h := DevAuthMiddleware()(func(c echo.Context) error {
		got, _ = CallerFromContext(c.Request().Context())
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UserID != 9 || got.IsAdmin {
		t.Errorf("unexpected caller %+v", got)
	}
	if got.DoctorID == nil || *got.DoctorID != 7 {
		t.Error("expected doctor binding 7")
	}
	if CallerID(c.Request().Context()) != 9 {
		t.Error("expected CallerID 9")
	}
}
