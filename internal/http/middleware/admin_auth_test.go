package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAdminJWTRejects(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		header string
	}{
		{name: "auth disabled", secret: "", header: "Bearer " + signedAdminToken(t, jwt.SigningMethodHS256, "", time.Minute)},
		{name: "missing header", secret: "secret"},
		{name: "wrong scheme", secret: "secret", header: "Basic abc"},
		{name: "empty bearer", secret: "secret", header: "Bearer "},
		{name: "wrong secret", secret: "secret", header: "Bearer " + signedAdminToken(t, jwt.SigningMethodHS256, "wrong", time.Minute)},
		{name: "other hmac alg", secret: "secret", header: "Bearer " + signedAdminToken(t, jwt.SigningMethodHS512, "secret", time.Minute)},
		{name: "expired", secret: "secret", header: "Bearer " + signedAdminToken(t, jwt.SigningMethodHS256, "secret", -time.Minute)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/jobs/1", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()

			AdminJWT(tc.secret, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("handler should not run")
			})).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
			}
		})
	}
}

func TestAdminJWTValidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/admin/jobs/1", nil)
	req.Header.Set("Authorization", "bearer "+signedAdminToken(t, jwt.SigningMethodHS256, "secret", 5*time.Minute))
	rec := httptest.NewRecorder()

	called := false
	AdminJWT("secret", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		claims, ok := AdminClaimsFromContext(r.Context())
		if !ok {
			t.Fatalf("expected admin claims in context")
		}
		if claims.Subject != "ops" {
			t.Fatalf("unexpected subject %q", claims.Subject)
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to be called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func signedAdminToken(t *testing.T, method jwt.SigningMethod, secret string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
