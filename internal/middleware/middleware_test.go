package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/capitalize-ai/messenger-pipeline/pkg/logger"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims Claims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestAuth(t *testing.T) {
	var seenTenant string
	var seenAdmin bool
	h := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenTenant = GetTenantID(r.Context())
		seenAdmin = HasScope(r.Context(), ScopeAdmin)
		w.WriteHeader(http.StatusNoContent)
	}))

	valid := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ops", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		TenantID:         "acme",
		Scopes:           []string{ScopeAdmin},
	}, testSecret)
	expired := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	}, testSecret)
	wrongKey := signToken(t, Claims{TenantID: "acme"}, "other")

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + valid, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"bad scheme", "Basic " + valid, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
	if seenTenant != "acme" || !seenAdmin {
		t.Fatalf("claims not propagated: tenant=%q admin=%v", seenTenant, seenAdmin)
	}
}

func TestCanAccessTenant(t *testing.T) {
	admin := context.WithValue(context.Background(), ScopesKey, []string{ScopeAdmin})
	owner := context.WithValue(context.Background(), TenantIDKey, "acme")

	if !CanAccessTenant(admin, "anything") {
		t.Fatal("admin should access any tenant")
	}
	if !CanAccessTenant(owner, "acme") || CanAccessTenant(owner, "other") {
		t.Fatal("tenant token should only access its own tenant")
	}
	if CanAccessTenant(context.Background(), "") {
		t.Fatal("anonymous context must not match an empty tenant")
	}
}

func TestValidation(t *testing.T) {
	if err := ValidateChannelID("1234567890"); err != nil {
		t.Fatalf("numeric page id rejected: %v", err)
	}
	for _, bad := range []string{"", "12a4", "1:2"} {
		if ValidateChannelID(bad) == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
	if ValidateTenantID("acme:evil") == nil || ValidateTenantID("") == nil {
		t.Fatal("tenant ids with separators or empty must be rejected")
	}
	if ValidateSenderID("6543210987") != nil {
		t.Fatal("valid sender rejected")
	}
	if ValidatePageToken("EAAB xyz") == nil {
		t.Fatal("token with whitespace must be rejected")
	}
}

func TestLoggingSetsCorrelationID(t *testing.T) {
	var seen string
	h := Logging(nopLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "abc-123" || rec.Header().Get("X-Correlation-ID") != "abc-123" {
		t.Fatalf("correlation id not propagated: ctx=%q header=%q", seen, rec.Header().Get("X-Correlation-ID"))
	}
}

func TestWebhookRateLimit(t *testing.T) {
	h := WebhookRateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
}

func nopLogger() *logger.Logger {
	return logger.NewNop()
}
