package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ecompulse.app/internal/auth"
)

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), "user-1", []string{"admin"}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireRoleRejectsMissingRole(t *testing.T) {
	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), "user-1", []string{"viewer"}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestRequireRoleRejectsMissingUser(t *testing.T) {
	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestWithSession(t *testing.T) {
	tokens, err := auth.NewTokens("session-secret")
	if err != nil {
		t.Fatal(err)
	}
	a := &API{sessions: tokens}
	var gotUser, gotEmail string
	handler := a.withSession(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = auth.UserIDFromContext(r.Context())
		gotEmail = auth.EmailFromContext(r.Context())
	})

	valid, err := tokens.Issue("user-1", "ann@example.com", "Ann", nil, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/user/profile", nil)
			if tc.header != "" {
				req.Header.Set(authHeader, tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
	if gotUser != "user-1" || gotEmail != "ann@example.com" {
		t.Fatalf("context identity = %q %q", gotUser, gotEmail)
	}
}

func TestWithSessionUnconfigured(t *testing.T) {
	rr := httptest.NewRecorder()
	(&API{}).withSession(func(http.ResponseWriter, *http.Request) {}).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestWithCronSecret(t *testing.T) {
	a := &API{cronSecret: "cron-secret"}
	handler := a.withCronSecret(func(w http.ResponseWriter, r *http.Request) {})
	for header, want := range map[string]int{
		"Bearer cron-secret": http.StatusOK,
		"Bearer wrong":       http.StatusUnauthorized,
		"":                   http.StatusUnauthorized,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/cron/product-week-rank", nil)
		if header != "" {
			req.Header.Set(authHeader, header)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Fatalf("%q: expected %d, got %d", header, want, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	(&API{}).withCronSecret(func(http.ResponseWriter, *http.Request) {}).
		ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("unset secret: expected 503, got %d", rr.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	if tok, err := extractBearerToken("bearer  abc "); err != nil || tok != "abc" {
		t.Fatalf("got %q, %v", tok, err)
	}
	for _, h := range []string{"", "Bearer ", "Token abc", "Bear"} {
		if _, err := extractBearerToken(h); err == nil {
			t.Fatalf("%q: expected error", h)
		}
	}
}
