package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"propcopy/internal/auth"
)

func TestAuthMiddleware(t *testing.T) {
	svc := auth.NewService("secret", time.Hour)
	token, _ := svc.GenerateToken("u1", "alice")

	var gotUser string
	h := AuthMiddleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = GetUserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"bearer header", "Bearer " + token, "", http.StatusNoContent},
		{"query token", "", "?token=" + token, http.StatusNoContent},
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, "", http.StatusUnauthorized},
		{"invalid token", "Bearer nope", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUser = ""

			req := httptest.NewRequest(http.MethodGet, "/ws"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
			if tt.want == http.StatusNoContent && gotUser != "u1" {
				t.Errorf("expected user u1 in context, got %q", gotUser)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	restricted := CORS([]string{"https://app.example.com"})(next)

	req := httptest.NewRequest(http.MethodGet, "/api/pool", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	restricted.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("expected echoed origin, got %q", got)
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("request must reach the handler, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/pool", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	restricted.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unknown origin must not be allowed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/pool", nil)
	rec = httptest.NewRecorder()
	CORS(nil)(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight: unexpected %d %q", rec.Code, rec.Header().Get("Access-Control-Allow-Origin"))
	}
}
