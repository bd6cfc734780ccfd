package api_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/b0r1v0j3/workers-united/api"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

func TestLoggingMiddleware_RequestID(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = api.RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})
	handler := api.LoggingMiddleware(next)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/log", nil))
	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusTeapot {
		t.Fatalf("expected status 418, got %d", res.StatusCode)
	}
	if seen == "" || res.Header.Get("X-Request-ID") != seen {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, res.Header.Get("X-Request-ID"))
	}

	req := httptest.NewRequest(http.MethodGet, "/log", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if seen != "client-123" {
		t.Fatalf("client request id not kept, got %q", seen)
	}
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := api.CORSMiddleware(next)

	wOpt := httptest.NewRecorder()
	handler.ServeHTTP(wOpt, httptest.NewRequest(http.MethodOptions, "/cors", nil))
	if wOpt.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for OPTIONS, got %d", wOpt.Code)
	}
	if got := wOpt.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected CORS header set, got %q", got)
	}

	wGet := httptest.NewRecorder()
	handler.ServeHTTP(wGet, httptest.NewRequest(http.MethodGet, "/cors", nil))
	if wGet.Code != http.StatusOK {
		t.Fatalf("expected 200 for GET, got %d", wGet.Code)
	}
	if got := wGet.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "GET") {
		t.Fatalf("expected Allow-Methods to include GET, got %q", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	pan := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	w := httptest.NewRecorder()
	api.RecoveryMiddleware(pan).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	res := w.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 from panic recovery, got %d", res.StatusCode)
	}
	b, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(b), "internal server error") {
		t.Fatalf("unexpected body for recovery: %s", string(b))
	}

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	w2 := httptest.NewRecorder()
	api.RecoveryMiddleware(ok).ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200 for normal path, got %d", w2.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := api.RateLimitMiddleware(rate.NewLimiter(rate.Every(time.Hour), 2))(next)

	codes := make([]int, 0, 3)
	for range 3 {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/hook", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
}

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return tok
}

func TestJWTAuthMiddlewareWithSecret(t *testing.T) {
	secret := "s3cr3t"
	var got api.Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = api.PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := api.JWTAuthMiddlewareWithSecret(secret)(next)
	exp := time.Now().Add(time.Hour).Unix()

	cases := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{name: "MissingHeader", authHeader: "", wantStatus: http.StatusUnauthorized},
		{name: "EmptyBearer", authHeader: "Bearer ", wantStatus: http.StatusUnauthorized},
		{name: "BasicScheme", authHeader: "Basic YWRtaW46YWRtaW4=", wantStatus: http.StatusUnauthorized},
		{name: "BadToken", authHeader: "Bearer bad.token.here", wantStatus: http.StatusUnauthorized},
		{name: "WrongSecret", authHeader: "Bearer " + sign(t, "other", jwt.MapClaims{"sub": "1", "role": "admin", "exp": exp}), wantStatus: http.StatusUnauthorized},
		{name: "Expired", authHeader: "Bearer " + sign(t, secret, jwt.MapClaims{"sub": "1", "role": "admin", "exp": time.Now().Add(-time.Minute).Unix()}), wantStatus: http.StatusUnauthorized},
		{name: "NoExpiry", authHeader: "Bearer " + sign(t, secret, jwt.MapClaims{"sub": "1", "role": "admin"}), wantStatus: http.StatusUnauthorized},
		{name: "UnknownRole", authHeader: "Bearer " + sign(t, secret, jwt.MapClaims{"sub": "1", "role": "employer", "exp": exp}), wantStatus: http.StatusUnauthorized},
		{name: "CandidateSubjectNotID", authHeader: "Bearer " + sign(t, secret, jwt.MapClaims{"sub": "ana", "role": "candidate", "exp": exp}), wantStatus: http.StatusUnauthorized},
		{name: "Candidate", authHeader: "Bearer " + sign(t, secret, jwt.MapClaims{"sub": "7", "role": "candidate", "exp": exp}), wantStatus: http.StatusOK},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/jwt", nil)
			if c.authHeader != "" {
				req.Header.Set("Authorization", c.authHeader)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != c.wantStatus {
				t.Fatalf("%s: want %d got %d", c.name, c.wantStatus, w.Code)
			}
		})
	}

	if got.Role != api.RoleCandidate || got.CandidateID != 7 {
		t.Fatalf("unexpected principal %+v", got)
	}
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := api.RequireRole(api.RoleAdmin)(next)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without principal, got %d", w.Code)
	}

	secret := "s3cr3t"
	chain := api.JWTAuthMiddlewareWithSecret(secret)(handler)
	for role, want := range map[string]int{api.RoleCandidate: http.StatusForbidden, api.RoleAdmin: http.StatusOK} {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+sign(t, secret, jwt.MapClaims{"sub": "3", "role": role, "exp": time.Now().Add(time.Hour).Unix()}))
		w := httptest.NewRecorder()
		chain.ServeHTTP(w, req)
		if w.Code != want {
			t.Fatalf("role %s: want %d got %d", role, want, w.Code)
		}
	}
}
