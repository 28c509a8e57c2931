package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func newLimiter(t *testing.T, cfg RateLimiterConfig) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client, zerolog.Nop(), cfg), mr
}

func doRequest(h http.Handler, method, target, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = ip + ":4321"
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestRateLimiterBlocksAfterLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
	rl, _ := newLimiter(t, RateLimiterConfig{
		Limits: []RateLimit{{"POST /api/messages/", "post_message", 3, time.Minute}},
		Now:    func() time.Time { return now },
	})
	h := rl.Middleware(okHandler)

	for i := 0; i < 3; i++ {
		if resp := doRequest(h, http.MethodPost, "/api/messages/deadbeefdeadbeef", "192.0.2.1"); resp.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, resp.Code)
		}
	}

	resp := doRequest(h, http.MethodPost, "/api/messages/deadbeefdeadbeef", "192.0.2.1")
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// Other clients and unlimited endpoints are unaffected.
	if resp := doRequest(h, http.MethodPost, "/api/messages/deadbeefdeadbeef", "192.0.2.2"); resp.Code != http.StatusOK {
		t.Errorf("other IP: expected 200, got %d", resp.Code)
	}
	if resp := doRequest(h, http.MethodGet, "/health", "192.0.2.1"); resp.Code != http.StatusOK {
		t.Errorf("unlimited endpoint: expected 200, got %d", resp.Code)
	}

	// A new window resets the count.
	now = now.Add(time.Minute)
	if resp := doRequest(h, http.MethodPost, "/api/messages/deadbeefdeadbeef", "192.0.2.1"); resp.Code != http.StatusOK {
		t.Errorf("next window: expected 200, got %d", resp.Code)
	}
}

func TestRateLimiterWhitelist(t *testing.T) {
	rl, _ := newLimiter(t, RateLimiterConfig{
		Whitelist: []string{"10.0.0.0/8", "192.0.2.9"},
		Limits:    []RateLimit{{"GET /api/messages/", "list_messages", 1, time.Minute}},
		Now:       func() time.Time { return time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC) },
	})
	h := rl.Middleware(okHandler)

	for _, ip := range []string{"10.1.2.3", "192.0.2.9"} {
		for i := 0; i < 3; i++ {
			if resp := doRequest(h, http.MethodGet, "/api/messages/deadbeefdeadbeef", ip); resp.Code != http.StatusOK {
				t.Errorf("%s: expected whitelisted 200, got %d", ip, resp.Code)
			}
		}
	}
}

func TestRateLimiterAutoBlock(t *testing.T) {
	rl, mr := newLimiter(t, RateLimiterConfig{
		AutoBlockEnabled: true,
		Limits:           []RateLimit{{"GET /api/messages/", "list_messages", 1, time.Minute}},
		Now:              func() time.Time { return time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC) },
	})
	h := rl.Middleware(okHandler)

	for i := 0; i < autoBlockThreshold+1; i++ {
		doRequest(h, http.MethodGet, "/api/messages/deadbeefdeadbeef", "192.0.2.5")
	}
	if !mr.Exists(blockKey("192.0.2.5")) {
		t.Fatal("expected IP to be blocked")
	}
	if resp := doRequest(h, http.MethodGet, "/health", "192.0.2.5"); resp.Code != http.StatusForbidden {
		t.Errorf("blocked IP: expected 403, got %d", resp.Code)
	}

	rl.blocker.Unblock(context.Background(), "192.0.2.5")
	if resp := doRequest(h, http.MethodGet, "/health", "192.0.2.5"); resp.Code != http.StatusOK {
		t.Errorf("unblocked IP: expected 200, got %d", resp.Code)
	}
}

func TestRateLimiterWithoutRedis(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})
	h := rl.Middleware(okHandler)
	for i := 0; i < 200; i++ {
		if resp := doRequest(h, http.MethodPost, "/api/messages/deadbeefdeadbeef", "192.0.2.1"); resp.Code != http.StatusOK {
			t.Fatalf("expected pass-through, got %d", resp.Code)
		}
	}
}

func TestMaxBodySize(t *testing.T) {
	var readErr error
	h := MaxBodySize(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/messages/x", strings.NewReader(strings.Repeat("a", 17)))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("declared length: expected 413, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/messages/x", strings.NewReader(strings.Repeat("a", 17)))
	req.ContentLength = -1
	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	var tooLarge *http.MaxBytesError
	if readErr == nil || !errors.As(readErr, &tooLarge) {
		t.Errorf("unknown length: expected MaxBytesError, got %v", readErr)
	}
}

func TestValidateRequest(t *testing.T) {
	h := ValidateRequest(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/api/messages/x", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "text/plain")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/messages/x", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.Code)
	}

	if resp := doRequest(h, http.MethodGet, "/api/messages/x?since_ts=<script>", "192.0.2.1"); resp.Code != http.StatusBadRequest {
		t.Errorf("suspicious query: expected 400, got %d", resp.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	resp := doRequest(SecurityHeaders(okHandler), http.MethodGet, "/health", "192.0.2.1")
	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy"} {
		if resp.Header().Get(h) == "" {
			t.Errorf("missing %s", h)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/api/messages/deadbeefdeadbeef": "/api/messages/:room",
		"/ws/messages/deadbeefdeadbeef":  "/ws/messages/:room",
		"/api/messages":                  "/api/messages",
		"/health":                        "/health",
		"/random/probe":                  "other",
	}
	for in, want := range cases {
		if got := normalizePath(in); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}
