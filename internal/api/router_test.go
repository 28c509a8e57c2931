package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/cipherroom/internal/config"
	"github.com/eldtechnologies/cipherroom/internal/handlers"
	"github.com/eldtechnologies/cipherroom/internal/messages"
	"github.com/eldtechnologies/cipherroom/internal/store"
)

func setupRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Limits:      config.Limits{MaxJSONSize: 256, MaxUserLen: 64, MaxIVLen: 64, MaxContentLen: 128},
		CORSOrigins: []string{"*"},
	}
	fs, err := store.NewFileStore(filepath.Join(t.TempDir(), "messages"), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	svc := messages.NewService(fs, cfg.Limits, zerolog.Nop())
	return NewRouter(zerolog.Nop(), cfg, handlers.NewHandler(svc, nil, zerolog.Nop()), nil)
}

func TestRouterEndToEnd(t *testing.T) {
	r := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/messages/0123456789abcdef",
		strings.NewReader(`{"user":"u","user_iv":"a","content":"c","iv":"b"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("POST: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if resp.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on response")
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/messages/0123456789abcdef?limit=1", nil))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"id":1`) {
		t.Errorf("GET: unexpected %d %s", resp.Code, resp.Body.String())
	}
}

func TestRouterRejectsOversizedBody(t *testing.T) {
	r := setupRouter(t)

	body := `{"user":"u","user_iv":"a","content":"` + strings.Repeat("x", 300) + `","iv":"b"}`
	req := httptest.NewRequest(http.MethodPost, "/api/messages/0123456789abcdef", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", resp.Code)
	}
}

func TestRouterHealthAndMetrics(t *testing.T) {
	r := setupRouter(t)

	for _, path := range []string{"/health", "/metrics", "/", "/api/messages"} {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, resp.Code)
		}
	}
}

func TestRouterLiveFeedDisabled(t *testing.T) {
	r := setupRouter(t)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/ws/messages/0123456789abcdef", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without hub, got %d", resp.Code)
	}
}
