package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runSecurityHeaders(t *testing.T, cfg SecurityConfig, path string) http.Header {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, path, nil), rec)

	if err := SecurityHeaders(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return rec.Header()
}

func TestSecurityHeaders_Base(t *testing.T) {
	h := runSecurityHeaders(t, SecurityConfig{}, "/api/v1/clients")

	for _, kv := range baseSecurityHeaders {
		if got := h.Get(kv[0]); got != kv[1] {
			t.Errorf("%s = %q, want %q", kv[0], got, kv[1])
		}
	}
	if got := h.Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	if h.Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must be off unless enabled")
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	h := runSecurityHeaders(t, SecurityConfig{HSTS: true}, "/api/v1/clients")
	if got := h.Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Errorf("Strict-Transport-Security = %q", got)
	}
}

func TestSecurityHeaders_NoStorePrefixes(t *testing.T) {
	cfg := SecurityConfig{NoStorePrefixes: []string{"/api/"}}
	if got := runSecurityHeaders(t, cfg, "/api/v1/appointments").Get("Cache-Control"); got != "no-store" {
		t.Errorf("api response Cache-Control = %q, want no-store", got)
	}
	if got := runSecurityHeaders(t, cfg, "/health").Get("Cache-Control"); got != "" {
		t.Errorf("health response Cache-Control = %q, want empty", got)
	}
}
