package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSizeLimiterRejectsLargeBody(t *testing.T) {
	sl := NewSizeLimiter(&SizeLimitConfig{Enabled: true, MaxBodySize: 16, MaxURLLength: 8192})
	handler := sl.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(strings.Repeat("x", 64)))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rr.Code)
	}
}

func TestSizeLimiterRejectsLongURL(t *testing.T) {
	sl := NewSizeLimiter(&SizeLimitConfig{Enabled: true, MaxBodySize: 1024, MaxURLLength: 20})
	handler := sl.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/events?"+strings.Repeat("a", 64), nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestURITooLong {
		t.Errorf("status = %d, want 414", rr.Code)
	}
}

func TestSizeLimiterAllowsSmallRequests(t *testing.T) {
	sl := NewSizeLimiter(nil)
	handler := sl.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{"auctionId":"a-1"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rr.Code)
	}
}

func TestSizeLimiterDisabled(t *testing.T) {
	sl := NewSizeLimiter(&SizeLimitConfig{Enabled: false, MaxBodySize: 1, MaxURLLength: 1})
	handler := sl.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader("well over one byte"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204 when disabled", rr.Code)
	}
}

func TestSizeLimiterSetters(t *testing.T) {
	sl := NewSizeLimiter(nil)
	sl.SetMaxBodySize(42)
	sl.SetMaxURLLength(77)
	sl.SetEnabled(false)

	cfg := sl.GetConfig()
	if cfg.MaxBodySize != 42 || cfg.MaxURLLength != 77 || cfg.Enabled {
		t.Errorf("config after setters = %+v", cfg)
	}
}
