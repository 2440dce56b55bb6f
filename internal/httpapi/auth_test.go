package httpapi

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestPINGuard(t *testing.T) {
	guard := NewPINGuard(" 739154 ")
	if !guard.Enabled() {
		t.Fatalf("expected guard enabled")
	}
	if !guard.Validate("739154") {
		t.Fatalf("expected correct PIN to validate")
	}
	if guard.Validate("739155") || guard.Validate("") {
		t.Fatalf("expected wrong or empty PIN to fail")
	}
}

func TestPINGuardDisabledWithoutPIN(t *testing.T) {
	guard := NewPINGuard("")
	if guard.Enabled() {
		t.Fatalf("expected guard disabled")
	}
	if guard.Validate("anything") {
		t.Fatalf("expected disabled guard to reject")
	}
	var nilGuard *PINGuard
	if nilGuard.Enabled() {
		t.Fatalf("expected nil guard disabled")
	}
}

func TestClientLimiterIsPerClient(t *testing.T) {
	limiter := newClientLimiter(2, time.Minute)
	if !limiter.Allow("a") || !limiter.Allow("a") {
		t.Fatalf("expected burst of 2 for client a")
	}
	if limiter.Allow("a") {
		t.Fatalf("expected third attempt from a to be limited")
	}
	if !limiter.Allow("b") {
		t.Fatalf("expected client b to have its own budget")
	}
}

func TestClientKeyStripsPort(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.168.1.20:51234"
	if got := clientKey(req); got != "192.168.1.20" {
		t.Fatalf("expected host only, got %q", got)
	}
	req.RemoteAddr = "[::1]:8080"
	if got := clientKey(req); got != "::1" {
		t.Fatalf("expected ipv6 host, got %q", got)
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if bearerToken(req) != "" {
		t.Fatalf("expected empty token")
	}
	req.Header.Set("Authorization", "bearer  abc.def ")
	if got := bearerToken(req); got != "abc.def" {
		t.Fatalf("expected abc.def, got %q", got)
	}
}
