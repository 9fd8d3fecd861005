package web

import (
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestAuthLimiter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewAuthLimiter(3, 15*time.Minute)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		l.RecordFailure("198.51.100.1")
	}
	if d := l.LockedFor("198.51.100.1"); d != 0 {
		t.Fatalf("locked after 2 failures: %v", d)
	}
	l.RecordFailure("198.51.100.1")
	if d := l.LockedFor("198.51.100.1"); d != 15*time.Minute {
		t.Fatalf("LockedFor = %v, want 15m", d)
	}
	if d := l.LockedFor("198.51.100.2"); d != 0 {
		t.Errorf("other ip locked: %v", d)
	}

	// Further failures while locked do not extend the lockout.
	now = now.Add(10 * time.Minute)
	l.RecordFailure("198.51.100.1")
	if d := l.LockedFor("198.51.100.1"); d != 5*time.Minute {
		t.Errorf("LockedFor = %v, want 5m", d)
	}

	now = now.Add(5 * time.Minute)
	if d := l.LockedFor("198.51.100.1"); d != 0 {
		t.Errorf("lockout did not expire: %v", d)
	}
	l.RecordFailure("198.51.100.1")
	if d := l.LockedFor("198.51.100.1"); d != 0 {
		t.Errorf("expired lockout must reset the count, got %v", d)
	}

	l.RecordFailure("198.51.100.3")
	l.RecordFailure("198.51.100.3")
	l.Clear("198.51.100.3")
	l.RecordFailure("198.51.100.3")
	if d := l.LockedFor("198.51.100.3"); d != 0 {
		t.Errorf("Clear did not reset the count: %v", d)
	}
}

func TestAuthLimiter_PrunesStaleEntries(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewAuthLimiter(5, time.Minute)
	l.now = func() time.Time { return now }

	for i := 0; i < pruneAt; i++ {
		l.RecordFailure("10.0.0." + strconv.Itoa(i))
	}
	now = now.Add(2 * time.Minute)
	l.RecordFailure("192.0.2.1")
	if n := len(l.attempts); n != 1 {
		t.Errorf("tracked ips = %d, want 1 after pruning", n)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.10:53211"
	if got := clientIP(r); got != "192.0.2.10" {
		t.Errorf("clientIP = %q", got)
	}
	r.RemoteAddr = "192.0.2.11"
	if got := clientIP(r); got != "192.0.2.11" {
		t.Errorf("clientIP without port = %q", got)
	}
}
