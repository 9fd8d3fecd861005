package web

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// pruneAt is the tracked-IP count above which RecordFailure sweeps out
// expired entries.
const pruneAt = 1024

// AuthLimiter tracks rejected API keys per client IP and locks an IP out
// once it reaches the attempt limit.
type AuthLimiter struct {
	mu          sync.Mutex
	attempts    map[string]*authAttempt
	maxAttempts int
	lockout     time.Duration
	now         func() time.Time
}

type authAttempt struct {
	failCount int
	lastFail  time.Time
	lockedAt  time.Time
}

func NewAuthLimiter(maxAttempts int, lockout time.Duration) *AuthLimiter {
	return &AuthLimiter{
		attempts:    make(map[string]*authAttempt),
		maxAttempts: maxAttempts,
		lockout:     lockout,
		now:         time.Now,
	}
}

// LockedFor returns how long ip remains locked out, or zero.
func (l *AuthLimiter) LockedFor(ip string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.attempts[ip]
	if !ok || a.failCount < l.maxAttempts {
		return 0
	}
	left := l.lockout - l.now().Sub(a.lockedAt)
	if left <= 0 {
		delete(l.attempts, ip)
		return 0
	}
	return left
}

// RecordFailure counts a rejected key from ip.
func (l *AuthLimiter) RecordFailure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if len(l.attempts) >= pruneAt {
		l.pruneLocked(now)
	}
	a, ok := l.attempts[ip]
	if !ok {
		a = &authAttempt{}
		l.attempts[ip] = a
	}
	a.failCount++
	a.lastFail = now
	if a.failCount == l.maxAttempts {
		a.lockedAt = now
	}
}

// Clear forgets ip after a successful request.
func (l *AuthLimiter) Clear(ip string) {
	l.mu.Lock()
	delete(l.attempts, ip)
	l.mu.Unlock()
}

func (l *AuthLimiter) pruneLocked(now time.Time) {
	for ip, a := range l.attempts {
		if now.Sub(a.lastFail) >= l.lockout {
			delete(l.attempts, ip)
		}
	}
}

// clientIP is the request's remote host. middleware.RealIP has already
// replaced RemoteAddr with the forwarded address when one was sent.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
