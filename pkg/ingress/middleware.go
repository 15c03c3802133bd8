package ingress

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuemby/hutch/pkg/log"
)

// AuthCookie is the session cookie set on login for browser clients.
const AuthCookie = "auth_token"

// TokenFromRequest resolves the session token for a request: the
// Authorization header wins, the auth_token cookie is the fallback for
// browser clients. Returns "" when neither is present.
func TokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
	}
	if cookie, err := r.Cookie(AuthCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// ClientIP extracts the originating client address, trusting proxy headers
// when present: first X-Forwarded-For hop, then X-Real-IP, then RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimiter hands out one token bucket per client IP. It guards the
// credential endpoints against brute forcing; everything else is unmetered.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a per-IP limiter allowing rps sustained requests
// with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		stopCh:   make(chan struct{}),
	}
}

// Allow reports whether the client may proceed and consumes a token if so.
func (l *RateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[ip] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// Cleanup drops the limiter map once it grows past a bound. Buckets refill
// in well under a minute, so discarding state only ever relaxes limits.
func (l *RateLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.limiters) > 10000 {
		log.WithComponent("ingress").Info().
			Int("count", len(l.limiters)).
			Msg("clearing rate limiter buckets")
		l.limiters = make(map[string]*rate.Limiter)
	}
}

// StartCleanupJob prunes limiter state hourly until Stop is called.
func (l *RateLimiter) StartCleanupJob() {
	ticker := time.NewTicker(time.Hour)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-l.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the cleanup job.
func (l *RateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}
