package ingress

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(r *http.Request)
		expect string
	}{
		{
			name:   "bearer header",
			setup:  func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc123") },
			expect: "abc123",
		},
		{
			name:   "cookie",
			setup:  func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "auth_token", Value: "cookie-tok"}) },
			expect: "cookie-tok",
		},
		{
			name: "header wins over cookie",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer header-tok")
				r.AddCookie(&http.Cookie{Name: "auth_token", Value: "cookie-tok"})
			},
			expect: "header-tok",
		},
		{
			name:   "basic scheme ignored",
			setup:  func(r *http.Request) { r.Header.Set("Authorization", "Basic dXNlcjpwYXNz") },
			expect: "",
		},
		{
			name:   "nothing",
			setup:  func(r *http.Request) {},
			expect: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(r)
			assert.Equal(t, tt.expect, TokenFromRequest(r))
		})
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(r *http.Request)
		expect string
	}{
		{
			name:   "x-forwarded-for first hop",
			setup:  func(r *http.Request) { r.Header.Set("X-Forwarded-For", "10.1.2.3, 172.16.0.1") },
			expect: "10.1.2.3",
		},
		{
			name:   "x-real-ip",
			setup:  func(r *http.Request) { r.Header.Set("X-Real-IP", "10.9.8.7") },
			expect: "10.9.8.7",
		},
		{
			name:   "remote addr",
			setup:  func(r *http.Request) { r.RemoteAddr = "192.0.2.44:53211" },
			expect: "192.0.2.44",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(r)
			assert.Equal(t, tt.expect, ClientIP(r))
		})
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	limiter := NewRateLimiter(1, 2)
	defer limiter.Stop()

	// Burst of 2 for one client, then denied.
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))

	// A different client has its own bucket.
	assert.True(t, limiter.Allow("10.0.0.2"))
}

func TestRateLimiterCleanupCapsMap(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	defer limiter.Stop()

	limiter.Allow("10.0.0.1")
	limiter.Cleanup()

	limiter.mu.Lock()
	count := len(limiter.limiters)
	limiter.mu.Unlock()
	assert.Equal(t, 1, count, "small maps survive cleanup")
}
