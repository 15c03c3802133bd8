package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	apperrors "github.com/cuemby/hutch/pkg/errors"
	"github.com/cuemby/hutch/pkg/ingress"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/types"
)

type contextKey string

const userContextKey contextKey = "hutch.user"

// userFrom returns the authenticated user stored by requireAuth. Handlers
// behind the middleware may assume it is non-nil.
func userFrom(ctx context.Context) *types.User {
	user, _ := ctx.Value(userContextKey).(*types.User)
	return user
}

// requireAuth resolves the session token (Authorization header, then the
// auth_token cookie) and stores the user in the request context. Missing or
// dead sessions end the request with 401.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ingress.TokenFromRequest(r)
		if token == "" {
			metrics.AuthFailuresTotal.Inc()
			respondError(w, apperrors.Unauthorized("authentication required").WithCode(apperrors.CodeUnauthorized))
			return
		}

		user, err := s.users.VerifySession(token)
		if err != nil {
			metrics.AuthFailuresTotal.Inc()
			respondError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin rejects non-admin callers. It must run behind requireAuth.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFrom(r.Context())
		if user == nil || !user.IsAdmin() {
			respondError(w, apperrors.Forbidden("admin role required").WithCode(apperrors.CodeForbidden))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitAuthAttempts applies the per-IP token bucket to the credential
// endpoints.
func (s *Server) limitAuthAttempts(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ingress.ClientIP(r)
		if !s.loginLimiter.Allow(ip) {
			s.logger.Warn().Str("ip", ip).Str("path", r.URL.Path).Msg("rate limit exceeded")
			writeJSON(w, http.StatusTooManyRequests, envelope{
				Success: false,
				Error:   "too many attempts, slow down",
				Code:    "RATE_LIMITED",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// observe records request metrics and a debug log line for every request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(elapsed.Seconds())
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", elapsed).
			Msg("request")
	})
}
