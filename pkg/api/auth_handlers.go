package api

import (
	"net/http"

	apperrors "github.com/cuemby/hutch/pkg/errors"
	"github.com/cuemby/hutch/pkg/ingress"
	"github.com/cuemby/hutch/pkg/types"
)

type registerRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// handleRegister creates a regular user account. New accounts always get
// the user role; admins are promoted through the user update endpoint or
// created with the admin CLI.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	user, err := s.users.Register(req.Username, req.Password, req.Email, req.DisplayName, types.RoleUser)
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusCreated, map[string]any{
		"user": types.NewUserInfo(user),
	})
}

// handleLogin authenticates credentials, opens a session and hands back the
// token both in the body (for API clients) and as an HttpOnly cookie (for
// browsers). Failures are counted toward the auth metrics.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	result, err := s.users.Login(req.Username, req.Password, ingress.ClientIP(r), r.UserAgent())
	if err != nil {
		respondError(w, err)
		return
	}

	s.setAuthCookie(w, result.Token, int(s.cfg.SessionTTL.Seconds()))

	respond(w, http.StatusOK, map[string]any{
		"token":               result.Token,
		"expires_at":          result.ExpiresAt,
		"user":                types.NewUserInfo(result.User),
		"instances":           result.Instances,
		"current_instance_id": nullable(result.CurrentInstanceID),
	})
}

// handleLogout revokes the presented session and clears the cookie. Always
// succeeds from the client's point of view: a token that is already gone is
// as logged out as it gets.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := ingress.TokenFromRequest(r); token != "" {
		if err := s.users.Logout(token); err != nil {
			s.logger.Debug().Err(err).Msg("logout for unknown session")
		}
	}

	s.setAuthCookie(w, "", -1)
	respondMessage(w, http.StatusOK, "logged out", nil)
}

// handleMe returns the authenticated user together with their assigned
// instances, which is what the dashboard renders after login.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	instances, err := s.users.UserInstances(user.ID)
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{
		"user":      types.NewUserInfo(user),
		"instances": instances,
	})
}

// handleChangePassword lets a user rotate their own password after proving
// they know the current one. All other sessions are revoked.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	user := userFrom(r.Context())

	if err := s.users.ChangePassword(user.ID, req.OldPassword, req.NewPassword); err != nil {
		respondError(w, err)
		return
	}

	respondMessage(w, http.StatusOK, "password changed", nil)
}

func (s *Server) setAuthCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     ingress.AuthCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// requireSelfOrAdmin guards the user-scoped routes: regular users may only
// act on their own ID, admins on anyone's.
func requireSelfOrAdmin(r *http.Request, targetID string) error {
	user := userFrom(r.Context())
	if user == nil {
		return apperrors.Unauthorized("authentication required")
	}
	if user.ID != targetID && !user.IsAdmin() {
		return apperrors.Forbidden("access denied")
	}
	return nil
}
