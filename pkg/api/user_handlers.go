package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/cuemby/hutch/pkg/errors"
	"github.com/cuemby/hutch/pkg/types"
)

type createUserRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

type updateUserRequest struct {
	Email       *string `json:"email"`
	DisplayName *string `json:"display_name"`
	Role        *string `json:"role"`
}

type assignInstancesRequest struct {
	InstanceIDs []string `json:"instance_ids"`
}

type setActiveRequest struct {
	IsActive bool `json:"is_active"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := s.users.ListUsers()
	if err != nil {
		respondError(w, err)
		return
	}

	infos := make([]*types.UserInfo, 0, len(list))
	for _, u := range list {
		infos = append(infos, types.NewUserInfo(u))
	}

	respond(w, http.StatusOK, map[string]any{"users": infos})
}

// handleCreateUser is the admin path for opening accounts, the only one
// that can mint another admin.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	role := types.RoleUser
	if req.Role != "" {
		parsed, err := types.ParseUserRole(req.Role)
		if err != nil {
			respondError(w, apperrors.BadRequest(err.Error()))
			return
		}
		role = parsed
	}

	user, err := s.users.Register(req.Username, req.Password, req.Email, req.DisplayName, role)
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusCreated, map[string]any{
		"user": types.NewUserInfo(user),
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := requireSelfOrAdmin(r, id); err != nil {
		respondError(w, err)
		return
	}

	user, err := s.users.GetUser(id)
	if err != nil {
		respondError(w, err)
		return
	}
	instances, err := s.users.UserInstances(id)
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{
		"user":      types.NewUserInfo(user),
		"instances": instances,
	})
}

// handleUpdateUser edits profile fields. Role changes coming from
// non-admins are dropped rather than rejected, so users can harmlessly PUT
// their whole profile back.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := requireSelfOrAdmin(r, id); err != nil {
		respondError(w, err)
		return
	}

	var req updateUserRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	var role *types.UserRole
	if userFrom(r.Context()).IsAdmin() && req.Role != nil {
		parsed, err := types.ParseUserRole(*req.Role)
		if err != nil {
			respondError(w, apperrors.BadRequest(err.Error()))
			return
		}
		role = &parsed
	}

	user, err := s.users.UpdateUser(id, req.Email, req.DisplayName, role)
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{
		"user": types.NewUserInfo(user),
	})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if userFrom(r.Context()).ID == id {
		respondError(w, apperrors.BadRequest("cannot delete yourself"))
		return
	}

	if err := s.users.DeleteUser(id); err != nil {
		respondError(w, err)
		return
	}

	respondMessage(w, http.StatusOK, "user deleted", nil)
}

func (s *Server) handleUserInstances(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := requireSelfOrAdmin(r, id); err != nil {
		respondError(w, err)
		return
	}

	instances, err := s.users.UserInstances(id)
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{"instances": instances})
}

// handleAssignInstances grants access to a batch of instances. The loop
// stops at the first failure; assignments made before it stick.
func (s *Server) handleAssignInstances(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req assignInstancesRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if len(req.InstanceIDs) == 0 {
		respondError(w, apperrors.BadRequest("instance_ids is required"))
		return
	}

	admin := userFrom(r.Context())
	for _, instanceID := range req.InstanceIDs {
		if err := s.users.Assign(admin, id, instanceID); err != nil {
			respondError(w, err)
			return
		}
	}

	instances, err := s.users.UserInstances(id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondMessage(w, http.StatusOK, "user assigned to instances", map[string]any{
		"instances": instances,
	})
}

func (s *Server) handleUnassignInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	instanceID := chi.URLParam(r, "instanceID")

	if err := s.users.Unassign(userFrom(r.Context()), id, instanceID); err != nil {
		respondError(w, err)
		return
	}

	respondMessage(w, http.StatusOK, "assignment removed", nil)
}

func (s *Server) handleSetUserActive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req setActiveRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if userFrom(r.Context()).ID == id && !req.IsActive {
		respondError(w, apperrors.BadRequest("cannot deactivate yourself"))
		return
	}

	user, err := s.users.SetUserActive(id, req.IsActive)
	if err != nil {
		respondError(w, err)
		return
	}

	message := "user deactivated"
	if req.IsActive {
		message = "user activated"
	}
	respondMessage(w, http.StatusOK, message, map[string]any{
		"user": types.NewUserInfo(user),
	})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resetPasswordRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	if err := s.users.ResetPassword(id, req.NewPassword); err != nil {
		respondError(w, err)
		return
	}

	respondMessage(w, http.StatusOK, "password reset", nil)
}
