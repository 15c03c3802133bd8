package api

import (
	"net/http"

	apperrors "github.com/cuemby/hutch/pkg/errors"
	"github.com/cuemby/hutch/pkg/types"
)

type switchInstanceRequest struct {
	InstanceID string `json:"instance_id"`
}

// handleMyInstances lists the instances assigned to the caller, most
// recently assigned first.
func (s *Server) handleMyInstances(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	instances, err := s.users.UserInstances(user.ID)
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{
		"instances":           instances,
		"current_instance_id": nullable(user.CurrentInstanceID),
	})
}

// handleMyCurrentInstance returns the caller's selected instance, or 404
// when nothing is selected yet.
func (s *Server) handleMyCurrentInstance(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	if user.CurrentInstanceID == "" {
		respondError(w, apperrors.NotFound("no instance selected"))
		return
	}

	info, err := s.instanceInfo(user.CurrentInstanceID)
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{"instance": info})
}

// handleSwitchInstance points the caller's session at another assigned
// instance. When the target is stopped but flagged auto-start, a start is
// attempted on the spot; a failed start does not fail the switch, the proxy
// will retry on first use.
func (s *Server) handleSwitchInstance(w http.ResponseWriter, r *http.Request) {
	var req switchInstanceRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.InstanceID == "" {
		respondError(w, apperrors.BadRequest("instance_id is required"))
		return
	}
	user := userFrom(r.Context())

	info, err := s.users.SwitchInstance(user.ID, req.InstanceID)
	if err != nil {
		respondError(w, err)
		return
	}

	if info.Status != types.InstanceRunning && info.AutoStart {
		if err := s.supervisor.Start(info.ID); err != nil {
			s.logger.Warn().Err(err).Str("instance_id", info.ID).
				Msg("auto start on switch failed")
		}
		if refreshed, err := s.instanceInfo(info.ID); err == nil {
			info = refreshed
		}
	}

	respondMessage(w, http.StatusOK, "switched to instance "+info.Name, map[string]any{
		"instance": info,
	})
}

// handleMyInstanceHealth probes the caller's current instance.
func (s *Server) handleMyInstanceHealth(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	if user.CurrentInstanceID == "" {
		respondError(w, apperrors.NotFound("no instance selected"))
		return
	}

	status, err := s.supervisor.HealthCheck(user.CurrentInstanceID)
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{
		"instance_id":   user.CurrentInstanceID,
		"health_status": status,
	})
}

// instanceInfo loads one instance as its API view, user count included.
func (s *Server) instanceInfo(id string) (*types.InstanceInfo, error) {
	instance, err := s.supervisor.Get(id)
	if err != nil {
		return nil, err
	}
	count, err := s.store.CountAssignmentsByInstance(id)
	if err != nil {
		return nil, err
	}
	info := types.NewInstanceInfo(instance)
	info.UserCount = &count
	return info, nil
}
