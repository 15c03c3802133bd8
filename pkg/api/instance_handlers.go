package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/hutch/pkg/agents"
	apperrors "github.com/cuemby/hutch/pkg/errors"
	"github.com/cuemby/hutch/pkg/types"
)

type createInstanceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	AutoStart   bool   `json:"auto_start"`
	MaxUsers    *int   `json:"max_users"`
}

type updateInstanceRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	AutoStart   *bool   `json:"auto_start"`
	MaxUsers    *int    `json:"max_users"`
}

type recordUsageRequest struct {
	AgentType string `json:"agent_type"`
	Tokens    int    `json:"tokens"`
	IsError   bool   `json:"is_error"`
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := s.supervisor.List()
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{"instances": instances})
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	instance, err := s.supervisor.CreateInstance(req.Name, req.Description, req.AutoStart, req.MaxUsers)
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusCreated, map[string]any{
		"instance": types.NewInstanceInfo(instance),
	})
}

// handleGetInstance returns the full admin view: the instance, who is
// assigned, and which agents are configured.
func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	info, err := s.instanceInfo(id)
	if err != nil {
		respondError(w, err)
		return
	}
	assigned, err := s.users.InstanceUsers(id)
	if err != nil {
		respondError(w, err)
		return
	}
	configs, err := s.agents.ListConfigs(id)
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{
		"instance": info,
		"users":    assigned,
		"agents":   configs,
	})
}

func (s *Server) handleUpdateInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateInstanceRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	instance, err := s.supervisor.UpdateInstance(id, req.Name, req.Description, req.AutoStart, req.MaxUsers)
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{
		"instance": types.NewInstanceInfo(instance),
	})
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.supervisor.DeleteInstance(id); err != nil {
		respondError(w, err)
		return
	}

	respondMessage(w, http.StatusOK, "instance deleted", nil)
}

func (s *Server) handleStartInstance(w http.ResponseWriter, r *http.Request) {
	s.lifecycleAction(w, r, "instance started", s.supervisor.Start)
}

func (s *Server) handleStopInstance(w http.ResponseWriter, r *http.Request) {
	s.lifecycleAction(w, r, "instance stopped", s.supervisor.Stop)
}

func (s *Server) handleRestartInstance(w http.ResponseWriter, r *http.Request) {
	s.lifecycleAction(w, r, "instance restarted", s.supervisor.Restart)
}

// lifecycleAction runs one supervisor verb and answers with the re-read
// instance so the caller sees the post-action state.
func (s *Server) lifecycleAction(w http.ResponseWriter, r *http.Request, message string, action func(string) error) {
	id := chi.URLParam(r, "id")

	if err := action(id); err != nil {
		respondError(w, err)
		return
	}

	info, err := s.instanceInfo(id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondMessage(w, http.StatusOK, message, map[string]any{
		"instance": info,
	})
}

func (s *Server) handleInstanceHealth(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := s.supervisor.HealthCheck(id)
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{"health_status": status})
}

func (s *Server) handleInstanceUsers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	assigned, err := s.users.InstanceUsers(id)
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{"users": assigned})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	configs, err := s.agents.ListConfigs(id)
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{"agents": configs})
}

func (s *Server) handleSetAgentConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	agentType, err := types.ParseAgentType(chi.URLParam(r, "agentType"))
	if err != nil {
		respondError(w, apperrors.BadRequest(err.Error()))
		return
	}

	var req agents.ConfigRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	info, err := s.agents.SetConfig(id, agentType, req)
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{"agent": info})
}

func (s *Server) handleTestAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	agentType, err := types.ParseAgentType(chi.URLParam(r, "agentType"))
	if err != nil {
		respondError(w, apperrors.BadRequest(err.Error()))
		return
	}

	ok, err := s.agents.TestConnection(r.Context(), id, agentType)
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{"connection_ok": ok})
}

// handleRecordUsage increments the (instance, agent, day) usage bucket.
// Regular users may only report against instances they are assigned to.
func (s *Server) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user := userFrom(r.Context())

	if !user.IsAdmin() {
		assigned, err := s.users.IsAssigned(user.ID, id)
		if err != nil {
			respondError(w, err)
			return
		}
		if !assigned {
			respondError(w, apperrors.Forbidden("you do not have access to this instance"))
			return
		}
	}

	var req recordUsageRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	agentType, err := types.ParseAgentType(req.AgentType)
	if err != nil {
		respondError(w, apperrors.BadRequest(err.Error()))
		return
	}

	date := time.Now().UTC().Format("2006-01-02")
	stat, err := s.store.IncrementUsage(id, agentType, date, req.Tokens, req.IsError)
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{"stat": stat})
}

// handleUsageSummary aggregates usage buckets for one instance, optionally
// bounded by ?start and ?end dates (inclusive, YYYY-MM-DD).
func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.supervisor.Get(id); err != nil {
		respondError(w, err)
		return
	}

	start := r.URL.Query().Get("start")
	end := r.URL.Query().Get("end")
	for _, d := range []string{start, end} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			respondError(w, apperrors.BadRequest("dates must be YYYY-MM-DD"))
			return
		}
	}

	stats, err := s.store.ListUsageByInstance(id)
	if err != nil {
		respondError(w, err)
		return
	}

	summary := types.UsageSummary{InstanceID: id, ByAgent: []types.AgentUsage{}}
	byAgent := make(map[types.AgentType]*types.AgentUsage)
	for _, stat := range stats {
		// Dates are YYYY-MM-DD, so string order is date order.
		if start != "" && stat.Date < start {
			continue
		}
		if end != "" && stat.Date > end {
			continue
		}

		summary.TotalRequests += stat.RequestCount
		summary.TotalTokens += stat.TokenCount
		summary.TotalErrors += stat.ErrorCount

		usage, ok := byAgent[stat.AgentType]
		if !ok {
			usage = &types.AgentUsage{AgentType: stat.AgentType}
			byAgent[stat.AgentType] = usage
		}
		usage.RequestCount += stat.RequestCount
		usage.TokenCount += stat.TokenCount
		usage.ErrorCount += stat.ErrorCount
	}

	for _, agentType := range types.AgentTypes() {
		if usage, ok := byAgent[agentType]; ok {
			summary.ByAgent = append(summary.ByAgent, *usage)
		}
	}

	respond(w, http.StatusOK, map[string]any{"summary": summary})
}
