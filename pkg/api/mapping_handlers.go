package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apperrors "github.com/cuemby/hutch/pkg/errors"
	"github.com/cuemby/hutch/pkg/types"
)

type createRepoMappingRequest struct {
	Repo         string `json:"repo"`
	InstanceID   string `json:"instance_id"`
	ProjectID    string `json:"project_id"`
	AgentType    string `json:"agent_type"`
	CustomPrompt string `json:"custom_prompt"`
	IsEnabled    *bool  `json:"is_enabled"`
}

type updateRepoMappingRequest struct {
	InstanceID   *string `json:"instance_id"`
	ProjectID    *string `json:"project_id"`
	AgentType    *string `json:"agent_type"`
	CustomPrompt *string `json:"custom_prompt"`
	IsEnabled    *bool   `json:"is_enabled"`
}

func (s *Server) handleListRepoMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := s.store.ListRepoMappings()
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{"mappings": mappings})
}

// handleCreateRepoMapping maps a Git repository onto an instance. The repo
// is unique across all mappings; the target instance must exist. The agent
// type defaults to claude-code, matching the agent config default.
func (s *Server) handleCreateRepoMapping(w http.ResponseWriter, r *http.Request) {
	var req createRepoMappingRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	req.Repo = strings.TrimSpace(req.Repo)
	if req.Repo == "" {
		respondError(w, apperrors.BadRequest("repo is required"))
		return
	}
	if req.InstanceID == "" {
		respondError(w, apperrors.BadRequest("instance_id is required"))
		return
	}
	if _, err := s.supervisor.Get(req.InstanceID); err != nil {
		respondError(w, err)
		return
	}

	agentType := types.AgentClaudeCode
	if req.AgentType != "" {
		parsed, err := types.ParseAgentType(req.AgentType)
		if err != nil {
			respondError(w, apperrors.BadRequest(err.Error()))
			return
		}
		agentType = parsed
	}

	enabled := true
	if req.IsEnabled != nil {
		enabled = *req.IsEnabled
	}

	now := time.Now().UTC()
	mapping := &types.RepoMapping{
		ID:           uuid.NewString(),
		Repo:         req.Repo,
		InstanceID:   req.InstanceID,
		ProjectID:    req.ProjectID,
		AgentType:    agentType,
		CustomPrompt: req.CustomPrompt,
		IsEnabled:    enabled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateRepoMapping(mapping); err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusCreated, map[string]any{"mapping": mapping})
}

func (s *Server) handleGetRepoMapping(w http.ResponseWriter, r *http.Request) {
	mapping, err := s.store.GetRepoMapping(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{"mapping": mapping})
}

// handleUpdateRepoMapping edits a mapping in place. The repo itself is
// immutable; delete and recreate to remap a repository.
func (s *Server) handleUpdateRepoMapping(w http.ResponseWriter, r *http.Request) {
	mapping, err := s.store.GetRepoMapping(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}

	var req updateRepoMappingRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}

	if req.InstanceID != nil {
		if _, err := s.supervisor.Get(*req.InstanceID); err != nil {
			respondError(w, err)
			return
		}
		mapping.InstanceID = *req.InstanceID
	}
	if req.ProjectID != nil {
		mapping.ProjectID = *req.ProjectID
	}
	if req.AgentType != nil {
		parsed, err := types.ParseAgentType(*req.AgentType)
		if err != nil {
			respondError(w, apperrors.BadRequest(err.Error()))
			return
		}
		mapping.AgentType = parsed
	}
	if req.CustomPrompt != nil {
		mapping.CustomPrompt = *req.CustomPrompt
	}
	if req.IsEnabled != nil {
		mapping.IsEnabled = *req.IsEnabled
	}
	mapping.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateRepoMapping(mapping); err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{"mapping": mapping})
}

func (s *Server) handleDeleteRepoMapping(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRepoMapping(chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}

	respondMessage(w, http.StatusOK, "repo mapping deleted", nil)
}

// handleListWebhookAudits returns the most recent webhook outcomes, newest
// first. The limit defaults to 50 and is capped at 200.
func (s *Server) handleListWebhookAudits(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, apperrors.BadRequest("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	if limit > 200 {
		limit = 200
	}

	audits, err := s.store.ListWebhookAudits(limit)
	if err != nil {
		respondError(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{"audits": audits})
}
