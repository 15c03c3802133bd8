package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/cuemby/hutch/pkg/errors"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/security"
	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/types"
)

// Manager owns per-instance AI agent credentials and configuration:
// encrypted key storage, config file materialization, and provider
// connection tests.
type Manager struct {
	store     storage.Store
	encryptor *security.Encryptor
	broker    *events.Broker
	client    *http.Client
	logger    zerolog.Logger
}

// NewManager creates an agent config manager.
func NewManager(store storage.Store, encryptor *security.Encryptor, broker *events.Broker) *Manager {
	return &Manager{
		store:     store,
		encryptor: encryptor,
		broker:    broker,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    log.WithComponent("agents"),
	}
}

// WithHTTPClient swaps the client used for provider connection tests.
// Tests inject a stub transport here.
func (m *Manager) WithHTTPClient(client *http.Client) *Manager {
	m.client = client
	return m
}

// ConfigDir returns the directory an agent's config file lives in.
func ConfigDir(dataDir string, agentType types.AgentType) string {
	return filepath.Join(dataDir, "ai-agents", string(agentType))
}

// ConfigRequest is the write shape for an agent config. Nil fields keep
// their stored values; is_enabled is always applied.
type ConfigRequest struct {
	IsEnabled    bool           `json:"is_enabled"`
	APIKey       *string        `json:"api_key,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	RateLimitRPM *int           `json:"rate_limit_rpm,omitempty"`
}

// ListConfigs returns the API views of every configured agent on an
// instance. Key material is reduced to has_api_key.
func (m *Manager) ListConfigs(instanceID string) ([]*types.AgentConfigInfo, error) {
	configs, err := m.store.ListAgentConfigsByInstance(instanceID)
	if err != nil {
		return nil, err
	}

	infos := make([]*types.AgentConfigInfo, 0, len(configs))
	for _, config := range configs {
		infos = append(infos, newInfo(config))
	}
	return infos, nil
}

// GetConfig returns the API view of one agent config.
func (m *Manager) GetConfig(instanceID string, agentType types.AgentType) (*types.AgentConfigInfo, error) {
	config, err := m.store.GetAgentConfig(instanceID, agentType)
	if err != nil {
		return nil, err
	}
	return newInfo(config), nil
}

// SetConfig upserts an agent config and rewrites its on-disk file. An
// omitted api_key keeps the stored ciphertext; an omitted config document
// or rate limit likewise survives the update.
func (m *Manager) SetConfig(instanceID string, agentType types.AgentType, req ConfigRequest) (*types.AgentConfigInfo, error) {
	instance, err := m.store.GetInstance(instanceID)
	if err != nil {
		return nil, err
	}
	if _, err := types.ParseAgentType(string(agentType)); err != nil {
		return nil, apperrors.BadRequestf("unknown agent type: %q", string(agentType))
	}

	now := time.Now().UTC()
	config, err := m.store.GetAgentConfig(instanceID, agentType)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			return nil, err
		}
		config = &types.AgentConfig{
			ID:         uuid.NewString(),
			InstanceID: instanceID,
			AgentType:  agentType,
			CreatedAt:  now,
		}
	}

	config.IsEnabled = req.IsEnabled
	if req.APIKey != nil && *req.APIKey != "" {
		ciphertext, err := m.encryptor.EncryptString(*req.APIKey)
		if err != nil {
			return nil, apperrors.Internal(err, "failed to encrypt API key")
		}
		config.APIKeyCiphertext = ciphertext
	}
	if req.Config != nil {
		raw, err := json.Marshal(req.Config)
		if err != nil {
			return nil, apperrors.Internal(err, "failed to serialize agent config")
		}
		config.ConfigJSON = string(raw)
	}
	if req.RateLimitRPM != nil {
		config.RateLimitRPM = req.RateLimitRPM
	}
	config.UpdatedAt = now

	if err := m.store.UpsertAgentConfig(config); err != nil {
		return nil, err
	}

	if err := m.materializeConfig(instance.DataDir, config); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("instance_id", instanceID).
		Str("agent_type", string(agentType)).
		Bool("is_enabled", config.IsEnabled).
		Msg("agent config updated")
	m.publish(events.EventAgentConfigured, "agent config updated", map[string]string{
		"instance_id": instanceID,
		"agent_type":  string(agentType),
	})

	return newInfo(config), nil
}

// SetEnabled flips only the enabled flag of an existing config.
func (m *Manager) SetEnabled(instanceID string, agentType types.AgentType, enabled bool) error {
	config, err := m.store.GetAgentConfig(instanceID, agentType)
	if err != nil {
		return err
	}

	config.IsEnabled = enabled
	config.UpdatedAt = time.Now().UTC()
	if err := m.store.UpsertAgentConfig(config); err != nil {
		return err
	}

	m.logger.Info().
		Str("instance_id", instanceID).
		Str("agent_type", string(agentType)).
		Bool("is_enabled", enabled).
		Msg("agent enabled state changed")
	return nil
}

// DeleteConfig removes the stored config. Materialized files stay on disk;
// a fresh child ignores them because the supervisor controls the env.
func (m *Manager) DeleteConfig(instanceID string, agentType types.AgentType) error {
	if err := m.store.DeleteAgentConfig(instanceID, agentType); err != nil {
		return err
	}

	m.logger.Info().
		Str("instance_id", instanceID).
		Str("agent_type", string(agentType)).
		Msg("agent config deleted")
	return nil
}

// TestConnection decrypts the stored key in memory and probes the
// provider's model-listing endpoint. The key never appears in the result.
func (m *Manager) TestConnection(ctx context.Context, instanceID string, agentType types.AgentType) (bool, error) {
	config, err := m.store.GetAgentConfig(instanceID, agentType)
	if err != nil {
		return false, err
	}

	if config.AgentType == types.AgentOpenCode {
		return true, nil
	}
	if config.APIKeyCiphertext == "" {
		return false, apperrors.BadRequest("API key not configured")
	}

	apiKey, err := m.encryptor.DecryptString(config.APIKeyCiphertext)
	if err != nil {
		return false, apperrors.Internal(err, fmt.Sprintf("failed to decrypt API key for %s", agentType))
	}

	return testProviderConnection(ctx, m.client, agentType, apiKey)
}

// MaterializeAll rewrites the config files of every enabled agent on an
// instance. The supervisor calls this before spawning the child.
func (m *Manager) MaterializeAll(instance *types.Instance) error {
	configs, err := m.store.ListAgentConfigsByInstance(instance.ID)
	if err != nil {
		return err
	}

	for _, config := range configs {
		if !config.IsEnabled {
			continue
		}
		if err := m.materializeConfig(instance.DataDir, config); err != nil {
			return err
		}
	}
	return nil
}

// EnvVars assembles the per-agent environment for a child process. Keys
// are decrypted; every enabled agent also gets its config dir variable.
func (m *Manager) EnvVars(instance *types.Instance) (map[string]string, error) {
	configs, err := m.store.ListAgentConfigsByInstance(instance.ID)
	if err != nil {
		return nil, err
	}

	env := make(map[string]string)
	for _, config := range configs {
		if !config.IsEnabled {
			continue
		}

		apiKey := ""
		if config.APIKeyCiphertext != "" {
			apiKey, err = m.encryptor.DecryptString(config.APIKeyCiphertext)
			if err != nil {
				return nil, apperrors.Internal(err, fmt.Sprintf("failed to decrypt API key for %s", config.AgentType))
			}
		}

		configDir := ConfigDir(instance.DataDir, config.AgentType)
		switch config.AgentType {
		case types.AgentClaudeCode:
			if apiKey != "" {
				env["ANTHROPIC_API_KEY"] = apiKey
			}
			env["CLAUDE_CONFIG_DIR"] = configDir
		case types.AgentCodexCLI:
			if apiKey != "" {
				env["OPENAI_API_KEY"] = apiKey
			}
			env["CODEX_CONFIG_HOME"] = configDir
		case types.AgentGeminiCLI:
			if apiKey != "" {
				env["GOOGLE_API_KEY"] = apiKey
			}
			env["GEMINI_CONFIG_DIR"] = configDir
		case types.AgentOpenCode:
			env["OPENCODE_CONFIG_DIR"] = configDir
		}
	}

	return env, nil
}

func (m *Manager) materializeConfig(dataDir string, config *types.AgentConfig) error {
	contents, err := RenderConfigFile(config.AgentType, config.ConfigJSON)
	if err != nil {
		return apperrors.Internal(err, "failed to render agent config")
	}

	dir := ConfigDir(dataDir, config.AgentType)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperrors.Internal(err, "failed to create agent config directory")
	}

	path := filepath.Join(dir, ConfigFileName(config.AgentType))
	if err := os.WriteFile(path, contents, 0644); err != nil {
		return apperrors.Internal(err, "failed to write agent config file")
	}
	return nil
}

func (m *Manager) publish(eventType events.EventType, message string, metadata map[string]string) {
	if m.broker != nil {
		m.broker.Publish(events.New(eventType, message, metadata))
	}
}

func newInfo(config *types.AgentConfig) *types.AgentConfigInfo {
	info := &types.AgentConfigInfo{
		AgentType:    config.AgentType,
		IsEnabled:    config.IsEnabled,
		HasAPIKey:    config.APIKeyCiphertext != "",
		RateLimitRPM: config.RateLimitRPM,
	}
	if config.ConfigJSON != "" {
		var doc map[string]any
		if err := json.Unmarshal([]byte(config.ConfigJSON), &doc); err == nil {
			info.Config = doc
		}
	}
	return info
}
