package agents

import (
	"encoding/json"
	"fmt"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/hutch/pkg/types"
)

// Defaults filled into materialized config files when the stored document
// omits a field.
const (
	defaultClaudeModel      = "claude-sonnet-4-20250514"
	defaultClaudeMaxTokens  = 8192
	defaultCodexModel       = "gpt-4"
	defaultCodexTemperature = 0.7
	defaultGeminiModel      = "gemini-pro"
	defaultOpenCodeProvider = "openai"
	defaultOpenCodeModel    = "gpt-4"
)

// ConfigFileName returns the file each agent reads from its config dir.
func ConfigFileName(agentType types.AgentType) string {
	switch agentType {
	case types.AgentClaudeCode:
		return "settings.json"
	case types.AgentCodexCLI:
		return "config.yaml"
	case types.AgentGeminiCLI:
		return "config.json"
	case types.AgentOpenCode:
		return "config.toml"
	}
	return ""
}

// RenderConfigFile produces the on-disk config file contents for one agent
// from the stored free-form config document. Unknown or malformed documents
// fall back to defaults; absent fields are filled in.
func RenderConfigFile(agentType types.AgentType, configJSON string) ([]byte, error) {
	switch agentType {
	case types.AgentClaudeCode:
		return renderClaudeSettings(configJSON)
	case types.AgentCodexCLI:
		return renderCodexConfig(configJSON)
	case types.AgentGeminiCLI:
		return renderGeminiConfig(configJSON)
	case types.AgentOpenCode:
		return renderOpenCodeConfig(configJSON)
	}
	return nil, fmt.Errorf("unknown agent type: %q", agentType)
}

// Stored documents use snake_case keys; pointer fields distinguish absent
// from zero.

type claudeDoc struct {
	Model              *string `json:"model"`
	MaxTokens          *int    `json:"max_tokens"`
	CustomInstructions *string `json:"custom_instructions"`
}

type codexDoc struct {
	Model       *string  `json:"model"`
	Temperature *float64 `json:"temperature"`
}

type geminiDoc struct {
	Model          *string         `json:"model"`
	SafetySettings json.RawMessage `json:"safety_settings"`
}

type openCodeDoc struct {
	Provider *string `json:"provider"`
	Model    *string `json:"model"`
}

func renderClaudeSettings(configJSON string) ([]byte, error) {
	var doc claudeDoc
	parseDoc(configJSON, &doc)

	settings := struct {
		Model              string `json:"model"`
		MaxTokens          int    `json:"maxTokens"`
		CustomInstructions string `json:"customInstructions,omitempty"`
	}{
		Model:     defaultClaudeModel,
		MaxTokens: defaultClaudeMaxTokens,
	}
	if doc.Model != nil {
		settings.Model = *doc.Model
	}
	if doc.MaxTokens != nil {
		settings.MaxTokens = *doc.MaxTokens
	}
	if doc.CustomInstructions != nil {
		settings.CustomInstructions = *doc.CustomInstructions
	}

	return json.MarshalIndent(settings, "", "  ")
}

func renderCodexConfig(configJSON string) ([]byte, error) {
	var doc codexDoc
	parseDoc(configJSON, &doc)

	config := struct {
		Model       string  `yaml:"model"`
		Temperature float64 `yaml:"temperature"`
	}{
		Model:       defaultCodexModel,
		Temperature: defaultCodexTemperature,
	}
	if doc.Model != nil {
		config.Model = *doc.Model
	}
	if doc.Temperature != nil {
		config.Temperature = *doc.Temperature
	}

	return yaml.Marshal(config)
}

func renderGeminiConfig(configJSON string) ([]byte, error) {
	var doc geminiDoc
	parseDoc(configJSON, &doc)

	config := struct {
		Model          string          `json:"model"`
		SafetySettings json.RawMessage `json:"safetySettings,omitempty"`
	}{
		Model:          defaultGeminiModel,
		SafetySettings: doc.SafetySettings,
	}
	if doc.Model != nil {
		config.Model = *doc.Model
	}

	return json.MarshalIndent(config, "", "  ")
}

func renderOpenCodeConfig(configJSON string) ([]byte, error) {
	var doc openCodeDoc
	parseDoc(configJSON, &doc)

	config := struct {
		Provider struct {
			Name string `toml:"name"`
		} `toml:"provider"`
		Model struct {
			Name string `toml:"name"`
		} `toml:"model"`
	}{}
	config.Provider.Name = defaultOpenCodeProvider
	config.Model.Name = defaultOpenCodeModel
	if doc.Provider != nil {
		config.Provider.Name = *doc.Provider
	}
	if doc.Model != nil {
		config.Model.Name = *doc.Model
	}

	return toml.Marshal(config)
}

// parseDoc fills dst from the stored document. Malformed documents are
// treated as empty so materialization always succeeds with defaults.
func parseDoc(configJSON string, dst any) {
	if configJSON == "" {
		return
	}
	_ = json.Unmarshal([]byte(configJSON), dst)
}
