package agents

import (
	"encoding/json"
	"testing"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/hutch/pkg/types"
)

func TestConfigFileName(t *testing.T) {
	assert.Equal(t, "settings.json", ConfigFileName(types.AgentClaudeCode))
	assert.Equal(t, "config.yaml", ConfigFileName(types.AgentCodexCLI))
	assert.Equal(t, "config.json", ConfigFileName(types.AgentGeminiCLI))
	assert.Equal(t, "config.toml", ConfigFileName(types.AgentOpenCode))
}

func TestRenderClaudeSettingsDefaults(t *testing.T) {
	out, err := RenderConfigFile(types.AgentClaudeCode, "")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "claude-sonnet-4-20250514", doc["model"])
	assert.Equal(t, float64(8192), doc["maxTokens"])
	assert.NotContains(t, doc, "customInstructions")
}

func TestRenderClaudeSettingsStoredValues(t *testing.T) {
	stored := `{"model":"claude-opus-4","max_tokens":4096,"custom_instructions":"be brief"}`
	out, err := RenderConfigFile(types.AgentClaudeCode, stored)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "claude-opus-4", doc["model"])
	assert.Equal(t, float64(4096), doc["maxTokens"])
	assert.Equal(t, "be brief", doc["customInstructions"])
}

func TestRenderCodexConfig(t *testing.T) {
	out, err := RenderConfigFile(types.AgentCodexCLI, "")
	require.NoError(t, err)

	var doc struct {
		Model       string  `yaml:"model"`
		Temperature float64 `yaml:"temperature"`
	}
	require.NoError(t, yaml.Unmarshal(out, &doc))
	assert.Equal(t, "gpt-4", doc.Model)
	assert.InDelta(t, 0.7, doc.Temperature, 1e-9)

	out, err = RenderConfigFile(types.AgentCodexCLI, `{"model":"gpt-4o","temperature":0.2}`)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(out, &doc))
	assert.Equal(t, "gpt-4o", doc.Model)
	assert.InDelta(t, 0.2, doc.Temperature, 1e-9)
}

func TestRenderCodexConfigZeroTemperature(t *testing.T) {
	// An explicit zero must survive, not fall back to the default.
	out, err := RenderConfigFile(types.AgentCodexCLI, `{"temperature":0}`)
	require.NoError(t, err)

	var doc struct {
		Model       string  `yaml:"model"`
		Temperature float64 `yaml:"temperature"`
	}
	require.NoError(t, yaml.Unmarshal(out, &doc))
	assert.Equal(t, "gpt-4", doc.Model)
	assert.Zero(t, doc.Temperature)
}

func TestRenderGeminiConfig(t *testing.T) {
	out, err := RenderConfigFile(types.AgentGeminiCLI, "")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "gemini-pro", doc["model"])
	assert.NotContains(t, doc, "safetySettings")

	stored := `{"model":"gemini-1.5-pro","safety_settings":[{"category":"harassment","threshold":"block_none"}]}`
	out, err = RenderConfigFile(types.AgentGeminiCLI, stored)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "gemini-1.5-pro", doc["model"])

	settings, ok := doc["safetySettings"].([]any)
	require.True(t, ok)
	require.Len(t, settings, 1)
	first, ok := settings[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "harassment", first["category"])
}

func TestRenderOpenCodeConfig(t *testing.T) {
	out, err := RenderConfigFile(types.AgentOpenCode, "")
	require.NoError(t, err)

	var doc struct {
		Provider struct {
			Name string `toml:"name"`
		} `toml:"provider"`
		Model struct {
			Name string `toml:"name"`
		} `toml:"model"`
	}
	require.NoError(t, toml.Unmarshal(out, &doc))
	assert.Equal(t, "openai", doc.Provider.Name)
	assert.Equal(t, "gpt-4", doc.Model.Name)

	out, err = RenderConfigFile(types.AgentOpenCode, `{"provider":"anthropic","model":"claude-3"}`)
	require.NoError(t, err)
	require.NoError(t, toml.Unmarshal(out, &doc))
	assert.Equal(t, "anthropic", doc.Provider.Name)
	assert.Equal(t, "claude-3", doc.Model.Name)
}

func TestRenderConfigFileMalformedDocument(t *testing.T) {
	// A corrupt stored document renders the full default file rather than
	// failing instance startup.
	out, err := RenderConfigFile(types.AgentClaudeCode, "{not json")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "claude-sonnet-4-20250514", doc["model"])
}

func TestRenderConfigFileUnknownType(t *testing.T) {
	_, err := RenderConfigFile(types.AgentType("cursor"), "")
	require.Error(t, err)
}
