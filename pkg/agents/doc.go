// Package agents manages per-instance AI agent credentials and
// configuration: Claude Code, Codex CLI, Gemini CLI, and OpenCode.
//
//	                 SetConfig / SetEnabled / DeleteConfig
//	                                │
//	                                ▼
//	                        ┌───────────────┐
//	     EncryptString ───▶ │    Manager    │ ───▶ UpsertAgentConfig
//	     (AES-256-GCM)      └───────┬───────┘      (bbolt row)
//	                                │
//	                 ┌──────────────┼──────────────┐
//	                 ▼              ▼              ▼
//	          materialize      EnvVars()     TestConnection
//	          config files     for spawn     (provider probe)
//	                 │              │
//	                 ▼              ▼
//	   <data>/ai-agents/<type>/   ANTHROPIC_API_KEY=...
//	     settings.json (claude)   CLAUDE_CONFIG_DIR=...
//	     config.yaml   (codex)    OPENAI_API_KEY=...
//	     config.json   (gemini)   ...
//	     config.toml   (opencode)
//
// # Credential Handling
//
// API keys are encrypted with AES-256-GCM before they touch the store and
// are decrypted only at two points: when assembling a child process
// environment and when running a provider connection test. Every read
// surface (ListConfigs, GetConfig, the HTTP API) sees an AgentConfigInfo,
// which reduces the key to a has_api_key flag.
//
// # Write Semantics
//
// SetConfig merges: a request that omits api_key, config, or
// rate_limit_rpm keeps the stored value, while is_enabled is always taken
// from the request. An empty-string api_key counts as omitted, so a
// client can resubmit a form without wiping the stored key. Every write
// rewrites the agent's config file under the instance data dir.
//
// # File Materialization
//
// Config files are rendered from the stored JSON document with per-field
// defaults filling anything absent, so a child process always finds a
// complete file. Each agent type has its own format: pretty JSON for
// Claude settings, YAML for Codex, JSON for Gemini, TOML for OpenCode.
// The supervisor calls MaterializeAll before every spawn so files on disk
// never lag the store.
//
// # Connection Tests
//
// TestConnection probes the provider's model-listing endpoint with the
// decrypted key. A non-2xx answer means the key was rejected (false, nil);
// only transport failures surface as errors. OpenCode has no provider API
// and always tests healthy.
//
// # See Also
//
//   - pkg/security for the AES-256-GCM encryptor
//   - pkg/supervisor for where EnvVars and MaterializeAll feed the child
//   - pkg/storage for the agent config rows
package agents
