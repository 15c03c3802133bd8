package agents

import (
	"context"
	"fmt"
	"net/http"

	apperrors "github.com/cuemby/hutch/pkg/errors"
	"github.com/cuemby/hutch/pkg/types"
)

// Provider model-listing endpoints used for connection tests.
const (
	anthropicModelsURL = "https://api.anthropic.com/v1/models"
	openaiModelsURL    = "https://api.openai.com/v1/models"
	geminiModelsURL    = "https://generativelanguage.googleapis.com/v1/models"

	anthropicVersion = "2023-06-01"
)

// testProviderConnection issues a minimal model-listing request with the
// decrypted key and reports whether the provider accepted it. A non-2xx
// response is a clean false; only transport failures are errors. opencode
// talks to whatever provider its own config names, so it has nothing to
// test here and always passes.
func testProviderConnection(ctx context.Context, client *http.Client, agentType types.AgentType, apiKey string) (bool, error) {
	var req *http.Request
	var err error

	switch agentType {
	case types.AgentClaudeCode:
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, anthropicModelsURL, nil)
		if err == nil {
			req.Header.Set("x-api-key", apiKey)
			req.Header.Set("anthropic-version", anthropicVersion)
		}
	case types.AgentCodexCLI:
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, openaiModelsURL, nil)
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}
	case types.AgentGeminiCLI:
		url := fmt.Sprintf("%s?key=%s", geminiModelsURL, apiKey)
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	case types.AgentOpenCode:
		return true, nil
	default:
		return false, apperrors.BadRequestf("unknown agent type: %q", string(agentType))
	}
	if err != nil {
		return false, apperrors.Internal(err, "failed to build connection test request")
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, apperrors.Internal(err, "connection test failed")
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}
