package agents

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/cuemby/hutch/pkg/errors"
	"github.com/cuemby/hutch/pkg/types"
)

type stubTransport struct {
	calls int
	fn    func(req *http.Request) (*http.Response, error)
}

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.calls++
	return s.fn(req)
}

func stubClient(fn func(req *http.Request) (*http.Response, error)) (*http.Client, *stubTransport) {
	transport := &stubTransport{fn: fn}
	return &http.Client{Transport: transport}, transport
}

func jsonResponse(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("{}")),
		Header:     make(http.Header),
	}
}

func TestProviderConnectionClaude(t *testing.T) {
	client, _ := stubClient(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "https://api.anthropic.com/v1/models", req.URL.String())
		assert.Equal(t, "sk-ant-test", req.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", req.Header.Get("anthropic-version"))
		return jsonResponse(http.StatusOK), nil
	})

	ok, err := testProviderConnection(context.Background(), client, types.AgentClaudeCode, "sk-ant-test")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProviderConnectionCodex(t *testing.T) {
	client, _ := stubClient(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "https://api.openai.com/v1/models", req.URL.String())
		assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
		return jsonResponse(http.StatusOK), nil
	})

	ok, err := testProviderConnection(context.Background(), client, types.AgentCodexCLI, "sk-test")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProviderConnectionGemini(t *testing.T) {
	client, _ := stubClient(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "generativelanguage.googleapis.com", req.URL.Host)
		assert.Equal(t, "gm-test", req.URL.Query().Get("key"))
		return jsonResponse(http.StatusOK), nil
	})

	ok, err := testProviderConnection(context.Background(), client, types.AgentGeminiCLI, "gm-test")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProviderConnectionOpenCodeSkipsProbe(t *testing.T) {
	client, transport := stubClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK), nil
	})

	ok, err := testProviderConnection(context.Background(), client, types.AgentOpenCode, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, transport.calls)
}

func TestProviderConnectionRejectedKey(t *testing.T) {
	client, _ := stubClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnauthorized), nil
	})

	// A rejected key is a test outcome, not an operational error.
	ok, err := testProviderConnection(context.Background(), client, types.AgentCodexCLI, "sk-bad")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProviderConnectionTransportError(t *testing.T) {
	client, _ := stubClient(func(req *http.Request) (*http.Response, error) {
		return nil, fmt.Errorf("connection refused")
	})

	ok, err := testProviderConnection(context.Background(), client, types.AgentClaudeCode, "sk-test")
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, apperrors.KindInternal, apperrors.KindOf(err))
}

func TestProviderConnectionUnknownType(t *testing.T) {
	client, transport := stubClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK), nil
	})

	_, err := testProviderConnection(context.Background(), client, types.AgentType("cursor"), "sk-test")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindBadRequest, apperrors.KindOf(err))
	assert.Zero(t, transport.calls)
}
