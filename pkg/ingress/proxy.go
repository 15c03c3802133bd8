package ingress

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	apperrors "github.com/cuemby/hutch/pkg/errors"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/supervisor"
	"github.com/cuemby/hutch/pkg/types"
	"github.com/cuemby/hutch/pkg/users"
)

// maxProxyBody caps the request body a client may push through the proxy.
const maxProxyBody = 10 << 20 // 10 MiB

// Proxy forwards authenticated requests to the caller's current workspace
// instance. It resolves the session itself rather than relying on router
// middleware, because its error envelopes carry proxy-specific codes and
// because a stopped auto_start instance is started inline before the
// forward.
type Proxy struct {
	users      *users.Manager
	supervisor *supervisor.Supervisor
	client     *http.Client
	prefix     string
	logger     zerolog.Logger
}

// NewProxy builds the reverse proxy. prefix is the route the proxy is
// mounted under; everything after it becomes the upstream path.
func NewProxy(userMgr *users.Manager, sup *supervisor.Supervisor, prefix string) *Proxy {
	return &Proxy{
		users:      userMgr,
		supervisor: sup,
		client:     &http.Client{},
		prefix:     strings.TrimSuffix(prefix, "/"),
		logger:     log.WithComponent("ingress"),
	}
}

// WithHTTPClient substitutes the upstream client. Tests use it to shorten
// timeouts.
func (p *Proxy) WithHTTPClient(client *http.Client) *Proxy {
	p.client = client
	return p
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := TokenFromRequest(r)
	if token == "" {
		metrics.AuthFailuresTotal.Inc()
		p.writeError(w, http.StatusUnauthorized, apperrors.CodeUnauthorized, "authentication required")
		return
	}

	user, err := p.users.VerifySession(token)
	if err != nil {
		metrics.AuthFailuresTotal.Inc()
		p.writeError(w, http.StatusUnauthorized, apperrors.CodeUnauthorized, apperrors.MessageOf(err))
		return
	}

	if user.CurrentInstanceID == "" {
		p.writeError(w, http.StatusBadRequest, apperrors.CodeNoInstance, "no instance selected, switch to one first")
		return
	}
	instanceID := user.CurrentInstanceID

	assigned, err := p.users.IsAssigned(user.ID, instanceID)
	if err != nil {
		p.logger.Error().Err(err).Str("user_id", user.ID).Msg("assignment lookup failed")
		p.writeError(w, http.StatusInternalServerError, apperrors.CodeProxyError, "failed to check instance access")
		return
	}
	if !assigned {
		p.writeError(w, http.StatusForbidden, apperrors.CodeForbidden, "you do not have access to this instance")
		return
	}

	instance, err := p.supervisor.Get(instanceID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			p.writeError(w, http.StatusNotFound, apperrors.CodeNoInstance, "current instance no longer exists")
			return
		}
		p.logger.Error().Err(err).Str("instance_id", instanceID).Msg("instance lookup failed")
		p.writeError(w, http.StatusInternalServerError, apperrors.CodeProxyError, "failed to load instance")
		return
	}

	if instance.Status != types.InstanceRunning {
		if !instance.AutoStart {
			p.writeError(w, http.StatusServiceUnavailable, apperrors.CodeInstanceNotRunning, "instance is not running and auto start is disabled")
			return
		}
		p.logger.Info().Str("instance_id", instanceID).Msg("starting instance for proxied request")
		if err := p.supervisor.Start(instanceID); err != nil {
			p.logger.Warn().Err(err).Str("instance_id", instanceID).Msg("lazy start failed")
			p.writeError(w, http.StatusServiceUnavailable, apperrors.CodeInstanceNotRunning, "instance failed to start: "+apperrors.MessageOf(err))
			return
		}
	}

	p.forward(w, r, instance)
}

// forward relays the request to the child and the child's response back.
// Only the method, body, and Content-Type cross the boundary in either
// direction; credentials never reach the child.
func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, instance *types.Instance) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxProxyBody))
	if err != nil {
		p.writeError(w, http.StatusBadRequest, apperrors.CodeProxyError, "failed to read request body")
		return
	}

	target := fmt.Sprintf("http://127.0.0.1:%d/api/%s", instance.Port, p.upstreamPath(r))
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, bytes.NewReader(body))
	if err != nil {
		p.writeError(w, http.StatusBadGateway, apperrors.CodeProxyError, "failed to build upstream request")
		return
	}
	if len(body) > 0 {
		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}

	p.logger.Debug().
		Str("instance_id", instance.ID).
		Str("method", r.Method).
		Str("target", target).
		Msg("proxying request")

	resp, err := p.client.Do(req)
	if err != nil {
		p.writeError(w, http.StatusBadGateway, apperrors.CodeProxyError, "upstream request failed")
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		p.writeError(w, http.StatusBadGateway, apperrors.CodeProxyError, "failed to read upstream response")
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}

	metrics.ProxyRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
}

// upstreamPath strips the mount prefix, leaving the path segment forwarded
// under the child's /api root.
func (p *Proxy) upstreamPath(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, p.prefix)
	return strings.TrimPrefix(path, "/")
}

func (p *Proxy) writeError(w http.ResponseWriter, status int, code, message string) {
	metrics.ProxyRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
