package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NotFound("no such instance"), http.StatusNotFound},
		{"bad request", BadRequest("name is required"), http.StatusBadRequest},
		{"unauthorized", Unauthorized("invalid token"), http.StatusUnauthorized},
		{"forbidden", Forbidden("admin only"), http.StatusForbidden},
		{"conflict", Conflict("port range exhausted"), http.StatusConflict},
		{"timeout", Timeout("instance did not become healthy"), http.StatusGatewayTimeout},
		{"bad gateway", BadGateway("upstream unreachable"), http.StatusBadGateway},
		{"internal", Internal(fmt.Errorf("disk full"), "storage failure"), http.StatusInternalServerError},
		{"unclassified", fmt.Errorf("plain"), http.StatusInternalServerError},
		{"nil cause chain", fmt.Errorf("outer: %w", NotFound("inner")), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestCodeOf(t *testing.T) {
	err := Conflict("no free port").WithCode(CodeNoAvailablePort)
	assert.Equal(t, CodeNoAvailablePort, CodeOf(err))

	wrapped := fmt.Errorf("allocating: %w", err)
	assert.Equal(t, CodeNoAvailablePort, CodeOf(wrapped))

	assert.Equal(t, "", CodeOf(fmt.Errorf("plain")))
}

func TestMessageOf(t *testing.T) {
	cause := fmt.Errorf("open /var/lib/hutch: permission denied")
	err := Internal(cause, "failed to prepare data directory")

	// The cause shows up in Error() for logs but never in the
	// caller-visible message.
	assert.Contains(t, err.Error(), "permission denied")
	assert.Equal(t, "failed to prepare data directory", MessageOf(err))

	assert.Equal(t, "internal error", MessageOf(fmt.Errorf("sql: no rows")))
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(KindBadGateway, cause, "forwarding request")

	assert.True(t, Is(err, cause))

	var e *Error
	assert.True(t, As(err, &e))
	assert.Equal(t, KindBadGateway, e.Kind)
}

func TestKindPredicates(t *testing.T) {
	assert.True(t, IsNotFound(NotFoundf("user %s not found", "u1")))
	assert.True(t, IsConflict(Conflictf("username %q already exists", "bob")))
	assert.True(t, IsUnauthorized(Unauthorized("expired")))
	assert.True(t, IsForbidden(Forbidden("not assigned")))
	assert.False(t, IsNotFound(BadRequest("bad")))
}
