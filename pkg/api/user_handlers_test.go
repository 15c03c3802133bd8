package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hutch/pkg/types"
)

func TestCreateUserByAdmin(t *testing.T) {
	env := newTestEnv(t, 43231, 43240)
	_, adminToken := env.seedAdmin(t)

	rec := env.request(t, http.MethodPost, "/api/users", adminToken, map[string]any{
		"username":     "ops",
		"password":     "password123",
		"role":         "admin",
		"display_name": "Ops",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var user types.UserInfo
	dataField(t, parseResponse(t, rec), "user", &user)
	assert.Equal(t, types.RoleAdmin, user.Role)
	assert.Equal(t, "Ops", user.DisplayName)

	rec = env.request(t, http.MethodPost, "/api/users", adminToken, map[string]any{
		"username": "intern",
		"password": "password123",
		"role":     "overlord",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Role defaults to user when omitted.
	rec = env.request(t, http.MethodPost, "/api/users", adminToken, map[string]any{
		"username": "intern",
		"password": "password123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	dataField(t, parseResponse(t, rec), "user", &user)
	assert.Equal(t, types.RoleUser, user.Role)
}

func TestListUsersEndpoint(t *testing.T) {
	env := newTestEnv(t, 43241, 43250)
	_, adminToken := env.seedAdmin(t)
	env.seedUser(t, "alice")
	env.seedUser(t, "bob")

	rec := env.request(t, http.MethodGet, "/api/users", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []*types.UserInfo
	dataField(t, parseResponse(t, rec), "users", &list)
	require.Len(t, list, 3)

	usernames := make(map[string]bool, len(list))
	for _, u := range list {
		usernames[u.Username] = true
	}
	assert.True(t, usernames["root"] && usernames["alice"] && usernames["bob"])
}

func TestGetUserSelfOrAdmin(t *testing.T) {
	env := newTestEnv(t, 43251, 43260)
	_, adminToken := env.seedAdmin(t)
	alice, aliceToken := env.seedUser(t, "alice")
	bob, _ := env.seedUser(t, "bob")

	// Users can read themselves.
	rec := env.request(t, http.MethodGet, "/api/users/"+alice.ID, aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var user types.UserInfo
	dataField(t, parseResponse(t, rec), "user", &user)
	assert.Equal(t, "alice", user.Username)

	// But not each other.
	rec = env.request(t, http.MethodGet, "/api/users/"+bob.ID, aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "access denied", parseResponse(t, rec).Error)

	// Admins can read anyone.
	rec = env.request(t, http.MethodGet, "/api/users/"+bob.ID, adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateUserRoleOnlyByAdmin(t *testing.T) {
	env := newTestEnv(t, 43261, 43270)
	_, adminToken := env.seedAdmin(t)
	alice, aliceToken := env.seedUser(t, "alice")

	// A user updating their own profile may echo back a role field; it is
	// dropped, not rejected.
	rec := env.request(t, http.MethodPut, "/api/users/"+alice.ID, aliceToken, map[string]any{
		"display_name": "Alice A.",
		"role":         "admin",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var user types.UserInfo
	dataField(t, parseResponse(t, rec), "user", &user)
	assert.Equal(t, "Alice A.", user.DisplayName)
	assert.Equal(t, types.RoleUser, user.Role)

	// Admins do change roles.
	rec = env.request(t, http.MethodPut, "/api/users/"+alice.ID, adminToken, map[string]any{
		"role": "admin",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	dataField(t, parseResponse(t, rec), "user", &user)
	assert.Equal(t, types.RoleAdmin, user.Role)

	rec = env.request(t, http.MethodPut, "/api/users/"+alice.ID, adminToken, map[string]any{
		"role": "overlord",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteUser(t *testing.T) {
	env := newTestEnv(t, 43271, 43280)
	admin, adminToken := env.seedAdmin(t)
	alice, aliceToken := env.seedUser(t, "alice")

	rec := env.request(t, http.MethodDelete, "/api/users/"+admin.ID, adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "cannot delete yourself", parseResponse(t, rec).Error)

	rec = env.request(t, http.MethodDelete, "/api/users/"+alice.ID, adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user deleted", parseResponse(t, rec).Message)

	// Deletion takes the account's sessions with it.
	rec = env.request(t, http.MethodGet, "/api/auth/me", aliceToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.request(t, http.MethodDelete, "/api/users/"+alice.ID, adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssignAndUnassignInstances(t *testing.T) {
	env := newTestEnv(t, 43281, 43290)
	_, adminToken := env.seedAdmin(t)
	alice, aliceToken := env.seedUser(t, "alice")
	alpha := env.seedInstance(t, "alpha")
	beta := env.seedInstance(t, "beta")

	rec := env.request(t, http.MethodPost, "/api/users/"+alice.ID+"/instances", adminToken, map[string]any{
		"instance_ids": []string{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "instance_ids is required", parseResponse(t, rec).Error)

	rec = env.request(t, http.MethodPost, "/api/users/"+alice.ID+"/instances", adminToken, map[string]any{
		"instance_ids": []string{alpha.ID, beta.ID},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := parseResponse(t, rec)
	assert.Equal(t, "user assigned to instances", resp.Message)

	var instances []*types.InstanceInfo
	dataField(t, resp, "instances", &instances)
	assert.Len(t, instances, 2)

	// The first assignment becomes the user's current instance.
	rec = env.request(t, http.MethodGet, "/api/my-instances", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = parseResponse(t, rec)
	var current string
	dataField(t, resp, "current_instance_id", &current)
	assert.Equal(t, alpha.ID, current)

	rec = env.request(t, http.MethodPost, "/api/users/"+alice.ID+"/instances", adminToken, map[string]any{
		"instance_ids": []string{"no-such-instance"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.request(t, http.MethodDelete, "/api/users/"+alice.ID+"/instances/"+alpha.ID, adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "assignment removed", parseResponse(t, rec).Message)

	rec = env.request(t, http.MethodGet, "/api/users/"+alice.ID+"/instances", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dataField(t, parseResponse(t, rec), "instances", &instances)
	require.Len(t, instances, 1)
	assert.Equal(t, beta.ID, instances[0].ID)
}

func TestAssignRespectsUserLimit(t *testing.T) {
	env := newTestEnv(t, 43291, 43300)
	_, adminToken := env.seedAdmin(t)
	alice, _ := env.seedUser(t, "alice")
	bob, _ := env.seedUser(t, "bob")

	one := 1
	limited, err := env.sup.CreateInstance("solo", "", false, &one)
	require.NoError(t, err)

	rec := env.request(t, http.MethodPost, "/api/users/"+alice.ID+"/instances", adminToken, map[string]any{
		"instance_ids": []string{limited.ID},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/users/"+bob.ID+"/instances", adminToken, map[string]any{
		"instance_ids": []string{limited.ID},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, parseResponse(t, rec).Error, "user limit")
}

func TestSetUserActive(t *testing.T) {
	env := newTestEnv(t, 43301, 43310)
	admin, adminToken := env.seedAdmin(t)
	alice, aliceToken := env.seedUser(t, "alice")

	rec := env.request(t, http.MethodPut, "/api/users/"+alice.ID+"/activate", adminToken, map[string]any{
		"is_active": false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := parseResponse(t, rec)
	assert.Equal(t, "user deactivated", resp.Message)

	var user types.UserInfo
	dataField(t, resp, "user", &user)
	assert.False(t, user.IsActive)

	// Deactivation revokes live sessions and blocks new logins.
	rec = env.request(t, http.MethodGet, "/api/auth/me", aliceToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.request(t, http.MethodPost, "/api/auth/login", "", map[string]any{
		"username": "alice",
		"password": "password123",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "user account is deactivated", parseResponse(t, rec).Error)

	rec = env.request(t, http.MethodPut, "/api/users/"+alice.ID+"/activate", adminToken, map[string]any{
		"is_active": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user activated", parseResponse(t, rec).Message)

	rec = env.request(t, http.MethodPut, "/api/users/"+admin.ID+"/activate", adminToken, map[string]any{
		"is_active": false,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "cannot deactivate yourself", parseResponse(t, rec).Error)
}

func TestResetPassword(t *testing.T) {
	env := newTestEnv(t, 43311, 43320)
	_, adminToken := env.seedAdmin(t)
	alice, aliceToken := env.seedUser(t, "alice")

	rec := env.request(t, http.MethodPut, "/api/users/"+alice.ID+"/password", adminToken, map[string]any{
		"new_password": "fresh456",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "password reset", parseResponse(t, rec).Message)

	rec = env.request(t, http.MethodGet, "/api/auth/me", aliceToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	result, err := env.users.Login("alice", "fresh456", "127.0.0.1", "go-test")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)

	rec = env.request(t, http.MethodPut, "/api/users/"+alice.ID+"/password", adminToken, map[string]any{
		"new_password": "tiny",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
