package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/cuemby/hutch/pkg/errors"
	"github.com/cuemby/hutch/pkg/types"
)

func testStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "hutch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newUser(username, email string) *types.User {
	now := time.Now().UTC()
	return &types.User{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     email,
		Role:      types.RoleUser,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newInstance(name string) *types.Instance {
	now := time.Now().UTC()
	return &types.Instance{
		ID:           uuid.NewString(),
		Name:         name,
		Status:       types.InstanceStopped,
		HealthStatus: types.HealthUnknown,
		AutoStart:    true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestUserCRUD(t *testing.T) {
	store := testStore(t)

	user := newUser("alice", "alice@example.com")
	require.NoError(t, store.CreateUser(user))

	got, err := store.GetUser(user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	byName, err := store.GetUserByUsername("alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)

	byEmail, err := store.GetUserByEmail("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	got.DisplayName = "Alice"
	require.NoError(t, store.UpdateUser(got))
	updated, err := store.GetUser(user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", updated.DisplayName)

	require.NoError(t, store.DeleteUser(user.ID))
	_, err = store.GetUser(user.ID)
	assert.True(t, apperrors.IsNotFound(err))
	_, err = store.GetUserByUsername("alice")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestUserUniqueness(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.CreateUser(newUser("alice", "alice@example.com")))

	err := store.CreateUser(newUser("alice", "other@example.com"))
	assert.True(t, apperrors.IsConflict(err), "duplicate username should conflict")

	err = store.CreateUser(newUser("bob", "alice@example.com"))
	assert.True(t, apperrors.IsConflict(err), "duplicate email should conflict")

	// A different username and email is fine.
	require.NoError(t, store.CreateUser(newUser("bob", "bob@example.com")))
}

func TestUserEmailReindexOnUpdate(t *testing.T) {
	store := testStore(t)

	user := newUser("alice", "old@example.com")
	require.NoError(t, store.CreateUser(user))

	user.Email = "new@example.com"
	require.NoError(t, store.UpdateUser(user))

	_, err := store.GetUserByEmail("old@example.com")
	assert.True(t, apperrors.IsNotFound(err), "old email should be released")

	byEmail, err := store.GetUserByEmail("new@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	// The released email is usable by another user.
	require.NoError(t, store.CreateUser(newUser("bob", "old@example.com")))
}

func TestDeleteUserCascades(t *testing.T) {
	store := testStore(t)

	user := newUser("alice", "alice@example.com")
	require.NoError(t, store.CreateUser(user))

	instance := newInstance("dev")
	require.NoError(t, store.CreateInstance(instance, 18100, 18199))

	require.NoError(t, store.CreateSession(&types.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: "hash-1",
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}))
	require.NoError(t, store.CreateAssignment(&types.Assignment{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		InstanceID: instance.ID,
		AssignedAt: time.Now(),
	}))

	require.NoError(t, store.DeleteUser(user.ID))

	_, err := store.GetSessionByTokenHash("hash-1")
	assert.True(t, apperrors.IsNotFound(err), "sessions should be cascaded")

	count, err := store.CountAssignmentsByInstance(instance.ID)
	require.NoError(t, err)
	assert.Zero(t, count, "assignments should be cascaded")
}

func TestSessionLifecycle(t *testing.T) {
	store := testStore(t)

	user := newUser("alice", "alice@example.com")
	require.NoError(t, store.CreateUser(user))

	base := time.Now().UTC()
	for i, hash := range []string{"hash-a", "hash-b", "hash-c"} {
		require.NoError(t, store.CreateSession(&types.Session{
			ID:        uuid.NewString(),
			UserID:    user.ID,
			TokenHash: hash,
			ExpiresAt: base.Add(time.Hour),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	// Duplicate token hash conflicts.
	err := store.CreateSession(&types.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: "hash-a",
		ExpiresAt: base.Add(time.Hour),
		CreatedAt: base,
	})
	assert.True(t, apperrors.IsConflict(err))

	got, err := store.GetSessionByTokenHash("hash-b")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.UserID)

	sessions, err := store.ListSessionsByUser(user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, "hash-a", sessions[0].TokenHash, "oldest session should come first")
	assert.Equal(t, "hash-c", sessions[2].TokenHash)

	count, err := store.CountSessions()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, store.DeleteSessionByTokenHash("hash-b"))
	_, err = store.GetSessionByTokenHash("hash-b")
	assert.True(t, apperrors.IsNotFound(err))

	require.NoError(t, store.DeleteSessionsByUser(user.ID))
	sessions, err = store.ListSessionsByUser(user.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSessionSlidingRefresh(t *testing.T) {
	store := testStore(t)

	user := newUser("alice", "alice@example.com")
	require.NoError(t, store.CreateUser(user))

	session := &types.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: "hash-slide",
		ExpiresAt: time.Now().Add(10 * time.Minute),
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateSession(session))

	session.ExpiresAt = time.Now().Add(24 * time.Hour)
	require.NoError(t, store.UpdateSession(session))

	got, err := store.GetSessionByTokenHash("hash-slide")
	require.NoError(t, err)
	assert.WithinDuration(t, session.ExpiresAt, got.ExpiresAt, time.Second)
}

func TestDeleteExpiredSessions(t *testing.T) {
	store := testStore(t)

	user := newUser("alice", "alice@example.com")
	require.NoError(t, store.CreateUser(user))

	now := time.Now().UTC()
	expirations := []time.Time{
		now.Add(-time.Hour),   // expired
		now.Add(-time.Minute), // expired
		now.Add(time.Hour),    // live
	}
	for i, exp := range expirations {
		require.NoError(t, store.CreateSession(&types.Session{
			ID:        uuid.NewString(),
			UserID:    user.ID,
			TokenHash: "hash-" + string(rune('a'+i)),
			ExpiresAt: exp,
			CreatedAt: now.Add(-2 * time.Hour),
		}))
	}

	removed, err := store.DeleteExpiredSessions(now)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	count, err := store.CountSessions()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Expired token hashes must be released from the index too.
	_, err = store.GetSessionByTokenHash("hash-a")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestInstancePortAllocation(t *testing.T) {
	store := testStore(t)

	first := newInstance("one")
	require.NoError(t, store.CreateInstance(first, 18100, 18102))
	assert.Equal(t, 18100, first.Port)

	second := newInstance("two")
	require.NoError(t, store.CreateInstance(second, 18100, 18102))
	assert.Equal(t, 18101, second.Port)

	third := newInstance("three")
	require.NoError(t, store.CreateInstance(third, 18100, 18102))
	assert.Equal(t, 18102, third.Port)

	// Range exhausted.
	err := store.CreateInstance(newInstance("four"), 18100, 18102)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, apperrors.CodeNoAvailablePort, apperrors.CodeOf(err))

	// Deleting the middle instance frees the smallest gap.
	require.NoError(t, store.DeleteInstance(second.ID))
	fourth := newInstance("four")
	require.NoError(t, store.CreateInstance(fourth, 18100, 18102))
	assert.Equal(t, 18101, fourth.Port)
}

func TestInstanceCRUDAndStatusFilter(t *testing.T) {
	store := testStore(t)

	running := newInstance("running")
	stopped := newInstance("stopped")
	require.NoError(t, store.CreateInstance(running, 18100, 18199))
	require.NoError(t, store.CreateInstance(stopped, 18100, 18199))

	running.Status = types.InstanceRunning
	require.NoError(t, store.UpdateInstance(running))

	byStatus, err := store.ListInstancesByStatus(types.InstanceRunning)
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, running.ID, byStatus[0].ID)

	all, err := store.ListInstances()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = store.GetInstance("missing")
	assert.True(t, apperrors.IsNotFound(err))

	err = store.UpdateInstance(newInstance("ghost"))
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDeleteInstanceCascades(t *testing.T) {
	store := testStore(t)

	user := newUser("alice", "alice@example.com")
	require.NoError(t, store.CreateUser(user))

	instance := newInstance("dev")
	require.NoError(t, store.CreateInstance(instance, 18100, 18199))

	require.NoError(t, store.CreateAssignment(&types.Assignment{
		ID: uuid.NewString(), UserID: user.ID, InstanceID: instance.ID, AssignedAt: time.Now(),
	}))
	require.NoError(t, store.UpsertAgentConfig(&types.AgentConfig{
		ID: uuid.NewString(), InstanceID: instance.ID, AgentType: types.AgentClaudeCode, IsEnabled: true,
	}))
	_, err := store.IncrementUsage(instance.ID, types.AgentClaudeCode, "2026-08-25", 100, false)
	require.NoError(t, err)
	require.NoError(t, store.CreateRepoMapping(&types.RepoMapping{
		ID: uuid.NewString(), Repo: "acme/site", InstanceID: instance.ID, AgentType: types.AgentClaudeCode, IsEnabled: true,
	}))

	require.NoError(t, store.DeleteInstance(instance.ID))

	_, err = store.GetInstance(instance.ID)
	assert.True(t, apperrors.IsNotFound(err))

	configs, err := store.ListAgentConfigsByInstance(instance.ID)
	require.NoError(t, err)
	assert.Empty(t, configs)

	stats, err := store.ListUsageByInstance(instance.ID)
	require.NoError(t, err)
	assert.Empty(t, stats)

	count, err := store.CountAssignmentsByInstance(instance.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = store.GetRepoMappingByRepo("acme/site")
	assert.True(t, apperrors.IsNotFound(err), "repo mapping should be cascaded and its repo released")
}

func TestAssignmentPairUniqueness(t *testing.T) {
	store := testStore(t)

	user := newUser("alice", "alice@example.com")
	require.NoError(t, store.CreateUser(user))
	instance := newInstance("dev")
	require.NoError(t, store.CreateInstance(instance, 18100, 18199))

	assignment := &types.Assignment{
		ID: uuid.NewString(), UserID: user.ID, InstanceID: instance.ID, AssignedAt: time.Now(),
	}
	require.NoError(t, store.CreateAssignment(assignment))

	err := store.CreateAssignment(&types.Assignment{
		ID: uuid.NewString(), UserID: user.ID, InstanceID: instance.ID, AssignedAt: time.Now(),
	})
	assert.True(t, apperrors.IsConflict(err))

	got, err := store.GetAssignment(user.ID, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, assignment.ID, got.ID)

	require.NoError(t, store.DeleteAssignment(user.ID, instance.ID))
	_, err = store.GetAssignment(user.ID, instance.ID)
	assert.True(t, apperrors.IsNotFound(err))

	err = store.DeleteAssignment(user.ID, instance.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestListAssignmentsOrderedByAssignedAt(t *testing.T) {
	store := testStore(t)

	user := newUser("alice", "alice@example.com")
	require.NoError(t, store.CreateUser(user))

	base := time.Now().UTC()
	var instances []*types.Instance
	for i, name := range []string{"zeta", "alpha", "mid"} {
		instance := newInstance(name)
		require.NoError(t, store.CreateInstance(instance, 18100, 18199))
		instances = append(instances, instance)
		require.NoError(t, store.CreateAssignment(&types.Assignment{
			ID:         uuid.NewString(),
			UserID:     user.ID,
			InstanceID: instance.ID,
			AssignedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	assignments, err := store.ListAssignmentsByUser(user.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 3)
	assert.Equal(t, instances[2].ID, assignments[0].InstanceID, "most recent assignment first")
	assert.Equal(t, instances[0].ID, assignments[2].InstanceID)
}

func TestAgentConfigUpsert(t *testing.T) {
	store := testStore(t)

	instance := newInstance("dev")
	require.NoError(t, store.CreateInstance(instance, 18100, 18199))

	config := &types.AgentConfig{
		ID:               uuid.NewString(),
		InstanceID:       instance.ID,
		AgentType:        types.AgentClaudeCode,
		IsEnabled:        true,
		APIKeyCiphertext: "blob-1",
	}
	require.NoError(t, store.UpsertAgentConfig(config))

	config.APIKeyCiphertext = "blob-2"
	require.NoError(t, store.UpsertAgentConfig(config))

	got, err := store.GetAgentConfig(instance.ID, types.AgentClaudeCode)
	require.NoError(t, err)
	assert.Equal(t, "blob-2", got.APIKeyCiphertext)

	require.NoError(t, store.UpsertAgentConfig(&types.AgentConfig{
		ID: uuid.NewString(), InstanceID: instance.ID, AgentType: types.AgentOpenCode,
	}))

	configs, err := store.ListAgentConfigsByInstance(instance.ID)
	require.NoError(t, err)
	assert.Len(t, configs, 2)

	require.NoError(t, store.DeleteAgentConfig(instance.ID, types.AgentOpenCode))
	_, err = store.GetAgentConfig(instance.ID, types.AgentOpenCode)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestIncrementUsage(t *testing.T) {
	store := testStore(t)

	instance := newInstance("dev")
	require.NoError(t, store.CreateInstance(instance, 18100, 18199))

	stat, err := store.IncrementUsage(instance.ID, types.AgentClaudeCode, "2026-08-25", 100, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stat.RequestCount)
	assert.Equal(t, 100, stat.TokenCount)
	assert.Equal(t, 0, stat.ErrorCount)

	stat, err = store.IncrementUsage(instance.ID, types.AgentClaudeCode, "2026-08-25", 50, true)
	require.NoError(t, err)
	assert.Equal(t, 2, stat.RequestCount)
	assert.Equal(t, 150, stat.TokenCount)
	assert.Equal(t, 1, stat.ErrorCount)

	// A different date starts a fresh row.
	stat, err = store.IncrementUsage(instance.ID, types.AgentClaudeCode, "2026-08-26", 10, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stat.RequestCount)

	stats, err := store.ListUsageByInstance(instance.ID)
	require.NoError(t, err)
	assert.Len(t, stats, 2)
}

func TestRepoMappingUniqueness(t *testing.T) {
	store := testStore(t)

	instance := newInstance("dev")
	require.NoError(t, store.CreateInstance(instance, 18100, 18199))

	mapping := &types.RepoMapping{
		ID:         uuid.NewString(),
		Repo:       "acme/site",
		InstanceID: instance.ID,
		AgentType:  types.AgentClaudeCode,
		IsEnabled:  true,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, store.CreateRepoMapping(mapping))

	err := store.CreateRepoMapping(&types.RepoMapping{
		ID: uuid.NewString(), Repo: "acme/site", InstanceID: instance.ID, AgentType: types.AgentOpenCode,
	})
	assert.True(t, apperrors.IsConflict(err))

	byRepo, err := store.GetRepoMappingByRepo("acme/site")
	require.NoError(t, err)
	assert.Equal(t, mapping.ID, byRepo.ID)

	// Renaming the repo releases the old key.
	mapping.Repo = "acme/app"
	require.NoError(t, store.UpdateRepoMapping(mapping))
	_, err = store.GetRepoMappingByRepo("acme/site")
	assert.True(t, apperrors.IsNotFound(err))

	require.NoError(t, store.DeleteRepoMapping(mapping.ID))
	_, err = store.GetRepoMappingByRepo("acme/app")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestWebhookAuditsNewestFirst(t *testing.T) {
	store := testStore(t)

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendWebhookAudit(&types.WebhookAudit{
			ID:        uuid.NewString(),
			Repo:      "acme/site",
			EventType: "issues",
			Status:    types.WebhookProcessed,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	audits, err := store.ListWebhookAudits(2)
	require.NoError(t, err)
	require.Len(t, audits, 2)
	assert.True(t, audits[0].CreatedAt.After(audits[1].CreatedAt), "newest audit first")

	all, err := store.ListWebhookAudits(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
