package users

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/cuemby/hutch/pkg/errors"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/security"
	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/types"
)

const (
	// MinUsernameLen is the minimum accepted username length
	MinUsernameLen = 3
	// MinPasswordLen is the minimum accepted password length
	MinPasswordLen = 6
)

// Config bounds the session model
type Config struct {
	SessionTTL       time.Duration
	RefreshThreshold time.Duration
	MaxSessions      int
}

// DefaultConfig returns the session defaults: 24h TTL, 1h refresh
// threshold, 5 concurrent sessions per user.
func DefaultConfig() Config {
	return Config{
		SessionTTL:       24 * time.Hour,
		RefreshThreshold: time.Hour,
		MaxSessions:      5,
	}
}

// Manager owns accounts, sessions, and instance assignments.
type Manager struct {
	store  storage.Store
	tokens *security.TokenService
	broker *events.Broker
	logger zerolog.Logger
	cfg    Config

	// now is the clock; tests substitute it to drive expiry
	now func() time.Time
}

// NewManager creates a user manager. Zero config fields fall back to
// DefaultConfig values.
func NewManager(store storage.Store, tokens *security.TokenService, broker *events.Broker, cfg Config) *Manager {
	defaults := DefaultConfig()
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaults.SessionTTL
	}
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = defaults.RefreshThreshold
	}
	if cfg.MaxSessions < 1 {
		cfg.MaxSessions = defaults.MaxSessions
	}

	return &Manager{
		store:  store,
		tokens: tokens,
		broker: broker,
		logger: log.WithComponent("users"),
		cfg:    cfg,
		now:    time.Now,
	}
}

// Register creates a new account. The role defaults to RoleUser when empty;
// duplicate usernames and emails surface as conflicts from the store.
func (m *Manager) Register(username, password, email, displayName string, role types.UserRole) (*types.User, error) {
	username = strings.TrimSpace(username)
	if len(username) < MinUsernameLen {
		return nil, apperrors.BadRequestf("username must be at least %d characters", MinUsernameLen)
	}
	if len(password) < MinPasswordLen {
		return nil, apperrors.BadRequestf("password must be at least %d characters", MinPasswordLen)
	}
	if role == "" {
		role = types.RoleUser
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to hash password")
	}

	now := m.now().UTC()
	user := &types.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.CreateUser(user); err != nil {
		return nil, err
	}

	m.logger.Info().Str("user_id", user.ID).Str("username", username).Msg("user registered")
	m.publish(events.EventUserRegistered, "user registered: "+username, map[string]string{
		"user_id":  user.ID,
		"username": username,
	})

	return user, nil
}

// LoginResult is what a successful login returns: the raw token (shown
// exactly once), the user, and the instances the user may reach.
type LoginResult struct {
	Token             string
	ExpiresAt         time.Time
	User              *types.User
	Instances         []*types.InstanceInfo
	CurrentInstanceID string
}

// Login authenticates a user and opens a session. Unknown usernames and
// wrong passwords return the same unauthorized message. When the user has
// no current instance but holds assignments, the most recent assignment
// becomes current and is persisted.
func (m *Manager) Login(username, password, ipAddress, userAgent string) (*LoginResult, error) {
	user, err := m.store.GetUserByUsername(username)
	if err != nil {
		if apperrors.IsNotFound(err) {
			metrics.AuthFailuresTotal.Inc()
			return nil, apperrors.Unauthorized("invalid username or password")
		}
		return nil, err
	}

	if !user.IsActive {
		metrics.AuthFailuresTotal.Inc()
		return nil, apperrors.Forbidden("user account is deactivated")
	}

	ok, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to verify password")
	}
	if !ok {
		metrics.AuthFailuresTotal.Inc()
		return nil, apperrors.Unauthorized("invalid username or password")
	}

	token, expiresAt, err := m.createSession(user, ipAddress, userAgent)
	if err != nil {
		return nil, err
	}

	instances, err := m.UserInstances(user.ID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	user.LastLoginAt = &now
	if user.CurrentInstanceID == "" && len(instances) > 0 {
		user.CurrentInstanceID = instances[0].ID
	}
	user.UpdatedAt = now
	if err := m.store.UpdateUser(user); err != nil {
		return nil, err
	}

	m.logger.Info().Str("user_id", user.ID).Str("username", username).Msg("user logged in")
	m.publish(events.EventUserLogin, "user logged in: "+username, map[string]string{
		"user_id": user.ID,
	})

	return &LoginResult{
		Token:             token,
		ExpiresAt:         expiresAt,
		User:              user,
		Instances:         instances,
		CurrentInstanceID: user.CurrentInstanceID,
	}, nil
}

// Logout revokes the session behind the token. Unknown tokens are a no-op.
func (m *Manager) Logout(token string) error {
	err := m.store.DeleteSessionByTokenHash(security.TokenHash(token))
	if err != nil && !apperrors.IsNotFound(err) {
		return err
	}
	m.publish(events.EventUserLogout, "user logged out", nil)
	return nil
}

// ChangePassword verifies the old password, stores the new hash, and
// revokes every session of the user.
func (m *Manager) ChangePassword(userID, oldPassword, newPassword string) error {
	user, err := m.store.GetUser(userID)
	if err != nil {
		return err
	}

	ok, err := security.VerifyPassword(oldPassword, user.PasswordHash)
	if err != nil {
		return apperrors.Internal(err, "failed to verify password")
	}
	if !ok {
		return apperrors.Unauthorized("old password is incorrect")
	}

	if err := m.setPassword(user, newPassword); err != nil {
		return err
	}

	m.logger.Info().Str("user_id", userID).Msg("password changed")
	return nil
}

// ResetPassword overwrites a user's password without knowing the old one
// and revokes every session. Admin surface only.
func (m *Manager) ResetPassword(userID, newPassword string) error {
	user, err := m.store.GetUser(userID)
	if err != nil {
		return err
	}

	if err := m.setPassword(user, newPassword); err != nil {
		return err
	}

	m.logger.Info().Str("user_id", userID).Msg("password reset")
	return nil
}

func (m *Manager) setPassword(user *types.User, newPassword string) error {
	if len(newPassword) < MinPasswordLen {
		return apperrors.BadRequestf("password must be at least %d characters", MinPasswordLen)
	}

	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return apperrors.Internal(err, "failed to hash password")
	}

	user.PasswordHash = hash
	user.UpdatedAt = m.now().UTC()
	if err := m.store.UpdateUser(user); err != nil {
		return err
	}

	return m.store.DeleteSessionsByUser(user.ID)
}

// ListUsers returns all accounts sorted by username.
func (m *Manager) ListUsers() ([]*types.User, error) {
	return m.store.ListUsers()
}

// GetUser returns one account by id.
func (m *Manager) GetUser(userID string) (*types.User, error) {
	return m.store.GetUser(userID)
}

// UpdateUser applies a partial update. Nil fields keep their current
// values, mirroring PUT bodies with omitted keys.
func (m *Manager) UpdateUser(userID string, email, displayName *string, role *types.UserRole) (*types.User, error) {
	user, err := m.store.GetUser(userID)
	if err != nil {
		return nil, err
	}

	if email != nil {
		user.Email = *email
	}
	if displayName != nil {
		user.DisplayName = *displayName
	}
	if role != nil {
		if _, err := types.ParseUserRole(string(*role)); err != nil {
			return nil, apperrors.BadRequestf("invalid role: %q", string(*role))
		}
		user.Role = *role
	}
	user.UpdatedAt = m.now().UTC()

	if err := m.store.UpdateUser(user); err != nil {
		return nil, err
	}
	return user, nil
}

// SetUserActive toggles an account. Deactivation revokes every session so
// live tokens stop working immediately.
func (m *Manager) SetUserActive(userID string, active bool) (*types.User, error) {
	user, err := m.store.GetUser(userID)
	if err != nil {
		return nil, err
	}

	user.IsActive = active
	user.UpdatedAt = m.now().UTC()
	if err := m.store.UpdateUser(user); err != nil {
		return nil, err
	}

	if !active {
		if err := m.store.DeleteSessionsByUser(userID); err != nil {
			return nil, err
		}
	}

	m.logger.Info().Str("user_id", userID).Bool("is_active", active).Msg("user active state changed")
	return user, nil
}

// DeleteUser removes the account. Sessions and assignments cascade in the
// store.
func (m *Manager) DeleteUser(userID string) error {
	if err := m.store.DeleteUser(userID); err != nil {
		return err
	}
	m.logger.Info().Str("user_id", userID).Msg("user deleted")
	return nil
}

// UserInstances lists the instances assigned to a user, most recent
// assignment first, each with its current user count.
func (m *Manager) UserInstances(userID string) ([]*types.InstanceInfo, error) {
	assignments, err := m.store.ListAssignmentsByUser(userID)
	if err != nil {
		return nil, err
	}

	instances := make([]*types.InstanceInfo, 0, len(assignments))
	for _, assignment := range assignments {
		instance, err := m.store.GetInstance(assignment.InstanceID)
		if err != nil {
			if apperrors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		info := types.NewInstanceInfo(instance)
		count, err := m.store.CountAssignmentsByInstance(instance.ID)
		if err != nil {
			return nil, err
		}
		info.UserCount = &count
		instances = append(instances, info)
	}

	return instances, nil
}

// InstanceUsers returns the users assigned to an instance. Assignments
// pointing at deleted users are skipped.
func (m *Manager) InstanceUsers(instanceID string) ([]*types.UserInfo, error) {
	assignments, err := m.store.ListAssignmentsByInstance(instanceID)
	if err != nil {
		return nil, err
	}

	infos := make([]*types.UserInfo, 0, len(assignments))
	for _, assignment := range assignments {
		user, err := m.store.GetUser(assignment.UserID)
		if err != nil {
			if apperrors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		infos = append(infos, types.NewUserInfo(user))
	}

	return infos, nil
}

// IsAssigned reports whether the user holds an assignment for the instance.
func (m *Manager) IsAssigned(userID, instanceID string) (bool, error) {
	_, err := m.store.GetAssignment(userID, instanceID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Assign grants a user access to an instance. Re-assignment is a no-op.
// When the instance carries a max_users cap, assignment fails with a
// conflict once the cap is reached. A user without a current instance
// gets this one.
func (m *Manager) Assign(admin *types.User, userID, instanceID string) error {
	if !admin.IsAdmin() {
		return apperrors.Forbidden("admin role required")
	}

	user, err := m.store.GetUser(userID)
	if err != nil {
		return err
	}
	instance, err := m.store.GetInstance(instanceID)
	if err != nil {
		return err
	}

	assigned, err := m.IsAssigned(userID, instanceID)
	if err != nil {
		return err
	}
	if assigned {
		return nil
	}

	if instance.MaxUsers != nil && *instance.MaxUsers > 0 {
		count, err := m.store.CountAssignmentsByInstance(instanceID)
		if err != nil {
			return err
		}
		if count >= *instance.MaxUsers {
			return apperrors.Conflictf("instance %s is at its user limit (%d)", instance.Name, *instance.MaxUsers)
		}
	}

	if err := m.store.CreateAssignment(&types.Assignment{
		ID:         uuid.NewString(),
		UserID:     userID,
		InstanceID: instanceID,
		AssignedBy: admin.ID,
		AssignedAt: m.now().UTC(),
	}); err != nil {
		return err
	}

	if user.CurrentInstanceID == "" {
		user.CurrentInstanceID = instanceID
		user.UpdatedAt = m.now().UTC()
		if err := m.store.UpdateUser(user); err != nil {
			return err
		}
	}

	m.logger.Info().
		Str("user_id", userID).
		Str("instance_id", instanceID).
		Str("admin_id", admin.ID).
		Msg("user assigned to instance")
	m.publish(events.EventUserAssigned, "user assigned to instance", map[string]string{
		"user_id":     userID,
		"instance_id": instanceID,
	})

	return nil
}

// Unassign revokes a user's access to an instance. When the removed
// instance was the user's current one, the most recent remaining
// assignment takes over, or the current instance is cleared.
func (m *Manager) Unassign(admin *types.User, userID, instanceID string) error {
	if !admin.IsAdmin() {
		return apperrors.Forbidden("admin role required")
	}

	if err := m.store.DeleteAssignment(userID, instanceID); err != nil {
		return err
	}

	user, err := m.store.GetUser(userID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	if user.CurrentInstanceID == instanceID {
		remaining, err := m.store.ListAssignmentsByUser(userID)
		if err != nil {
			return err
		}
		if len(remaining) > 0 {
			user.CurrentInstanceID = remaining[0].InstanceID
		} else {
			user.CurrentInstanceID = ""
		}
		user.UpdatedAt = m.now().UTC()
		if err := m.store.UpdateUser(user); err != nil {
			return err
		}
	}

	m.logger.Info().
		Str("user_id", userID).
		Str("instance_id", instanceID).
		Str("admin_id", admin.ID).
		Msg("user unassigned from instance")
	m.publish(events.EventUserUnassigned, "user unassigned from instance", map[string]string{
		"user_id":     userID,
		"instance_id": instanceID,
	})

	return nil
}

// SwitchInstance makes an assigned instance the user's current one and
// returns its info with the user count filled in.
func (m *Manager) SwitchInstance(userID, instanceID string) (*types.InstanceInfo, error) {
	assigned, err := m.IsAssigned(userID, instanceID)
	if err != nil {
		return nil, err
	}
	if !assigned {
		return nil, apperrors.Forbidden("you do not have access to this instance")
	}

	instance, err := m.store.GetInstance(instanceID)
	if err != nil {
		return nil, err
	}

	user, err := m.store.GetUser(userID)
	if err != nil {
		return nil, err
	}
	user.CurrentInstanceID = instanceID
	user.UpdatedAt = m.now().UTC()
	if err := m.store.UpdateUser(user); err != nil {
		return nil, err
	}

	m.logger.Info().Str("user_id", userID).Str("instance_id", instanceID).Msg("user switched instance")

	info := types.NewInstanceInfo(instance)
	count, err := m.store.CountAssignmentsByInstance(instanceID)
	if err != nil {
		return nil, err
	}
	info.UserCount = &count

	return info, nil
}

func (m *Manager) publish(eventType events.EventType, message string, metadata map[string]string) {
	if m.broker != nil {
		m.broker.Publish(events.New(eventType, message, metadata))
	}
}
