package users

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/cuemby/hutch/pkg/errors"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/security"
	"github.com/cuemby/hutch/pkg/types"
)

// createSession issues a token and persists the session row. The oldest
// sessions are pruned first so the user never holds more than MaxSessions
// rows after the insert.
func (m *Manager) createSession(user *types.User, ipAddress, userAgent string) (string, time.Time, error) {
	now := m.now().UTC()

	token, expiresAt, err := m.tokens.Issue(user, now, m.cfg.SessionTTL)
	if err != nil {
		return "", time.Time{}, apperrors.Internal(err, "failed to issue token")
	}

	if err := m.pruneSessions(user.ID); err != nil {
		return "", time.Time{}, err
	}

	session := &types.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: security.TokenHash(token),
		ExpiresAt: expiresAt,
		CreatedAt: now,
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
	if err := m.store.CreateSession(session); err != nil {
		return "", time.Time{}, err
	}

	return token, expiresAt, nil
}

// pruneSessions drops the oldest sessions of a user so one more fits under
// the cap. Sessions come back from the store oldest first.
func (m *Manager) pruneSessions(userID string) error {
	sessions, err := m.store.ListSessionsByUser(userID)
	if err != nil {
		return err
	}

	excess := len(sessions) - m.cfg.MaxSessions + 1
	for i := 0; i < excess && i < len(sessions); i++ {
		if err := m.store.DeleteSession(sessions[i].ID); err != nil && !apperrors.IsNotFound(err) {
			return err
		}
	}
	return nil
}

// VerifySession resolves a token to its user. The token signature, a live
// session row, and an active user are all required. Sessions inside the
// refresh threshold get their expiry extended by a full TTL (sliding
// sessions), so active users are never logged out mid-work.
func (m *Manager) VerifySession(token string) (*types.User, error) {
	claims, err := m.tokens.Verify(token)
	if err != nil {
		return nil, apperrors.Unauthorized("invalid or expired token")
	}

	session, err := m.store.GetSessionByTokenHash(security.TokenHash(token))
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Unauthorized("session expired")
		}
		return nil, err
	}

	now := m.now().UTC()
	if !session.ExpiresAt.After(now) {
		return nil, apperrors.Unauthorized("session expired")
	}

	user, err := m.store.GetUser(claims.Subject)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Unauthorized("user no longer exists")
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, apperrors.Forbidden("user account is deactivated")
	}

	if session.NeedsRefresh(now, m.cfg.RefreshThreshold) {
		session.ExpiresAt = now.Add(m.cfg.SessionTTL)
		if err := m.store.UpdateSession(session); err != nil {
			return nil, err
		}
	}

	return user, nil
}

// CleanupExpiredSessions deletes every session whose expiry has passed and
// returns how many were removed. The reconciler calls this periodically.
func (m *Manager) CleanupExpiredSessions() (int, error) {
	count, err := m.store.DeleteExpiredSessions(m.now().UTC())
	if err != nil {
		return 0, err
	}

	if count > 0 {
		m.logger.Info().Int("count", count).Msg("expired sessions removed")
		m.publish(events.EventSessionsExpired, "expired sessions removed", map[string]string{
			"count": strconv.Itoa(count),
		})
	}
	return count, nil
}
