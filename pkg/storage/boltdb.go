package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	apperrors "github.com/cuemby/hutch/pkg/errors"
	"github.com/cuemby/hutch/pkg/types"
)

var (
	// Entity buckets
	bucketUsers         = []byte("users")
	bucketSessions      = []byte("sessions")
	bucketInstances     = []byte("instances")
	bucketAssignments   = []byte("assignments")
	bucketAgentConfigs  = []byte("agent_configs")
	bucketUsageStats    = []byte("usage_stats")
	bucketRepoMappings  = []byte("repo_mappings")
	bucketWebhookAudits = []byte("webhook_audits")

	// Index buckets. Uniqueness is enforced by checking these inside the
	// same write transaction that inserts the row; bolt serializes writers,
	// so check-then-put is race-free.
	bucketUsernameIndex = []byte("idx_users_username")
	bucketEmailIndex    = []byte("idx_users_email")
	bucketTokenIndex    = []byte("idx_sessions_token")
	bucketPortIndex     = []byte("idx_instances_port")
	bucketRepoIndex     = []byte("idx_mappings_repo")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the bolt database at path and ensures all
// buckets exist.
func NewBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketUsers,
			bucketSessions,
			bucketInstances,
			bucketAssignments,
			bucketAgentConfigs,
			bucketUsageStats,
			bucketRepoMappings,
			bucketWebhookAudits,
			bucketUsernameIndex,
			bucketEmailIndex,
			bucketTokenIndex,
			bucketPortIndex,
			bucketRepoIndex,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// compositeKey joins key parts with "/". IDs are UUIDs and agent types are
// fixed identifiers, so the separator cannot appear inside a part.
func compositeKey(parts ...string) []byte {
	return []byte(strings.Join(parts, "/"))
}

func portKey(port int) []byte {
	return []byte(strconv.Itoa(port))
}

// User operations

func (s *BoltStore) CreateUser(user *types.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		usernames := tx.Bucket(bucketUsernameIndex)
		if usernames.Get([]byte(user.Username)) != nil {
			return apperrors.Conflictf("username already exists: %s", user.Username)
		}
		emails := tx.Bucket(bucketEmailIndex)
		if user.Email != "" && emails.Get([]byte(user.Email)) != nil {
			return apperrors.Conflictf("email already exists: %s", user.Email)
		}

		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketUsers).Put([]byte(user.ID), data); err != nil {
			return err
		}
		if err := usernames.Put([]byte(user.Username), []byte(user.ID)); err != nil {
			return err
		}
		if user.Email != "" {
			return emails.Put([]byte(user.Email), []byte(user.ID))
		}
		return nil
	})
}

func (s *BoltStore) GetUser(id string) (*types.User, error) {
	var user types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return apperrors.NotFoundf("user not found: %s", id)
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *BoltStore) GetUserByUsername(username string) (*types.User, error) {
	var user types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketUsernameIndex).Get([]byte(username))
		if id == nil {
			return apperrors.NotFoundf("user not found: %s", username)
		}
		data := tx.Bucket(bucketUsers).Get(id)
		if data == nil {
			return apperrors.NotFoundf("user not found: %s", username)
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *BoltStore) GetUserByEmail(email string) (*types.User, error) {
	var user types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketEmailIndex).Get([]byte(email))
		if id == nil {
			return apperrors.NotFoundf("user not found: %s", email)
		}
		data := tx.Bucket(bucketUsers).Get(id)
		if data == nil {
			return apperrors.NotFoundf("user not found: %s", email)
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *BoltStore) ListUsers() ([]*types.User, error) {
	var users []*types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var user types.User
			if err := json.Unmarshal(v, &user); err != nil {
				return err
			}
			users = append(users, &user)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *BoltStore) UpdateUser(user *types.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		old := b.Get([]byte(user.ID))
		if old == nil {
			return apperrors.NotFoundf("user not found: %s", user.ID)
		}
		var prev types.User
		if err := json.Unmarshal(old, &prev); err != nil {
			return err
		}

		usernames := tx.Bucket(bucketUsernameIndex)
		if prev.Username != user.Username {
			if usernames.Get([]byte(user.Username)) != nil {
				return apperrors.Conflictf("username already exists: %s", user.Username)
			}
			if err := usernames.Delete([]byte(prev.Username)); err != nil {
				return err
			}
			if err := usernames.Put([]byte(user.Username), []byte(user.ID)); err != nil {
				return err
			}
		}

		emails := tx.Bucket(bucketEmailIndex)
		if prev.Email != user.Email {
			if user.Email != "" && emails.Get([]byte(user.Email)) != nil {
				return apperrors.Conflictf("email already exists: %s", user.Email)
			}
			if prev.Email != "" {
				if err := emails.Delete([]byte(prev.Email)); err != nil {
					return err
				}
			}
			if user.Email != "" {
				if err := emails.Put([]byte(user.Email), []byte(user.ID)); err != nil {
					return err
				}
			}
		}

		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		return b.Put([]byte(user.ID), data)
	})
}

func (s *BoltStore) DeleteUser(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		data := b.Get([]byte(id))
		if data == nil {
			return apperrors.NotFoundf("user not found: %s", id)
		}
		var user types.User
		if err := json.Unmarshal(data, &user); err != nil {
			return err
		}

		if err := tx.Bucket(bucketUsernameIndex).Delete([]byte(user.Username)); err != nil {
			return err
		}
		if user.Email != "" {
			if err := tx.Bucket(bucketEmailIndex).Delete([]byte(user.Email)); err != nil {
				return err
			}
		}
		if err := deleteSessionsByUserTx(tx, id); err != nil {
			return err
		}
		if err := deleteAssignmentsByUserTx(tx, id); err != nil {
			return err
		}
		return b.Delete([]byte(id))
	})
}

// Session operations

func (s *BoltStore) CreateSession(session *types.Session) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		tokens := tx.Bucket(bucketTokenIndex)
		if tokens.Get([]byte(session.TokenHash)) != nil {
			return apperrors.Conflict("session token already exists")
		}

		data, err := json.Marshal(session)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketSessions).Put([]byte(session.ID), data); err != nil {
			return err
		}
		return tokens.Put([]byte(session.TokenHash), []byte(session.ID))
	})
}

func (s *BoltStore) GetSessionByTokenHash(tokenHash string) (*types.Session, error) {
	var session types.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketTokenIndex).Get([]byte(tokenHash))
		if id == nil {
			return apperrors.NotFound("session not found")
		}
		data := tx.Bucket(bucketSessions).Get(id)
		if data == nil {
			return apperrors.NotFound("session not found")
		}
		return json.Unmarshal(data, &session)
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *BoltStore) ListSessionsByUser(userID string) ([]*types.Session, error) {
	var sessions []*types.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(k, v []byte) error {
			var session types.Session
			if err := json.Unmarshal(v, &session); err != nil {
				return err
			}
			if session.UserID == userID {
				sessions = append(sessions, &session)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	// Oldest first, so callers can prune from the front.
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.Before(sessions[j].CreatedAt) })
	return sessions, nil
}

func (s *BoltStore) CountSessions() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketSessions).Stats().KeyN
		return nil
	})
	return count, err
}

func (s *BoltStore) UpdateSession(session *types.Session) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b.Get([]byte(session.ID)) == nil {
			return apperrors.NotFound("session not found")
		}
		data, err := json.Marshal(session)
		if err != nil {
			return err
		}
		return b.Put([]byte(session.ID), data)
	})
}

func (s *BoltStore) DeleteSession(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return deleteSessionTx(tx, []byte(id))
	})
}

func (s *BoltStore) DeleteSessionByTokenHash(tokenHash string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketTokenIndex).Get([]byte(tokenHash))
		if id == nil {
			return apperrors.NotFound("session not found")
		}
		return deleteSessionTx(tx, id)
	})
}

func (s *BoltStore) DeleteSessionsByUser(userID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return deleteSessionsByUserTx(tx, userID)
	})
}

func (s *BoltStore) DeleteExpiredSessions(now time.Time) (int, error) {
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		tokens := tx.Bucket(bucketTokenIndex)

		var expired [][]byte
		var hashes []string
		if err := b.ForEach(func(k, v []byte) error {
			var session types.Session
			if err := json.Unmarshal(v, &session); err != nil {
				return err
			}
			if !session.ExpiresAt.After(now) {
				key := make([]byte, len(k))
				copy(key, k)
				expired = append(expired, key)
				hashes = append(hashes, session.TokenHash)
			}
			return nil
		}); err != nil {
			return err
		}

		for i, key := range expired {
			if err := b.Delete(key); err != nil {
				return err
			}
			if err := tokens.Delete([]byte(hashes[i])); err != nil {
				return err
			}
		}
		count = len(expired)
		return nil
	})
	return count, err
}

func deleteSessionTx(tx *bolt.Tx, id []byte) error {
	b := tx.Bucket(bucketSessions)
	data := b.Get(id)
	if data == nil {
		return apperrors.NotFound("session not found")
	}
	var session types.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return err
	}
	if err := tx.Bucket(bucketTokenIndex).Delete([]byte(session.TokenHash)); err != nil {
		return err
	}
	return b.Delete(id)
}

func deleteSessionsByUserTx(tx *bolt.Tx, userID string) error {
	b := tx.Bucket(bucketSessions)
	tokens := tx.Bucket(bucketTokenIndex)

	var ids [][]byte
	var hashes []string
	if err := b.ForEach(func(k, v []byte) error {
		var session types.Session
		if err := json.Unmarshal(v, &session); err != nil {
			return err
		}
		if session.UserID == userID {
			key := make([]byte, len(k))
			copy(key, k)
			ids = append(ids, key)
			hashes = append(hashes, session.TokenHash)
		}
		return nil
	}); err != nil {
		return err
	}

	for i, id := range ids {
		if err := b.Delete(id); err != nil {
			return err
		}
		if err := tokens.Delete([]byte(hashes[i])); err != nil {
			return err
		}
	}
	return nil
}

// Instance operations

func (s *BoltStore) CreateInstance(instance *types.Instance, portBase, portMax int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		ports := tx.Bucket(bucketPortIndex)

		port := 0
		for p := portBase; p <= portMax; p++ {
			if ports.Get(portKey(p)) == nil {
				port = p
				break
			}
		}
		if port == 0 {
			return apperrors.Conflictf("no available port in range %d-%d", portBase, portMax).
				WithCode(apperrors.CodeNoAvailablePort)
		}
		instance.Port = port

		data, err := json.Marshal(instance)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketInstances).Put([]byte(instance.ID), data); err != nil {
			return err
		}
		return ports.Put(portKey(port), []byte(instance.ID))
	})
}

func (s *BoltStore) GetInstance(id string) (*types.Instance, error) {
	var instance types.Instance
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketInstances).Get([]byte(id))
		if data == nil {
			return apperrors.NotFoundf("instance not found: %s", id)
		}
		return json.Unmarshal(data, &instance)
	})
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

func (s *BoltStore) ListInstances() ([]*types.Instance, error) {
	var instances []*types.Instance
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
			var instance types.Instance
			if err := json.Unmarshal(v, &instance); err != nil {
				return err
			}
			instances = append(instances, &instance)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Name < instances[j].Name })
	return instances, nil
}

func (s *BoltStore) ListInstancesByStatus(status types.InstanceStatus) ([]*types.Instance, error) {
	instances, err := s.ListInstances()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Instance
	for _, instance := range instances {
		if instance.Status == status {
			filtered = append(filtered, instance)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateInstance(instance *types.Instance) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		if b.Get([]byte(instance.ID)) == nil {
			return apperrors.NotFoundf("instance not found: %s", instance.ID)
		}
		data, err := json.Marshal(instance)
		if err != nil {
			return err
		}
		return b.Put([]byte(instance.ID), data)
	})
}

func (s *BoltStore) DeleteInstance(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		data := b.Get([]byte(id))
		if data == nil {
			return apperrors.NotFoundf("instance not found: %s", id)
		}
		var instance types.Instance
		if err := json.Unmarshal(data, &instance); err != nil {
			return err
		}

		if err := tx.Bucket(bucketPortIndex).Delete(portKey(instance.Port)); err != nil {
			return err
		}
		if err := deleteByPrefix(tx.Bucket(bucketAgentConfigs), id+"/"); err != nil {
			return err
		}
		if err := deleteByPrefix(tx.Bucket(bucketUsageStats), id+"/"); err != nil {
			return err
		}
		if err := deleteAssignmentsByInstanceTx(tx, id); err != nil {
			return err
		}
		if err := deleteRepoMappingsByInstanceTx(tx, id); err != nil {
			return err
		}
		return b.Delete([]byte(id))
	})
}

func deleteByPrefix(b *bolt.Bucket, prefix string) error {
	c := b.Cursor()
	p := []byte(prefix)

	var keys [][]byte
	for k, _ := c.Seek(p); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
		key := make([]byte, len(k))
		copy(key, k)
		keys = append(keys, key)
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Assignment operations. Rows are keyed by "userID/instanceID" so the pair
// is naturally unique and per-user listing is a prefix scan.

func (s *BoltStore) CreateAssignment(assignment *types.Assignment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAssignments)
		key := compositeKey(assignment.UserID, assignment.InstanceID)
		if b.Get(key) != nil {
			return apperrors.Conflict("user is already assigned to this instance")
		}
		data, err := json.Marshal(assignment)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) GetAssignment(userID, instanceID string) (*types.Assignment, error) {
	var assignment types.Assignment
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAssignments).Get(compositeKey(userID, instanceID))
		if data == nil {
			return apperrors.NotFound("assignment not found")
		}
		return json.Unmarshal(data, &assignment)
	})
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

func (s *BoltStore) ListAssignmentsByUser(userID string) ([]*types.Assignment, error) {
	var assignments []*types.Assignment
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAssignments).Cursor()
		prefix := userID + "/"
		for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			var assignment types.Assignment
			if err := json.Unmarshal(v, &assignment); err != nil {
				return err
			}
			assignments = append(assignments, &assignment)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(assignments, func(i, j int) bool {
		return assignments[i].AssignedAt.After(assignments[j].AssignedAt)
	})
	return assignments, nil
}

func (s *BoltStore) ListAssignmentsByInstance(instanceID string) ([]*types.Assignment, error) {
	var assignments []*types.Assignment
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAssignments).ForEach(func(k, v []byte) error {
			var assignment types.Assignment
			if err := json.Unmarshal(v, &assignment); err != nil {
				return err
			}
			if assignment.InstanceID == instanceID {
				assignments = append(assignments, &assignment)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(assignments, func(i, j int) bool {
		return assignments[i].AssignedAt.After(assignments[j].AssignedAt)
	})
	return assignments, nil
}

func (s *BoltStore) CountAssignmentsByInstance(instanceID string) (int, error) {
	assignments, err := s.ListAssignmentsByInstance(instanceID)
	if err != nil {
		return 0, err
	}
	return len(assignments), nil
}

func (s *BoltStore) DeleteAssignment(userID, instanceID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAssignments)
		key := compositeKey(userID, instanceID)
		if b.Get(key) == nil {
			return apperrors.NotFound("assignment not found")
		}
		return b.Delete(key)
	})
}

func (s *BoltStore) DeleteAssignmentsByUser(userID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return deleteAssignmentsByUserTx(tx, userID)
	})
}

func deleteAssignmentsByUserTx(tx *bolt.Tx, userID string) error {
	return deleteByPrefix(tx.Bucket(bucketAssignments), userID+"/")
}

func deleteAssignmentsByInstanceTx(tx *bolt.Tx, instanceID string) error {
	b := tx.Bucket(bucketAssignments)

	var keys [][]byte
	if err := b.ForEach(func(k, v []byte) error {
		var assignment types.Assignment
		if err := json.Unmarshal(v, &assignment); err != nil {
			return err
		}
		if assignment.InstanceID == instanceID {
			key := make([]byte, len(k))
			copy(key, k)
			keys = append(keys, key)
		}
		return nil
	}); err != nil {
		return err
	}

	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// Agent config operations. Rows are keyed by "instanceID/agentType", the
// natural unique key, so set-config is a plain upsert.

func (s *BoltStore) UpsertAgentConfig(config *types.AgentConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(config)
		if err != nil {
			return err
		}
		key := compositeKey(config.InstanceID, string(config.AgentType))
		return tx.Bucket(bucketAgentConfigs).Put(key, data)
	})
}

func (s *BoltStore) GetAgentConfig(instanceID string, agentType types.AgentType) (*types.AgentConfig, error) {
	var config types.AgentConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAgentConfigs).Get(compositeKey(instanceID, string(agentType)))
		if data == nil {
			return apperrors.NotFoundf("agent config not found: %s", agentType)
		}
		return json.Unmarshal(data, &config)
	})
	if err != nil {
		return nil, err
	}
	return &config, nil
}

func (s *BoltStore) ListAgentConfigsByInstance(instanceID string) ([]*types.AgentConfig, error) {
	var configs []*types.AgentConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAgentConfigs).Cursor()
		prefix := instanceID + "/"
		for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			var config types.AgentConfig
			if err := json.Unmarshal(v, &config); err != nil {
				return err
			}
			configs = append(configs, &config)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return configs, nil
}

func (s *BoltStore) DeleteAgentConfig(instanceID string, agentType types.AgentType) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgentConfigs)
		key := compositeKey(instanceID, string(agentType))
		if b.Get(key) == nil {
			return apperrors.NotFoundf("agent config not found: %s", agentType)
		}
		return b.Delete(key)
	})
}

// Usage stat operations. Rows are keyed by "instanceID/agentType/date";
// increments are read-modify-write inside one transaction.

func (s *BoltStore) IncrementUsage(instanceID string, agentType types.AgentType, date string, tokens int, isError bool) (*types.UsageStat, error) {
	var stat types.UsageStat
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsageStats)
		key := compositeKey(instanceID, string(agentType), date)

		if data := b.Get(key); data != nil {
			if err := json.Unmarshal(data, &stat); err != nil {
				return err
			}
		} else {
			stat = types.UsageStat{
				ID:         uuid.NewString(),
				InstanceID: instanceID,
				AgentType:  agentType,
				Date:       date,
			}
		}

		stat.RequestCount++
		stat.TokenCount += tokens
		if isError {
			stat.ErrorCount++
		}

		data, err := json.Marshal(&stat)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	if err != nil {
		return nil, err
	}
	return &stat, nil
}

func (s *BoltStore) ListUsageByInstance(instanceID string) ([]*types.UsageStat, error) {
	var stats []*types.UsageStat
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketUsageStats).Cursor()
		prefix := instanceID + "/"
		for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			var stat types.UsageStat
			if err := json.Unmarshal(v, &stat); err != nil {
				return err
			}
			stats = append(stats, &stat)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Repo mapping operations

func (s *BoltStore) CreateRepoMapping(mapping *types.RepoMapping) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		repos := tx.Bucket(bucketRepoIndex)
		if repos.Get([]byte(mapping.Repo)) != nil {
			return apperrors.Conflictf("repository already mapped: %s", mapping.Repo)
		}
		data, err := json.Marshal(mapping)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketRepoMappings).Put([]byte(mapping.ID), data); err != nil {
			return err
		}
		return repos.Put([]byte(mapping.Repo), []byte(mapping.ID))
	})
}

func (s *BoltStore) GetRepoMapping(id string) (*types.RepoMapping, error) {
	var mapping types.RepoMapping
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRepoMappings).Get([]byte(id))
		if data == nil {
			return apperrors.NotFoundf("repo mapping not found: %s", id)
		}
		return json.Unmarshal(data, &mapping)
	})
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}

func (s *BoltStore) GetRepoMappingByRepo(repo string) (*types.RepoMapping, error) {
	var mapping types.RepoMapping
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketRepoIndex).Get([]byte(repo))
		if id == nil {
			return apperrors.NotFoundf("repo mapping not found: %s", repo)
		}
		data := tx.Bucket(bucketRepoMappings).Get(id)
		if data == nil {
			return apperrors.NotFoundf("repo mapping not found: %s", repo)
		}
		return json.Unmarshal(data, &mapping)
	})
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}

func (s *BoltStore) ListRepoMappings() ([]*types.RepoMapping, error) {
	var mappings []*types.RepoMapping
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRepoMappings).ForEach(func(k, v []byte) error {
			var mapping types.RepoMapping
			if err := json.Unmarshal(v, &mapping); err != nil {
				return err
			}
			mappings = append(mappings, &mapping)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(mappings, func(i, j int) bool { return mappings[i].Repo < mappings[j].Repo })
	return mappings, nil
}

func (s *BoltStore) UpdateRepoMapping(mapping *types.RepoMapping) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRepoMappings)
		old := b.Get([]byte(mapping.ID))
		if old == nil {
			return apperrors.NotFoundf("repo mapping not found: %s", mapping.ID)
		}
		var prev types.RepoMapping
		if err := json.Unmarshal(old, &prev); err != nil {
			return err
		}

		repos := tx.Bucket(bucketRepoIndex)
		if prev.Repo != mapping.Repo {
			if repos.Get([]byte(mapping.Repo)) != nil {
				return apperrors.Conflictf("repository already mapped: %s", mapping.Repo)
			}
			if err := repos.Delete([]byte(prev.Repo)); err != nil {
				return err
			}
			if err := repos.Put([]byte(mapping.Repo), []byte(mapping.ID)); err != nil {
				return err
			}
		}

		data, err := json.Marshal(mapping)
		if err != nil {
			return err
		}
		return b.Put([]byte(mapping.ID), data)
	})
}

func (s *BoltStore) DeleteRepoMapping(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRepoMappings)
		data := b.Get([]byte(id))
		if data == nil {
			return apperrors.NotFoundf("repo mapping not found: %s", id)
		}
		var mapping types.RepoMapping
		if err := json.Unmarshal(data, &mapping); err != nil {
			return err
		}
		if err := tx.Bucket(bucketRepoIndex).Delete([]byte(mapping.Repo)); err != nil {
			return err
		}
		return b.Delete([]byte(id))
	})
}

func deleteRepoMappingsByInstanceTx(tx *bolt.Tx, instanceID string) error {
	b := tx.Bucket(bucketRepoMappings)
	repos := tx.Bucket(bucketRepoIndex)

	var ids [][]byte
	var repoKeys []string
	if err := b.ForEach(func(k, v []byte) error {
		var mapping types.RepoMapping
		if err := json.Unmarshal(v, &mapping); err != nil {
			return err
		}
		if mapping.InstanceID == instanceID {
			key := make([]byte, len(k))
			copy(key, k)
			ids = append(ids, key)
			repoKeys = append(repoKeys, mapping.Repo)
		}
		return nil
	}); err != nil {
		return err
	}

	for i, id := range ids {
		if err := b.Delete(id); err != nil {
			return err
		}
		if err := repos.Delete([]byte(repoKeys[i])); err != nil {
			return err
		}
	}
	return nil
}

// Webhook audit operations. Keys embed the creation time so a reverse
// cursor scan yields newest-first without sorting.

func (s *BoltStore) AppendWebhookAudit(audit *types.WebhookAudit) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(audit)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%020d/%s", audit.CreatedAt.UnixNano(), audit.ID)
		return tx.Bucket(bucketWebhookAudits).Put([]byte(key), data)
	})
}

func (s *BoltStore) ListWebhookAudits(limit int) ([]*types.WebhookAudit, error) {
	var audits []*types.WebhookAudit
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketWebhookAudits).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(audits) >= limit {
				break
			}
			var audit types.WebhookAudit
			if err := json.Unmarshal(v, &audit); err != nil {
				return err
			}
			audits = append(audits, &audit)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audits, nil
}
