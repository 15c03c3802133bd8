package storage

import (
	"time"

	"github.com/cuemby/hutch/pkg/types"
)

// Store defines the interface for control-plane state storage.
// Implemented by the BoltDB-backed store.
type Store interface {
	// Users
	CreateUser(user *types.User) error
	GetUser(id string) (*types.User, error)
	GetUserByUsername(username string) (*types.User, error)
	GetUserByEmail(email string) (*types.User, error)
	ListUsers() ([]*types.User, error)
	UpdateUser(user *types.User) error
	DeleteUser(id string) error

	// Sessions. Raw tokens never enter the store; rows are keyed by the
	// SHA-256 hash of the token.
	CreateSession(session *types.Session) error
	GetSessionByTokenHash(tokenHash string) (*types.Session, error)
	ListSessionsByUser(userID string) ([]*types.Session, error)
	CountSessions() (int, error)
	UpdateSession(session *types.Session) error
	DeleteSession(id string) error
	DeleteSessionByTokenHash(tokenHash string) error
	DeleteSessionsByUser(userID string) error
	DeleteExpiredSessions(now time.Time) (int, error)

	// Instances. CreateInstance allocates the smallest unused port in
	// [portBase, portMax] and persists the row in one transaction.
	CreateInstance(instance *types.Instance, portBase, portMax int) error
	GetInstance(id string) (*types.Instance, error)
	ListInstances() ([]*types.Instance, error)
	ListInstancesByStatus(status types.InstanceStatus) ([]*types.Instance, error)
	UpdateInstance(instance *types.Instance) error
	DeleteInstance(id string) error

	// Assignments
	CreateAssignment(assignment *types.Assignment) error
	GetAssignment(userID, instanceID string) (*types.Assignment, error)
	ListAssignmentsByUser(userID string) ([]*types.Assignment, error)
	ListAssignmentsByInstance(instanceID string) ([]*types.Assignment, error)
	CountAssignmentsByInstance(instanceID string) (int, error)
	DeleteAssignment(userID, instanceID string) error
	DeleteAssignmentsByUser(userID string) error

	// Agent configs, unique per (instance, agent type)
	UpsertAgentConfig(config *types.AgentConfig) error
	GetAgentConfig(instanceID string, agentType types.AgentType) (*types.AgentConfig, error)
	ListAgentConfigsByInstance(instanceID string) ([]*types.AgentConfig, error)
	DeleteAgentConfig(instanceID string, agentType types.AgentType) error

	// Usage stats, one row per (instance, agent type, date)
	IncrementUsage(instanceID string, agentType types.AgentType, date string, tokens int, isError bool) (*types.UsageStat, error)
	ListUsageByInstance(instanceID string) ([]*types.UsageStat, error)

	// Repo mappings, unique per repo
	CreateRepoMapping(mapping *types.RepoMapping) error
	GetRepoMapping(id string) (*types.RepoMapping, error)
	GetRepoMappingByRepo(repo string) (*types.RepoMapping, error)
	ListRepoMappings() ([]*types.RepoMapping, error)
	UpdateRepoMapping(mapping *types.RepoMapping) error
	DeleteRepoMapping(id string) error

	// Webhook audits (append-only)
	AppendWebhookAudit(audit *types.WebhookAudit) error
	ListWebhookAudits(limit int) ([]*types.WebhookAudit, error)

	// Utility
	Close() error
}
