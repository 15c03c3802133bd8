package types

import (
	"fmt"
	"time"
)

// User is an account that can authenticate against the control plane.
type User struct {
	ID                string     `json:"id"`
	Username          string     `json:"username"`
	Email             string     `json:"email,omitempty"`
	PasswordHash      string     `json:"-"`
	DisplayName       string     `json:"display_name,omitempty"`
	Role              UserRole   `json:"role"`
	CurrentInstanceID string     `json:"current_instance_id,omitempty"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
}

// UserRole defines the privilege level of a user
type UserRole string

const (
	RoleAdmin UserRole = "admin"
	RoleUser  UserRole = "user"
)

// ParseUserRole converts a string into a UserRole
func ParseUserRole(s string) (UserRole, error) {
	switch UserRole(s) {
	case RoleAdmin, RoleUser:
		return UserRole(s), nil
	}
	return "", fmt.Errorf("unknown user role: %q", s)
}

// IsAdmin reports whether the user has the admin role
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserInfo is the API view of a user. It never carries the password hash.
type UserInfo struct {
	ID                string     `json:"id"`
	Username          string     `json:"username"`
	Email             string     `json:"email,omitempty"`
	DisplayName       string     `json:"display_name,omitempty"`
	Role              UserRole   `json:"role"`
	CurrentInstanceID string     `json:"current_instance_id,omitempty"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
}

// NewUserInfo builds the API view from a user record
func NewUserInfo(u *User) *UserInfo {
	return &UserInfo{
		ID:                u.ID,
		Username:          u.Username,
		Email:             u.Email,
		DisplayName:       u.DisplayName,
		Role:              u.Role,
		CurrentInstanceID: u.CurrentInstanceID,
		IsActive:          u.IsActive,
		CreatedAt:         u.CreatedAt,
		LastLoginAt:       u.LastLoginAt,
	}
}

// Session tracks one issued token. Only the SHA-256 of the token is stored,
// so a leaked database cannot be replayed against the API.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"token_hash"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// NeedsRefresh reports whether the session is inside the sliding-refresh
// window and should have its expiry extended.
func (s *Session) NeedsRefresh(now time.Time, threshold time.Duration) bool {
	return s.ExpiresAt.Sub(now) < threshold
}

// Instance is one supervised workspace child process.
type Instance struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	Port            int            `json:"port"`
	DataDir         string         `json:"data_dir"`
	Status          InstanceStatus `json:"status"`
	AutoStart       bool           `json:"auto_start"`
	MaxUsers        *int           `json:"max_users,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	LastHealthCheck *time.Time     `json:"last_health_check,omitempty"`
	HealthStatus    HealthStatus   `json:"health_status"`
	LastError       string         `json:"last_error,omitempty"`
	LastErrorAt     *time.Time     `json:"last_error_at,omitempty"`
}

// InstanceStatus is the lifecycle state of an instance
type InstanceStatus string

const (
	InstanceStopped  InstanceStatus = "stopped"
	InstanceStarting InstanceStatus = "starting"
	InstanceRunning  InstanceStatus = "running"
	InstanceStopping InstanceStatus = "stopping"
	InstanceError    InstanceStatus = "error"
)

// HealthStatus is the last observed probe result for an instance
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// InstanceInfo is the API view of an instance. The data directory path is
// internal and not exposed.
type InstanceInfo struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	Port            int            `json:"port"`
	Status          InstanceStatus `json:"status"`
	HealthStatus    HealthStatus   `json:"health_status"`
	AutoStart       bool           `json:"auto_start"`
	MaxUsers        *int           `json:"max_users,omitempty"`
	UserCount       *int           `json:"user_count,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	LastHealthCheck *time.Time     `json:"last_health_check,omitempty"`
	LastError       string         `json:"last_error,omitempty"`
	LastErrorAt     *time.Time     `json:"last_error_at,omitempty"`
}

// NewInstanceInfo builds the API view from an instance record
func NewInstanceInfo(in *Instance) *InstanceInfo {
	health := in.HealthStatus
	if health == "" {
		health = HealthUnknown
	}
	return &InstanceInfo{
		ID:              in.ID,
		Name:            in.Name,
		Description:     in.Description,
		Port:            in.Port,
		Status:          in.Status,
		HealthStatus:    health,
		AutoStart:       in.AutoStart,
		MaxUsers:        in.MaxUsers,
		CreatedAt:       in.CreatedAt,
		LastHealthCheck: in.LastHealthCheck,
		LastError:       in.LastError,
		LastErrorAt:     in.LastErrorAt,
	}
}

// Assignment grants a user access to an instance
type Assignment struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	InstanceID string    `json:"instance_id"`
	AssignedBy string    `json:"assigned_by,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
}

// AgentType identifies one of the supported AI coding agents
type AgentType string

const (
	AgentClaudeCode AgentType = "claude-code"
	AgentCodexCLI   AgentType = "codex-cli"
	AgentGeminiCLI  AgentType = "gemini-cli"
	AgentOpenCode   AgentType = "opencode"
)

// AgentTypes lists all supported agent types in stable order
func AgentTypes() []AgentType {
	return []AgentType{AgentClaudeCode, AgentCodexCLI, AgentGeminiCLI, AgentOpenCode}
}

// ParseAgentType converts a string into an AgentType
func ParseAgentType(s string) (AgentType, error) {
	switch AgentType(s) {
	case AgentClaudeCode, AgentCodexCLI, AgentGeminiCLI, AgentOpenCode:
		return AgentType(s), nil
	}
	return "", fmt.Errorf("unknown agent type: %q", s)
}

// AgentConfig holds the per-(instance, agent) credential and configuration.
// APIKeyCiphertext is base64(nonce || ciphertext || tag); it never leaves the
// control plane.
type AgentConfig struct {
	ID               string    `json:"id"`
	InstanceID       string    `json:"instance_id"`
	AgentType        AgentType `json:"agent_type"`
	IsEnabled        bool      `json:"is_enabled"`
	APIKeyCiphertext string    `json:"-"`
	ConfigJSON       string    `json:"config_json,omitempty"`
	RateLimitRPM     *int      `json:"rate_limit_rpm,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AgentConfigInfo is the API view of an agent config. Key material is
// reduced to a has_api_key flag.
type AgentConfigInfo struct {
	AgentType    AgentType      `json:"agent_type"`
	IsEnabled    bool           `json:"is_enabled"`
	HasAPIKey    bool           `json:"has_api_key"`
	Config       map[string]any `json:"config,omitempty"`
	RateLimitRPM *int           `json:"rate_limit_rpm,omitempty"`
}

// UsageStat is a per-(instance, agent, day) counter bucket
type UsageStat struct {
	ID           string    `json:"id"`
	InstanceID   string    `json:"instance_id"`
	AgentType    AgentType `json:"agent_type"`
	Date         string    `json:"date"` // YYYY-MM-DD
	RequestCount int       `json:"request_count"`
	TokenCount   int       `json:"token_count"`
	ErrorCount   int       `json:"error_count"`
}

// UsageSummary aggregates usage buckets for one instance
type UsageSummary struct {
	InstanceID    string       `json:"instance_id"`
	TotalRequests int          `json:"total_requests"`
	TotalTokens   int          `json:"total_tokens"`
	TotalErrors   int          `json:"total_errors"`
	ByAgent       []AgentUsage `json:"stats_by_agent"`
}

// AgentUsage is the per-agent slice of a usage summary
type AgentUsage struct {
	AgentType    AgentType `json:"agent_type"`
	RequestCount int       `json:"request_count"`
	TokenCount   int       `json:"token_count"`
	ErrorCount   int       `json:"error_count"`
}

// RepoMapping links a Git repository to an instance for review tooling.
// The control plane only stores these; review orchestration lives outside.
type RepoMapping struct {
	ID           string    `json:"id"`
	Repo         string    `json:"repo"` // "org/name"
	InstanceID   string    `json:"instance_id"`
	ProjectID    string    `json:"project_id,omitempty"`
	AgentType    AgentType `json:"agent_type"`
	CustomPrompt string    `json:"custom_prompt,omitempty"`
	IsEnabled    bool      `json:"is_enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// WebhookAudit records the outcome of one received forge webhook
type WebhookAudit struct {
	ID           string    `json:"id"`
	Repo         string    `json:"repo"`
	EventType    string    `json:"event_type"`
	PayloadHash  string    `json:"payload_hash"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Webhook audit statuses
const (
	WebhookProcessed        = "processed"
	WebhookSignatureInvalid = "signature_invalid"
	WebhookRepoUnmapped     = "repo_unmapped"
	WebhookDuplicate        = "duplicate"
	WebhookIgnored          = "ignored"
	WebhookError            = "error"
)
