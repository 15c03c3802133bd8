/*
Package types defines the core data structures used throughout Hutch.

This package contains the domain model for the control plane: users and
sessions, workspace instances, user-to-instance assignments, per-instance AI
agent configurations, usage counters, and the auxiliary repo-mapping and
webhook-audit records. All other packages build on these types for state
management, API payloads, and supervision logic.

All types are designed to be:
  - Serializable (JSON, both for BoltDB storage and API responses)
  - Safe to expose (API views such as UserInfo and InstanceInfo strip
    password hashes, ciphertexts, and internal filesystem paths)
  - Self-validating (typed string enums with Parse helpers)

# Core Types

Accounts and sessions:
  - User: account with role, activity flag, and current instance selection
  - UserRole: admin or user
  - Session: hash of an issued token plus expiry and client metadata

Workspaces:
  - Instance: one supervised child process (port, data dir, lifecycle state)
  - InstanceStatus: stopped, starting, running, stopping, error
  - HealthStatus: unknown, healthy, unhealthy
  - Assignment: grants a user access to an instance

AI agents:
  - AgentType: claude-code, codex-cli, gemini-cli, opencode
  - AgentConfig: encrypted API key plus free-form configuration document
  - UsageStat: per-(instance, agent, day) request/token/error counters

# State Machine

Instances follow a state machine driven by the supervisor:

	stopped → starting → running → stopping → stopped
	             ↓                     ↑
	           error  ────start()──────┘

Valid transitions:
  - stopped → starting (start requested)
  - starting → running (health probe passed)
  - starting → error (probe timeout or child exited)
  - running → error (child died unexpectedly)
  - running → stopping (stop requested)
  - stopping → stopped (child exited or was killed)
  - error → starting (start retried)

# Design Patterns

Enumeration pattern: all enums use typed string constants so values are
readable in the database and in API payloads.

API views: types ending in Info are the outward-facing projections. The
conversion constructors (NewUserInfo, NewInstanceInfo) are the only places
where a record becomes a response body, which keeps secret fields from
leaking by construction.

Optional fields use pointers (*int for MaxUsers, *time.Time for
LastHealthCheck) so `absent` and `zero` stay distinguishable in JSON.

# Thread Safety

Types here carry no locks. The storage layer serializes writes; in-memory
holders (the supervisor's handle map, the session sweeper) synchronize
their own access.
*/
package types
