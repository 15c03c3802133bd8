// Package users owns accounts, sessions, and instance assignments for the
// hutch control plane.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────┐
//	│                      users.Manager                        │
//	├──────────────────────────────────────────────────────────┤
//	│                                                           │
//	│  Register/Login/Logout          Assign/Unassign/Switch    │
//	│        │                              │                   │
//	│        ▼                              ▼                   │
//	│  ┌───────────────┐             ┌───────────────┐          │
//	│  │ security      │             │ assignments   │          │
//	│  │ argon2id      │             │ current       │          │
//	│  │ HS256 + jti   │             │ instance      │          │
//	│  └──────┬────────┘             └──────┬────────┘          │
//	│         │                             │                   │
//	│         ▼                             ▼                   │
//	│  ┌────────────────────────────────────────────┐           │
//	│  │ storage.Store                              │           │
//	│  │ users / sessions (token-hash keyed) /      │           │
//	│  │ assignments                                │           │
//	│  └────────────────────────────────────────────┘           │
//	└──────────────────────────────────────────────────────────┘
//
// # Session Model
//
// A login issues an HS256 token and writes a session row keyed by the
// SHA-256 of that token. VerifySession demands both: a token with a valid
// signature but no row (logout, password change, deactivation, pruning) is
// dead, and a row whose token has expired is equally dead. Sessions slide:
// a verify inside the refresh threshold extends the row by a full TTL.
// Each user holds at most MaxSessions rows; logins beyond the cap evict
// the oldest session first.
//
// # Current Instance
//
// Every user points at most one assigned instance as current; the proxy
// routes there. The pointer self-heals: a first assignment claims it, a
// login backfills it from the most recent assignment, and an unassignment
// falls back to the most recent remaining assignment or clears it.
//
// # Usage
//
//	mgr := users.NewManager(store, tokens, broker, users.DefaultConfig())
//
//	user, err := mgr.Register("alice", "secret123", "a@example.com", "", types.RoleUser)
//	result, err := mgr.Login("alice", "secret123", ip, userAgent)
//	user, err = mgr.VerifySession(result.Token)
//
// # See Also
//
//   - pkg/security: hashing and token primitives
//   - pkg/api: auth middleware built on VerifySession
//   - pkg/ingress: proxy assignment checks
package users
