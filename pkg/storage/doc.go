/*
Package storage provides persistent state management for hutch using BoltDB.

The storage package is the single source of truth for control-plane state:
users, sessions, workspace instances, assignments, agent configurations,
usage statistics, repository mappings, and webhook audits. It wraps BoltDB
(bbolt), an embedded key/value store with ACID transactions, so the server
runs from one file with no external database.

# Architecture

	┌───────────────────── STORAGE LAYER ───────────────────────┐
	│                                                             │
	│  ┌───────────────────────────────────────────────┐        │
	│  │              Store Interface                   │        │
	│  │  Typed CRUD for every entity; callers never    │        │
	│  │  see bolt transactions or buckets              │        │
	│  └──────────────────┬────────────────────────────┘        │
	│                     │                                       │
	│  ┌──────────────────▼────────────────────────────┐        │
	│  │               BoltStore                        │        │
	│  │                                                │        │
	│  │  Entity buckets (JSON values, keyed by id):    │        │
	│  │    users, sessions, instances, assignments,    │        │
	│  │    agent_configs, usage_stats, repo_mappings,  │        │
	│  │    webhook_audits                              │        │
	│  │                                                │        │
	│  │  Index buckets (uniqueness + O(1) lookup):     │        │
	│  │    idx_users_username   username -> user id    │        │
	│  │    idx_users_email      email    -> user id    │        │
	│  │    idx_sessions_token   hash     -> session id │        │
	│  │    idx_instances_port   port     -> instance id│        │
	│  │    idx_mappings_repo    repo     -> mapping id │        │
	│  └───────────────────────────────────────────────┘        │
	└─────────────────────────────────────────────────────────┘

# Uniqueness and Transactions

Bolt serializes write transactions, so uniqueness constraints are enforced
by checking the index bucket and inserting the row inside one Update call.
There is no window where two writers can both observe a free username, port,
or token hash.

Port allocation rides on the same property: CreateInstance scans the port
index for the smallest unused port in the configured range and persists the
instance in the same transaction. Concurrent creates cannot double-allocate.

# Key Layout

Composite-natural-key buckets avoid separate indexes where the key itself is
the constraint:

  - assignments:    "userID/instanceID" (pair uniqueness, per-user prefix scan)
  - agent_configs:  "instanceID/agentType" (upsert per agent per instance)
  - usage_stats:    "instanceID/agentType/date" (one row per day)
  - webhook_audits: "zero-padded unixnano/id" (reverse scan = newest first)

All parts are UUIDs or fixed identifiers, so the "/" separator is safe.

# Cascades

DeleteUser removes the user's sessions and assignments in the same
transaction. DeleteInstance removes its agent configs, usage stats,
assignments, repo mappings, and releases its port. Callers cannot observe a
half-deleted entity.

# Error Mapping

Lookups that miss return a not_found error from pkg/errors; constraint
violations return conflict. Handlers map these to 404/409 at the API
boundary without inspecting strings.

# Usage

	store, err := storage.NewBoltStore(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	user, err := store.GetUserByUsername("alice")
	if apperrors.IsNotFound(err) {
		// handle missing user
	}

# See Also

  - pkg/users for the session and account rules layered on this store
  - pkg/supervisor for instance rows and port allocation
*/
package storage
