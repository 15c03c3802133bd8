// Package supervisor owns the workspace fleet: instance records, their
// data directories, and the vibe-kanban child processes serving them.
//
//	          CreateInstance / Start / Stop / Delete
//	                           │
//	                           ▼
//	                  ┌─────────────────┐
//	   bbolt rows ◀── │   Supervisor    │ ──▶ <data_root>/<id>/
//	   (port in-tx)   └────────┬────────┘     db/ config/ worktrees/
//	                           │              logs/ ai-agents/...
//	              ┌────────────┼────────────┐
//	              ▼            ▼            ▼
//	         keyed mutex   procs map    waiter goroutine
//	         (per-id       (exec.Cmd    (reap, crash →
//	          serialize)    handles)     error state)
//	                           │
//	                           ▼
//	              child: vibe-kanban on 127.0.0.1:<port>
//	              env: PORT, BACKEND_PORT, HOST, VIBE_DATA_DIR,
//	                   RUST_LOG + per-agent key/config vars
//
// # State Machine
//
//	stopped ──start()──▶ starting ──healthy──▶ running
//	   ▲                     │                    │
//	   │                     └─ timeout/exit ──▶ error
//	   │                                          │
//	   └────────── stop() ◀── stopping ◀──────────┘
//
// Start is gated on the child's /api/health endpoint: 500 ms polls with a
// 5 s per-probe timeout, bounded by the startup timeout. A child that never
// answers is killed and the instance lands in error with the diagnostic in
// last_error. error is sticky until the next start or stop.
//
// # Process Ownership
//
// Child handles live in a map guarded by the supervisor's mutex. Stop and
// kill paths take the handle out of the map before signaling, so the waiter
// goroutine can tell an ordered death from a crash: an entry still present
// when the child is reaped means nobody asked it to die, and a running
// instance transitions to error. Lifecycle operations on one instance are
// serialized by a per-id mutex; operations on different instances proceed
// concurrently.
//
// # Stop Protocol
//
// SIGTERM first, then SIGKILL after the shutdown timeout. Shutdown does the
// same for every child at control-plane exit without touching instance
// rows, so the next boot's Recover sees the old running states, probes
// them, and restarts auto_start instances whose children died.
//
// # Usage
//
//	sup := supervisor.New(store, agentMgr, broker, supervisor.Config{
//	        VibeKanbanBin: "/usr/local/bin/vibe-kanban",
//	        DataRoot:      "/data/vibe-instances",
//	        PortBase:      18100,
//	        PortMax:       18199,
//	})
//	instance, err := sup.CreateInstance("alpha", "", true, nil)
//	err = sup.Start(instance.ID)
//
// # See Also
//
//   - pkg/agents for config materialization and agent env vars
//   - pkg/health for the probe primitive
//   - pkg/reconciler for the periodic health sweep
package supervisor
