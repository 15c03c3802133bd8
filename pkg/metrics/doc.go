// Package metrics provides Prometheus metrics, self-health reporting, and
// timing helpers for the hutch control plane.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────┐
//	│                     Metrics System                       │
//	├─────────────────────────────────────────────────────────┤
//	│                                                          │
//	│  ┌────────────┐   sample    ┌──────────────────────┐    │
//	│  │ Collector  │────────────▶│ storage.Store        │    │
//	│  │ (15s tick) │             │ instances/users/     │    │
//	│  └─────┬──────┘             │ sessions             │    │
//	│        │ Set()              └──────────────────────┘    │
//	│        ▼                                                 │
//	│  ┌────────────────────────────────────────────────┐     │
//	│  │ Prometheus registry                            │     │
//	│  │  hutch_instances_total{status}                 │     │
//	│  │  hutch_instance_starts/stops/crashes_total     │     │
//	│  │  hutch_instance_start_duration_seconds         │     │
//	│  │  hutch_proxy_requests_total{code}              │     │
//	│  │  hutch_api_requests_total{method,status}       │     │
//	│  │  hutch_sessions_active, hutch_users_total      │     │
//	│  └──────────────────┬─────────────────────────────┘     │
//	│                     │ Handler()                          │
//	│                     ▼                                    │
//	│              GET /metrics                                │
//	│                                                          │
//	│  ┌────────────────────────────────────────────────┐     │
//	│  │ HealthChecker (component registry)             │     │
//	│  │  /health /ready /live                          │     │
//	│  └────────────────────────────────────────────────┘     │
//	└─────────────────────────────────────────────────────────┘
//
// Two kinds of signal live here. Counters and histograms are incremented
// inline by the subsystem that owns the event (the supervisor records
// starts, stops, and crashes; the API middleware records request counts
// and latency; the proxy records upstream status codes). Gauges that
// mirror persistent state (instance counts per status, user count, live
// sessions) are sampled from the store by the Collector so they stay
// correct across restarts without replaying history.
//
// # Self-Health
//
// HealthChecker tracks named components registered by the server at boot.
// GetHealth reports every registered component; GetReadiness additionally
// requires the critical set (store, supervisor, api) to be registered and
// healthy, so a half-initialized process reports not_ready rather than
// healthy-by-omission. This is the control plane's own health, distinct
// from the per-instance probes in pkg/health which check child processes.
//
// # Usage
//
//	metrics.InstanceStartsTotal.Inc()
//
//	timer := metrics.NewTimer()
//	defer timer.ObserveDuration(metrics.InstanceStartDuration)
//
//	collector := metrics.NewCollector(store)
//	collector.Start()
//	defer collector.Stop()
//
//	mux.Handle("/metrics", metrics.Handler())
//	mux.HandleFunc("/health", metrics.HealthHandler())
//
// # See Also
//
//   - pkg/health: HTTP probes against child instances
//   - pkg/supervisor: records lifecycle counters
//   - pkg/api: records request counters and mounts the handlers
package metrics
