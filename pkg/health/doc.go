/*
Package health provides HTTP health probes for workspace children.

Every vibe-kanban child exposes GET /api/health on its loopback port and
answers 2xx when ready. This package wraps that contract in a small Checker
interface so the supervisor (startup gating) and the reconciler (periodic
monitoring) share one probe implementation.

# Probe Semantics

  - A probe is a GET to http://127.0.0.1:<port>/api/health
  - Healthy means any 2xx status within the probe timeout (5s default)
  - Redirects, auth challenges, and errors are all unhealthy
  - Connection refused and timeouts carry the dial error in Result.Message

# Usage

Startup gating polls the checker until the child answers or the startup
deadline passes:

	checker := health.ForInstance(instance.Port)
	result := checker.Check(ctx)
	if result.Healthy {
		// transition starting -> running
	}

Custom probes for other endpoints:

	checker := health.NewHTTPChecker(url).
		WithTimeout(2 * time.Second).
		WithStatusRange(200, 204)

# See Also

  - pkg/supervisor for the startup health gate and stop escalation
  - pkg/reconciler for the periodic health monitor
*/
package health
