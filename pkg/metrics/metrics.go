package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hutch_instances_total",
			Help: "Number of workspace instances by status",
		},
		[]string{"status"},
	)

	InstanceStartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hutch_instance_starts_total",
			Help: "Total number of successful instance starts",
		},
	)

	InstanceStopsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hutch_instance_stops_total",
			Help: "Total number of instance stops",
		},
	)

	InstanceCrashesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hutch_instance_crashes_total",
			Help: "Total number of unexpected instance exits",
		},
	)

	InstanceStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hutch_instance_start_duration_seconds",
			Help:    "Time from spawn to first healthy probe in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		},
	)

	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_health_checks_total",
			Help: "Total number of instance health probes by result",
		},
		[]string{"result"},
	)

	// User and session metrics
	UsersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hutch_users_total",
			Help: "Total number of user accounts",
		},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hutch_sessions_active",
			Help: "Number of live session rows",
		},
	)

	AuthFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hutch_auth_failures_total",
			Help: "Total number of failed authentication attempts",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hutch_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Proxy metrics
	ProxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_proxy_requests_total",
			Help: "Total number of proxied requests by upstream status code",
		},
		[]string{"code"},
	)

	// Reconciler metrics
	ReconcileCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hutch_reconcile_cycles_total",
			Help: "Total number of completed reconcile cycles",
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hutch_reconcile_duration_seconds",
			Help:    "Duration of one reconcile cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(InstanceStartsTotal)
	prometheus.MustRegister(InstanceStopsTotal)
	prometheus.MustRegister(InstanceCrashesTotal)
	prometheus.MustRegister(InstanceStartDuration)
	prometheus.MustRegister(HealthChecksTotal)
	prometheus.MustRegister(UsersTotal)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(AuthFailuresTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ProxyRequestsTotal)
	prometheus.MustRegister(ReconcileCyclesTotal)
	prometheus.MustRegister(ReconcileDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
