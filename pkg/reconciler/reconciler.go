package reconciler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/supervisor"
	"github.com/cuemby/hutch/pkg/types"
	"github.com/cuemby/hutch/pkg/users"
)

// Reconciler is the background loop that catches what the event-driven
// paths miss: children that are alive as processes but wedged as HTTP
// servers, and session rows that expired without a logout.
type Reconciler struct {
	supervisor *supervisor.Supervisor
	users      *users.Manager
	broker     *events.Broker
	interval   time.Duration
	logger     zerolog.Logger
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New creates a reconciler ticking at the given interval.
func New(sup *supervisor.Supervisor, userMgr *users.Manager, broker *events.Broker, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{
		supervisor: sup,
		users:      userMgr,
		broker:     broker,
		interval:   interval,
		logger:     log.WithComponent("reconciler"),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go r.run()
	r.logger.Info().Dur("interval", r.interval).Msg("reconciler started")
}

// Stop terminates the loop and waits for an in-flight cycle to finish.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
	r.logger.Info().Msg("reconciler stopped")
}

func (r *Reconciler) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stopCh:
			return
		}
	}
}

// reconcile performs one cycle. Sub-steps are independent: a failure in
// one never blocks the other.
func (r *Reconciler) reconcile() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcileDuration)
		metrics.ReconcileCyclesTotal.Inc()
	}()

	r.checkInstances()
	r.sweepSessions()
}

// checkInstances probes every instance recorded as running. HealthCheck
// persists the result on the instance row; the reconciler's added value is
// noticing the healthy-to-unhealthy transitions and announcing them.
func (r *Reconciler) checkInstances() {
	instances, err := r.supervisor.List()
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list instances")
		return
	}

	for _, instance := range instances {
		if instance.Status != types.InstanceRunning {
			continue
		}

		status, err := r.supervisor.HealthCheck(instance.ID)
		if err != nil {
			r.logger.Error().Err(err).Str("instance_id", instance.ID).Msg("health probe failed")
			continue
		}
		if status != types.HealthUnhealthy {
			continue
		}

		r.logger.Warn().
			Str("instance_id", instance.ID).
			Str("name", instance.Name).
			Msg("running instance failed health probe")
		if instance.HealthStatus != types.HealthUnhealthy && r.broker != nil {
			r.broker.Publish(events.New(events.EventInstanceUnhealthy,
				"instance unhealthy: "+instance.Name,
				map[string]string{"instance_id": instance.ID}))
		}
	}
}

// sweepSessions deletes expired session rows.
func (r *Reconciler) sweepSessions() {
	n, err := r.users.CleanupExpiredSessions()
	if err != nil {
		r.logger.Error().Err(err).Msg("session sweep failed")
		return
	}
	if n > 0 {
		r.logger.Info().Int("count", n).Msg("expired sessions removed")
	}
}
