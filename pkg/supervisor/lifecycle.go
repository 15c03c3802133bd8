package supervisor

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/cuemby/hutch/pkg/errors"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/health"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/types"
)

// startupPollInterval is the delay between health probes while a child is
// coming up.
const startupPollInterval = 500 * time.Millisecond

// Start brings an instance to running: materialize agent configs, spawn
// the child, and gate on its health endpoint. Starting a running instance
// is a no-op. On any failure the instance ends in the error state with the
// diagnostic in last_error, and a spawned child is killed.
func (s *Supervisor) Start(id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	instance, err := s.store.GetInstance(id)
	if err != nil {
		return err
	}
	if instance.Status == types.InstanceRunning {
		return nil
	}

	timer := metrics.NewTimer()
	instance, err = s.transition(id, func(in *types.Instance) {
		in.Status = types.InstanceStarting
		in.LastError = ""
		in.LastErrorAt = nil
	})
	if err != nil {
		return err
	}

	if err := s.agents.MaterializeAll(instance); err != nil {
		return s.fail(id, fmt.Sprintf("failed to prepare agent configs: %v", err), err)
	}

	env, err := s.buildEnv(instance)
	if err != nil {
		return s.fail(id, fmt.Sprintf("failed to prepare environment: %v", err), err)
	}

	proc, err := s.spawn(instance, env)
	if err != nil {
		return s.fail(id, fmt.Sprintf("failed to start process: %v", err), err)
	}

	if err := s.waitForHealthy(instance, proc); err != nil {
		s.killProcess(id)
		return s.fail(id, fmt.Sprintf("health check failed: %v", err), err)
	}

	now := time.Now().UTC()
	if _, err := s.transition(id, func(in *types.Instance) {
		in.Status = types.InstanceRunning
		in.HealthStatus = types.HealthHealthy
		in.LastHealthCheck = &now
		in.LastError = ""
		in.LastErrorAt = nil
	}); err != nil {
		return err
	}

	metrics.InstanceStartsTotal.Inc()
	timer.ObserveDuration(metrics.InstanceStartDuration)
	s.logger.Info().
		Str("instance_id", id).
		Int("port", instance.Port).
		Dur("took", timer.Duration()).
		Msg("instance started")
	s.publish(events.EventInstanceStarted, "instance started", map[string]string{
		"instance_id": id,
	})
	return nil
}

// waitForHealthy polls the child's health endpoint every 500 ms until the
// first 2xx, the startup timeout, or the child's exit.
func (s *Supervisor) waitForHealthy(instance *types.Instance, proc *process) error {
	checker := health.ForInstance(instance.Port)
	deadline := time.Now().Add(s.cfg.StartupTimeout)
	ticker := time.NewTicker(startupPollInterval)
	defer ticker.Stop()

	for {
		ctx, cancel := context.WithTimeout(context.Background(), health.DefaultProbeTimeout)
		result := checker.Check(ctx)
		cancel()
		if result.Healthy {
			return nil
		}

		if time.Now().After(deadline) {
			return apperrors.Timeout(fmt.Sprintf("instance did not become healthy within %s: %s", s.cfg.StartupTimeout, result.Message))
		}

		select {
		case <-proc.done:
			return apperrors.New(apperrors.KindInternal, fmt.Sprintf("process exited during startup: %s", proc.exitMessage()))
		case <-ticker.C:
		}
	}
}

// fail records a start failure: status error, diagnostic in last_error.
// The original cause is returned so callers see the typed error.
func (s *Supervisor) fail(id, message string, cause error) error {
	now := time.Now().UTC()
	if _, err := s.transition(id, func(in *types.Instance) {
		in.Status = types.InstanceError
		in.HealthStatus = types.HealthUnknown
		in.LastError = message
		in.LastErrorAt = &now
	}); err != nil {
		s.logger.Error().Err(err).Str("instance_id", id).Msg("failed to record start failure")
	}

	s.logger.Error().Str("instance_id", id).Str("error", message).Msg("instance start failed")
	return cause
}

// Stop gracefully stops an instance: SIGTERM, then SIGKILL after the
// shutdown timeout. Stopping a stopped instance is a no-op.
func (s *Supervisor) Stop(id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	instance, err := s.store.GetInstance(id)
	if err != nil {
		return err
	}
	if instance.Status == types.InstanceStopped {
		return nil
	}

	if _, err := s.transition(id, func(in *types.Instance) {
		in.Status = types.InstanceStopping
	}); err != nil {
		return err
	}

	s.stopProcess(id)

	if _, err := s.transition(id, func(in *types.Instance) {
		in.Status = types.InstanceStopped
		in.HealthStatus = types.HealthUnknown
	}); err != nil {
		return err
	}

	metrics.InstanceStopsTotal.Inc()
	s.logger.Info().Str("instance_id", id).Msg("instance stopped")
	s.publish(events.EventInstanceStopped, "instance stopped", map[string]string{
		"instance_id": id,
	})
	return nil
}

// Restart stops then starts. Not atomic: a successful stop followed by a
// failed start leaves the instance in the error state.
func (s *Supervisor) Restart(id string) error {
	if err := s.Stop(id); err != nil {
		return err
	}
	return s.Start(id)
}

// HealthCheck probes a running instance and persists the observed health.
// Instances that are not running report unknown without probing. The
// persist step re-reads the row so a concurrent lifecycle transition is
// never clobbered.
func (s *Supervisor) HealthCheck(id string) (types.HealthStatus, error) {
	instance, err := s.store.GetInstance(id)
	if err != nil {
		return "", err
	}
	if instance.Status != types.InstanceRunning {
		return types.HealthUnknown, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), health.DefaultProbeTimeout)
	result := health.ForInstance(instance.Port).Check(ctx)
	cancel()

	status := types.HealthUnhealthy
	if result.Healthy {
		status = types.HealthHealthy
	}
	metrics.HealthChecksTotal.WithLabelValues(string(status)).Inc()

	unlock := s.locks.Lock(id)
	defer unlock()

	fresh, err := s.store.GetInstance(id)
	if err != nil {
		return status, err
	}
	if fresh.Status == types.InstanceRunning {
		checkedAt := result.CheckedAt
		fresh.HealthStatus = status
		fresh.LastHealthCheck = &checkedAt
		fresh.UpdatedAt = time.Now().UTC()
		if err := s.store.UpdateInstance(fresh); err != nil {
			return status, err
		}
	}
	return status, nil
}

// Recover reconciles DB state with reality after a control-plane restart.
// Instances recorded as running are probed: a healthy child is left alone,
// a dead one is marked stopped and restarted when auto_start is set.
func (s *Supervisor) Recover() error {
	instances, err := s.store.ListInstancesByStatus(types.InstanceRunning)
	if err != nil {
		return err
	}

	for _, instance := range instances {
		status, err := s.HealthCheck(instance.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("instance_id", instance.ID).Msg("recovery probe failed")
			continue
		}
		if status == types.HealthHealthy {
			s.logger.Info().Str("instance_id", instance.ID).Msg("instance survived control-plane restart")
			continue
		}

		s.logger.Warn().Str("instance_id", instance.ID).Msg("instance recorded as running is down")
		unlock := s.locks.Lock(instance.ID)
		_, terr := s.transition(instance.ID, func(in *types.Instance) {
			in.Status = types.InstanceStopped
			in.HealthStatus = types.HealthUnknown
		})
		unlock()
		if terr != nil {
			s.logger.Error().Err(terr).Str("instance_id", instance.ID).Msg("failed to mark instance stopped")
			continue
		}

		if instance.AutoStart {
			if err := s.Start(instance.ID); err != nil {
				s.logger.Error().Err(err).Str("instance_id", instance.ID).Msg("auto restart failed")
			}
		}
	}
	return nil
}

// Shutdown terminates every child for control-plane exit. Instance rows
// keep their status so the next boot's Recover can bring auto_start
// instances back. The total wait is bounded by the shutdown timeout;
// stragglers are killed.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	procs := s.procs
	s.procs = make(map[string]*process)
	s.mu.Unlock()

	if len(procs) == 0 {
		return
	}
	s.logger.Info().Int("count", len(procs)).Msg("stopping all instances")

	for id, proc := range procs {
		if err := proc.cmd.Process.Signal(stopSignal); err != nil {
			s.logger.Warn().Err(err).Str("instance_id", id).Msg("failed to signal process")
		}
	}

	deadline := time.Now().Add(s.cfg.ShutdownTimeout)
	for id, proc := range procs {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		select {
		case <-proc.done:
		case <-time.After(remaining):
			s.logger.Warn().Str("instance_id", id).Msg("shutdown timeout, killing process")
			_ = proc.cmd.Process.Kill()
			<-proc.done
		}
	}
}
