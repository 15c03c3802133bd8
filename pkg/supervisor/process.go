package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	apperrors "github.com/cuemby/hutch/pkg/errors"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/types"
)

// stopSignal asks a child to exit gracefully before escalation to SIGKILL.
var stopSignal os.Signal = syscall.SIGTERM

// process is one live child handle. done is closed by the waiter goroutine
// after the child has been reaped and its output pipes drained.
type process struct {
	cmd     *exec.Cmd
	stdout  *log.LineWriter
	stderr  *log.LineWriter
	done    chan struct{}
	waitErr error
}

// exitMessage describes how the child ended, for last_error and logs.
func (p *process) exitMessage() string {
	if p.cmd.ProcessState != nil {
		return p.cmd.ProcessState.String()
	}
	if p.waitErr != nil {
		return p.waitErr.Error()
	}
	return "unknown"
}

// keyedMutex serializes lifecycle operations per instance id. Entries are
// never removed; the map is bounded by the number of instances.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for the given key and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// buildEnv assembles the child environment: the parent environment plus the
// fixed workspace variables and the per-enabled-agent variables with
// decrypted keys. Extras are sorted so spawns are reproducible.
func (s *Supervisor) buildEnv(instance *types.Instance) ([]string, error) {
	agentEnv, err := s.agents.EnvVars(instance)
	if err != nil {
		return nil, err
	}

	extra := map[string]string{
		// vibe-kanban reads BACKEND_PORT or PORT
		"PORT":          strconv.Itoa(instance.Port),
		"BACKEND_PORT":  strconv.Itoa(instance.Port),
		"HOST":          "127.0.0.1",
		"VIBE_DATA_DIR": instance.DataDir,
		"RUST_LOG":      "info",
	}
	for key, value := range agentEnv {
		extra[key] = value
	}

	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	env := os.Environ()
	for _, key := range keys {
		env = append(env, key+"="+extra[key])
	}
	return env, nil
}

// spawn forks the workspace child with piped output and registers the
// handle. The waiter goroutine owns reaping.
func (s *Supervisor) spawn(instance *types.Instance, env []string) (*process, error) {
	if _, err := os.Stat(s.cfg.VibeKanbanBin); err != nil {
		return nil, apperrors.Internal(err, fmt.Sprintf("vibe-kanban binary not found: %s", s.cfg.VibeKanbanBin))
	}

	cmd := exec.Command(s.cfg.VibeKanbanBin, s.cfg.VibeKanbanArgs...)
	cmd.Env = env

	stdout := log.NewLineWriter(instance.ID, "stdout")
	stderr := log.NewLineWriter(instance.ID, "stderr")
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, apperrors.Internal(err, fmt.Sprintf("failed to spawn %s", s.cfg.VibeKanbanBin))
	}

	proc := &process{cmd: cmd, stdout: stdout, stderr: stderr, done: make(chan struct{})}
	s.mu.Lock()
	s.procs[instance.ID] = proc
	s.mu.Unlock()

	go s.wait(instance.ID, proc)

	s.logger.Info().
		Str("instance_id", instance.ID).
		Int("pid", cmd.Process.Pid).
		Int("port", instance.Port).
		Msg("process started, waiting for health check")
	return proc, nil
}

// wait reaps the child and detects unexpected exits. Stop and kill paths
// take the handle out of the map first, so an entry still present here
// means nobody asked the child to die.
func (s *Supervisor) wait(id string, proc *process) {
	proc.waitErr = proc.cmd.Wait()
	proc.stdout.Flush()
	proc.stderr.Flush()
	close(proc.done)

	s.mu.Lock()
	owned := s.procs[id] == proc
	if owned {
		delete(s.procs, id)
	}
	s.mu.Unlock()
	if !owned {
		return
	}

	instance, err := s.store.GetInstance(id)
	if err != nil {
		s.logger.Error().Err(err).Str("instance_id", id).Msg("failed to load instance after child exit")
		return
	}
	// During startup the start path owns the failure transition.
	if instance.Status != types.InstanceRunning {
		return
	}

	exit := proc.exitMessage()
	now := time.Now().UTC()
	instance.Status = types.InstanceError
	instance.HealthStatus = types.HealthUnknown
	instance.LastError = "process exited unexpectedly: " + exit
	instance.LastErrorAt = &now
	instance.UpdatedAt = now
	if err := s.store.UpdateInstance(instance); err != nil {
		s.logger.Error().Err(err).Str("instance_id", id).Msg("failed to record crash")
		return
	}

	metrics.InstanceCrashesTotal.Inc()
	s.logger.Error().
		Str("instance_id", id).
		Str("exit", exit).
		Msg("instance crashed")
	s.publish(events.EventInstanceCrashed, "instance crashed", map[string]string{
		"instance_id": id,
		"exit":        exit,
	})
}

// stopProcess takes the handle, sends SIGTERM, and escalates to SIGKILL
// after the shutdown timeout. Safe to call when no child is registered.
func (s *Supervisor) stopProcess(id string) {
	s.mu.Lock()
	proc := s.procs[id]
	delete(s.procs, id)
	s.mu.Unlock()
	if proc == nil {
		return
	}

	_ = proc.cmd.Process.Signal(stopSignal)

	select {
	case <-proc.done:
		s.logger.Debug().Str("instance_id", id).Msg("process exited gracefully")
	case <-time.After(s.cfg.ShutdownTimeout):
		s.logger.Warn().Str("instance_id", id).Msg("shutdown timeout, killing process")
		_ = proc.cmd.Process.Kill()
		<-proc.done
	}
}

// killProcess takes the handle and SIGKILLs immediately. Used when a start
// fails its health gate.
func (s *Supervisor) killProcess(id string) {
	s.mu.Lock()
	proc := s.procs[id]
	delete(s.procs, id)
	s.mu.Unlock()
	if proc == nil {
		return
	}

	_ = proc.cmd.Process.Kill()
	<-proc.done
	s.logger.Debug().Str("instance_id", id).Msg("process killed")
}
