package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/agents"
	apperrors "github.com/cuemby/hutch/pkg/errors"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/storage"
	"github.com/cuemby/hutch/pkg/types"
)

// Config holds the supervisor's view of the world: where the child binary
// lives, where instance data goes, and the lifecycle timeouts.
type Config struct {
	// VibeKanbanBin is the path to the workspace child executable.
	VibeKanbanBin string

	// VibeKanbanArgs are extra arguments appended to every child command.
	VibeKanbanArgs []string

	// DataRoot is the directory holding one subdirectory per instance.
	DataRoot string

	// PortBase and PortMax bound the loopback port range children bind.
	PortBase int
	PortMax  int

	// StartupTimeout bounds the health-gated start; ShutdownTimeout bounds
	// the SIGTERM grace period before SIGKILL.
	StartupTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the supervisor defaults used when fields are unset.
func DefaultConfig() Config {
	return Config{
		VibeKanbanBin:   "/usr/local/bin/vibe-kanban",
		DataRoot:        "/data/vibe-instances",
		PortBase:        18100,
		PortMax:         18199,
		StartupTimeout:  30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// instanceDirs is the scaffolding created under each instance data dir.
var instanceDirs = []string{
	"db",
	"config",
	"worktrees",
	"logs",
	"ai-agents/claude-code",
	"ai-agents/codex-cli",
	"ai-agents/gemini-cli",
	"ai-agents/opencode",
}

// Supervisor owns the workspace fleet: instance records, their data
// directories, and the child processes serving them.
type Supervisor struct {
	store  storage.Store
	agents *agents.Manager
	broker *events.Broker
	cfg    Config
	logger zerolog.Logger

	// locks serializes lifecycle operations per instance.
	locks *keyedMutex

	// mu guards procs, the map of live child handles.
	mu    sync.Mutex
	procs map[string]*process
}

// New creates a supervisor. Zero config fields fall back to defaults; the
// data root is resolved to an absolute path so children get stable
// VIBE_DATA_DIR values regardless of the control plane's working directory.
func New(store storage.Store, agentManager *agents.Manager, broker *events.Broker, cfg Config) *Supervisor {
	defaults := DefaultConfig()
	if cfg.VibeKanbanBin == "" {
		cfg.VibeKanbanBin = defaults.VibeKanbanBin
	}
	if cfg.DataRoot == "" {
		cfg.DataRoot = defaults.DataRoot
	}
	if cfg.PortBase <= 0 {
		cfg.PortBase = defaults.PortBase
	}
	if cfg.PortMax <= 0 {
		cfg.PortMax = defaults.PortMax
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = defaults.StartupTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if abs, err := filepath.Abs(cfg.DataRoot); err == nil {
		cfg.DataRoot = abs
	}

	return &Supervisor{
		store:  store,
		agents: agentManager,
		broker: broker,
		cfg:    cfg,
		logger: log.WithComponent("supervisor"),
		locks:  newKeyedMutex(),
		procs:  make(map[string]*process),
	}
}

// CreateInstance allocates a port, persists the record, and scaffolds the
// data directory tree. A scaffolding failure rolls the record back so no
// half-created instance survives.
func (s *Supervisor) CreateInstance(name, description string, autoStart bool, maxUsers *int) (*types.Instance, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.BadRequest("instance name is required")
	}
	if maxUsers != nil && *maxUsers < 1 {
		return nil, apperrors.BadRequestf("max_users must be at least 1, got %d", *maxUsers)
	}

	now := time.Now().UTC()
	instance := &types.Instance{
		ID:           uuid.NewString(),
		Name:         name,
		Description:  strings.TrimSpace(description),
		Status:       types.InstanceStopped,
		HealthStatus: types.HealthUnknown,
		AutoStart:    autoStart,
		MaxUsers:     maxUsers,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	instance.DataDir = filepath.Join(s.cfg.DataRoot, instance.ID)

	if err := s.store.CreateInstance(instance, s.cfg.PortBase, s.cfg.PortMax); err != nil {
		return nil, err
	}

	if err := s.scaffoldDataDir(instance.DataDir); err != nil {
		if derr := s.store.DeleteInstance(instance.ID); derr != nil {
			s.logger.Error().Err(derr).Str("instance_id", instance.ID).Msg("failed to roll back instance record")
		}
		_ = os.RemoveAll(instance.DataDir)
		return nil, err
	}

	s.logger.Info().
		Str("instance_id", instance.ID).
		Str("name", name).
		Int("port", instance.Port).
		Msg("instance created")
	s.publish(events.EventInstanceCreated, "instance created", map[string]string{
		"instance_id": instance.ID,
		"name":        name,
	})
	return instance, nil
}

func (s *Supervisor) scaffoldDataDir(dataDir string) error {
	for _, dir := range instanceDirs {
		path := filepath.Join(dataDir, dir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return apperrors.Internal(err, fmt.Sprintf("failed to create instance directory %s", path))
		}
	}
	return nil
}

// Get returns one instance record.
func (s *Supervisor) Get(id string) (*types.Instance, error) {
	return s.store.GetInstance(id)
}

// List returns the API views of all instances with their user counts.
func (s *Supervisor) List() ([]*types.InstanceInfo, error) {
	instances, err := s.store.ListInstances()
	if err != nil {
		return nil, err
	}

	infos := make([]*types.InstanceInfo, 0, len(instances))
	for _, instance := range instances {
		count, err := s.store.CountAssignmentsByInstance(instance.ID)
		if err != nil {
			return nil, err
		}
		info := types.NewInstanceInfo(instance)
		info.UserCount = &count
		infos = append(infos, info)
	}
	return infos, nil
}

// UpdateInstance applies a partial update. Nil fields keep their values.
func (s *Supervisor) UpdateInstance(id string, name, description *string, autoStart *bool, maxUsers *int) (*types.Instance, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	instance, err := s.store.GetInstance(id)
	if err != nil {
		return nil, err
	}

	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			return nil, apperrors.BadRequest("instance name is required")
		}
		instance.Name = trimmed
	}
	if description != nil {
		instance.Description = strings.TrimSpace(*description)
	}
	if autoStart != nil {
		instance.AutoStart = *autoStart
	}
	if maxUsers != nil {
		if *maxUsers < 1 {
			return nil, apperrors.BadRequestf("max_users must be at least 1, got %d", *maxUsers)
		}
		instance.MaxUsers = maxUsers
	}
	instance.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateInstance(instance); err != nil {
		return nil, err
	}

	s.logger.Info().Str("instance_id", id).Msg("instance updated")
	return instance, nil
}

// DeleteInstance removes a stopped, unassigned instance and its data
// directory. Running instances and instances with assignments are rejected
// with distinct conflicts.
func (s *Supervisor) DeleteInstance(id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	instance, err := s.store.GetInstance(id)
	if err != nil {
		return err
	}
	if instance.Status != types.InstanceStopped {
		return apperrors.Conflict("instance must be stopped before deletion")
	}

	count, err := s.store.CountAssignmentsByInstance(id)
	if err != nil {
		return err
	}
	if count > 0 {
		return apperrors.Conflictf("instance still has %d user assignments", count)
	}

	if err := os.RemoveAll(instance.DataDir); err != nil {
		return apperrors.Internal(err, "failed to remove instance data directory")
	}
	if err := s.store.DeleteInstance(id); err != nil {
		return err
	}

	s.logger.Info().Str("instance_id", id).Str("name", instance.Name).Msg("instance deleted")
	s.publish(events.EventInstanceDeleted, "instance deleted", map[string]string{
		"instance_id": id,
		"name":        instance.Name,
	})
	return nil
}

// transition applies a mutation to the stored row. Callers hold the
// instance lock.
func (s *Supervisor) transition(id string, mutate func(*types.Instance)) (*types.Instance, error) {
	instance, err := s.store.GetInstance(id)
	if err != nil {
		return nil, err
	}
	mutate(instance)
	instance.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateInstance(instance); err != nil {
		return nil, err
	}
	return instance, nil
}

func (s *Supervisor) publish(eventType events.EventType, message string, metadata map[string]string) {
	if s.broker != nil {
		s.broker.Publish(events.New(eventType, message, metadata))
	}
}
