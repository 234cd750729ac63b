// Package spawn creates sessions backed by a generated manifest. The flow is
// deliberately straight-line: validate, create the session, seed the queue,
// run the tool, validate its manifest, announce the result. There is no
// rollback; a failure after session creation marks the session failed.
package spawn

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/maestro-hq/maestrod/internal/entity"
	"github.com/maestro-hq/maestrod/internal/eventbus"
	"github.com/maestro-hq/maestrod/internal/store"
	"github.com/maestro-hq/maestrod/pkg/cerr"
	"github.com/maestro-hq/maestrod/pkg/shellcmd"
)

// Environment variables handed to the tool and recorded on the session.
const (
	EnvSessionID       = "MAESTRO_SESSION_ID"
	EnvManifestPath    = "MAESTRO_MANIFEST_PATH"
	EnvCoordinatorAddr = "MAESTRO_COORDINATOR_ADDR"
	EnvStrategy        = "MAESTRO_STRATEGY"
)

// SkillLookup reports whether a skill id is known to the catalog. Unknown
// ids are passed through to the tool, which owns final resolution; the
// spawner only logs them.
type SkillLookup interface {
	Has(id string) bool
}

type Config struct {
	// CoordinatorAddr is this daemon's own address, handed to the tool and
	// the spawned agent.
	CoordinatorAddr string
	// ManifestDir is where generated manifests are written, one per session.
	ManifestDir string
	// AgentCommand is the argv prefix of the launch command included in the
	// spawn event for the terminal-launching consumer.
	AgentCommand []string
}

type Spawner struct {
	store  *store.Store
	bus    eventbus.Publisher
	runner Runner
	skills SkillLookup // may be nil
	cfg    Config
}

func New(st *store.Store, bus eventbus.Publisher, runner Runner, skills SkillLookup, cfg Config) *Spawner {
	if len(cfg.AgentCommand) == 0 {
		cfg.AgentCommand = []string{"maestro-agent"}
	}
	return &Spawner{store: st, bus: bus, runner: runner, skills: skills, cfg: cfg}
}

// Input is a spawn request. Role defaults to worker, Strategy to single,
// Initiator to ui.
type Input struct {
	ProjectID       string             `json:"projectId"`
	TaskIDs         []string           `json:"taskIds"`
	Role            entity.SessionRole `json:"role,omitempty"`
	Strategy        entity.Strategy    `json:"strategy,omitempty"`
	Initiator       entity.SpawnSource `json:"initiator,omitempty"`
	ParentSessionID string             `json:"parentSessionId,omitempty"`
	Name            string             `json:"name,omitempty"`
	SkillIDs        []string           `json:"skillIds,omitempty"`
	Context         map[string]string  `json:"context,omitempty"`
}

type Result struct {
	SessionID    string          `json:"sessionId"`
	ManifestPath string          `json:"manifestPath"`
	Session      *entity.Session `json:"session"`
}

// Event is the session:spawn payload. It carries everything the launching
// consumer needs to start the agent process without further lookups.
type Event struct {
	Session         *entity.Session    `json:"session"`
	LaunchCommand   string             `json:"launchCommand"`
	WorkingDir      string             `json:"cwd"`
	Env             map[string]string  `json:"env"`
	Manifest        *Manifest          `json:"manifest"`
	ProjectID       string             `json:"projectId"`
	TaskIDs         []string           `json:"taskIds"`
	Initiator       entity.SpawnSource `json:"initiator"`
	ParentSessionID string             `json:"parentSessionId,omitempty"`
	Context         map[string]string  `json:"context,omitempty"`
}

// Spawn runs the whole procedure. Validation is ordered and fail-fast; the
// first failing check wins and nothing is created before validation passes.
func (s *Spawner) Spawn(ctx context.Context, in Input) (*Result, error) {
	in, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	sess, err := s.store.CreateSession(ctx, store.CreateSessionInput{
		ProjectID: in.ProjectID,
		TaskIDs:   in.TaskIDs,
		Name:      in.Name,
		Status:    entity.SessionStatusSpawning,
		Strategy:  in.Strategy,
		Meta: entity.SessionMeta{
			Role:            in.Role,
			SpawnSource:     in.Initiator,
			ParentSessionID: in.ParentSessionID,
			SkillIDs:        in.SkillIDs,
		},
		SuppressCreatedEvent: true,
	})
	if err != nil {
		return nil, err
	}

	if in.Strategy == entity.StrategyQueue {
		if _, err := s.store.CreateQueue(ctx, sess.ID, in.TaskIDs); err != nil {
			return nil, s.failSpawn(ctx, sess.ID, err)
		}
	}

	manifestPath := filepath.Join(s.cfg.ManifestDir, sess.ID+".json")
	env := map[string]string{
		EnvSessionID:       sess.ID,
		EnvManifestPath:    manifestPath,
		EnvCoordinatorAddr: s.cfg.CoordinatorAddr,
		EnvStrategy:        string(in.Strategy),
	}

	proj, err := s.store.GetProject(ctx, in.ProjectID)
	if err != nil {
		return nil, s.failSpawn(ctx, sess.ID, err)
	}

	if err := os.MkdirAll(s.cfg.ManifestDir, 0o755); err != nil {
		return nil, s.failSpawn(ctx, sess.ID, cerr.NewError(cerr.Internal, "create manifest dir", err))
	}

	if _, err := s.runner.GenerateManifest(ctx, ToolInvocation{
		Role:            string(in.Role),
		ProjectID:       in.ProjectID,
		TaskIDs:         in.TaskIDs,
		SkillIDs:        in.SkillIDs,
		CoordinatorAddr: s.cfg.CoordinatorAddr,
		OutputPath:      manifestPath,
		WorkingDir:      proj.Path,
		Env:             env,
	}); err != nil {
		return nil, s.failSpawn(ctx, sess.ID, err)
	}

	manifest, err := ReadManifest(manifestPath)
	if err != nil {
		return nil, s.failSpawn(ctx, sess.ID, err)
	}

	sess, err = s.store.UpdateSession(ctx, sess.ID, store.UpdateSessionInput{Env: env})
	if err != nil {
		return nil, s.failSpawn(ctx, sess.ID, err)
	}

	launch, err := shellcmd.JoinWithEnv(env, append(append([]string{}, s.cfg.AgentCommand...), "--manifest", manifestPath))
	if err != nil {
		return nil, s.failSpawn(ctx, sess.ID, cerr.NewError(cerr.Internal, "build launch command", err))
	}
	s.bus.Publish(eventbus.SessionSpawn, &Event{
		Session:         sess,
		LaunchCommand:   launch,
		WorkingDir:      proj.Path,
		Env:             env,
		Manifest:        manifest,
		ProjectID:       in.ProjectID,
		TaskIDs:         in.TaskIDs,
		Initiator:       in.Initiator,
		ParentSessionID: in.ParentSessionID,
		Context:         in.Context,
	})
	for _, taskID := range in.TaskIDs {
		s.bus.Publish(eventbus.TaskSessionAdded, map[string]string{
			"sessionId": sess.ID,
			"taskId":    taskID,
		})
	}

	return &Result{SessionID: sess.ID, ManifestPath: manifestPath, Session: sess}, nil
}

// validate applies defaults and checks the request in a fixed order: project
// id, task ids, initiator, parent session, role, strategy, project existence,
// task existence.
func (s *Spawner) validate(in Input) (Input, error) {
	if in.ProjectID == "" {
		return in, cerr.NewError(cerr.Validation, "project id is required", nil)
	}
	if len(in.TaskIDs) == 0 {
		return in, cerr.NewError(cerr.Validation, "at least one task id is required", nil)
	}
	if in.Initiator == "" {
		in.Initiator = entity.SpawnSourceUI
	}
	if !in.Initiator.Valid() {
		return in, cerr.Newf(cerr.Validation, "initiator must be %q or %q", entity.SpawnSourceUI, entity.SpawnSourceSession)
	}
	if in.Initiator == entity.SpawnSourceSession {
		if in.ParentSessionID == "" {
			return in, cerr.NewError(cerr.Validation, "parent session id is required when initiator is session", nil)
		}
		if !s.store.SessionExists(in.ParentSessionID) {
			return in, cerr.Newf(cerr.NotFound, "parent session %s not found", in.ParentSessionID)
		}
	}
	if in.Role == "" {
		in.Role = entity.RoleWorker
	}
	if !in.Role.Valid() {
		return in, cerr.Newf(cerr.Validation, "role must be %q or %q", entity.RoleWorker, entity.RoleOrchestrator)
	}
	if in.Strategy == "" {
		in.Strategy = entity.StrategySingle
	}
	if !in.Strategy.Valid() {
		return in, cerr.Newf(cerr.Validation, "unknown strategy %q", in.Strategy)
	}
	if !s.store.ProjectExists(in.ProjectID) {
		return in, cerr.Newf(cerr.NotFound, "project %s not found", in.ProjectID)
	}
	for _, taskID := range in.TaskIDs {
		if !s.store.TaskExists(taskID) {
			return in, cerr.Newf(cerr.NotFound, "task %s not found", taskID)
		}
	}
	if s.skills != nil {
		for _, id := range in.SkillIDs {
			if !s.skills.Has(id) {
				slog.Warn("unknown skill id passed through to manifest tool", "skillId", id)
			}
		}
	}
	return in, nil
}

// failSpawn marks the session failed and records why. The original cause is
// returned unchanged; the mark is best-effort.
func (s *Spawner) failSpawn(ctx context.Context, sessionID string, cause error) error {
	if err := s.store.MarkSessionFailed(ctx, sessionID, "spawn_failed", cause.Error()); err != nil {
		slog.ErrorContext(ctx, "mark session failed after spawn error", "sessionId", sessionID, "error", err)
	}
	return cause
}
