// Package store is the single source of truth for projects, tasks, sessions,
// and queue states. The in-memory maps are authoritative; every mutation is
// synchronously mirrored to a JSON file before the operation returns, and
// reads never observe a half-applied mutation. If a mirror write fails the
// in-memory mutation stands and the failure is logged; availability wins
// over the persistence guarantee.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/maestro-hq/maestrod/internal/entity"
	"github.com/maestro-hq/maestrod/internal/eventbus"
	"github.com/maestro-hq/maestrod/pkg/cerr"
	"github.com/maestro-hq/maestrod/pkg/storage"
)

const (
	projectsPrefix = "projects"
	tasksPrefix    = "tasks"
	sessionsPrefix = "sessions"
	queuesPrefix   = "queues"
)

type Store struct {
	storage storage.Storage
	bus     eventbus.Publisher

	// mu serializes every mutation, including its mirror write. This is
	// the whole concurrency model: one logical operation at a time.
	mu       sync.RWMutex
	projects map[string]*entity.Project
	tasks    map[string]*entity.Task
	sessions map[string]*entity.Session
	queues   map[string]*entity.QueueState
}

func New(s storage.Storage, bus eventbus.Publisher) *Store {
	return &Store{
		storage:  s,
		bus:      bus,
		projects: make(map[string]*entity.Project),
		tasks:    make(map[string]*entity.Task),
		sessions: make(map[string]*entity.Session),
		queues:   make(map[string]*entity.QueueState),
	}
}

// Load reads every serialized entity into memory. Records missing newer
// optional fields are normalized with safe defaults rather than rejected.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := loadAll(ctx, s.storage, projectsPrefix, func(p *entity.Project) {
		s.projects[p.ID] = p
	}); err != nil {
		return err
	}
	if err := loadAll(ctx, s.storage, tasksPrefix, func(t *entity.Task) {
		t.Normalize()
		s.tasks[t.ID] = t
	}); err != nil {
		return err
	}
	if err := loadAll(ctx, s.storage, sessionsPrefix, func(sess *entity.Session) {
		sess.Normalize()
		s.sessions[sess.ID] = sess
	}); err != nil {
		return err
	}
	if err := loadAll(ctx, s.storage, queuesPrefix, func(q *entity.QueueState) {
		q.Normalize()
		s.queues[q.SessionID] = q
	}); err != nil {
		return err
	}

	slog.InfoContext(ctx, "store loaded",
		"projects", len(s.projects),
		"tasks", len(s.tasks),
		"sessions", len(s.sessions),
		"queues", len(s.queues),
	)
	return nil
}

func loadAll[T any](ctx context.Context, st storage.Storage, prefix string, add func(*T)) error {
	paths, err := st.List(ctx, prefix)
	if err != nil {
		return cerr.WrapStorageReadError(prefix, err)
	}
	sort.Strings(paths)
	for _, p := range paths {
		data, err := st.Read(ctx, p)
		if err != nil {
			slog.WarnContext(ctx, "skipping unreadable entity file", "path", p, "error", err)
			continue
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			slog.WarnContext(ctx, "skipping unparsable entity file", "path", p, "error", err)
			continue
		}
		add(&v)
	}
	return nil
}

// Flush rewrites every entity file from the in-memory state. Called once at
// shutdown so the final state on disk matches memory even after earlier
// mirror-write failures.
func (s *Store) Flush(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.projects {
		s.persist(ctx, projectsPrefix, p.ID, p)
	}
	for _, t := range s.tasks {
		s.persist(ctx, tasksPrefix, t.ID, t)
	}
	for _, sess := range s.sessions {
		s.persist(ctx, sessionsPrefix, sess.ID, sess)
	}
	for _, q := range s.queues {
		s.persist(ctx, queuesPrefix, q.SessionID, q)
	}
}

func entityPath(prefix, id string) string {
	return fmt.Sprintf("%s/%s.json", prefix, id)
}

// persist mirrors one record to its file. Failures are logged, never
// propagated: the in-memory state remains authoritative.
func (s *Store) persist(ctx context.Context, prefix, id string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal entity", "path", entityPath(prefix, id), "error", err)
		return
	}
	if err := s.storage.Write(ctx, entityPath(prefix, id), data); err != nil {
		slog.ErrorContext(ctx, "failed to persist entity", "path", entityPath(prefix, id), "error", err)
	}
}

func (s *Store) remove(ctx context.Context, prefix, id string) {
	if err := s.storage.Delete(ctx, entityPath(prefix, id)); err != nil {
		slog.ErrorContext(ctx, "failed to delete entity file", "path", entityPath(prefix, id), "error", err)
	}
}

func (s *Store) publish(name string, payload any) {
	if s.bus != nil {
		s.bus.Publish(name, payload)
	}
}
