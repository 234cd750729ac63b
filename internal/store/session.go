package store

import (
	"context"
	"sort"
	"time"

	"github.com/maestro-hq/maestrod/internal/entity"
	"github.com/maestro-hq/maestrod/internal/eventbus"
	"github.com/maestro-hq/maestrod/pkg/cerr"
)

type CreateSessionInput struct {
	ProjectID string
	TaskIDs   []string
	Name      string
	Env       map[string]string
	Status    entity.SessionStatus
	Strategy  entity.Strategy
	Hostname  string
	Meta      entity.SessionMeta

	// SuppressCreatedEvent skips the session:created event. The spawn flow
	// sets this: it emits the richer session:spawn event instead, never
	// both.
	SuppressCreatedEvent bool
}

type UpdateSessionInput struct {
	Name     *string
	Status   *entity.SessionStatus
	Env      map[string]string // merged key-by-key
	Hostname *string
}

type SessionFilter struct {
	ProjectID string
	Status    entity.SessionStatus
}

func (s *Store) CreateSession(ctx context.Context, in CreateSessionInput) (*entity.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[in.ProjectID]; !ok {
		return nil, cerr.Newf(cerr.NotFound, "project %s not found", in.ProjectID)
	}
	for _, taskID := range in.TaskIDs {
		if _, ok := s.tasks[taskID]; !ok {
			return nil, cerr.Newf(cerr.NotFound, "task %s not found", taskID)
		}
	}

	status := in.Status
	if status == "" {
		status = entity.SessionStatusActive
	}
	strategy := in.Strategy
	if strategy == "" {
		strategy = entity.StrategySingle
	}
	now := time.Now()
	sess := &entity.Session{
		ID:             entity.NewID(entity.SessionIDPrefix),
		ProjectID:      in.ProjectID,
		TaskIDs:        append([]string{}, in.TaskIDs...),
		Name:           in.Name,
		Env:            map[string]string{},
		Status:         status,
		Strategy:       strategy,
		CreatedAt:      now,
		LastActivityAt: now,
		Hostname:       in.Hostname,
		EventLog:       []entity.TimelineEntry{},
		Meta:           in.Meta,
	}
	for k, v := range in.Env {
		sess.Env[k] = v
	}

	// Maintain the reverse links on the tasks in the same critical
	// section; no reader can observe the one-sided state.
	for _, taskID := range in.TaskIDs {
		t := s.tasks[taskID]
		if !t.HasSession(sess.ID) {
			t.SessionIDs = append(t.SessionIDs, sess.ID)
			t.AppendTimeline("session_added", sess.ID)
			t.UpdatedAt = now
			s.persist(ctx, tasksPrefix, t.ID, t)
		}
	}

	s.sessions[sess.ID] = sess
	s.persist(ctx, sessionsPrefix, sess.ID, sess)
	if !in.SuppressCreatedEvent {
		s.publish(eventbus.SessionCreated, sess.Clone())
	}
	return sess.Clone(), nil
}

func (s *Store) GetSession(_ context.Context, id string) (*entity.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, cerr.Newf(cerr.NotFound, "session %s not found", id)
	}
	return sess.Clone(), nil
}

func (s *Store) ListSessions(_ context.Context, filter SessionFilter) []*entity.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.Session
	for _, sess := range s.sessions {
		if filter.ProjectID != "" && sess.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && sess.Status != filter.Status {
			continue
		}
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) UpdateSession(ctx context.Context, id string, in UpdateSessionInput) (*entity.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, cerr.Newf(cerr.NotFound, "session %s not found", id)
	}
	if in.Name != nil {
		sess.Name = *in.Name
	}
	if in.Hostname != nil {
		sess.Hostname = *in.Hostname
	}
	for k, v := range in.Env {
		sess.Env[k] = v
	}
	if in.Status != nil && *in.Status != sess.Status {
		now := time.Now()
		sess.Status = *in.Status
		sess.AppendEvent("status_changed", string(*in.Status))
		if *in.Status == entity.SessionStatusCompleted && sess.CompletedAt == nil {
			sess.CompletedAt = &now
		}
	}
	sess.LastActivityAt = time.Now()
	s.persist(ctx, sessionsPrefix, sess.ID, sess)
	s.publish(eventbus.SessionUpdated, sess.Clone())
	return sess.Clone(), nil
}

// MarkSessionFailed transitions a session into the failed status and records
// why in its event log. The spawn flow calls this when manifest generation
// fails so a session is never left in spawning forever.
func (s *Store) MarkSessionFailed(ctx context.Context, id, kind, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return cerr.Newf(cerr.NotFound, "session %s not found", id)
	}
	sess.Status = entity.SessionStatusFailed
	sess.AppendEvent(kind, detail)
	sess.LastActivityAt = time.Now()
	s.persist(ctx, sessionsPrefix, sess.ID, sess)
	s.publish(eventbus.SessionUpdated, sess.Clone())
	return nil
}

// DeleteSession removes a session and cascades: the session id is removed
// from every linked task and each gets a "session ended" timeline entry.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return cerr.Newf(cerr.NotFound, "session %s not found", id)
	}

	now := time.Now()
	for _, taskID := range sess.TaskIDs {
		t, ok := s.tasks[taskID]
		if !ok {
			continue
		}
		t.SessionIDs = removeString(t.SessionIDs, id)
		t.AppendTimeline("session_ended", id)
		t.UpdatedAt = now
		s.persist(ctx, tasksPrefix, t.ID, t)
	}

	if _, ok := s.queues[id]; ok {
		delete(s.queues, id)
		s.remove(ctx, queuesPrefix, id)
	}

	delete(s.sessions, id)
	s.remove(ctx, sessionsPrefix, id)
	s.publish(eventbus.SessionDeleted, map[string]string{"id": id, "projectId": sess.ProjectID})
	return nil
}

// AddTaskToSession links a task and a session in both directions. Both
// link events are emitted before the call returns; their relative order is
// not part of the contract.
func (s *Store) AddTaskToSession(ctx context.Context, sessionID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return cerr.Newf(cerr.NotFound, "session %s not found", sessionID)
	}
	t, ok := s.tasks[taskID]
	if !ok {
		return cerr.Newf(cerr.NotFound, "task %s not found", taskID)
	}

	now := time.Now()
	if !sess.HasTask(taskID) {
		sess.TaskIDs = append(sess.TaskIDs, taskID)
		sess.LastActivityAt = now
	}
	if !t.HasSession(sessionID) {
		t.SessionIDs = append(t.SessionIDs, sessionID)
		t.AppendTimeline("session_added", sessionID)
		t.UpdatedAt = now
	}
	s.persist(ctx, sessionsPrefix, sess.ID, sess)
	s.persist(ctx, tasksPrefix, t.ID, t)

	link := map[string]string{"sessionId": sessionID, "taskId": taskID}
	s.publish(eventbus.SessionTaskAdded, link)
	s.publish(eventbus.TaskSessionAdded, link)
	return nil
}

// RemoveTaskFromSession is the inverse of AddTaskToSession.
func (s *Store) RemoveTaskFromSession(ctx context.Context, sessionID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return cerr.Newf(cerr.NotFound, "session %s not found", sessionID)
	}
	t, ok := s.tasks[taskID]
	if !ok {
		return cerr.Newf(cerr.NotFound, "task %s not found", taskID)
	}

	now := time.Now()
	sess.TaskIDs = removeString(sess.TaskIDs, taskID)
	sess.LastActivityAt = now
	t.SessionIDs = removeString(t.SessionIDs, sessionID)
	t.AppendTimeline("session_removed", sessionID)
	t.UpdatedAt = now
	s.persist(ctx, sessionsPrefix, sess.ID, sess)
	s.persist(ctx, tasksPrefix, t.ID, t)
	s.detachTaskFromQueue(ctx, sessionID, taskID)

	link := map[string]string{"sessionId": sessionID, "taskId": taskID}
	s.publish(eventbus.SessionTaskRemoved, link)
	s.publish(eventbus.TaskSessionRemoved, link)
	return nil
}

// SessionExists is a cheap existence probe.
func (s *Store) SessionExists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}
