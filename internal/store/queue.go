package store

import (
	"context"
	"time"

	"github.com/maestro-hq/maestrod/internal/entity"
	"github.com/maestro-hq/maestrod/internal/eventbus"
	"github.com/maestro-hq/maestrod/pkg/cerr"
)

// CreateQueue initializes the FIFO state for a queued-strategy session,
// seeded with taskIDs in the order supplied. Every seeded task must already
// be linked to the session.
func (s *Store) CreateQueue(ctx context.Context, sessionID string, taskIDs []string) (*entity.QueueState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, cerr.Newf(cerr.NotFound, "session %s not found", sessionID)
	}
	if _, ok := s.queues[sessionID]; ok {
		return nil, cerr.Newf(cerr.Conflict, "queue for session %s already exists", sessionID)
	}
	for _, taskID := range taskIDs {
		if !sess.HasTask(taskID) {
			return nil, cerr.Newf(cerr.Validation, "task %s is not linked to session %s", taskID, sessionID)
		}
	}

	now := time.Now()
	q := &entity.QueueState{
		SessionID:    sessionID,
		Items:        make([]entity.QueueItem, 0, len(taskIDs)),
		CurrentIndex: entity.NoCurrentItem,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, taskID := range taskIDs {
		q.Items = append(q.Items, entity.QueueItem{
			TaskID:  taskID,
			Status:  entity.QueueItemStatusQueued,
			AddedAt: now,
		})
	}
	s.queues[sessionID] = q
	s.persist(ctx, queuesPrefix, q.SessionID, q)
	s.publish(eventbus.QueueCreated, q.Clone())
	return q.Clone(), nil
}

func (s *Store) GetQueue(_ context.Context, sessionID string) (*entity.QueueState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.queues[sessionID]
	if !ok {
		return nil, cerr.Newf(cerr.NotFound, "queue for session %s not found", sessionID)
	}
	return q.Clone(), nil
}

// PushQueueItem appends a queued item for taskID to the session's queue.
// The existence checks, the link check, and the append all run under one
// lock, so a concurrent unlink cannot slip in between and leave the queue
// referencing a task the session no longer owns.
func (s *Store) PushQueueItem(ctx context.Context, sessionID, taskID string) (*entity.QueueState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[taskID]; !ok {
		return nil, cerr.Newf(cerr.NotFound, "task %s not found", taskID)
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, cerr.Newf(cerr.NotFound, "session %s not found", sessionID)
	}
	q, ok := s.queues[sessionID]
	if !ok {
		return nil, cerr.Newf(cerr.NotFound, "queue for session %s not found", sessionID)
	}
	if !sess.HasTask(taskID) {
		return nil, cerr.Newf(cerr.Validation, "task %s is not linked to session %s", taskID, sessionID)
	}

	now := time.Now()
	q.Items = append(q.Items, entity.QueueItem{
		TaskID:  taskID,
		Status:  entity.QueueItemStatusQueued,
		AddedAt: now,
	})
	q.UpdatedAt = now
	s.persist(ctx, queuesPrefix, q.SessionID, q)
	return q.Clone(), nil
}

// detachTaskFromQueue skips every non-terminal queue item for taskID on the
// session's queue, so queue task ids stay a subset of the session's task ids
// after an unlink. Caller must hold the write lock. No-op when the session
// has no queue or no live item references the task.
func (s *Store) detachTaskFromQueue(ctx context.Context, sessionID, taskID string) {
	q, ok := s.queues[sessionID]
	if !ok {
		return
	}
	now := time.Now()
	changed := false
	for i := range q.Items {
		item := &q.Items[i]
		if item.TaskID != taskID || item.Status.Terminal() {
			continue
		}
		item.Status = entity.QueueItemStatusSkipped
		item.CompletedAt = &now
		if q.CurrentIndex == i {
			q.CurrentIndex = entity.NoCurrentItem
		}
		changed = true
	}
	if !changed {
		return
	}
	q.UpdatedAt = now
	s.persist(ctx, queuesPrefix, q.SessionID, q)
	s.publish(eventbus.QueueUpdated, q.Clone())
}

// MutateQueue applies fn to the queue under the store lock, stamps
// UpdatedAt, and persists the whole state. fn returning an error aborts the
// mutation. The queue engine builds all its operations on this.
func (s *Store) MutateQueue(ctx context.Context, sessionID string, fn func(q *entity.QueueState) error) (*entity.QueueState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[sessionID]
	if !ok {
		return nil, cerr.Newf(cerr.NotFound, "queue for session %s not found", sessionID)
	}
	if err := fn(q); err != nil {
		return nil, err
	}
	q.UpdatedAt = time.Now()
	s.persist(ctx, queuesPrefix, q.SessionID, q)
	return q.Clone(), nil
}
