// Package queue implements the per-session FIFO processing state machine.
// Item lifecycle: queued → processing → {completed | failed | skipped},
// with queued → skipped also legal. Terminal states are never re-entered,
// and at most one item per queue is processing at any time.
package queue

import (
	"context"
	"time"

	"github.com/maestro-hq/maestrod/internal/entity"
	"github.com/maestro-hq/maestrod/internal/eventbus"
	"github.com/maestro-hq/maestrod/internal/store"
	"github.com/maestro-hq/maestrod/pkg/cerr"
)

type Engine struct {
	store *store.Store
	bus   eventbus.Publisher
}

func NewEngine(st *store.Store, bus eventbus.Publisher) *Engine {
	return &Engine{store: st, bus: bus}
}

// StartResult reports the outcome of Start. Empty means no queued item was
// available; that is not an error.
type StartResult struct {
	SessionID string            `json:"sessionId"`
	Item      *entity.QueueItem `json:"item,omitempty"`
	Empty     bool              `json:"empty"`
}

// AdvanceResult reports the outcome of Complete, Fail, or Skip: the item
// that reached a terminal state and the next queued item, if any.
type AdvanceResult struct {
	SessionID string            `json:"sessionId"`
	Item      *entity.QueueItem `json:"item"`
	NextItem  *entity.QueueItem `json:"nextItem,omitempty"`
	HasMore   bool              `json:"hasMore"`
}

// Start promotes the earliest queued item to processing. It conflicts if an
// item is already processing, and returns an empty result if nothing is
// queued.
func (e *Engine) Start(ctx context.Context, sessionID string) (*StartResult, error) {
	result := &StartResult{SessionID: sessionID}
	_, err := e.store.MutateQueue(ctx, sessionID, func(q *entity.QueueState) error {
		if cur := q.Current(); cur != nil {
			return cerr.Newf(cerr.Conflict, "queue for session %s already has a processing item (task %s)", sessionID, cur.TaskID)
		}
		idx := q.NextQueued()
		if idx == entity.NoCurrentItem {
			result.Empty = true
			return nil
		}
		now := time.Now()
		q.Items[idx].Status = entity.QueueItemStatusProcessing
		q.Items[idx].StartedAt = &now
		q.CurrentIndex = idx
		result.Item = cloneItem(q.Items[idx])
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Item != nil {
		e.bus.Publish(eventbus.QueueItemStarted, result)
	}
	return result, nil
}

// Complete marks the processing item completed and reports the next
// eligible item.
func (e *Engine) Complete(ctx context.Context, sessionID string) (*AdvanceResult, error) {
	return e.finish(ctx, sessionID, entity.QueueItemStatusCompleted, "", eventbus.QueueItemCompleted)
}

// Fail marks the processing item failed, recording the reason.
func (e *Engine) Fail(ctx context.Context, sessionID, reason string) (*AdvanceResult, error) {
	return e.finish(ctx, sessionID, entity.QueueItemStatusFailed, reason, eventbus.QueueItemFailed)
}

func (e *Engine) finish(ctx context.Context, sessionID string, status entity.QueueItemStatus, reason, eventName string) (*AdvanceResult, error) {
	result := &AdvanceResult{SessionID: sessionID}
	_, err := e.store.MutateQueue(ctx, sessionID, func(q *entity.QueueState) error {
		cur := q.Current()
		if cur == nil {
			return cerr.Newf(cerr.Conflict, "queue for session %s has no processing item", sessionID)
		}
		now := time.Now()
		cur.Status = status
		cur.CompletedAt = &now
		cur.FailureReason = reason
		q.CurrentIndex = entity.NoCurrentItem
		result.Item = cloneItem(*cur)
		if idx := q.NextQueued(); idx != entity.NoCurrentItem {
			result.NextItem = cloneItem(q.Items[idx])
			result.HasMore = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.bus.Publish(eventName, result)
	return result, nil
}

// Skip skips the processing item if one exists, otherwise the earliest
// queued item. It fails when there is nothing to skip.
func (e *Engine) Skip(ctx context.Context, sessionID string) (*AdvanceResult, error) {
	result := &AdvanceResult{SessionID: sessionID}
	_, err := e.store.MutateQueue(ctx, sessionID, func(q *entity.QueueState) error {
		idx := q.CurrentIndex
		if q.Current() == nil {
			idx = q.NextQueued()
			if idx == entity.NoCurrentItem {
				return cerr.Newf(cerr.Conflict, "queue for session %s has nothing to skip", sessionID)
			}
		}
		now := time.Now()
		q.Items[idx].Status = entity.QueueItemStatusSkipped
		q.Items[idx].CompletedAt = &now
		q.CurrentIndex = entity.NoCurrentItem
		result.Item = cloneItem(q.Items[idx])
		if next := q.NextQueued(); next != entity.NoCurrentItem {
			result.NextItem = cloneItem(q.Items[next])
			result.HasMore = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.bus.Publish(eventbus.QueueItemSkipped, result)
	return result, nil
}

// Push appends a queued item for taskID. The task must exist and be linked
// to the session; the store checks both and appends under a single lock, so
// queue task ids stay a subset of the session's task ids.
func (e *Engine) Push(ctx context.Context, sessionID, taskID string) (*entity.QueueState, error) {
	q, err := e.store.PushQueueItem(ctx, sessionID, taskID)
	if err != nil {
		return nil, err
	}
	e.bus.Publish(eventbus.QueueUpdated, q)
	return q, nil
}

func cloneItem(item entity.QueueItem) *entity.QueueItem {
	c := item
	if item.StartedAt != nil {
		v := *item.StartedAt
		c.StartedAt = &v
	}
	if item.CompletedAt != nil {
		v := *item.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}
