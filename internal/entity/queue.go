package entity

import "time"

type QueueItemStatus string

const (
	QueueItemStatusQueued     QueueItemStatus = "queued"
	QueueItemStatusProcessing QueueItemStatus = "processing"
	QueueItemStatusCompleted  QueueItemStatus = "completed"
	QueueItemStatusFailed     QueueItemStatus = "failed"
	QueueItemStatusSkipped    QueueItemStatus = "skipped"
)

// Terminal reports whether the status can never change again.
func (s QueueItemStatus) Terminal() bool {
	switch s {
	case QueueItemStatusCompleted, QueueItemStatusFailed, QueueItemStatusSkipped:
		return true
	default:
		return false
	}
}

type QueueItem struct {
	TaskID        string          `json:"taskId"`
	Status        QueueItemStatus `json:"status"`
	AddedAt       time.Time       `json:"addedAt"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
}

// NoCurrentItem is the CurrentIndex value when nothing is processing.
const NoCurrentItem = -1

// QueueState is the FIFO processing state for one queued-strategy session.
// At most one item may be processing at any time; item task ids are a
// subset of the owning session's task ids.
type QueueState struct {
	SessionID    string      `json:"sessionId"`
	Items        []QueueItem `json:"items"`
	CurrentIndex int         `json:"currentIndex"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Normalize back-fills fields that older serialized records may lack.
func (q *QueueState) Normalize() {
	if q.Items == nil {
		q.Items = []QueueItem{}
	}
	if q.CurrentIndex == 0 && len(q.Items) > 0 && q.Items[0].Status != QueueItemStatusProcessing {
		// CurrentIndex was introduced later; zero-valued records mean "none".
		q.CurrentIndex = NoCurrentItem
	}
	if len(q.Items) == 0 {
		q.CurrentIndex = NoCurrentItem
	}
}

// Current returns the item being processed, or nil.
func (q *QueueState) Current() *QueueItem {
	if q.CurrentIndex == NoCurrentItem || q.CurrentIndex < 0 || q.CurrentIndex >= len(q.Items) {
		return nil
	}
	return &q.Items[q.CurrentIndex]
}

// NextQueued returns the index of the earliest queued item, or NoCurrentItem.
func (q *QueueState) NextQueued() int {
	for i := range q.Items {
		if q.Items[i].Status == QueueItemStatusQueued {
			return i
		}
	}
	return NoCurrentItem
}

// Clone returns an independent copy safe to hand to readers.
func (q *QueueState) Clone() *QueueState {
	c := *q
	c.Items = make([]QueueItem, len(q.Items))
	for i, item := range q.Items {
		ci := item
		if item.StartedAt != nil {
			v := *item.StartedAt
			ci.StartedAt = &v
		}
		if item.CompletedAt != nil {
			v := *item.CompletedAt
			ci.CompletedAt = &v
		}
		c.Items[i] = ci
	}
	return &c
}
