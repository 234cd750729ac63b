package entity

import "time"

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// DefaultTaskPriority is used when a task is created without one. Priority
// is an opaque string; nothing in the coordinator orders by it.
const DefaultTaskPriority = "normal"

// TimelineEntry is a discrete, timestamped, append-only note attached to a
// task or session.
type TimelineEntry struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// Task is a unit of work. Tasks form a tree via ParentTaskID and link to the
// sessions working on them; SessionIDs here and Session.TaskIDs must always
// agree in both directions.
type Task struct {
	ID           string          `json:"id"`
	ProjectID    string          `json:"projectId"`
	ParentTaskID *string         `json:"parentTaskId,omitempty"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	Status       TaskStatus      `json:"status"`
	Priority     string          `json:"priority"`
	Instructions string          `json:"instructions,omitempty"`
	SessionIDs   []string        `json:"sessionIds"`
	SkillIDs     []string        `json:"skillIds"`
	DependsOn    []string        `json:"dependsOn"`
	Timeline     []TimelineEntry `json:"timeline"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// Normalize back-fills fields that older serialized records may lack.
// Missing optional fields are a forward-compatibility case, not an error.
func (t *Task) Normalize() {
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	if t.Priority == "" {
		t.Priority = DefaultTaskPriority
	}
	if t.SessionIDs == nil {
		t.SessionIDs = []string{}
	}
	if t.SkillIDs == nil {
		t.SkillIDs = []string{}
	}
	if t.DependsOn == nil {
		t.DependsOn = []string{}
	}
	if t.Timeline == nil {
		t.Timeline = []TimelineEntry{}
	}
}

// AppendTimeline records an occurrence on the task.
func (t *Task) AppendTimeline(kind, detail string) {
	t.Timeline = append(t.Timeline, TimelineEntry{
		At:     time.Now(),
		Kind:   kind,
		Detail: detail,
	})
}

// HasSession reports whether sessionID is linked to the task.
func (t *Task) HasSession(sessionID string) bool {
	for _, id := range t.SessionIDs {
		if id == sessionID {
			return true
		}
	}
	return false
}

// Clone returns an independent copy safe to hand to readers.
func (t *Task) Clone() *Task {
	c := *t
	if t.ParentTaskID != nil {
		v := *t.ParentTaskID
		c.ParentTaskID = &v
	}
	c.SessionIDs = append([]string(nil), t.SessionIDs...)
	c.SkillIDs = append([]string(nil), t.SkillIDs...)
	c.DependsOn = append([]string(nil), t.DependsOn...)
	c.Timeline = append([]TimelineEntry(nil), t.Timeline...)
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}
