package entity

import "time"

type SessionStatus string

const (
	SessionStatusSpawning  SessionStatus = "spawning"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusIdle      SessionStatus = "idle"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// Strategy is a session's task-processing mode.
type Strategy string

const (
	StrategySingle Strategy = "single"
	StrategyQueue  Strategy = "queue"
	// StrategyTree is reserved for hierarchical processing; accepted on
	// input but treated like single.
	StrategyTree Strategy = "tree"
)

func (s Strategy) Valid() bool {
	return s == StrategySingle || s == StrategyQueue || s == StrategyTree
}

type SessionRole string

const (
	RoleWorker       SessionRole = "worker"
	RoleOrchestrator SessionRole = "orchestrator"
)

func (r SessionRole) Valid() bool {
	return r == RoleWorker || r == RoleOrchestrator
}

// SpawnSource identifies who initiated a spawn.
type SpawnSource string

const (
	SpawnSourceUI      SpawnSource = "ui"
	SpawnSourceSession SpawnSource = "session"
)

func (s SpawnSource) Valid() bool {
	return s == SpawnSourceUI || s == SpawnSourceSession
}

// SessionMeta carries optional provenance for spawned sessions.
type SessionMeta struct {
	Role            SessionRole `json:"role,omitempty"`
	SpawnSource     SpawnSource `json:"spawnSource,omitempty"`
	ParentSessionID string      `json:"parentSessionId,omitempty"`
	SkillIDs        []string    `json:"skillIds,omitempty"`
}

// Session is one agent process slot. TaskIDs here and Task.SessionIDs must
// always agree in both directions.
type Session struct {
	ID             string            `json:"id"`
	ProjectID      string            `json:"projectId"`
	TaskIDs        []string          `json:"taskIds"`
	Name           string            `json:"name"`
	Env            map[string]string `json:"env"`
	Status         SessionStatus     `json:"status"`
	Strategy       Strategy          `json:"strategy"`
	CreatedAt      time.Time         `json:"createdAt"`
	LastActivityAt time.Time         `json:"lastActivityAt"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
	Hostname       string            `json:"hostname,omitempty"`
	EventLog       []TimelineEntry   `json:"eventLog"`
	Meta           SessionMeta       `json:"meta"`
}

// Normalize back-fills fields that older serialized records may lack.
func (s *Session) Normalize() {
	if s.Status == "" {
		s.Status = SessionStatusActive
	}
	if s.Strategy == "" {
		s.Strategy = StrategySingle
	}
	if s.TaskIDs == nil {
		s.TaskIDs = []string{}
	}
	if s.Env == nil {
		s.Env = map[string]string{}
	}
	if s.EventLog == nil {
		s.EventLog = []TimelineEntry{}
	}
}

// AppendEvent records an occurrence in the session's event log.
func (s *Session) AppendEvent(kind, detail string) {
	s.EventLog = append(s.EventLog, TimelineEntry{
		At:     time.Now(),
		Kind:   kind,
		Detail: detail,
	})
}

// HasTask reports whether taskID is linked to the session.
func (s *Session) HasTask(taskID string) bool {
	for _, id := range s.TaskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// Clone returns an independent copy safe to hand to readers.
func (s *Session) Clone() *Session {
	c := *s
	c.TaskIDs = append([]string(nil), s.TaskIDs...)
	c.Env = make(map[string]string, len(s.Env))
	for k, v := range s.Env {
		c.Env[k] = v
	}
	c.EventLog = append([]TimelineEntry(nil), s.EventLog...)
	c.Meta.SkillIDs = append([]string(nil), s.Meta.SkillIDs...)
	if s.CompletedAt != nil {
		v := *s.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}
