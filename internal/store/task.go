package store

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/maestro-hq/maestrod/internal/entity"
	"github.com/maestro-hq/maestrod/internal/eventbus"
	"github.com/maestro-hq/maestrod/pkg/cerr"
)

type CreateTaskInput struct {
	ProjectID    string
	ParentTaskID *string
	Title        string
	Description  string
	Priority     string
	Instructions string
	SkillIDs     []string
	DependsOn    []string
}

type UpdateTaskInput struct {
	Title        *string
	Description  *string
	Status       *entity.TaskStatus
	Priority     *string
	Instructions *string
	SkillIDs     *[]string
	DependsOn    *[]string
}

// TaskFilter narrows ListTasks. RootOnly selects tasks without a parent;
// it wins over ParentTaskID.
type TaskFilter struct {
	ProjectID    string
	Status       entity.TaskStatus
	ParentTaskID string
	RootOnly     bool
}

func (s *Store) CreateTask(ctx context.Context, in CreateTaskInput) (*entity.Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, cerr.NewError(cerr.Validation, "task title is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[in.ProjectID]; !ok {
		return nil, cerr.Newf(cerr.NotFound, "project %s not found", in.ProjectID)
	}
	if in.ParentTaskID != nil {
		if _, ok := s.tasks[*in.ParentTaskID]; !ok {
			return nil, cerr.Newf(cerr.NotFound, "parent task %s not found", *in.ParentTaskID)
		}
	}

	priority := in.Priority
	if priority == "" {
		priority = entity.DefaultTaskPriority
	}
	now := time.Now()
	t := &entity.Task{
		ID:           entity.NewID(entity.TaskIDPrefix),
		ProjectID:    in.ProjectID,
		ParentTaskID: in.ParentTaskID,
		Title:        in.Title,
		Description:  in.Description,
		Status:       entity.TaskStatusPending,
		Priority:     priority,
		Instructions: in.Instructions,
		SessionIDs:   []string{},
		SkillIDs:     append([]string{}, in.SkillIDs...),
		DependsOn:    append([]string{}, in.DependsOn...),
		Timeline:     []entity.TimelineEntry{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	t.AppendTimeline("created", "")
	s.tasks[t.ID] = t
	s.persist(ctx, tasksPrefix, t.ID, t)
	s.publish(eventbus.TaskCreated, t.Clone())
	return t.Clone(), nil
}

func (s *Store) GetTask(_ context.Context, id string) (*entity.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, cerr.Newf(cerr.NotFound, "task %s not found", id)
	}
	return t.Clone(), nil
}

func (s *Store) ListTasks(_ context.Context, filter TaskFilter) []*entity.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.Task
	for _, t := range s.tasks {
		if filter.ProjectID != "" && t.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.RootOnly {
			if t.ParentTaskID != nil {
				continue
			}
		} else if filter.ParentTaskID != "" {
			if t.ParentTaskID == nil || *t.ParentTaskID != filter.ParentTaskID {
				continue
			}
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) UpdateTask(ctx context.Context, id string, in UpdateTaskInput) (*entity.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, cerr.Newf(cerr.NotFound, "task %s not found", id)
	}
	if in.Title != nil {
		t.Title = *in.Title
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Priority != nil {
		t.Priority = *in.Priority
	}
	if in.Instructions != nil {
		t.Instructions = *in.Instructions
	}
	if in.SkillIDs != nil {
		t.SkillIDs = append([]string{}, (*in.SkillIDs)...)
	}
	if in.DependsOn != nil {
		t.DependsOn = append([]string{}, (*in.DependsOn)...)
	}
	if in.Status != nil && *in.Status != t.Status {
		now := time.Now()
		t.Status = *in.Status
		t.AppendTimeline("status_changed", string(*in.Status))
		// First entry only; re-entering the same status later never
		// overwrites these stamps.
		if *in.Status == entity.TaskStatusInProgress && t.StartedAt == nil {
			t.StartedAt = &now
		}
		if *in.Status == entity.TaskStatusCompleted && t.CompletedAt == nil {
			t.CompletedAt = &now
		}
	}
	t.UpdatedAt = time.Now()
	s.persist(ctx, tasksPrefix, t.ID, t)
	s.publish(eventbus.TaskUpdated, t.Clone())
	return t.Clone(), nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return cerr.Newf(cerr.NotFound, "task %s not found", id)
	}

	// Unlink from sessions so the bidirectional invariant holds, and skip
	// any live queue items still referencing the task.
	for _, sessID := range t.SessionIDs {
		sess, ok := s.sessions[sessID]
		if !ok {
			continue
		}
		sess.TaskIDs = removeString(sess.TaskIDs, id)
		sess.LastActivityAt = time.Now()
		s.persist(ctx, sessionsPrefix, sess.ID, sess)
		s.detachTaskFromQueue(ctx, sessID, id)
	}

	delete(s.tasks, id)
	s.remove(ctx, tasksPrefix, id)
	s.publish(eventbus.TaskDeleted, map[string]string{"id": id, "projectId": t.ProjectID})
	return nil
}

// TaskExists is a cheap existence probe used by the queue engine.
func (s *Store) TaskExists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tasks[id]
	return ok
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
