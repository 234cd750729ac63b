package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/maestro-hq/maestrod/internal/entity"
	"github.com/maestro-hq/maestrod/internal/eventbus"
	"github.com/maestro-hq/maestrod/pkg/cerr"
)

type CreateProjectInput struct {
	Name        string
	Path        string
	Description string
}

type UpdateProjectInput struct {
	Name        *string
	Path        *string
	Description *string
}

func (s *Store) CreateProject(ctx context.Context, in CreateProjectInput) (*entity.Project, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, cerr.NewError(cerr.Validation, "project name is required", nil)
	}
	if strings.TrimSpace(in.Path) == "" {
		return nil, cerr.NewError(cerr.Validation, "project path is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	p := &entity.Project{
		ID:          entity.NewID(entity.ProjectIDPrefix),
		Name:        in.Name,
		Path:        in.Path,
		Description: in.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.projects[p.ID] = p
	s.persist(ctx, projectsPrefix, p.ID, p)
	s.publish(eventbus.ProjectCreated, p.Clone())
	return p.Clone(), nil
}

func (s *Store) GetProject(_ context.Context, id string) (*entity.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, cerr.Newf(cerr.NotFound, "project %s not found", id)
	}
	return p.Clone(), nil
}

func (s *Store) ListProjects(_ context.Context) []*entity.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entity.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) UpdateProject(ctx context.Context, id string, in UpdateProjectInput) (*entity.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, cerr.Newf(cerr.NotFound, "project %s not found", id)
	}
	if in.Name != nil {
		p.Name = *in.Name
	}
	if in.Path != nil {
		p.Path = *in.Path
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	p.UpdatedAt = time.Now()
	s.persist(ctx, projectsPrefix, p.ID, p)
	s.publish(eventbus.ProjectUpdated, p.Clone())
	return p.Clone(), nil
}

// DeleteProject removes a project. It refuses while any task or session
// still references the project; the error names the blocking dependency.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return cerr.Newf(cerr.NotFound, "project %s not found", id)
	}

	taskCount := 0
	for _, t := range s.tasks {
		if t.ProjectID == id {
			taskCount++
		}
	}
	sessionCount := 0
	for _, sess := range s.sessions {
		if sess.ProjectID == id {
			sessionCount++
		}
	}
	if taskCount > 0 || sessionCount > 0 {
		return cerr.NewError(cerr.DependencyConflict,
			fmt.Sprintf("project %s cannot be deleted: blocked by %s", id, blockingDeps(taskCount, sessionCount)), nil)
	}

	delete(s.projects, id)
	s.remove(ctx, projectsPrefix, id)
	s.publish(eventbus.ProjectDeleted, map[string]string{"id": id})
	return nil
}

// ProjectExists is a cheap existence probe.
func (s *Store) ProjectExists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.projects[id]
	return ok
}

func blockingDeps(taskCount, sessionCount int) string {
	var parts []string
	if taskCount > 0 {
		parts = append(parts, fmt.Sprintf("%d task(s)", taskCount))
	}
	if sessionCount > 0 {
		parts = append(parts, fmt.Sprintf("%d session(s)", sessionCount))
	}
	return strings.Join(parts, " and ")
}
