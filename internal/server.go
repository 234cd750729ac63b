// Package internal wires the coordinator's HTTP surface. The routes are thin:
// decode, call into store/queue/spawn, record the result for the response
// middleware. All invariants live below this layer.
package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/maestro-hq/maestrod/internal/config"
	"github.com/maestro-hq/maestrod/internal/entity"
	"github.com/maestro-hq/maestrod/internal/eventbus"
	"github.com/maestro-hq/maestrod/internal/queue"
	"github.com/maestro-hq/maestrod/internal/skill"
	"github.com/maestro-hq/maestrod/internal/spawn"
	"github.com/maestro-hq/maestrod/internal/store"
	"github.com/maestro-hq/maestrod/pkg/cerr"
	"github.com/maestro-hq/maestrod/pkg/clog"
)

// sseBufferSize is the per-client event buffer; events beyond it are dropped
// for that client rather than blocking publishers.
const sseBufferSize = 64

type Server struct {
	server  *http.Server
	env     *config.Env
	store   *store.Store
	engine  *queue.Engine
	spawner *spawn.Spawner
	bus     *eventbus.Bus
	skills  *skill.Registry
}

func NewServer(
	env *config.Env,
	st *store.Store,
	engine *queue.Engine,
	spawner *spawn.Spawner,
	bus *eventbus.Bus,
	skills *skill.Registry,
) *Server {
	return &Server{
		env:     env,
		store:   st,
		engine:  engine,
		spawner: spawner,
		bus:     bus,
		skills:  skills,
	}
}

// Handler builds the full route tree. Exposed so tests can serve it through
// httptest without binding a port.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(
			clog.SlogChiMiddleware(),
			cerr.NewJSONResponseMiddleware(),
		)
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
		})

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.listProjects)
			r.Post("/", s.createProject)
			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", s.getProject)
				r.Patch("/", s.updateProject)
				r.Delete("/", s.deleteProject)
			})
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.listTasks)
			r.Post("/", s.createTask)
			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", s.getTask)
				r.Patch("/", s.updateTask)
				r.Delete("/", s.deleteTask)
			})
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Post("/", s.createSession)
			r.Post("/spawn", s.spawnSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Patch("/", s.updateSession)
				r.Delete("/", s.deleteSession)
				r.Put("/tasks/{taskID}", s.addTaskToSession)
				r.Delete("/tasks/{taskID}", s.removeTaskFromSession)
				r.Route("/queue", func(r chi.Router) {
					r.Get("/", s.getQueue)
					r.Post("/", s.createQueue)
					r.Post("/start", s.startQueueItem)
					r.Post("/complete", s.completeQueueItem)
					r.Post("/fail", s.failQueueItem)
					r.Post("/skip", s.skipQueueItem)
					r.Post("/push", s.pushQueueItem)
				})
			})
		})

		r.Get("/skills", s.listSkills)
		r.Get("/events", s.streamEvents)
	})

	mux := http.NewServeMux()
	mux.Handle("/health", &HealthChecker{})
	mux.Handle("/api/", r)
	return mux
}

// ListenAndServe starts the HTTP server. ctx is the base context for all
// incoming requests, so cancelling it also ends the SSE streams.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr: addr,
		Handler: h2c.NewHandler(cors.New(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}).Handler(s.Handler()), &http2.Server{}),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type HealthChecker struct{}

func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return cerr.NewError(cerr.Validation, "invalid request body", err)
	}
	return nil
}

// --- projects ---

type projectRequest struct {
	Name        *string `json:"name"`
	Path        *string `json:"path"`
	Description *string `json:"description"`
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	p, err := s.store.CreateProject(r.Context(), store.CreateProjectInput{
		Name:        deref(req.Name),
		Path:        deref(req.Path),
		Description: deref(req.Description),
	})
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponseStatus(r.Context(), http.StatusCreated, p)
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	cerr.SetJSONResponse(r.Context(), s.store.ListProjects(r.Context()))
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), p)
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	p, err := s.store.UpdateProject(r.Context(), chi.URLParam(r, "projectID"), store.UpdateProjectInput{
		Name:        req.Name,
		Path:        req.Path,
		Description: req.Description,
	})
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), p)
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteProject(r.Context(), chi.URLParam(r, "projectID")); err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), map[string]bool{"deleted": true})
}

// --- tasks ---

type createTaskRequest struct {
	ProjectID    string   `json:"projectId"`
	ParentTaskID *string  `json:"parentTaskId"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Priority     string   `json:"priority"`
	Instructions string   `json:"instructions"`
	SkillIDs     []string `json:"skillIds"`
	DependsOn    []string `json:"dependsOn"`
}

type updateTaskRequest struct {
	Title        *string            `json:"title"`
	Description  *string            `json:"description"`
	Status       *entity.TaskStatus `json:"status"`
	Priority     *string            `json:"priority"`
	Instructions *string            `json:"instructions"`
	SkillIDs     *[]string          `json:"skillIds"`
	DependsOn    *[]string          `json:"dependsOn"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	t, err := s.store.CreateTask(r.Context(), store.CreateTaskInput{
		ProjectID:    req.ProjectID,
		ParentTaskID: req.ParentTaskID,
		Title:        req.Title,
		Description:  req.Description,
		Priority:     req.Priority,
		Instructions: req.Instructions,
		SkillIDs:     req.SkillIDs,
		DependsOn:    req.DependsOn,
	})
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponseStatus(r.Context(), http.StatusCreated, t)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TaskFilter{
		ProjectID:    q.Get("projectId"),
		Status:       entity.TaskStatus(q.Get("status")),
		ParentTaskID: q.Get("parentTaskId"),
		RootOnly:     q.Get("root") == "true",
	}
	cerr.SetJSONResponse(r.Context(), s.store.ListTasks(r.Context(), filter))
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), t)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	t, err := s.store.UpdateTask(r.Context(), chi.URLParam(r, "taskID"), store.UpdateTaskInput{
		Title:        req.Title,
		Description:  req.Description,
		Status:       req.Status,
		Priority:     req.Priority,
		Instructions: req.Instructions,
		SkillIDs:     req.SkillIDs,
		DependsOn:    req.DependsOn,
	})
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), t)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTask(r.Context(), chi.URLParam(r, "taskID")); err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), map[string]bool{"deleted": true})
}

// --- sessions ---

type createSessionRequest struct {
	ProjectID string               `json:"projectId"`
	TaskIDs   []string             `json:"taskIds"`
	Name      string               `json:"name"`
	Env       map[string]string    `json:"env"`
	Status    entity.SessionStatus `json:"status"`
	Strategy  entity.Strategy      `json:"strategy"`
	Hostname  string               `json:"hostname"`
	Meta      entity.SessionMeta   `json:"meta"`
}

type updateSessionRequest struct {
	Name     *string               `json:"name"`
	Status   *entity.SessionStatus `json:"status"`
	Env      map[string]string     `json:"env"`
	Hostname *string               `json:"hostname"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	sess, err := s.store.CreateSession(r.Context(), store.CreateSessionInput{
		ProjectID: req.ProjectID,
		TaskIDs:   req.TaskIDs,
		Name:      req.Name,
		Env:       req.Env,
		Status:    req.Status,
		Strategy:  req.Strategy,
		Hostname:  req.Hostname,
		Meta:      req.Meta,
	})
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponseStatus(r.Context(), http.StatusCreated, sess)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.SessionFilter{
		ProjectID: q.Get("projectId"),
		Status:    entity.SessionStatus(q.Get("status")),
	}
	cerr.SetJSONResponse(r.Context(), s.store.ListSessions(r.Context(), filter))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), sess)
}

func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	var req updateSessionRequest
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	sess, err := s.store.UpdateSession(r.Context(), chi.URLParam(r, "sessionID"), store.UpdateSessionInput{
		Name:     req.Name,
		Status:   req.Status,
		Env:      req.Env,
		Hostname: req.Hostname,
	})
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), sess)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), map[string]bool{"deleted": true})
}

func (s *Server) addTaskToSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	taskID := chi.URLParam(r, "taskID")
	if err := s.store.AddTaskToSession(r.Context(), sessionID, taskID); err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), map[string]string{"sessionId": sessionID, "taskId": taskID})
}

func (s *Server) removeTaskFromSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	taskID := chi.URLParam(r, "taskID")
	if err := s.store.RemoveTaskFromSession(r.Context(), sessionID, taskID); err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), map[string]string{"sessionId": sessionID, "taskId": taskID})
}

func (s *Server) spawnSession(w http.ResponseWriter, r *http.Request) {
	var in spawn.Input
	if err := decode(r, &in); err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	res, err := s.spawner.Spawn(r.Context(), in)
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponseStatus(r.Context(), http.StatusCreated, res)
}

// --- queue ---

func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	q, err := s.store.GetQueue(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), q)
}

func (s *Server) createQueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskIDs []string `json:"taskIds"`
	}
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	q, err := s.store.CreateQueue(r.Context(), chi.URLParam(r, "sessionID"), req.TaskIDs)
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponseStatus(r.Context(), http.StatusCreated, q)
}

func (s *Server) startQueueItem(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Start(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), res)
}

func (s *Server) completeQueueItem(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Complete(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), res)
}

func (s *Server) failQueueItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	res, err := s.engine.Fail(r.Context(), chi.URLParam(r, "sessionID"), req.Reason)
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), res)
}

func (s *Server) skipQueueItem(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Skip(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), res)
}

func (s *Server) pushQueueItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID string `json:"taskId"`
	}
	if err := decode(r, &req); err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	q, err := s.engine.Push(r.Context(), chi.URLParam(r, "sessionID"), req.TaskID)
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), q)
}

// --- skills & events ---

func (s *Server) listSkills(w http.ResponseWriter, r *http.Request) {
	cerr.SetJSONResponse(r.Context(), s.skills.List())
}

// streamEvents bridges the bus onto an SSE stream. The response middleware
// sees no recorded response and leaves the connection alone.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		cerr.SetNewJSONError(r.Context(), cerr.Internal, "streaming unsupported", nil)
		return
	}

	id, ch := s.bus.Subscribe(sseBufferSize)
	defer s.bus.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				slog.Warn("drop unserializable event", "name", event.Name, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Name, data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
