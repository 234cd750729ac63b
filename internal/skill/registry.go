// Package skill is the read-only catalog of agent skills. Skills live as
// YAML files in a directory; the registry loads them at startup and
// hot-reloads when files change. It never resolves skills itself, the
// manifest tool does that; the registry only answers lookups.
package skill

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/maestro-hq/maestrod/pkg/cerr"
	"github.com/maestro-hq/maestrod/pkg/panicerr"
)

// debounceInterval lets rapid file events settle (editors often write a
// temp file and rename) before reloading the whole directory.
const debounceInterval = 100 * time.Millisecond

type Skill struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Content      string   `yaml:"content"`
	AllowedTools []string `yaml:"allowed_tools"`
	Model        string   `yaml:"model"`
}

type Registry struct {
	dir string

	mu     sync.RWMutex
	skills map[string]*Skill
}

func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir, skills: map[string]*Skill{}}
}

// Load reads every YAML file in the directory. Unparsable files are logged
// and skipped; a missing directory yields an empty catalog.
func (r *Registry) Load() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.mu.Lock()
			r.skills = map[string]*Skill{}
			r.mu.Unlock()
			return nil
		}
		return cerr.Newf(cerr.Internal, "read skills dir %s: %v", r.dir, err)
	}

	skills := map[string]*Skill{}
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("skip unreadable skill file", "path", path, "error", err)
			continue
		}
		var s Skill
		if err := yaml.Unmarshal(data, &s); err != nil {
			slog.Warn("skip unparsable skill file", "path", path, "error", err)
			continue
		}
		if s.ID == "" {
			s.ID = strings.TrimSuffix(strings.TrimSuffix(entry.Name(), ".yaml"), ".yml")
		}
		skills[s.ID] = &s
	}

	r.mu.Lock()
	r.skills = skills
	r.mu.Unlock()
	slog.Debug("skills catalog loaded", "count", len(skills))
	return nil
}

func (r *Registry) Get(id string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[id]
	return s, ok
}

func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

func (r *Registry) List() []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Watch reloads the catalog whenever a YAML file in the directory changes.
// It blocks until ctx is done; run it in a goroutine.
func (r *Registry) Watch(ctx context.Context) error {
	return panicerr.SafeContext(r.watch)(ctx)
}

func (r *Registry) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return cerr.NewError(cerr.Internal, "create skills watcher", err)
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		return cerr.Newf(cerr.Internal, "watch skills dir %s: %v", r.dir, err)
	}

	var debounce *time.Timer
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isYAML(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceInterval, func() {
				if err := r.Load(); err != nil {
					slog.Warn("skills catalog reload failed", "error", err)
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("skills watcher error", "error", err)
		case <-ctx.Done():
			return nil
		}
	}
}

func isYAML(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}
