package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"

	server "github.com/maestro-hq/maestrod/internal"
	"github.com/maestro-hq/maestrod/internal/config"
	"github.com/maestro-hq/maestrod/internal/eventbus"
	"github.com/maestro-hq/maestrod/internal/queue"
	"github.com/maestro-hq/maestrod/internal/skill"
	"github.com/maestro-hq/maestrod/internal/spawn"
	"github.com/maestro-hq/maestrod/internal/store"
	"github.com/maestro-hq/maestrod/pkg/clog"
	"github.com/maestro-hq/maestrod/pkg/storage"
)

var (
	app          = kingpin.New("maestrod", "Coordination daemon for projects, tasks, and agent sessions.")
	flagHost     = app.Flag("host", "Listen host (overrides MAESTRO_HTTP_HOST).").String()
	flagPort     = app.Flag("port", "Listen port (overrides MAESTRO_HTTP_PORT).").String()
	flagDataDir  = app.Flag("data-dir", "Entity storage directory (overrides MAESTRO_STORAGE_BASE_DIR).").String()
	flagSkills   = app.Flag("skills-dir", "Skills catalog directory (overrides MAESTRO_SKILLS_DIR).").String()
	flagTool     = app.Flag("manifest-tool", "Manifest-generation tool command (overrides MAESTRO_MANIFEST_TOOL).").String()
	flagLogLevel = app.Flag("log-level", "Log level (overrides MAESTRO_LOG_LEVEL).").String()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}
	applyFlags(env)

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Setup storage
	var backend storage.Storage
	switch env.StorageEnv.Type {
	case "s3":
		backend, err = storage.NewS3(ctx, env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
		if err != nil {
			slog.Error("failed to create S3 storage", "error", err)
			os.Exit(1)
		}
	default:
		backend, err = storage.NewLocal(env.StorageEnv.BaseDir)
		if err != nil {
			slog.Error("failed to create local storage", "error", err)
			os.Exit(1)
		}
	}

	bus := eventbus.New()

	st := store.New(backend, bus)
	if err := st.Load(ctx); err != nil {
		slog.Error("failed to load entities", "error", err)
		os.Exit(1)
	}

	skills := skill.NewRegistry(env.SkillsDir)
	if err := skills.Load(); err != nil {
		slog.Warn("failed to load skills catalog", "error", err)
	}
	go func() {
		if err := skills.Watch(ctx); err != nil {
			slog.Warn("skills watcher stopped", "error", err)
		}
	}()

	engine := queue.NewEngine(st, bus)
	spawner := spawn.New(st, bus, &spawn.ExecRunner{
		Command: strings.Fields(env.ToolCommand),
	}, skills, spawn.Config{
		CoordinatorAddr: env.CoordinatorAddr,
		ManifestDir:     env.ManifestDir,
		AgentCommand:    strings.Fields(env.AgentCommand),
	})

	srv := server.NewServer(env, st, engine, spawner, bus, skills)

	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	// Final mirror pass so on-disk state matches memory at exit.
	st.Flush(shutdownCtx)
}

func applyFlags(env *config.Env) {
	if *flagHost != "" {
		env.HTTPHost = *flagHost
	}
	if *flagPort != "" {
		env.HTTPPort = *flagPort
	}
	if *flagDataDir != "" {
		env.BaseDir = *flagDataDir
	}
	if *flagSkills != "" {
		env.SkillsDir = *flagSkills
	}
	if *flagTool != "" {
		env.ToolCommand = *flagTool
	}
	if *flagLogLevel != "" {
		env.LogLevel = *flagLogLevel
	}
}
