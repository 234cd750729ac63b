package config

import (
	"fmt"
	"log/slog"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"7777"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".maestro/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"maestro/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
}

type SpawnEnv struct {
	// ToolCommand is the manifest-generation tool invocation, whitespace
	// separated, e.g. "node /opt/maestro/tool.js".
	ToolCommand     string `envconfig:"MANIFEST_TOOL" default:"maestro-tool"`
	AgentCommand    string `envconfig:"AGENT_COMMAND" default:"maestro-agent"`
	ManifestDir     string `envconfig:"MANIFEST_DIR" default:".maestro/manifests"`
	CoordinatorAddr string `envconfig:"COORDINATOR_ADDR" default:"http://127.0.0.1:7777"`
	SkillsDir       string `envconfig:"SKILLS_DIR" default:".maestro/skills"`
}

type Env struct {
	BaseEnv
	StorageEnv
	SpawnEnv
}

const namespace = "MAESTRO"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}
