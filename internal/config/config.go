// Package config loads opuspipe settings from defaults, an optional YAML
// file and OPUSPIPE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/AaronKronberg/OpusPipeline/internal/llm"
)

// EnvPrefix is prepended to every environment override, e.g.
// OPUSPIPE_REDIS_ADDR.
const EnvPrefix = "OPUSPIPE"

// DefaultFile is read when no --config flag is given. Its absence is not an
// error.
const DefaultFile = "opuspipe.yaml"

// Config is the complete opuspipe configuration.
type Config struct {
	Database  DatabaseConfig         `mapstructure:"database"`
	Redis     RedisConfig            `mapstructure:"redis"`
	Ollama    OllamaConfig           `mapstructure:"ollama"`
	Worker    WorkerConfig           `mapstructure:"worker"`
	Log       LogConfig              `mapstructure:"log"`
	Events    EventsConfig           `mapstructure:"events"`
	Metrics   MetricsConfig          `mapstructure:"metrics"`
	Prompt    PromptConfig           `mapstructure:"prompt"`
	Knowledge KnowledgeConfig        `mapstructure:"knowledge"`
	Models    map[string]llm.Profile `mapstructure:"models"`
}

// DatabaseConfig points at the sqlite file that holds every task.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig is the asynq broker connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// OllamaConfig controls the completion provider. An empty Host falls back to
// OLLAMA_HOST.
type OllamaConfig struct {
	Host         string        `mapstructure:"host"`
	DefaultModel string        `mapstructure:"default_model"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// WorkerConfig controls the queue consumer and the options every job is
// enqueued with.
type WorkerConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	Queue          string        `mapstructure:"queue"`
	MaxRetry       int           `mapstructure:"max_retry"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
	TaskTimeout    time.Duration `mapstructure:"task_timeout"`
}

// LogConfig selects the level and, optionally, a rotated log file. Without a
// file, logs go to stderr.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// EventsConfig enables status events. An empty URL disables publishing.
type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// MetricsConfig is where the worker serves /metrics. Empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// PromptConfig bounds template chains. With ChainWithModel off, a chained
// template's resolved body is spliced in behind an [LLM_OUTPUT_FOR:id]
// marker instead of being sent to the model.
type PromptConfig struct {
	MaxDepth       int  `mapstructure:"max_depth"`
	ChainWithModel bool `mapstructure:"chain_with_model"`
}

type KnowledgeConfig struct {
	MaxContextLen int `mapstructure:"max_context_len"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "opuspipe.db"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Ollama:   OllamaConfig{Timeout: 10 * time.Minute},
		Worker: WorkerConfig{
			Concurrency:    4,
			Queue:          "default",
			MaxRetry:       3,
			RetryBaseDelay: 10 * time.Second,
			RetryMaxDelay:  10 * time.Minute,
			TaskTimeout:    30 * time.Minute,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 10,
			MaxAgeDays: 7,
		},
		Events:    EventsConfig{SubjectPrefix: "opuspipe.tasks"},
		Metrics:   MetricsConfig{Addr: ":9090"},
		Prompt:    PromptConfig{MaxDepth: 5},
		Knowledge: KnowledgeConfig{MaxContextLen: 2000},
	}
}

// SetDefaults registers Default() on v so file and env values layer on top.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)

	v.SetDefault("ollama.host", d.Ollama.Host)
	v.SetDefault("ollama.default_model", d.Ollama.DefaultModel)
	v.SetDefault("ollama.timeout", d.Ollama.Timeout)

	v.SetDefault("worker.concurrency", d.Worker.Concurrency)
	v.SetDefault("worker.queue", d.Worker.Queue)
	v.SetDefault("worker.max_retry", d.Worker.MaxRetry)
	v.SetDefault("worker.retry_base_delay", d.Worker.RetryBaseDelay)
	v.SetDefault("worker.retry_max_delay", d.Worker.RetryMaxDelay)
	v.SetDefault("worker.task_timeout", d.Worker.TaskTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)

	v.SetDefault("events.nats_url", d.Events.NATSURL)
	v.SetDefault("events.subject_prefix", d.Events.SubjectPrefix)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("prompt.max_depth", d.Prompt.MaxDepth)
	v.SetDefault("prompt.chain_with_model", d.Prompt.ChainWithModel)
	v.SetDefault("knowledge.max_context_len", d.Knowledge.MaxContextLen)
}

// Load reads file (DefaultFile when empty) and the environment into a
// validated Config. A missing DefaultFile is fine; a missing explicit file
// is not.
func Load(file string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := file != ""
	if !explicit {
		file = DefaultFile
	}
	v.SetConfigFile(file)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)) {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &cfg, nil
}
