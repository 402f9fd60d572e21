// Package config loads voxflow configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all settings for the API server and the worker, grouped by
// concern. Everything is overridable through VOXFLOW_* environment
// variables (nested keys joined by underscores, e.g.
// VOXFLOW_WORKER_MAX_ATTEMPTS).
type Config struct {
	LogLevel string
	Broker   BrokerConfig
	Results  ResultsConfig
	HTTP     HTTPConfig
	Worker   WorkerConfig
	Poll     PollConfig
	Audit    AuditConfig
	Engines  EngineConfig
}

// BrokerConfig points at the Redis instance carrying the task queues.
type BrokerConfig struct {
	RedisAddr string
	RedisDB   int
	Password  string
}

// ResultsConfig points at the result backend. It may be the same Redis
// instance as the broker.
type ResultsConfig struct {
	RedisAddr string
	RedisDB   int
	Password  string
	TTL       time.Duration
}

type HTTPConfig struct {
	Addr string
}

// WorkerConfig tunes the stage pools and retry policy.
type WorkerConfig struct {
	STTConcurrency   int
	LLMConcurrency   int
	TTSConcurrency   int
	MaxAttempts      int
	RetryInitialWait time.Duration
	RetryMaxWait     time.Duration
	TaskTimeout      time.Duration
}

// PollConfig is the client-side backoff policy. MaxPolls 0 polls unboundedly.
type PollConfig struct {
	InitialWait time.Duration
	MaxWait     time.Duration
	MaxPolls    int
}

// AuditConfig selects the audit database and the audio blob directory.
// Driver is "sqlite" or "pgx"; DSN is passed to database/sql verbatim.
type AuditConfig struct {
	Driver   string
	DSN      string
	AudioDir string
}

// EngineConfig points at the external inference endpoints, one per stage.
type EngineConfig struct {
	STTURL string
	LLMURL string
	TTSURL string
}

// Load reads defaults and VOXFLOW_* environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VOXFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_level", "info")
	v.SetDefault("broker.redis_addr", "localhost:6379")
	v.SetDefault("broker.redis_db", 0)
	v.SetDefault("broker.password", "")
	v.SetDefault("results.redis_addr", "localhost:6379")
	v.SetDefault("results.redis_db", 0)
	v.SetDefault("results.password", "")
	v.SetDefault("results.ttl", 24*time.Hour)
	v.SetDefault("http.addr", ":8502")
	v.SetDefault("worker.stt_concurrency", 4)
	v.SetDefault("worker.llm_concurrency", 4)
	v.SetDefault("worker.tts_concurrency", 4)
	v.SetDefault("worker.max_attempts", 5)
	v.SetDefault("worker.retry_initial_wait", 2*time.Second)
	v.SetDefault("worker.retry_max_wait", 30*time.Second)
	v.SetDefault("worker.task_timeout", 2*time.Minute)
	v.SetDefault("poll.initial_wait", 2*time.Second)
	v.SetDefault("poll.max_wait", 10*time.Second)
	v.SetDefault("poll.max_polls", 0)
	v.SetDefault("audit.driver", "sqlite")
	v.SetDefault("audit.dsn", "file:voxflow_audit.db")
	v.SetDefault("audit.audio_dir", "audio")
	v.SetDefault("engines.stt_url", "http://localhost:9001/transcribe")
	v.SetDefault("engines.llm_url", "http://localhost:9002/chat")
	v.SetDefault("engines.tts_url", "http://localhost:9003/synthesize")

	cfg := &Config{
		LogLevel: v.GetString("log_level"),
		Broker: BrokerConfig{
			RedisAddr: v.GetString("broker.redis_addr"),
			RedisDB:   v.GetInt("broker.redis_db"),
			Password:  v.GetString("broker.password"),
		},
		Results: ResultsConfig{
			RedisAddr: v.GetString("results.redis_addr"),
			RedisDB:   v.GetInt("results.redis_db"),
			Password:  v.GetString("results.password"),
			TTL:       v.GetDuration("results.ttl"),
		},
		HTTP: HTTPConfig{
			Addr: v.GetString("http.addr"),
		},
		Worker: WorkerConfig{
			STTConcurrency:   v.GetInt("worker.stt_concurrency"),
			LLMConcurrency:   v.GetInt("worker.llm_concurrency"),
			TTSConcurrency:   v.GetInt("worker.tts_concurrency"),
			MaxAttempts:      v.GetInt("worker.max_attempts"),
			RetryInitialWait: v.GetDuration("worker.retry_initial_wait"),
			RetryMaxWait:     v.GetDuration("worker.retry_max_wait"),
			TaskTimeout:      v.GetDuration("worker.task_timeout"),
		},
		Poll: PollConfig{
			InitialWait: v.GetDuration("poll.initial_wait"),
			MaxWait:     v.GetDuration("poll.max_wait"),
			MaxPolls:    v.GetInt("poll.max_polls"),
		},
		Audit: AuditConfig{
			Driver:   v.GetString("audit.driver"),
			DSN:      v.GetString("audit.dsn"),
			AudioDir: v.GetString("audit.audio_dir"),
		},
		Engines: EngineConfig{
			STTURL: v.GetString("engines.stt_url"),
			LLMURL: v.GetString("engines.llm_url"),
			TTSURL: v.GetString("engines.tts_url"),
		},
	}
	if cfg.Worker.MaxAttempts < 1 {
		return nil, fmt.Errorf("worker.max_attempts must be at least 1, got %d", cfg.Worker.MaxAttempts)
	}
	return cfg, nil
}

// NewLogger builds the JSON logger used by both binaries and installs it as
// the slog default.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}
