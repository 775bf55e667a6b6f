package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/cadence/broadcast"
	"github.com/xraph/cadence/queue"
)

// daemonConfig holds the process-level settings of cadenced. The node
// settings (cadence.Config) live at the top level of the same file and
// are read by cadence.LoadConfig.
type daemonConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// ClusterStore selects the lease and node registry backend: "redis"
	// or "postgres".
	ClusterStore string `yaml:"cluster_store"`

	Redis struct {
		Addr         string        `yaml:"addr"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		Codec        string        `yaml:"codec"`
		StreamMaxLen int64         `yaml:"stream_max_len"`
		ClaimTTL     time.Duration `yaml:"claim_ttl"`
	} `yaml:"redis"`

	Postgres struct {
		DSN     string `yaml:"dsn"`
		Migrate bool   `yaml:"migrate"`
	} `yaml:"postgres"`

	HTTP struct {
		Addr              string        `yaml:"addr"`
		ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	} `yaml:"http"`

	Executor struct {
		Endpoints []string      `yaml:"endpoints"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"executor"`

	Throttle []queue.Config `yaml:"throttle"`

	// Audit logs every lifecycle hook as an audit record.
	Audit bool `yaml:"audit"`
}

func defaultDaemonConfig() daemonConfig {
	var c daemonConfig
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.ClusterStore = "redis"
	c.Redis.Addr = "localhost:6379"
	c.Redis.Codec = broadcast.CodecNameMsgpack
	c.Redis.StreamMaxLen = 100_000
	c.Redis.ClaimTTL = time.Hour
	c.Postgres.DSN = "postgres://localhost:5432/cadence?sslmode=disable"
	c.Postgres.Migrate = true
	c.HTTP.Addr = ":8080"
	c.HTTP.ReadHeaderTimeout = 5 * time.Second
	c.Executor.Timeout = 10 * time.Second
	return c
}

func loadDaemonConfig(path string) (daemonConfig, error) {
	cfg := defaultDaemonConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	switch cfg.ClusterStore {
	case "redis", "postgres":
	default:
		return cfg, fmt.Errorf("config %s: cluster_store must be redis or postgres, got %q", path, cfg.ClusterStore)
	}
	return cfg, nil
}

func newLogger(cfg daemonConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
