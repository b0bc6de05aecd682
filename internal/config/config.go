package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dyluth/drey/pkg/client"
	"github.com/dyluth/drey/pkg/eventstore"
	"github.com/dyluth/drey/pkg/eventstore/pebblestore"
	"github.com/dyluth/drey/pkg/eventstore/redisstore"
	"github.com/dyluth/drey/pkg/eventstore/sqlitestore"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file name looked up in the working directory.
const DefaultFile = "drey.yml"

// Environment variables that override the file, so keys stay out of it.
const (
	EnvWriteKey  = "DREY_WRITE_KEY"
	EnvProjectID = "DREY_PROJECT_ID"
)

// Store kinds
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
	StorePebble = "pebble"
)

// DreyConfig represents the top-level drey.yml configuration
type DreyConfig struct {
	Version          string           `yaml:"version"`
	Project          ProjectConfig    `yaml:"project"`
	Store            *StoreConfig     `yaml:"store,omitempty"`
	Publisher        *PublisherConfig `yaml:"publisher,omitempty"`
	Log              *LogConfig       `yaml:"log,omitempty"`
	GlobalProperties map[string]any   `yaml:"global_properties,omitempty"`
}

// ProjectConfig identifies the collection service project.
type ProjectConfig struct {
	ID       string `yaml:"id"`
	WriteKey string `yaml:"write_key,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
}

// StoreConfig selects where queued events live.
type StoreConfig struct {
	Kind      string `yaml:"kind"`                 // memory, file, redis, sqlite or pebble
	Path      string `yaml:"path,omitempty"`       // file, sqlite, pebble
	RedisAddr string `yaml:"redis_addr,omitempty"` // redis
	Namespace string `yaml:"namespace,omitempty"`  // redis
	MaxEvents *int   `yaml:"max_events,omitempty"` // per collection, default 10000
	Forget    *int   `yaml:"forget,omitempty"`     // evicted when full, default 100
}

// PublisherConfig tunes uploads.
type PublisherConfig struct {
	Workers     int    `yaml:"workers,omitempty"`
	MaxAttempts *int   `yaml:"max_attempts,omitempty"` // 0 = unlimited, default = 3
	Timeout     string `yaml:"timeout,omitempty"`      // Go duration, default 30s
}

// LogConfig controls CLI logging.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // text or json
}

// Default returns the configuration written by `drey init`.
func Default(projectID string) *DreyConfig {
	c := &DreyConfig{
		Version: "1.0",
		Project: ProjectConfig{ID: projectID},
	}
	// defaults cannot fail validation apart from the project id
	_ = c.Validate()
	return c
}

// Validate performs strict validation on the configuration and fills in
// defaults for omitted sections.
func (c *DreyConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Store == nil {
		c.Store = &StoreConfig{}
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}

	if c.Publisher == nil {
		c.Publisher = &PublisherConfig{}
	}
	if err := c.Publisher.Validate(); err != nil {
		return err
	}

	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format: invalid format: %s (must be 'text' or 'json')", c.Log.Format)
	}

	// Required: project id (checked last so Default can fill everything else)
	if c.Project.ID == "" {
		return fmt.Errorf("project.id is required (or set %s)", EnvProjectID)
	}

	return nil
}

// Validate checks the store section and applies its defaults.
func (s *StoreConfig) Validate() error {
	if s.Kind == "" {
		s.Kind = StoreFile
	}

	switch s.Kind {
	case StoreMemory:
	case StoreFile:
		if s.Path == "" {
			s.Path = ".drey/queue"
		}
	case StoreSQLite:
		if s.Path == "" {
			s.Path = ".drey/queue.db"
		}
	case StorePebble:
		if s.Path == "" {
			s.Path = ".drey/pebble"
		}
	case StoreRedis:
		if s.RedisAddr == "" {
			s.RedisAddr = "localhost:6379"
		}
		if s.Namespace == "" {
			s.Namespace = "default"
		}
	default:
		return fmt.Errorf("store.kind: invalid kind: %s (must be 'memory', 'file', 'redis', 'sqlite' or 'pebble')", s.Kind)
	}

	if s.MaxEvents == nil {
		v := eventstore.MaxEventsPerCollection
		s.MaxEvents = &v
	}
	if s.Forget == nil {
		v := eventstore.NumberEventsToForget
		s.Forget = &v
	}
	if *s.MaxEvents < 1 {
		return fmt.Errorf("store.max_events must be >= 1, got %d", *s.MaxEvents)
	}
	if *s.Forget < 1 || *s.Forget > *s.MaxEvents {
		return fmt.Errorf("store.forget must be between 1 and max_events (%d), got %d", *s.MaxEvents, *s.Forget)
	}

	return nil
}

// Validate checks the publisher section and applies its defaults.
func (p *PublisherConfig) Validate() error {
	if p.Workers < 0 {
		return fmt.Errorf("publisher.workers must be >= 0, got %d", p.Workers)
	}
	if p.MaxAttempts == nil {
		v := 3
		p.MaxAttempts = &v
	}
	if *p.MaxAttempts < 0 {
		return fmt.Errorf("publisher.max_attempts must be >= 0 (0 = unlimited), got %d", *p.MaxAttempts)
	}
	if p.Timeout != "" {
		d, err := time.ParseDuration(p.Timeout)
		if err != nil {
			return fmt.Errorf("publisher.timeout: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("publisher.timeout must be positive, got %s", p.Timeout)
		}
	}
	return nil
}

// TimeoutDuration returns the parsed timeout, or 0 for the transport default.
func (p *PublisherConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(p.Timeout)
	return d
}

// Load reads drey.yml from the specified path, applies environment overrides
// and validates the result.
func Load(path string) (*DreyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config DreyConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *DreyConfig) applyEnv() {
	if v := os.Getenv(EnvWriteKey); v != "" {
		c.Project.WriteKey = v
	}
	if v := os.Getenv(EnvProjectID); v != "" {
		c.Project.ID = v
	}
}

// ClientConfig maps the file onto client.Config. Call after Validate.
func (c *DreyConfig) ClientConfig() client.Config {
	maxAttempts := *c.Publisher.MaxAttempts
	if maxAttempts == 0 {
		// unlimited in the file, disabled in the publisher
		maxAttempts = -1
	}
	return client.Config{
		ProjectID:        c.Project.ID,
		WriteKey:         c.Project.WriteKey,
		BaseURL:          c.Project.BaseURL,
		Workers:          c.Publisher.Workers,
		MaxAttempts:      maxAttempts,
		Timeout:          c.Publisher.TimeoutDuration(),
		GlobalProperties: c.GlobalProperties,
	}
}

// OpenStore builds the configured store. The returned close function
// releases it and is never nil.
func (c *DreyConfig) OpenStore(ctx context.Context, logger *slog.Logger) (eventstore.Store, func() error, error) {
	s := c.Store
	opts := []eventstore.Option{
		eventstore.WithCapacity(*s.MaxEvents, *s.Forget),
		eventstore.WithLogger(logger),
	}
	noop := func() error { return nil }

	if s.Kind == StoreSQLite || s.Kind == StorePebble {
		if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
			return nil, noop, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	switch s.Kind {
	case StoreMemory:
		return eventstore.NewMemoryStore(opts...), noop, nil

	case StoreFile:
		store, err := eventstore.NewFileStore(s.Path, opts...)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil

	case StoreSQLite:
		store, err := sqlitestore.Open(s.Path, opts...)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil

	case StorePebble:
		store, err := pebblestore.Open(pebblestore.Config{Dir: s.Path}, opts...)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil

	case StoreRedis:
		store, err := redisstore.New(&redis.Options{Addr: s.RedisAddr}, s.Namespace, opts...)
		if err != nil {
			return nil, noop, err
		}
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, noop, fmt.Errorf("redis at %s is not reachable: %w", s.RedisAddr, err)
		}
		return store, store.Close, nil
	}

	return nil, noop, fmt.Errorf("unknown store kind %q", s.Kind)
}

// Write saves the configuration as YAML.
func (c *DreyConfig) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
