package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/drey/pkg/eventstore"
	"github.com/dyluth/drey/pkg/eventstore/pebblestore"
	"github.com/dyluth/drey/pkg/eventstore/redisstore"
	"github.com/dyluth/drey/pkg/eventstore/sqlitestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func intPtr(v int) *int { return &v }

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
project:
  id: "p1"
  write_key: "from-file"
  base_url: "http://localhost:9999"
store:
  kind: sqlite
  path: /tmp/queue.db
  max_events: 500
  forget: 10
publisher:
  workers: 4
  max_attempts: 5
  timeout: 5s
log:
  level: debug
  format: json
global_properties:
  app: shop
  build:
    number: 12
`)

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "1.0", config.Version)
	assert.Equal(t, ProjectConfig{ID: "p1", WriteKey: "from-file", BaseURL: "http://localhost:9999"}, config.Project)
	assert.Equal(t, StoreSQLite, config.Store.Kind)
	assert.Equal(t, 500, *config.Store.MaxEvents)
	assert.Equal(t, 10, *config.Store.Forget)
	assert.Equal(t, 4, config.Publisher.Workers)
	assert.Equal(t, 5*time.Second, config.Publisher.TimeoutDuration())
	assert.Equal(t, "debug", config.Log.Level)
	assert.Equal(t, "shop", config.GlobalProperties["app"])
	assert.Equal(t, map[string]any{"number": 12}, config.GlobalProperties["build"])

	cc := config.ClientConfig()
	assert.Equal(t, "p1", cc.ProjectID)
	assert.Equal(t, "from-file", cc.WriteKey)
	assert.Equal(t, 5, cc.MaxAttempts)
	assert.Equal(t, 5*time.Second, cc.Timeout)
}

func TestLoad_MinimalConfigGetsDefaults(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
project:
  id: "p1"
`)

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StoreFile, config.Store.Kind)
	assert.Equal(t, ".drey/queue", config.Store.Path)
	assert.Equal(t, eventstore.MaxEventsPerCollection, *config.Store.MaxEvents)
	assert.Equal(t, eventstore.NumberEventsToForget, *config.Store.Forget)
	assert.Equal(t, 3, *config.Publisher.MaxAttempts)
	assert.Equal(t, time.Duration(0), config.Publisher.TimeoutDuration())
	assert.Equal(t, "info", config.Log.Level)
	assert.Equal(t, "text", config.Log.Format)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvWriteKey, "from-env")
	t.Setenv(EnvProjectID, "env-project")

	path := writeConfig(t, `version: "1.0"
project:
  write_key: "from-file"
`)

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-project", config.Project.ID)
	assert.Equal(t, "from-env", config.Project.WriteKey)
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/drey.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
project:
  - this is invalid
    yaml syntax
`)

	config, err := Load(path)
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  DreyConfig
		wantErr string
	}{
		{
			name:    "unsupported version",
			config:  DreyConfig{Version: "2.0", Project: ProjectConfig{ID: "p"}},
			wantErr: "unsupported version: 2.0",
		},
		{
			name:    "missing project",
			config:  DreyConfig{Version: "1.0"},
			wantErr: "project.id is required",
		},
		{
			name:    "unknown store kind",
			config:  DreyConfig{Version: "1.0", Project: ProjectConfig{ID: "p"}, Store: &StoreConfig{Kind: "s3"}},
			wantErr: "invalid kind: s3",
		},
		{
			name:    "zero max events",
			config:  DreyConfig{Version: "1.0", Project: ProjectConfig{ID: "p"}, Store: &StoreConfig{MaxEvents: intPtr(0)}},
			wantErr: "store.max_events must be >= 1",
		},
		{
			name:    "forget larger than cap",
			config:  DreyConfig{Version: "1.0", Project: ProjectConfig{ID: "p"}, Store: &StoreConfig{MaxEvents: intPtr(10), Forget: intPtr(11)}},
			wantErr: "store.forget must be between 1 and max_events",
		},
		{
			name:    "negative workers",
			config:  DreyConfig{Version: "1.0", Project: ProjectConfig{ID: "p"}, Publisher: &PublisherConfig{Workers: -1}},
			wantErr: "publisher.workers must be >= 0",
		},
		{
			name:    "negative max attempts",
			config:  DreyConfig{Version: "1.0", Project: ProjectConfig{ID: "p"}, Publisher: &PublisherConfig{MaxAttempts: intPtr(-2)}},
			wantErr: "publisher.max_attempts must be >= 0",
		},
		{
			name:    "bad timeout",
			config:  DreyConfig{Version: "1.0", Project: ProjectConfig{ID: "p"}, Publisher: &PublisherConfig{Timeout: "soon"}},
			wantErr: "publisher.timeout",
		},
		{
			name:    "negative timeout",
			config:  DreyConfig{Version: "1.0", Project: ProjectConfig{ID: "p"}, Publisher: &PublisherConfig{Timeout: "-1s"}},
			wantErr: "publisher.timeout must be positive",
		},
		{
			name:    "bad log format",
			config:  DreyConfig{Version: "1.0", Project: ProjectConfig{ID: "p"}, Log: &LogConfig{Format: "xml"}},
			wantErr: "log.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_RedisDefaults(t *testing.T) {
	config := DreyConfig{Version: "1.0", Project: ProjectConfig{ID: "p"}, Store: &StoreConfig{Kind: StoreRedis}}
	require.NoError(t, config.Validate())
	assert.Equal(t, "localhost:6379", config.Store.RedisAddr)
	assert.Equal(t, "default", config.Store.Namespace)
}

func TestClientConfig_UnlimitedAttempts(t *testing.T) {
	config := DreyConfig{Version: "1.0", Project: ProjectConfig{ID: "p"}, Publisher: &PublisherConfig{MaxAttempts: intPtr(0)}}
	require.NoError(t, config.Validate())
	assert.Equal(t, -1, config.ClientConfig().MaxAttempts)
}

func TestDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, Default("my-project").Write(path))

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "my-project", config.Project.ID)
	assert.Equal(t, StoreFile, config.Store.Kind)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	mr := miniredis.RunT(t)

	tests := []struct {
		name  string
		store StoreConfig
		check func(t *testing.T, s eventstore.Store)
	}{
		{
			name:  "memory",
			store: StoreConfig{Kind: StoreMemory},
			check: func(t *testing.T, s eventstore.Store) { assert.IsType(t, &eventstore.MemoryStore{}, s) },
		},
		{
			name:  "file",
			store: StoreConfig{Kind: StoreFile, Path: filepath.Join(dir, "files")},
			check: func(t *testing.T, s eventstore.Store) { assert.IsType(t, &eventstore.FileStore{}, s) },
		},
		{
			name:  "sqlite",
			store: StoreConfig{Kind: StoreSQLite, Path: filepath.Join(dir, "nested", "queue.db")},
			check: func(t *testing.T, s eventstore.Store) { assert.IsType(t, &sqlitestore.Store{}, s) },
		},
		{
			name:  "pebble",
			store: StoreConfig{Kind: StorePebble, Path: filepath.Join(dir, "pebble")},
			check: func(t *testing.T, s eventstore.Store) { assert.IsType(t, &pebblestore.Store{}, s) },
		},
		{
			name:  "redis",
			store: StoreConfig{Kind: StoreRedis, RedisAddr: mr.Addr(), Namespace: "cfg"},
			check: func(t *testing.T, s eventstore.Store) { assert.IsType(t, &redisstore.Store{}, s) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := tt.store
			sc.MaxEvents, sc.Forget = intPtr(2), intPtr(1)
			config := DreyConfig{Version: "1.0", Project: ProjectConfig{ID: "p"}, Store: &sc}
			require.NoError(t, config.Validate())

			store, closeFn, err := config.OpenStore(ctx, nil)
			require.NoError(t, err)
			defer func() { assert.NoError(t, closeFn()) }()
			tt.check(t, store)

			// the configured capacity reaches the store
			for i := 0; i < 3; i++ {
				_, err := store.Store(ctx, "clicks", eventstore.Event{"n": float64(i)})
				require.NoError(t, err)
			}
			handles, err := store.Handles(ctx)
			require.NoError(t, err)
			assert.Len(t, handles["clicks"], 2)
		})
	}
}

func TestOpenStore_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	config := DreyConfig{Version: "1.0", Project: ProjectConfig{ID: "p"}, Store: &StoreConfig{Kind: StoreRedis, RedisAddr: addr}}
	require.NoError(t, config.Validate())

	_, closeFn, err := config.OpenStore(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
	assert.NotNil(t, closeFn)
}
