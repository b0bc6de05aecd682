package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dyluth/drey/pkg/eventstore"
	"github.com/dyluth/drey/pkg/publisher"
	"github.com/dyluth/drey/pkg/transport"
	"github.com/dyluth/drey/pkg/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2024, 5, 1, 12, 30, 0, 123000000, time.UTC)

// fakeCollector is a minimal collection service.
type fakeCollector struct {
	mu       sync.Mutex
	batches  []map[string][]map[string]any
	singles  map[string][]map[string]any
	auth     []string
	rejectCh string // single-event collection answered with 400
}

func (f *fakeCollector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))

	rest, ok := strings.CutPrefix(r.URL.Path, "/3.0/projects/p1/events")
	if !ok || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	if rest == "" {
		var batch map[string][]map[string]any
		if err := sonic.ConfigStd.Unmarshal(body, &batch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.batches = append(f.batches, batch)

		out := make(map[string][]map[string]any, len(batch))
		for collection, events := range batch {
			for range events {
				out[collection] = append(out[collection], map[string]any{"success": true})
			}
		}
		data, _ := sonic.ConfigStd.Marshal(out)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
		return
	}

	collection := strings.TrimPrefix(rest, "/")
	if collection == f.rejectCh {
		http.Error(w, `{"error_code":"InvalidCollectionNameError"}`, http.StatusBadRequest)
		return
	}
	var event map[string]any
	if err := sonic.ConfigStd.Unmarshal(body, &event); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if f.singles == nil {
		f.singles = make(map[string][]map[string]any)
	}
	f.singles[collection] = append(f.singles[collection], event)
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(`{"created":true}`))
}

func setupTestClient(t *testing.T, cfg Config) (*Client, *eventstore.MemoryStore, *fakeCollector) {
	t.Helper()
	store := eventstore.NewMemoryStore()
	c, collector := setupTestClientWithStore(t, cfg, store)
	return c, store, collector
}

func setupTestClientWithStore(t *testing.T, cfg Config, store eventstore.Store) (*Client, *fakeCollector) {
	t.Helper()

	collector := &fakeCollector{rejectCh: "rejected"}
	server := httptest.NewServer(collector)
	t.Cleanup(server.Close)

	if cfg.ProjectID == "" {
		cfg.ProjectID = "p1"
	}
	if cfg.WriteKey == "" {
		cfg.WriteKey = "write-key"
	}
	cfg.BaseURL = server.URL

	c, err := New(cfg, store, WithClock(func() time.Time { return fixedTime }))
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return c, collector
}

func TestNewRequiresProject(t *testing.T) {
	_, err := New(Config{}, eventstore.NewMemoryStore())
	assert.ErrorIs(t, err, ErrMissingProject)

	_, err = New(Config{ProjectID: "p"}, nil)
	assert.Error(t, err)
}

func TestQueueAndUpload(t *testing.T) {
	c, store, collector := setupTestClient(t, Config{
		GlobalProperties: map[string]any{"app": "shop", "env": "test"},
	})
	ctx := context.Background()

	event := map[string]any{"item": "hat", "env": "prod"}
	h, err := c.QueueEvent(ctx, "purchases", event)
	require.NoError(t, err)

	// the caller's map is untouched
	assert.Equal(t, map[string]any{"item": "hat", "env": "prod"}, event)

	stored, ok := store.Get(ctx, h)
	require.True(t, ok)
	assert.Equal(t, eventstore.Event{
		"item": "hat",
		"env":  "prod",
		"app":  "shop",
		"keen": map[string]any{"timestamp": "2024-05-01T12:30:00.123Z"},
	}, stored)

	summary, err := c.SendQueuedEventsSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Accepted)
	assert.Zero(t, store.Len("purchases"))

	collector.mu.Lock()
	defer collector.mu.Unlock()
	require.Len(t, collector.batches, 1)
	assert.Equal(t, "hat", collector.batches[0]["purchases"][0]["item"])
	assert.Equal(t, []string{"write-key"}, collector.auth)
}

func TestQueueEventWithTimestampAndCallback(t *testing.T) {
	c, store, _ := setupTestClient(t, Config{})
	ctx := context.Background()

	done := make(chan struct{})
	ts := time.Date(2020, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))
	h, err := c.QueueEvent(ctx, "signups", map[string]any{"plan": "pro"},
		WithTimestamp(ts),
		WithCallback(publisher.Callback{OnSuccess: func() { close(done) }}),
	)
	require.NoError(t, err)

	stored, ok := store.Get(ctx, h)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"timestamp": "2020-01-02T02:04:05Z"}, stored["keen"])

	c.SendQueuedEvents(ctx, nil)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("callback never fired")
	}
}

// slowStore parks Store after the event is written, until release closes.
type slowStore struct {
	base    eventstore.Store
	stored  chan struct{}
	release chan struct{}
}

func (s *slowStore) Store(ctx context.Context, collection string, event eventstore.Event) (eventstore.Handle, error) {
	h, err := s.base.Store(ctx, collection, event)
	close(s.stored)
	<-s.release
	return h, err
}

func (s *slowStore) Get(ctx context.Context, h eventstore.Handle) (eventstore.Event, bool) {
	return s.base.Get(ctx, h)
}

func (s *slowStore) Remove(ctx context.Context, h eventstore.Handle) error {
	return s.base.Remove(ctx, h)
}

func (s *slowStore) Handles(ctx context.Context) (map[string][]eventstore.Handle, error) {
	return s.base.Handles(ctx)
}

func TestCallbackRegisteredBeforeUploadSeesEvent(t *testing.T) {
	store := &slowStore{
		base:    eventstore.NewMemoryStore(),
		stored:  make(chan struct{}),
		release: make(chan struct{}),
	}
	c, _ := setupTestClientWithStore(t, Config{}, store)
	ctx := context.Background()

	var mu sync.Mutex
	successes := 0
	queued := make(chan error, 1)
	go func() {
		_, err := c.QueueEvent(ctx, "signups", map[string]any{"plan": "pro"},
			WithCallback(publisher.Callback{OnSuccess: func() {
				mu.Lock()
				successes++
				mu.Unlock()
			}}))
		queued <- err
	}()
	<-store.stored

	type result struct {
		summary *publisher.Summary
		err     error
	}
	uploaded := make(chan result, 1)
	go func() {
		summary, err := c.SendQueuedEventsSync(ctx)
		uploaded <- result{summary, err}
	}()

	// the event is on disk but its callback is not registered yet
	select {
	case <-uploaded:
		t.Fatal("upload snapshotted an event whose callback was still being registered")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	require.NoError(t, <-queued)
	res := <-uploaded
	require.NoError(t, res.err)
	assert.Equal(t, 1, res.summary.Accepted)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, successes)
	assert.Zero(t, c.publisher.Pending())
}

func TestQueueEventRejectsInvalidInput(t *testing.T) {
	c, store, _ := setupTestClient(t, Config{})
	ctx := context.Background()

	tests := []struct {
		name       string
		collection string
		event      map[string]any
	}{
		{name: "dollar collection", collection: "$bad", event: map[string]any{"a": 1}},
		{name: "reserved key", collection: "ok", event: map[string]any{"keen": map[string]any{}}},
		{name: "dotted key", collection: "ok", event: map[string]any{"a.b": 1}},
		{name: "nil event", collection: "ok", event: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.QueueEvent(ctx, tt.collection, tt.event)
			var ie *validate.InputError
			require.ErrorAs(t, err, &ie)
		})
	}

	handles, err := store.Handles(ctx)
	require.NoError(t, err)
	assert.Empty(t, handles)
}

func TestGlobalPropertiesAreValidated(t *testing.T) {
	c, _, _ := setupTestClient(t, Config{GlobalProperties: map[string]any{"bad.key": 1}})

	_, err := c.QueueEvent(context.Background(), "clicks", map[string]any{"n": 1})
	var ie *validate.InputError
	require.ErrorAs(t, err, &ie)
	assert.Contains(t, err.Error(), "global properties")
}

func TestAddEvent(t *testing.T) {
	c, store, collector := setupTestClient(t, Config{})
	ctx := context.Background()

	require.NoError(t, c.AddEvent(ctx, "views", map[string]any{"page": "/home"}))

	err := c.AddEvent(ctx, "rejected", map[string]any{"page": "/home"})
	var se *transport.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Contains(t, se.Body, "InvalidCollectionNameError")

	collector.mu.Lock()
	defer collector.mu.Unlock()
	require.Len(t, collector.singles["views"], 1)
	assert.Equal(t, "/home", collector.singles["views"][0]["page"])
	assert.Equal(t, map[string]any{"timestamp": "2024-05-01T12:30:00.123Z"}, collector.singles["views"][0]["keen"])

	// nothing is queued by AddEvent
	assert.Zero(t, store.Len("views"))
}

func TestAddEventTransportError(t *testing.T) {
	store := eventstore.NewMemoryStore()
	c, err := New(Config{ProjectID: "p1"}, store, WithTransport(transport.Func(
		func(context.Context, *transport.Request) (*transport.Response, error) {
			return nil, errors.New("dial tcp: connection refused")
		})))
	require.NoError(t, err)
	defer c.Close()

	err = c.AddEvent(context.Background(), "views", map[string]any{"page": "/"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestInactiveClient(t *testing.T) {
	c, store, _ := setupTestClient(t, Config{})
	ctx := context.Background()

	_, err := c.QueueEvent(ctx, "clicks", map[string]any{"n": 1})
	require.NoError(t, err)

	c.SetActive(false)
	assert.False(t, c.IsActive())

	_, err = c.QueueEvent(ctx, "clicks", map[string]any{"n": 2})
	assert.ErrorIs(t, err, ErrInactive)
	assert.ErrorIs(t, c.AddEvent(ctx, "clicks", map[string]any{"n": 2}), ErrInactive)
	_, err = c.SendQueuedEventsSync(ctx)
	assert.ErrorIs(t, err, ErrInactive)

	var asyncErr error
	c.SendQueuedEvents(ctx, func(_ *publisher.Summary, err error) { asyncErr = err })
	assert.ErrorIs(t, asyncErr, ErrInactive)

	assert.Equal(t, 1, store.Len("clicks"))

	c.SetActive(true)
	summary, err := c.SendQueuedEventsSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Accepted)
}
