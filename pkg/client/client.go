// Package client is the entry point applications use: it validates events,
// adds client-side metadata, queues them in an eventstore.Store and uploads
// them through a publisher.
//
// A Client is an ordinary value. Create as many as needed, each with its own
// store and configuration.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dyluth/drey/pkg/eventstore"
	"github.com/dyluth/drey/pkg/publisher"
	"github.com/dyluth/drey/pkg/transport"
	"github.com/dyluth/drey/pkg/validate"
)

// DefaultBaseURL is the collection service used when Config.BaseURL is empty.
const DefaultBaseURL = "https://api.keen.io"

var (
	// ErrInactive is returned while the client is switched off with SetActive.
	ErrInactive = errors.New("client is inactive")
	// ErrMissingProject is returned by New when Config.ProjectID is empty.
	ErrMissingProject = errors.New("project id is required")
)

// Config is the full client configuration.
type Config struct {
	ProjectID string
	WriteKey  string
	BaseURL   string

	Workers     int           // upload pool size, see publisher.Config
	MaxAttempts int           // see publisher.Config
	Timeout     time.Duration // per request; 0 means the transport default

	// GlobalProperties are merged into every event. Properties set on the
	// event itself win.
	GlobalProperties map[string]any
}

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the HTTP transport, mostly for tests.
func WithTransport(t transport.Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// EventOption customizes a single queued or sent event.
type EventOption func(*eventOptions)

type eventOptions struct {
	timestamp time.Time
	callback  *publisher.Callback
}

// WithTimestamp sets keen.timestamp instead of the current time.
func WithTimestamp(ts time.Time) EventOption {
	return func(o *eventOptions) { o.timestamp = ts }
}

// WithCallback is notified once the queued event is accepted or given up on.
func WithCallback(cb publisher.Callback) EventOption {
	return func(o *eventOptions) { o.callback = &cb }
}

// Client queues and sends events for one project.
type Client struct {
	cfg       Config
	transport transport.Transport
	publisher *publisher.Publisher
	logger    *slog.Logger
	now       func() time.Time
	active    atomic.Bool
}

// New creates a Client over store. The caller keeps ownership of store and
// closes it after Client.Close.
func New(cfg Config, store eventstore.Store, opts ...Option) (*Client, error) {
	if cfg.ProjectID == "" {
		return nil, ErrMissingProject
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	c := &Client{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = transport.New(cfg.BaseURL, transport.WithTimeout(cfg.Timeout))
	}

	c.publisher = publisher.New(store, c.transport, publisher.Config{
		ProjectID:   cfg.ProjectID,
		WriteKey:    cfg.WriteKey,
		Workers:     cfg.Workers,
		MaxAttempts: cfg.MaxAttempts,
	}, publisher.WithLogger(c.logger))
	c.logger = c.logger.With("component", "client", "project", cfg.ProjectID)
	c.active.Store(true)

	return c, nil
}

// SetActive switches the client on or off. An inactive client refuses to
// queue, send or upload.
func (c *Client) SetActive(active bool) {
	c.active.Store(active)
}

// IsActive reports whether the client accepts work.
func (c *Client) IsActive() bool {
	return c.active.Load()
}

// QueueEvent validates event, adds global properties and keen.timestamp, and
// stores it for the next upload. The caller's map is not modified.
func (c *Client) QueueEvent(ctx context.Context, collection string, event map[string]any, opts ...EventOption) (eventstore.Handle, error) {
	if !c.IsActive() {
		return "", ErrInactive
	}

	o := c.eventOptions(opts)
	body, err := c.prepare(collection, event, o)
	if err != nil {
		return "", err
	}

	h, err := c.publisher.Queue(ctx, collection, body, o.callback)
	if err != nil {
		return "", fmt.Errorf("failed to queue event in %s: %w", collection, err)
	}

	c.logger.Debug("queued event", "collection", collection, "handle", h)
	return h, nil
}

// AddEvent sends one event immediately, bypassing the queue. A non-2xx reply
// is returned as a *transport.StatusError.
func (c *Client) AddEvent(ctx context.Context, collection string, event map[string]any, opts ...EventOption) error {
	if !c.IsActive() {
		return ErrInactive
	}

	body, err := c.prepare(collection, event, c.eventOptions(opts))
	if err != nil {
		return err
	}
	data, err := eventstore.EncodeEvent(body)
	if err != nil {
		return err
	}

	resp, err := c.transport.Execute(ctx, &transport.Request{
		Path:       transport.CollectionPath(c.cfg.ProjectID, collection),
		Credential: c.cfg.WriteKey,
		Body:       data,
	})
	if err != nil {
		return fmt.Errorf("failed to send event to %s: %w", collection, err)
	}
	if !resp.Success() {
		return transport.NewStatusError(resp)
	}
	return nil
}

// SendQueuedEvents starts an upload and returns; see publisher.Upload.
func (c *Client) SendQueuedEvents(ctx context.Context, onComplete func(*publisher.Summary, error)) {
	if !c.IsActive() {
		if onComplete != nil {
			onComplete(nil, ErrInactive)
		}
		return
	}
	c.publisher.Upload(ctx, onComplete)
}

// SendQueuedEventsSync uploads in the calling goroutine.
func (c *Client) SendQueuedEventsSync(ctx context.Context) (*publisher.Summary, error) {
	if !c.IsActive() {
		return nil, ErrInactive
	}
	return c.publisher.UploadSync(ctx)
}

// Close waits for running uploads and stops the upload pool.
func (c *Client) Close() {
	c.publisher.Close()
}

func (c *Client) eventOptions(opts []EventOption) eventOptions {
	var o eventOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.timestamp.IsZero() {
		o.timestamp = c.now()
	}
	return o
}

// prepare validates the event and returns the body that is actually stored
// or sent: global properties underneath, the event on top, keen metadata last.
func (c *Client) prepare(collection string, event map[string]any, o eventOptions) (eventstore.Event, error) {
	if err := validate.Collection(collection); err != nil {
		return nil, err
	}
	if err := validate.Event(event); err != nil {
		return nil, err
	}

	body := make(eventstore.Event, len(c.cfg.GlobalProperties)+len(event)+1)
	for k, v := range c.cfg.GlobalProperties {
		body[k] = v
	}
	for k, v := range event {
		body[k] = v
	}
	if err := validate.Event(body); err != nil {
		return nil, fmt.Errorf("global properties: %w", err)
	}

	body[validate.ReservedKey] = map[string]any{
		"timestamp": o.timestamp.UTC().Format(time.RFC3339Nano),
	}
	return body, nil
}

// String is used in log lines.
func (c *Client) String() string {
	return fmt.Sprintf("client(project=%s)", c.cfg.ProjectID)
}
