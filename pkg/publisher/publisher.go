// Package publisher runs upload cycles: snapshot the queue, send one batch,
// reconcile the outcome, and notify per-event callbacks.
//
// Cycles run on a bounded worker pool. Callers may keep queueing events while
// a cycle is in flight; anything stored after a cycle took its snapshot simply
// waits for the next one. Concurrent cycles are not serialized.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dyluth/drey/pkg/eventstore"
	"github.com/dyluth/drey/pkg/transport"
	"github.com/dyluth/drey/pkg/upload"
)

const (
	DefaultWorkers     = 2
	DefaultMaxAttempts = 3
	DefaultQueueSize   = 16
)

// ErrClosed is reported to Upload callers after Close.
var ErrClosed = errors.New("publisher is closed")

// Config controls a Publisher.
type Config struct {
	ProjectID string
	WriteKey  string

	// Workers is the size of the upload pool. Default: 2.
	Workers int

	// MaxAttempts is how many cycles an event may be sent in before it is
	// dropped. Zero means DefaultMaxAttempts; negative disables the limit.
	MaxAttempts int

	// QueueSize bounds cycles waiting for a worker. Default: 16.
	QueueSize int
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
}

// Summary counts what one cycle did.
type Summary struct {
	Attempted  int // events sent
	Accepted   int
	Rejected   int // permanently invalid, dropped
	Failed     int // per-event error, kept for retry
	Unresolved int // no verdict, kept for retry
	Skipped    int // gone before the batch was built
	Expired    int // dropped for exceeding MaxAttempts
}

func (s *Summary) String() string {
	return fmt.Sprintf("attempted=%d accepted=%d rejected=%d failed=%d unresolved=%d skipped=%d expired=%d",
		s.Attempted, s.Accepted, s.Rejected, s.Failed, s.Unresolved, s.Skipped, s.Expired)
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

type job struct {
	ctx        context.Context
	snapshot   map[string][]eventstore.Handle
	onComplete func(*Summary, error)
}

// Publisher uploads queued events.
type Publisher struct {
	cfg        Config
	store      eventstore.Store
	attempts   eventstore.AttemptStore
	transport  transport.Transport
	reconciler *upload.Reconciler
	callbacks  *registry
	logger     *slog.Logger

	countsMu sync.Mutex

	// queueMu is held shared by Queue across store and register, and
	// exclusively by snapshot, so no cycle sees a handle before its callback.
	queueMu sync.RWMutex

	jobs     chan job
	wg       sync.WaitGroup
	closedMu sync.RWMutex
	closed   bool
}

// New creates a Publisher and starts its workers. Attempt markers are kept in
// store when it implements eventstore.AttemptStore, and in memory otherwise.
func New(store eventstore.Store, tr transport.Transport, cfg Config, opts ...Option) *Publisher {
	cfg.applyDefaults()

	p := &Publisher{
		cfg:       cfg,
		store:     store,
		attempts:  eventstore.AsAttemptStore(store),
		transport: tr,
		callbacks: newRegistry(),
		logger:    slog.Default(),
		jobs:      make(chan job, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "publisher")
	p.reconciler = upload.NewReconciler(store, upload.WithLogger(p.logger))

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Register attaches cb to h. It fires exactly once, when h is accepted,
// rejected, dropped, or caught in a failed cycle. Registering again before
// then replaces the earlier callback.
func (p *Publisher) Register(h eventstore.Handle, cb Callback) {
	p.callbacks.add(h, cb)
}

// Queue stores event and, when cb is non-nil, registers it for the new
// handle before any cycle can snapshot that handle.
func (p *Publisher) Queue(ctx context.Context, collection string, event eventstore.Event, cb *Callback) (eventstore.Handle, error) {
	p.queueMu.RLock()
	defer p.queueMu.RUnlock()

	h, err := p.store.Store(ctx, collection, event)
	if err != nil {
		return "", err
	}
	if cb != nil {
		p.callbacks.add(h, *cb)
	}
	return h, nil
}

// Pending returns the number of callbacks still waiting for an outcome.
func (p *Publisher) Pending() int {
	return p.callbacks.len()
}

// Upload starts one cycle and returns without waiting for it. onComplete, if
// non-nil, receives the cycle's summary and, when the whole cycle failed, a
// *upload.TransientUploadError. With nothing queued onComplete is called
// before Upload returns.
func (p *Publisher) Upload(ctx context.Context, onComplete func(*Summary, error)) {
	if onComplete == nil {
		onComplete = func(*Summary, error) {}
	}

	p.closedMu.RLock()
	summary, queued, err := p.enqueue(ctx, onComplete)
	p.closedMu.RUnlock()

	if !queued {
		onComplete(summary, err)
	}
}

// enqueue hands a cycle to the pool. When it returns false the caller reports
// summary and err itself; callbacks never run under closedMu.
func (p *Publisher) enqueue(ctx context.Context, onComplete func(*Summary, error)) (*Summary, bool, error) {
	if p.closed {
		return nil, false, ErrClosed
	}

	snapshot, err := p.snapshot(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(snapshot) == 0 {
		return &Summary{}, false, nil
	}

	select {
	case p.jobs <- job{ctx: ctx, snapshot: snapshot, onComplete: onComplete}:
		return nil, true, nil
	case <-ctx.Done():
		p.callbacks.release(snapshot)
		return nil, false, ctx.Err()
	}
}

// UploadSync runs one cycle in the calling goroutine. The error is the
// cycle's *upload.TransientUploadError, or a storage error from the snapshot.
func (p *Publisher) UploadSync(ctx context.Context) (*Summary, error) {
	p.closedMu.RLock()
	closed := p.closed
	p.closedMu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	snapshot, err := p.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if len(snapshot) == 0 {
		return &Summary{}, nil
	}
	return p.cycle(ctx, snapshot)
}

// Close stops accepting uploads and waits for queued and in-flight cycles.
func (p *Publisher) Close() {
	p.closedMu.Lock()
	if p.closed {
		p.closedMu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.closedMu.Unlock()

	p.wg.Wait()
}

func (p *Publisher) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		summary, err := p.cycle(j.ctx, j.snapshot)
		j.onComplete(summary, err)
	}
}

// snapshot lists the queue and claims its handles for one cycle; the caller
// must pass a non-empty result to cycle or release it.
func (p *Publisher) snapshot(ctx context.Context) (map[string][]eventstore.Handle, error) {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()

	handles, err := p.store.Handles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued events: %w", err)
	}
	for collection, hs := range handles {
		if len(hs) == 0 {
			delete(handles, collection)
		}
	}
	if dropped := p.callbacks.retain(handles); dropped > 0 {
		p.logger.Debug("dropped callbacks of evicted events", "count", dropped)
	}
	p.callbacks.claim(handles)
	return handles, nil
}

// cycle runs one build → send → apply round over snapshot.
func (p *Publisher) cycle(ctx context.Context, snapshot map[string][]eventstore.Handle) (*Summary, error) {
	defer p.callbacks.release(snapshot)
	summary := &Summary{}

	admitted, expired := p.admit(ctx, snapshot)
	summary.Expired = expired

	batch := p.reconciler.BuildBatch(ctx, admitted)
	summary.Skipped = len(batch.Skipped)
	for _, h := range batch.Skipped {
		p.callbacks.fail(h, "event was no longer queued")
	}
	if batch.Empty() {
		return summary, nil
	}
	summary.Attempted = batch.Len()

	resp, err := p.send(ctx, batch)
	res := p.reconciler.ApplyResult(ctx, batch, resp, err)

	collectionOf := make(map[eventstore.Handle]string, batch.Len())
	for h, outcome := range res.Outcomes {
		collectionOf[h] = outcome.Collection
		switch outcome.Kind {
		case upload.Accepted:
			summary.Accepted++
			p.callbacks.succeed(h)
		case upload.Rejected:
			summary.Rejected++
			p.callbacks.fail(h, outcome.Err.Error())
		case upload.Failed:
			summary.Failed++
			p.callbacks.fail(h, outcome.Err.Error())
		case upload.Unresolved:
			summary.Unresolved++
			p.callbacks.fail(h, outcome.Err.Error())
		}
	}
	p.prune(ctx, res.Removed, collectionOf)

	p.logger.Debug("upload cycle finished", "summary", summary.String())
	return summary, res.Err
}

func (p *Publisher) send(ctx context.Context, batch *upload.Batch) (*transport.Response, error) {
	body, err := batch.Body()
	if err != nil {
		return nil, err
	}
	return p.transport.Execute(ctx, &transport.Request{
		Path:       transport.EventsPath(p.cfg.ProjectID),
		Credential: p.cfg.WriteKey,
		Body:       body,
	})
}
