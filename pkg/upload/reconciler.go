// Package upload maps the queue's handles to a wire batch and maps the
// collection service's per-event verdicts back onto the queue.
//
// The service answers a batch with one outcome list per collection, in the
// order the events were submitted. The Reconciler keeps the exact handle list
// it used for each collection so that outcome i of collection c resolves
// handle i of that list, even if the store changed while the request was in
// flight.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dyluth/drey/pkg/eventstore"
	"github.com/dyluth/drey/pkg/transport"
)

// OutcomeKind classifies what happened to one handle in a cycle.
type OutcomeKind int

const (
	// Accepted: the service stored the event; the handle was removed.
	Accepted OutcomeKind = iota
	// Rejected: the event can never be accepted; the handle was removed.
	Rejected
	// Failed: the service reported a per-event error that may clear up; the
	// handle was kept.
	Failed
	// Unresolved: the cycle or the collection produced no usable verdict;
	// the handle was kept.
	Unresolved
)

func (k OutcomeKind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	case Unresolved:
		return "unresolved"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the verdict for one handle.
type Outcome struct {
	Kind       OutcomeKind
	Collection string
	Err        error // nil for Accepted
}

// Resolution summarizes ApplyResult.
type Resolution struct {
	Removed  []eventstore.Handle
	Retained []eventstore.Handle
	Outcomes map[eventstore.Handle]Outcome

	// MalformedCollections lists collections whose outcome list was missing
	// or did not match the submitted events.
	MalformedCollections []string

	// Err is a *TransientUploadError when the whole cycle failed.
	Err error
}

// Counts returns how many handles ended in each outcome kind.
func (r *Resolution) Counts() map[OutcomeKind]int {
	counts := make(map[OutcomeKind]int, 4)
	for _, o := range r.Outcomes {
		counts[o.Kind]++
	}
	return counts
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// Reconciler bridges the handle-oriented store and the wire format.
type Reconciler struct {
	store  eventstore.Store
	logger *slog.Logger
}

// NewReconciler creates a Reconciler over store.
func NewReconciler(store eventstore.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "reconciler")
	return r
}

// BuildBatch reads every handle's event. Handles that no longer resolve (a
// concurrent remove or eviction) are left out and listed in Batch.Skipped.
func (r *Reconciler) BuildBatch(ctx context.Context, handles map[string][]eventstore.Handle) *Batch {
	batch := &Batch{
		Handles: make(map[string][]eventstore.Handle, len(handles)),
		Events:  make(map[string][]eventstore.Event, len(handles)),
	}

	for collection, hs := range handles {
		for _, h := range hs {
			event, ok := r.store.Get(ctx, h)
			if !ok {
				batch.Skipped = append(batch.Skipped, h)
				continue
			}
			batch.Handles[collection] = append(batch.Handles[collection], h)
			batch.Events[collection] = append(batch.Events[collection], event)
		}
	}

	if len(batch.Skipped) > 0 {
		r.logger.Debug("skipped vanished handles", "count", len(batch.Skipped))
	}
	return batch
}

// ApplyResult interprets the transport result for batch and removes every
// handle whose fate is settled: accepted events and events the service
// rejected as permanently invalid. Everything else stays queued.
//
// err is the transport error, if any. ApplyResult never fails; problems are
// reported in the returned Resolution.
func (r *Reconciler) ApplyResult(ctx context.Context, batch *Batch, resp *transport.Response, err error) *Resolution {
	res := &Resolution{
		Outcomes: make(map[eventstore.Handle]Outcome, batch.Len()),
	}

	if transientErr := classifyResponse(resp, err); transientErr != nil {
		r.retainAll(res, batch, transientErr)
		res.Err = transientErr
		r.logger.Warn("upload cycle failed, keeping all events", "events", batch.Len(), "error", transientErr)
		return res
	}

	raw, parseErr := parseResponse(resp.Body)
	if parseErr != nil {
		transientErr := &TransientUploadError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unparsable response: %w", parseErr),
		}
		r.retainAll(res, batch, transientErr)
		res.Err = transientErr
		r.logger.Warn("upload cycle failed, keeping all events", "events", batch.Len(), "error", transientErr)
		return res
	}

	for _, collection := range batch.Collections() {
		handles := batch.Handles[collection]

		results, ok := parseCollection(raw[collection])
		if !ok || len(results) != len(handles) {
			res.MalformedCollections = append(res.MalformedCollections, collection)
			malformed := fmt.Errorf("%w %q", errMalformedCollection, collection)
			for _, h := range handles {
				r.retain(res, h, Outcome{Kind: Unresolved, Collection: collection, Err: malformed})
			}
			r.logger.Warn("malformed outcome, keeping collection", "collection", collection,
				"submitted", len(handles), "returned", len(results))
			continue
		}

		for i, h := range handles {
			result := results[i]
			switch {
			case result.Success:
				r.remove(ctx, res, h, Outcome{Kind: Accepted, Collection: collection})

			case IsPermanentErrorName(result.Name):
				r.remove(ctx, res, h, Outcome{Kind: Rejected, Collection: collection, Err: &EventError{
					Collection:  collection,
					Name:        result.Name,
					Description: result.Description,
					Permanent:   true,
				}})

			default:
				r.retain(res, h, Outcome{Kind: Failed, Collection: collection, Err: &EventError{
					Collection:  collection,
					Name:        result.Name,
					Description: result.Description,
				}})
			}
		}
	}

	return res
}

// classifyResponse returns a *TransientUploadError unless resp is a 2xx
// response that may carry per-event outcomes.
func classifyResponse(resp *transport.Response, err error) *TransientUploadError {
	if err != nil {
		return &TransientUploadError{Err: err}
	}
	if resp == nil {
		return &TransientUploadError{Err: errors.New("no response")}
	}
	if !resp.Success() {
		statusErr := transport.NewStatusError(resp)
		return &TransientUploadError{StatusCode: statusErr.StatusCode, Body: statusErr.Body}
	}
	return nil
}

func (r *Reconciler) retainAll(res *Resolution, batch *Batch, err error) {
	for _, collection := range batch.Collections() {
		for _, h := range batch.Handles[collection] {
			r.retain(res, h, Outcome{Kind: Unresolved, Collection: collection, Err: err})
		}
	}
}

func (r *Reconciler) retain(res *Resolution, h eventstore.Handle, o Outcome) {
	res.Retained = append(res.Retained, h)
	res.Outcomes[h] = o
}

// remove deletes a settled handle. If the delete fails the verdict stands but
// the handle stays queued and will be sent again next cycle.
func (r *Reconciler) remove(ctx context.Context, res *Resolution, h eventstore.Handle, o Outcome) {
	res.Outcomes[h] = o
	if err := r.store.Remove(ctx, h); err != nil {
		r.logger.Warn("failed to remove settled event", "handle", h, "outcome", o.Kind.String(), "error", err)
		res.Retained = append(res.Retained, h)
		return
	}
	res.Removed = append(res.Removed, h)
}
