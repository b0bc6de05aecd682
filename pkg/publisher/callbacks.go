package publisher

import (
	"sync"

	"github.com/dyluth/drey/pkg/eventstore"
)

// Callback is notified once when the fate of one queued event is known.
// Either field may be nil.
type Callback struct {
	OnSuccess func()
	OnFailure func(reason string)
}

// registry holds pending callbacks. take removes the entry it returns, which
// is what makes each callback fire at most once even when two cycles race
// over the same handle.
type registry struct {
	mu      sync.Mutex
	pending map[eventstore.Handle]Callback
	// inflight counts the running cycles whose snapshot holds a handle.
	inflight map[eventstore.Handle]int
}

func newRegistry() *registry {
	return &registry{
		pending:  make(map[eventstore.Handle]Callback),
		inflight: make(map[eventstore.Handle]int),
	}
}

func (r *registry) add(h eventstore.Handle, cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[h] = cb
}

func (r *registry) take(h eventstore.Handle) (Callback, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.pending[h]
	if ok {
		delete(r.pending, h)
	}
	return cb, ok
}

// retain silently drops callbacks for handles that are neither live nor
// held by a running cycle, i.e. events the store evicted.
func (r *registry) retain(live map[string][]eventstore.Handle) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return 0
	}

	seen := make(map[eventstore.Handle]struct{})
	for _, hs := range live {
		for _, h := range hs {
			seen[h] = struct{}{}
		}
	}
	dropped := 0
	for h := range r.pending {
		if _, ok := seen[h]; ok || r.inflight[h] > 0 {
			continue
		}
		delete(r.pending, h)
		dropped++
	}
	return dropped
}

func (r *registry) claim(snapshot map[string][]eventstore.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, hs := range snapshot {
		for _, h := range hs {
			r.inflight[h]++
		}
	}
}

func (r *registry) release(snapshot map[string][]eventstore.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, hs := range snapshot {
		for _, h := range hs {
			if r.inflight[h] <= 1 {
				delete(r.inflight, h)
			} else {
				r.inflight[h]--
			}
		}
	}
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *registry) succeed(h eventstore.Handle) {
	if cb, ok := r.take(h); ok && cb.OnSuccess != nil {
		cb.OnSuccess()
	}
}

func (r *registry) fail(h eventstore.Handle, reason string) {
	if cb, ok := r.take(h); ok && cb.OnFailure != nil {
		cb.OnFailure(reason)
	}
}
