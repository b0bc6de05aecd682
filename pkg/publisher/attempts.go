package publisher

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/dyluth/drey/pkg/eventstore"
)

// ReasonMaxAttempts is the failure reason given to events dropped because
// they were sent MaxAttempts times without a verdict.
const ReasonMaxAttempts = "max attempts exceeded"

// attemptCounts maps a handle to the number of cycles it has been sent in.
// It is stored as the collection's opaque attempt marker.
type attemptCounts map[eventstore.Handle]int

func (p *Publisher) loadCounts(ctx context.Context, collection string) attemptCounts {
	counts := make(attemptCounts)
	marker, ok, err := p.attempts.GetAttempts(ctx, p.cfg.ProjectID, collection)
	if err != nil {
		p.logger.Warn("failed to read attempt marker", "collection", collection, "error", err)
		return counts
	}
	if !ok || marker == "" {
		return counts
	}
	if err := sonic.ConfigStd.UnmarshalFromString(marker, &counts); err != nil {
		p.logger.Warn("ignoring unreadable attempt marker", "collection", collection, "error", err)
		return make(attemptCounts)
	}
	return counts
}

func (p *Publisher) saveCounts(ctx context.Context, collection string, counts attemptCounts) {
	marker, err := sonic.ConfigStd.MarshalToString(counts)
	if err != nil {
		p.logger.Warn("failed to encode attempt marker", "collection", collection, "error", err)
		return
	}
	if err := p.attempts.SetAttempts(ctx, p.cfg.ProjectID, collection, marker); err != nil {
		p.logger.Warn("failed to save attempt marker", "collection", collection, "error", err)
	}
}

// admit applies the attempt limit to a snapshot. Handles that already used up
// their attempts are removed from the store and failed; the rest have their
// count bumped for the cycle about to run and are returned.
func (p *Publisher) admit(ctx context.Context, snapshot map[string][]eventstore.Handle) (map[string][]eventstore.Handle, int) {
	if p.cfg.MaxAttempts < 0 {
		return snapshot, 0
	}

	p.countsMu.Lock()
	defer p.countsMu.Unlock()

	admitted := make(map[string][]eventstore.Handle, len(snapshot))
	expired := 0
	for collection, handles := range snapshot {
		counts := p.loadCounts(ctx, collection)
		live := make(map[eventstore.Handle]bool, len(handles))

		for _, h := range handles {
			live[h] = true
			if counts[h] >= p.cfg.MaxAttempts {
				if err := p.store.Remove(ctx, h); err != nil {
					p.logger.Warn("failed to drop exhausted event", "handle", h, "error", err)
					continue
				}
				delete(counts, h)
				p.callbacks.fail(h, ReasonMaxAttempts)
				expired++
				continue
			}
			counts[h]++
			admitted[collection] = append(admitted[collection], h)
		}

		// forget counts for handles that left the queue some other way
		for h := range counts {
			if !live[h] {
				delete(counts, h)
			}
		}
		p.saveCounts(ctx, collection, counts)
	}

	if expired > 0 {
		p.logger.Info("dropped events that exceeded max attempts", "count", expired, "max_attempts", p.cfg.MaxAttempts)
	}
	return admitted, expired
}

// prune forgets the counts of handles that left the queue during a cycle.
func (p *Publisher) prune(ctx context.Context, removed []eventstore.Handle, collectionOf map[eventstore.Handle]string) {
	if p.cfg.MaxAttempts < 0 || len(removed) == 0 {
		return
	}

	p.countsMu.Lock()
	defer p.countsMu.Unlock()

	byCollection := make(map[string][]eventstore.Handle)
	for _, h := range removed {
		c := collectionOf[h]
		byCollection[c] = append(byCollection[c], h)
	}
	for collection, handles := range byCollection {
		counts := p.loadCounts(ctx, collection)
		for _, h := range handles {
			delete(counts, h)
		}
		p.saveCounts(ctx, collection, counts)
	}
}
