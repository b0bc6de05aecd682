// Package watch repeats uploads on a fixed interval for `drey upload --every`.
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/drey/pkg/publisher"
	"github.com/dyluth/drey/pkg/upload"
)

// UploadFunc runs one upload cycle.
type UploadFunc func(ctx context.Context) (*publisher.Summary, error)

// Run uploads immediately and then every interval until ctx is done, which
// is not an error. Transient upload failures are reported to onResult and the
// loop carries on; any other error stops it.
func Run(ctx context.Context, interval time.Duration, fn UploadFunc, onResult func(*publisher.Summary, error)) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", interval)
	}
	if onResult == nil {
		onResult = func(*publisher.Summary, error) {}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		summary, err := fn(ctx)
		if ctx.Err() != nil {
			return nil
		}
		onResult(summary, err)
		if err != nil && !upload.IsTransient(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
