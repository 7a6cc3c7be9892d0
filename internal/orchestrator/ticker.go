package orchestrator

import (
	"context"
	"time"
)

// Ticker calls fn every interval until ctx is done. tick counts from 1.
// It blocks; run it in its own goroutine next to the work it reports on.
func Ticker(ctx context.Context, interval time.Duration, fn func(tick int)) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(tick)
		}
	}
}
