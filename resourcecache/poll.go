package resourcecache

import (
	"context"
	"time"
)

// DefaultPollInterval matches the chat refresh cadence.
const DefaultPollInterval = 5 * time.Second

// Refetcher is anything that can be asked to refetch, such as a Subscription.
type Refetcher interface {
	Refetch(ctx context.Context) <-chan struct{}
}

// Poll calls r.Refetch every interval until ctx is done. Overlapping refetches
// collapse into the one in flight, so a slow backend never stacks requests.
func Poll(ctx context.Context, r Refetcher, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refetch(ctx)
		}
	}
}
