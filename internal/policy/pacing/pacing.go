// Package pacing enforces the minimum spacing between consecutive requests
// to the same source.
package pacing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/civicdata/fiscalharvest/internal/harvest"
)

// DefaultInterval spaces requests to sources the pacer was not seeded with.
const DefaultInterval = time.Second

// Pacer manages per-source token buckets. Discovery and download share one
// pacer so the interval covers every request a source receives.
type Pacer struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	intervals map[string]time.Duration
}

// New seeds a pacer with the intervals declared by the given sources.
func New(sources []harvest.SourceDescriptor) *Pacer {
	intervals := make(map[string]time.Duration, len(sources))
	for _, desc := range sources {
		intervals[desc.ID] = desc.MinRequestInterval
	}
	return &Pacer{
		limiters:  make(map[string]*rate.Limiter, len(sources)),
		intervals: intervals,
	}
}

// Wait blocks until the source may issue its next request, respecting the
// context.
func (p *Pacer) Wait(ctx context.Context, sourceID string) error {
	p.mu.Lock()
	limiter, ok := p.limiters[sourceID]
	if !ok {
		interval, seeded := p.intervals[sourceID]
		if !seeded || interval <= 0 {
			interval = DefaultInterval
		}
		limiter = rate.NewLimiter(rate.Every(interval), 1)
		p.limiters[sourceID] = limiter
	}
	p.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing wait for %s: %w", sourceID, err)
	}
	return nil
}
