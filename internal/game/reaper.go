package game

import (
	"context"
	"log"
	"time"
)

// Reaper periodically sweeps the registry for stale and terminal sessions.
// It owns its cancellation: Start launches the loop and Stop shuts it down
// deterministically, so shutdown never leaves a dangling timer.
type Reaper struct {
	registry *Registry
	interval time.Duration
	ttl      time.Duration
	onEvict  func(ev Eviction)
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewReaper creates a reaper that sweeps every interval and evicts sessions
// older than ttl (started sessions are evicted at the first sweep regardless
// of age).
func NewReaper(registry *Registry, interval, ttl time.Duration) *Reaper {
	return &Reaper{
		registry: registry,
		interval: interval,
		ttl:      ttl,
		done:     make(chan struct{}),
	}
}

// SetOnEvict registers a callback invoked once per evicted game, after the
// code has been removed from the registry. Used to publish lifecycle events
// and clear presence for the evicted connections; it must not call back into
// the reaper.
func (rp *Reaper) SetOnEvict(fn func(ev Eviction)) {
	rp.onEvict = fn
}

// Start launches the sweep loop in a background goroutine.
func (rp *Reaper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	rp.cancel = cancel

	go func() {
		defer close(rp.done)

		ticker := time.NewTicker(rp.interval)
		defer ticker.Stop()

		log.Printf("[reaper] started interval=%s ttl=%s", rp.interval, rp.ttl)
		for {
			select {
			case <-ctx.Done():
				log.Printf("[reaper] stopped")
				return
			case <-ticker.C:
				rp.sweep()
			}
		}
	}()
}

// Stop cancels the sweep loop and waits for it to exit.
func (rp *Reaper) Stop() {
	if rp.cancel == nil {
		return
	}
	rp.cancel()
	<-rp.done
}

func (rp *Reaper) sweep() {
	evicted := rp.registry.EvictStale(rp.ttl)
	if len(evicted) == 0 {
		return
	}
	log.Printf("[reaper] sweep evicted %d game(s)", len(evicted))
	if rp.onEvict != nil {
		for _, ev := range evicted {
			rp.onEvict(ev)
		}
	}
}
