package provider

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Interval is the scheduler's configured tick cadence.
type Interval time.Duration

// Manual disables the periodic tick; only explicit refresh calls fire.
const Manual Interval = 0

const (
	Interval60s  Interval = Interval(60 * time.Second)
	Interval180s Interval = Interval(180 * time.Second)
	Interval300s Interval = Interval(300 * time.Second)
	Interval900s Interval = Interval(900 * time.Second)
)

// Scheduler drives every provider in a Registry on a single periodic tick,
// plus a zero-delay initial kick at Start. It is the only owner of the
// ticker; providers have no notion of scheduling.
type Scheduler struct {
	registry *Registry

	mu       sync.Mutex
	interval Interval
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewScheduler builds a scheduler over registry with the given initial
// interval (Manual disables the tick).
func NewScheduler(registry *Registry, interval Interval) *Scheduler {
	return &Scheduler{registry: registry, interval: interval}
}

// Start fires the initial kick and, unless the interval is Manual, begins
// the periodic tick. Calling Start while already running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done
	interval := s.interval
	s.mu.Unlock()

	go s.run(runCtx, interval, done)
}

// Stop halts the periodic tick. Refresh calls already in flight are not
// cancelled; providers own their own refresh lifecycle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SetInterval changes the tick cadence. It takes effect on the next tick;
// switching to or from Manual restarts the underlying ticker.
func (s *Scheduler) SetInterval(ctx context.Context, interval Interval) {
	s.mu.Lock()
	s.interval = interval
	running := s.cancel != nil
	s.mu.Unlock()
	if running {
		s.Stop()
		s.Start(ctx)
	}
}

// RefreshAll invokes Refresh on every registered provider. It is what the
// user-triggered "Refresh All" action calls directly, independent of the
// scheduler's own tick.
func (s *Scheduler) RefreshAll(ctx context.Context) {
	for _, p := range s.registry.Providers() {
		p.Refresh(ctx)
	}
}

func (s *Scheduler) run(ctx context.Context, interval Interval, done chan struct{}) {
	defer close(done)

	log.Debug("scheduler: initial kick")
	s.RefreshAll(ctx)

	if interval == Manual {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(time.Duration(interval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			current := s.interval
			s.mu.Unlock()
			if current != interval {
				// Interval changed underneath us; let SetInterval's
				// restart take over on the next Start.
				return
			}
			log.Debug("scheduler: tick")
			s.RefreshAll(ctx)
		}
	}
}
