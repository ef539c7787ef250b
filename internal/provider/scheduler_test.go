package provider

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingProvider struct {
	*Base
	refreshes int32
}

func newCountingProvider(id ID) *countingProvider {
	return &countingProvider{Base: NewBase(id, string(id))}
}

func (c *countingProvider) Refresh(ctx context.Context) {
	atomic.AddInt32(&c.refreshes, 1)
}

func TestSchedulerManualOnlyRunsInitialKick(t *testing.T) {
	p := newCountingProvider(Codex)
	reg := NewRegistry(p)
	sched := NewScheduler(reg, Manual)

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	sched.Stop()
	cancel()

	assert.EqualValues(t, 1, atomic.LoadInt32(&p.refreshes))
}

func TestSchedulerRefreshAllHitsEveryProvider(t *testing.T) {
	p1 := newCountingProvider(Codex)
	p2 := newCountingProvider(Claude)
	reg := NewRegistry(p1, p2)
	sched := NewScheduler(reg, Manual)

	sched.RefreshAll(context.Background())

	assert.EqualValues(t, 1, atomic.LoadInt32(&p1.refreshes))
	assert.EqualValues(t, 1, atomic.LoadInt32(&p2.refreshes))
}

func TestSchedulerStopIsIdempotentWithoutStart(t *testing.T) {
	reg := NewRegistry(newCountingProvider(Gemini))
	sched := NewScheduler(reg, Manual)
	assert.NotPanics(t, func() { sched.Stop() })
}
