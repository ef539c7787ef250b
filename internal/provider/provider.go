package provider

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Provider is the uniform contract every vendor-specific usage-acquisition
// engine implements. Refresh never blocks the caller; observers subscribe
// to change notifications instead of polling.
type Provider interface {
	ID() ID
	Name() string
	State() State
	Snapshot() UsageSnapshot

	// Refresh starts (or ignores, if one is already running) an
	// asynchronous acquisition cycle.
	Refresh(ctx context.Context)

	// Subscribe registers fn to be called after every snapshot or state
	// change. It returns an unsubscribe function.
	Subscribe(fn func()) (unsubscribe func())
}

// Base provides the shared bookkeeping (state, snapshot, change
// notification, re-entrant refresh guard) every concrete Provider embeds,
// the way the original Provider base class centralized it for all vendor
// strategies. Concrete providers call Base.Refresh with the strategy's own
// acquisition func and never mutate state directly from outside it.
type Base struct {
	id   ID
	name string

	mu       sync.Mutex
	state    State
	snapshot UsageSnapshot
	running  bool

	listenersMu sync.Mutex
	listeners   map[int]func()
	nextListen  int
}

// NewBase constructs the shared provider state for a concrete provider.
func NewBase(id ID, name string) *Base {
	return &Base{
		id:        id,
		name:      name,
		state:     StateError,
		listeners: make(map[int]func()),
	}
}

func (b *Base) ID() ID     { return b.id }
func (b *Base) Name() string { return b.name }

func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Base) Snapshot() UsageSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot
}

// Subscribe registers fn for change notification; see Provider.Subscribe.
func (b *Base) Subscribe(fn func()) func() {
	b.listenersMu.Lock()
	id := b.nextListen
	b.nextListen++
	b.listeners[id] = fn
	b.listenersMu.Unlock()

	return func() {
		b.listenersMu.Lock()
		delete(b.listeners, id)
		b.listenersMu.Unlock()
	}
}

func (b *Base) emit() {
	b.listenersMu.Lock()
	fns := make([]func(), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.listenersMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// SetSnapshot stores a new snapshot with a timestamp strictly greater than
// the previous one, sets state Active, and emits a change notification.
// The previous snapshot is never silently widened or reordered by this
// call; the caller owns ordering of Limits.
func (b *Base) SetSnapshot(snap UsageSnapshot) {
	b.mu.Lock()
	if !snap.Timestamp.After(b.snapshot.Timestamp) {
		snap.Timestamp = time.Now()
		if !snap.Timestamp.After(b.snapshot.Timestamp) {
			snap.Timestamp = b.snapshot.Timestamp.Add(time.Nanosecond)
		}
	}
	b.snapshot = snap
	b.state = StateActive
	b.mu.Unlock()
	b.emit()
}

// SetError marks the provider Error while retaining the previous snapshot
// and emits a change notification.
func (b *Base) SetError() {
	b.mu.Lock()
	b.state = StateError
	b.mu.Unlock()
	b.emit()
}

// TryStartRefresh reports whether the caller won the right to run a
// refresh cycle; a second call while one is in flight returns false so
// overlapping refreshes are a no-op rather than stacking up.
func (b *Base) TryStartRefresh() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return false
	}
	b.running = true
	return true
}

// FinishRefresh releases the re-entrancy guard acquired by TryStartRefresh.
func (b *Base) FinishRefresh() {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
}

// Logger returns a logrus entry pre-tagged with this provider's identity,
// using structured per-component fields rather than bare fmt output.
func (b *Base) Logger() *log.Entry {
	return log.WithField("provider", string(b.id))
}
