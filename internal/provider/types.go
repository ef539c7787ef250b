// Package provider defines the uniform Provider contract shared by every
// vendor-specific usage-acquisition engine (Codex, Claude, Gemini,
// Antigravity), plus the registry and scheduler that drive them.
package provider

import "time"

// ID identifies one of the supported AI-assistant vendors.
type ID string

const (
	Codex       ID = "codex"
	Claude      ID = "claude"
	Gemini      ID = "gemini"
	Antigravity ID = "antigravity"
)

// State is the coarse health of a Provider's last refresh attempt.
type State string

const (
	// StateActive means the last refresh succeeded; the snapshot is trustworthy.
	StateActive State = "active"
	// StateError means the last refresh failed; the snapshot may be stale.
	StateError State = "error"
	// StateStale is reserved for explicit invalidation outside the refresh cycle.
	StateStale State = "stale"
)

// UsageLimit is one quota window (session, weekly, or per-model).
type UsageLimit struct {
	Label             string
	Used              float64
	Total             float64
	Unit              string
	ResetDescription  string
}

// Percent returns the usage percentage for this limit: 0 when Total is
// non-positive, otherwise Used/Total*100. It is not clamped; clamping for
// display is a render-time concern, not this type's.
func (l UsageLimit) Percent() float64 {
	if l.Total <= 0 {
		return 0
	}
	return l.Used / l.Total * 100
}

// UsageSnapshot is the rendered-ready result of one refresh: an ordered,
// provider-defined sequence of quota windows plus the time it was acquired.
type UsageSnapshot struct {
	Limits    []UsageLimit
	Timestamp time.Time
}

// Empty reports whether the snapshot carries no usage windows yet.
func (s UsageSnapshot) Empty() bool {
	return len(s.Limits) == 0
}
