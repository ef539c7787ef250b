package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUsageLimitPercent(t *testing.T) {
	cases := []struct {
		name string
		in   UsageLimit
		want float64
	}{
		{"normal", UsageLimit{Used: 42, Total: 100}, 42},
		{"zero total", UsageLimit{Used: 5, Total: 0}, 0},
		{"negative total", UsageLimit{Used: 5, Total: -10}, 0},
		{"over 100 not clamped", UsageLimit{Used: 150, Total: 100}, 150},
		{"negative used not clamped", UsageLimit{Used: -5, Total: 100}, -5},
		{"fractional total", UsageLimit{Used: 1, Total: 4}, 25},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.in.Percent(), c.name)
	}
}

func TestUsageSnapshotEmpty(t *testing.T) {
	assert.True(t, UsageSnapshot{}.Empty())
	assert.False(t, UsageSnapshot{Limits: []UsageLimit{{Label: "Session"}}, Timestamp: time.Now()}.Empty())
}
