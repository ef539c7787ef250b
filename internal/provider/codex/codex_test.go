package codex

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/rursache/KDECodexBar/internal/provider"
)

func TestParseWindowMapsFields(t *testing.T) {
	win := gjson.Parse(`{"usedPercent":42.5,"resetDescription":"resets in 3h"}`)
	limit := parseWindow("Session", win)

	assert.Equal(t, "Session", limit.Label)
	assert.Equal(t, 42.5, limit.Used)
	assert.Equal(t, 100.0, limit.Total)
	assert.Equal(t, "%", limit.Unit)
	assert.Equal(t, "resets in 3h", limit.ResetDescription)
}

func TestParseWindowMissingWindowReturnsLabelOnly(t *testing.T) {
	limit := parseWindow("Weekly", gjson.Result{})
	assert.Equal(t, provider.UsageLimit{Label: "Weekly"}, limit)
}

func TestNewSetsHandshakeFields(t *testing.T) {
	p := New("codexbar-go", "1.0.0")
	assert.Equal(t, "codexbar-go", p.clientName)
	assert.Equal(t, "1.0.0", p.clientVersion)
	assert.Equal(t, "codex", p.command)
}

// fakeCodexScript writes an executable shell script speaking just enough
// of the initialize/initialized/rateLimits handshake over newline-delimited
// JSON-RPC to exercise the full refresh path end-to-end.
func fakeCodexScript(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("jq"); err != nil {
		t.Skip("jq not available to drive the fake codex script")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "codex")
	script := `#!/bin/sh
while IFS= read -r line; do
  id=$(printf '%s' "$line" | jq -r '.id // empty')
  method=$(printf '%s' "$line" | jq -r '.method // empty')
  if [ "$method" = "initialize" ]; then
    printf '{"id":%s,"result":{}}\n' "$id"
  elif [ "$method" = "account/rateLimits/read" ]; then
    printf '{"id":%s,"result":{"rateLimits":{"primary":{"usedPercent":55,"resetDescription":"resets in 2h"},"secondary":{"usedPercent":10,"resetDescription":"resets in 5d"}}}}\n' "$id"
  fi
done
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestRefreshEndToEndParsesRateLimits(t *testing.T) {
	p := New("codexbar-go", "1.0.0")
	p.command = fakeCodexScript(t)
	p.args = nil

	var calls int
	unsubscribe := p.Subscribe(func() { calls++ })
	defer unsubscribe()

	p.Refresh(context.Background())

	require.Eventually(t, func() bool { return calls > 0 }, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "active", string(p.State()))
	snap := p.Snapshot()
	require.Len(t, snap.Limits, 2)
	assert.Equal(t, "Session", snap.Limits[0].Label)
	assert.Equal(t, 55.0, snap.Limits[0].Used)
	assert.Equal(t, "Weekly", snap.Limits[1].Label)
	assert.Equal(t, 10.0, snap.Limits[1].Used)
}
