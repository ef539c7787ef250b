package claude

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionPatternMatchesUsedAndLeft(t *testing.T) {
	clean := ansiPattern.ReplaceAllString("\x1b[31mCurrent session\x1b[0m   42% used\n", "")
	m := sessionPattern.FindStringSubmatch(clean)
	assert.Equal(t, []string{"Current session   42% used", "42", "used"}, m)

	clean = ansiPattern.ReplaceAllString("Current session  17% left", "")
	m = sessionPattern.FindStringSubmatch(clean)
	assert.Equal(t, []string{"Current session  17% left", "17", "left"}, m)
}

func TestWeeklyPatternMatchesAllModelsLine(t *testing.T) {
	clean := ansiPattern.ReplaceAllString("Current week (all models)   88% left\n", "")
	m := weeklyPattern.FindStringSubmatch(clean)
	assert.Equal(t, []string{"Current week (all models)   88% left", "88", "left"}, m)
}

func TestAnsiPatternStripsEscapeSequences(t *testing.T) {
	stripped := ansiPattern.ReplaceAllString("\x1b[1;32mReady to code\x1b[0m\x1b[2K>", "")
	assert.Equal(t, "Ready to code>", stripped)
}

func TestNewDefaultsBinaryName(t *testing.T) {
	p := New("")
	assert.Equal(t, "claude", p.binary)

	p = New("/custom/path/claude")
	assert.Equal(t, "/custom/path/claude", p.binary)
}

func TestProviderIdentity(t *testing.T) {
	p := New("claude")
	assert.Equal(t, "Claude", p.Name())
	assert.Regexp(t, regexp.MustCompile("claude"), string(p.ID()))
}

// fakeClaudeScript writes an executable shell script that mimics enough of
// the real CLI's interactive behavior to exercise the full refresh path:
// it prints a prompt, waits for the /usage command, then prints both usage
// lines and exits.
func fakeClaudeScript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "claude")
	script := "#!/bin/sh\n" +
		"printf 'Ready to code> '\n" +
		"read _line\n" +
		"printf 'Current session   30%% used\\n'\n" +
		"printf 'Current week (all models)   64%% left\\n'\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestRefreshEndToEndParsesBothWindows(t *testing.T) {
	p := New(fakeClaudeScript(t))

	var calls int
	unsubscribe := p.Subscribe(func() { calls++ })
	defer unsubscribe()

	p.Refresh(context.Background())

	require.Eventually(t, func() bool { return calls > 0 }, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "active", string(p.State()))
	snap := p.Snapshot()
	require.Len(t, snap.Limits, 2)
	assert.Equal(t, "Session", snap.Limits[0].Label)
	assert.Equal(t, 30.0, snap.Limits[0].Used)
	assert.Equal(t, "Weekly", snap.Limits[1].Label)
	assert.Equal(t, 36.0, snap.Limits[1].Used)
}

func TestRefreshIgnoresSecondCallWhileInFlight(t *testing.T) {
	p := New(fakeClaudeScript(t))
	p.Refresh(context.Background())
	p.Refresh(context.Background())

	require.Eventually(t, func() bool { return p.State() == "active" }, 5*time.Second, 10*time.Millisecond)
}
