// Package claude drives the Claude CLI under a pseudo-terminal, waits
// for the interactive prompt,
// injects the /usage slash command, and scrapes ANSI-stripped output for
// percentage lines. Grounded on the original ClaudeProvider.cpp regex
// scraping and internal/ptysession for the pty plumbing.
package claude

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rursache/KDECodexBar/internal/provider"
	"github.com/rursache/KDECodexBar/internal/ptysession"
)

const refreshTimeout = 30 * time.Second

var (
	ansiPattern    = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)
	sessionPattern = regexp.MustCompile(`(?i)Current session\s+(\d+)%\s+(used|left)`)
	weeklyPattern  = regexp.MustCompile(`(?i)Current week\s+\(all models\)\s+(\d+)%\s+(used|left)`)
)

// Provider drives the Claude CLI through a PtySession.
type Provider struct {
	*provider.Base

	binary string
}

// New builds a ClaudeProvider. binary is the executable looked up on PATH
// (normally "claude").
func New(binary string) *Provider {
	if binary == "" {
		binary = "claude"
	}
	return &Provider{
		Base:   provider.NewBase(provider.Claude, "Claude"),
		binary: binary,
	}
}

// Refresh implements provider.Provider.
func (p *Provider) Refresh(ctx context.Context) {
	if !p.TryStartRefresh() {
		return
	}
	go p.run(ctx)
}

func (p *Provider) run(ctx context.Context) {
	defer p.FinishRefresh()
	entry := p.Logger()

	if _, err := exec.LookPath(p.binary); err != nil {
		entry.Debug("claude: binary not found on PATH")
		p.SetError()
		return
	}

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	var (
		mu          sync.Mutex
		buffer      strings.Builder
		sentUsage   bool
		sessionSeen bool
		weeklySeen  bool
		snapshot    = provider.UsageLimit{Label: "Session"}
		weekly      = provider.UsageLimit{Label: "Weekly"}
	)
	snapshot.Total = 100
	snapshot.Unit = "%"
	weekly.Total = 100
	weekly.Unit = "%"

	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }

	var session *ptysession.Session

	onData := func(data []byte) {
		mu.Lock()
		defer mu.Unlock()
		buffer.Write(data)
		content := buffer.String()

		if !sentUsage && !strings.Contains(content, "/usage") &&
			(strings.Contains(content, "Ready to code") || strings.Contains(content, ">")) {
			sentUsage = true
			if session != nil {
				session.Write([]byte("/usage\n"))
			}
		}

		clean := ansiPattern.ReplaceAllString(content, "")

		if m := sessionPattern.FindStringSubmatch(clean); m != nil {
			val, _ := strconv.ParseFloat(m[1], 64)
			if strings.EqualFold(m[2], "left") {
				val = 100 - val
			}
			snapshot.Used = val
			sessionSeen = true
		}
		if m := weeklyPattern.FindStringSubmatch(clean); m != nil {
			val, _ := strconv.ParseFloat(m[1], 64)
			if strings.EqualFold(m[2], "left") {
				val = 100 - val
			}
			weekly.Used = val
			weeklySeen = true
		}

		if sessionSeen && weeklySeen {
			closeDone()
		}
	}

	onExit := func(int) {
		closeDone()
	}

	s, ok := ptysession.Start(p.binary, nil, onData, onExit)
	if !ok {
		entry.Debug("claude: pty start failed")
		p.SetError()
		return
	}
	mu.Lock()
	session = s
	mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
	}
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	if !sessionSeen || !weeklySeen {
		p.SetError()
		return
	}

	p.SetSnapshot(provider.UsageSnapshot{
		Timestamp: time.Now(),
		Limits:    []provider.UsageLimit{snapshot, weekly},
	})
}
