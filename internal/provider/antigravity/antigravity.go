// Package antigravity locates the running Antigravity language-server
// process by scanning the process table, discovers its HTTPS control
// port via lsof (falling back to the process's own
// --extension_server_port flag), and probes that port for per-model
// quota over a self-signed local HTTPS endpoint. Grounded on the
// original AntigravityProvider.cpp process/port detection, building a
// scoped *http.Transport instead of mutating global TLS defaults.
package antigravity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/rursache/KDECodexBar/internal/httpclient"
	"github.com/rursache/KDECodexBar/internal/provider"
)

const (
	refreshTimeout   = 30 * time.Second
	userStatusPath   = "/exa.language_server_pb.LanguageServerService/GetUserStatus"
	processMarker    = "language_server"
	userStatusHeader = "X-Codeium-Csrf-Token"
)

var (
	csrfPattern = regexp.MustCompile(`--csrf_token[=\s]+(\S+)`)
	portPattern = regexp.MustCompile(`--extension_server_port[=\s]+(\d+)`)
	lsofPattern = regexp.MustCompile(`:(\d+)\s+\(LISTEN\)`)
)

type processInfo struct {
	pid           int
	csrfToken     string
	extensionPort int
}

// Provider probes the local Antigravity language server for quota.
type Provider struct {
	*provider.Base

	client *http.Client
}

// New builds an AntigravityProvider.
func New() *Provider {
	return &Provider{
		Base:   provider.NewBase(provider.Antigravity, "Antigravity"),
		client: httpclient.InsecureLocal(refreshTimeout),
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

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	info, ok := p.detectProcess(ctx)
	if !ok {
		entry.Debug("antigravity: process not found")
		p.SetError()
		return
	}

	ports := p.findPorts(ctx, info)
	if len(ports) == 0 {
		entry.Debug("antigravity: no candidate ports")
		p.SetError()
		return
	}

	snapshot, err := p.fetchUserStatus(ctx, ports[0], info.csrfToken)
	if err != nil {
		entry.WithError(err).Debug("antigravity: user status fetch failed")
		p.SetError()
		return
	}
	p.SetSnapshot(snapshot)
}

// detectProcess runs `ps -ax -o pid=,command=` and looks for a line that
// names the language server, references --app_data_dir, and mentions
// antigravity, then extracts its csrf token and (optional) extension port.
func (p *Provider) detectProcess(ctx context.Context) (processInfo, bool) {
	out, err := exec.CommandContext(ctx, "ps", "-ax", "-o", "pid=,command=").Output()
	if err != nil {
		return processInfo{}, false
	}

	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, processMarker) {
			continue
		}
		if !strings.Contains(line, "--app_data_dir") || !strings.Contains(line, "antigravity") {
			continue
		}
		info, ok := parseProcessLine(line)
		if ok {
			return info, true
		}
	}
	return processInfo{}, false
}

func parseProcessLine(line string) (processInfo, bool) {
	trimmed := strings.TrimSpace(line)
	spaceIdx := strings.IndexByte(trimmed, ' ')
	if spaceIdx == -1 {
		return processInfo{}, false
	}
	pid, err := strconv.Atoi(trimmed[:spaceIdx])
	if err != nil {
		return processInfo{}, false
	}
	commandLine := trimmed[spaceIdx+1:]

	info := processInfo{pid: pid}
	if m := csrfPattern.FindStringSubmatch(commandLine); m != nil {
		info.csrfToken = m[1]
	}
	if m := portPattern.FindStringSubmatch(commandLine); m != nil {
		info.extensionPort, _ = strconv.Atoi(m[1])
	}
	if info.csrfToken == "" {
		return processInfo{}, false
	}
	return info, true
}

// findPorts shells out to lsof for the process's listening TCP ports,
// sorted ascending, falling back to the process's own extension port when
// lsof is unavailable or reports nothing.
func (p *Provider) findPorts(ctx context.Context, info processInfo) []int {
	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		if info.extensionPort > 0 {
			return []int{info.extensionPort}
		}
		return nil
	}

	out, _ := exec.CommandContext(ctx, lsofPath,
		"-nP", "-iTCP", "-sTCP:LISTEN", "-a", "-p", strconv.Itoa(info.pid)).Output()

	ports := parseLsofOutput(string(out))
	if len(ports) == 0 && info.extensionPort > 0 {
		ports = []int{info.extensionPort}
	}
	return ports
}

func parseLsofOutput(output string) []int {
	seen := make(map[int]bool)
	var ports []int
	for _, line := range strings.Split(output, "\n") {
		m := lsofPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		port, err := strconv.Atoi(m[1])
		if err != nil || seen[port] {
			continue
		}
		seen[port] = true
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}

// fetchUserStatus probes one local HTTPS port for the user's quota status.
// There is no cross-port retry: a failed probe on the chosen port is a
// failed refresh (spec Open Question decision, SPEC_FULL.md).
func (p *Provider) fetchUserStatus(ctx context.Context, port int, token string) (provider.UsageSnapshot, error) {
	url := fmt.Sprintf("https://127.0.0.1:%d%s", port, userStatusPath)
	body, err := json.Marshal(map[string]any{
		"metadata": map[string]string{
			"ideName":       "antigravity",
			"extensionName": "antigravity",
			"ideVersion":    "unknown",
			"locale":        "en",
		},
	})
	if err != nil {
		return provider.UsageSnapshot{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return provider.UsageSnapshot{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(userStatusHeader, token)
	req.Header.Set("Connect-Protocol-Version", "1")

	resp, err := p.client.Do(req)
	if err != nil {
		return provider.UsageSnapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return provider.UsageSnapshot{}, fmt.Errorf("user status endpoint returned status %d", resp.StatusCode)
	}

	var raw bytes.Buffer
	if _, err = raw.ReadFrom(resp.Body); err != nil {
		return provider.UsageSnapshot{}, fmt.Errorf("read user status response: %w", err)
	}

	return parseUserStatus(raw.Bytes()), nil
}

type rawQuota struct {
	label     string
	remaining float64
	resetTime string
}

// parseUserStatus maps clientModelConfigs entries to the three tracked
// limits: Claude (excluding any "thinking" variant), Pro (excluding "low"),
// and Flash, matching the original onUserStatusReply selection rules.
func parseUserStatus(raw []byte) provider.UsageSnapshot {
	configs := gjson.GetBytes(raw, "userStatus.cascadeModelConfigData.clientModelConfigs")

	var found []rawQuota
	configs.ForEach(func(_, cfg gjson.Result) bool {
		quota := cfg.Get("quotaInfo")
		if !quota.Exists() || !quota.Get("remainingFraction").Exists() {
			return true
		}
		found = append(found, rawQuota{
			label:     cfg.Get("label").String(),
			remaining: quota.Get("remainingFraction").Float(),
			resetTime: quota.Get("resetTime").String(),
		})
		return true
	})

	findModel := func(pattern, exclude string) int {
		for i, q := range found {
			label := strings.ToLower(q.label)
			if !strings.Contains(label, pattern) {
				continue
			}
			if exclude != "" && strings.Contains(label, exclude) {
				continue
			}
			return i
		}
		return -1
	}

	var limits []provider.UsageLimit
	addLimit := func(idx int, display string) {
		if idx < 0 {
			return
		}
		limits = append(limits, provider.UsageLimit{
			Label: display,
			Used:  (1 - found[idx].remaining) * 100,
			Total: 100,
			Unit:  "%",
		})
	}

	addLimit(findModel("claude", "thinking"), "Claude")
	addLimit(findModel("pro", "low"), "Pro")
	addLimit(findModel("flash", ""), "Flash")

	return provider.UsageSnapshot{Timestamp: time.Now(), Limits: limits}
}
