// Package codex drives the Codex CLI as a long-lived subprocess over
// newline-delimited JSON-RPC on stdio through an initialize → initialized
// → rateLimits/read handshake, then terminates the child. Grounded on the
// original CodexProvider.cpp state machine, wrapping the upstream call
// with structured per-field logging and typed errors rather than bare
// fmt output.
package codex

import (
	"context"
	"io"
	"os/exec"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/rursache/KDECodexBar/internal/jsonrpc"
	"github.com/rursache/KDECodexBar/internal/provider"
)

// internalState is the Codex provider's private handshake state machine;
// it is distinct from provider.State, which only ever reports
// Active/Error to the outside world.
type internalState int

const (
	stateIdle internalState = iota
	stateStarting
	stateInitializing
	stateFetchingLimits
	stateFinished
)

const refreshTimeout = 30 * time.Second

// Provider drives the Codex CLI via a JSON-RPC channel over its stdio.
type Provider struct {
	*provider.Base

	clientName    string
	clientVersion string
	command       string
	args          []string
}

// New builds a CodexProvider. clientName/clientVersion populate the
// initialize handshake's clientInfo, the way the original source's
// "codexbar-linux"/"2.0.0" constants did.
func New(clientName, clientVersion string) *Provider {
	return &Provider{
		Base:          provider.NewBase(provider.Codex, "Codex"),
		clientName:    clientName,
		clientVersion: clientVersion,
		command:       "codex",
		args:          []string{"-s", "read-only", "-a", "untrusted", "app-server"},
	}
}

// Refresh implements provider.Provider. It is a no-op while a previous
// refresh is still in flight.
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

	cmd := exec.CommandContext(ctx, p.command, p.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		entry.WithError(err).Debug("codex: stdin pipe failed")
		p.SetError()
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		entry.WithError(err).Debug("codex: stdout pipe failed")
		p.SetError()
		return
	}
	if err = cmd.Start(); err != nil {
		entry.WithError(err).Debug("codex: spawn failed")
		p.SetError()
		return
	}
	state := stateStarting
	entry.WithField("state", state).Debug("codex: process started")

	defer func() {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	channel := jsonrpc.New(stdin)

	requestID := uuid.NewString()
	initializeID, initResp, err := channel.Request("initialize", map[string]any{
		"clientInfo": map[string]string{
			"name":    p.clientName,
			"version": p.clientVersion,
		},
		"requestId": requestID,
	})
	if err != nil {
		entry.WithError(err).Debug("codex: initialize send failed")
		p.SetError()
		return
	}
	state = stateInitializing
	entry.WithField("state", state).Debug("codex: awaiting initialize response")

	readErrCh := make(chan error, 1)
	go func() {
		buf := make([]byte, 8192)
		for {
			n, rerr := stdout.Read(buf)
			if n > 0 {
				channel.Feed(buf[:n])
			}
			if rerr != nil {
				readErrCh <- rerr
				return
			}
		}
	}()

	msg, ok := p.await(ctx, initResp, readErrCh)
	if !ok {
		p.SetError()
		return
	}
	if msg.Error.Exists() {
		entry.WithField("error", msg.Error.String()).Debug("codex: initialize RPC error")
		p.SetError()
		return
	}
	if msg.ID != initializeID {
		p.SetError()
		return
	}

	if err = channel.Notify("initialized", nil); err != nil {
		p.SetError()
		return
	}

	fetchID, fetchResp, err := channel.Request("account/rateLimits/read", nil)
	if err != nil {
		p.SetError()
		return
	}
	state = stateFetchingLimits
	entry.WithField("state", state).Debug("codex: awaiting rate limits response")

	msg, ok = p.await(ctx, fetchResp, readErrCh)
	if !ok {
		p.SetError()
		return
	}
	if msg.Error.Exists() {
		entry.WithField("error", msg.Error.String()).Debug("codex: rateLimits RPC error")
		p.SetError()
		return
	}
	if msg.ID != fetchID {
		p.SetError()
		return
	}

	primary := msg.Result.Get("rateLimits.primary")
	secondary := msg.Result.Get("rateLimits.secondary")

	snapshot := provider.UsageSnapshot{
		Timestamp: time.Now(),
		Limits: []provider.UsageLimit{
			parseWindow("Session", primary),
			parseWindow("Weekly", secondary),
		},
	}
	p.SetSnapshot(snapshot)
	state = stateFinished

	entry.WithFields(log.Fields{"state": state, "request_id": requestID}).Debug("codex: refresh complete")
}

// parseWindow turns one rateLimits.{primary,secondary} object into a
// UsageLimit, matching the original CodexProvider::handleRpcResult mapping:
// usedPercent → Used, total fixed at 100, unit "%".
func parseWindow(label string, win gjson.Result) provider.UsageLimit {
	limit := provider.UsageLimit{Label: label}
	if !win.Exists() {
		return limit
	}
	limit.Used = win.Get("usedPercent").Float()
	limit.Total = 100
	limit.Unit = "%"
	limit.ResetDescription = win.Get("resetDescription").String()
	return limit
}

// await blocks until resp delivers a message, the read loop reports an
// error/EOF (process exited or broke mid-handshake), or the context times
// out, whichever comes first.
func (p *Provider) await(ctx context.Context, resp <-chan jsonrpc.Message, readErr <-chan error) (jsonrpc.Message, bool) {
	select {
	case m := <-resp:
		return m, true
	case err := <-readErr:
		if err != nil && err != io.EOF {
			p.Logger().WithError(err).Debug("codex: stdout read error")
		}
		return jsonrpc.Message{}, false
	case <-ctx.Done():
		return jsonrpc.Message{}, false
	}
}
