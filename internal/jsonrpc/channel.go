// Package jsonrpc implements the newline-delimited JSON message framing
// used to talk to a child process over its stdio: one JSON object per
// line, UTF-8, \n-terminated. Outgoing requests get a monotonically
// increasing integer id; responses are correlated by id; notifications
// from the peer are ignored. Parsing is resilient: blank lines are
// skipped and malformed lines are logged and discarded, matching the
// original CodexProvider::onReadyReadStandardOutput behavior.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Message is one decoded line from the peer.
type Message struct {
	Raw    []byte
	ID     int64
	HasID  bool
	Method string
	Result gjson.Result
	Error  gjson.Result
	IsResp bool
}

// Channel frames outgoing requests/notifications onto w and decodes
// incoming lines read from r, dispatching responses to the caller that
// issued the matching request id.
type Channel struct {
	w io.Writer

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan Message

	buf bytes.Buffer
}

// New builds a Channel that writes framed requests to w. Feed(data) drives
// the read side as bytes arrive from the child's stdout.
func New(w io.Writer) *Channel {
	return &Channel{
		w:       w,
		nextID:  1,
		pending: make(map[int64]chan Message),
	}
}

// Request sends a JSON-RPC request with the given method/params and
// returns the id assigned plus a channel that receives exactly one
// Message: the correlated response.
func (c *Channel) Request(method string, params any) (id int64, resp <-chan Message, err error) {
	c.mu.Lock()
	id = c.nextID
	c.nextID++
	ch := make(chan Message, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	payload := map[string]any{"id": id, "method": method}
	if params != nil {
		payload["params"] = params
	}
	if err = c.send(payload); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return 0, nil, err
	}
	return id, ch, nil
}

// Notify sends a JSON-RPC notification (no id, no response expected).
func (c *Channel) Notify(method string, params any) error {
	payload := map[string]any{"method": method}
	if params != nil {
		payload["params"] = params
	}
	return c.send(payload)
}

func (c *Channel) send(payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = c.w.Write(data)
	return err
}

// Feed appends newly read bytes and decodes every complete line found so
// far, dispatching responses to their matching Request callers.
func (c *Channel) Feed(data []byte) {
	c.buf.Write(data)
	for {
		b := c.buf.Bytes()
		idx := bytes.IndexByte(b, '\n')
		if idx == -1 {
			break
		}
		line := make([]byte, idx)
		copy(line, b[:idx])
		c.buf.Next(idx + 1)
		c.handleLine(line)
	}
}

func (c *Channel) handleLine(line []byte) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return
	}
	if !json.Valid(trimmed) {
		log.WithField("line", string(trimmed)).Debug("jsonrpc: discarding malformed line")
		return
	}

	idResult := gjson.GetBytes(trimmed, "id")
	methodResult := gjson.GetBytes(trimmed, "method")

	if !idResult.Exists() {
		// Notification from the peer; no reply is expected or sent.
		return
	}

	msg := Message{
		Raw:    trimmed,
		ID:     idResult.Int(),
		HasID:  true,
		Method: methodResult.String(),
		Result: gjson.GetBytes(trimmed, "result"),
		Error:  gjson.GetBytes(trimmed, "error"),
		IsResp: !methodResult.Exists(),
	}
	if !msg.IsResp {
		// A request from the peer with an id; this channel only drives
		// outbound requests, so there is nothing to reply with.
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- msg
		close(ch)
	}
}
