package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/adhyaay-karnwal/ship/internal/transport"
)

// Connector is an in-memory transport.Connector. Tests push frames into the
// channels it hands out and inspect what was sent back.
type Connector struct {
	mu       sync.Mutex
	channels []*Channel
	err      error
}

func NewConnector() *Connector {
	return &Connector{}
}

// FailWith makes subsequent Connect calls return err.
func (c *Connector) FailWith(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *Connector) Connect(_ context.Context, sessionID string, handlers transport.Handlers) (transport.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	ch := &Channel{SessionID: sessionID, handlers: handlers}
	c.channels = append(c.channels, ch)
	return ch, nil
}

// Latest returns the most recently opened channel for sessionID.
func (c *Connector) Latest(sessionID string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.channels) - 1; i >= 0; i-- {
		if c.channels[i].SessionID == sessionID {
			return c.channels[i]
		}
	}
	return nil
}

func (c *Connector) Opened(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, ch := range c.channels {
		if ch.SessionID == sessionID {
			count++
		}
	}
	return count
}

// Live counts channels that have not been disconnected.
func (c *Connector) Live() int {
	c.mu.Lock()
	channels := append([]*Channel(nil), c.channels...)
	c.mu.Unlock()
	live := 0
	for _, ch := range channels {
		if !ch.Disconnected() {
			live++
		}
	}
	return live
}

type Channel struct {
	SessionID string
	handlers  transport.Handlers

	mu           sync.Mutex
	sent         []json.RawMessage
	sendErr      error
	disconnected bool
}

func (c *Channel) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected {
		return transport.ErrNotConnected
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *Channel) Disconnect() {
	c.mu.Lock()
	already := c.disconnected
	c.disconnected = true
	c.mu.Unlock()
	if !already && c.handlers.OnStatusChange != nil {
		c.handlers.OnStatusChange(transport.StatusDisconnected)
	}
}

func (c *Channel) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// FailSends makes subsequent Send calls return err; nil restores them.
func (c *Channel) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// Emit delivers a raw frame as if it arrived from the server. Frames sent to
// a disconnected channel are dropped.
func (c *Channel) Emit(frame string) {
	if c.Disconnected() || c.handlers.OnMessage == nil {
		return
	}
	c.handlers.OnMessage([]byte(frame))
}

func (c *Channel) EmitStatus(status transport.Status) {
	if c.Disconnected() || c.handlers.OnStatusChange == nil {
		return
	}
	c.handlers.OnStatusChange(status)
}

// Sent decodes every payload sent on the channel.
func (c *Channel) Sent() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.sent))
	for _, raw := range c.sent {
		var payload map[string]any
		if json.Unmarshal(raw, &payload) == nil {
			out = append(out, payload)
		}
	}
	return out
}

// Handlers exposes the callbacks the channel was opened with so tests can
// deliver frames from a channel that was already replaced.
func (c *Channel) Handlers() transport.Handlers {
	return c.handlers
}
