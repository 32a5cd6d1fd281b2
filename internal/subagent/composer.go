package subagent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adhyaay-karnwal/ship/internal/logging"
	"github.com/adhyaay-karnwal/ship/internal/transport"
	"github.com/adhyaay-karnwal/ship/internal/types"
)

var ErrNotSubagent = errors.New("subagent: tool is not a sub-agent with a known session")

// Composer keeps at most one live child stream: the one being viewed.
type Composer struct {
	connector transport.Connector
	logger    logging.Logger
	onChange  func()
	now       func() time.Time

	// selectMu serializes Select and Close so two streams for the same
	// child can never be open at once.
	selectMu sync.Mutex
	mu       sync.Mutex
	current  *Stream
}

type ComposerOptions struct {
	Logger   logging.Logger
	OnChange func()
	Now      func() time.Time
}

func NewComposer(connector transport.Connector, opts ComposerOptions) *Composer {
	return &Composer{
		connector: connector,
		logger:    logging.OrNop(opts.Logger),
		onChange:  opts.OnChange,
		now:       opts.Now,
	}
}

// Select opens the child stream for tool, closing any other child stream.
// Selecting the child that is already open is a no-op.
func (c *Composer) Select(ctx context.Context, tool types.ToolInvocation) (string, error) {
	sessionID, ok := Detect(tool)
	if !ok {
		return "", ErrNotSubagent
	}
	return sessionID, c.Open(ctx, sessionID)
}

func (c *Composer) Open(ctx context.Context, sessionID string) error {
	c.selectMu.Lock()
	defer c.selectMu.Unlock()

	c.mu.Lock()
	prev := c.current
	if prev != nil && prev.SessionID() == sessionID {
		c.mu.Unlock()
		return nil
	}
	c.current = nil
	c.mu.Unlock()

	if prev != nil {
		prev.Close()
		c.logger.Debug("subagent stream closed", logging.F("subagent_session_id", prev.SessionID()))
	}
	stream, err := Open(ctx, c.connector, sessionID, StreamOptions{
		Logger:   c.logger,
		OnChange: c.onChange,
		Now:      c.now,
	})
	if err != nil {
		c.notify()
		return err
	}
	c.mu.Lock()
	c.current = stream
	c.mu.Unlock()
	c.logger.Debug("subagent stream opened", logging.F("subagent_session_id", sessionID))
	c.notify()
	return nil
}

// Current returns the view of the open child stream, if any.
func (c *Composer) Current() (View, bool) {
	c.mu.Lock()
	stream := c.current
	c.mu.Unlock()
	if stream == nil {
		return View{}, false
	}
	return stream.View(), true
}

func (c *Composer) Close() {
	c.selectMu.Lock()
	defer c.selectMu.Unlock()
	c.mu.Lock()
	stream := c.current
	c.current = nil
	c.mu.Unlock()
	if stream != nil {
		stream.Close()
		c.notify()
	}
}

func (c *Composer) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}
