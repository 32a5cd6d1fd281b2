package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/adhyaay-karnwal/ship/internal/logging"
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusReconnecting Status = "reconnecting"
)

var ErrNotConnected = errors.New("transport: not connected")

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
	defaultMaxAttempts    = 10
	defaultWriteTimeout   = 10 * time.Second
	closeGracePeriod      = time.Second
)

type Handlers struct {
	OnMessage      func(frame []byte)
	OnStatusChange func(status Status)
}

type Options struct {
	URL            string
	Header         http.Header
	Dialer         *websocket.Dialer
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxAttempts bounds consecutive failed connection attempts. Zero uses
	// the default; a negative value retries forever.
	MaxAttempts  int
	WriteTimeout time.Duration
	Logger       logging.Logger
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultInitialBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	o.Logger = logging.OrNop(o.Logger)
	return o
}

// Conn is a websocket that reconnects with exponential backoff until it is
// disconnected, closed normally by the server, or out of attempts.
type Conn struct {
	opts     Options
	handlers Handlers
	logger   logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	ws     *websocket.Conn
	epoch  uint64
	status Status

	// deliverMu is held while a frame is handed to OnMessage.
	deliverMu sync.Mutex
	writeMu   sync.Mutex
	closed    atomic.Bool
	once    sync.Once
	done    chan struct{}
}

// Dial starts connecting in the background and returns immediately.
func Dial(ctx context.Context, opts Options, handlers Handlers) *Conn {
	opts = opts.withDefaults()
	runCtx, cancel := context.WithCancel(ctx)
	c := &Conn{
		opts:     opts,
		handlers: handlers,
		logger:   opts.Logger.With(logging.F("component", "transport")),
		ctx:      runCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.setStatus(StatusConnecting)
	go c.run()
	return c
}

func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Done is closed once the connection loop has stopped for good.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Send writes v as a text frame. Byte slices and strings are sent as-is;
// anything else is JSON encoded.
func (c *Conn) Send(v any) error {
	var data []byte
	switch payload := v.(type) {
	case []byte:
		data = payload
	case string:
		data = []byte(payload)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return err
		}
		data = encoded
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil || c.closed.Load() {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return ws.WriteMessage(websocket.TextMessage, data)
}

// Disconnect stops reconnecting and closes the socket with a normal close
// frame. It waits for a frame that is being delivered, so OnMessage is never
// running or called again once it returns. It is safe to call more than once
// and from OnStatusChange, but not from OnMessage.
func (c *Conn) Disconnect() {
	c.once.Do(func() {
		c.closed.Store(true)
		c.cancel()
		c.mu.Lock()
		ws := c.ws
		c.ws = nil
		c.epoch++
		c.mu.Unlock()
		if ws != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
			_ = ws.Close()
		}
		// Wait for an in-flight delivery.
		c.deliverMu.Lock()
		c.deliverMu.Unlock()
		c.forceStatus(StatusDisconnected)
	})
}

func (c *Conn) run() {
	defer close(c.done)
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.InitialBackoff
	policy.MaxInterval = c.opts.MaxBackoff
	policy.Reset()

	failures := 0
	for {
		if c.ctx.Err() != nil {
			return
		}
		ws, _, err := c.opts.Dialer.DialContext(c.ctx, c.opts.URL, c.opts.Header)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			failures++
			c.logger.Warn("websocket dial failed", logging.F("attempt", failures), logging.Err(err))
			if c.opts.MaxAttempts > 0 && failures >= c.opts.MaxAttempts {
				c.logger.Error("websocket giving up", logging.F("attempts", failures))
				c.setStatus(StatusDisconnected)
				return
			}
			c.setStatus(StatusReconnecting)
			if !c.sleep(policy.NextBackOff()) {
				return
			}
			continue
		}

		failures = 0
		policy.Reset()
		epoch, ok := c.attach(ws)
		if !ok {
			_ = ws.Close()
			return
		}
		c.setStatus(StatusConnected)
		readErr := c.readLoop(ws, epoch)
		c.detach(epoch)
		_ = ws.Close()
		if c.ctx.Err() != nil {
			return
		}
		if websocket.IsCloseError(readErr, websocket.CloseNormalClosure) {
			c.logger.Info("websocket closed by server")
			c.setStatus(StatusDisconnected)
			return
		}
		c.logger.Warn("websocket connection lost", logging.Err(readErr))
		c.setStatus(StatusDisconnected)
		c.setStatus(StatusReconnecting)
		if !c.sleep(policy.NextBackOff()) {
			return
		}
	}
}

func (c *Conn) readLoop(ws *websocket.Conn, epoch uint64) error {
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		if !c.deliver(epoch, frame) {
			return nil
		}
	}
}

func (c *Conn) deliver(epoch uint64, frame []byte) bool {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	if !c.current(epoch) {
		return false
	}
	if c.handlers.OnMessage != nil {
		c.handlers.OnMessage(frame)
	}
	return true
}

func (c *Conn) attach(ws *websocket.Conn) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return 0, false
	}
	c.epoch++
	c.ws = ws
	return c.epoch, true
}

func (c *Conn) detach(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch == epoch {
		c.ws = nil
	}
}

func (c *Conn) current(epoch uint64) bool {
	if c.closed.Load() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

func (c *Conn) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Conn) setStatus(status Status) {
	if c.closed.Load() {
		return
	}
	c.forceStatus(status)
}

func (c *Conn) forceStatus(status Status) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.mu.Unlock()
	if c.handlers.OnStatusChange != nil {
		c.handlers.OnStatusChange(status)
	}
}
