package subagent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/adhyaay-karnwal/ship/internal/events"
	"github.com/adhyaay-karnwal/ship/internal/logging"
	"github.com/adhyaay-karnwal/ship/internal/reducer"
	"github.com/adhyaay-karnwal/ship/internal/transport"
	"github.com/adhyaay-karnwal/ship/internal/types"
)

const (
	LabelConnecting = "Connecting…"
	LabelWorking    = "Working…"
	LabelComplete   = "Complete"
	LabelError      = "Error"
)

// View is a read-only copy of a child session's folded state.
type View struct {
	SessionID string
	Messages  []types.UIMessage
	Streaming bool
	Label     string
	Channel   transport.Status
}

// Stream follows one child session on its own channel with its own reducer
// state. Nothing is shared with the parent session.
type Stream struct {
	sessionID string
	logger    logging.Logger
	onChange  func()
	now       func() time.Time

	mu        sync.Mutex
	state     reducer.State
	streaming bool
	label     string
	channel   transport.Status
	closed    bool
	conn      transport.Channel
}

type StreamOptions struct {
	Logger logging.Logger
	// OnChange is called after every state change, outside any lock.
	OnChange func()
	Now      func() time.Time
}

func Open(ctx context.Context, connector transport.Connector, sessionID string, opts StreamOptions) (*Stream, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("subagent: session id is required")
	}
	if connector == nil {
		return nil, errors.New("subagent: connector is required")
	}
	s := &Stream{
		sessionID: sessionID,
		logger:    logging.OrNop(opts.Logger).With(logging.F("subagent_session_id", sessionID)),
		onChange:  opts.OnChange,
		now:       opts.Now,
		state:     reducer.NewState(),
		streaming: true,
		label:     LabelConnecting,
		channel:   transport.StatusConnecting,
	}
	if s.now == nil {
		s.now = time.Now
	}
	conn, err := connector.Connect(ctx, sessionID, transport.Handlers{
		OnMessage:      s.handleFrame,
		OnStatusChange: s.handleStatus,
	})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Disconnect()
		return s, nil
	}
	s.conn = conn
	s.mu.Unlock()
	return s, nil
}

func (s *Stream) SessionID() string {
	return s.sessionID
}

func (s *Stream) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := make([]types.UIMessage, len(s.state.Messages))
	for i, msg := range s.state.Messages {
		messages[i] = msg.Clone()
	}
	return View{
		SessionID: s.sessionID,
		Messages:  messages,
		Streaming: s.streaming,
		Label:     s.label,
		Channel:   s.channel,
	}
}

// Close disconnects the child channel. Frames arriving afterwards are
// ignored. Close is safe to call more than once.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Disconnect()
	}
}

func (s *Stream) handleFrame(raw []byte) {
	ev, ok := events.Decode(raw)
	if !ok {
		s.logger.Debug("subagent frame dropped", logging.F("bytes", len(raw)))
		return
	}
	ev.ReceivedAt = s.now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = reducer.Apply(s.state, ev)
	switch {
	case ev.Kind == events.KindError || ev.Kind == events.KindSessionError:
		s.streaming = false
		s.label = LabelError
	case ev.Terminal():
		s.streaming = false
		s.label = LabelComplete
	case ev.Kind == events.KindPartUpdated:
		s.streaming = true
		s.label = LabelWorking
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Stream) handleStatus(status transport.Status) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.channel = status
	s.mu.Unlock()
	s.notify()
}

func (s *Stream) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}
