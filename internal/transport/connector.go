package transport

import (
	"context"
	"errors"
	"net/http"

	"github.com/adhyaay-karnwal/ship/internal/logging"
)

// Channel is an open, reconnecting stream for one session.
type Channel interface {
	Send(v any) error
	Disconnect()
}

type Connector interface {
	Connect(ctx context.Context, sessionID string, handlers Handlers) (Channel, error)
}

// WebSocketConnector opens a Conn per session using URLFor to locate the
// session's endpoint.
type WebSocketConnector struct {
	URLFor  func(sessionID string) (string, error)
	Header  http.Header
	Options Options
}

func (w WebSocketConnector) Connect(ctx context.Context, sessionID string, handlers Handlers) (Channel, error) {
	if w.URLFor == nil {
		return nil, errors.New("transport: no url resolver configured")
	}
	url, err := w.URLFor(sessionID)
	if err != nil {
		return nil, err
	}
	opts := w.Options
	opts.URL = url
	if w.Header != nil {
		opts.Header = w.Header.Clone()
	}
	opts.Logger = logging.OrNop(opts.Logger).With(logging.F("session_id", sessionID))
	return Dial(ctx, opts, handlers), nil
}
