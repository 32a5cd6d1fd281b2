package orchestrator

import (
	"github.com/adhyaay-karnwal/ship/internal/subagent"
	"github.com/adhyaay-karnwal/ship/internal/transport"
	"github.com/adhyaay-karnwal/ship/internal/types"
)

// Snapshot is a copy of the orchestrator's view state. It shares nothing
// with the orchestrator and may be read freely.
type Snapshot struct {
	Session    types.Session
	Active     bool
	Generation uint64
	Messages   []types.UIMessage
	Streaming  bool
	// StreamingMessageID is the assistant message currently being written.
	StreamingMessageID  string
	Queue               []string
	Channel             transport.Status
	Side                types.SideChannel
	LocallyStopped      bool
	ServerConfirmedIdle bool
	Subagent            *subagent.View
}

// LastAssistant returns the most recent assistant message with content.
func (s Snapshot) LastAssistant() (types.UIMessage, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		msg := s.Messages[i]
		if msg.Role == types.RoleAssistant && msg.Content != "" {
			return msg, true
		}
	}
	return types.UIMessage{}, false
}

func (a *activeSession) snapshot() Snapshot {
	messages := make([]types.UIMessage, len(a.state.Messages))
	for i, msg := range a.state.Messages {
		messages[i] = msg.Clone()
	}
	return Snapshot{
		Session:             a.session,
		Active:              true,
		Generation:          a.gen,
		Messages:            messages,
		Streaming:           a.streaming,
		StreamingMessageID:  a.state.ActiveMessageID,
		Queue:               append([]string(nil), a.queue...),
		Channel:             a.channel,
		Side:                a.state.Side.Clone(),
		LocallyStopped:      a.locallyRequestedStop,
		ServerConfirmedIdle: a.serverConfirmedIdle,
	}
}
