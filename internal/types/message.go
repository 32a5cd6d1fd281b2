package types

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

type MessageType string

const (
	MessageTypeText           MessageType = ""
	MessageTypeError          MessageType = "error"
	MessageTypePRNotification MessageType = "pr-notification"
)

type MessagePhase string

const (
	PhaseStreaming MessagePhase = "streaming"
	PhaseFinalized MessagePhase = "finalized"
)

type ErrorCategory string

const (
	ErrorTransient  ErrorCategory = "transient"
	ErrorPersistent ErrorCategory = "persistent"
	ErrorUserAction ErrorCategory = "user-action"
	ErrorFatal      ErrorCategory = "fatal"
)

func (c ErrorCategory) Valid() bool {
	switch c {
	case ErrorTransient, ErrorPersistent, ErrorUserAction, ErrorFatal:
		return true
	}
	return false
}

// ToolState only moves forward: partial-call, call, then result or error.
type ToolState string

const (
	ToolPartialCall ToolState = "partial-call"
	ToolCall        ToolState = "call"
	ToolResult      ToolState = "result"
	ToolError       ToolState = "error"
)

func (s ToolState) Rank() int {
	switch s {
	case ToolCall:
		return 1
	case ToolResult, ToolError:
		return 2
	default:
		return 0
	}
}

func (s ToolState) Terminal() bool {
	return s.Rank() == 2
}

type ToolInvocation struct {
	CallID   string         `json:"toolCallId"`
	Name     string         `json:"toolName"`
	State    ToolState      `json:"state"`
	Args     map[string]any `json:"args,omitempty"`
	Result   any            `json:"result,omitempty"`
	Title    string         `json:"title,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
}

type UIMessage struct {
	ID            string           `json:"id"`
	Role          Role             `json:"role"`
	Content       string           `json:"content"`
	Reasoning     []string         `json:"reasoning,omitempty"`
	Tools         []ToolInvocation `json:"toolInvocations,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	Type          MessageType      `json:"type,omitempty"`
	Phase         MessagePhase     `json:"phase,omitempty"`
	ErrorCategory ErrorCategory    `json:"errorCategory,omitempty"`
	Retryable     bool             `json:"retryable,omitempty"`
}

// Clone copies the slices owned by the message. Maps inside tool
// invocations are shared; they are replaced wholesale, never mutated.
func (m UIMessage) Clone() UIMessage {
	out := m
	if m.Reasoning != nil {
		out.Reasoning = append([]string(nil), m.Reasoning...)
	}
	if m.Tools != nil {
		out.Tools = append([]ToolInvocation(nil), m.Tools...)
	}
	return out
}

func (m UIMessage) Tool(callID string) (ToolInvocation, bool) {
	for _, tool := range m.Tools {
		if tool.CallID == callID {
			return tool, true
		}
	}
	return ToolInvocation{}, false
}

// MessageRecord is a finalized message as stored by the control plane.
type MessageRecord struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
}

func (r MessageRecord) Time() time.Time {
	if r.CreatedAt <= 0 {
		return time.Time{}
	}
	// The control plane has stored both seconds and milliseconds.
	if r.CreatedAt > 1e12 {
		return time.UnixMilli(r.CreatedAt).UTC()
	}
	return time.Unix(r.CreatedAt, 0).UTC()
}
