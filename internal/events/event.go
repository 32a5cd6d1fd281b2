package events

import (
	"time"

	"github.com/adhyaay-karnwal/ship/internal/types"
)

type Kind string

const (
	KindMessage        Kind = "message"
	KindMessageUpdated Kind = "message.updated"
	KindPartUpdated    Kind = "message.part.updated"
	KindError          Kind = "error"
	KindPRCreated      Kind = "pr-created"
	KindAgentURL       Kind = "opencode-url"
	KindSandboxStatus  Kind = "sandbox-status"
	KindSessionIdle    Kind = "session.idle"
	KindSessionError   Kind = "session.error"
	KindSessionStatus  Kind = "session.status"
	KindSessionUpdated Kind = "session.updated"
	KindSessionDiff    Kind = "session.diff"
	KindTodoUpdated    Kind = "todo.updated"
	KindDone           Kind = "done"

	// Frames streamed back by the message route. Decode turns them into
	// part updates on a message without an id.
	KindText       Kind = "text"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
)

// StreamTextPartID names the single text part of a message built from the
// message route's text frames.
const StreamTextPartID = "text"

type PartType string

const (
	PartText       PartType = "text"
	PartReasoning  PartType = "reasoning"
	PartTool       PartType = "tool"
	PartStepStart  PartType = "step-start"
	PartStepFinish PartType = "step-finish"
)

// Part is one piece of a streamed assistant message.
type Part struct {
	ID        string
	MessageID string
	SessionID string
	Type      PartType
	// Text is the full snapshot of the part so far. HasText distinguishes an
	// empty snapshot from an absent one.
	Text    string
	HasText bool
	Tool    string
	CallID  string
	State   *ToolState
	Tokens  *types.TokenUsage
	Cost    float64
}

type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolErrored   ToolStatus = "error"
)

type ToolState struct {
	Status   ToolStatus
	Input    map[string]any
	Output   any
	Error    string
	Title    string
	Metadata map[string]any
	Start    int64
	End      int64
}

type MessageInfo struct {
	ID        string
	SessionID string
	Role      types.Role
}

type ErrorInfo struct {
	Name      string
	Message   string
	Category  types.ErrorCategory
	Retryable *bool
}

type Event struct {
	Kind      Kind
	Key       string
	Seq       int64
	SessionID string

	Message *types.MessageRecord
	Info    *MessageInfo
	Part    *Part
	Delta   string
	Error   *ErrorInfo
	URL     string
	Status  string
	Todos   []types.TodoItem
	Diffs   []types.FileDiff
	Session *types.SessionInfo

	// ReceivedAt is stamped by the caller, never by Decode, so folding
	// stays deterministic.
	ReceivedAt time.Time
}

// Terminal reports whether the event ends the current streaming turn.
func (e Event) Terminal() bool {
	switch e.Kind {
	case KindDone, KindSessionIdle, KindSessionError:
		return true
	case KindSessionStatus:
		return e.Status == "idle"
	}
	return false
}
