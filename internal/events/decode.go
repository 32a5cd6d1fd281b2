package events

import (
	"bytes"
	"encoding/json"
	"hash/fnv"
	"math"
	"strconv"
	"strings"

	"github.com/adhyaay-karnwal/ship/internal/types"
)

const doneSentinel = "[DONE]"

// Decode parses one pushed frame. It accepts the flat envelope used by the
// control plane ({"type":"error","message":"..."}), the agent envelope
// ({"type":"...","properties":{...}}), the message route's {"type":"text",
// "data":...} frames, SSE "data:" prefixes, and the [DONE] sentinel. Frames it
// does not understand report false.
func Decode(raw []byte) (Event, bool) {
	frame := bytes.TrimSpace(raw)
	if rest, ok := bytes.CutPrefix(frame, []byte("data:")); ok {
		frame = bytes.TrimSpace(rest)
	}
	if len(frame) == 0 {
		return Event{}, false
	}
	key := Fingerprint(frame)
	if string(frame) == doneSentinel {
		return Event{Kind: KindDone, Key: key}, true
	}
	if frame[0] != '{' {
		return Event{}, false
	}
	var envelope map[string]any
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return Event{}, false
	}
	kind := Kind(stringField(envelope, "type"))
	if kind == "" {
		return Event{}, false
	}
	props := envelope
	if nested, ok := envelope["properties"].(map[string]any); ok {
		props = nested
	}

	ev := Event{
		Kind:      kind,
		Key:       key,
		Seq:       firstInt(props, envelope, "seq", "sequence"),
		SessionID: firstString(props, "sessionID", "sessionId", "session_id"),
	}
	if ok := decodeKind(&ev, envelope, props); !ok {
		return Event{}, false
	}
	return ev, true
}

// Fingerprint identifies a frame by content so replays can be recognised.
func Fingerprint(frame []byte) string {
	h := fnv.New64a()
	_, _ = h.Write(frame)
	return strconv.FormatUint(h.Sum64(), 16)
}

func decodeKind(ev *Event, envelope, props map[string]any) bool {
	switch ev.Kind {
	case KindMessage:
		record, ok := decodeRecord(envelope["message"])
		if !ok {
			return false
		}
		ev.Message = &record
	case KindMessageUpdated:
		info, ok := props["info"].(map[string]any)
		if !ok {
			return false
		}
		id := stringField(info, "id")
		if id == "" {
			return false
		}
		ev.Info = &MessageInfo{
			ID:        id,
			SessionID: firstString(info, "sessionID", "sessionId"),
			Role:      types.Role(stringField(info, "role")),
		}
		if ev.SessionID == "" {
			ev.SessionID = ev.Info.SessionID
		}
	case KindPartUpdated:
		raw, ok := props["part"].(map[string]any)
		if !ok {
			return false
		}
		part, ok := decodePart(raw)
		if !ok {
			return false
		}
		ev.Part = &part
		ev.Delta, _ = props["delta"].(string)
		if ev.SessionID == "" {
			ev.SessionID = part.SessionID
		}
	case KindError:
		ev.Error = decodeFlatError(envelope)
	case KindSessionError:
		ev.Error = decodeSessionError(props["error"])
	case KindPRCreated:
		ev.URL = firstString(props, "prUrl", "url")
		if ev.URL == "" {
			return false
		}
	case KindAgentURL:
		ev.URL = firstString(props, "url")
		if ev.URL == "" {
			return false
		}
	case KindSandboxStatus:
		ev.Status = firstString(props, "status")
		if ev.Status == "" {
			return false
		}
	case KindSessionStatus:
		switch status := props["status"].(type) {
		case string:
			ev.Status = status
		case map[string]any:
			ev.Status = stringField(status, "type")
		}
		if ev.Status != "idle" && ev.Status != "busy" && ev.Status != "retry" {
			return false
		}
	case KindTodoUpdated:
		items, ok := props["todos"].([]any)
		if !ok {
			return false
		}
		ev.Todos = decodeTodos(items)
	case KindSessionDiff:
		items, ok := props["diff"].([]any)
		if !ok {
			return false
		}
		ev.Diffs = decodeDiffs(items)
	case KindSessionUpdated:
		info, ok := props["info"].(map[string]any)
		if !ok {
			return false
		}
		ev.Session = decodeSessionInfo(info)
	case KindText:
		text, _ := envelope["data"].(string)
		if text == "" {
			return false
		}
		ev.Kind = KindPartUpdated
		ev.Part = &Part{ID: StreamTextPartID, Type: PartText}
		ev.Delta = text
	case KindToolCall, KindToolResult:
		part, ok := decodeRouteTool(ev.Kind, envelope["data"])
		if !ok {
			return false
		}
		ev.Kind = KindPartUpdated
		ev.Part = &part
	case KindSessionIdle, KindDone:
	default:
		return false
	}
	return true
}

func decodeRouteTool(kind Kind, value any) (Part, bool) {
	raw, ok := value.(map[string]any)
	if !ok {
		return Part{}, false
	}
	name := firstString(raw, "name", "tool", "toolName")
	callID := firstString(raw, "id", "callID", "callId", "toolCallId")
	if callID == "" && name != "" {
		callID = "tool-" + name
	}
	if callID == "" {
		return Part{}, false
	}
	part := Part{ID: callID, Type: PartTool, Tool: name, CallID: callID}
	if kind == KindToolCall {
		state := &ToolState{Status: ToolRunning}
		for _, key := range []string{"args", "input", "arguments"} {
			if input, ok := decodeArgs(raw[key]); ok {
				state.Input = input
				break
			}
		}
		part.State = state
		return part, true
	}
	state := &ToolState{Status: ToolCompleted}
	for _, key := range []string{"result", "output", "content"} {
		if out, ok := raw[key]; ok && out != nil {
			state.Output = out
			break
		}
	}
	switch v := raw["error"].(type) {
	case string:
		if v != "" {
			state.Status = ToolErrored
			state.Error = v
		}
	case map[string]any:
		state.Status = ToolErrored
		state.Error = errorText(v)
	case bool:
		if v {
			state.Status = ToolErrored
		}
	}
	if failed, _ := raw["isError"].(bool); failed {
		state.Status = ToolErrored
	}
	part.State = state
	return part, true
}

// decodeArgs accepts tool arguments as an object or as a JSON-encoded object.
func decodeArgs(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case string:
		var out map[string]any
		if err := json.Unmarshal([]byte(v), &out); err != nil || out == nil {
			return nil, false
		}
		return out, true
	}
	return nil, false
}

func decodeRecord(value any) (types.MessageRecord, bool) {
	raw, ok := value.(map[string]any)
	if !ok {
		return types.MessageRecord{}, false
	}
	record := types.MessageRecord{
		ID:      stringField(raw, "id"),
		Role:    types.Role(stringField(raw, "role")),
		Content: stringField(raw, "content"),
	}
	if record.ID == "" || !record.Role.Valid() {
		return types.MessageRecord{}, false
	}
	record.CreatedAt, _ = intField(raw, "createdAt")
	return record, true
}

func decodePart(raw map[string]any) (Part, bool) {
	part := Part{
		ID:        stringField(raw, "id"),
		MessageID: firstString(raw, "messageID", "messageId"),
		SessionID: firstString(raw, "sessionID", "sessionId"),
		Type:      PartType(stringField(raw, "type")),
	}
	switch part.Type {
	case PartText, PartReasoning:
		part.Text, part.HasText = raw["text"].(string)
	case PartTool:
		part.Tool = stringField(raw, "tool")
		part.CallID = firstString(raw, "callID", "callId")
		if part.CallID == "" {
			part.CallID = part.ID
		}
		if part.CallID == "" {
			return Part{}, false
		}
		if state, ok := raw["state"].(map[string]any); ok {
			part.State = decodeToolState(state)
		}
	case PartStepFinish:
		part.Cost, _ = floatField(raw, "cost")
		if tokens, ok := raw["tokens"].(map[string]any); ok {
			part.Tokens = decodeTokens(tokens)
		}
	case PartStepStart:
	default:
		return Part{}, false
	}
	return part, true
}

func decodeToolState(raw map[string]any) *ToolState {
	state := &ToolState{
		Status: ToolStatus(stringField(raw, "status")),
		Output: raw["output"],
		Title:  stringField(raw, "title"),
	}
	state.Input, _ = raw["input"].(map[string]any)
	state.Metadata, _ = raw["metadata"].(map[string]any)
	switch v := raw["error"].(type) {
	case string:
		state.Error = v
	case map[string]any:
		state.Error = errorText(v)
	}
	if timing, ok := raw["time"].(map[string]any); ok {
		state.Start, _ = intField(timing, "start")
		state.End, _ = intField(timing, "end")
	}
	return state
}

func decodeTokens(raw map[string]any) *types.TokenUsage {
	usage := &types.TokenUsage{}
	usage.Input, _ = intValue(raw["input"])
	usage.Output, _ = intValue(raw["output"])
	usage.Reasoning, _ = intValue(raw["reasoning"])
	if cache, ok := raw["cache"].(map[string]any); ok {
		usage.CacheRead, _ = intValue(cache["read"])
		usage.CacheWrite, _ = intValue(cache["write"])
	}
	return usage
}

func decodeFlatError(envelope map[string]any) *ErrorInfo {
	info := &ErrorInfo{}
	switch v := envelope["message"].(type) {
	case string:
		info.Message = v
	case map[string]any:
		info.Message = errorText(v)
	}
	if info.Message == "" {
		switch v := envelope["data"].(type) {
		case string:
			info.Message = v
		case map[string]any:
			info.Message = errorText(v)
		}
	}
	if info.Message == "" {
		if nested, ok := envelope["error"].(map[string]any); ok {
			info.Name = stringField(nested, "name")
			info.Message = errorText(nested)
		} else if text, ok := envelope["error"].(string); ok {
			info.Message = text
		}
	}
	category := types.ErrorCategory(stringField(envelope, "category"))
	if category.Valid() {
		info.Category = category
	}
	if retryable, ok := envelope["retryable"].(bool); ok {
		info.Retryable = &retryable
	}
	return info
}

func decodeSessionError(value any) *ErrorInfo {
	raw, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	return &ErrorInfo{
		Name:    stringField(raw, "name"),
		Message: errorText(raw),
	}
}

func errorText(raw map[string]any) string {
	if text := stringField(raw, "message"); text != "" {
		return text
	}
	if data, ok := raw["data"].(map[string]any); ok {
		return stringField(data, "message")
	}
	return ""
}

func decodeTodos(items []any) []types.TodoItem {
	out := make([]types.TodoItem, 0, len(items))
	for i, item := range items {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		todo := types.TodoItem{
			ID:       stringField(raw, "id"),
			Content:  stringField(raw, "content"),
			Status:   types.TodoStatus(stringField(raw, "status")),
			Priority: types.TodoPriority(stringField(raw, "priority")),
		}
		if todo.ID == "" {
			todo.ID = strconv.Itoa(i)
		}
		switch todo.Status {
		case types.TodoPending, types.TodoInProgress, types.TodoCompleted, types.TodoCancelled:
		default:
			todo.Status = types.TodoPending
		}
		switch todo.Priority {
		case types.TodoHigh, types.TodoMedium, types.TodoLow:
		default:
			todo.Priority = types.TodoMedium
		}
		out = append(out, todo)
	}
	return out
}

func decodeDiffs(items []any) []types.FileDiff {
	out := make([]types.FileDiff, 0, len(items))
	for _, item := range items {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		diff := types.FileDiff{File: firstString(raw, "file", "filename", "path")}
		if diff.File == "" {
			continue
		}
		diff.Additions, _ = intValue(raw["additions"])
		diff.Deletions, _ = intValue(raw["deletions"])
		out = append(out, diff)
	}
	return out
}

func decodeSessionInfo(raw map[string]any) *types.SessionInfo {
	info := &types.SessionInfo{
		ID:    stringField(raw, "id"),
		Title: stringField(raw, "title"),
	}
	if vcs, ok := raw["vcs"].(map[string]any); ok {
		out := &types.VCSInfo{
			Branch: stringField(vcs, "branch"),
			PRURL:  firstString(vcs, "prUrl", "pr_url"),
		}
		out.Dirty, _ = vcs["dirty"].(bool)
		out.Ahead, _ = intValue(vcs["ahead"])
		out.Behind, _ = intValue(vcs["behind"])
		info.VCS = out
	}
	return info
}

func stringField(raw map[string]any, key string) string {
	value, _ := raw[key].(string)
	return strings.TrimSpace(value)
}

func firstString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if value := stringField(raw, key); value != "" {
			return value
		}
	}
	return ""
}

func firstInt(primary, fallback map[string]any, keys ...string) int64 {
	for _, raw := range []map[string]any{primary, fallback} {
		for _, key := range keys {
			if value, ok := intField(raw, key); ok {
				return value
			}
		}
	}
	return 0
}

func intField(raw map[string]any, key string) (int64, bool) {
	value, ok := floatField(raw, key)
	if !ok {
		return 0, false
	}
	return int64(value), true
}

func intValue(value any) (int, bool) {
	number, ok := value.(float64)
	if !ok || math.IsNaN(number) {
		return 0, false
	}
	return int(number), true
}

func floatField(raw map[string]any, key string) (float64, bool) {
	value, ok := raw[key].(float64)
	if !ok || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}
