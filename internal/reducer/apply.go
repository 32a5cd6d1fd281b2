package reducer

import (
	"strings"
	"time"

	"github.com/adhyaay-karnwal/ship/internal/events"
	"github.com/adhyaay-karnwal/ship/internal/types"
)

const syntheticIDLength = 12

// Apply folds one event into prev. Replaying an event that was already
// applied returns prev unchanged. Terminal events carry nothing to fold and
// repeat verbatim every turn, so they are never treated as replays. Neither
// are bare deltas: two identical chunks of text are both kept.
func Apply(prev State, ev events.Event) State {
	if ev.Kind == "" {
		return prev
	}
	dedupe := ev.Key != "" && !ev.Terminal() && !bareDelta(ev)
	if dedupe && prev.Applied(ev.Key) {
		return prev
	}
	next := prev.clone()
	if dedupe {
		next.markApplied(ev.Key)
	}

	switch ev.Kind {
	case events.KindMessage:
		if ev.Message != nil {
			next.mergeRecord(*ev.Message)
		}
	case events.KindMessageUpdated:
		if ev.Info != nil && ev.Info.Role.Valid() {
			next.roles[ev.Info.ID] = ev.Info.Role
		}
	case events.KindPartUpdated:
		if ev.Part != nil {
			next.applyPart(ev)
		}
	case events.KindError:
		next.appendError(ev)
	case events.KindSessionError:
		next.finalize()
		next.Errored = true
		if ev.Error != nil && ev.Error.Message != "" && ev.Error.Name != "MessageAbortedError" {
			next.appendError(ev)
		}
	case events.KindDone, events.KindSessionIdle:
		next.finalize()
	case events.KindSessionStatus:
		if ev.Terminal() {
			next.finalize()
		} else {
			next.Idle = false
		}
	case events.KindPRCreated:
		next.Side.PRURL = ev.URL
		next.appendSystem(types.UIMessage{
			ID:        syntheticID("pr", ev, ev.URL),
			Role:      types.RoleSystem,
			Content:   "Draft PR created: " + ev.URL,
			Type:      types.MessageTypePRNotification,
			CreatedAt: ev.ReceivedAt,
			Phase:     types.PhaseFinalized,
		})
	case events.KindAgentURL:
		next.Side.AgentURL = ev.URL
	case events.KindSandboxStatus:
		next.Side.SandboxStatus = ev.Status
	case events.KindTodoUpdated:
		next.Side.Todos = append([]types.TodoItem{}, ev.Todos...)
	case events.KindSessionDiff:
		next.Side.Diffs = append([]types.FileDiff{}, ev.Diffs...)
	case events.KindSessionUpdated:
		if ev.Session != nil {
			info := *ev.Session
			next.Side.Info = &info
			if info.Title != "" {
				next.Side.Title = info.Title
			}
			next.Side = next.Side.Clone()
		}
	}
	return next
}

// bareDelta reports a part update carrying only appended text, with no
// snapshot and no sequence number to tell a replay from a repeated chunk.
func bareDelta(ev events.Event) bool {
	return ev.Kind == events.KindPartUpdated && ev.Part != nil &&
		!ev.Part.HasText && ev.Seq == 0 && ev.Delta != ""
}

// Append adds a locally produced message, skipping it when a message with
// the same identity is already present.
func Append(prev State, msg types.UIMessage) State {
	if containsIdentity(prev.Messages, msg.ID, msg.Role, msg.Content) {
		return prev
	}
	next := prev.clone()
	if msg.Phase == "" {
		msg.Phase = types.PhaseFinalized
	}
	next.Messages = append(next.Messages, msg.Clone())
	if msg.Role.Valid() {
		next.roles[msg.ID] = msg.Role
	}
	return next
}

// Backfill inserts history records that are not already present ahead of
// the live messages, preserving the order of records.
func Backfill(prev State, records []types.MessageRecord) State {
	history := make([]types.UIMessage, 0, len(records))
	for _, record := range records {
		if record.ID == "" || !record.Role.Valid() {
			continue
		}
		if containsIdentity(prev.Messages, record.ID, record.Role, record.Content) ||
			containsIdentity(history, record.ID, record.Role, record.Content) {
			continue
		}
		history = append(history, recordMessage(record))
	}
	if len(history) == 0 {
		return prev
	}
	next := prev.clone()
	next.Messages = append(history, next.Messages...)
	for _, msg := range history {
		next.roles[msg.ID] = msg.Role
	}
	return next
}

// Finalize ends the streaming message without waiting for a terminal event.
func Finalize(prev State) State {
	if prev.ActiveMessageID == "" && !hasStreaming(prev.Messages) {
		return prev
	}
	next := prev.clone()
	next.finalize()
	return next
}

func hasStreaming(messages []types.UIMessage) bool {
	for _, msg := range messages {
		if msg.Phase == types.PhaseStreaming {
			return true
		}
	}
	return false
}

// containsIdentity matches by id, or by role plus exact content so a message
// delivered over two channels with different ids is kept once.
func containsIdentity(messages []types.UIMessage, id string, role types.Role, content string) bool {
	for _, msg := range messages {
		if id != "" && msg.ID == id {
			return true
		}
		if content != "" && msg.Role == role && msg.Content == content {
			return true
		}
	}
	return false
}

func recordMessage(record types.MessageRecord) types.UIMessage {
	return types.UIMessage{
		ID:        record.ID,
		Role:      record.Role,
		Content:   record.Content,
		CreatedAt: record.Time(),
		Phase:     types.PhaseFinalized,
	}
}

func (s *State) mergeRecord(record types.MessageRecord) {
	s.roles[record.ID] = record.Role
	if idx := s.indexOf(record.ID); idx >= 0 {
		msg := s.Messages[idx].Clone()
		msg.Role = record.Role
		msg.Content = record.Content
		msg.Phase = types.PhaseFinalized
		s.Messages[idx] = msg
		track := s.parts[record.ID].clone()
		track.authoritative = true
		s.parts[record.ID] = track
		if s.ActiveMessageID == record.ID {
			s.ActiveMessageID = ""
		}
		return
	}
	if containsIdentity(s.Messages, "", record.Role, record.Content) {
		return
	}
	s.Messages = append(s.Messages, recordMessage(record))
}

func (s *State) applyPart(ev events.Event) {
	part, delta, seq, at := *ev.Part, ev.Delta, ev.Seq, ev.ReceivedAt
	msgID := part.MessageID
	if msgID == "" {
		msgID = s.ActiveMessageID
	}
	if msgID == "" {
		// Frames without a message id start a message of their own.
		msgID = syntheticID("stream", ev, part.ID)
	}
	if s.roles[msgID] == types.RoleUser {
		return
	}
	if seq > 0 {
		if last, ok := s.seqs[msgID]; ok && seq <= last {
			return
		}
		s.seqs[msgID] = seq
	}

	idx := s.indexOf(msgID)
	if idx < 0 {
		role := s.roles[msgID]
		if !role.Valid() {
			role = types.RoleAssistant
		}
		s.Messages = append(s.Messages, types.UIMessage{
			ID:        msgID,
			Role:      role,
			CreatedAt: at,
			Phase:     types.PhaseStreaming,
		})
		idx = len(s.Messages) - 1
	}
	msg := s.Messages[idx].Clone()
	if msg.Phase != types.PhaseFinalized {
		msg.Phase = types.PhaseStreaming
		s.ActiveMessageID = msgID
		s.Idle = false
	}

	track := s.parts[msgID].clone()
	switch part.Type {
	case events.PartText:
		track.text = mergeSegment(track.text, part.ID, part.Text, part.HasText, delta)
		joined := joinSegments(track.text)
		if !track.authoritative || strings.HasPrefix(joined, msg.Content) {
			msg.Content = joined
		}
	case events.PartReasoning:
		track.reasoning = mergeSegment(track.reasoning, part.ID, part.Text, part.HasText, delta)
		msg.Reasoning = make([]string, 0, len(track.reasoning))
		for _, seg := range track.reasoning {
			msg.Reasoning = append(msg.Reasoning, seg.text)
		}
	case events.PartTool:
		msg.Tools = upsertTool(msg.Tools, toolFromPart(part))
	case events.PartStepFinish:
		if _, counted := s.steps[part.ID]; part.ID != "" && !counted {
			s.steps[part.ID] = struct{}{}
			s.Side.TotalCost += part.Cost
			step := types.StepCost{Cost: part.Cost}
			if part.Tokens != nil {
				step.Tokens = *part.Tokens
			}
			s.Side.LastStep = &step
		}
	}
	s.parts[msgID] = track
	s.Messages[idx] = msg
}

// mergeSegment appends deltas and takes a snapshot as the whole text of the
// segment, unless it is a shorter prefix of what is already there.
func mergeSegment(segments []segment, id, snapshot string, hasSnapshot bool, delta string) []segment {
	idx := -1
	for i := range segments {
		if segments[i].id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		segments = append(segments, segment{id: id})
		idx = len(segments) - 1
	}
	current := segments[idx].text
	switch {
	case hasSnapshot:
		if len(snapshot) >= len(current) || !strings.HasPrefix(current, snapshot) {
			current = snapshot
		}
	case delta != "":
		current += delta
	}
	segments[idx].text = current
	return segments
}

func joinSegments(segments []segment) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(seg.text)
	}
	return b.String()
}

func toolFromPart(part events.Part) types.ToolInvocation {
	inv := types.ToolInvocation{
		CallID: part.CallID,
		Name:   part.Tool,
		State:  types.ToolPartialCall,
	}
	state := part.State
	if state == nil {
		return inv
	}
	inv.Args = state.Input
	inv.Title = state.Title
	inv.Metadata = state.Metadata
	switch state.Status {
	case events.ToolRunning:
		inv.State = types.ToolCall
	case events.ToolCompleted:
		inv.State = types.ToolResult
		inv.Result = state.Output
	case events.ToolErrored:
		inv.State = types.ToolError
		if state.Error != "" {
			inv.Result = state.Error
		} else {
			inv.Result = state.Output
		}
	}
	if state.Start > 0 && state.End >= state.Start {
		inv.Duration = time.Duration(state.End-state.Start) * time.Millisecond
	}
	return inv
}

func upsertTool(tools []types.ToolInvocation, update types.ToolInvocation) []types.ToolInvocation {
	for i, existing := range tools {
		if existing.CallID != update.CallID {
			continue
		}
		if update.State.Rank() < existing.State.Rank() {
			return tools
		}
		if existing.State.Terminal() && update.State != existing.State {
			return tools
		}
		merged := existing
		merged.State = update.State
		if update.Name != "" {
			merged.Name = update.Name
		}
		if update.Args != nil {
			merged.Args = update.Args
		}
		if update.Result != nil {
			merged.Result = update.Result
		}
		if update.Title != "" {
			merged.Title = update.Title
		}
		if update.Metadata != nil {
			merged.Metadata = update.Metadata
		}
		if update.Duration > 0 {
			merged.Duration = update.Duration
		}
		tools[i] = merged
		return tools
	}
	return append(tools, update)
}

func (s *State) finalize() {
	for i := range s.Messages {
		if s.Messages[i].Phase == types.PhaseStreaming {
			msg := s.Messages[i].Clone()
			msg.Phase = types.PhaseFinalized
			s.Messages[i] = msg
		}
	}
	s.ActiveMessageID = ""
	s.Idle = true
}

func (s *State) appendError(ev events.Event) {
	info := ev.Error
	if info == nil {
		info = &events.ErrorInfo{}
	}
	text := strings.TrimSpace(info.Message)
	if text == "" {
		text = "An error occurred"
	}
	category := info.Category
	if !category.Valid() {
		category = Classify(text)
	}
	retryable := category == types.ErrorTransient
	if info.Retryable != nil {
		retryable = *info.Retryable
	}
	s.appendSystem(types.UIMessage{
		ID:            syntheticID("err", ev, text),
		Role:          types.RoleSystem,
		Content:       text,
		Type:          types.MessageTypeError,
		CreatedAt:     ev.ReceivedAt,
		Phase:         types.PhaseFinalized,
		ErrorCategory: category,
		Retryable:     retryable,
	})
}

func (s *State) appendSystem(msg types.UIMessage) {
	if s.indexOf(msg.ID) >= 0 {
		return
	}
	s.Messages = append(s.Messages, msg)
	s.roles[msg.ID] = msg.Role
}

// syntheticID derives a stable id from the event key so a replayed frame
// maps onto the message it already produced.
func syntheticID(prefix string, ev events.Event, content string) string {
	key := ev.Key
	if key == "" {
		key = events.Fingerprint([]byte(content + "|" + ev.ReceivedAt.UTC().Format(time.RFC3339Nano)))
	}
	if len(key) > syntheticIDLength {
		key = key[:syntheticIDLength]
	}
	return prefix + "-" + key
}
