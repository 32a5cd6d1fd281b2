package reducer

import (
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/adhyaay-karnwal/ship/internal/events"
	"github.com/adhyaay-karnwal/ship/internal/types"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func decode(t *testing.T, frame string) events.Event {
	t.Helper()
	ev, ok := events.Decode([]byte(frame))
	if !ok {
		t.Fatalf("frame did not decode: %s", frame)
	}
	ev.ReceivedAt = testNow
	return ev
}

func applyAll(t *testing.T, state State, frames ...string) State {
	t.Helper()
	for _, frame := range frames {
		state = Apply(state, decode(t, frame))
	}
	return state
}

func textPart(msgID, partID, text, delta string) string {
	return fmt.Sprintf(`{"type":"message.part.updated","properties":{"part":{"id":%q,"messageID":%q,"type":"text","text":%q},"delta":%q}}`, partID, msgID, text, delta)
}

func toolPart(msgID, callID, status string) string {
	return fmt.Sprintf(`{"type":"message.part.updated","properties":{"part":{"id":"part-%s","messageID":%q,"type":"tool","tool":"bash","callID":%q,"state":{"status":%q,"input":{"command":"ls"},"output":"ok"}}}}`, callID, msgID, callID, status)
}

func TestApplyIsIdempotent(t *testing.T) {
	frames := []string{
		textPart("m1", "p1", "Hel", "Hel"),
		textPart("m1", "p1", "Hello", "lo"),
		toolPart("m1", "c1", "running"),
		`{"type":"message.part.updated","properties":{"part":{"id":"step-1","messageID":"m1","type":"step-finish","cost":0.5,"tokens":{"input":10,"output":5}}}}`,
		`{"type":"error","message":"Rate limit exceeded"}`,
		`{"type":"todo.updated","properties":{"todos":[{"id":"1","content":"x","status":"pending","priority":"low"}]}}`,
	}
	once := applyAll(t, NewState(), frames...)
	twice := once
	for _, frame := range frames {
		twice = Apply(twice, decode(t, frame))
	}
	if diff := cmp.Diff(once.Messages, twice.Messages); diff != "" {
		t.Fatalf("replay changed messages (-once +twice):\n%s", diff)
	}
	if diff := cmp.Diff(once.Side, twice.Side); diff != "" {
		t.Fatalf("replay changed side channel (-once +twice):\n%s", diff)
	}
	if once.Side.TotalCost != 0.5 {
		t.Fatalf("unexpected total cost: %v", once.Side.TotalCost)
	}
}

func TestApplyIgnoresStaleSnapshots(t *testing.T) {
	a := textPart("m1", "p1", "Hello", "Hello")
	b := textPart("m1", "p1", "Hello world", " world")

	inOrder := applyAll(t, NewState(), a, b)
	reordered := applyAll(t, NewState(), b, a)

	for name, state := range map[string]State{"in order": inOrder, "reordered": reordered} {
		msg, ok := state.Message("m1")
		if !ok {
			t.Fatalf("%s: message missing", name)
		}
		if msg.Content != "Hello world" {
			t.Fatalf("%s: unexpected content %q", name, msg.Content)
		}
	}
}

func TestApplyAppendsBareDeltas(t *testing.T) {
	state := applyAll(t, NewState(),
		`{"type":"message.part.updated","properties":{"part":{"id":"p1","messageID":"m1","type":"text"},"delta":"Hello"}}`,
		`{"type":"message.part.updated","properties":{"part":{"id":"p1","messageID":"m1","type":"text"},"delta":", world"}}`,
		textPart("m1", "p2", "Second part.", ""),
	)
	msg, _ := state.Message("m1")
	if msg.Content != "Hello, worldSecond part." {
		t.Fatalf("unexpected content: %q", msg.Content)
	}
	if msg.Phase != types.PhaseStreaming || state.ActiveMessageID != "m1" {
		t.Fatalf("expected m1 streaming, got phase=%q active=%q", msg.Phase, state.ActiveMessageID)
	}
}

func TestApplyDropsOutOfOrderSequence(t *testing.T) {
	state := applyAll(t, NewState(),
		`{"type":"message.part.updated","seq":2,"properties":{"part":{"id":"p1","messageID":"m1","type":"text"},"delta":"B"}}`,
		`{"type":"message.part.updated","seq":1,"properties":{"part":{"id":"p1","messageID":"m1","type":"text"},"delta":"A"}}`,
		`{"type":"message.part.updated","seq":3,"properties":{"part":{"id":"p1","messageID":"m1","type":"text"},"delta":"C"}}`,
	)
	msg, _ := state.Message("m1")
	if msg.Content != "BC" {
		t.Fatalf("unexpected content: %q", msg.Content)
	}
}

func TestToolStateOnlyAdvances(t *testing.T) {
	state := applyAll(t, NewState(),
		toolPart("m1", "c1", "completed"),
		toolPart("m1", "c1", "running"),
		toolPart("m1", "c1", "pending"),
		toolPart("m1", "c1", "error"),
	)
	msg, _ := state.Message("m1")
	tool, ok := msg.Tool("c1")
	if !ok {
		t.Fatalf("tool missing")
	}
	if tool.State != types.ToolResult || tool.Result != "ok" {
		t.Fatalf("unexpected tool: %#v", tool)
	}
	if len(msg.Tools) != 1 {
		t.Fatalf("expected one tool invocation, got %d", len(msg.Tools))
	}

	progressed := applyAll(t, NewState(),
		toolPart("m1", "c2", "pending"),
		toolPart("m1", "c2", "running"),
	)
	msg, _ = progressed.Message("m1")
	if tool, _ := msg.Tool("c2"); tool.State != types.ToolCall {
		t.Fatalf("expected call state, got %q", tool.State)
	}
}

func TestTodosAndDiffsAreReplacedWholesale(t *testing.T) {
	state := applyAll(t, NewState(),
		`{"type":"todo.updated","properties":{"todos":[{"id":"1","content":"a","status":"pending","priority":"high"},{"id":"2","content":"b","status":"pending","priority":"low"}]}}`,
		`{"type":"todo.updated","properties":{"todos":[{"id":"3","content":"c","status":"completed","priority":"medium"}]}}`,
		`{"type":"session.diff","properties":{"diff":[{"file":"a.go","additions":1,"deletions":0}]}}`,
		`{"type":"session.diff","properties":{"diff":[]}}`,
	)
	want := []types.TodoItem{{ID: "3", Content: "c", Status: types.TodoCompleted, Priority: types.TodoMedium}}
	if diff := cmp.Diff(want, state.Side.Todos); diff != "" {
		t.Fatalf("unexpected todos (-want +got):\n%s", diff)
	}
	if len(state.Side.Diffs) != 0 {
		t.Fatalf("expected diffs cleared, got %#v", state.Side.Diffs)
	}
}

func TestMessageRecordsDedupeByIdentity(t *testing.T) {
	state := Append(NewState(), types.UIMessage{ID: "local-1", Role: types.RoleUser, Content: "fix the bug", CreatedAt: testNow})
	state = applyAll(t, state,
		`{"type":"message","message":{"id":"srv-1","role":"user","content":"fix the bug","createdAt":1700000000}}`,
		`{"type":"message","message":{"id":"srv-2","role":"assistant","content":"Done.","createdAt":1700000001}}`,
		`{"type":"message","message":{"id":"srv-2","role":"assistant","content":"Done.","createdAt":1700000001}}`,
	)
	if len(state.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d: %#v", len(state.Messages), state.Messages)
	}
	if state.Messages[0].ID != "local-1" || state.Messages[1].ID != "srv-2" {
		t.Fatalf("unexpected order: %q, %q", state.Messages[0].ID, state.Messages[1].ID)
	}
}

func TestMessageRecordFinalizesStreamingMessage(t *testing.T) {
	state := applyAll(t, NewState(),
		textPart("m1", "p1", "Partial", "Partial"),
		`{"type":"message","message":{"id":"m1","role":"assistant","content":"Partial answer, complete.","createdAt":1700000000}}`,
		textPart("m1", "p1", "Partial answer", ""),
	)
	msg, _ := state.Message("m1")
	if msg.Content != "Partial answer, complete." || msg.Phase != types.PhaseFinalized {
		t.Fatalf("unexpected message: %#v", msg)
	}
	if state.Streaming() {
		t.Fatalf("record should clear the active marker")
	}
}

func TestTerminalEventsFinalize(t *testing.T) {
	for _, terminal := range []string{
		`{"type":"done"}`,
		`{"type":"session.idle","properties":{"sessionID":"s1"}}`,
		`{"type":"session.status","properties":{"status":{"type":"idle"}}}`,
	} {
		state := applyAll(t, NewState(), textPart("m1", "p1", "Hi", "Hi"), terminal)
		msg, _ := state.Message("m1")
		if msg.Phase != types.PhaseFinalized || state.Streaming() || !state.Idle {
			t.Fatalf("%s: expected finalized idle state, got phase=%q active=%q", terminal, msg.Phase, state.ActiveMessageID)
		}
	}
}

func TestSessionErrorRecordsErrorMessage(t *testing.T) {
	state := applyAll(t, NewState(),
		textPart("m1", "p1", "Working", "Working"),
		`{"type":"session.error","properties":{"error":{"name":"APIError","data":{"message":"Overloaded"}}}}`,
	)
	if !state.Errored || state.Streaming() {
		t.Fatalf("expected errored idle state")
	}
	last := state.Messages[len(state.Messages)-1]
	if last.Type != types.MessageTypeError || last.ErrorCategory != types.ErrorTransient || !last.Retryable {
		t.Fatalf("unexpected error message: %#v", last)
	}

	aborted := applyAll(t, NewState(),
		textPart("m1", "p1", "Working", "Working"),
		`{"type":"session.error","properties":{"error":{"name":"MessageAbortedError","data":{"message":"aborted"}}}}`,
	)
	if len(aborted.Messages) != 1 {
		t.Fatalf("abort should not add an error message: %#v", aborted.Messages)
	}
}

func TestErrorNeverTouchesStreamingMessage(t *testing.T) {
	state := applyAll(t, NewState(),
		textPart("m1", "p1", "Half", "Half"),
		`{"type":"error","message":"Your credit balance is too low"}`,
		textPart("m1", "p1", "Half done", " done"),
	)
	msg, _ := state.Message("m1")
	if msg.Content != "Half done" {
		t.Fatalf("unexpected content: %q", msg.Content)
	}
	errMsg := state.Messages[1]
	if errMsg.ErrorCategory != types.ErrorUserAction || errMsg.Retryable || errMsg.Role != types.RoleSystem {
		t.Fatalf("unexpected error message: %#v", errMsg)
	}
}

func TestUserPartsAreIgnored(t *testing.T) {
	state := applyAll(t, NewState(),
		`{"type":"message.updated","properties":{"info":{"id":"u1","role":"user","sessionID":"s1"}}}`,
		textPart("u1", "p1", "echo of my prompt", ""),
	)
	if len(state.Messages) != 0 || state.Streaming() {
		t.Fatalf("user parts should be ignored: %#v", state.Messages)
	}
}

func TestStepCostCountedOncePerPart(t *testing.T) {
	step := func(id string, cost float64) string {
		return fmt.Sprintf(`{"type":"message.part.updated","properties":{"part":{"id":%q,"messageID":"m1","type":"step-finish","cost":%v,"tokens":{"input":1}}},"seq":0,"nonce":%q}`, id, cost, id+fmt.Sprint(cost))
	}
	state := applyAll(t, NewState(), step("s1", 0.25), step("s2", 0.5))
	// a re-delivered step with a different envelope must not double count
	state = Apply(state, decode(t, `{"type":"message.part.updated","properties":{"part":{"id":"s1","messageID":"m1","type":"step-finish","cost":0.25}},"resent":true}`))
	if state.Side.TotalCost != 0.75 {
		t.Fatalf("unexpected total cost: %v", state.Side.TotalCost)
	}
	if state.Side.LastStep == nil || state.Side.LastStep.Cost != 0.5 {
		t.Fatalf("unexpected last step: %#v", state.Side.LastStep)
	}
}

func TestPRAndSideChannelEvents(t *testing.T) {
	state := applyAll(t, NewState(),
		`{"type":"pr-created","prUrl":"https://github.com/o/r/pull/7"}`,
		`{"type":"opencode-url","url":"https://agent.example.test"}`,
		`{"type":"sandbox-status","status":"running"}`,
		`{"type":"session.updated","properties":{"info":{"id":"s1","title":"Fix login","vcs":{"branch":"ship/fix","ahead":1}}}}`,
	)
	if len(state.Messages) != 1 || state.Messages[0].Type != types.MessageTypePRNotification {
		t.Fatalf("expected one PR notification, got %#v", state.Messages)
	}
	if state.Messages[0].Content != "Draft PR created: https://github.com/o/r/pull/7" {
		t.Fatalf("unexpected PR content: %q", state.Messages[0].Content)
	}
	want := types.SideChannel{
		PRURL:         "https://github.com/o/r/pull/7",
		AgentURL:      "https://agent.example.test",
		SandboxStatus: "running",
		Title:         "Fix login",
		Info:          &types.SessionInfo{ID: "s1", Title: "Fix login", VCS: &types.VCSInfo{Branch: "ship/fix", Ahead: 1}},
	}
	if diff := cmp.Diff(want, state.Side); diff != "" {
		t.Fatalf("unexpected side channel (-want +got):\n%s", diff)
	}
}

func TestBackfillPrependsMissingHistory(t *testing.T) {
	live := applyAll(t, NewState(), textPart("m3", "p1", "live reply", "live reply"))
	history := []types.MessageRecord{
		{ID: "m1", Role: types.RoleUser, Content: "hi", CreatedAt: 1700000000},
		{ID: "m2", Role: types.RoleAssistant, Content: "hello", CreatedAt: 1700000001},
		{ID: "m3", Role: types.RoleAssistant, Content: "live reply", CreatedAt: 1700000002},
	}
	state := Backfill(live, history)
	ids := make([]string, 0, len(state.Messages))
	for _, msg := range state.Messages {
		ids = append(ids, msg.ID)
	}
	if diff := cmp.Diff([]string{"m1", "m2", "m3"}, ids); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	again := Backfill(state, history)
	if diff := cmp.Diff(state.Messages, again.Messages, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("second backfill changed messages (-first +second):\n%s", diff)
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	before := applyAll(t, NewState(), textPart("m1", "p1", "Hi", "Hi"), toolPart("m1", "c1", "pending"))
	snapshot := append([]types.UIMessage(nil), before.Messages...)
	snapshot[0] = snapshot[0].Clone()

	_ = applyAll(t, before, textPart("m1", "p1", "Hi there", " there"), toolPart("m1", "c1", "completed"))

	if diff := cmp.Diff(snapshot, before.Messages); diff != "" {
		t.Fatalf("input state was mutated (-want +got):\n%s", diff)
	}
}

func TestTerminalEventsRepeatAcrossTurns(t *testing.T) {
	idle := `{"type":"session.idle","properties":{"sessionID":"s1"}}`
	state := applyAll(t, NewState(),
		textPart("m1", "p1", "first", "first"),
		idle,
		textPart("m2", "p2", "second", "second"),
	)
	if state.ActiveMessageID != "m2" {
		t.Fatalf("expected m2 streaming, got %q", state.ActiveMessageID)
	}
	state = applyAll(t, state, idle)
	msg, _ := state.Message("m2")
	if msg.Phase != types.PhaseFinalized || state.Streaming() {
		t.Fatalf("identical idle frame should end the second turn too, phase=%q", msg.Phase)
	}
}

func TestSnapshotRepairsReorderedDeltas(t *testing.T) {
	state := applyAll(t, NewState(),
		`{"type":"message.part.updated","properties":{"part":{"id":"p1","messageID":"m1","type":"text"},"delta":" world"}}`,
		`{"type":"message.part.updated","properties":{"part":{"id":"p1","messageID":"m1","type":"text"},"delta":"Hello"}}`,
		`{"type":"message.part.updated","properties":{"part":{"id":"p1","messageID":"m1","type":"text"},"delta":"Hello"}}`,
	)
	msg, _ := state.Message("m1")
	if msg.Content != " worldHelloHello" {
		t.Fatalf("unexpected content before snapshot: %q", msg.Content)
	}
	state = applyAll(t, state, textPart("m1", "p1", "Hello world", ""))
	msg, _ = state.Message("m1")
	if msg.Content != "Hello world" {
		t.Fatalf("snapshot should replace reordered text, got %q", msg.Content)
	}
	state = applyAll(t, state, textPart("m1", "p1", "Hello", ""))
	msg, _ = state.Message("m1")
	if msg.Content != "Hello world" {
		t.Fatalf("shorter snapshot should be ignored, got %q", msg.Content)
	}
}

func TestIdenticalBareDeltasAreBothKept(t *testing.T) {
	chunk := `{"type":"message.part.updated","properties":{"part":{"id":"p1","messageID":"m1","type":"text"},"delta":"ha"}}`
	state := applyAll(t, NewState(), chunk, chunk)
	msg, _ := state.Message("m1")
	if msg.Content != "haha" {
		t.Fatalf("unexpected content: %q", msg.Content)
	}

	numbered := `{"type":"message.part.updated","seq":1,"properties":{"part":{"id":"p1","messageID":"m2","type":"text"},"delta":"ha"}}`
	state = applyAll(t, state, numbered, numbered)
	msg, _ = state.Message("m2")
	if msg.Content != "ha" {
		t.Fatalf("replayed numbered delta should fold once, got %q", msg.Content)
	}
}

func TestAppliedKeysStayWithTheirState(t *testing.T) {
	base := applyAll(t, NewState(), textPart("m1", "p1", "Hi", "Hi"))
	left := Apply(base, decode(t, toolPart("m1", "c1", "running")))
	right := Apply(base, decode(t, toolPart("m1", "c2", "running")))

	leftKey := decode(t, toolPart("m1", "c1", "running")).Key
	rightKey := decode(t, toolPart("m1", "c2", "running")).Key
	if base.Applied(leftKey) || base.Applied(rightKey) {
		t.Fatalf("base state should not see keys applied after it")
	}
	if !left.Applied(leftKey) || left.Applied(rightKey) {
		t.Fatalf("left state has the wrong keys")
	}
	if !right.Applied(rightKey) || right.Applied(leftKey) {
		t.Fatalf("right state has the wrong keys")
	}
	again := Apply(left, decode(t, toolPart("m1", "c2", "running")))
	if !again.Applied(rightKey) || left.Applied(rightKey) {
		t.Fatalf("extending left should not leak into it")
	}
}

func TestApplyLongStreamStaysFast(t *testing.T) {
	const frames = 20000
	state := NewState()
	started := time.Now()
	for i := range frames {
		state = Apply(state, events.Event{
			Kind:       events.KindPartUpdated,
			Key:        "k" + strconv.Itoa(i),
			Seq:        int64(i + 1),
			Part:       &events.Part{ID: "p1", MessageID: "m1", Type: events.PartText},
			Delta:      "x",
			ReceivedAt: testNow,
		})
	}
	elapsed := time.Since(started)
	msg, _ := state.Message("m1")
	if len(msg.Content) != frames || msg.Content != strings.Repeat("x", frames) {
		t.Fatalf("unexpected content length %d", len(msg.Content))
	}
	if !state.Applied("k0") || !state.Applied("k" + strconv.Itoa(frames-1)) {
		t.Fatalf("expected every key to be recorded")
	}
	if elapsed > 5*time.Second {
		t.Fatalf("folding %d frames took %s", frames, elapsed)
	}
}

func TestApplyMessageRouteFrames(t *testing.T) {
	state := applyAll(t, NewState(),
		`data: {"type":"text","data":"Looking"}`,
		`data: {"type":"text","data":" now."}`,
		`data: {"type":"tool_call","data":{"id":"call-1","name":"bash","args":{"command":"ls"}}}`,
		`data: {"type":"tool_result","data":{"id":"call-1","result":"README.md"}}`,
		`data: {"type":"text","data":" Done."}`,
		`data: {"type":"done"}`,
	)
	if len(state.Messages) != 1 {
		t.Fatalf("expected one message, got %d", len(state.Messages))
	}
	msg := state.Messages[0]
	if msg.Role != types.RoleAssistant || msg.Content != "Looking now. Done." || msg.Phase != types.PhaseFinalized {
		t.Fatalf("unexpected message: %+v", msg)
	}
	tool, ok := msg.Tool("call-1")
	if !ok || tool.State != types.ToolResult || tool.Name != "bash" || tool.Result != "README.md" {
		t.Fatalf("unexpected tool: %+v", tool)
	}

	state = applyAll(t, state, `data: {"type":"text","data":"Next turn"}`)
	if len(state.Messages) != 2 || state.Messages[1].Content != "Next turn" || !state.Streaming() {
		t.Fatalf("expected a second streaming message, got %+v", state.Messages)
	}
}
