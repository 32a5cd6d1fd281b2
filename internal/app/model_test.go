package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	xansi "github.com/charmbracelet/x/ansi"

	"github.com/adhyaay-karnwal/ship/internal/orchestrator"
	"github.com/adhyaay-karnwal/ship/internal/subagent"
	"github.com/adhyaay-karnwal/ship/internal/types"
)

type fakeController struct {
	mu          sync.Mutex
	snap        orchestrator.Snapshot
	updates     chan orchestrator.Snapshot
	submitted   []string
	submitErr   error
	stops       int
	viewed      []types.ToolInvocation
	closedViews int
}

func newFakeController() *fakeController {
	return &fakeController{updates: make(chan orchestrator.Snapshot, 8)}
}

func (f *fakeController) Snapshot() orchestrator.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) Subscribe(context.Context) <-chan orchestrator.Snapshot {
	return f.updates
}

func (f *fakeController) Submit(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, text)
	return f.submitErr
}

func (f *fakeController) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeController) ViewSubagent(_ context.Context, tool types.ToolInvocation) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.viewed = append(f.viewed, tool)
	id, _ := subagent.Detect(tool)
	return id, nil
}

func (f *fakeController) CloseSubagent() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedViews++
}

func newTestModel(t *testing.T, ctrl *fakeController) *Model {
	t.Helper()
	m := NewModel(context.Background(), ctrl, Options{Title: "acme/ship"})
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return &m
}

func runCmd(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		t.Fatalf("expected a command")
	}
	m.Update(cmd())
}

func TestEnterSubmitsInput(t *testing.T) {
	ctrl := newFakeController()
	m := newTestModel(t, ctrl)
	m.input.SetValue("  fix the tests  ")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	runCmd(t, m, cmd)

	if len(ctrl.submitted) != 1 || ctrl.submitted[0] != "fix the tests" {
		t.Fatalf("unexpected submissions: %#v", ctrl.submitted)
	}
	if m.input.Value() != "" {
		t.Fatalf("expected input to be cleared, got %q", m.input.Value())
	}
}

func TestEnterIgnoresBlankInput(t *testing.T) {
	ctrl := newFakeController()
	m := newTestModel(t, ctrl)
	m.input.SetValue("   ")
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Fatalf("expected no command for blank input")
	}
	if len(ctrl.submitted) != 0 {
		t.Fatalf("unexpected submissions: %#v", ctrl.submitted)
	}
}

func TestSubmitErrorIsShown(t *testing.T) {
	ctrl := newFakeController()
	ctrl.submitErr = errors.New("select a repository before starting a session")
	m := newTestModel(t, ctrl)
	m.input.SetValue("hello")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	runCmd(t, m, cmd)

	if !m.statusErr || !strings.Contains(m.status, "select a repository") {
		t.Fatalf("unexpected status: %q err=%v", m.status, m.statusErr)
	}
	if !strings.Contains(xansi.Strip(m.View()), "send failed") {
		t.Fatalf("expected the error in the status line")
	}
}

func TestStopOnlyWhileStreaming(t *testing.T) {
	ctrl := newFakeController()
	m := newTestModel(t, ctrl)

	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlX}); cmd != nil {
		t.Fatalf("expected no stop command while idle")
	}
	m.Update(snapshotMsg(orchestrator.Snapshot{Active: true, Streaming: true}))
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlX})
	runCmd(t, m, cmd)
	if ctrl.stops != 1 {
		t.Fatalf("expected one stop, got %d", ctrl.stops)
	}
	if m.status != "stopped" {
		t.Fatalf("unexpected status: %q", m.status)
	}
}

func TestSnapshotRendersTranscript(t *testing.T) {
	ctrl := newFakeController()
	m := newTestModel(t, ctrl)
	_, cmd := m.Update(snapshotMsg(orchestrator.Snapshot{
		Active:  true,
		Session: types.Session{ID: "s1", Status: types.SessionStatusRunning},
		Messages: []types.UIMessage{
			{ID: "u1", Role: types.RoleUser, Content: "hello there"},
			{ID: "a1", Role: types.RoleAssistant, Content: "general kenobi", Phase: types.PhaseStreaming},
		},
		Streaming: true,
		Queue:     []string{"next"},
		Side:      types.SideChannel{TotalCost: 0.5, Title: "Greetings"},
	}))
	if cmd == nil {
		t.Fatalf("expected the model to keep listening for snapshots")
	}

	view := xansi.Strip(m.View())
	for _, want := range []string{"Greetings", "s1", "hello there", "general kenobi", "1 queued", "$0.50"} {
		if !strings.Contains(view, want) {
			t.Fatalf("expected %q in view:\n%s", want, view)
		}
	}
}

func TestTranscriptShowsMessageAges(t *testing.T) {
	ctrl := newFakeController()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	m := NewModel(context.Background(), ctrl, Options{Now: func() time.Time { return clock }})
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m.Update(snapshotMsg(orchestrator.Snapshot{
		Active:  true,
		Session: types.Session{ID: "s1", Status: types.SessionStatusIdle},
		Messages: []types.UIMessage{
			{ID: "u1", Role: types.RoleUser, Content: "hello", CreatedAt: now.Add(-3 * time.Minute)},
		},
	}))
	if view := xansi.Strip(m.View()); !strings.Contains(view, "you · 3 minutes ago") {
		t.Fatalf("expected the message age in view:\n%s", view)
	}

	clock = now.Add(2 * time.Minute)
	m.Update(m.loader.Tick())
	if view := xansi.Strip(m.View()); !strings.Contains(view, "you · 5 minutes ago") {
		t.Fatalf("expected the age to advance on the next tick:\n%s", view)
	}
}

func TestCopyLastReply(t *testing.T) {
	origWriteAll := clipboardWriteAll
	t.Cleanup(func() { clipboardWriteAll = origWriteAll })
	var copied string
	clipboardWriteAll = func(text string) error {
		copied = text
		return nil
	}

	ctrl := newFakeController()
	m := newTestModel(t, ctrl)
	m.Update(tea.KeyMsg{Type: tea.KeyCtrlY})
	if m.status != "no reply to copy" {
		t.Fatalf("unexpected status: %q", m.status)
	}

	m.Update(snapshotMsg(orchestrator.Snapshot{Messages: []types.UIMessage{
		{ID: "a1", Role: types.RoleAssistant, Content: "first"},
		{ID: "a2", Role: types.RoleAssistant, Content: "second"},
	}}))
	m.Update(tea.KeyMsg{Type: tea.KeyCtrlY})
	if copied != "second" || m.status != "reply copied" {
		t.Fatalf("copied=%q status=%q", copied, m.status)
	}
}

func TestOpenAndCloseSubagent(t *testing.T) {
	ctrl := newFakeController()
	m := newTestModel(t, ctrl)
	m.Update(snapshotMsg(orchestrator.Snapshot{Messages: []types.UIMessage{{
		ID:   "a1",
		Role: types.RoleAssistant,
		Tools: []types.ToolInvocation{
			{CallID: "c1", Name: "task", Metadata: map[string]any{"sessionId": "child-1"}},
			{CallID: "c2", Name: "bash"},
			{CallID: "c3", Name: "task", Args: map[string]any{"subagent_type": "explore"}, Metadata: map[string]any{"sessionId": "child-2"}},
		},
	}}}))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlO})
	runCmd(t, m, cmd)
	if len(ctrl.viewed) != 1 || ctrl.viewed[0].CallID != "c3" {
		t.Fatalf("expected the latest sub-agent tool, got %#v", ctrl.viewed)
	}
	if m.status != "viewing sub-agent child-2" {
		t.Fatalf("unexpected status: %q", m.status)
	}

	m.Update(snapshotMsg(orchestrator.Snapshot{Subagent: &subagent.View{
		SessionID: "child-2",
		Label:     subagent.LabelWorking,
		Messages:  []types.UIMessage{{ID: "m1", Role: types.RoleAssistant, Content: "exploring"}},
	}}))
	if view := xansi.Strip(m.View()); !strings.Contains(view, "sub-agent child-2") || !strings.Contains(view, "exploring") {
		t.Fatalf("expected the sub-agent transcript:\n%s", view)
	}

	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if ctrl.closedViews != 1 {
		t.Fatalf("expected the sub-agent to be closed")
	}
}

func TestQuitKey(t *testing.T) {
	m := newTestModel(t, newFakeController())
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}
}

func TestClosedSubscription(t *testing.T) {
	ctrl := newFakeController()
	m := newTestModel(t, ctrl)
	close(ctrl.updates)
	msg := waitForSnapshot(ctrl.updates)()
	if _, ok := msg.(subscriptionClosedMsg); !ok {
		t.Fatalf("expected subscriptionClosedMsg, got %T", msg)
	}
	m.Update(msg)
	if m.status != "session closed" {
		t.Fatalf("unexpected status: %q", m.status)
	}
}
