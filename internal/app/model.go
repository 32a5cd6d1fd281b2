package app

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/adhyaay-karnwal/ship/internal/logging"
	"github.com/adhyaay-karnwal/ship/internal/orchestrator"
	"github.com/adhyaay-karnwal/ship/internal/subagent"
	"github.com/adhyaay-karnwal/ship/internal/types"
)

const (
	minViewportWidth  = 20
	minViewportHeight = 3
	// header, status line and input
	chromeHeight = 3
)

type snapshotMsg orchestrator.Snapshot

type subscriptionClosedMsg struct{}

type submitResultMsg struct {
	err error
}

type stopResultMsg struct {
	err error
}

type subagentResultMsg struct {
	sessionID string
	err       error
}

type keyMap struct {
	Quit     key.Binding
	Submit   key.Binding
	Stop     key.Binding
	Copy     key.Binding
	Subagent key.Binding
	Back     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit:     key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
		Submit:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		Stop:     key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x", "stop")),
		Copy:     key.NewBinding(key.WithKeys("ctrl+y"), key.WithHelp("ctrl+y", "copy reply")),
		Subagent: key.NewBinding(key.WithKeys("ctrl+o"), key.WithHelp("ctrl+o", "open sub-agent")),
		Back:     key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "close sub-agent")),
		PageUp:   key.NewBinding(key.WithKeys("pgup")),
		PageDown: key.NewBinding(key.WithKeys("pgdown")),
	}
}

type Model struct {
	ctx     context.Context
	ctrl    Controller
	logger  logging.Logger
	title   string
	updates <-chan orchestrator.Snapshot
	keys    keyMap

	timestamps  timestampMode
	now         func() time.Time
	stampBucket int64

	snap     orchestrator.Snapshot
	viewport viewport.Model
	input    textinput.Model
	loader   spinner.Model

	width     int
	height    int
	follow    bool
	status    string
	statusErr bool
}

func NewModel(ctx context.Context, ctrl Controller, opts Options) Model {
	vp := viewport.New(minViewportWidth, minViewportHeight)
	input := textinput.New()
	input.Prompt = "› "
	input.Placeholder = "Ask the agent…"
	input.Focus()
	loader := spinner.New()
	loader.Spinner = spinner.Line
	m := Model{
		ctx:      ctx,
		ctrl:     ctrl,
		logger:   logging.OrNop(opts.Logger),
		title:    strings.TrimSpace(opts.Title),
		updates:  ctrl.Subscribe(ctx),
		keys:       defaultKeyMap(),
		timestamps: parseTimestampMode(opts.Timestamps),
		now:        opts.Now,
		snap:       ctrl.Snapshot(),
		viewport:   vp,
		input:      input,
		loader:     loader,
		follow:     true,
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.refresh()
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(waitForSnapshot(m.updates), m.loader.Tick, textinput.Blink)
}

func waitForSnapshot(updates <-chan orchestrator.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return subscriptionClosedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil
	case snapshotMsg:
		m.snap = orchestrator.Snapshot(msg)
		m.refresh()
		return m, waitForSnapshot(m.updates)
	case subscriptionClosedMsg:
		m.setStatusInfo("session closed")
		return m, nil
	case submitResultMsg:
		if msg.err != nil {
			m.setStatusError("send failed: " + msg.err.Error())
		}
		return m, nil
	case stopResultMsg:
		if msg.err != nil {
			m.setStatusError("stop failed: " + msg.err.Error())
		} else {
			m.setStatusInfo("stopped")
		}
		return m, nil
	case subagentResultMsg:
		if msg.err != nil {
			m.setStatusError("sub-agent: " + msg.err.Error())
		} else {
			m.setStatusInfo("viewing sub-agent " + msg.sessionID)
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.loader, cmd = m.loader.Update(msg)
		if bucket := timestampBucket(m.timestamps, m.now()); bucket != m.stampBucket {
			m.refresh()
		}
		return m, cmd
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Submit):
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		m.follow = true
		m.clearStatus()
		return m, m.submitCmd(text)
	case key.Matches(msg, m.keys.Stop):
		if !m.snap.Streaming {
			m.setStatusInfo("nothing to stop")
			return m, nil
		}
		return m, m.stopCmd()
	case key.Matches(msg, m.keys.Copy):
		reply, ok := m.snap.LastAssistant()
		if !ok {
			m.setStatusInfo("no reply to copy")
			return m, nil
		}
		m.copyWithStatus(reply.Content, "reply copied")
		return m, nil
	case key.Matches(msg, m.keys.Subagent):
		tool, ok := latestSubagentTool(m.snap.Messages)
		if !ok {
			m.setStatusInfo("no sub-agent in this session")
			return m, nil
		}
		return m, m.subagentCmd(tool)
	case key.Matches(msg, m.keys.Back):
		if m.snap.Subagent != nil {
			m.ctrl.CloseSubagent()
			m.setStatusInfo("sub-agent closed")
		}
		return m, nil
	case key.Matches(msg, m.keys.PageUp, m.keys.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		m.follow = m.viewport.AtBottom()
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) submitCmd(text string) tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		return submitResultMsg{err: ctrl.Submit(ctx, text)}
	}
}

func (m *Model) stopCmd() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		return stopResultMsg{err: ctrl.Stop(ctx)}
	}
}

func (m *Model) subagentCmd(tool types.ToolInvocation) tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		id, err := ctrl.ViewSubagent(ctx, tool)
		return subagentResultMsg{sessionID: id, err: err}
	}
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = max(minViewportWidth, width)
	m.viewport.Height = max(minViewportHeight, height-chromeHeight)
	m.input.Width = max(minViewportWidth, width-4)
	m.refresh()
}

func (m *Model) refresh() {
	width := m.viewport.Width
	now := m.now()
	m.stampBucket = timestampBucket(m.timestamps, now)
	stamp := func(created time.Time) string {
		return formatTimestamp(created, now, m.timestamps)
	}
	var content string
	if view := m.snap.Subagent; view != nil {
		content = renderSubagent(*view, width, stamp)
	} else {
		content = renderTranscript(m.snap.Messages, width, stamp)
	}
	m.viewport.SetContent(content)
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func (m *Model) View() string {
	width := max(minViewportWidth, m.width)
	spin := ""
	if m.snap.Streaming || subagentStreaming(m.snap.Subagent) {
		spin = m.loader.View()
	}
	return strings.Join([]string{
		renderHeader(m.snap, m.title, width),
		m.viewport.View(),
		renderStatusLine(m.snap, spin, m.status, m.statusErr, width),
		m.input.View(),
	}, "\n")
}

func subagentStreaming(view *subagent.View) bool {
	return view != nil && view.Streaming
}

func (m *Model) setStatusInfo(status string) {
	m.status = status
	m.statusErr = false
}

func (m *Model) setStatusError(status string) {
	m.status = status
	m.statusErr = true
	m.logger.Warn("ui status", logging.F("status", status))
}

func (m *Model) clearStatus() {
	m.status = ""
	m.statusErr = false
}
