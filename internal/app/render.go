package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"

	"github.com/adhyaay-karnwal/ship/internal/orchestrator"
	"github.com/adhyaay-karnwal/ship/internal/reducer"
	"github.com/adhyaay-karnwal/ship/internal/subagent"
	"github.com/adhyaay-karnwal/ship/internal/transport"
	"github.com/adhyaay-karnwal/ship/internal/types"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	systemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// stampFunc labels a message with its creation time; it may return "".
type stampFunc func(time.Time) string

func noStamp(time.Time) string { return "" }

func renderTranscript(messages []types.UIMessage, width int, stamp stampFunc) string {
	if len(messages) == 0 {
		return mutedStyle.Render("No messages yet.")
	}
	blocks := make([]string, 0, len(messages))
	for _, msg := range messages {
		if block := renderMessage(msg, width, stamp); block != "" {
			blocks = append(blocks, block)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func renderMessage(msg types.UIMessage, width int, stamp stampFunc) string {
	switch {
	case msg.Type == types.MessageTypeError:
		label := "error"
		if msg.ErrorCategory != "" {
			label += " (" + string(msg.ErrorCategory) + ")"
		}
		if msg.Retryable {
			label += ", retryable"
		}
		return errorStyle.Render(label+": ") + wrap(reducer.Describe(msg.Content), width)
	case msg.Type == types.MessageTypePRNotification:
		return systemStyle.Render(wrap(msg.Content, width))
	case msg.Role == types.RoleUser:
		return userStyle.Render("you") + stampSuffix(msg, stamp) + "\n" + renderMarkdown(escapeMarkdown(msg.Content), width)
	case msg.Role == types.RoleAssistant:
		return renderAssistant(msg, width, stamp)
	default:
		return systemStyle.Render(wrap(msg.Content, width))
	}
}

func renderAssistant(msg types.UIMessage, width int, stamp stampFunc) string {
	label := "agent"
	if msg.Phase == types.PhaseStreaming {
		label += " …"
	}
	lines := []string{assistantStyle.Render(label) + stampSuffix(msg, stamp)}
	for _, thought := range msg.Reasoning {
		if thought = strings.TrimSpace(thought); thought != "" {
			lines = append(lines, mutedStyle.Render(wrap(thought, width)))
		}
	}
	for _, tool := range msg.Tools {
		lines = append(lines, renderTool(tool, width))
	}
	if content := renderMarkdown(msg.Content, width); content != "" {
		lines = append(lines, content)
	}
	return strings.Join(lines, "\n")
}

func stampSuffix(msg types.UIMessage, stamp stampFunc) string {
	if stamp == nil {
		return ""
	}
	if label := stamp(msg.CreatedAt); label != "" {
		return mutedStyle.Render(" · " + label)
	}
	return ""
}

func renderTool(tool types.ToolInvocation, width int) string {
	var line string
	if subagent.IsSubagent(tool) {
		line = toolIcon(tool.State) + " " + subagent.Title(tool) + " [sub-agent]"
	} else {
		line = toolIcon(tool.State) + " " + tool.Name
		if tool.Title != "" {
			line += ": " + tool.Title
		}
	}
	if tool.Duration > 0 {
		line += " (" + tool.Duration.Round(100*time.Millisecond).String() + ")"
	}
	style := mutedStyle
	if tool.State == types.ToolError {
		style = errorStyle
	}
	return style.Render(truncate(line, width))
}

func toolIcon(state types.ToolState) string {
	switch state {
	case types.ToolCall:
		return "▸"
	case types.ToolResult:
		return "✓"
	case types.ToolError:
		return "✗"
	default:
		return "…"
	}
}

func renderSubagent(view subagent.View, width int, stamp stampFunc) string {
	header := headerStyle.Render(truncate("sub-agent "+view.SessionID+" · "+view.Label, width))
	return header + "\n\n" + renderTranscript(view.Messages, width, stamp)
}

func renderHeader(snap orchestrator.Snapshot, fallback string, width int) string {
	title := snap.Side.Title
	if title == "" {
		title = snap.Session.Title
	}
	if title == "" {
		title = fallback
	}
	if title == "" {
		title = "ship"
	}
	parts := []string{title}
	if snap.Session.ID != "" {
		parts = append(parts, snap.Session.ID)
	}
	if snap.Session.Status != "" {
		parts = append(parts, string(snap.Session.Status))
	}
	if snap.Channel != "" && snap.Channel != transport.StatusConnected {
		parts = append(parts, string(snap.Channel))
	}
	return headerStyle.Render(truncate(strings.Join(parts, " · "), width))
}

func renderStatusLine(snap orchestrator.Snapshot, spin, note string, noteErr bool, width int) string {
	var parts []string
	if spin != "" {
		parts = append(parts, spin+" working")
	}
	if n := len(snap.Queue); n > 0 {
		parts = append(parts, fmt.Sprintf("%d queued", n))
	}
	parts = append(parts, sideSummary(snap.Side)...)
	line := strings.Join(parts, " · ")
	if note == "" {
		return mutedStyle.Render(truncate(line, width))
	}
	if line != "" {
		line += " · "
	}
	if !noteErr {
		return mutedStyle.Render(truncate(line+note, width))
	}
	room := width - runewidth.StringWidth(line)
	if room < 1 {
		return mutedStyle.Render(truncate(line, width))
	}
	return mutedStyle.Render(line) + errorStyle.Render(truncate(note, room))
}

func sideSummary(side types.SideChannel) []string {
	var parts []string
	if side.TotalCost > 0 {
		parts = append(parts, fmt.Sprintf("$%.2f", side.TotalCost))
	}
	if side.LastStep != nil {
		if total := side.LastStep.Tokens.Total(); total > 0 {
			parts = append(parts, fmt.Sprintf("%d tokens", total))
		}
	}
	if len(side.Todos) > 0 {
		done := 0
		for _, todo := range side.Todos {
			if todo.Status == types.TodoCompleted {
				done++
			}
		}
		parts = append(parts, fmt.Sprintf("%d/%d todos", done, len(side.Todos)))
	}
	if len(side.Diffs) > 0 {
		parts = append(parts, fmt.Sprintf("%d files changed", len(side.Diffs)))
	}
	if side.PRURL != "" {
		parts = append(parts, side.PRURL)
	}
	return parts
}

// latestSubagentTool finds the most recent tool call that spawned a child
// session with a known id.
func latestSubagentTool(messages []types.UIMessage) (types.ToolInvocation, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		tools := messages[i].Tools
		for j := len(tools) - 1; j >= 0; j-- {
			if _, ok := subagent.Detect(tools[j]); ok {
				return tools[j], true
			}
		}
	}
	return types.ToolInvocation{}, false
}

func truncate(text string, width int) string {
	if width <= 0 {
		return text
	}
	return runewidth.Truncate(text, width, "…")
}

func wrap(text string, width int) string {
	if width <= 0 {
		return text
	}
	return xansi.Wordwrap(text, width, "")
}
