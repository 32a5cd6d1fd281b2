package app

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/adhyaay-karnwal/ship/internal/logging"
	"github.com/adhyaay-karnwal/ship/internal/orchestrator"
	"github.com/adhyaay-karnwal/ship/internal/types"
)

// Controller is the session core the watch screen drives.
// *orchestrator.Orchestrator satisfies it.
type Controller interface {
	Snapshot() orchestrator.Snapshot
	Subscribe(ctx context.Context) <-chan orchestrator.Snapshot
	Submit(ctx context.Context, text string) error
	Stop(ctx context.Context) error
	ViewSubagent(ctx context.Context, tool types.ToolInvocation) (string, error)
	CloseSubagent()
}

type Options struct {
	Logger logging.Logger
	// Title is shown in the header until the session has a title of its own.
	Title string
	// Timestamps is relative, iso or off.
	Timestamps string
	Now        func() time.Time
}

// Run shows the watch screen until the user quits or ctx ends.
func Run(ctx context.Context, ctrl Controller, opts Options) error {
	setMarkdownBackgroundDark(lipgloss.HasDarkBackground())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	model := NewModel(ctx, ctrl, opts)
	p := tea.NewProgram(&model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
