package app

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	glamouransi "github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/glamour/styles"
	xansi "github.com/charmbracelet/x/ansi"
)

const defaultMarkdownWidth = 80

type rendererKey struct {
	width int
	dark  bool
}

var markdown = struct {
	mu        sync.Mutex
	dark      bool
	renderers map[rendererKey]*glamour.TermRenderer
}{
	dark:      true,
	renderers: map[rendererKey]*glamour.TermRenderer{},
}

// renderMarkdown renders agent output for a column width, falling back to
// the raw text when glamour cannot render it.
func renderMarkdown(input string, width int) string {
	input = strings.TrimRight(input, "\n")
	if strings.TrimSpace(input) == "" {
		return ""
	}
	if width <= 0 {
		width = defaultMarkdownWidth
	}
	r := markdownRenderer(width)
	if r == nil {
		return input
	}
	out, err := r.Render(input)
	if err != nil {
		return input
	}
	out = xansi.Hardwrap(strings.TrimRight(out, "\n"), width, true)
	return strings.TrimRight(out, "\n")
}

func setMarkdownBackgroundDark(dark bool) {
	markdown.mu.Lock()
	defer markdown.mu.Unlock()
	markdown.dark = dark
}

func markdownRenderer(width int) *glamour.TermRenderer {
	markdown.mu.Lock()
	defer markdown.mu.Unlock()
	key := rendererKey{width: width, dark: markdown.dark}
	if r, ok := markdown.renderers[key]; ok {
		return r
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStyles(buildStyleConfig(key.dark)),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	markdown.renderers[key] = r
	return r
}

func buildStyleConfig(dark bool) glamouransi.StyleConfig {
	base := styles.LightStyleConfig
	if dark {
		base = styles.DarkStyleConfig
	}
	// The transcript adds its own spacing between messages.
	base.Document.StylePrimitive.BlockPrefix = ""
	base.Document.StylePrimitive.BlockSuffix = ""
	zero := uint(0)
	base.Document.Margin = &zero
	base.CodeBlock.Margin = &zero
	faint := true
	quote := "245"
	base.BlockQuote.StylePrimitive.Faint = &faint
	base.BlockQuote.StylePrimitive.Color = &quote
	return base
}

// escapeMarkdown keeps user prompts literal: headings, quotes, list markers
// and backticks render as typed.
func escapeMarkdown(text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = strings.ReplaceAll(line, "`", "\\`")
		trimmed := strings.TrimLeft(line, " \t")
		indent := line[:len(line)-len(trimmed)]
		if needsEscape(trimmed) {
			trimmed = "\\" + trimmed
		}
		lines[i] = indent + trimmed
	}
	return strings.Join(lines, "\n")
}

func needsEscape(line string) bool {
	for _, prefix := range []string{"#", ">", "- ", "* ", "+ "} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return isNumberedList(line)
}

func isNumberedList(text string) bool {
	dot := strings.IndexByte(text, '.')
	if dot <= 0 || dot+1 >= len(text) || text[dot+1] != ' ' {
		return false
	}
	for i := 0; i < dot; i++ {
		if text[i] < '0' || text[i] > '9' {
			return false
		}
	}
	return true
}
