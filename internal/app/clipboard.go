package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	osc52 "github.com/aymanbagabas/go-osc52/v2"

	"github.com/adhyaay-karnwal/ship/internal/logging"
)

type clipboardMethod uint8

const (
	clipboardMethodSystem clipboardMethod = iota
	clipboardMethodOSC52
)

func (m clipboardMethod) String() string {
	if m == clipboardMethodOSC52 {
		return "osc52"
	}
	return "system"
}

var (
	clipboardWriteAll   = clipboard.WriteAll
	clipboardWriteOSC52 = writeOSC52Clipboard
)

// copyText tries the system clipboard first and falls back to an OSC52
// escape sequence, which also works over SSH.
func copyText(text string) (clipboardMethod, error) {
	systemErr := clipboardWriteAll(text)
	if systemErr == nil {
		return clipboardMethodSystem, nil
	}
	oscErr := clipboardWriteOSC52(text)
	if oscErr == nil {
		return clipboardMethodOSC52, nil
	}
	return clipboardMethodSystem, combineClipboardErrors(systemErr, oscErr)
}

func (m *Model) copyWithStatus(text, success string) bool {
	method, err := copyText(text)
	if err != nil {
		m.setStatusError("copy failed: " + err.Error())
		return false
	}
	m.logger.Debug("copied to clipboard", logging.F("method", method), logging.F("bytes", len(text)))
	m.setStatusInfo(success)
	return true
}

func writeOSC52Clipboard(text string) error {
	if !osc52Enabled() {
		return errors.New("OSC52 unavailable for this terminal")
	}
	tty, err := os.OpenFile("/dev/tty", os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open /dev/tty: %w", err)
	}
	defer tty.Close()
	return writeOSC52Sequence(tty, text)
}

func writeOSC52Sequence(w io.Writer, text string) error {
	seq := osc52.New(text)
	switch {
	case os.Getenv("TMUX") != "":
		// tmux may or may not pass the plain sequence through; send both
		if _, err := seq.WriteTo(w); err != nil {
			return err
		}
		_, err := seq.Tmux().WriteTo(w)
		return err
	case strings.HasPrefix(strings.ToLower(os.Getenv("TERM")), "screen"):
		_, err := seq.Screen().WriteTo(w)
		return err
	default:
		_, err := seq.WriteTo(w)
		return err
	}
}

func osc52Enabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("SHIP_DISABLE_OSC52"))) {
	case "1", "true", "yes", "on":
		return false
	}
	term := strings.TrimSpace(os.Getenv("TERM"))
	return term != "" && !strings.EqualFold(term, "dumb")
}

func combineClipboardErrors(systemErr, oscErr error) error {
	if missingDisplay() {
		return fmt.Errorf("no GUI clipboard available (DISPLAY/WAYLAND_DISPLAY unset); OSC52 fallback failed: %v", oscErr)
	}
	return fmt.Errorf("system clipboard failed: %s; OSC52 fallback failed: %v", humanizeClipboardError(systemErr), oscErr)
}

func humanizeClipboardError(err error) string {
	msg := strings.TrimSpace(err.Error())
	if msg == "exit status 1" {
		return "clipboard helper exited with status 1"
	}
	return msg
}

func missingDisplay() bool {
	return strings.TrimSpace(os.Getenv("DISPLAY")) == "" && strings.TrimSpace(os.Getenv("WAYLAND_DISPLAY")) == ""
}
