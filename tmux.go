package imgview

import (
	"os"
	"os/exec"
	"strings"
	"sync"
)

var (
	tmuxPassthroughEnabled bool
	tmuxPassthroughOnce    sync.Once
)

var (
	forceTmux      bool
	forceTmuxMutex sync.RWMutex
)

// ForceTmux forces tmux passthrough wrapping regardless of the environment.
// Useful when detection misses an outer tmux session.
func ForceTmux(force bool) {
	forceTmuxMutex.Lock()
	defer forceTmuxMutex.Unlock()
	forceTmux = force

	if force {
		enableTmuxPassthrough()
	}
}

// IsTmuxForced returns whether tmux mode is being forced.
func IsTmuxForced() bool {
	forceTmuxMutex.RLock()
	defer forceTmuxMutex.RUnlock()
	return forceTmux
}

// inTmux checks if running inside tmux or if tmux mode is forced.
func inTmux() bool {
	if IsTmuxForced() {
		return true
	}
	return os.Getenv("TMUX") != "" || os.Getenv("TERM_PROGRAM") == "tmux"
}

// inScreen checks if running inside GNU screen.
func inScreen() bool {
	return strings.HasPrefix(os.Getenv("TERM"), "screen") ||
		os.Getenv("TERM_PROGRAM") == "screen" ||
		os.Getenv("STY") != ""
}

// enableTmuxPassthrough asks tmux to forward unrecognized escape sequences
// to the outer terminal. Graphics protocols do not work in tmux without it.
func enableTmuxPassthrough() {
	tmuxPassthroughOnce.Do(func() {
		// -p sets the option for the current pane only
		cmd := exec.Command("tmux", "set", "-p", "allow-passthrough", "on")
		cmd.Stdin = nil
		cmd.Stdout = nil
		cmd.Stderr = nil
		if err := cmd.Run(); err == nil {
			tmuxPassthroughEnabled = true
		}
	})
}

// IsTmuxPassthroughEnabled returns whether tmux passthrough was successfully
// enabled for the current pane.
func IsTmuxPassthroughEnabled() bool {
	return tmuxPassthroughEnabled
}

// wrapTmuxPassthrough wraps an escape sequence in the tmux passthrough
// envelope when running inside tmux. Every ESC in the payload must be
// doubled: \ePtmux;\e{escaped sequence}\e\\
func wrapTmuxPassthrough(output string) string {
	if inTmux() {
		if !strings.HasPrefix(output, "\x1b") {
			return output
		}
		return "\x1bPtmux;\x1b" + strings.ReplaceAll(output, "\x1b", "\x1b\x1b") + "\x1b\\"
	}
	return output
}

// getTmuxEscapeSequences returns the passthrough framing pieces for
// renderers that build their sequences incrementally.
func getTmuxEscapeSequences() (start, escape, end string) {
	if inTmux() {
		return "\x1bPtmux;", "\x1b\x1b", "\x1b\\"
	}
	return "", "\x1b", ""
}
