package imgview

import (
	"os"
	"strings"
)

// Protocol identifies a terminal graphics protocol.
type Protocol int

const (
	// Unsupported means no graphics protocol is available.
	Unsupported Protocol = iota
	// Auto selects the best protocol for the current terminal.
	Auto
	// Kitty is the kitty graphics protocol (kitty, ghostty, WezTerm).
	Kitty
	// ITerm2 is the iTerm2 inline images protocol (OSC 1337).
	ITerm2
	// Sixel is the DEC sixel graphics protocol.
	Sixel
	// Halfblocks renders images as Unicode half-block characters and works
	// in any terminal with color support.
	Halfblocks
)

func (p Protocol) String() string {
	switch p {
	case Auto:
		return "Auto"
	case Kitty:
		return "Kitty"
	case ITerm2:
		return "iTerm2"
	case Sixel:
		return "Sixel"
	case Halfblocks:
		return "Halfblocks"
	default:
		return "unsupported"
	}
}

// ParseProtocol converts a protocol name to a Protocol. Unknown names map
// to Auto so callers can pass user input straight through.
func ParseProtocol(name string) Protocol {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "kitty":
		return Kitty
	case "iterm2", "iterm":
		return ITerm2
	case "sixel":
		return Sixel
	case "halfblocks", "blocks":
		return Halfblocks
	case "none", "unsupported":
		return Unsupported
	default:
		return Auto
	}
}

// DetectProtocol returns the best graphics protocol the current terminal
// supports. Detection prefers kitty, then iTerm2, then sixel, and falls
// back to halfblocks, which every color terminal can display.
//
// Setting IMGVIEW_BYPASS_DETECTION to a protocol name skips detection
// entirely, which keeps tests and non-interactive environments hermetic.
func DetectProtocol() Protocol {
	if bypass := os.Getenv("IMGVIEW_BYPASS_DETECTION"); bypass != "" {
		if p := ParseProtocol(bypass); p != Auto {
			return p
		}
	}

	if IsTmuxForced() || inTmux() {
		if outer := detectOuterTerminalProtocol(); outer != Unsupported {
			return outer
		}
	}

	if KittySupported() {
		return Kitty
	}
	if ITerm2Supported() {
		return ITerm2
	}
	if SixelSupported() {
		return Sixel
	}
	return Halfblocks
}

// detectOuterTerminalProtocol identifies the terminal hosting a tmux or
// screen session. Multiplexers mask the outer terminal's TERM, so only
// environment variables that pass through the session are consulted.
func detectOuterTerminalProtocol() Protocol {
	switch {
	case os.Getenv("KITTY_WINDOW_ID") != "":
		return Kitty
	case os.Getenv("GHOSTTY_RESOURCES_DIR") != "":
		return Kitty
	case strings.Contains(os.Getenv("TERMINFO"), "kitty"),
		strings.Contains(os.Getenv("TERMINFO"), "Ghostty"):
		return Kitty
	case os.Getenv("WEZTERM_EXECUTABLE") != "", os.Getenv("WEZTERM_PANE") != "":
		return Kitty
	case os.Getenv("ITERM_SESSION_ID") != "":
		return ITerm2
	case os.Getenv("LC_TERMINAL") == "iTerm2":
		return ITerm2
	case os.Getenv("MLTERM") != "":
		return Sixel
	default:
		return Unsupported
	}
}

// DetermineProtocols returns every protocol the terminal supports, ordered
// by preference. Halfblocks is always present as the final fallback.
func DetermineProtocols() []Protocol {
	var protocols []Protocol

	kitty, sixel, iterm2 := ParallelProtocolDetection()
	if kitty {
		protocols = append(protocols, Kitty)
	}
	if iterm2 {
		protocols = append(protocols, ITerm2)
	}
	if sixel {
		protocols = append(protocols, Sixel)
	}
	return append(protocols, Halfblocks)
}

// SupportedProtocols returns the names of every supported protocol.
func SupportedProtocols() []string {
	protocols := DetermineProtocols()
	names := make([]string, len(protocols))
	for i, p := range protocols {
		names[i] = p.String()
	}
	return names
}
