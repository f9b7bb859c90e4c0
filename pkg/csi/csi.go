/*
Package csi issues one-shot CSI (Control Sequence Introducer) queries
against the controlling terminal and parses the answers.

Every query opens /dev/tty, switches it to raw mode for the duration of a
single round trip and restores it before returning, so callers never have
to manage terminal state. Responses that do not arrive before the timeout
report failure instead of blocking.
*/
package csi

import (
	"bytes"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"
)

// QueryTimeout is the default timeout for CSI queries.
const QueryTimeout = 100 * time.Millisecond

// roundTrip writes seq to the controlling terminal in raw mode and returns
// whatever the terminal sends back before the deadline.
func roundTrip(seq string, timeout time.Duration) (string, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return "", err
	}
	defer tty.Close()

	fd := int(tty.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return "", err
	}
	defer term.Restore(fd, oldState)

	if _, err := tty.WriteString(wrapTmuxPassthrough(seq)); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	chunk := make([]byte, 64)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := tty.SetReadDeadline(time.Now().Add(20 * time.Millisecond)); err != nil {
			break
		}
		n, rerr := tty.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			// Responses to our queries end in one of these finals.
			if bytes.ContainsAny(chunk[n-1:n], "tSc") {
				break
			}
		}
		if rerr != nil {
			if errors.Is(rerr, os.ErrDeadlineExceeded) {
				continue
			}
			break
		}
	}
	tty.SetReadDeadline(time.Time{})

	return buf.String(), nil
}

// numericPair extracts the two numbers of a "<marker>a;b<final>" response
// fragment, e.g. "[4;480;1280t".
func numericPair(response, marker string, final byte) (a, b int, ok bool) {
	idx := strings.Index(response, marker)
	if idx < 0 {
		return 0, 0, false
	}
	rest := response[idx+len(marker):]
	end := strings.IndexByte(rest, final)
	if end < 0 {
		return 0, 0, false
	}
	parts := strings.Split(rest[:end], ";")
	if len(parts) != 2 {
		return 0, 0, false
	}
	a, err1 := strconv.Atoi(parts[0])
	b, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return a, b, true
}

// parseTextAreaSize parses the CSI 14t response: CSI 4 ; height ; width t
func parseTextAreaSize(response string) (width, height int, ok bool) {
	h, w, ok := numericPair(response, "[4;", 't')
	if !ok || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// parseCellSize parses the CSI 16t response: CSI 6 ; height ; width t
func parseCellSize(response string) (width, height int, ok bool) {
	h, w, ok := numericPair(response, "[6;", 't')
	if !ok || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// parseGraphicsGeometry parses the XTSMGRAPHICS response:
// CSI ? 2 ; Ps ; width ; height S, where Ps=0 means success.
func parseGraphicsGeometry(response string) (width, height int, ok bool) {
	idx := strings.Index(response, "?2;")
	if idx < 0 {
		return 0, 0, false
	}
	rest := response[idx+3:]
	end := strings.IndexByte(rest, 'S')
	if end < 0 {
		return 0, 0, false
	}
	parts := strings.Split(rest[:end], ";")
	if len(parts) < 3 {
		return 0, 0, false
	}
	status, err := strconv.Atoi(parts[0])
	if err != nil || status != 0 {
		return 0, 0, false
	}
	width, err1 := strconv.Atoi(parts[1])
	height, err2 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return 0, 0, false
	}
	return width, height, true
}

// QueryTextAreaSizeInPixels queries the text area size in pixels (CSI 14t).
func QueryTextAreaSizeInPixels() (width, height int, ok bool) {
	response, err := roundTrip("\x1b[14t", QueryTimeout)
	if err != nil {
		return 0, 0, false
	}
	return parseTextAreaSize(response)
}

// QueryCharacterCellSizeInPixels queries the character cell size in pixels
// (CSI 16t).
func QueryCharacterCellSizeInPixels() (width, height int, ok bool) {
	response, err := roundTrip("\x1b[16t", QueryTimeout)
	if err != nil {
		return 0, 0, false
	}
	return parseCellSize(response)
}

// QueryXTSMGRAPHICS queries the maximum sixel raster geometry in pixels
// (XTSMGRAPHICS, xterm 344+).
func QueryXTSMGRAPHICS() (width, height int, ok bool) {
	// Pi=2 (sixel geometry), Pa=1 (read), Pv=0
	response, err := roundTrip("\x1b[?2;1;0S", QueryTimeout)
	if err != nil {
		return 0, 0, false
	}
	return parseGraphicsGeometry(response)
}

// QueryWindowSize returns the terminal window size in character cells.
func QueryWindowSize() (cols, rows int, err error) {
	return term.GetSize(int(os.Stdin.Fd()))
}

// QueryFontSize derives the cell size in pixels from the text area pixel
// size and the window cell size.
func QueryFontSize() (fontWidth, fontHeight int, ok bool) {
	pixelWidth, pixelHeight, ok := QueryTextAreaSizeInPixels()
	if !ok {
		return 0, 0, false
	}
	cols, rows, err := QueryWindowSize()
	if err != nil || cols <= 0 || rows <= 0 {
		return 0, 0, false
	}

	fontWidth = pixelWidth / cols
	fontHeight = pixelHeight / rows

	// Anything outside this range is a parse artifact, not a font.
	if fontWidth < 4 || fontWidth > 50 || fontHeight < 4 || fontHeight > 50 {
		return 0, 0, false
	}
	return fontWidth, fontHeight, true
}

// QuerySupported reports whether the terminal likely answers CSI queries.
func QuerySupported() bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}
	switch os.Getenv("TERM_PROGRAM") {
	case "Apple_Terminal":
		// Apple Terminal ships with CSI queries disabled.
		return false
	case "vscode":
		return false
	}
	return os.Getenv("TERM") != "dumb"
}

// inTmux checks if running inside tmux.
func inTmux() bool {
	return os.Getenv("TMUX") != "" || os.Getenv("TERM_PROGRAM") == "tmux"
}

// wrapTmuxPassthrough wraps an escape sequence for tmux passthrough. tmux
// requires every ESC in the wrapped sequence to be doubled.
func wrapTmuxPassthrough(seq string) string {
	if !inTmux() || !strings.HasPrefix(seq, "\x1b") {
		return seq
	}
	return "\x1bPtmux;\x1b" + strings.ReplaceAll(seq, "\x1b", "\x1b\x1b") + "\x1b\\"
}
