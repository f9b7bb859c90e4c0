package imgview

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// detectTimeout bounds how long a single terminal capability query may wait
// for a response.
const detectTimeout = 100 * time.Millisecond

// envSupport holds environment-derived protocol hints. Terminal queries are
// slow and mutate terminal state, so the cheap environment pass is cached
// and consulted first.
type envSupport struct {
	kitty  bool
	sixel  bool
	iterm2 bool
}

var (
	envCacheMu sync.RWMutex
	envCache   *envSupport
)

func environmentSupport() envSupport {
	envCacheMu.RLock()
	if envCache != nil {
		cached := *envCache
		envCacheMu.RUnlock()
		return cached
	}
	envCacheMu.RUnlock()

	var support envSupport
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); support.kitty = DetectKittyFromEnvironment() }()
	go func() { defer wg.Done(); support.sixel = DetectSixelFromEnvironment() }()
	go func() { defer wg.Done(); support.iterm2 = DetectITerm2FromEnvironment() }()
	wg.Wait()

	envCacheMu.Lock()
	envCache = &support
	envCacheMu.Unlock()
	return support
}

// ClearEnvironmentCache discards cached environment detection results so
// the next check re-reads the environment. Tests use this after changing
// TERM or TERM_PROGRAM.
func ClearEnvironmentCache() {
	envCacheMu.Lock()
	envCache = nil
	envCacheMu.Unlock()
}

// DetectKittyFromEnvironment checks environment variables for kitty
// protocol support without touching the terminal.
func DetectKittyFromEnvironment() bool {
	switch {
	case os.Getenv("KITTY_WINDOW_ID") != "":
		return true
	case strings.Contains(strings.ToLower(os.Getenv("TERM")), "kitty"):
		return true
	}
	switch os.Getenv("TERM_PROGRAM") {
	case "ghostty", "WezTerm", "rio":
		return true
	}
	return false
}

// DetectSixelFromEnvironment checks environment variables for sixel support
// without touching the terminal.
func DetectSixelFromEnvironment() bool {
	termEnv := os.Getenv("TERM")
	switch {
	case strings.Contains(termEnv, "sixel"),
		strings.Contains(termEnv, "mlterm"),
		strings.Contains(termEnv, "foot"),
		strings.Contains(termEnv, "rio"),
		strings.Contains(termEnv, "st-256color"),
		strings.Contains(termEnv, "wezterm"),
		strings.Contains(termEnv, "yaft"),
		strings.Contains(termEnv, "alacritty"):
		return true
	case strings.Contains(termEnv, "xterm") && os.Getenv("XTERM_VERSION") != "":
		// xterm only enables sixel when started with -ti 340
		return true
	}
	termProgram := os.Getenv("TERM_PROGRAM")
	switch {
	case strings.Contains(termProgram, "mlterm"):
		return true
	case termProgram == "iTerm.app",
		termProgram == "mintty",
		termProgram == "WezTerm",
		termProgram == "rio":
		return true
	}
	return false
}

// KittySupported reports whether the current terminal understands the kitty
// graphics protocol. Environment variables are checked first; interactive
// terminals that give no hint are probed with a graphics query.
func KittySupported() bool {
	// Multiplexers mask the inner TERM, so consult the outer terminal.
	if inTmux() || inScreen() {
		return detectOuterTerminalProtocol() == Kitty
	}

	if DetectKittyFromEnvironment() {
		logDetection("kitty: environment match")
		return true
	}

	if !isInteractiveTerminal() {
		return false
	}

	// A query action with a tiny dummy payload. Kitty-capable terminals
	// answer with the same image id.
	return queryTerminal("\x1b_Gi=42,s=1,v=1,a=q,t=d,f=24;AAAA\x1b\\", detectTimeout, "i=42")
}

// SixelSupported reports whether the current terminal can display sixel
// graphics.
func SixelSupported() bool {
	if DetectSixelFromEnvironment() {
		logDetection("sixel: environment match")
		return true
	}

	if !isInteractiveTerminal() {
		return false
	}

	// Primary Device Attributes: capability 4 in the response means sixel.
	return queryTerminal("\x1b[c", detectTimeout, ";4;", ";4c")
}

// ITerm2Supported reports whether the current terminal can display iTerm2
// inline images.
func ITerm2Supported() bool {
	termProgram := os.Getenv("TERM_PROGRAM")
	switch {
	case DetectITerm2FromEnvironment():
		logDetection("iterm2: environment match")
		return true
	case termProgram == "vscode" && os.Getenv("TERM_PROGRAM_VERSION") != "":
		return true
	case termProgram == "WezTerm", termProgram == "mintty",
		termProgram == "rio", termProgram == "WarpTerminal":
		return true
	case os.Getenv("TERM") == "mintty":
		return true
	}

	if !isInteractiveTerminal() {
		return false
	}

	return queryTerminal("\x1b[1337n", detectTimeout, "1337")
}

// HalfblocksSupported reports whether halfblocks rendering is available. It
// always is; halfblocks is the universal fallback.
func HalfblocksSupported() bool {
	return true
}

// ParallelProtocolDetection runs the environment checks for all three
// graphics protocols concurrently and returns their results. When any
// check hits, the terminal has identified itself and the results stand as
// they are. Only terminals giving no environment hints are probed, one
// protocol at a time; queries share the tty and must not interleave.
func ParallelProtocolDetection() (kitty, sixel, iterm2 bool) {
	support := environmentSupport()
	kitty, sixel, iterm2 = support.kitty, support.sixel, support.iterm2

	if kitty || sixel || iterm2 || !isInteractiveTerminal() {
		return kitty, sixel, iterm2
	}

	kitty = queryTerminal("\x1b_Gi=42,s=1,v=1,a=q,t=d,f=24;AAAA\x1b\\", detectTimeout, "i=42")
	sixel = queryTerminal("\x1b[c", detectTimeout, ";4;", ";4c")
	iterm2 = queryTerminal("\x1b[1337n", detectTimeout, "1337")
	return kitty, sixel, iterm2
}

// Detection log. Capability probes are invisible to users, so failures are
// recorded here for debugging instead of being printed.

var (
	detectionLogMu sync.Mutex
	detectionLog   []string
)

func logDetection(format string, args ...any) {
	detectionLogMu.Lock()
	defer detectionLogMu.Unlock()
	detectionLog = append(detectionLog, fmt.Sprintf(format, args...))
}

// GetDetectionLog returns a copy of the recorded detection events.
func GetDetectionLog() []string {
	detectionLogMu.Lock()
	defer detectionLogMu.Unlock()
	return append([]string(nil), detectionLog...)
}

// ClearDetectionLog empties the detection log.
func ClearDetectionLog() {
	detectionLogMu.Lock()
	defer detectionLogMu.Unlock()
	detectionLog = nil
}

// TerminalQuerier sends escape sequence queries to the controlling terminal
// and reads the raw response. It talks to /dev/tty directly so queries work
// even when stdout is redirected.
type TerminalQuerier struct {
	mu  sync.Mutex
	tty *os.File
}

// NewTerminalQuerier opens the controlling terminal for querying. It fails
// when the process has no interactive terminal attached.
func NewTerminalQuerier() (*TerminalQuerier, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open controlling terminal: %w", err)
	}
	if !term.IsTerminal(int(tty.Fd())) {
		tty.Close()
		return nil, fmt.Errorf("controlling terminal is not interactive")
	}
	return &TerminalQuerier{tty: tty}, nil
}

// Query writes seq to the terminal and returns whatever arrives within the
// timeout. The terminal is placed in raw mode for the duration so the
// response is not echoed or line-buffered.
func (q *TerminalQuerier) Query(seq string, timeout time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	fd := int(q.tty.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return "", fmt.Errorf("enter raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	if _, err := q.tty.WriteString(wrapTmuxPassthrough(seq)); err != nil {
		return "", fmt.Errorf("write query: %w", err)
	}

	type readResult struct {
		data string
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		buf := make([]byte, 256)
		n, err := q.tty.Read(buf)
		if err != nil {
			ch <- readResult{err: err}
			return
		}
		ch <- readResult{data: string(buf[:n])}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return "", fmt.Errorf("read response: %w", res.err)
		}
		return res.data, nil
	case <-time.After(timeout):
		return "", fmt.Errorf("terminal query timed out after %s", timeout)
	}
}

// Close releases the terminal handle.
func (q *TerminalQuerier) Close() error {
	return q.tty.Close()
}

// queryTerminal sends a single probe and reports whether the response
// contains any of the markers.
func queryTerminal(seq string, timeout time.Duration, markers ...string) bool {
	querier, err := NewTerminalQuerier()
	if err != nil {
		logDetection("query unavailable: %v", err)
		return false
	}
	defer querier.Close()

	resp, err := querier.Query(seq, timeout)
	if err != nil {
		logDetection("query %q failed: %v", seq, err)
		return false
	}
	for _, marker := range markers {
		if strings.Contains(resp, marker) {
			return true
		}
	}
	return false
}
