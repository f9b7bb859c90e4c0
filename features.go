package imgview

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// TerminalFeatures describes everything detected about the hosting
// terminal: which graphics protocols it speaks, its cell and window
// geometry, and the environment it runs in.
type TerminalFeatures struct {
	// Graphics protocol support
	KittyGraphics  bool
	SixelGraphics  bool
	ITerm2Graphics bool

	// Font and window geometry
	FontWidth         int
	FontHeight        int
	WindowCols        int
	WindowRows        int
	WindowPixelWidth  int
	WindowPixelHeight int

	// Feature support
	RectangularOps bool     // sixel rectangular editing operations
	TrueColor      bool     // 24-bit color support
	DeviceAttribs  []string // raw device attribute responses

	// Environment
	IsTmux      bool
	IsScreen    bool
	TermName    string
	TermProgram string
}

// CSIQuery represents a Control Sequence Introducer query.
type CSIQuery struct {
	Query       string        // the query string to send
	Timeout     time.Duration // how long to wait for a response
	Description string        // human readable description
}

// CSIResponse represents a parsed response from a CSI query.
type CSIResponse struct {
	Raw    string // raw response received
	Type   string // response kind (DA1, DA2, FONT_SIZE, ...)
	Values []int  // parsed numeric values
}

// Standard CSI queries based on xterm documentation and widespread support.
var (
	QueryDeviceAttribs1 = CSIQuery{
		Query:       "\x1b[c",
		Timeout:     200 * time.Millisecond,
		Description: "Primary Device Attributes (DA1)",
	}

	QueryDeviceAttribs2 = CSIQuery{
		Query:       "\x1b[>c",
		Timeout:     200 * time.Millisecond,
		Description: "Secondary Device Attributes (DA2)",
	}

	QueryFontSizeCSI = CSIQuery{
		Query:       "\x1b[16t",
		Timeout:     300 * time.Millisecond,
		Description: "Character cell size in pixels",
	}

	QueryWindowSizePixels = CSIQuery{
		Query:       "\x1b[14t",
		Timeout:     200 * time.Millisecond,
		Description: "Window size in pixels",
	}

	QueryWindowSizeChars = CSIQuery{
		Query:       "\x1b[18t",
		Timeout:     200 * time.Millisecond,
		Description: "Window size in characters",
	}

	QueryDeviceStatus = CSIQuery{
		Query:       "\x1b[5n",
		Timeout:     200 * time.Millisecond,
		Description: "Device Status Report",
	}

	QueryKittyGraphics = CSIQuery{
		Query:       "\x1b_Gi=31,s=1,v=1,a=q,t=d,f=24;AAAA\x1b\\",
		Timeout:     200 * time.Millisecond,
		Description: "Kitty Graphics Protocol Query",
	}

	QueryITerm2Proprietary = CSIQuery{
		Query:       "\x1b[1337n",
		Timeout:     200 * time.Millisecond,
		Description: "iTerm2 Proprietary Query",
	}
)

var (
	featureCacheMu sync.Mutex
	featureCache   *TerminalFeatures
)

// QueryTerminalFeatures returns the detected terminal features, performing
// detection on first use. The result is cached; it never returns nil.
func QueryTerminalFeatures() *TerminalFeatures {
	featureCacheMu.Lock()
	defer featureCacheMu.Unlock()
	if featureCache == nil {
		featureCache = detectTerminalFeatures()
	}
	return featureCache
}

// ClearFeatureCache discards the cached terminal features so the next call
// re-detects them.
func ClearFeatureCache() {
	featureCacheMu.Lock()
	featureCache = nil
	featureCacheMu.Unlock()
}

// RefreshTerminalFeatures forces a fresh detection pass and returns it.
func RefreshTerminalFeatures() *TerminalFeatures {
	ClearFeatureCache()
	return QueryTerminalFeatures()
}

// detectTerminalFeatures runs the environment fast path, then refines the
// result with live terminal queries when one is attached.
func detectTerminalFeatures() *TerminalFeatures {
	f := &TerminalFeatures{
		TermName:    os.Getenv("TERM"),
		TermProgram: os.Getenv("TERM_PROGRAM"),
		IsTmux:      inTmux(),
		IsScreen:    inScreen(),
	}

	f.fillFromEnvironment()

	if !isInteractiveTerminal() {
		return f
	}

	if err := f.fillFromCSIQueries(); err != nil {
		logDetection("CSI feature queries skipped: %v", err)
	}
	return f
}

// fillFromEnvironment populates features that environment variables reveal
// without touching the terminal.
func (f *TerminalFeatures) fillFromEnvironment() {
	termName := strings.ToLower(f.TermName)
	termProgram := f.TermProgram

	f.KittyGraphics = DetectKittyFromEnvironment()
	f.SixelGraphics = DetectSixelFromEnvironment()
	f.ITerm2Graphics = DetectITerm2FromEnvironment()

	// Terminals speaking several protocols at once
	switch termProgram {
	case "WezTerm", "rio":
		f.KittyGraphics = true
	case "vscode":
		if os.Getenv("TERM_PROGRAM_VERSION") != "" {
			f.ITerm2Graphics = true
		}
	case "mintty", "WarpTerminal":
		f.ITerm2Graphics = true
	}

	switch {
	case strings.Contains(termName, "truecolor"),
		strings.Contains(termName, "24bit"),
		strings.Contains(termName, "kitty"):
		f.TrueColor = true
	case termProgram == "iTerm.app", termProgram == "WezTerm":
		f.TrueColor = true
	case os.Getenv("COLORTERM") == "truecolor", os.Getenv("COLORTERM") == "24bit":
		f.TrueColor = true
	}

	f.FontWidth, f.FontHeight = getFontSizeFallback()

	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		f.WindowCols, f.WindowRows = w, h
	}
}

// fillFromCSIQueries batches every feature probe into one raw-mode session
// and parses whatever the terminal answers.
func (f *TerminalFeatures) fillFromCSIQueries() error {
	querier, err := NewTerminalQuerier()
	if err != nil {
		return err
	}
	defer querier.Close()

	queries := []string{
		QueryDeviceStatus.Query, // first, confirms the terminal responds at all
		QueryDeviceAttribs1.Query,
		QueryDeviceAttribs2.Query,
		QueryFontSizeCSI.Query,
		QueryWindowSizePixels.Query,
		QueryWindowSizeChars.Query,
		QueryKittyGraphics.Query,
		QueryITerm2Proprietary.Query,
	}

	responses, err := querier.QueryBatch(queries, 500*time.Millisecond)
	if err != nil {
		return err
	}

	f.applyCSIResponses(responses)
	return nil
}

// applyCSIResponses splits a concatenated response stream on ESC and folds
// each recognized response into the feature set.
func (f *TerminalFeatures) applyCSIResponses(responses string) {
	for _, part := range strings.Split(responses, "\x1b") {
		if part == "" {
			continue
		}

		parsed := parseCSIResponse("\x1b" + part)
		switch parsed.Type {
		case "DA1":
			f.DeviceAttribs = append(f.DeviceAttribs, parsed.Raw)
			for _, val := range parsed.Values {
				switch val {
				case 4:
					f.SixelGraphics = true
				case 28:
					f.RectangularOps = true
				}
			}

		case "DA2":
			f.DeviceAttribs = append(f.DeviceAttribs, parsed.Raw)

		case "FONT_SIZE":
			if len(parsed.Values) >= 2 {
				f.FontHeight = parsed.Values[0]
				f.FontWidth = parsed.Values[1]
			}

		case "WINDOW_SIZE_PIXELS":
			if len(parsed.Values) >= 2 {
				f.WindowPixelHeight = parsed.Values[0]
				f.WindowPixelWidth = parsed.Values[1]
			}

		case "WINDOW_SIZE_CHARS":
			if len(parsed.Values) >= 2 {
				f.WindowRows = parsed.Values[0]
				f.WindowCols = parsed.Values[1]
			}

		case "KITTY_OK":
			f.KittyGraphics = true

		case "ITERM2_OK":
			f.ITerm2Graphics = true
		}
	}
}

// parseCSIResponse parses a single raw response into structured data.
func parseCSIResponse(response string) CSIResponse {
	parsed := CSIResponse{Raw: response}

	if !strings.HasPrefix(response, "\x1b") {
		return parsed
	}
	content := response[1:]

	numbers := func(inner string) []int {
		var values []int
		for _, part := range strings.Split(inner, ";") {
			if val, err := strconv.Atoi(part); err == nil {
				values = append(values, val)
			}
		}
		return values
	}

	switch {
	case strings.HasPrefix(content, "[?") && strings.HasSuffix(content, "c"):
		// Primary Device Attributes: \x1b[?1;2;4;6;9c
		parsed.Type = "DA1"
		parsed.Values = numbers(content[2 : len(content)-1])

	case strings.HasPrefix(content, "[>") && strings.HasSuffix(content, "c"):
		// Secondary Device Attributes: \x1b[>1;95;0c
		parsed.Type = "DA2"
		parsed.Values = numbers(content[2 : len(content)-1])

	case strings.HasPrefix(content, "[6;") && strings.HasSuffix(content, "t"):
		// Cell size: \x1b[6;height;width t
		parsed.Type = "FONT_SIZE"
		parsed.Values = numbers(content[3 : len(content)-1])

	case strings.HasPrefix(content, "[4;") && strings.HasSuffix(content, "t"):
		// Window pixels: \x1b[4;height;width t
		parsed.Type = "WINDOW_SIZE_PIXELS"
		parsed.Values = numbers(content[3 : len(content)-1])

	case strings.HasPrefix(content, "[8;") && strings.HasSuffix(content, "t"):
		// Window cells: \x1b[8;rows;cols t
		parsed.Type = "WINDOW_SIZE_CHARS"
		parsed.Values = numbers(content[3 : len(content)-1])

	case strings.HasPrefix(content, "_Gi=31;OK"):
		parsed.Type = "KITTY_OK"

	case strings.Contains(content, "1337"):
		parsed.Type = "ITERM2_OK"

	case strings.HasPrefix(content, "[0n"):
		parsed.Type = "DSR"

	case strings.Contains(content, "R"):
		parsed.Type = "CPR"
	}

	return parsed
}

// SendCSIQuery sends a single CSI query and returns the parsed response.
func SendCSIQuery(query CSIQuery) (*CSIResponse, error) {
	querier, err := NewTerminalQuerier()
	if err != nil {
		return nil, err
	}
	defer querier.Close()

	raw, err := querier.Query(query.Query, query.Timeout)
	if err != nil {
		return nil, err
	}

	parsed := parseCSIResponse(raw)
	return &parsed, nil
}

// QueryBatch writes every query in order, then collects responses until the
// terminal goes quiet or the timeout passes. All queries share one raw-mode
// session, which is much faster than querying one at a time.
func (q *TerminalQuerier) QueryBatch(queries []string, timeout time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	fd := int(q.tty.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return "", fmt.Errorf("enter raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	for _, query := range queries {
		if _, err := q.tty.WriteString(wrapTmuxPassthrough(query)); err != nil {
			continue
		}
		// Terminals interleave responses if queries arrive too fast.
		time.Sleep(10 * time.Millisecond)
	}

	var buf bytes.Buffer
	chunk := make([]byte, 512)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := q.tty.SetReadDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
			break
		}
		n, err := q.tty.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			// More data may follow a burst; extend the window.
			deadline = time.Now().Add(100 * time.Millisecond)
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			break
		}
	}
	q.tty.SetReadDeadline(time.Time{})

	return buf.String(), nil
}

// QueryTerminalFontSize queries the terminal for the character cell size in
// pixels.
func QueryTerminalFontSize() (width, height int, err error) {
	response, err := SendCSIQuery(QueryFontSizeCSI)
	if err != nil {
		return 0, 0, err
	}
	if response.Type == "FONT_SIZE" && len(response.Values) >= 2 {
		return response.Values[1], response.Values[0], nil
	}
	return 0, 0, fmt.Errorf("invalid font size response")
}

// QueryWindowSize queries the terminal for window dimensions in both
// character cells and pixels.
func QueryWindowSize() (cols, rows, pixelWidth, pixelHeight int, err error) {
	charResponse, err1 := SendCSIQuery(QueryWindowSizeChars)
	pixelResponse, err2 := SendCSIQuery(QueryWindowSizePixels)

	if err1 != nil && err2 != nil {
		return 0, 0, 0, 0, fmt.Errorf("failed to query window size")
	}

	if err1 == nil && charResponse.Type == "WINDOW_SIZE_CHARS" && len(charResponse.Values) >= 2 {
		rows = charResponse.Values[0]
		cols = charResponse.Values[1]
	}
	if err2 == nil && pixelResponse.Type == "WINDOW_SIZE_PIXELS" && len(pixelResponse.Values) >= 2 {
		pixelHeight = pixelResponse.Values[0]
		pixelWidth = pixelResponse.Values[1]
	}
	return cols, rows, pixelWidth, pixelHeight, nil
}

// QueryDeviceAttributes queries the terminal for primary and secondary
// device attributes.
func QueryDeviceAttributes() (primary, secondary []int, err error) {
	response1, err1 := SendCSIQuery(QueryDeviceAttribs1)
	if err1 == nil && response1.Type == "DA1" {
		primary = response1.Values
	}

	response2, err2 := SendCSIQuery(QueryDeviceAttribs2)
	if err2 == nil && response2.Type == "DA2" {
		secondary = response2.Values
	}

	if err1 != nil && err2 != nil {
		return nil, nil, fmt.Errorf("failed to query device attributes")
	}
	return primary, secondary, nil
}

// getFontSizeFallback returns sensible cell size defaults for known
// terminals when no live query is possible.
func getFontSizeFallback() (width, height int) {
	termName := os.Getenv("TERM")
	termProgram := os.Getenv("TERM_PROGRAM")

	switch {
	case termProgram == "vscode":
		return 7, 14
	case termProgram == "iTerm.app":
		return 8, 16
	case termProgram == "WezTerm":
		return 8, 18
	case termProgram == "Alacritty":
		return 7, 15
	case strings.Contains(termProgram, "kitty"), strings.Contains(termName, "kitty"):
		return 8, 16
	case strings.Contains(termName, "xterm"):
		return 7, 14
	default:
		return 8, 16
	}
}
