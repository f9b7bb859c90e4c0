package imgview

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"strings"
	"time"
)

// ITERM2_CHUNK_SIZE is the chunk size for iTerm2 multipart images (256KB).
const ITERM2_CHUNK_SIZE = 0x40000

// ITerm2Options contains iTerm2-specific rendering options.
type ITerm2Options struct {
	PreserveAspectRatio bool
	Inline              bool
}

// ITerm2Renderer implements the Renderer interface for the iTerm2 inline
// images protocol (OSC 1337).
type ITerm2Renderer struct{}

// Protocol returns the protocol type.
func (r *ITerm2Renderer) Protocol() Protocol {
	return ITerm2
}

// Render generates the escape sequence for displaying the image. Images are
// transferred as PNG so alpha survives; tinted template images rely on it.
func (r *ITerm2Renderer) Render(img image.Image, opts Options) (string, error) {
	processed, err := processImage(img, opts)
	if err != nil {
		return "", fmt.Errorf("failed to process image: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, processed); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}

	bounds := processed.Bounds()
	pixelWidth := bounds.Dx()
	pixelHeight := bounds.Dy()
	data := buf.Bytes()

	// Character cell footprint, used to blank the area before placement.
	fontW, fontH := fontSizeFromOptions(opts)
	charWidth := opts.Width
	if charWidth == 0 {
		if fontW <= 0 {
			fontW = 8
		}
		charWidth = (pixelWidth + fontW - 1) / fontW
	}
	charHeight := opts.Height
	if charHeight == 0 {
		if fontH <= 0 {
			fontH = 16
		}
		charHeight = (pixelHeight + fontH - 1) / fontH
	}

	start, escape, end := getTmuxEscapeSequences()

	// ECH the target area so stale glyphs never bleed through the image.
	var echSequence strings.Builder
	echSequence.WriteString(start)
	for i := 0; i < charHeight; i++ {
		echSequence.WriteString(fmt.Sprintf("%s[%dX", escape, charWidth))
		if i < charHeight-1 {
			echSequence.WriteString(fmt.Sprintf("%s[1B", escape))
		}
	}
	if charHeight > 0 {
		echSequence.WriteString(fmt.Sprintf("%s[%dA", escape, charHeight))
	}

	params := []string{
		"inline=1",
		"doNotMoveCursor=1",
		fmt.Sprintf("size=%d", len(data)),
		fmt.Sprintf("width=%dpx", pixelWidth),
		fmt.Sprintf("height=%dpx", pixelHeight),
	}
	if opts.ITerm2Opts != nil && opts.ITerm2Opts.PreserveAspectRatio {
		params = append(params, "preserveAspectRatio=1")
	}
	paramStr := strings.Join(params, ";")

	var imageSequence strings.Builder
	if len(data) > ITERM2_CHUNK_SIZE {
		// Multipart transfer: MultipartFile, FilePart..., FileEnd. Each part
		// is framed on its own so tmux passthrough stays balanced.
		imageSequence.WriteString(fmt.Sprintf("%s]1337;MultipartFile=%s:%s\x07",
			escape, paramStr,
			base64.StdEncoding.EncodeToString(data[:ITERM2_CHUNK_SIZE]),
		))
		imageSequence.WriteString(end)

		rest := data[ITERM2_CHUNK_SIZE:]
		for off := 0; off < len(rest); off += ITERM2_CHUNK_SIZE {
			chunkEnd := min(off+ITERM2_CHUNK_SIZE, len(rest))
			chunk := rest[off:chunkEnd:chunkEnd]
			imageSequence.WriteString(start)
			imageSequence.WriteString(fmt.Sprintf("%s]1337;FilePart:%s\x07",
				escape, base64.StdEncoding.EncodeToString(chunk),
			))
			imageSequence.WriteString(end)
		}

		imageSequence.WriteString(start)
		imageSequence.WriteString(fmt.Sprintf("%s]1337;FileEnd\x07", escape))
	} else {
		// \x1b]1337;File=[parameters]:[base64 data]\x07
		imageSequence.WriteString(fmt.Sprintf("%s]1337;File=%s:%s\x07",
			escape, paramStr, base64.StdEncoding.EncodeToString(data)))
	}

	if inTmux() {
		return echSequence.String() + imageSequence.String() + end, nil
	}
	return imageSequence.String() + end, nil
}

// Print outputs the image directly to stdout.
func (r *ITerm2Renderer) Print(img image.Image, opts Options) error {
	output, err := r.Render(img, opts)
	if err != nil {
		return err
	}
	_, err = io.WriteString(os.Stdout, output)
	return err
}

// Clear removes the image from the terminal. iTerm2 has no image deletion
// command, so clearing falls back to erasing the affected lines or the
// whole screen.
func (r *ITerm2Renderer) Clear(opts ClearOptions) error {
	start, escape, end := getTmuxEscapeSequences()

	var clearSequence string
	if opts.All {
		clearSequence = fmt.Sprintf("%s%s[2J%s[3J%s[H%s", start, escape, escape, escape, end)
	} else {
		clearSequence = fmt.Sprintf("%s%s[2K%s[1A%s[2K%s[1B%s", start, escape, escape, escape, escape, end)
	}

	_, err := io.WriteString(os.Stdout, clearSequence)
	return err
}

/* DETECTION */

// DetectITerm2FromEnvironment checks environment variables for indicators
// that the hosting terminal is iTerm2 itself.
func DetectITerm2FromEnvironment() bool {
	if os.Getenv("TERM_PROGRAM") == "iTerm.app" {
		return true
	}

	if strings.Contains(strings.ToLower(os.Getenv("LC_TERMINAL")), "iterm") {
		return true
	}

	if os.Getenv("ITERM_SESSION_ID") != "" {
		return true
	}

	// iTerm2 session IDs look like "w0t0p0:UUID".
	termSessionID := os.Getenv("TERM_SESSION_ID")
	if termSessionID != "" && strings.Contains(termSessionID, ":") && strings.HasPrefix(termSessionID, "w") {
		return true
	}

	return false
}

// DetectITerm2FromReportCellSize uses the OSC 1337 ReportCellSize query to
// detect iTerm2.
func DetectITerm2FromReportCellSize() bool {
	return queryITerm2("\x1b]1337;ReportCellSize\x07", func(response string) bool {
		return strings.Contains(response, "1337") && strings.Contains(response, "ReportCellSize=")
	})
}

// DetectITerm2FromReportVariable uses the OSC 1337 ReportVariable query to
// detect iTerm2.
func DetectITerm2FromReportVariable() bool {
	// "session.name" base64-encoded
	return queryITerm2("\x1b]1337;ReportVariable=c2Vzc2lvbi5uYW1l\x07", func(response string) bool {
		return strings.Contains(response, "1337") && strings.Contains(response, "ReportVariable")
	})
}

// GetITerm2CellSize asks iTerm2 for its cell size. Returns width, height,
// scale, and whether the query succeeded.
func GetITerm2CellSize() (float64, float64, float64, bool) {
	var width, height, scale float64

	ok := queryITerm2("\x1b]1337;ReportCellSize\x07", func(response string) bool {
		// Response: OSC 1337;ReportCellSize=width;height;scale
		if !strings.Contains(response, "ReportCellSize=") {
			return false
		}
		parts := strings.SplitN(response, "ReportCellSize=", 2)
		valuePart := parts[1]
		if idx := strings.IndexAny(valuePart, "\x1b\x07"); idx > 0 {
			valuePart = valuePart[:idx]
		}
		values := strings.Split(valuePart, ";")
		if len(values) < 3 {
			return false
		}
		fmt.Sscanf(values[0], "%f", &width)
		fmt.Sscanf(values[1], "%f", &height)
		fmt.Sscanf(values[2], "%f", &scale)
		return true
	})

	return width, height, scale, ok
}

// queryITerm2 sends an iTerm2 proprietary query and validates the response.
// Terminals known to never answer OSC 1337 are skipped outright.
func queryITerm2(query string, validate func(string) bool) bool {
	switch os.Getenv("TERM_PROGRAM") {
	case "ghostty", "kitty", "alacritty":
		return false
	}

	querier, err := NewTerminalQuerier()
	if err != nil {
		return false
	}
	defer querier.Close()

	response, err := querier.Query(query, 200*time.Millisecond)
	if err != nil {
		return false
	}
	return validate(response)
}
