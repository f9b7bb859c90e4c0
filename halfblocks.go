package imgview

import (
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/charmbracelet/x/mosaic"
	"golang.org/x/term"
)

// HalfblocksRenderer draws images as Unicode half-block characters with
// ANSI colors. It needs no graphics protocol, so it works everywhere.
type HalfblocksRenderer struct {
	lastWidth  int // last rendered width in character cells
	lastHeight int // last rendered height in character cells
}

// Protocol returns the protocol type.
func (r *HalfblocksRenderer) Protocol() Protocol {
	return Halfblocks
}

// Render generates the half-block representation of the image. Geometry is
// in character cells; a cell covers two image rows because each character
// carries an upper and a lower half-block pixel.
func (r *HalfblocksRenderer) Render(img image.Image, opts Options) (string, error) {
	if img == nil {
		return "", fmt.Errorf("cannot render nil image")
	}

	m := mosaic.New().Dither(opts.Dither)

	cols := opts.Width
	rows := opts.Height
	if opts.Scale == ScaleNone {
		// Intrinsic size: one cell per pixel column, two pixel rows per
		// cell.
		bounds := img.Bounds()
		cols = bounds.Dx()
		rows = (bounds.Dy() + 1) / 2
	} else if cols == 0 && rows == 0 {
		if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			cols, rows = w, h
		} else {
			cols, rows = 80, 24
		}
	}

	if opts.Scale == ScaleFit && cols > 0 && rows > 0 {
		bounds := img.Bounds()
		srcW, srcH := float64(bounds.Dx()), float64(bounds.Dy())
		if srcW > 0 && srcH > 0 {
			// A cell is one pixel wide but two pixels tall in half-block
			// space, so fit against doubled height.
			effectiveHeight := float64(rows) * 2.0
			ratio := min(float64(cols)/srcW, effectiveHeight/srcH)
			cols = int(srcW * ratio)
			rows = int(srcH * ratio / 2.0)
		}
	}

	if cols > 0 {
		m = m.Width(cols)
		r.lastWidth = cols
	}
	if rows > 0 {
		m = m.Height(rows)
		r.lastHeight = rows
	}

	// Plain ANSI output; tmux passthrough is not needed for half-blocks.
	output := m.Render(img)

	if r.lastWidth == 0 || r.lastHeight == 0 {
		lines := strings.Split(output, "\n")
		if len(lines) > 0 {
			r.lastHeight = len(lines)
			for _, line := range lines {
				if len(line) > 0 {
					// ANSI codes dominate line length; this is an estimate.
					r.lastWidth = max(len(line)/4, 40)
					break
				}
			}
		}
	}

	return output, nil
}

// Print outputs the image directly to stdout.
func (r *HalfblocksRenderer) Print(img image.Image, opts Options) error {
	output, err := r.Render(img, opts)
	if err != nil {
		return err
	}
	fmt.Print(output)
	return nil
}

// Clear overwrites the area of the last rendered image with spaces and
// moves the cursor back up.
func (r *HalfblocksRenderer) Clear(opts ClearOptions) error {
	clearLines := r.lastHeight
	clearWidth := r.lastWidth
	if clearLines <= 0 {
		clearLines = 20
	}
	if clearWidth <= 0 {
		clearWidth = 80
	}

	clearLine := strings.Repeat(" ", clearWidth)
	for i := 0; i < clearLines; i++ {
		fmt.Println(clearLine)
	}
	if clearLines > 0 {
		fmt.Printf("\x1b[%dA", clearLines)
	}
	return nil
}
