package imgview

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/makeworld-the-better-one/dither/v2"
	"github.com/mattn/go-sixel"
	"github.com/soniakeys/quant/median"

	"github.com/blacktop/go-imgview/pkg/csi"
)

// SixelClearMode selects how a sixel image is removed from the screen.
type SixelClearMode int

const (
	// SixelClearAuto clears precisely when the rendered height is known and
	// falls back to a screen clear.
	SixelClearAuto SixelClearMode = iota
	// SixelClearScreen clears the whole screen.
	SixelClearScreen
	// SixelClearPrecise erases only the lines the image occupied.
	SixelClearPrecise
)

// SixelOptions configures sixel encoding.
type SixelOptions struct {
	Colors          int            // palette size, clamped to 2-256
	CustomPalette   color.Palette  // explicit palette, wins over optimization
	OptimizePalette bool           // median cut quantization before encoding
	ClearMode       SixelClearMode // how Clear removes the image
}

// SixelRenderer implements the Renderer interface for the sixel protocol.
type SixelRenderer struct {
	lastWidth  int // last rendered width in character cells
	lastHeight int // last rendered height in character cells
	clearMode  SixelClearMode
}

// Protocol returns the protocol type.
func (r *SixelRenderer) Protocol() Protocol {
	return Sixel
}

// maxSixelGeometry asks the terminal for its maximum sixel raster size
// once per process. Zero means unknown.
var maxSixelGeometry = sync.OnceValues(func() (int, int) {
	if w, h, ok := csi.QueryXTSMGRAPHICS(); ok {
		return w, h
	}
	return 0, 0
})

// clampSixelGeometry scales the image down when it exceeds the terminal's
// advertised sixel raster limit. Oversized rasters are silently truncated
// by xterm, so shrinking beforehand is the only way to keep the whole
// image visible.
func clampSixelGeometry(img image.Image) image.Image {
	maxW, maxH := maxSixelGeometry()
	if maxW <= 0 || maxH <= 0 {
		return img
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxW && h <= maxH {
		return img
	}

	ratio := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	return ResizeImage(img, uint(float64(w)*ratio), uint(float64(h)*ratio), "sixel-clamp")
}

// Render generates the escape sequence for displaying the image.
func (r *SixelRenderer) Render(img image.Image, opts Options) (string, error) {
	processed, err := processImage(img, opts)
	if err != nil {
		return "", fmt.Errorf("failed to process image: %w", err)
	}
	processed = clampSixelGeometry(processed)

	// Palette handling: an explicit palette wins, then median cut
	// optimization. Either one already dithers, so the generic dither
	// pass is skipped afterwards.
	paletteApplied := false
	if opts.SixelOpts != nil {
		if opts.SixelOpts.CustomPalette != nil {
			processed = r.applyCustomPalette(processed, opts.SixelOpts.CustomPalette)
			paletteApplied = true
		} else if opts.SixelOpts.OptimizePalette {
			processed = r.applyOptimizedPalette(processed, opts.SixelOpts.Colors)
			paletteApplied = true
		}
		r.clearMode = opts.SixelOpts.ClearMode
	}

	if opts.Dither && !paletteApplied {
		processed = r.applySixelDithering(processed, opts.DitherMode)
	}

	var buf bytes.Buffer
	enc := sixel.NewEncoder(&buf)

	if opts.SixelOpts != nil {
		if colors := opts.SixelOpts.Colors; colors > 0 {
			enc.Colors = min(max(colors, 2), 256)
		}
		if paletteApplied {
			// The image is already quantized and dithered.
			enc.Dither = false
		}
	}

	if opts.Width > 0 || opts.Height > 0 {
		fontW, fontH := fontSizeFromOptions(opts)
		if opts.Width > 0 {
			enc.Width = opts.Width * fontW
		}
		if opts.Height > 0 {
			enc.Height = opts.Height * fontH
		}
	}

	if err := enc.Encode(processed); err != nil {
		return "", fmt.Errorf("failed to encode sixel: %w", err)
	}
	if buf.Len() == 0 {
		return "", fmt.Errorf("sixel encoding produced empty output")
	}

	output := fmt.Sprintf("\x1bPq%s\x1b\\", buf.String())

	// Track the occupied area for precise clearing.
	if opts.Width > 0 {
		r.lastWidth = opts.Width
	}
	if opts.Height > 0 {
		r.lastHeight = opts.Height
	} else {
		bounds := processed.Bounds()
		_, fontH := fontSizeFromOptions(opts)
		if fontH <= 0 {
			fontH = 16
		}
		r.lastHeight = max(bounds.Dy()/fontH, 1)
	}

	return wrapTmuxPassthrough(output), nil
}

// Print outputs the image directly to stdout.
func (r *SixelRenderer) Print(img image.Image, opts Options) error {
	output, err := r.Render(img, opts)
	if err != nil {
		return err
	}
	_, err = io.WriteString(os.Stdout, output)
	return err
}

// Clear removes the image from the terminal.
func (r *SixelRenderer) Clear(opts ClearOptions) error {
	var clearSequence string
	switch {
	case opts.All || r.clearMode == SixelClearScreen:
		clearSequence = "\x1b[H\x1b[2J"
	case r.lastHeight > 0:
		clearSequence = r.buildPreciseClearSequence(r.lastHeight)
	default:
		clearSequence = "\x1b[H\x1b[2J"
	}

	if _, err := io.WriteString(os.Stdout, wrapTmuxPassthrough(clearSequence)); err != nil {
		return fmt.Errorf("failed to clear sixel image: %w", err)
	}
	return nil
}

// buildPreciseClearSequence erases exactly the lines the image occupied and
// restores the cursor column.
func (r *SixelRenderer) buildPreciseClearSequence(height int) string {
	var result strings.Builder

	if height > 0 {
		result.WriteString(fmt.Sprintf("\x1b[%dA", height))
	}
	for i := 0; i < height; i++ {
		result.WriteString("\x1b[2K")
		if i < height-1 {
			result.WriteString("\x1b[B")
		}
	}
	result.WriteString("\r")
	return result.String()
}

// applyOptimizedPalette quantizes the image to a median cut palette.
func (r *SixelRenderer) applyOptimizedPalette(img image.Image, paletteSize int) image.Image {
	if paletteSize <= 0 {
		paletteSize = 256
	}

	quantizer := median.Quantizer(paletteSize)
	pal := quantizer.Palette(img).ColorPalette()

	ditherer := dither.NewDitherer(pal)
	ditherer.Matrix = dither.Stucki
	return ditherer.Dither(img)
}

// applyCustomPalette dithers the image onto a caller-provided palette.
func (r *SixelRenderer) applyCustomPalette(img image.Image, pal color.Palette) image.Image {
	if len(pal) == 0 {
		return img
	}

	ditherer := dither.NewDitherer(pal)
	ditherer.Matrix = dither.Stucki
	return ditherer.Dither(img)
}

// applySixelDithering applies the generic dither modes with palettes suited
// to sixel output.
func (r *SixelRenderer) applySixelDithering(img image.Image, mode DitherMode) image.Image {
	var ditherer *dither.Ditherer
	switch mode {
	case DitherStucki:
		ditherer = dither.NewDitherer(createWebSafePalette())
		ditherer.Matrix = dither.Stucki
	case DitherFloydSteinberg:
		ditherer = dither.NewDitherer(createSimplePalette())
		ditherer.Matrix = dither.FloydSteinberg
	default:
		return img
	}
	return ditherer.Dither(img)
}
