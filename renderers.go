package imgview

import (
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"os"

	"golang.org/x/term"
)

// Renderer realizes a processed image as an escape sequence for one
// graphics protocol.
type Renderer interface {
	// Render generates the escape sequence for displaying the image
	Render(img image.Image, opts Options) (string, error)

	// Print outputs the image directly to stdout
	Print(img image.Image, opts Options) error

	// Clear removes the image from the terminal
	Clear(opts ClearOptions) error

	// Protocol returns the protocol type
	Protocol() Protocol
}

// GetRenderer returns a renderer for the specified protocol.
func GetRenderer(protocol Protocol) (Renderer, error) {
	switch protocol {
	case Auto:
		detected := DetectProtocol()
		if detected == Unsupported {
			return nil, fmt.Errorf("no supported terminal protocol detected")
		}
		return GetRenderer(detected)
	case Kitty:
		return &KittyRenderer{}, nil
	case Sixel:
		return &SixelRenderer{}, nil
	case ITerm2:
		return &ITerm2Renderer{}, nil
	case Halfblocks:
		return &HalfblocksRenderer{}, nil
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", protocol)
	}
}

// processImage applies the shared pre-render pipeline: geometry scaling
// followed by optional dithering.
func processImage(img image.Image, opts Options) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("cannot process nil image")
	}

	if opts.Scale != ScaleNone {
		img = scaleImage(img, opts)
	}

	if opts.Dither {
		img = ditherImage(img, opts.DitherMode)
	}

	return img, nil
}

// scaleImage resizes the image to the target box derived from the options.
// Pixel dimensions win over cell dimensions; cell dimensions are converted
// using the terminal font size. With no dimensions at all, ScaleFit fits
// the terminal window and other modes leave the image untouched.
func scaleImage(img image.Image, opts Options) image.Image {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW == 0 || srcH == 0 {
		return img
	}

	boxW, boxH := renderTargetPixels(opts)
	if boxW == 0 && boxH == 0 {
		return img
	}

	// Single-axis targets always preserve aspect ratio.
	if boxW == 0 {
		boxW = (boxH * srcW) / srcH
	} else if boxH == 0 {
		boxH = (boxW * srcH) / srcW
	}
	if boxW <= 0 || boxH <= 0 {
		return img
	}

	targetW, targetH := boxW, boxH
	switch opts.Scale {
	case ScaleFit:
		ratio := min(float64(boxW)/float64(srcW), float64(boxH)/float64(srcH))
		targetW = int(float64(srcW) * ratio)
		targetH = int(float64(srcH) * ratio)

	case ScaleFill:
		ratio := max(float64(boxW)/float64(srcW), float64(boxH)/float64(srcH))
		targetW = int(float64(srcW) * ratio)
		targetH = int(float64(srcH) * ratio)

	case ScaleStretch:
		// Use the box directly.
	}

	if targetW <= 0 || targetH <= 0 {
		return img
	}

	resized := ResizeImage(img, uint(targetW), uint(targetH), "render")
	if opts.Scale == ScaleFill && (targetW > boxW || targetH > boxH) {
		resized = CropImageCenter(resized, boxW, boxH)
	}
	return resized
}

// renderTargetPixels resolves the requested geometry to a pixel box. Either
// axis may come back 0, meaning unconstrained.
func renderTargetPixels(opts Options) (int, int) {
	if opts.WidthPixels > 0 || opts.HeightPixels > 0 {
		return opts.WidthPixels, opts.HeightPixels
	}

	cols, rows := opts.Width, opts.Height
	if cols == 0 && rows == 0 {
		if opts.Scale != ScaleFit {
			return 0, 0
		}
		w, h, err := term.GetSize(int(os.Stdout.Fd()))
		if err != nil {
			return 0, 0
		}
		cols, rows = w, h
	}

	fontW, fontH := fontSizeFromOptions(opts)
	return cols * fontW, rows * fontH
}

// fontSizeFromOptions returns the cell size in pixels, preferring features
// captured in the options over a live terminal query.
func fontSizeFromOptions(opts Options) (int, int) {
	if f := opts.features; f != nil && f.FontWidth > 0 && f.FontHeight > 0 {
		return f.FontWidth, f.FontHeight
	}
	return getTerminalFontSize()
}

// getTerminalFontSize returns the terminal's character cell size in pixels.
func getTerminalFontSize() (width, height int) {
	f := QueryTerminalFeatures()
	if f.FontWidth > 0 && f.FontHeight > 0 {
		return f.FontWidth, f.FontHeight
	}
	return 8, 16
}

// ditherImage reduces the image to a dithering palette for protocols or
// aesthetics that want limited color.
func ditherImage(img image.Image, mode DitherMode) image.Image {
	if mode == DitherNone {
		return img
	}
	return DitherImage(img, createDitherPalette(mode))
}

// createDitherPalette picks a palette for the dither mode.
func createDitherPalette(mode DitherMode) color.Palette {
	switch mode {
	case DitherFloydSteinberg:
		// Web-safe renders most predictably across terminals.
		return palette.WebSafe
	default:
		return palette.Plan9
	}
}

// createWebSafePalette returns the 216-color web-safe palette.
func createWebSafePalette() color.Palette {
	return palette.WebSafe
}

// createSimplePalette returns the 16 ANSI primaries for terminals with
// minimal color support.
func createSimplePalette() color.Palette {
	return color.Palette{
		color.RGBA{0, 0, 0, 255},
		color.RGBA{128, 0, 0, 255},
		color.RGBA{0, 128, 0, 255},
		color.RGBA{128, 128, 0, 255},
		color.RGBA{0, 0, 128, 255},
		color.RGBA{128, 0, 128, 255},
		color.RGBA{0, 128, 128, 255},
		color.RGBA{192, 192, 192, 255},
		color.RGBA{128, 128, 128, 255},
		color.RGBA{255, 0, 0, 255},
		color.RGBA{0, 255, 0, 255},
		color.RGBA{255, 255, 0, 255},
		color.RGBA{0, 0, 255, 255},
		color.RGBA{255, 0, 255, 255},
		color.RGBA{0, 255, 255, 255},
		color.RGBA{255, 255, 255, 255},
	}
}

// DitherImage dithers an image onto the given palette with Floyd-Steinberg
// error diffusion.
func DitherImage(img image.Image, pal color.Palette) image.Image {
	if img == nil {
		return nil
	}
	if len(pal) == 0 {
		return img
	}

	bounds := img.Bounds()
	dst := image.NewPaletted(bounds, pal)
	draw.FloydSteinberg.Draw(dst, bounds, img, image.Point{})
	return dst
}

// isInteractiveTerminal checks if we're running with a terminal attached to
// stdin, as opposed to a pipe or CI environment.
func isInteractiveTerminal() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
