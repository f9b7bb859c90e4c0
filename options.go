package imgview

import "image/color"

// RenderMode selects how a chosen image is treated when drawn.
type RenderMode int

const (
	// RenderOriginal draws the image with its authored colors.
	RenderOriginal RenderMode = iota
	// RenderTemplate keeps only the alpha shape and recolors every opaque
	// pixel with a single tint.
	RenderTemplate
)

// ModeForTint derives the mode from an optional tint: nil means original
// colors, anything else means a template recolored with c.
func ModeForTint(c color.Color) RenderMode {
	if c == nil {
		return RenderOriginal
	}
	return RenderTemplate
}

func (m RenderMode) String() string {
	switch m {
	case RenderOriginal:
		return "original"
	case RenderTemplate:
		return "template"
	default:
		return "unknown"
	}
}

// ScaleMode defines how images should be scaled
type ScaleMode int

const (
	// ScaleNone performs no scaling
	ScaleNone ScaleMode = iota
	// ScaleFit fits the image within bounds while maintaining aspect ratio
	ScaleFit
	// ScaleFill fills the bounds, potentially cropping the image
	ScaleFill
	// ScaleStretch stretches the image to fill bounds exactly
	ScaleStretch
)

// DitherMode defines dithering algorithms for color reduction
type DitherMode int

const (
	// DitherNone performs no dithering
	DitherNone DitherMode = iota
	// DitherFloydSteinberg uses Floyd-Steinberg error diffusion
	DitherFloydSteinberg
	// DitherStucki uses Stucki error diffusion
	DitherStucki
)

// Options controls both which visual Present selects and how the chosen
// node is realized in the terminal.
type Options struct {
	// Presentation
	Resizable bool        // scale to the layout box instead of the intrinsic size
	Mode      RenderMode  // treatment for untinted local images
	ModeTint  color.Color // tint accompanying Mode when it is RenderTemplate
	Loader    Loader      // resolves remote URLs; nil behaves like a failed load

	// Realization
	Width        int // target width in character cells (0 = auto)
	Height       int // target height in character cells (0 = auto)
	WidthPixels  int // explicit pixel geometry, overrides cell geometry
	HeightPixels int
	Scale        ScaleMode
	Protocol     Protocol
	Grayscale    bool
	Dither       bool
	DitherMode   DitherMode
	ZIndex       int
	Virtual      bool

	features *TerminalFeatures

	// Protocol-specific options
	KittyOpts  *KittyOptions
	SixelOpts  *SixelOptions
	ITerm2Opts *ITerm2Options
}

// DefaultOptions returns the standard presentation: resizable, original
// colors, auto-detected protocol, aspect-preserving fit.
func DefaultOptions() Options {
	return Options{
		Resizable: true,
		Mode:      RenderOriginal,
		Scale:     ScaleFit,
		Protocol:  Auto,
	}
}

// ClearOptions contains options for clearing an image
type ClearOptions struct {
	ImageID string
	All     bool
}
