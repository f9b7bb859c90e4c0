package imgview

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/anthonynsimon/bild/effect"
)

// defaultTint colors template nodes that carry no tint of their own.
// Terminals have no inherited tint the way a GUI toolkit does, so the
// uncolored template shape is drawn white.
var defaultTint color.Color = color.White

// applyMode applies the node's rendering treatment to the chosen image.
// Original passes the image through untouched.
func applyMode(img image.Image, mode RenderMode, tint color.Color) image.Image {
	if mode != RenderTemplate {
		return img
	}
	return TintImage(img, tint)
}

// TintImage recolors every pixel with the tint while preserving the alpha
// channel, turning the image into a single-color template shape. A nil
// tint falls back to the default.
func TintImage(img image.Image, tint color.Color) image.Image {
	if img == nil {
		return nil
	}
	if tint == nil {
		tint = defaultTint
	}

	bounds := img.Bounds()
	dst := image.NewRGBA(bounds)
	draw.DrawMask(dst, bounds, image.NewUniform(tint), image.Point{}, img, bounds.Min, draw.Src)
	return dst
}

// GrayscaleImage converts the image to grayscale, keeping its dimensions
func GrayscaleImage(img image.Image) image.Image {
	if img == nil {
		return nil
	}
	return effect.Grayscale(img)
}
