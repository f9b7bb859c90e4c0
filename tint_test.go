package imgview

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTintImageRecolorsOpaquePixels(t *testing.T) {
	img := solidImage(4, 4, color.RGBA{10, 200, 30, 255})
	red := color.RGBA{255, 0, 0, 255}

	tinted := TintImage(img, red)
	require.NotNil(t, tinted)
	assert.Equal(t, img.Bounds(), tinted.Bounds())

	r, g, b, a := tinted.At(2, 2).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0), g)
	assert.Equal(t, uint32(0), b)
	assert.Equal(t, uint32(0xffff), a)
}

func TestTintImagePreservesAlphaShape(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{10, 20, 30, 255})
	img.SetNRGBA(1, 0, color.NRGBA{10, 20, 30, 0})

	tinted := TintImage(img, color.RGBA{0, 0, 255, 255})

	_, _, _, opaque := tinted.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), opaque)

	_, _, _, transparent := tinted.At(1, 0).RGBA()
	assert.Equal(t, uint32(0), transparent, "transparent pixels must stay transparent")
}

func TestTintImagePartialAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, color.NRGBA{255, 255, 255, 128})

	tinted := TintImage(img, color.RGBA{255, 0, 0, 255})

	r, _, _, a := tinted.At(0, 0).RGBA()
	assert.InDelta(t, 128*257, int(a), 600, "alpha level carries through")
	assert.InDelta(t, 128*257, int(r), 600, "premultiplied red follows the alpha")
}

func TestTintImageNilTintUsesDefault(t *testing.T) {
	img := solidImage(2, 2, color.RGBA{5, 5, 5, 255})

	tinted := TintImage(img, nil)
	r, g, b, _ := tinted.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0xffff), g)
	assert.Equal(t, uint32(0xffff), b)
}

func TestTintImageNil(t *testing.T) {
	assert.Nil(t, TintImage(nil, color.White))
}

func TestApplyModeOriginalPassthrough(t *testing.T) {
	img := solidImage(2, 2, color.RGBA{1, 2, 3, 255})

	// Original mode must not touch the image, even with a tint set.
	result := applyMode(img, RenderOriginal, color.RGBA{255, 0, 0, 255})
	assert.Equal(t, img, result)
}

func TestApplyModeTemplate(t *testing.T) {
	img := solidImage(2, 2, color.RGBA{1, 2, 3, 255})

	result := applyMode(img, RenderTemplate, color.RGBA{0, 255, 0, 255})
	require.NotNil(t, result)

	_, g, _, _ := result.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), g)
}

func TestGrayscaleImage(t *testing.T) {
	img := solidImage(4, 4, color.RGBA{200, 50, 100, 255})

	gray := GrayscaleImage(img)
	require.NotNil(t, gray)
	assert.Equal(t, img.Bounds(), gray.Bounds())

	r, g, b, _ := gray.At(1, 1).RGBA()
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)
}

func TestModeForTint(t *testing.T) {
	assert.Equal(t, RenderOriginal, ModeForTint(nil))
	assert.Equal(t, RenderTemplate, ModeForTint(color.White))
	assert.Equal(t, RenderTemplate, ModeForTint(color.RGBA{}))
}

func TestRenderModeString(t *testing.T) {
	assert.Equal(t, "original", RenderOriginal.String())
	assert.Equal(t, "template", RenderTemplate.String())
	assert.Equal(t, "unknown", RenderMode(42).String())
}
