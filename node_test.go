package imgview

import (
	"image/color"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeRectTransparent(t *testing.T) {
	node := Present(Remote(""), DefaultOptions())
	require.True(t, node.IsRect())

	opts := DefaultOptions()
	output, err := node.Render(opts)
	require.NoError(t, err)

	// A transparent rectangle is plain spaces so it still occupies its
	// box without painting anything.
	lines := strings.Split(output, "\n")
	assert.Len(t, lines, defaultRectHeight)
	for _, line := range lines {
		assert.Equal(t, strings.Repeat(" ", defaultRectWidth), line)
	}
}

func TestNodeRectGeometry(t *testing.T) {
	node := Present(Remote(""), DefaultOptions())

	opts := DefaultOptions()
	opts.Width = 3
	opts.Height = 2

	output, err := node.Render(opts)
	require.NoError(t, err)
	assert.Equal(t, "   \n   ", output)
}

func TestNodeRectFill(t *testing.T) {
	src := Remote("").PlaceholderTint(color.RGBA{200, 30, 30, 255})
	node := Present(src, DefaultOptions())
	require.True(t, node.IsRect())

	opts := DefaultOptions()
	opts.Width = 4
	opts.Height = 2

	output, err := node.Render(opts)
	require.NoError(t, err)
	assert.NotEmpty(t, output)
	assert.Contains(t, output, "    ", "fill rows are still space cells")
}

func TestNodeRenderImage(t *testing.T) {
	img := solidImage(10, 10, color.RGBA{40, 80, 120, 255})
	node := Present(Local(img), DefaultOptions())

	opts := DefaultOptions()
	opts.Protocol = Halfblocks
	opts.Width = 5
	opts.Height = 5
	opts.features = &TerminalFeatures{FontWidth: 8, FontHeight: 16}

	output, err := node.Render(opts)
	require.NoError(t, err)
	assert.NotEmpty(t, output)
	assert.Contains(t, output, "\x1b[", "halfblocks output carries ANSI colors")
}

func TestNodeRenderUnsupportedProtocol(t *testing.T) {
	node := Present(Local(solidImage(2, 2, color.White)), DefaultOptions())

	opts := DefaultOptions()
	opts.Protocol = Unsupported

	_, err := node.Render(opts)
	assert.Error(t, err)
}

func TestNodeNonResizableRendersIntrinsicSize(t *testing.T) {
	img := solidImage(6, 8, color.RGBA{10, 200, 10, 255})

	presentOpts := DefaultOptions()
	presentOpts.Resizable = false
	node := Present(Local(img), presentOpts)
	require.False(t, node.Resizable())

	renderOpts := DefaultOptions()
	renderOpts.Protocol = Halfblocks
	renderOpts.Width = 40
	renderOpts.Height = 20
	renderOpts.features = &TerminalFeatures{FontWidth: 8, FontHeight: 16}

	output, err := node.Render(renderOpts)
	require.NoError(t, err)

	// 8 pixel rows pack into 4 half-block lines regardless of the
	// requested box.
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	assert.Len(t, lines, 4)
}

func TestNodeGrayscaleRender(t *testing.T) {
	img := solidImage(4, 4, color.RGBA{255, 0, 0, 255})
	node := Present(Local(img), DefaultOptions())

	opts := DefaultOptions()
	opts.Protocol = Halfblocks
	opts.Width = 2
	opts.Height = 2
	opts.Grayscale = true
	opts.features = &TerminalFeatures{FontWidth: 8, FontHeight: 16}

	output, err := node.Render(opts)
	require.NoError(t, err)
	assert.NotEmpty(t, output)
}

func TestNodeClearRect(t *testing.T) {
	node := Present(Remote(""), DefaultOptions())
	require.True(t, node.IsRect())

	// Rectangles are ordinary cells; clearing is a no-op.
	assert.NoError(t, node.Clear(DefaultOptions(), ClearOptions{}))
}

func TestNodeRendererReuse(t *testing.T) {
	node := Present(Local(solidImage(2, 2, color.White)), DefaultOptions())

	first, err := node.rendererFor(Halfblocks)
	require.NoError(t, err)
	second, err := node.rendererFor(Halfblocks)
	require.NoError(t, err)
	assert.Same(t, first, second, "repeat renders must reuse the renderer")

	// Auto resolves to whatever rendered last time.
	third, err := node.rendererFor(Auto)
	require.NoError(t, err)
	assert.Same(t, first, third)

	// An explicit protocol switch replaces it.
	fourth, err := node.rendererFor(Sixel)
	require.NoError(t, err)
	assert.NotSame(t, first, fourth)
	assert.Equal(t, Sixel, fourth.Protocol())
}
