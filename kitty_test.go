package imgview

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"image"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKittyZlibCompression(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	opts := Options{
		KittyOpts: &KittyOptions{
			Compression: true,
		},
		features: &TerminalFeatures{},
	}

	renderer := &KittyRenderer{}
	output, err := renderer.Render(img, opts)
	assert.NoError(t, err)
	t.Log(output)

	// Handle tmux wrapping if present
	output = unwrapTmux(output)

	assert.Contains(t, output, "o=z", "Should contain zlib compression flag")

	// Verify that the data is actually compressed
	// The structure is: \x1b_G<controls>;<payload>\x1b\\
	parts := strings.SplitN(output, ";", 2)
	assert.Len(t, parts, 2, "Output should be split into control and payload parts")

	encodedData := strings.TrimSuffix(parts[1], "\x1b\\")

	decodedData, err := base64.StdEncoding.DecodeString(encodedData)
	assert.NoError(t, err)

	// Attempt to decompress the data
	r, err := zlib.NewReader(bytes.NewReader(decodedData))
	assert.NoError(t, err, "Should be able to decompress data")
	if r != nil {
		r.Close()
	}
}

// unwrapTmux strips passthrough framing when the test itself runs inside
// tmux, mirroring what the terminal would see.
func unwrapTmux(output string) string {
	after, ok := strings.CutPrefix(output, "\x1bPtmux;\x1b")
	if !ok {
		return output
	}
	after = strings.TrimSuffix(after, "\x1b\\")
	return strings.ReplaceAll(after, "\x1b\x1b", "\x1b")
}

func TestKittyRawTransfer(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	opts := Options{
		features: &TerminalFeatures{},
	}

	renderer := &KittyRenderer{}
	output, err := renderer.Render(img, opts)
	assert.NoError(t, err)
	output = unwrapTmux(output)

	assert.Contains(t, output, "f=32", "Default transfer is raw RGBA")
	assert.Contains(t, output, "s=3", "Should carry the pixel width")
	assert.Contains(t, output, "v=2", "Should carry the pixel height")

	// 3x2 RGBA pixels are 24 raw bytes.
	parts := strings.SplitN(output, ";", 2)
	require.Len(t, parts, 2)
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSuffix(parts[1], "\x1b\\"))
	require.NoError(t, err)
	assert.Len(t, decoded, 24)
}

func TestKittyPNGTransfer(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	opts := Options{
		KittyOpts: &KittyOptions{
			PNG: true,
		},
		features: &TerminalFeatures{},
	}

	renderer := &KittyRenderer{}
	output, err := renderer.Render(img, opts)
	assert.NoError(t, err)

	assert.Contains(t, output, "f=100", "Should contain PNG data format flag")
}

func TestKittyTempFileTransfer(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	opts := Options{
		KittyOpts: &KittyOptions{
			TempFile: true,
		},
		features: &TerminalFeatures{},
	}

	renderer := &KittyRenderer{}
	output, err := renderer.Render(img, opts)
	assert.NoError(t, err)

	assert.Contains(t, output, "t=t", "Should contain temporary file transfer flag")
}

func TestKittyImageNumber(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	opts := Options{
		KittyOpts: &KittyOptions{
			ImageNum: 42,
		},
		features: &TerminalFeatures{},
	}

	renderer := &KittyRenderer{}
	output, err := renderer.Render(img, opts)
	assert.NoError(t, err)

	assert.Contains(t, output, "I=42", "Should contain image number")
}

func TestKittyVirtualPlacement(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	opts := Options{
		Virtual: true,
		KittyOpts: &KittyOptions{
			ImageID: "7",
		},
		features: &TerminalFeatures{},
	}

	renderer := &KittyRenderer{}
	output, err := renderer.Render(img, opts)
	assert.NoError(t, err)

	assert.Contains(t, output, "U=1", "Virtual placements set the placeholder flag")
	assert.Contains(t, output, "i=7")
}

func TestKittyChunkedTransfer(t *testing.T) {
	// 64x64 RGBA is 16KB raw, which must span several 4KB chunks.
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	opts := Options{
		features: &TerminalFeatures{},
	}

	renderer := &KittyRenderer{}
	output, err := renderer.Render(img, opts)
	require.NoError(t, err)
	output = unwrapTmux(output)

	assert.Contains(t, output, "m=1", "Intermediate chunks continue the transfer")
	assert.Contains(t, output, "m=0", "The final chunk terminates the transfer")
	assert.Greater(t, strings.Count(output, "\x1b_G"), 1, "Chunked output is a series of escapes")

	// Control keys appear only on the first escape.
	assert.Equal(t, 1, strings.Count(output, "a=T"))

	// Reassembling the chunks yields the full pixel payload.
	var payload strings.Builder
	for _, seq := range strings.Split(output, "\x1b\\") {
		if seq == "" {
			continue
		}
		_, data, found := strings.Cut(seq, ";")
		require.True(t, found)
		payload.WriteString(data)
	}
	decoded, err := base64.StdEncoding.DecodeString(payload.String())
	require.NoError(t, err)
	assert.Len(t, decoded, 64*64*4)
}

func TestKittyClearSequences(t *testing.T) {
	renderer := &KittyRenderer{}

	// Clear never fails; it just writes delete sequences.
	assert.NoError(t, renderer.Clear(ClearOptions{}))
	assert.NoError(t, renderer.Clear(ClearOptions{All: true}))
	assert.NoError(t, renderer.Clear(ClearOptions{ImageID: "9"}))
}

func TestCreatePlaceholderStructure(t *testing.T) {
	placeholder := CreatePlaceholder(123, 2, 3)
	require.NotEmpty(t, placeholder)

	lines := strings.Split(placeholder, "\n")
	require.Len(t, lines, 2)

	for _, line := range lines {
		assert.Contains(t, line, PLACEHOLDER_CHAR)
		assert.Contains(t, line, "\x1b[38;5;123m", "small IDs travel as a 256-color foreground")
		assert.True(t, strings.HasSuffix(line, "\x1b[39m"), "each row resets the foreground")
		assert.Equal(t, 3, strings.Count(line, PLACEHOLDER_CHAR))
	}

	// Only the first cell of a row needs explicit coordinates.
	first := lines[0]
	content := strings.TrimSuffix(strings.TrimPrefix(first, "\x1b[38;5;123m"), "\x1b[39m")
	assert.True(t, strings.HasSuffix(content, PLACEHOLDER_CHAR+PLACEHOLDER_CHAR),
		"trailing cells are bare placeholders")
}

func TestCreatePlaceholderLargeImageID(t *testing.T) {
	// IDs above 255 switch to 24-bit color; bits 24-31 ride in a third
	// diacritic on the first cell.
	id := 0x01020304
	placeholder := CreatePlaceholder(id, 1, 1)

	assert.Contains(t, placeholder, "\x1b[38;2;2;3;4m")
	assert.Contains(t, placeholder, positionDiacritic(1), "high byte diacritic present")
}

func TestCreatePlaceholderArea(t *testing.T) {
	area := CreatePlaceholderArea(456, 3, 4)
	require.Len(t, area, 3)

	for row := range area {
		require.Len(t, area[row], 4)
		for col := range area[row] {
			cell := area[row][col]
			assert.True(t, strings.HasPrefix(cell, PLACEHOLDER_CHAR))
			assert.Contains(t, cell, positionDiacritic(row))
			assert.Contains(t, cell, positionDiacritic(col))
		}
	}

	// Distinct coordinates produce distinct cells.
	assert.NotEqual(t, area[0][0], area[0][1])
	assert.NotEqual(t, area[0][0], area[1][0])
}

func TestRenderPlaceholderArea(t *testing.T) {
	area := CreatePlaceholderArea(456, 2, 2)
	rendered := RenderPlaceholderAreaWithImageID(area, 456)
	require.NotEmpty(t, rendered)

	lines := strings.Split(rendered, "\n")
	assert.Len(t, lines, 2)
	for _, line := range lines {
		assert.Contains(t, line, "\x1b[38;2;0;1;200m")
	}
}

func TestPositionDiacriticBounds(t *testing.T) {
	assert.NotEmpty(t, positionDiacritic(0))
	assert.NotEmpty(t, positionDiacritic(100))
	assert.Empty(t, positionDiacritic(-1))
	assert.Empty(t, positionDiacritic(len(rowColDiacritics)), "past the table positions are inferred")
}
