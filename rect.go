package imgview

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Rectangle nodes have no intrinsic size; they take the options geometry
// with these defaults when unset.
const (
	defaultRectWidth  = 8
	defaultRectHeight = 4
)

// renderRect draws a rectangle of character cells. Transparent fills become
// plain spaces so the node still occupies its box; anything else paints the
// cell background with the fill color.
func renderRect(fill color.Color, opts Options) string {
	width, height := opts.Width, opts.Height
	if width <= 0 {
		width = defaultRectWidth
	}
	if height <= 0 {
		height = defaultRectHeight
	}

	row := strings.Repeat(" ", width)
	rows := make([]string, height)
	for i := range rows {
		rows[i] = row
	}
	block := strings.Join(rows, "\n")

	if isTransparent(fill) {
		return block
	}
	return lipgloss.NewStyle().Background(lipglossColor(fill)).Render(block)
}

// isTransparent reports whether the fill would paint nothing.
func isTransparent(c color.Color) bool {
	if c == nil {
		return true
	}
	_, _, _, a := c.RGBA()
	return a == 0
}

// lipglossColor converts a color.Color to its hex form for styling.
func lipglossColor(c color.Color) lipgloss.Color {
	r, g, b, _ := c.RGBA()
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", uint8(r>>8), uint8(g>>8), uint8(b>>8)))
}
