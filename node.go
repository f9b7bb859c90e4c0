package imgview

import (
	"fmt"
	"image"
	"image/color"
)

// Node is the resolved visual produced by Present: either a concrete image
// with its rendering treatment, or a rectangle standing in for one. Nodes
// are plain values with no hidden state, so presenting the same source
// against the same loader state yields equal nodes.
type Node struct {
	img       image.Image
	fill      color.Color
	mode      RenderMode
	tint      color.Color
	resizable bool

	// Set on first render so Clear talks to the renderer instance that
	// drew the node and knows the drawn geometry.
	renderer Renderer
}

func imageNode(img image.Image, mode RenderMode, tint color.Color, opts Options) *Node {
	return &Node{
		img:       img,
		mode:      mode,
		tint:      tint,
		resizable: opts.Resizable,
	}
}

func rectNode(fill color.Color, opts Options) *Node {
	if fill == nil {
		fill = color.Transparent
	}
	return &Node{
		fill:      fill,
		mode:      RenderOriginal,
		resizable: opts.Resizable,
	}
}

// IsRect reports whether the node is a rectangle fallback rather than an image.
func (n *Node) IsRect() bool {
	return n.img == nil
}

// Image returns the chosen image, nil for rectangle nodes.
func (n *Node) Image() image.Image {
	return n.img
}

// Fill returns the rectangle fill color, with color.Transparent marking the
// ultimate fallback. It is nil for image nodes.
func (n *Node) Fill() color.Color {
	return n.fill
}

// Mode returns the rendering treatment applied when the node is drawn.
func (n *Node) Mode() RenderMode {
	return n.mode
}

// Tint returns the template tint, nil when the default tint applies.
func (n *Node) Tint() color.Color {
	return n.tint
}

// Resizable reports whether the node may scale to its layout box.
func (n *Node) Resizable() bool {
	return n.resizable
}

// sameVisual reports whether two nodes draw the same thing. Images are
// compared by identity: a loader hands back the same decoded instance
// until its state changes, so pointer equality tracks visual change
// without scanning pixels.
func (n *Node) sameVisual(o *Node) bool {
	if n == nil || o == nil {
		return n == o
	}
	return n.img == o.img &&
		n.fill == o.fill &&
		n.mode == o.mode &&
		n.tint == o.tint &&
		n.resizable == o.resizable
}

// rendererFor returns the renderer used for this node, reusing the one
// from the previous render unless the caller switched protocols.
func (n *Node) rendererFor(p Protocol) (Renderer, error) {
	if n.renderer != nil && (p == Auto || n.renderer.Protocol() == p) {
		return n.renderer, nil
	}
	renderer, err := GetRenderer(p)
	if err != nil {
		return nil, err
	}
	n.renderer = renderer
	return renderer, nil
}

// Render generates the escape sequence string realizing the node in the
// terminal. Rectangle nodes become styled cell blocks; image nodes run
// through the mode treatment and the configured protocol renderer. A
// non-resizable node always renders at its intrinsic size.
func (n *Node) Render(opts Options) (string, error) {
	if n.img == nil {
		return renderRect(n.fill, opts), nil
	}

	img := applyMode(n.img, n.mode, n.tint)
	if opts.Grayscale {
		img = GrayscaleImage(img)
	}
	if !n.resizable {
		opts.Scale = ScaleNone
	}

	renderer, err := n.rendererFor(opts.Protocol)
	if err != nil {
		return "", err
	}
	return renderer.Render(img, opts)
}

// Print outputs the node to stdout
func (n *Node) Print(opts Options) error {
	if n.img == nil {
		fmt.Print(renderRect(n.fill, opts))
		return nil
	}

	img := applyMode(n.img, n.mode, n.tint)
	if opts.Grayscale {
		img = GrayscaleImage(img)
	}
	if !n.resizable {
		opts.Scale = ScaleNone
	}

	renderer, err := n.rendererFor(opts.Protocol)
	if err != nil {
		return err
	}
	return renderer.Print(img, opts)
}

// Clear removes a previously printed node from the terminal. Rectangle
// nodes occupy ordinary cells and need no protocol-specific deletion.
func (n *Node) Clear(opts Options, clear ClearOptions) error {
	if n.img == nil {
		return nil
	}
	renderer, err := n.rendererFor(opts.Protocol)
	if err != nil {
		return err
	}
	return renderer.Clear(clear)
}
