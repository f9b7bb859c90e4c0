package imgview

import (
	"fmt"
	"image"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// nextImageID hands out kitty image IDs for virtual placements.
var nextImageID atomic.Uint32

// ImageWidget presents a Source inside a TUI framework. Render re-presents
// the source on every call and reuses the cached escape string while the
// presented visual is unchanged, so remote sources refresh on their own as
// the loader state advances.
type ImageWidget struct {
	source      Source
	loader      Loader
	width       int
	height      int
	x, y        int
	protocol    Protocol
	virtual     bool
	imageID     uint32
	node        *Node
	rendered    string
	needsUpdate bool
}

// NewImageWidget creates a new image widget from a Source
func NewImageWidget(src Source) *ImageWidget {
	return &ImageWidget{
		source:      src,
		protocol:    Auto,
		needsUpdate: true,
	}
}

// NewImageWidgetFromFile creates a new image widget from a file path
func NewImageWidgetFromFile(path string) (*ImageWidget, error) {
	src, err := Open(path)
	if err != nil {
		return nil, err
	}

	return NewImageWidget(src), nil
}

// NewImageWidgetFromImage creates a new image widget from an image.Image
func NewImageWidgetFromImage(img image.Image) *ImageWidget {
	return NewImageWidget(Local(img))
}

// SetSource replaces the widget's source
func (w *ImageWidget) SetSource(src Source) *ImageWidget {
	w.source = src
	w.needsUpdate = true
	return w
}

// SetLoader sets the loader consulted for remote sources
func (w *ImageWidget) SetLoader(loader Loader) *ImageWidget {
	w.loader = loader
	w.needsUpdate = true
	return w
}

// SetSize sets the widget dimensions in character cells
func (w *ImageWidget) SetSize(width, height int) *ImageWidget {
	if w.width != width || w.height != height {
		w.width = width
		w.height = height
		w.needsUpdate = true
	}
	return w
}

// SetPosition sets the widget position in the TUI grid
func (w *ImageWidget) SetPosition(x, y int) *ImageWidget {
	w.x = x
	w.y = y
	return w
}

// SetProtocol sets the rendering protocol to use
func (w *ImageWidget) SetProtocol(protocol Protocol) *ImageWidget {
	if w.protocol != protocol {
		w.protocol = protocol
		w.needsUpdate = true
	}
	return w
}

// SetVirtual toggles kitty virtual placement for plain Render calls
func (w *ImageWidget) SetVirtual(virtual bool) *ImageWidget {
	if w.virtual != virtual {
		w.virtual = virtual
		w.needsUpdate = true
	}
	return w
}

// SetImageID pins the kitty image ID instead of allocating one. Hosts that
// manage their own ID space use this to keep placements addressable.
func (w *ImageWidget) SetImageID(id uint32) *ImageWidget {
	if id != 0 && w.imageID != id {
		w.imageID = id
		w.needsUpdate = true
	}
	return w
}

// GetSize returns the current widget dimensions
func (w *ImageWidget) GetSize() (width, height int) {
	return w.width, w.height
}

// GetPosition returns the current widget position
func (w *ImageWidget) GetPosition() (x, y int) {
	return w.x, w.y
}

// Source returns the widget's current source
func (w *ImageWidget) Source() Source {
	return w.source
}

func (w *ImageWidget) renderOptions() Options {
	opts := DefaultOptions()
	opts.Loader = w.loader
	opts.Protocol = w.protocol
	opts.Virtual = w.virtual
	if w.width > 0 {
		opts.Width = w.width
	}
	if w.height > 0 {
		opts.Height = w.height
	}
	return opts
}

// Render returns the string representation of the source for the TUI
func (w *ImageWidget) Render() (string, error) {
	opts := w.renderOptions()
	node := Present(w.source, opts)

	// A loader state change produces a visually different node, which
	// invalidates the cache even when the widget settings are untouched.
	if !w.needsUpdate && w.rendered != "" && node.sameVisual(w.node) {
		return w.rendered, nil
	}

	output, err := node.Render(opts)
	if err != nil {
		return "", fmt.Errorf("failed to render image widget: %w", err)
	}

	w.node = node
	w.rendered = output
	w.needsUpdate = false

	return output, nil
}

// RenderVirtual renders the widget as a kitty virtual placement: the image
// is transferred once without being displayed, followed by a grid of
// Unicode placeholder cells positioned at the widget's coordinates. TUI
// frameworks can redraw or move the grid freely without retransferring
// pixel data.
func (w *ImageWidget) RenderVirtual() (string, error) {
	protocol := w.protocol
	if protocol == Auto {
		protocol = DetectProtocol()
	}
	if protocol != Kitty {
		return "", fmt.Errorf("virtual placement requires the kitty protocol, have %s", protocol)
	}
	if w.width <= 0 || w.height <= 0 {
		return "", fmt.Errorf("virtual placement requires an explicit widget size")
	}

	if w.imageID == 0 {
		w.imageID = nextImageID.Add(1)
	}

	opts := w.renderOptions()
	opts.Protocol = Kitty
	opts.Virtual = true
	if opts.KittyOpts == nil {
		opts.KittyOpts = &KittyOptions{}
	}
	kittyOpts := *opts.KittyOpts
	kittyOpts.ImageID = strconv.FormatUint(uint64(w.imageID), 10)
	opts.KittyOpts = &kittyOpts

	node := Present(w.source, opts)
	output, err := node.Render(opts)
	if err != nil {
		return "", fmt.Errorf("failed to render virtual widget: %w", err)
	}

	var b strings.Builder
	if node.IsRect() {
		// Nothing was transferred, so position the fallback cells directly.
		for i, line := range strings.Split(output, "\n") {
			fmt.Fprintf(&b, "\x1b[%d;%dH%s", w.y+1+i, w.x+1, line)
		}
		return b.String(), nil
	}

	b.WriteString(output)
	for row := 0; row < w.height; row++ {
		fmt.Fprintf(&b, "\x1b[%d;%dH", w.y+1+row, w.x+1)
		b.WriteString(placeholderRow(int(w.imageID), row, w.width))
	}
	return b.String(), nil
}

// Update forces the widget to re-render on next Render() call
func (w *ImageWidget) Update() {
	w.needsUpdate = true
}

// ImageGallery represents a collection of sources for gallery display
type ImageGallery struct {
	images   []*ImageWidget
	columns  int
	spacing  int
	protocol Protocol
	loader   Loader
}

// NewImageGallery creates a new image gallery
func NewImageGallery(columns int) *ImageGallery {
	return &ImageGallery{
		images:   make([]*ImageWidget, 0),
		columns:  columns,
		spacing:  2,
		protocol: Auto,
	}
}

// AddImage adds a source to the gallery
func (g *ImageGallery) AddImage(src Source) *ImageGallery {
	widget := NewImageWidget(src).SetProtocol(g.protocol).SetLoader(g.loader)
	g.images = append(g.images, widget)
	return g
}

// AddImageFromFile adds an image from a file path to the gallery
func (g *ImageGallery) AddImageFromFile(path string) error {
	widget, err := NewImageWidgetFromFile(path)
	if err != nil {
		return err
	}
	widget.SetProtocol(g.protocol).SetLoader(g.loader)
	g.images = append(g.images, widget)
	return nil
}

// SetProtocol sets the protocol for all images in the gallery
func (g *ImageGallery) SetProtocol(protocol Protocol) *ImageGallery {
	g.protocol = protocol
	for _, img := range g.images {
		img.SetProtocol(protocol)
	}
	return g
}

// SetLoader sets the loader for all remote sources in the gallery
func (g *ImageGallery) SetLoader(loader Loader) *ImageGallery {
	g.loader = loader
	for _, img := range g.images {
		img.SetLoader(loader)
	}
	return g
}

// SetSpacing sets the spacing between images in character cells
func (g *ImageGallery) SetSpacing(spacing int) *ImageGallery {
	g.spacing = spacing
	return g
}

// SetImageSize sets the size for all images in the gallery
func (g *ImageGallery) SetImageSize(width, height int) *ImageGallery {
	for _, img := range g.images {
		img.SetSize(width, height)
	}
	return g
}

// Render renders the entire gallery as a grid
func (g *ImageGallery) Render() (string, error) {
	if len(g.images) == 0 {
		return "", nil
	}

	var output strings.Builder

	// Calculate grid layout
	rows := (len(g.images) + g.columns - 1) / g.columns

	for row := 0; row < rows; row++ {
		// Render each image in the row
		var imageOutputs []string
		maxLines := 0

		for col := 0; col < g.columns; col++ {
			idx := row*g.columns + col
			if idx >= len(g.images) {
				break
			}

			imageOutput, err := g.images[idx].Render()
			if err != nil {
				return "", fmt.Errorf("failed to render image %d: %w", idx, err)
			}

			imageOutputs = append(imageOutputs, imageOutput)

			// Count lines for alignment
			lines := strings.Count(imageOutput, "\n") + 1
			if lines > maxLines {
				maxLines = lines
			}
		}

		// Combine images horizontally
		if len(imageOutputs) > 0 {
			combined := combineImagesHorizontally(imageOutputs, g.spacing, maxLines)
			output.WriteString(combined)

			// Add spacing between rows
			if row < rows-1 {
				for i := 0; i < g.spacing; i++ {
					output.WriteString("\n")
				}
			}
		}
	}

	return output.String(), nil
}

// UpdateAllImages forces all image widgets in the gallery to update
func (g *ImageGallery) UpdateAllImages() {
	for _, widget := range g.images {
		widget.Update()
	}
}

// combineImagesHorizontally combines multiple image outputs side by side
func combineImagesHorizontally(images []string, spacing int, maxLines int) string {
	if len(images) == 0 {
		return ""
	}

	// Split each image into lines
	imageLinesSet := make([][]string, len(images))
	for i, img := range images {
		imageLinesSet[i] = strings.Split(img, "\n")

		// Pad to maxLines
		for len(imageLinesSet[i]) < maxLines {
			imageLinesSet[i] = append(imageLinesSet[i], "")
		}
	}

	var result strings.Builder
	spacingStr := strings.Repeat(" ", spacing)

	// Combine line by line
	for line := 0; line < maxLines; line++ {
		for i, imageLines := range imageLinesSet {
			if i > 0 {
				result.WriteString(spacingStr)
			}
			if line < len(imageLines) {
				result.WriteString(imageLines[line])
			}
		}
		if line < maxLines-1 {
			result.WriteString("\n")
		}
	}

	return result.String()
}

// TUIHelper provides utilities for TUI integration
type TUIHelper struct {
	preferredProtocol Protocol
	warningsShown     map[Protocol]bool
}

// NewTUIHelper creates a new TUI helper
func NewTUIHelper() *TUIHelper {
	return &TUIHelper{
		preferredProtocol: Auto,
		warningsShown:     make(map[Protocol]bool),
	}
}

// SetPreferredProtocol sets the preferred protocol for the TUI
func (h *TUIHelper) SetPreferredProtocol(protocol Protocol) {
	h.preferredProtocol = protocol
}

// GetBestProtocol returns the best available protocol
func (h *TUIHelper) GetBestProtocol() Protocol {
	if h.preferredProtocol == Auto {
		return DetectProtocol()
	}
	return h.preferredProtocol
}

// ShowProtocolWarning shows a warning if the protocol isn't optimal for TUI
func (h *TUIHelper) ShowProtocolWarning(protocol Protocol) string {
	if h.warningsShown[protocol] {
		return ""
	}

	h.warningsShown[protocol] = true

	switch protocol {
	case Kitty:
		return "ℹ️  Using Kitty protocol - images will display in terminal"
	case Sixel:
		return "ℹ️  Using Sixel protocol - images will display in terminal"
	case ITerm2:
		return "ℹ️  Using iTerm2 protocol - images will display in terminal"
	case Halfblocks:
		return "ℹ️  Using Halfblocks protocol - images rendered as Unicode blocks"
	default:
		return "⚠️  No graphics protocol detected - falling back to text representation"
	}
}

// CreateImageWidget creates a properly configured image widget
func (h *TUIHelper) CreateImageWidget(src Source, width, height int) *ImageWidget {
	protocol := h.GetBestProtocol()

	return NewImageWidget(src).
		SetSize(width, height).
		SetProtocol(protocol)
}

// CreateImageGallery creates a properly configured image gallery
func (h *TUIHelper) CreateImageGallery(columns int, imageWidth, imageHeight int) *ImageGallery {
	protocol := h.GetBestProtocol()

	return NewImageGallery(columns).
		SetProtocol(protocol).
		SetImageSize(imageWidth, imageHeight)
}

// LoadCompletedMsg announces that a URL referenced by a widget's source
// reached a terminal load state.
type LoadCompletedMsg struct {
	URL    string
	Result LoadResult
}

// waiter is the optional blocking side of a Loader. pkg/fetch implements
// it; loaders without it are polled until the URL settles.
type waiter interface {
	Wait(url string) LoadResult
}

// Widget is a Bubble Tea model around an ImageWidget. Init schedules one
// command per URL the source references, Update invalidates the cached
// view when a referenced URL settles, and View renders the currently
// presented visual. Load completions arrive as messages; the selector is
// never called back directly.
type Widget struct {
	*ImageWidget
}

// NewWidget wraps src in a Bubble Tea model.
func NewWidget(src Source) Widget {
	return Widget{ImageWidget: NewImageWidget(src)}
}

// Init returns a command per referenced URL that delivers a
// LoadCompletedMsg once the loader settles it. Sources without URLs, or
// widgets without a loader, produce no commands.
func (w Widget) Init() tea.Cmd {
	refs := w.source.Refs()
	if len(refs) == 0 || w.loader == nil {
		return nil
	}
	cmds := make([]tea.Cmd, 0, len(refs))
	for _, url := range refs {
		cmds = append(cmds, w.awaitLoad(url))
	}
	return tea.Batch(cmds...)
}

func (w Widget) awaitLoad(url string) tea.Cmd {
	return func() tea.Msg {
		if blocking, ok := w.loader.(waiter); ok {
			return LoadCompletedMsg{URL: url, Result: blocking.Wait(url)}
		}
		for {
			if res := w.loader.Load(url); res.State != LoadPending {
				return LoadCompletedMsg{URL: url, Result: res}
			}
			time.Sleep(50 * time.Millisecond)
		}
	}
}

// Update invalidates the cached view when a completion concerns one of the
// source's URLs. All other messages pass through untouched; geometry stays
// under the host's control via SetSize.
func (w Widget) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if done, ok := msg.(LoadCompletedMsg); ok {
		for _, ref := range w.source.Refs() {
			if ref == done.URL {
				w.ImageWidget.Update()
				break
			}
		}
	}
	return w, nil
}

// View renders the widget's current visual. Render errors produce an empty
// view rather than breaking the host's frame.
func (w Widget) View() string {
	out, err := w.Render()
	if err != nil {
		return ""
	}
	return out
}
