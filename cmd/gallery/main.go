package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	clihander "github.com/apex/log/handlers/cli"
	imgview "github.com/blacktop/go-imgview"
	"github.com/blacktop/go-imgview/pkg/fetch"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	// Extend the decodable formats for local files.
	_ "github.com/biessek/golang-ico"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// galleryItem is one presentable entry: a local file or a remote URL.
type galleryItem struct {
	name string
	path string
	url  string
}

func (g galleryItem) FilterValue() string { return g.name }
func (g galleryItem) Title() string       { return g.name }
func (g galleryItem) Description() string {
	if g.url != "" {
		return "Remote image"
	}
	return "Image file"
}

func (g galleryItem) cacheKey() string { return g.path + g.url }

// imageLoadedMsg wakes the program when the loader settles a URL.
type imageLoadedMsg struct{ url string }

type keyMap struct {
	Virtual key.Binding
	Quit    key.Binding
}

var keys = keyMap{
	Virtual: key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "virtual placement")),
	Quit:    key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}

var (
	// Color palette
	primaryColor = lipgloss.Color("#7D56F4")
	accentColor  = lipgloss.Color("#04B575")
	textColor    = lipgloss.Color("#FAFAFA")
	mutedColor   = lipgloss.Color("#626262")
	errorColor   = lipgloss.Color("#FF5F87")

	// Title bar style
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor).
			Background(primaryColor).
			PaddingLeft(2).
			PaddingRight(2).
			MarginBottom(1)

	// Panel border styles
	panelBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(1)

	// File list styles
	itemStyle = lipgloss.NewStyle().
			PaddingLeft(1).
			Foreground(textColor)

	selectedItemStyle = lipgloss.NewStyle().
				PaddingLeft(1).
				Foreground(textColor).
				Background(primaryColor).
				Bold(true)

	// Legend styles
	legendStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			PaddingLeft(1).
			PaddingRight(1).
			MarginTop(1)

	legendKeyStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	// Error style
	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	// Info style for empty and pending states
	infoStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)
)

type model struct {
	list        list.Model
	spinner     spinner.Model
	loader      *fetch.Loader
	protocol    imgview.Protocol
	widgetCache map[string]*imgview.ImageWidget
	width       int
	height      int
	virtualMode bool
}

func initialModel(items []galleryItem, loader *fetch.Loader) model {
	listItems := make([]list.Item, len(items))
	for i, it := range items {
		listItems[i] = it
	}

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = selectedItemStyle
	delegate.Styles.SelectedDesc = selectedItemStyle.Foreground(mutedColor)
	delegate.Styles.NormalTitle = itemStyle
	delegate.Styles.NormalDesc = itemStyle.Foreground(mutedColor)

	l := list.New(listItems, delegate, 0, 0)
	l.Title = ""
	l.SetShowStatusBar(false)
	l.SetShowPagination(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(accentColor)

	return model{
		list:        l,
		spinner:     sp,
		loader:      loader,
		protocol:    imgview.DetectProtocol(),
		widgetCache: make(map[string]*imgview.ImageWidget),
	}
}

func (m model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Virtual):
			// Virtual placement only exists on kitty terminals.
			if imgview.KittySupported() {
				m.virtualMode = !m.virtualMode
				m.widgetCache = make(map[string]*imgview.ImageWidget)
			}
		default:
			m.list, cmd = m.list.Update(msg)
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// Account for title, borders, and legend
		availableHeight := msg.Height - 6
		leftPanelWidth := (msg.Width / 2) - 4
		m.list.SetSize(leftPanelWidth, availableHeight-2)
	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
	case imageLoadedMsg:
		// Nothing to invalidate here: the next View re-presents the
		// selection and picks up the settled state.
	}
	return m, cmd
}

func (m model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var b strings.Builder

	// Title bar
	title := fmt.Sprintf("Gallery - %d images", len(m.list.Items()))
	if m.virtualMode {
		title += " [VIRTUAL]"
	}
	b.WriteString(titleStyle.Width(m.width).Render(title))
	b.WriteString("\n")

	// Calculate panel dimensions
	leftPanelWidth := m.width/2 - 2
	rightPanelWidth := m.width/2 - 2
	panelHeight := m.height - 6

	leftPanel := panelBorderStyle.
		Width(leftPanelWidth).
		Height(panelHeight).
		Render(m.list.View())

	inline, overlay := m.preview(rightPanelWidth-2, panelHeight-2)
	rightPanel := panelBorderStyle.
		Width(rightPanelWidth).
		Height(panelHeight).
		Render(inline)

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, leftPanel, rightPanel))

	// Graphics protocol escapes go out after the text UI has been built.
	b.WriteString(overlay)

	// Navigation legend
	legend := []string{
		legendKeyStyle.Render("↑/k") + " up",
		legendKeyStyle.Render("↓/j") + " down",
	}
	if imgview.KittySupported() {
		legend = append(legend, legendKeyStyle.Render(keys.Virtual.Help().Key)+" "+keys.Virtual.Help().Desc)
	}
	legend = append(legend, legendKeyStyle.Render(keys.Quit.Help().Key)+" "+keys.Quit.Help().Desc)

	legendText := "Navigation: " + strings.Join(legend, " • ")
	b.WriteString("\n")
	b.WriteString(legendStyle.Width(m.width).Render(legendText))

	return b.String()
}

// preview renders the selected item into the right panel. Halfblock output
// is plain styled text and embeds directly; graphics protocol escapes would
// confuse the layout, so they are returned separately and drawn over the
// finished panel.
func (m model) preview(width, height int) (inline, overlay string) {
	it, ok := m.list.SelectedItem().(galleryItem)
	if !ok {
		return infoStyle.Render("No images."), ""
	}

	if it.url != "" {
		switch res := m.loader.Load(it.url); res.State {
		case imgview.LoadPending:
			return m.spinner.View() + infoStyle.Render(" fetching "+it.name), ""
		case imgview.LoadFailure:
			return errorStyle.Render("Fetch failed: " + res.Err.Error()), ""
		}
	}

	widget, err := m.widgetFor(it)
	if err != nil {
		return errorStyle.Render("Error: " + err.Error()), ""
	}
	widget.SetSize(width, height)

	proto := m.protocol
	if m.virtualMode && imgview.KittySupported() {
		proto = imgview.Kitty
	}

	if proto == imgview.Halfblocks {
		out, err := widget.Render()
		if err != nil {
			return errorStyle.Render("Render error: " + err.Error()), ""
		}
		return out, ""
	}

	var out string
	if m.virtualMode && proto == imgview.Kitty {
		// Position inside the right panel: title(1) + margin(1) + border(1)
		// rows above, left panel + border + padding columns to the left.
		widget.SetPosition(m.width/2+2, 3)
		out, err = widget.RenderVirtual()
	} else {
		out, err = widget.Render()
	}
	if err != nil {
		return errorStyle.Render("Render error: " + err.Error()), ""
	}

	var cmd strings.Builder
	cmd.WriteString("\x1b[s")
	if !m.virtualMode {
		fmt.Fprintf(&cmd, "\x1b[%d;%dH", 4, m.width/2+3)
	}
	cmd.WriteString(out)
	cmd.WriteString("\x1b[u")
	return "", cmd.String()
}

func (m model) widgetFor(it galleryItem) (*imgview.ImageWidget, error) {
	if w, ok := m.widgetCache[it.cacheKey()]; ok {
		return w, nil
	}

	var widget *imgview.ImageWidget
	if it.url != "" {
		widget = imgview.NewImageWidget(imgview.Remote(it.url)).SetLoader(m.loader)
	} else {
		var err error
		widget, err = imgview.NewImageWidgetFromFile(it.path)
		if err != nil {
			return nil, err
		}
	}

	if m.virtualMode && imgview.KittySupported() {
		widget.SetProtocol(imgview.Kitty).SetVirtual(true)
	} else {
		widget.SetProtocol(m.protocol)
	}

	m.widgetCache[it.cacheKey()] = widget
	return widget, nil
}

func main() {
	log.SetHandler(clihander.Default)

	items, err := collectItems(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to collect images: %v", err)
	}
	if len(items) == 0 {
		log.Fatal("no images found")
	}

	var program *tea.Program
	loader := fetch.New(fetch.WithNotify(func(url string) {
		if program != nil {
			program.Send(imageLoadedMsg{url: url})
		}
	}))
	defer loader.Close()

	program = tea.NewProgram(initialModel(items, loader), tea.WithAltScreen())

	// Fetch every remote item up front; completions arrive as messages.
	for _, it := range items {
		loader.Prefetch(it.url)
	}

	if _, err := program.Run(); err != nil {
		log.Fatal(err.Error())
	}
}

// collectItems expands the arguments into gallery entries: URLs stay as
// remote items, files are taken as-is, directories are scanned for images.
// No arguments means the current directory.
func collectItems(args []string) ([]galleryItem, error) {
	if len(args) == 0 {
		args = []string{"."}
	}

	var items []galleryItem
	for _, arg := range args {
		if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
			items = append(items, galleryItem{name: filepath.Base(arg), url: arg})
			continue
		}

		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			items = append(items, galleryItem{name: filepath.Base(arg), path: arg})
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() || !isImage(entry.Name()) {
				continue
			}
			items = append(items, galleryItem{name: entry.Name(), path: filepath.Join(arg, entry.Name())})
		}
	}
	return items, nil
}

func isImage(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".webp", ".ico":
		return true
	default:
		return false
	}
}
