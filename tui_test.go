package imgview

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageWidgetRenderCachesOutput(t *testing.T) {
	t.Setenv("IMGVIEW_BYPASS_DETECTION", "halfblocks")

	widget := NewImageWidgetFromImage(solidImage(8, 8, color.RGBA{B: 255, A: 255})).
		SetSize(4, 2).
		SetProtocol(Halfblocks)

	first, err := widget.Render()
	require.NoError(t, err)
	require.NotEmpty(t, first)
	assert.False(t, widget.needsUpdate)

	second, err := widget.Render()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	widget.SetSize(6, 3)
	assert.True(t, widget.needsUpdate)

	widget.Update()
	assert.True(t, widget.needsUpdate)
}

func TestImageWidgetRemoteSourceRefreshes(t *testing.T) {
	t.Setenv("IMGVIEW_BYPASS_DETECTION", "halfblocks")

	const url = "https://cdn.example.com/banner.png"
	loader := &stubLoader{results: map[string]LoadResult{
		url: {State: LoadPending},
	}}

	widget := NewImageWidget(Remote(url)).
		SetSize(5, 2).
		SetProtocol(Halfblocks).
		SetLoader(loader)

	pending, err := widget.Render()
	require.NoError(t, err)
	assert.NotContains(t, pending, "\x1b[", "pending fallback should be plain cells")

	loader.results[url] = LoadResult{State: LoadSuccess, Image: solidImage(10, 4, color.RGBA{G: 200, A: 255})}

	ready, err := widget.Render()
	require.NoError(t, err)
	assert.NotEqual(t, pending, ready, "widget should refresh when the load completes")
	assert.Contains(t, ready, "\x1b[")

	again, err := widget.Render()
	require.NoError(t, err)
	assert.Equal(t, ready, again, "settled state should render from cache")
}

func TestImageWidgetRenderVirtualUsesInheritedPlaceholders(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	widget := NewImageWidgetFromImage(img).
		SetProtocol(Kitty).
		SetVirtual(true).
		SetSize(3, 2).
		SetPosition(4, 5)

	output, err := widget.RenderVirtual()
	require.NoError(t, err)
	require.NotZero(t, widget.imageID, "virtual render should capture the kitty image ID")

	assert.NotContains(t, output, "\x1b[s", "virtual render should not save cursor position")
	assert.NotContains(t, output, "\x1b[u", "virtual render should not restore cursor position")
	assert.Contains(t, output, "\x1b[6;5H")
	assert.Contains(t, output, "\x1b[7;5H")

	assert.Contains(t, output, "U=1")
	assert.Contains(t, output, fmt.Sprintf("i=%d", widget.imageID))

	idExtra := byte(widget.imageID >> 24)
	for row := 0; row < 2; row++ {
		assert.Contains(t, output, placeholderRow(int(widget.imageID), row, 3))
		assert.NotContains(t, output, placeholderCell(row, 1, idExtra))
		assert.NotContains(t, output, placeholderCell(row, 2, idExtra))
	}

	// The ID is allocated once and survives re-renders.
	firstID := widget.imageID
	_, err = widget.RenderVirtual()
	require.NoError(t, err)
	assert.Equal(t, firstID, widget.imageID)
}

func TestImageWidgetRenderVirtualErrors(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	_, err := NewImageWidgetFromImage(img).SetProtocol(Halfblocks).SetSize(2, 2).RenderVirtual()
	assert.Error(t, err, "virtual placement needs kitty")

	_, err = NewImageWidgetFromImage(img).SetProtocol(Kitty).RenderVirtual()
	assert.Error(t, err, "virtual placement needs an explicit size")
}

func TestImageGalleryGrid(t *testing.T) {
	t.Setenv("IMGVIEW_BYPASS_DETECTION", "halfblocks")

	gallery := NewImageGallery(2).
		SetProtocol(Halfblocks).
		SetSpacing(1)
	gallery.AddImage(Local(solidImage(8, 8, color.RGBA{R: 255, A: 255}))).
		AddImage(Local(solidImage(8, 8, color.RGBA{G: 255, A: 255}))).
		AddImage(Local(solidImage(8, 8, color.RGBA{B: 255, A: 255})))
	gallery.SetImageSize(4, 2)

	output, err := gallery.Render()
	require.NoError(t, err)
	require.NotEmpty(t, output)

	single, err := gallery.images[0].Render()
	require.NoError(t, err)
	perImage := strings.Count(single, "\n") + 1

	// Two grid rows joined by one spacing newline.
	lines := strings.Split(output, "\n")
	assert.Len(t, lines, 2*perImage)
	assert.Contains(t, lines[0], "\x1b[")
}

func TestImageGalleryEmpty(t *testing.T) {
	output, err := NewImageGallery(3).Render()
	require.NoError(t, err)
	assert.Empty(t, output)
}

func TestCombineImagesHorizontally(t *testing.T) {
	combined := combineImagesHorizontally([]string{"ab\ncd", "ef"}, 2, 2)
	assert.Equal(t, "ab  ef\ncd  ", combined)

	assert.Empty(t, combineImagesHorizontally(nil, 2, 2))
}

func TestTUIHelperProtocols(t *testing.T) {
	t.Setenv("IMGVIEW_BYPASS_DETECTION", "halfblocks")

	helper := NewTUIHelper()
	assert.Equal(t, Halfblocks, helper.GetBestProtocol())

	helper.SetPreferredProtocol(Kitty)
	assert.Equal(t, Kitty, helper.GetBestProtocol())
}

func TestTUIHelperWarningShownOnce(t *testing.T) {
	helper := NewTUIHelper()

	first := helper.ShowProtocolWarning(Halfblocks)
	assert.NotEmpty(t, first)
	assert.Empty(t, helper.ShowProtocolWarning(Halfblocks))

	assert.NotEmpty(t, helper.ShowProtocolWarning(Kitty), "warnings are tracked per protocol")
}

func TestTUIHelperCreateWidget(t *testing.T) {
	t.Setenv("IMGVIEW_BYPASS_DETECTION", "halfblocks")

	helper := NewTUIHelper()
	widget := helper.CreateImageWidget(Local(solidImage(4, 4, color.White)), 10, 5)

	w, h := widget.GetSize()
	assert.Equal(t, 10, w)
	assert.Equal(t, 5, h)
	assert.Equal(t, Halfblocks, widget.protocol)
}

func TestWidgetInitOneCommandPerRef(t *testing.T) {
	img := solidImage(6, 6, color.RGBA{R: 255, A: 255})
	loader := &stubLoader{results: map[string]LoadResult{
		"https://cdn.example.com/full.png":  {State: LoadSuccess, Image: img},
		"https://cdn.example.com/thumb.png": {State: LoadSuccess, Image: img},
	}}

	w := NewWidget(RemoteWithRemotePlaceholder(
		"https://cdn.example.com/full.png",
		"https://cdn.example.com/thumb.png",
	))
	w.SetLoader(loader)

	cmd := w.Init()
	require.NotNil(t, cmd)

	batch, ok := cmd().(tea.BatchMsg)
	require.True(t, ok, "two refs should batch two commands")
	require.Len(t, batch, 2)

	seen := map[string]bool{}
	for _, c := range batch {
		done, ok := c().(LoadCompletedMsg)
		require.True(t, ok)
		assert.Equal(t, LoadSuccess, done.Result.State)
		seen[done.URL] = true
	}
	assert.True(t, seen["https://cdn.example.com/full.png"])
	assert.True(t, seen["https://cdn.example.com/thumb.png"])
}

func TestWidgetInitWithoutWork(t *testing.T) {
	assert.Nil(t, NewWidget(Remote("https://cdn.example.com/a.png")).Init(),
		"no loader, nothing to schedule")

	w := NewWidget(Local(solidImage(4, 4, color.White)))
	w.SetLoader(&stubLoader{})
	assert.Nil(t, w.Init(), "local sources reference no URLs")
}

func TestWidgetViewTransitionsOnCompletion(t *testing.T) {
	const url = "https://cdn.example.com/photo.png"
	loader := &stubLoader{results: map[string]LoadResult{
		url: {State: LoadPending},
	}}

	w := NewWidget(Remote(url))
	w.SetLoader(loader).SetSize(6, 3).SetProtocol(Halfblocks)

	pending := w.View()
	assert.NotContains(t, pending, "\x1b[", "pending view is the plain fallback")

	result := LoadResult{State: LoadSuccess, Image: solidImage(12, 6, color.RGBA{B: 255, A: 255})}
	loader.results[url] = result

	model, cmd := w.Update(LoadCompletedMsg{URL: url, Result: result})
	assert.Nil(t, cmd)
	w = model.(Widget)

	ready := w.View()
	assert.NotEqual(t, pending, ready)
	assert.Contains(t, ready, "\x1b[")
}

func TestWidgetUpdateIgnoresForeignMessages(t *testing.T) {
	const url = "https://cdn.example.com/photo.png"
	loader := &stubLoader{results: map[string]LoadResult{
		url: {State: LoadPending},
	}}

	w := NewWidget(Remote(url))
	w.SetLoader(loader).SetSize(6, 3).SetProtocol(Halfblocks)
	w.View()

	model, _ := w.Update(LoadCompletedMsg{URL: "https://elsewhere.example.com/x.png"})
	w = model.(Widget)
	assert.False(t, w.needsUpdate, "completions for unrelated URLs leave the cache alone")

	model, _ = w.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	w = model.(Widget)
	assert.False(t, w.needsUpdate, "geometry stays under the host's control")
}
