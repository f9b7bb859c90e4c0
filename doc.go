/*
Package imgview selects and renders the right visual for an image source in
terminal emulators that support various image protocols including Kitty,
Sixel, iTerm2, and fallback Unicode halfblocks.

A Source describes what should ideally be shown: a decoded local image or a
remote URL, optionally with a tint, a placeholder image, a placeholder tint,
or even a remote placeholder URL. Present resolves a Source against the
current state of an asynchronous image loader and always produces something
drawable; when nothing has arrived yet the result degrades through the
placeholder chain down to a fully transparent rectangle. Hosts simply
re-present on every update pass.

Main features:

  - Declarative sources with tint, placeholder, and remote-placeholder chains
  - Present never fails: pending and failed loads degrade to placeholders
  - Template rendering recolors an image's alpha shape with a single tint
  - Automatic detection of supported terminal image protocols
  - Support for Kitty, Sixel, iTerm2, and Unicode halfblock protocols
  - Tmux passthrough support for graphics protocols in terminal multiplexers
  - Advanced features like scaling, dithering, z-index, virtual placement
  - TUI framework integration (Bubbletea) and an async render worker

Basic Usage:

	// Simple one-liner for a local file
	src, err := imgview.Open("image.png")
	if err != nil {
	    log.Fatal(err)
	}
	imgview.Print(src)

	// Full control over presentation and realization
	opts := imgview.DefaultOptions()
	opts.Width = 80
	opts.Height = 40
	opts.Protocol = imgview.Kitty

	node := imgview.Present(src.Tint(color.RGBA{R: 255, A: 255}), opts)
	out, err := node.Render(opts)

Remote Sources:

	// Remote images resolve through a Loader; pkg/fetch provides one.
	loader := fetch.New()
	defer loader.Close()

	opts := imgview.DefaultOptions()
	opts.Loader = loader

	src := imgview.RemoteWithRemotePlaceholder(primaryURL, thumbURL).
	    Placeholder(localThumb).
	    PlaceholderTint(gray)

	// First pass shows the best fallback; later passes pick up loads.
	node := imgview.Present(src, opts)

Protocol Detection:

	// Detect the best available protocol
	protocol := imgview.DetectProtocol()
	switch protocol {
	case imgview.Kitty:
	    fmt.Println("Kitty graphics protocol supported")
	case imgview.Sixel:
	    fmt.Println("Sixel protocol supported")
	case imgview.ITerm2:
	    fmt.Println("iTerm2 protocol supported")
	case imgview.Halfblocks:
	    fmt.Println("Unicode halfblocks fallback")
	}

	// Check specific protocol support
	if imgview.KittySupported() {
	    fmt.Println("Kitty protocol available")
	}

	// Get all supported protocols
	protocols := imgview.DetermineProtocols()
	fmt.Printf("Available protocols: %v\n", protocols)

Tmux Support:

	// Force tmux mode for testing
	imgview.ForceTmux(true)

	// Graphics protocols automatically work in tmux via passthrough
	imgview.Print(src) // Automatically uses tmux passthrough when needed

TUI Integration:

	widget := imgview.NewImageWidget(src).SetLoader(loader)
	widget.SetSize(50, 25).SetProtocol(imgview.Auto)
	rendered, _ := widget.Render()

	// Or drop a source straight into a Bubble Tea program; Init schedules
	// a command per remote reference and Update re-presents on completion.
	model := imgview.NewWidget(src)
	model.SetLoader(loader)

This package is designed to make it easy to add modern image rendering
capabilities to terminal-based Go applications with support for the latest
terminal features.
*/
package imgview
