package imgview

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
)

// Present resolves a Source to the visual that should be shown right now.
//
// It never fails and never returns nil: remote sources that are pending,
// failed or missing a URL degrade through the placeholder branch, and when
// neither a placeholder image nor a placeholder tint exists the result is a
// fully transparent rectangle. The output is a pure function of the source,
// the options and the loader's current state for any URL involved, so hosts
// simply re-present on every update pass and on every load-state change.
//
// Mode selection: an embedded tint always wins and forces template
// rendering. Without one, local sources use opts.Mode, while remote sources
// derive their mode purely from whether their tint is set.
func Present(src Source, opts Options) *Node {
	switch src.kind {
	case sourceLocal:
		if src.image == nil {
			return rectNode(nil, opts)
		}
		if src.tint != nil {
			return imageNode(src.image, RenderTemplate, src.tint, opts)
		}
		return imageNode(src.image, opts.Mode, opts.ModeTint, opts)

	case sourceRemote:
		if src.url == "" {
			return placeholderNode(src, opts)
		}
		if res := lookup(opts.Loader, src.url); res.State == LoadSuccess && res.Image != nil {
			return imageNode(res.Image, ModeForTint(src.tint), src.tint, opts)
		}
		return placeholderNode(src, opts)

	case sourceRemoteCascade:
		if src.url != "" {
			if res := lookup(opts.Loader, src.url); res.State == LoadSuccess && res.Image != nil {
				return imageNode(res.Image, ModeForTint(src.tint), src.tint, opts)
			}
		}
		// The remote placeholder becomes a full nested Remote source whose
		// own fallback is the local placeholder.
		nested := Remote(src.placeholderURL).
			Tint(src.placeholderTint).
			Placeholder(src.placeholder).
			PlaceholderTint(src.placeholderTint)
		return Present(nested, opts)

	default:
		return rectNode(nil, opts)
	}
}

// placeholderNode resolves the fallback visual for an unresolved remote
// source: the local placeholder image when present, else a rectangle filled
// with the placeholder tint, else a fully transparent rectangle.
func placeholderNode(src Source, opts Options) *Node {
	if src.placeholder != nil {
		return imageNode(src.placeholder, ModeForTint(src.placeholderTint), src.placeholderTint, opts)
	}
	return rectNode(src.placeholderTint, opts)
}

// Convenience functions for quick rendering

// Render renders a source with default options
func Render(src Source) (string, error) {
	opts := DefaultOptions()
	return Present(src, opts).Render(opts)
}

// Print outputs a source to stdout with default options
func Print(src Source) error {
	opts := DefaultOptions()
	return Present(src, opts).Print(opts)
}

// Open decodes an image file into a Local source
func Open(path string) (Source, error) {
	if path == "" {
		return Source{}, fmt.Errorf("path cannot be empty")
	}
	file, err := os.Open(path)
	if err != nil {
		return Source{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return Source{}, fmt.Errorf("failed to decode image: %w", err)
	}
	return Local(img), nil
}

// From decodes an image stream into a Local source
func From(r io.Reader) (Source, error) {
	if r == nil {
		return Source{}, fmt.Errorf("reader cannot be nil")
	}
	img, _, err := image.Decode(r)
	if err != nil {
		return Source{}, fmt.Errorf("failed to decode image: %w", err)
	}
	return Local(img), nil
}
