package imgview

import (
	"image"
	"image/color"
)

// sourceKind discriminates the Source variants.
type sourceKind int

const (
	sourceLocal sourceKind = iota
	sourceRemote
	sourceRemoteCascade
)

// Source describes where an image comes from and its fallback chain.
//
// A Source is an immutable value: the fluent modifiers return copies, so a
// value can be rebuilt at every render pass or held as stable state without
// any sharing hazards. Nothing is fetched or cached by the Source itself;
// remote URLs are resolved by the Loader configured on Options.
type Source struct {
	kind sourceKind

	image          image.Image // decoded image for local sources
	url            string      // primary URL, "" when absent
	placeholderURL string      // remote placeholder URL, "" when absent

	tint            color.Color // forces template rendering when non-nil
	placeholder     image.Image // local fallback while the remote image is unresolved
	placeholderTint color.Color // tint for the fallback, fill color when no fallback image exists
}

// Local creates a Source backed by an already decoded image.
func Local(img image.Image) Source {
	return Source{kind: sourceLocal, image: img}
}

// Remote creates a Source that resolves its image from url, with a
// single-level local fallback. An empty url never reaches the loader and
// resolves straight to the placeholder branch.
func Remote(url string) Source {
	return Source{kind: sourceRemote, url: url}
}

// RemoteWithRemotePlaceholder creates a Source whose placeholder is itself
// remote: until url resolves, placeholderURL is presented as a full nested
// Remote source with its own local fallback, cascading the same rules.
func RemoteWithRemotePlaceholder(url, placeholderURL string) Source {
	return Source{kind: sourceRemoteCascade, url: url, placeholderURL: placeholderURL}
}

// Tint returns a copy of the Source with the primary tint set. A non-nil
// tint always renders the resolved image as a single-color template, even
// when the options ask for original mode.
func (s Source) Tint(c color.Color) Source {
	s.tint = c
	return s
}

// Placeholder returns a copy of the Source with the local fallback image set.
func (s Source) Placeholder(img image.Image) Source {
	s.placeholder = img
	return s
}

// PlaceholderTint returns a copy of the Source with the fallback tint set.
// When no fallback image exists, the tint doubles as the fill color of the
// rectangle shown in its place.
func (s Source) PlaceholderTint(c color.Color) Source {
	s.placeholderTint = c
	return s
}

// Image returns the embedded image of a local source, nil otherwise.
func (s Source) Image() image.Image {
	return s.image
}

// URL returns the primary remote URL, "" for local sources or when absent.
func (s Source) URL() string {
	return s.url
}

// PlaceholderURL returns the remote placeholder URL, "" when absent.
func (s Source) PlaceholderURL() string {
	return s.placeholderURL
}

// Refs returns the URLs the source may need resolved, primary first.
// Hosts hand these to their loader to schedule fetches eagerly; fallback
// order at render time is unaffected.
func (s Source) Refs() []string {
	var urls []string
	if s.url != "" {
		urls = append(urls, s.url)
	}
	if s.placeholderURL != "" {
		urls = append(urls, s.placeholderURL)
	}
	return urls
}
