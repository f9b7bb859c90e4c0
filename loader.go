package imgview

import (
	"errors"
	"image"
)

// ErrNoLoader marks load results produced when a remote source is presented
// without a loader configured.
var ErrNoLoader = errors.New("no loader configured")

// LoadState is the observable state of a remote image fetch.
type LoadState int

const (
	// LoadPending means the fetch was requested but has not finished.
	LoadPending LoadState = iota
	// LoadSuccess means the image was fetched and decoded.
	LoadSuccess
	// LoadFailure means the fetch or decode failed.
	LoadFailure
)

func (s LoadState) String() string {
	switch s {
	case LoadPending:
		return "pending"
	case LoadSuccess:
		return "success"
	case LoadFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// LoadResult is a snapshot of a URL's load state. Image is non-nil exactly
// when State is LoadSuccess; Err carries the cause of a failure.
type LoadResult struct {
	State LoadState
	Image image.Image
	Err   error
}

// Loader resolves URLs to images asynchronously. Load must not block: it
// reports the URL's current state, moving it from LoadPending to
// LoadSuccess or LoadFailure on its own time. Whatever caching the loader
// keeps is opaque to callers; presenting again observes the new state.
//
// How fetches are scheduled, bounded, retried or cancelled is entirely the
// loader's business.
type Loader interface {
	Load(url string) LoadResult
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(url string) LoadResult

// Load calls f(url).
func (f LoaderFunc) Load(url string) LoadResult { return f(url) }

// lookup consults the loader for url, folding an absent loader into a
// failure so callers fall through to the placeholder branch.
func lookup(l Loader, url string) LoadResult {
	if l == nil {
		return LoadResult{State: LoadFailure, Err: ErrNoLoader}
	}
	return l.Load(url)
}
