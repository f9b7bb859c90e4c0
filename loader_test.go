package imgview

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupNilLoader(t *testing.T) {
	res := lookup(nil, "https://example.com/a.png")
	assert.Equal(t, LoadFailure, res.State)
	assert.ErrorIs(t, res.Err, ErrNoLoader)
	assert.Nil(t, res.Image)
}

func TestLoaderFunc(t *testing.T) {
	img := solidImage(1, 1, color.White)
	var seen string

	loader := LoaderFunc(func(url string) LoadResult {
		seen = url
		return LoadResult{State: LoadSuccess, Image: img}
	})

	res := lookup(loader, "https://example.com/a.png")
	assert.Equal(t, "https://example.com/a.png", seen)
	assert.Equal(t, LoadSuccess, res.State)
	assert.Equal(t, img, res.Image)
}

func TestLoadStateString(t *testing.T) {
	tests := []struct {
		state    LoadState
		expected string
	}{
		{LoadPending, "pending"},
		{LoadSuccess, "success"},
		{LoadFailure, "failure"},
		{LoadState(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.state.String())
	}
}
