package imgview

import (
	"fmt"
	"image"
	"image/draw"
	"sync"
	"time"

	"github.com/nfnt/resize"
)

// DefaultCacheSize is the maximum number of cached resized images.
const DefaultCacheSize = 100

// ResizeCache memoizes resized images keyed by source identity and target
// geometry. Rendering loops hit the same resize repeatedly (every frame of
// a TUI redraw), so the cache trades memory for large CPU savings.
type ResizeCache struct {
	mu          sync.Mutex
	cache       map[string]*cacheEntry
	accessOrder []string // most recently used first
	maxSize     int
}

type cacheEntry struct {
	image    image.Image
	lastUsed int64
}

var globalResizeCache = &ResizeCache{
	cache:   make(map[string]*cacheEntry),
	maxSize: DefaultCacheSize,
}

func resizeCacheKey(width, height uint, id string, srcBounds image.Rectangle) string {
	return fmt.Sprintf("%dx%d_%s_%dx%d", width, height, id, srcBounds.Dx(), srcBounds.Dy())
}

// get returns a cached image and marks it most recently used.
func (rc *ResizeCache) get(key string) (image.Image, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	entry, ok := rc.cache[key]
	if !ok {
		return nil, false
	}
	entry.lastUsed = time.Now().Unix()
	rc.promote(key)
	return entry.image, true
}

// set stores an image, evicting the least recently used entries at capacity.
func (rc *ResizeCache) set(key string, img image.Image) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if entry, ok := rc.cache[key]; ok {
		entry.image = img
		entry.lastUsed = time.Now().Unix()
		rc.promote(key)
		return
	}

	for len(rc.cache) >= rc.maxSize {
		lru := rc.accessOrder[len(rc.accessOrder)-1]
		rc.accessOrder = rc.accessOrder[:len(rc.accessOrder)-1]
		delete(rc.cache, lru)
	}

	rc.cache[key] = &cacheEntry{image: img, lastUsed: time.Now().Unix()}
	rc.accessOrder = append([]string{key}, rc.accessOrder...)
}

// promote moves key to the front of the access order. Callers hold rc.mu.
func (rc *ResizeCache) promote(key string) {
	for i, k := range rc.accessOrder {
		if k == key {
			rc.accessOrder = append(rc.accessOrder[:i], rc.accessOrder[i+1:]...)
			break
		}
	}
	rc.accessOrder = append([]string{key}, rc.accessOrder...)
}

// ResizeImage resizes img to width x height, caching results under id.
// Interpolation quality adapts to the job: bilinear when downscaling
// heavily, nearest neighbor otherwise.
func ResizeImage(img image.Image, width, height uint, id string) image.Image {
	bounds := img.Bounds()

	if uint(bounds.Dx()) == width && uint(bounds.Dy()) == height {
		return img
	}

	key := resizeCacheKey(width, height, id, bounds)
	if cached, ok := globalResizeCache.get(key); ok {
		return cached
	}

	var interp resize.InterpolationFunction
	sourcePixels := bounds.Dx() * bounds.Dy()
	targetPixels := int(width * height)
	if sourcePixels > targetPixels*4 {
		interp = resize.Bilinear
	} else {
		interp = resize.NearestNeighbor
	}

	resized := resize.Resize(width, height, img, interp)
	globalResizeCache.set(key, resized)
	return resized
}

// FastResize trades quality for speed. Use for previews and thumbnails.
func FastResize(img image.Image, width, height uint) image.Image {
	return resize.Resize(width, height, img, resize.NearestNeighbor)
}

// ClearResizeCache drops all cached resized images to free memory.
func ClearResizeCache() {
	globalResizeCache.mu.Lock()
	globalResizeCache.cache = make(map[string]*cacheEntry)
	globalResizeCache.accessOrder = nil
	globalResizeCache.mu.Unlock()
}

// CropImageCenter crops an image to the target dimensions, keeping the
// center. Targets larger than the source return the source unchanged.
func CropImageCenter(img image.Image, targetWidth, targetHeight int) image.Image {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	if targetWidth >= srcW && targetHeight >= srcH {
		return img
	}

	offsetX := max((srcW-targetWidth)/2, 0)
	offsetY := max((srcH-targetHeight)/2, 0)
	if offsetX+targetWidth > srcW {
		targetWidth = srcW - offsetX
	}
	if offsetY+targetHeight > srcH {
		targetHeight = srcH - offsetY
	}

	cropRect := image.Rect(
		bounds.Min.X+offsetX,
		bounds.Min.Y+offsetY,
		bounds.Min.X+offsetX+targetWidth,
		bounds.Min.Y+offsetY+targetHeight,
	)

	cropped := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
	draw.Draw(cropped, cropped.Bounds(), img, cropRect.Min, draw.Src)
	return cropped
}
