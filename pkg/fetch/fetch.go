/*
Package fetch provides a ready-made image loader backed by net/http and a
small worker pool.

The Loader satisfies the root package's Loader contract: Load never blocks,
reports pending on first sight of a URL, and settles to success or failure
once the fetch and decode finish. Results are retained for the lifetime of
the Loader so that repeated presentations observe a stable decoded instance.

	loader := fetch.New()
	defer loader.Close()

	opts := imgview.DefaultOptions()
	opts.Loader = loader
	node := imgview.Present(imgview.Remote(url), opts)
*/
package fetch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gammazero/workerpool"

	// Decoders for the formats remote sources commonly serve.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "github.com/biessek/golang-ico"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	imgview "github.com/blacktop/go-imgview"
)

// ErrClosed marks results for URLs first requested after Close.
var ErrClosed = errors.New("loader closed")

const (
	defaultWorkers  = 4
	defaultMaxBytes = 32 << 20
	defaultTimeout  = 10 * time.Second
)

// Option configures a Loader.
type Option func(*Loader)

// WithClient sets the HTTP client used for fetches. A nil client keeps the
// default, which carries a 10 second timeout.
func WithClient(c *http.Client) Option {
	return func(l *Loader) {
		if c != nil {
			l.client = c
		}
	}
}

// WithWorkers caps the number of concurrent fetches.
func WithWorkers(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.workers = n
		}
	}
}

// WithMaxBytes caps how much of a response body is read before decoding.
func WithMaxBytes(n int64) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

// WithNotify registers a callback invoked each time a URL settles. Hosts use
// it to wake their event loop; a Bubble Tea program would send a message from
// it. The callback runs on a fetch goroutine.
func WithNotify(fn func(url string)) Option {
	return func(l *Loader) {
		l.notify = fn
	}
}

// entry tracks one URL. done is closed once res is terminal.
type entry struct {
	res  imgview.LoadResult
	done chan struct{}
}

// Loader fetches and decodes remote images in the background. Create one
// with New and hand it to Options.Loader; it is safe for concurrent use.
type Loader struct {
	client   *http.Client
	pool     *workerpool.WorkerPool
	workers  int
	maxBytes int64
	notify   func(url string)

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// New returns a Loader ready for use.
func New(opts ...Option) *Loader {
	l := &Loader{
		client:   &http.Client{Timeout: defaultTimeout},
		workers:  defaultWorkers,
		maxBytes: defaultMaxBytes,
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.pool = workerpool.New(l.workers)
	return l
}

// Load reports the state of url, scheduling a fetch the first time a URL is
// seen. It never blocks.
func (l *Loader) Load(url string) imgview.LoadResult {
	if url == "" {
		return imgview.LoadResult{State: imgview.LoadFailure, Err: errors.New("empty url")}
	}

	l.mu.Lock()
	if e, ok := l.entries[url]; ok {
		res := e.res
		l.mu.Unlock()
		return res
	}
	if l.closed {
		l.mu.Unlock()
		return imgview.LoadResult{State: imgview.LoadFailure, Err: ErrClosed}
	}
	e := &entry{
		res:  imgview.LoadResult{State: imgview.LoadPending},
		done: make(chan struct{}),
	}
	l.entries[url] = e
	l.mu.Unlock()

	log.WithField("url", url).Debug("image fetch scheduled")
	l.pool.Submit(func() { l.fetch(url, e) })
	return imgview.LoadResult{State: imgview.LoadPending}
}

// Wait blocks until url reaches a terminal state and returns it.
func (l *Loader) Wait(url string) imgview.LoadResult {
	return l.WaitContext(context.Background(), url)
}

// WaitContext is Wait with cancellation. On cancellation it returns the
// current state, which may still be pending.
func (l *Loader) WaitContext(ctx context.Context, url string) imgview.LoadResult {
	res := l.Load(url)
	if res.State != imgview.LoadPending {
		return res
	}

	l.mu.Lock()
	e := l.entries[url]
	l.mu.Unlock()
	if e == nil {
		return l.Load(url)
	}

	select {
	case <-e.done:
	case <-ctx.Done():
	}
	l.mu.Lock()
	res = e.res
	l.mu.Unlock()
	return res
}

// Prefetch schedules fetches for every non-empty url, typically a Source's
// Refs. It never blocks.
func (l *Loader) Prefetch(urls ...string) {
	for _, u := range urls {
		if u != "" {
			l.Load(u)
		}
	}
}

// Forget drops a settled result so the next Load fetches again. Pending
// entries are left to finish.
func (l *Loader) Forget(url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[url]; ok && e.res.State != imgview.LoadPending {
		delete(l.entries, url)
	}
}

// Close stops accepting new URLs and waits for in-flight fetches to finish.
// Settled results remain readable afterwards.
func (l *Loader) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()
	l.pool.StopWait()
}

// fetch runs on a pool worker and settles e.
func (l *Loader) fetch(url string, e *entry) {
	img, err := l.download(url)

	l.mu.Lock()
	if err != nil {
		e.res = imgview.LoadResult{State: imgview.LoadFailure, Err: err}
	} else {
		e.res = imgview.LoadResult{State: imgview.LoadSuccess, Image: img}
	}
	close(e.done)
	l.mu.Unlock()

	if err != nil {
		log.WithField("url", url).WithError(err).Debug("image fetch failed")
	} else {
		bounds := img.Bounds()
		log.WithFields(log.Fields{
			"url":    url,
			"width":  bounds.Dx(),
			"height": bounds.Dy(),
		}).Debug("image fetch succeeded")
	}

	if l.notify != nil {
		l.notify(url)
	}
}

func (l *Loader) download(url string) (image.Image, error) {
	resp, err := l.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, l.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}
	return img, nil
}
