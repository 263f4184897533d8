// Package sourcecache fetches remote module sources over HTTP and keeps them
// in a local or shared store so repeated builds work offline.
package sourcecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fluxbase-eu/fluxpack/internal/observability"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ErrFetchFailed is returned when a remote module cannot be downloaded.
var ErrFetchFailed = errors.New("fetch failed")

const (
	defaultTimeout = 30 * time.Second
	maxSourceSize  = 32 << 20
	userAgent      = "fluxpack"
)

// Recorder receives fetch outcomes: "hit", "miss" or "error".
type Recorder interface {
	RecordSourceFetch(result string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordSourceFetch(string, time.Duration) {}

// Options configures a Cache.
type Options struct {
	// TTL of stored sources. Zero keeps them forever.
	TTL time.Duration
	// Timeout bounds one HTTP request.
	Timeout time.Duration
	// Rate limits downloads per second. Zero disables limiting.
	Rate     float64
	Client   *http.Client
	Recorder Recorder
}

// Cache implements the engine and module graph fetchers.
type Cache struct {
	store    Store
	client   *http.Client
	limiter  *rate.Limiter
	ttl      time.Duration
	recorder Recorder
	group    singleflight.Group
}

// New creates a cache over store.
func New(store Store, opts Options) *Cache {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), 1)
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Cache{
		store:    store,
		client:   client,
		limiter:  limiter,
		ttl:      opts.TTL,
		recorder: recorder,
	}
}

// Fetch returns the source of a remote module, downloading it on a miss.
// Concurrent fetches of the same URL share one download.
func (c *Cache) Fetch(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	data, err := c.store.Get(ctx, url)
	if err == nil {
		c.recorder.RecordSourceFetch("hit", time.Since(start))
		return data, nil
	}
	if !errors.Is(err, ErrMiss) {
		log.Warn().Err(err).Str("url", url).Msg("Source cache lookup failed, downloading")
	}

	if err := ctx.Err(); err != nil {
		c.recorder.RecordSourceFetch("error", time.Since(start))
		return nil, err
	}
	// The shared download outlives any single caller; each caller stops
	// waiting when its own context ends.
	dl := context.WithoutCancel(ctx)
	ch := c.group.DoChan(url, func() (interface{}, error) {
		dlCtx, cancel := context.WithTimeout(dl, c.downloadTimeout())
		defer cancel()
		return c.download(dlCtx, url)
	})
	select {
	case <-ctx.Done():
		c.recorder.RecordSourceFetch("error", time.Since(start))
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			c.recorder.RecordSourceFetch("error", time.Since(start))
			return nil, res.Err
		}
		if !res.Shared {
			c.recorder.RecordSourceFetch("miss", time.Since(start))
		}
		return res.Val.([]byte), nil
	}
}

// downloadTimeout bounds a detached download, including the rate limiter wait.
func (c *Cache) downloadTimeout() time.Duration {
	if c.client.Timeout > 0 {
		return 2 * c.client.Timeout
	}
	return 2 * defaultTimeout
}

func (c *Cache) download(ctx context.Context, url string) (data []byte, err error) {
	ctx, span := observability.StartFetchSpan(ctx, url)
	defer func() { observability.EndSpan(span, err) }()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetchFailed, url, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetchFailed, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: HTTP %d", ErrFetchFailed, url, resp.StatusCode)
	}
	data, err = io.ReadAll(io.LimitReader(resp.Body, maxSourceSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetchFailed, url, err)
	}
	if len(data) > maxSourceSize {
		return nil, fmt.Errorf("%w: %s: source exceeds %d bytes", ErrFetchFailed, url, maxSourceSize)
	}

	if err := c.store.Set(ctx, url, data, c.ttl); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("Failed to store fetched source")
	}
	log.Debug().Str("url", url).Int("bytes", len(data)).Msg("Fetched remote module")
	return data, nil
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}
