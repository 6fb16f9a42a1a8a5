package tileloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brannongeo/terratile/pkg/layout"
	"github.com/brannongeo/terratile/pkg/ratelimit"
	"github.com/brannongeo/terratile/pkg/raster"
	"github.com/brannongeo/terratile/pkg/terrors"
)

// HTTPLoader fetches tiles from a templated URL, in the teacher's
// Processor.DownloadTile/BuildURL style, generalized to the full
// placeholder set and given rate-limited retry.
type HTTPLoader struct {
	urlTemplate    string
	l              *layout.Layout
	minZoom        int
	maxZoom        int
	headers        map[string]string
	retries        int
	waitAfterError time.Duration
	limiter        *ratelimit.Limiter
	client         *http.Client
	decoder        raster.Decoder
}

// HTTPOption configures an HTTPLoader beyond its required fields.
type HTTPOption func(*HTTPLoader)

// WithHeaders sets request headers sent on every fetch.
func WithHeaders(h map[string]string) HTTPOption {
	return func(l *HTTPLoader) { l.headers = h }
}

// WithRetries overrides the default retry count (100).
func WithRetries(n int) HTTPOption {
	return func(l *HTTPLoader) { l.retries = n }
}

// WithWaitAfterError overrides the default 5s post-failure sleep.
func WithWaitAfterError(d time.Duration) HTTPOption {
	return func(l *HTTPLoader) { l.waitAfterError = d }
}

// WithRatelimit bounds fetch rate to n requests per period.
func WithRatelimit(n int, period time.Duration) HTTPOption {
	return func(l *HTTPLoader) { l.limiter = ratelimit.New(n, period) }
}

// WithHTTPClient overrides the default *http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(l *HTTPLoader) { l.client = c }
}

// WithDecoder overrides the default raster.StdDecoder.
func WithDecoder(d raster.Decoder) HTTPOption {
	return func(l *HTTPLoader) { l.decoder = d }
}

// NewHTTP builds an HTTPLoader. urlTemplate recognizes {zoom}, {x}, {y},
// {tile_x}, {tile_y}, {quad}, {crs_lower_x}, {crs_lower_y}, {crs_upper_x},
// {crs_upper_y}, {tile_size_x}, {tile_size_y}.
func NewHTTP(urlTemplate string, l *layout.Layout, minZoom, maxZoom int, opts ...HTTPOption) *HTTPLoader {
	loader := &HTTPLoader{
		urlTemplate:    urlTemplate,
		l:              l,
		minZoom:        minZoom,
		maxZoom:        maxZoom,
		retries:        100,
		waitAfterError: 5 * time.Second,
		client:         http.DefaultClient,
		decoder:        raster.StdDecoder{},
	}
	for _, opt := range opts {
		opt(loader)
	}
	return loader
}

// Layout implements TileLoader.
func (l *HTTPLoader) Layout() *layout.Layout { return l.l }

// MinZoom implements TileLoader.
func (l *HTTPLoader) MinZoom() int { return l.minZoom }

// MaxZoom implements TileLoader.
func (l *HTTPLoader) MaxZoom() int { return l.maxZoom }

// Load implements TileLoader: acquires a rate-limit token, fetches, decodes,
// and retries transient failures up to l.retries times.
func (l *HTTPLoader) Load(ctx context.Context, key Key) (*raster.Raster, error) {
	if !supportsZoom(l.minZoom, l.maxZoom, key.Zoom) {
		return nil, terrors.InvalidZoom(int(key.Zoom), l.minZoom, l.maxZoom)
	}

	url, err := l.buildURL(key)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= l.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(l.waitAfterError):
			}
		}

		if l.limiter != nil {
			l.limiter.Acquire()
		}

		ras, err := l.fetchOnce(ctx, url)
		if err == nil {
			return ras, nil
		}
		lastErr = err
	}

	return nil, &terrors.NotFound{Key: fmt.Sprintf("%d/%d/%d", key.Zoom, key.X, key.Y), Err: lastErr}
}

func (l *HTTPLoader) fetchOnce(ctx context.Context, url string) (*raster.Raster, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &terrors.Transient{Key: url, Err: err}
	}
	for k, v := range l.headers {
		req.Header.Set(k, v)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, &terrors.Transient{Key: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &terrors.Transient{Key: url, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &terrors.Transient{Key: url, Err: err}
	}
	if cl := resp.ContentLength; cl >= 0 && int64(len(body)) != cl {
		return nil, &terrors.Transient{Key: url, Err: fmt.Errorf("truncated: got %d bytes, want %d", len(body), cl)}
	}

	ras, err := l.decoder.Decode(body)
	if err != nil {
		return nil, &terrors.Transient{Key: url, Err: err}
	}
	return ras, nil
}

func (l *HTTPLoader) buildURL(key Key) (string, error) {
	tileShape := l.l.TileShapePx
	lowerCrs, err := l.l.TileToCrs(layout.Vec2{X: float64(key.X), Y: float64(key.Y)}, int(key.Zoom))
	if err != nil {
		return "", err
	}
	upperCrs, err := l.l.TileToCrs(layout.Vec2{X: float64(key.X) + 1, Y: float64(key.Y) + 1}, int(key.Zoom))
	if err != nil {
		return "", err
	}

	replacer := strings.NewReplacer(
		"{zoom}", formatInt(key.Zoom),
		"{x}", formatInt(key.X),
		"{y}", formatInt(key.Y),
		"{tile_x}", formatInt(key.X),
		"{tile_y}", formatInt(key.Y),
		"{quad}", Quadkey(key.X, key.Y, int(key.Zoom)),
		"{crs_lower_x}", strconv.FormatFloat(lowerCrs.X, 'f', -1, 64),
		"{crs_lower_y}", strconv.FormatFloat(lowerCrs.Y, 'f', -1, 64),
		"{crs_upper_x}", strconv.FormatFloat(upperCrs.X, 'f', -1, 64),
		"{crs_upper_y}", strconv.FormatFloat(upperCrs.Y, 'f', -1, 64),
		"{tile_size_x}", formatInt(tileShape[0]),
		"{tile_size_y}", formatInt(tileShape[1]),
	)
	return replacer.Replace(l.urlTemplate), nil
}
