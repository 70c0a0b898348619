package tiles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/metrics"
)

const (
	UserAgent      = "Ward Directory Map/1.0.0"
	fetchTimeout   = 10 * time.Second
	fetchAttempts  = 3
	fetchBackoff   = 500 * time.Millisecond
	maxTileBytes   = 4 << 20
	defaultPerSec  = 5
	defaultBurstSz = 1
)

// ErrTileUnavailable means the upstream server has no tile at that address.
var ErrTileUnavailable = errors.New("tile not available upstream")

// Fetcher downloads tiles from their upstream servers, politely.
type Fetcher struct {
	client   *http.Client
	limiter  *rate.Limiter
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

// NewFetcher limits requests to perSec across all layers. A non-positive
// rate uses the default.
func NewFetcher(perSec float64, logger *slog.Logger) *Fetcher {
	if perSec <= 0 {
		perSec = defaultPerSec
	}
	return &Fetcher{
		client:   &http.Client{Timeout: fetchTimeout},
		limiter:  rate.NewLimiter(rate.Limit(perSec), defaultBurstSz),
		attempts: fetchAttempts,
		backoff:  fetchBackoff,
		logger:   logger,
	}
}

// WithClient replaces the HTTP client, mainly for tests.
func (f *Fetcher) WithClient(c *http.Client) *Fetcher {
	f.client = c
	return f
}

// WithBackoff sets the base delay between attempts.
func (f *Fetcher) WithBackoff(d time.Duration) *Fetcher {
	f.backoff = d
	return f
}

// Fetch downloads one tile. A 404 is reported as ErrTileUnavailable without
// retrying; other failures are retried with a growing delay.
func (f *Fetcher) Fetch(ctx context.Context, layer Layer, c Coord) ([]byte, error) {
	url := layer.TileURL(c)
	start := time.Now()
	defer func() {
		metrics.TileFetchDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	}()

	var lastErr error
	for attempt := range f.attempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * f.backoff):
			}
		}

		data, err := f.get(ctx, url)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, ErrTileUnavailable) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		f.logger.Debug("tile fetch failed", "layer", layer.Name, "tile", c.Key(), "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("failed to fetch %s tile %s after %d attempts: %w", layer.Name, c.Key(), f.attempts, lastErr)
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call tile server: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrTileUnavailable
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("tile server returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read tile: %w", err)
	}
	if len(data) > maxTileBytes {
		return nil, fmt.Errorf("tile larger than %d bytes", maxTileBytes)
	}
	if len(data) == 0 {
		return nil, errors.New("tile server returned an empty body")
	}
	return data, nil
}
