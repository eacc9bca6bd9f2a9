package attack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"attackmap/internal/config"
)

const userAgent = "attackmap-heatmap-generator/1.0"

var (
	// ErrUnmappedMatrix means no source URL is configured for the matrix.
	// This is a configuration error, reported before any network I/O.
	ErrUnmappedMatrix = errors.New("no source URL configured for matrix type")

	// ErrMalformedCorpus means the response body was not a valid STIX
	// bundle. Retrying cannot fix a structurally invalid response, so the
	// fetch fails immediately.
	ErrMalformedCorpus = errors.New("malformed corpus payload")
)

// Fetcher produces the raw corpus for a matrix type, preferring the cache
// and falling back to the remote source with bounded retries.
type Fetcher struct {
	cache  *Cache
	src    config.SourceConfig
	client *http.Client
	logger *zap.Logger
}

// NewFetcher creates a fetcher backed by the given cache.
func NewFetcher(src config.SourceConfig, cache *Cache, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		cache:  cache,
		src:    src,
		client: &http.Client{Timeout: src.Timeout},
		logger: logger,
	}
}

// Load returns the parsed corpus bundle for a matrix type. A cache hit is
// returned directly; otherwise the bundle is downloaded, parsed, and written
// back to the cache best-effort. The call blocks for up to
// timeout*attempts + delay*(attempts-1) in the worst case.
func (f *Fetcher) Load(ctx context.Context, matrix config.MatrixType) (*Bundle, error) {
	if data, hit := f.cache.Get(matrix); hit {
		bundle, err := decodeBundle(data)
		if err == nil {
			return bundle, nil
		}
		// A corrupt cache entry is treated as a miss, not a failure.
		f.logger.Warn("cached corpus is unreadable, refetching",
			zap.String("matrix", string(matrix)), zap.Error(err))
	}

	url := f.src.URLFor(matrix)
	if url == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnmappedMatrix, matrix)
	}

	data, err := f.download(ctx, url)
	if err != nil {
		return nil, err
	}

	bundle, err := decodeBundle(data)
	if err != nil {
		return nil, err
	}

	// Storage failure does not invalidate a successful fetch.
	if !f.cache.Put(matrix, data) {
		f.logger.Warn("corpus fetched but not cached", zap.String("matrix", string(matrix)))
	}
	return bundle, nil
}

// download retrieves the document with a bounded retry loop. Transport
// errors and non-2xx statuses are retried after a fixed delay; the body is
// returned raw so structural validation happens exactly once in the caller.
func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	f.logger.Info("downloading corpus", zap.String("url", url))

	attempts := f.src.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		f.logger.Debug("download attempt",
			zap.Int("attempt", attempt), zap.Int("max", attempts))

		data, err := f.fetchOnce(ctx, url)
		if err == nil {
			f.logger.Info("download complete", zap.Int("bytes", len(data)))
			return data, nil
		}
		lastErr = err
		f.logger.Warn("download attempt failed",
			zap.Int("attempt", attempt), zap.Error(err))

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.src.RetryDelay):
		}
	}
	return nil, fmt.Errorf("download failed after %d attempts: %w", attempts, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// decodeBundle parses a raw corpus blob. Any decode failure or a document
// without objects is a structural error and is never retried.
func decodeBundle(data []byte) (*Bundle, error) {
	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCorpus, err)
	}
	if len(bundle.Objects) == 0 {
		return nil, fmt.Errorf("%w: bundle contains no objects", ErrMalformedCorpus)
	}
	return &bundle, nil
}
