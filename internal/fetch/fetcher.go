// Package fetch performs HTTP GETs with exponential-backoff retries and an
// optional per-URL result cache.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/stwalsh4118/stories/internal/logger"
)

const (
	// DefaultMaxRetries is the default number of attempts per request
	DefaultMaxRetries = 3
	// DefaultBaseDelay is the wait before the first retry
	DefaultBaseDelay = 300 * time.Millisecond

	maxBodyBytes = 8 << 20
)

// ErrNetwork is matched by every error returned after retries are exhausted
var ErrNetwork = errors.New("network failure")

// NetworkError reports a request that failed on every attempt
type NetworkError struct {
	URL      string
	Attempts int
	Err      error
}

// Error implements the error interface
func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrNetwork) true for any NetworkError
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error %d", e.StatusCode)
}

// IsNetworkError checks if the error is an exhausted-retries error
func IsNetworkError(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// Options configures a Fetcher
type Options struct {
	MaxRetries int
	BaseDelay  time.Duration
	Cache      bool
	Client     *http.Client
	Clock      clockwork.Clock
}

// Fetcher retries failed requests with exponential backoff
type Fetcher struct {
	client     *http.Client
	clock      clockwork.Clock
	maxRetries int
	baseDelay  time.Duration
	useCache   bool

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string][]byte
}

// New creates a Fetcher, filling zero options with defaults
func New(opts Options) *Fetcher {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Fetcher{
		client:     opts.Client,
		clock:      opts.Clock,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		useCache:   opts.Cache,
		cache:      make(map[string][]byte),
	}
}

// Backoff returns the wait before the given retry (1-based): base * 2^(retry-1)
func (f *Fetcher) Backoff(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	return f.baseDelay * time.Duration(1<<uint(retry-1))
}

// JSON fetches url and decodes the body into v
func (f *Fetcher) JSON(ctx context.Context, url string, v any) error {
	body, err := f.Bytes(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// Text fetches url and returns the body as a string
func (f *Fetcher) Text(ctx context.Context, url string) (string, error) {
	body, err := f.Bytes(ctx, url)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Bytes fetches url, retrying on transport errors and non-2xx statuses.
// Concurrent calls for the same URL share one request sequence, which runs
// detached from any single caller: a caller whose ctx ends stops waiting
// without failing the others.
func (f *Fetcher) Bytes(ctx context.Context, url string) ([]byte, error) {
	if body, ok := f.cached(url); ok {
		return body, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := f.group.DoChan(url, func() (interface{}, error) {
		body, err := f.fetchWithRetry(shared, url)
		if err != nil {
			return nil, err
		}
		if f.useCache {
			f.mu.Lock()
			f.cache[url] = body
			f.mu.Unlock()
		}
		return body, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch %s: %w", url, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// Forget drops url from the cache
func (f *Fetcher) Forget(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cache, url)
}

func (f *Fetcher) cached(url string) ([]byte, bool) {
	if !f.useCache {
		return nil, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	body, ok := f.cache[url]
	return body, ok
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		attempts = attempt
		body, err := f.get(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}

		logger.Log.Warn().
			Err(err).
			Str("url", url).
			Int("attempt", attempt).
			Int("max_attempts", f.maxRetries).
			Msg("Fetch attempt failed")

		// Don't wait after the last attempt
		if attempt == f.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, &NetworkError{URL: url, Attempts: attempt, Err: ctx.Err()}
		case <-f.clock.After(f.Backoff(attempt)):
		}
	}

	return nil, &NetworkError{URL: url, Attempts: attempts, Err: lastErr}
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
