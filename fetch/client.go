package fetch

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-loader/errors"
)

// wasmContentType is the exact declared type required for streaming
// compilation eligibility. Host engines reject streaming unless the
// declared type matches exactly, so anything else (including a type
// with parameters appended) buffers the full payload first.
const wasmContentType = "application/wasm"

// Config holds acquisition and cache settings.
type Config struct {
	// Retries is the number of additional attempts after the first;
	// 2 gives three total attempts (the default). -1 disables retries.
	Retries int

	// RetryDelay is the exponential backoff base. The wait doubles
	// per attempt: base, 2*base, 4*base, ...
	RetryDelay time.Duration

	// CacheTTL bounds entry validity in both tiers.
	CacheTTL time.Duration

	// CacheEntries bounds the in-process tier; overflow evicts LRU.
	CacheEntries int

	// CacheDir roots the persistent tier. Empty disables it.
	CacheDir string

	// DisableCache turns off both tiers for every request.
	DisableCache bool

	// HTTPClient overrides the transport. Nil uses a 30s-timeout client.
	HTTPClient *http.Client
}

const (
	defaultRetries      = 2
	defaultRetryDelay   = 500 * time.Millisecond
	defaultCacheTTL     = time.Hour
	defaultCacheEntries = 64
)

// Options tunes a single request.
type Options struct {
	// NoCache bypasses both tiers for this request.
	NoCache bool

	// TTL overrides the configured cache TTL for this entry.
	TTL time.Duration

	// NoVariants skips compressed-companion probing. Used for small
	// companion files (descriptors, integrity references).
	NoVariants bool
}

// Result is one completed acquisition.
type Result struct {
	Bytes       []byte
	URL         string
	PlainURL    string // artifact URL without any variant suffix
	ContentType string
	Variant     string // compression variant used, "" for the plain artifact
	ExactType   bool   // transport declared application/wasm exactly
	FromCache   bool
}

// Client acquires module bytes with retry, compressed-variant
// negotiation, and a two-tier cache.
type Client struct {
	cfg  Config
	http *http.Client
	mem  *memCache
	disk *diskCache
	now  func() time.Time
}

// New creates a Client. The disk tier is opened (and pruned of
// expired entries) when cfg.CacheDir is set.
func New(cfg Config) (*Client, error) {
	if cfg.Retries == 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.Retries < 0 { // -1 means no retries
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.CacheEntries <= 0 {
		cfg.CacheEntries = defaultCacheEntries
	}

	c := &Client{
		cfg: cfg,
		mem: newMemCache(cfg.CacheEntries),
		now: time.Now,
	}

	c.http = cfg.HTTPClient
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}

	if cfg.CacheDir != "" {
		disk, err := newDiskCache(cfg.CacheDir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseFetch, errors.KindInvalidInput, err, "open disk cache")
		}
		disk.pruneExpired(c.now())
		c.disk = disk
	}

	return c, nil
}

// Fetch acquires the artifact at target (a URL or a local path),
// consulting the cache tiers first and negotiating compressed
// variants on a miss. Returned bytes are post-decompression.
func (c *Client) Fetch(ctx context.Context, target string, opts Options) (*Result, error) {
	useCache := !c.cfg.DisableCache && !opts.NoCache
	key := CacheKey(normalizeRequest(target, opts))
	now := c.now()

	if useCache {
		if ent, ok := c.mem.get(key, now); ok {
			Logger().Debug("tier-1 cache hit", zap.String("target", target))
			return cachedResult(target, ent), nil
		}
		if c.disk != nil {
			if ent, ok := c.disk.get(key, now); ok {
				Logger().Debug("tier-2 cache hit", zap.String("target", target))
				c.mem.put(key, ent)
				return cachedResult(target, ent), nil
			}
		}
	}

	res, err := c.acquire(ctx, target, opts)
	if err != nil {
		return nil, err
	}

	if useCache {
		ttl := opts.TTL
		if ttl <= 0 {
			ttl = c.cfg.CacheTTL
		}
		ent := &entry{
			Timestamp:   c.now(),
			TTL:         ttl,
			Bytes:       res.Bytes,
			ContentType: res.ContentType,
			ExactType:   res.ExactType,
		}
		c.mem.put(key, ent)
		if c.disk != nil {
			if err := c.disk.put(key, ent); err != nil {
				Logger().Warn("disk cache write failed",
					zap.String("target", target), zap.Error(err))
			}
		}
	}

	return res, nil
}

// FetchFirst tries candidate targets in order and returns the first
// success. When every candidate fails, the acquisition error lists
// all attempted URLs.
func (c *Client) FetchFirst(ctx context.Context, source string, targets []string, opts Options) (*Result, error) {
	var lastErr error
	tried := make([]string, 0, len(targets))

	for _, target := range targets {
		res, err := c.Fetch(ctx, target, opts)
		if err == nil {
			return res, nil
		}
		tried = append(tried, target)
		lastErr = err

		// Format errors are not papered over by later candidates.
		var le *errors.Error
		if stderrors.As(err, &le) && !le.Retryable() && le.Kind != errors.KindAcquisition {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, errors.Acquisition(source, c.cfg.Retries+1, tried, lastErr)
}

// Invalidate drops the cache entry for a target from both tiers.
func (c *Client) Invalidate(target string, opts Options) {
	key := CacheKey(normalizeRequest(target, opts))
	c.mem.delete(key)
	if c.disk != nil {
		c.disk.remove(key)
	}
}

// Clear empties both cache tiers.
func (c *Client) Clear() {
	c.mem.clear()
	if c.disk != nil {
		c.disk.clear()
	}
}

// normalizeRequest produces the canonical request string hashed into
// the cache key, covering every option that affects the bytes.
func normalizeRequest(target string, opts Options) string {
	variant := "variants"
	if opts.NoVariants {
		variant = "plain"
	}
	return strings.TrimSpace(target) + "|" + variant
}

func cachedResult(target string, ent *entry) *Result {
	return &Result{
		Bytes:       ent.Bytes,
		URL:         target,
		PlainURL:    target,
		ContentType: ent.ContentType,
		ExactType:   ent.ExactType,
		FromCache:   true,
	}
}

// acquire performs the actual read: filesystem for local paths, HTTP
// with variant probing and retry for URLs.
func (c *Client) acquire(ctx context.Context, target string, opts Options) (*Result, error) {
	if !strings.Contains(target, "://") {
		return c.acquireFile(target, opts)
	}
	return c.acquireHTTP(ctx, target, opts)
}

func (c *Client) acquireFile(path string, opts Options) (*Result, error) {
	if !opts.NoVariants {
		for _, v := range variants {
			data, err := os.ReadFile(path + v.Suffix)
			if err != nil {
				continue
			}
			plain, err := decompress(v.Name, data)
			if err != nil {
				return nil, errors.Wrap(errors.PhaseFetch, errors.KindInvalidInput, err,
					fmt.Sprintf("decompress %s variant", v.Name))
			}
			return &Result{Bytes: plain, URL: path + v.Suffix, PlainURL: path, Variant: v.Name}, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Acquisition(path, 1, []string{path}, err)
	}
	return &Result{Bytes: data, URL: path, PlainURL: path}, nil
}

func (c *Client) acquireHTTP(ctx context.Context, url string, opts Options) (*Result, error) {
	if !opts.NoVariants {
		for _, v := range variants {
			body, _, err := c.getWithRetry(ctx, url+v.Suffix)
			if err != nil {
				if isNotFound(err) {
					continue
				}
				return nil, err
			}
			plain, derr := decompress(v.Name, body)
			if derr != nil {
				// A corrupt companion is a format error, never retried;
				// fall back to the uncompressed artifact.
				Logger().Warn("compressed variant corrupt, falling back",
					zap.String("url", url+v.Suffix), zap.Error(derr))
				break
			}
			Logger().Debug("compressed variant hit",
				zap.String("url", url+v.Suffix), zap.String("algorithm", v.Name))
			return &Result{Bytes: plain, URL: url + v.Suffix, PlainURL: url, Variant: v.Name}, nil
		}
	}

	body, contentType, err := c.getWithRetry(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Result{
		Bytes:       body,
		URL:         url,
		PlainURL:    url,
		ContentType: contentType,
		ExactType:   contentType == wasmContentType,
	}, nil
}

// notFoundError marks an HTTP 404: permanent for this URL but the
// caller may try the next candidate.
type notFoundError struct{ url string }

func (e *notFoundError) Error() string { return "not found: " + e.url }

func isNotFound(err error) bool {
	var nf *notFoundError
	if stderrors.As(err, &nf) {
		return true
	}
	var le *errors.Error
	if stderrors.As(err, &le) && le.Cause != nil {
		return stderrors.As(le.Cause, &nf)
	}
	return false
}

// transientError marks a failure worth retrying: transport errors,
// HTTP 429, and HTTP 5xx.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// getWithRetry performs a GET with bounded exponential backoff.
// Non-network failures (4xx other than 429, decode errors upstream)
// are never retried.
func (c *Client) getWithRetry(ctx context.Context, url string) ([]byte, string, error) {
	attempts := c.cfg.Retries + 1

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.RetryDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(backoff):
			}
			Logger().Warn("retrying fetch",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
		}

		body, contentType, err := c.getOnce(ctx, url)
		if err == nil {
			return body, contentType, nil
		}
		lastErr = err

		var te *transientError
		if !stderrors.As(err, &te) {
			return nil, "", errors.Acquisition(url, attempt+1, []string{url}, err)
		}
	}

	return nil, "", errors.Acquisition(url, attempts, []string{url}, lastErr)
}

func (c *Client) getOnce(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", &transientError{err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, "", &transientError{err: err}
		}
		return body, resp.Header.Get("Content-Type"), nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, "", &notFoundError{url: url}

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, "", &transientError{err: fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)}

	default:
		return nil, "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}
}
