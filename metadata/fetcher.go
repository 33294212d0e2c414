package metadata

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-loader/errors"
	"github.com/wippyai/wasm-loader/fetch"
)

// descriptorFilename is the conventional standalone descriptor name
// probed next to the artifact after the artifact-derived name.
const descriptorFilename = "gowm.json"

// Fetcher retrieves companion descriptors and caches them per module
// id for its own lifetime. A not-found result is non-fatal: the
// module loads without a descriptor and validation and introspection
// degrade to unknown.
type Fetcher struct {
	client *fetch.Client
	mu     sync.RWMutex
	cache  map[string]*Descriptor
}

// NewFetcher creates a Fetcher on top of an acquisition client.
func NewFetcher(client *fetch.Client) *Fetcher {
	return &Fetcher{
		client: client,
		cache:  make(map[string]*Descriptor),
	}
}

// ForModule returns the descriptor for a module, fetching it from a
// location derived from the artifact URL on first use. The returned
// error is always of kind metadata_missing and safe to downgrade to
// a warning.
func (f *Fetcher) ForModule(ctx context.Context, moduleID, artifactURL string) (*Descriptor, error) {
	f.mu.RLock()
	if d, ok := f.cache[moduleID]; ok {
		f.mu.RUnlock()
		return d, nil
	}
	f.mu.RUnlock()

	var lastErr error
	for _, candidate := range Candidates(artifactURL) {
		res, err := f.client.Fetch(ctx, candidate, fetch.Options{NoVariants: true})
		if err != nil {
			lastErr = err
			continue
		}
		d, err := Parse(res.Bytes)
		if err != nil {
			Logger().Warn("descriptor unparsable, ignoring",
				zap.String("module", moduleID),
				zap.String("url", candidate),
				zap.Error(err))
			lastErr = err
			continue
		}

		f.mu.Lock()
		f.cache[moduleID] = d
		f.mu.Unlock()

		Logger().Debug("descriptor loaded",
			zap.String("module", moduleID),
			zap.String("url", candidate),
			zap.Int("functions", len(d.Functions)))
		return d, nil
	}

	return nil, errors.MetadataMissing(moduleID, lastErr)
}

// Forget drops the cached descriptor for a module id.
func (f *Fetcher) Forget(moduleID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cache, moduleID)
}

// Candidates derives descriptor locations from the artifact URL or
// path: the artifact name with .json substituted for .wasm, then the
// conventional standalone filename in the same directory.
func Candidates(artifactURL string) []string {
	var out []string

	if strings.HasSuffix(artifactURL, ".wasm") {
		out = append(out, strings.TrimSuffix(artifactURL, ".wasm")+".json")
	}

	if idx := strings.LastIndex(artifactURL, "/"); idx >= 0 {
		out = append(out, artifactURL[:idx+1]+descriptorFilename)
	} else {
		out = append(out, descriptorFilename)
	}

	return out
}
