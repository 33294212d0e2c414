package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-loader/errors"
)

// Conventional artifact filenames, probed in priority order when the
// reference carries no explicit filename.
var conventionalFilenames = []string{"main.wasm", "module.wasm", "index.wasm"}

// Conventional subdirectories, probed in priority order when the
// reference carries no explicit path.
var conventionalDirs = []string{"", "dist", "build", "wasm"}

const (
	defaultAPIBase = "https://api.github.com"
	defaultRawBase = "https://raw.githubusercontent.com"

	// fallbackBranch is used when default-branch discovery itself
	// fails; the candidate URLs still get probed.
	fallbackBranch = "main"
)

// Resolver turns classified sources into concrete fetch targets.
// For repository references it discovers the default branch via the
// repository metadata API and builds candidate artifact URLs.
type Resolver struct {
	client  *http.Client
	apiBase string
	rawBase string
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithHTTPClient sets the HTTP client used for metadata queries
func WithHTTPClient(c *http.Client) ResolverOption {
	return func(r *Resolver) { r.client = c }
}

// WithAPIBase overrides the repository metadata API base URL
func WithAPIBase(base string) ResolverOption {
	return func(r *Resolver) { r.apiBase = base }
}

// WithRawBase overrides the raw artifact base URL
func WithRawBase(base string) ResolverOption {
	return func(r *Resolver) { r.rawBase = base }
}

// NewResolver creates a Resolver with production defaults
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		client:  &http.Client{Timeout: 10 * time.Second},
		apiBase: defaultAPIBase,
		rawBase: defaultRawBase,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Targets resolves a source into the ordered list of candidate
// artifact URLs (or the single local path / URL). For repository
// references without a branch or tag, the default branch is resolved
// first; a failed discovery falls back to "main" with a warning since
// the candidates may still resolve.
func (r *Resolver) Targets(ctx context.Context, src *Source) ([]string, error) {
	switch src.Kind {
	case KindLocalPath:
		return []string{src.Path}, nil
	case KindURL:
		return []string{src.URL}, nil
	case KindRepo:
		ref := src.Repo.Ref()
		if ref == "" {
			branch, err := r.DefaultBranch(ctx, src.Repo)
			if err != nil {
				Logger().Warn("default branch discovery failed, falling back",
					zap.String("repo", src.Repo.String()),
					zap.String("fallback", fallbackBranch),
					zap.Error(err))
				branch = fallbackBranch
			}
			ref = branch
		}
		return r.candidateURLs(src.Repo, ref), nil
	default:
		return nil, errors.SourceFormat(src.Raw, "unclassified source")
	}
}

// repoMetadata is the subset of the repository metadata API response
// the resolver consumes.
type repoMetadata struct {
	DefaultBranch string `json:"default_branch"`
}

// DefaultBranch queries the repository metadata API for the default
// branch name.
func (r *Resolver) DefaultBranch(ctx context.Context, ref *RepoRef) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s", r.apiBase, ref.Owner, ref.Repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("repository metadata query returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	var meta repoMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return "", fmt.Errorf("decode repository metadata: %w", err)
	}
	if meta.DefaultBranch == "" {
		return "", fmt.Errorf("repository metadata has no default branch")
	}

	Logger().Debug("resolved default branch",
		zap.String("repo", ref.String()),
		zap.String("branch", meta.DefaultBranch))
	return meta.DefaultBranch, nil
}

// candidateURLs builds artifact URLs in priority order: an explicit
// filename first, then conventional filenames across conventional
// subdirectories. The conventional list still follows an explicit
// filename so a stale reference can fall through to the defaults.
func (r *Resolver) candidateURLs(ref *RepoRef, branch string) []string {
	base := fmt.Sprintf("%s/%s/%s/%s", r.rawBase, ref.Owner, ref.Repo, branch)

	dirs := conventionalDirs
	if ref.Path != "" {
		dirs = []string{ref.Path}
	}

	var files []string
	if ref.Filename != "" {
		files = append(files, ref.Filename)
	}
	files = append(files, conventionalFilenames...)
	// The repository's own name is a common artifact name too.
	files = append(files, ref.Repo+".wasm")

	var urls []string
	seen := make(map[string]struct{})
	for _, dir := range dirs {
		for _, file := range files {
			u := base + "/" + path.Join(dir, file)
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
	}
	return urls
}
