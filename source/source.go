package source

import (
	"regexp"
	"strings"

	"github.com/wippyai/wasm-loader/errors"
)

// Kind classifies a module source reference
type Kind int

const (
	KindLocalPath Kind = iota
	KindURL
	KindRepo
)

func (k Kind) String() string {
	switch k {
	case KindLocalPath:
		return "local"
	case KindURL:
		return "url"
	case KindRepo:
		return "repo"
	default:
		return "unknown"
	}
}

// Source is a classified module reference. Exactly one of Path, URL,
// or Repo is populated, selected by Kind.
type Source struct {
	Repo *RepoRef
	Raw  string
	Path string
	URL  string
	Kind Kind
}

// RepoRef identifies a module artifact inside a hosted repository.
// Tag takes precedence over Branch when both are set; when neither is
// set the default branch is discovered via the repository metadata API.
type RepoRef struct {
	Owner    string
	Repo     string
	Branch   string
	Tag      string
	Path     string
	Filename string
}

// Ref returns the effective ref: tag over branch, empty when neither
// is set and the default branch must be discovered.
func (r *RepoRef) Ref() string {
	if r.Tag != "" {
		return r.Tag
	}
	return r.Branch
}

func (r *RepoRef) String() string {
	return r.Owner + "/" + r.Repo
}

var repoPartPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Parse classifies a raw reference by structural shape. Malformed
// references fail here, before any network access.
func Parse(raw string) (*Source, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.SourceFormat(raw, "empty source reference")
	}

	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		if repo, ok := repoFromURL(trimmed); ok {
			return &Source{Kind: KindRepo, Raw: raw, Repo: repo}, nil
		}
		return &Source{Kind: KindURL, Raw: raw, URL: trimmed}, nil
	}

	// Path shapes: explicit relative/absolute prefixes, separators
	// beyond owner/repo depth, or a .wasm extension.
	if strings.HasPrefix(trimmed, "./") || strings.HasPrefix(trimmed, "../") ||
		strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, "~") ||
		strings.HasSuffix(trimmed, ".wasm") || strings.Count(trimmed, "/") > 1 ||
		strings.ContainsRune(trimmed, '\\') {
		return &Source{Kind: KindLocalPath, Raw: raw, Path: trimmed}, nil
	}

	// owner/repo shape
	if parts := strings.Split(trimmed, "/"); len(parts) == 2 {
		owner, repo := parts[0], parts[1]
		var branch, tag string
		if at := strings.LastIndex(repo, "@"); at > 0 {
			tag = repo[at+1:]
			repo = repo[:at]
		} else if hash := strings.LastIndex(repo, "#"); hash > 0 {
			branch = repo[hash+1:]
			repo = repo[:hash]
		}
		if !repoPartPattern.MatchString(owner) || !repoPartPattern.MatchString(repo) {
			return nil, errors.SourceFormat(raw, "repository reference must be owner/repo")
		}
		return &Source{
			Kind: KindRepo,
			Raw:  raw,
			Repo: &RepoRef{Owner: owner, Repo: repo, Branch: branch, Tag: tag},
		}, nil
	}

	return nil, errors.SourceFormat(raw, "not a path, URL, or owner/repo reference")
}

// repoFromURL recognizes hosted-repository URL patterns like
// https://github.com/owner/repo and https://github.com/owner/repo/tree/branch.
func repoFromURL(u string) (*RepoRef, bool) {
	rest, ok := strings.CutPrefix(u, "https://github.com/")
	if !ok {
		rest, ok = strings.CutPrefix(u, "http://github.com/")
	}
	if !ok {
		return nil, false
	}

	rest = strings.TrimSuffix(rest, "/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, false
	}

	ref := &RepoRef{Owner: parts[0], Repo: strings.TrimSuffix(parts[1], ".git")}
	if !repoPartPattern.MatchString(ref.Owner) || !repoPartPattern.MatchString(ref.Repo) {
		return nil, false
	}

	if len(parts) >= 4 && parts[2] == "tree" {
		ref.Branch = parts[3]
		if len(parts) > 4 {
			ref.Path = strings.Join(parts[4:], "/")
		}
	}
	return ref, true
}
