// Package source classifies module references and resolves them into
// concrete fetch targets.
//
// A reference is classified by structural shape alone: path separators or a
// .wasm extension mean a local path, an absolute URL means a network URL
// (known repository-host URL patterns are folded into repository
// references), and the two-segment owner/repo shape means a repository
// reference. Classification never touches the network; malformed references
// fail immediately with a source_format error.
//
// Repository references support branch (#branch) and tag (@tag) suffixes,
// with tag taking precedence. When neither is given, the default branch is
// discovered through the repository metadata API. Candidate artifact URLs
// are produced in priority order: an explicit filename first, then
// conventional filenames across conventional subdirectories.
package source
