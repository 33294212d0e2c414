// Package shim manages the versioned host-side support code modules need
// to execute.
//
// A module compiled from a higher-level systems language depends on a
// runtime shim matched to its compiler version. When a load pins a version
// (explicitly or through the descriptor's requiredRuntimeVersion), the
// manager downloads that version from the canonical source and caches it
// per-version, on disk and in memory, for reuse. Without a pin the builtin
// default shim is handed out lazily.
//
// A failed pinned download is non-fatal: the manager falls back to the
// default shim with a warning, since the module may remain ABI-compatible.
package shim
