// Package loader orchestrates the load pipeline and owns the
// registry of live modules.
//
// Load resolves a source reference, acquires and verifies the module
// bytes, retrieves the companion descriptor, ensures the runtime
// shim, instantiates the module, waits for readiness, applies the
// configured isolation strategy, and hands back a per-module bridge.
// Loads are idempotent per module id, and concurrent loads of one id
// coalesce into a single in-flight load. Lifecycle events are
// published to subscribers.
package loader
