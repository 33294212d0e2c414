// Package ready synchronizes loads with module initialization.
//
// The preferred readiness source is the explicit callback a module
// invokes through the host bindings, surfaced as a closing channel.
// Modules that never call it are covered by polling probes: scope
// readiness flags, descriptor-configured custom signals, well-known
// published names, and entry-point completion. A bounded timeout
// fails only the waiting load.
package ready
