// Package namespace isolates each module's published callables from the
// shared global scope.
//
// Modules publish host-callable functions into one shared key space during
// their own initialization. Left alone, two modules publishing a function
// with the same name would silently overwrite each other. This package keeps
// them apart with per-module buckets resolved by (moduleID, name), using one
// of two interchangeable strategies:
//
//   - diff (default): snapshot the scope's keys before the module's entry
//     point starts, and after the readiness signal fires relocate every new
//     function-valued key into the module's bucket. Recognized internal and
//     readiness-signal keys (double-underscore prefix) remain global. There
//     is a brief exposure window during initialization before relocation
//     completes.
//
//   - virtual (opt-in): hand the module a VirtualScope standing in for the
//     shared scope. Every property write is intercepted; function-valued
//     writes go straight into the bucket and never touch the real scope.
//     No exposure window.
//
// The real shared scope is never mutated by this package except through the
// Scope interface, which acts as the thin compatibility adapter between the
// loader and whatever key space the host embeds it in.
package namespace
