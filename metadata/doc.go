// Package metadata retrieves and models the optional companion descriptor
// colocated with a module artifact.
//
// The descriptor documents the module's host-callable functions (names,
// parameters, return types, examples), groups them into categories, and
// carries loader directives: a custom readiness signal, an error convention,
// and a required runtime shim version. Every field is optional; a missing
// descriptor is a degraded mode, not a failure.
//
// Descriptors are cached per module id for the fetcher's lifetime and feed
// three consumers: bridge call validation, shim version auto-detection, and
// readiness-signal override.
package metadata
