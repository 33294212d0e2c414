// Package engine compiles and instantiates WebAssembly modules on
// wazero and exposes the host side of the guest contract.
//
// An Engine owns one wazero runtime shared by all instances. It
// installs a host binding module under the "wasm_loader" namespace
// through which guests publish callables into their scope, signal
// readiness, and log. WASI preview 1 is available to guests unless
// disabled.
//
// Instantiation defers the guest entry point: Instance.Start runs it
// on its own goroutine so a long-lived entry (an event loop, a
// blocking main) cannot stall the load pipeline. Readiness and entry
// completion are observable as channels.
package engine
