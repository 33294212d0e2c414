// Package wasmloader turns references to compiled WebAssembly modules
// into safely callable, isolated instances inside one shared host
// process.
//
// A module is an opaque wasm binary that exposes a readiness condition
// and a set of host-callable functions. The loader resolves where the
// binary lives, acquires and verifies its bytes, instantiates it on
// wazero, waits for it to become ready, and keeps its published
// functions out of every other module's way.
//
// # Architecture Overview
//
// The library is organized into packages along the load pipeline:
//
//	wasmloader/          Root package documentation
//	├── loader/          Orchestrator, module registry, lifecycle events
//	├── source/          Source classification and candidate URL resolution
//	├── fetch/           Byte acquisition: retry, compressed variants, two-tier cache
//	├── integrity/       Digest verification of acquired bytes
//	├── metadata/        Companion descriptor retrieval and parsing
//	├── shim/            Version-pinned runtime shim management
//	├── engine/          wazero compilation, instantiation, host bindings
//	├── namespace/       Global scope, per-module buckets, isolation strategies
//	├── ready/           Readiness synchronization with probe fallback
//	├── bridge/          Per-module call facade, buffers, callbacks, cleanup
//	├── config/          Optional YAML file configuration
//	└── errors/          Structured error types for the whole pipeline
//
// # Quick Start
//
// Load a module from a repository reference and call it:
//
//	l, err := loader.New(ctx, loader.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Close(ctx)
//
//	b, err := l.Load(ctx, "acme/mathmod", loader.Options{ID: "math"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := b.Call(ctx, "add", 2, 3)
//	fmt.Println(result) // 5
//
// # Isolation
//
// Modules publish functions into a shared global scope. The default
// diff strategy relocates each module's new function-valued keys into
// a per-module bucket once the module is ready; the opt-in virtual
// strategy hands the module an intercepting scope so its functions
// never touch the shared scope at all. Either way, two modules with
// same-named functions never observe or overwrite each other.
//
// # Thread Safety
//
// Loader, Bridge, and the namespace registries are safe for
// concurrent use. Concurrent loads of the same module id coalesce
// into a single load.
package wasmloader
