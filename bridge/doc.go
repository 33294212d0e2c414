// Package bridge is the per-module facade handed back by a load.
//
// A Bridge serves calls only in Ready state and resolves them in a
// fixed order: guest export, then the module's namespace bucket, then
// a bare global for modules predating namespacing. When a descriptor
// is available, calls are validated against it: a missing required
// argument fails the call, while excess arguments and type mismatches
// only log. CallAsync returns a deferred handle that unwraps nested
// deferreds on Await.
//
// Buffers marshal data across the host/guest boundary through the
// guest's exported allocator when it has one, with a host-side
// fallback behind the same handle. Cleanup is idempotent and releases
// callbacks, buffers, the namespace bucket, and the instance.
package bridge
