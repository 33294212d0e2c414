// Package fetch acquires module bytes with retry, compressed-variant
// negotiation, and a two-tier cache.
//
// Tier-1 is a bounded in-process map with LRU eviction; tier-2 is a
// persistent content-addressed store that survives process restarts,
// consulted only on a tier-1 miss and used to repopulate it. Entries expire
// by TTL: an expired read is a miss and is purged lazily. The cache key is a
// keyed BLAKE3 hash of the fully normalized request, so equivalent requests
// share one entry.
//
// Network failures retry with exponential backoff (delay doubling per
// attempt from a configurable base); HTTP 404 and other non-network errors
// are never retried. Before the primary artifact is fetched, compressed
// companions are probed under fixed suffixes (most-compressed first:
// .zst, .br, .gz, .lz4) and inflated with the algorithm the suffix implies.
//
// Each Result records whether the transport declared application/wasm
// exactly; the instantiator only chooses streaming compilation when it did.
package fetch
