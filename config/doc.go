// Package config holds the loader's optional YAML file configuration:
// cache tiers, retry policy, shim pinning, and per-load defaults.
// Every field is optional; absent values fall back to package
// defaults.
package config
