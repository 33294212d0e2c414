package fetch

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Key is a 32-byte BLAKE3 digest addressing one cache entry. The key
// is computed over the fully normalized request, so equivalent
// requests share one entry across both cache tiers.
type Key [32]byte

// cacheDomainKey is the BLAKE3 keyed-hash domain for cache keys.
// Domain separation keeps cache keys from colliding with any other
// BLAKE3 use of the same input bytes. The value is the ASCII domain
// name zero-padded to 32 bytes so it stays readable in hex dumps.
var cacheDomainKey = [32]byte{
	'w', 'a', 's', 'm', '-', 'l', 'o', 'a', 'd', 'e', 'r', '.',
	'f', 'e', 't', 'c', 'h', '.', 'c', 'a', 'c', 'h', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// CacheKey computes the cache key for a normalized request string.
func CacheKey(normalized string) Key {
	hasher, err := blake3.NewKeyed(cacheDomainKey[:])
	if err != nil {
		panic("fetch: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(normalized))

	var key Key
	_, _ = hasher.Digest().Read(key[:])
	return key
}

// Hex returns the lowercase hex form of the key, used as the disk
// tier's object filename.
func (k Key) Hex() string {
	return hex.EncodeToString(k[:])
}
