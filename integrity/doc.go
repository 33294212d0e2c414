// Package integrity verifies acquired module bytes against a published
// digest reference.
//
// The reference format is "<algorithm>-<base64 digest>", colocated with the
// artifact under a fixed conventional suffix. Verification runs over the
// exact post-decompression bytes handed to the instantiator. Mismatches
// under a known algorithm abort the load with both digests and the source
// named in the error; unknown algorithms degrade to a warning so newer
// references stay forward-compatible with older loaders.
package integrity
