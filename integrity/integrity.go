package integrity

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-loader/errors"
)

// ReferenceSuffix is the conventional suffix under which a published
// integrity reference is colocated with its artifact.
const ReferenceSuffix = ".integrity"

// Reference is a parsed integrity string "<algorithm>-<base64 digest>".
type Reference struct {
	Algorithm string
	Digest    string // base64, as published
}

// Parse splits an integrity string into algorithm and digest.
func Parse(raw string) (*Reference, error) {
	trimmed := strings.TrimSpace(raw)
	algorithm, digest, found := strings.Cut(trimmed, "-")
	if !found || algorithm == "" || digest == "" {
		return nil, errors.InvalidInput(errors.PhaseIntegrity,
			fmt.Sprintf("malformed integrity reference %q, want <algorithm>-<base64>", trimmed))
	}
	return &Reference{Algorithm: algorithm, Digest: digest}, nil
}

func (r *Reference) String() string {
	return r.Algorithm + "-" + r.Digest
}

// Compute produces the integrity string for data under the given
// algorithm, or an error for unknown algorithms.
func Compute(algorithm string, data []byte) (string, error) {
	var sum []byte
	switch algorithm {
	case "sha256":
		h := sha256.Sum256(data)
		sum = h[:]
	case "sha384":
		h := sha512.Sum384(data)
		sum = h[:]
	case "sha512":
		h := sha512.Sum512(data)
		sum = h[:]
	default:
		return "", fmt.Errorf("unknown digest algorithm %q", algorithm)
	}
	return algorithm + "-" + base64.StdEncoding.EncodeToString(sum), nil
}

// Verify checks data against a published reference. The digest is
// computed over the exact post-decompression bytes used for
// instantiation. A known-algorithm mismatch is always fatal and never
// silently bypassed; an unknown algorithm degrades to a warning so
// future algorithms do not break existing loaders.
func Verify(source string, data []byte, expected string) error {
	ref, err := Parse(expected)
	if err != nil {
		return err
	}

	actual, err := Compute(ref.Algorithm, data)
	if err != nil {
		Logger().Warn("unknown integrity algorithm, skipping verification",
			zap.String("source", source),
			zap.String("algorithm", ref.Algorithm))
		return nil
	}

	if actual != ref.String() {
		return errors.IntegrityMismatch(source, ref.String(), actual)
	}
	return nil
}
