package fetch

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Variant is a compressed companion convention: an algorithm-specific
// suffix appended to the artifact URL. Variants are probed in fixed
// priority order, most-compressed first; a hit is decompressed with
// the algorithm implied by the suffix.
type Variant struct {
	Suffix string
	Name   string
}

// variants is the fixed probe order.
var variants = []Variant{
	{Suffix: ".zst", Name: "zstd"},
	{Suffix: ".br", Name: "brotli"},
	{Suffix: ".gz", Name: "gzip"},
	{Suffix: ".lz4", Name: "lz4"},
}

// decompress inflates data according to the variant name.
func decompress(name string, data []byte) ([]byte, error) {
	switch name {
	case "zstd":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd init: %w", err)
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)

	case "brotli":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))

	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip init: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)

	case "lz4":
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))

	default:
		return nil, fmt.Errorf("unknown compression variant %q", name)
	}
}
