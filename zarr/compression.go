package zarr

import (
	"fmt"
	"io"

	"github.com/qri-io/dataset/compression"
)

// CompressionMeta defines compression settings zarr-go understands
type CompressionMeta struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
}

// codec ids as written by numcodecs, mapped to qri-io/dataset format names
var compressionFormats = map[string]string{
	"zstd": "zst",
	"gzip": "gzip",
}

// NewCompressionMeta returns the compressor configuration for name. "none"
// and the empty string select no compression and return nil.
func NewCompressionMeta(name string) (*CompressionMeta, error) {
	switch name {
	case "", "none":
		return nil, nil
	}
	if _, ok := compressionFormats[name]; !ok {
		return nil, fmt.Errorf("unsupported compressor %q", name)
	}
	return &CompressionMeta{ID: name, Level: 1}, nil
}

func (m *CompressionMeta) format() (string, error) {
	f, ok := compressionFormats[m.ID]
	if !ok {
		return "", fmt.Errorf("unsupported compressor %q", m.ID)
	}
	return f, nil
}

// Compressor wraps w. A nil receiver writes uncompressed. Callers must Close
// the returned writer to flush it.
func (m *CompressionMeta) Compressor(w io.Writer) (io.WriteCloser, error) {
	if m == nil {
		return nopWriteCloser{w}, nil
	}
	f, err := m.format()
	if err != nil {
		return nil, err
	}
	return compression.Compressor(f, w)
}

// Decompressor wraps r. A nil receiver reads r unchanged.
func (m *CompressionMeta) Decompressor(r io.ReadCloser) (io.ReadCloser, error) {
	if m == nil {
		return r, nil
	}
	f, err := m.format()
	if err != nil {
		return nil, err
	}
	return compression.Decompressor(f, r)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
