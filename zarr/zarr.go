package zarr

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
)

type Array struct {
	path  Path
	store Store
	meta  *ArrayMeta
}

type PersistenceMode string

const (
	// Persistence mode:
	// ‘r’ means read only (must exist);
	ModeRead PersistenceMode = "r"
	// ‘w’ means create (overwrite if exists)
	ModeWrite PersistenceMode = "w"
	// ‘w-’ means create (fail if exists).
	ModeWriteFail PersistenceMode = "w-"
)

// ErrExists is returned when creating an array in ModeWriteFail over an
// existing one.
var ErrExists = errors.New("already exists")

// Create writes the array metadata for m at path and returns the array.
func Create(ctx context.Context, store Store, path string, m *ArrayMeta, mode PersistenceMode) (*Array, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("zarr: creating %s: %w", path, err)
	}
	p := NewPath(path)
	mp := p.Join(string(MTArray)).String()

	switch mode {
	case ModeWrite:
	case ModeWriteFail:
		if _, err := store.Size(ctx, mp); err == nil {
			return nil, fmt.Errorf("zarr: %w: %s", ErrExists, path)
		} else if !errors.Is(err, ErrNotfound) {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("zarr: cannot create %s in mode %q", path, mode)
	}

	if m.ZarrFormat == 0 {
		m.ZarrFormat = Version
	}
	if m.Order == "" {
		m.Order = "C"
	}
	if err := putJSON(ctx, store, mp, m); err != nil {
		return nil, err
	}
	return &Array{path: p, store: store, meta: m}, nil
}

// Open reads the array metadata stored at path.
func Open(ctx context.Context, store Store, path string) (*Array, error) {
	p := NewPath(path)
	m := &ArrayMeta{}
	if err := getJSON(ctx, store, p.Join(string(MTArray)).String(), m); err != nil {
		return nil, err
	}
	return OpenWithMeta(store, path, m)
}

// OpenWithMeta opens the array at path using already loaded metadata, such
// as an entry of a group's consolidated metadata.
func OpenWithMeta(store Store, path string, m *ArrayMeta) (*Array, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("zarr: opening %s: %w", path, err)
	}
	return &Array{path: NewPath(path), store: store, meta: m}, nil
}

func (a *Array) Info() string {
	return fmt.Sprintf("<zarr-go.Array %s shape=%v chunks=%v dtype=%s>", a.Path(), a.meta.Shape, a.meta.Chunks, a.meta.Dtype)
}

func (a *Array) Path() string { return a.path.String() }

func (a *Array) Meta() *ArrayMeta { return a.meta }

// WriteChunk encodes data, a slice of the array's element type holding one
// full chunk in C order, and stores it under the chunk key for coords.
func (a *Array) WriteChunk(ctx context.Context, coords []int, data interface{}) error {
	if err := a.checkCoords(coords); err != nil {
		return err
	}
	if n := reflect.ValueOf(data).Len(); n != a.meta.ChunkLen() {
		return fmt.Errorf("zarr: chunk %v of %s has %d elements, want %d", coords, a.Path(), n, a.meta.ChunkLen())
	}

	buf := &bytes.Buffer{}
	w, err := a.meta.Compressor.Compressor(buf)
	if err != nil {
		return err
	}
	if err := binary.Write(w, a.meta.Dtype.Order(), data); err != nil {
		return fmt.Errorf("zarr: encoding chunk %v: %w", coords, err)
	}
	if err := w.Close(); err != nil {
		return err
	}
	return a.store.Put(ctx, a.chunkPath(coords).String(), buf)
}

// ReadChunk returns the decoded chunk at coords as a slice of the array's
// element type.
func (a *Array) ReadChunk(ctx context.Context, coords []int) (interface{}, error) {
	if err := a.checkCoords(coords); err != nil {
		return nil, err
	}
	bo, fac, err := a.newValueFunc()
	if err != nil {
		return nil, err
	}
	f, err := a.openChunk(ctx, coords)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	v := fac(a.meta.ChunkLen())
	if err := binary.Read(f, bo, v); err != nil {
		return nil, fmt.Errorf("zarr: decoding chunk %v of %s: %w", coords, a.Path(), err)
	}
	return v, nil
}

// Slice reads the rows [start, stop) along the first dimension. The array
// must be chunked along the first dimension only.
func (a *Array) Slice(ctx context.Context, start, stop int) (interface{}, error) {
	m := a.meta
	for i := 1; i < len(m.Shape); i++ {
		if m.Chunks[i] != m.Shape[i] {
			return nil, fmt.Errorf("zarr: %s is chunked along dimension %d", a.Path(), i)
		}
	}
	if start < 0 || stop > m.Shape[0] || start > stop {
		return nil, fmt.Errorf("zarr: slice [%d, %d) out of range for %s", start, stop, a.Info())
	}

	rowLen := 1
	for _, s := range m.Shape[1:] {
		rowLen *= s
	}
	_, fac, err := a.newValueFunc()
	if err != nil {
		return nil, err
	}
	out := reflect.ValueOf(fac((stop - start) * rowLen))

	coords := make([]int, len(m.Shape))
	for _, p := range projectDim(start, stop, m.Chunks[0]) {
		coords[0] = p.DimChunkIX
		v, err := a.ReadChunk(ctx, coords)
		if err != nil {
			return nil, err
		}
		src := reflect.ValueOf(v).Slice(p.DimChunkSel[0]*rowLen, p.DimChunkSel[1]*rowLen)
		reflect.Copy(out.Slice(p.DimOutSel[0]*rowLen, p.DimOutSel[1]*rowLen), src)
	}
	return out.Interface(), nil
}

func (a *Array) checkCoords(coords []int) error {
	n := a.meta.NumChunks()
	if len(coords) != len(n) {
		return fmt.Errorf("zarr: chunk %v has wrong rank for %s", coords, a.Info())
	}
	for i, c := range coords {
		if c < 0 || c >= n[i] {
			return fmt.Errorf("zarr: chunk %v out of range for %s", coords, a.Info())
		}
	}
	return nil
}

func (a *Array) newValueFunc() (binary.ByteOrder, func(int) interface{}, error) {
	dt := a.meta.Dtype
	order := dt.Order()

	var factory func(int) interface{}
	switch dt.BasicType {
	case BTBoolean:
		factory = func(n int) interface{} { return make([]bool, n) }
	case BTInteger:
		switch dt.ByteSize {
		case 1:
			factory = func(n int) interface{} { return make([]int8, n) }
		case 2:
			factory = func(n int) interface{} { return make([]int16, n) }
		case 4:
			factory = func(n int) interface{} { return make([]int32, n) }
		case 8:
			factory = func(n int) interface{} { return make([]int64, n) }
		}
	case BTUnsigned:
		switch dt.ByteSize {
		case 1:
			factory = func(n int) interface{} { return make([]uint8, n) }
		case 2:
			factory = func(n int) interface{} { return make([]uint16, n) }
		case 4:
			factory = func(n int) interface{} { return make([]uint32, n) }
		case 8:
			factory = func(n int) interface{} { return make([]uint64, n) }
		}
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4:
			factory = func(n int) interface{} { return make([]float32, n) }
		case 8:
			factory = func(n int) interface{} { return make([]float64, n) }
		}
	case BTComplex:
		switch dt.ByteSize {
		case 8:
			factory = func(n int) interface{} { return make([]complex64, n) }
		case 16:
			factory = func(n int) interface{} { return make([]complex128, n) }
		}
	}
	if factory == nil {
		return nil, nil, fmt.Errorf("zarr: unsupported decoding type %s", dt)
	}

	return order, factory, nil
}

func (a *Array) openChunk(ctx context.Context, coords []int) (io.ReadCloser, error) {
	f, err := a.store.Get(ctx, a.chunkPath(coords).String())
	if err != nil || a.meta.Compressor == nil {
		return f, err
	}
	d, err := a.meta.Compressor.Decompressor(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return chunkReader{ReadCloser: d, raw: f}, nil
}

// chunkReader closes both the decompressor and the stored value beneath it.
type chunkReader struct {
	io.ReadCloser
	raw io.Closer
}

func (r chunkReader) Close() error {
	err := r.ReadCloser.Close()
	if rerr := r.raw.Close(); err == nil {
		err = rerr
	}
	return err
}

func (a *Array) chunkPath(coords []int) Path {
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = fmt.Sprintf("%d", c)
	}
	return a.path.Join(strings.Join(parts, a.meta.separator()))
}

// CreateGroup marks path as a group and stores its user attributes.
func CreateGroup(ctx context.Context, store Store, path string, attrs Attributes) error {
	p := NewPath(path)
	if err := putJSON(ctx, store, p.Join(string(MTGroup)).String(), Group{ZarrFormat: Version}); err != nil {
		return err
	}
	if attrs == nil {
		return nil
	}
	return putJSON(ctx, store, p.Join(string(MTAttributes)).String(), attrs)
}

// Consolidate gathers every metadata document below path into a single
// “.zmetadata” value at path.
func Consolidate(ctx context.Context, store Store, path string) error {
	p := NewPath(path)
	prefix := ""
	if len(p) > 0 {
		prefix = p.String() + "/"
	}
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return err
	}
	cm := ConsolidatedMetadata{ConsolidatedFormat: 1, Metadata: map[string]MetaTyper{}}
	for _, k := range keys {
		rel := strings.TrimPrefix(k, prefix)
		mt, ok := KeyMetaType(rel)
		if !ok {
			continue
		}
		switch mt {
		case MTArray:
			m := &ArrayMeta{}
			if err := getJSON(ctx, store, k, m); err != nil {
				return err
			}
			cm.Metadata[rel] = m
		case MTAttributes:
			attrs := Attributes{}
			if err := getJSON(ctx, store, k, &attrs); err != nil {
				return err
			}
			cm.Metadata[rel] = attrs
		case MTGroup:
			g := Group{}
			if err := getJSON(ctx, store, k, &g); err != nil {
				return err
			}
			cm.Metadata[rel] = g
		}
	}
	return putJSON(ctx, store, p.Join(string(MTMetadata)).String(), cm)
}

// OpenConsolidated reads the “.zmetadata” value of the group at path.
func OpenConsolidated(ctx context.Context, store Store, path string) (*ConsolidatedMetadata, error) {
	cm := &ConsolidatedMetadata{}
	if err := getJSON(ctx, store, NewPath(path).Join(string(MTMetadata)).String(), cm); err != nil {
		return nil, err
	}
	return cm, nil
}

func putJSON(ctx context.Context, store Store, key string, v interface{}) error {
	d, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("zarr: encoding %s: %w", key, err)
	}
	return store.Put(ctx, key, bytes.NewReader(d))
}

func getJSON(ctx context.Context, store Store, key string, v interface{}) error {
	f, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("zarr: decoding %s: %w", key, err)
	}
	return nil
}

type Path []string

// NewPath normalizes a logical path the way the storage specification
// requires so keys are consistent across storage systems:
// * Replace all backward slash characters (”\”) with forward slash characters (“/”)
// * Strip any leading “/” characters
// * Strip any trailing “/” characters
// * Collapse any sequence of more than one “/” character into a single “/” character
func NewPath(posix string) Path {
	posix = strings.ReplaceAll(posix, "\\", "/")
	var p Path
	for _, s := range strings.Split(posix, "/") {
		if s != "" {
			p = append(p, s)
		}
	}
	return p
}

func (p Path) String() string {
	return strings.Join(p, "/")
}

func (p Path) Shift() (head string, ch Path) {
	switch len(p) {
	case 0:
		return "", nil
	case 1:
		return p[0], nil
	default:
		return p[0], p[1:]
	}
}

func (p Path) Join(elems ...string) Path {
	j := make(Path, 0, len(p)+len(elems))
	j = append(j, p...)
	return append(j, elems...)
}
