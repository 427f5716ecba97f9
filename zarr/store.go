package zarr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	MemoryStoreType   = "MemoryStore"
	LocalStoreType    = "LocalStore"
	BlobStoreType     = "BlobStore"
	dirPermissionBits = 0755
)

var ErrNotfound = errors.New("not found")

// Store is a flat key/value space of byte blobs. Keys use "/" as the path
// separator regardless of platform.
type Store interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// GetRange reads length bytes starting at offset. A negative length reads
	// to the end of the value.
	GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
	Put(ctx context.Context, key string, val io.Reader) error
	// List returns every key beginning with prefix, sorted lexicographically.
	List(ctx context.Context, prefix string) ([]string, error)
	Size(ctx context.Context, key string) (int64, error)
	Type() string
	Close() error
}

type MemoryStore struct {
	lk   sync.Mutex
	data map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: map[string][]byte{},
	}
}

func (s *MemoryStore) Type() string { return MemoryStoreType }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.GetRange(ctx, key, 0, -1)
}

func (s *MemoryStore) GetRange(_ context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	d, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	d, err := sliceRange(d, offset, length)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(d)), nil
}

func (s *MemoryStore) Put(_ context.Context, key string, val io.Reader) error {
	d, err := io.ReadAll(val)
	if err != nil {
		return err
	}

	s.lk.Lock()
	defer s.lk.Unlock()
	s.data[key] = d

	return nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Size(_ context.Context, key string) (int64, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	d, ok := s.data[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	return int64(len(d)), nil
}

func sliceRange(d []byte, offset, length int64) ([]byte, error) {
	if offset < 0 || offset > int64(len(d)) {
		return nil, fmt.Errorf("offset %d out of range [0, %d]", offset, len(d))
	}
	d = d[offset:]
	if length >= 0 && length < int64(len(d)) {
		d = d[:length]
	}
	return d, nil
}

// LocalStore keeps values as files below a base directory.
type LocalStore struct {
	base string
}

var _ Store = (*LocalStore)(nil)

func NewLocalStore(base string) (*LocalStore, error) {
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(base, dirPermissionBits); err != nil {
		return nil, err
	}

	return &LocalStore{
		base: base,
	}, nil
}

func (s *LocalStore) Type() string { return LocalStoreType }

func (s *LocalStore) Close() error { return nil }

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.base, filepath.FromSlash(key))
}

func (s *LocalStore) open(key string) (*os.File, error) {
	f, err := os.Open(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	return f, err
}

func (s *LocalStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	return s.open(key)
}

func (s *LocalStore) GetRange(_ context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	f, err := s.open(key)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if offset < 0 || offset > fi.Size() {
		f.Close()
		return nil, fmt.Errorf("%s: offset %d out of range [0, %d]", key, offset, fi.Size())
	}
	if length < 0 || offset+length > fi.Size() {
		length = fi.Size() - offset
	}
	return sectionReadCloser{io.NewSectionReader(f, offset, length), f}, nil
}

type sectionReadCloser struct {
	*io.SectionReader
	io.Closer
}

// Put writes val to a temporary file next to its destination and renames
// it into place, so readers never observe a partially written value.
func (s *LocalStore) Put(_ context.Context, key string, val io.Reader) error {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), dirPermissionBits); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if _, err := io.Copy(f, val); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(f.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.base, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *LocalStore) Size(_ context.Context, key string) (int64, error) {
	fi, err := os.Stat(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// OpenReaderAt returns the file backing key for random access.
func (s *LocalStore) OpenReaderAt(_ context.Context, key string) (ReaderAtCloser, int64, error) {
	f, err := s.open(key)
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// ReaderAtCloser is random access to a single stored value.
type ReaderAtCloser interface {
	io.ReaderAt
	io.Closer
}

// ReaderAtOpener is implemented by stores with a cheaper random-access path
// than one ranged Get per read.
type ReaderAtOpener interface {
	OpenReaderAt(ctx context.Context, key string) (ReaderAtCloser, int64, error)
}

// OpenReaderAt returns random access to the value at key along with its size.
func OpenReaderAt(ctx context.Context, s Store, key string) (ReaderAtCloser, int64, error) {
	if o, ok := s.(ReaderAtOpener); ok {
		return o.OpenReaderAt(ctx, key)
	}
	size, err := s.Size(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	return &rangeReaderAt{ctx: ctx, store: s, key: key, size: size}, size, nil
}

type rangeReaderAt struct {
	ctx   context.Context
	store Store
	key   string
	size  int64
}

func (r *rangeReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	rc, err := r.store.GetRange(r.ctx, r.key, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	n, err := io.ReadFull(rc, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

func (r *rangeReaderAt) Close() error { return nil }
