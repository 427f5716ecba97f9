package zarr

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// buckets
	_ "gocloud.dev/blob/gcsblob"  // gs:// buckets
	_ "gocloud.dev/blob/memblob"  // mem:// buckets
	_ "gocloud.dev/blob/s3blob"   // s3:// buckets
	"gocloud.dev/gcerrors"
)

// BlobStore adapts a Go CDK bucket to the Store interface.
type BlobStore struct {
	bucket *blob.Bucket
	url    string
}

var _ Store = (*BlobStore)(nil)

func NewBlobStore(bucket *blob.Bucket, url string) *BlobStore {
	return &BlobStore{bucket: bucket, url: url}
}

// OpenStore opens the store at location. A location with a URL scheme
// ("file://", "mem://", "s3://", "gs://") is opened as a blob bucket,
// anything else is treated as a local directory.
func OpenStore(ctx context.Context, location string) (Store, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// single-letter schemes are windows drive letters
		return NewLocalStore(location)
	}
	b, err := blob.OpenBucket(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("zarr: opening bucket %s: %w", location, err)
	}
	return NewBlobStore(b, location), nil
}

func (s *BlobStore) Type() string { return BlobStoreType }

func (s *BlobStore) String() string { return s.url }

func (s *BlobStore) Close() error { return s.bucket.Close() }

func (s *BlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, blobErr(key, err)
	}
	return r, nil
}

func (s *BlobStore) GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	r, err := s.bucket.NewRangeReader(ctx, key, offset, length, nil)
	if err != nil {
		return nil, blobErr(key, err)
	}
	return r, nil
}

// Put streams val into a new blob. The write is abandoned, leaving any
// previous value in place, if copying fails.
func (s *BlobStore) Put(ctx context.Context, key string, val io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return blobErr(key, err)
	}
	if _, err := io.Copy(w, val); err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("zarr: writing blob %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("zarr: writing blob %s: %w", key, err)
	}
	return nil
}

func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	var keys []string
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("zarr: listing %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *BlobStore) Size(ctx context.Context, key string) (int64, error) {
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		return 0, blobErr(key, err)
	}
	return attrs.Size, nil
}

func blobErr(key string, err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	return fmt.Errorf("zarr: blob %s: %w", key, err)
}
