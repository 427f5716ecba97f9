package archive

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"

	"github.com/JGCRI/stayinalive/zarr"
)

// GobCodec stores an archive as a single gob-encoded value.
type GobCodec struct{}

func (GobCodec) Name() string { return CodecGob }
func (GobCodec) Ext() string  { return ".gob" }

func (c GobCodec) Write(ctx context.Context, store zarr.Store, a *Archive) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	key := a.Key.Name() + c.Ext()
	buf := &bytes.Buffer{}
	if err := gob.NewEncoder(buf).Encode(a); err != nil {
		return "", fmt.Errorf("archive: encoding %s: %w", key, err)
	}
	if err := store.Put(ctx, key, buf); err != nil {
		return "", fmt.Errorf("archive: storing %s: %w", key, err)
	}
	return key, nil
}

func (GobCodec) Read(ctx context.Context, store zarr.Store, key string) (*Archive, error) {
	f, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("archive: opening %s: %w", key, err)
	}
	defer f.Close()
	a := &Archive{}
	if err := gob.NewDecoder(f).Decode(a); err != nil {
		return nil, fmt.Errorf("archive: decoding %s: %w", key, err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("archive: %s: %w", key, err)
	}
	return a, nil
}
