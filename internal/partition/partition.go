// Package partition splits a sorted file set into contiguous slices, one per
// independent worker.
package partition

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/JGCRI/stayinalive/zarr"
)

// ErrWorker is returned for worker parameters that cannot describe a
// partition.
var ErrWorker = errors.New("invalid worker parameters")

// Assign returns the range [start, end) of a list of total items owned by
// worker index out of workers. Workers past the end of the list, including
// indices of workers or more, receive an empty range.
func Assign(total, index, workers int) (start, end int, err error) {
	if workers < 1 {
		return 0, 0, fmt.Errorf("%w: worker count %d", ErrWorker, workers)
	}
	if index < 0 {
		return 0, 0, fmt.Errorf("%w: worker index %d", ErrWorker, index)
	}
	if total < 0 {
		return 0, 0, fmt.Errorf("%w: total %d", ErrWorker, total)
	}
	size := (total + workers - 1) / workers
	start = index * size
	if start >= total {
		return total, total, nil
	}
	end = start + size
	if end > total {
		end = total
	}
	return start, end, nil
}

// Match lists the keys directly below prefix whose name matches the glob
// pattern, sorted lexicographically. Keys in nested directories are ignored.
func Match(ctx context.Context, store zarr.Store, prefix, pattern string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("partition: pattern %q: %w", pattern, err)
	}
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("partition: listing %q: %w", prefix, err)
	}
	var matched []string
	for _, k := range keys {
		if strings.Contains(strings.TrimPrefix(k, prefix), "/") {
			continue
		}
		if ok, _ := path.Match(pattern, path.Base(k)); ok {
			matched = append(matched, k)
		}
	}
	sort.Strings(matched)
	return matched, nil
}

// Files returns the slice of matching keys owned by worker index.
func Files(ctx context.Context, store zarr.Store, prefix, pattern string, index, workers int) ([]string, error) {
	keys, err := Match(ctx, store, prefix, pattern)
	if err != nil {
		return nil, err
	}
	start, end, err := Assign(len(keys), index, workers)
	if err != nil {
		return nil, fmt.Errorf("partition: %w", err)
	}
	return keys[start:end], nil
}
