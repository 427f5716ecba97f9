package zarr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq16(n int) []int16 {
	v := make([]int16, n)
	for i := range v {
		v[i] = int16(i)
	}
	return v
}

func TestArrayRoundTrip(t *testing.T) {
	for _, comp := range []string{"none", "zstd", "gzip"} {
		t.Run(comp, func(t *testing.T) {
			ctx := context.Background()
			s := NewMemoryStore()
			cm, err := NewCompressionMeta(comp)
			require.NoError(t, err)

			// 5 rows of 2x3, chunked 2 rows at a time; the last chunk is padded
			a, err := Create(ctx, s, "foo/bar", &ArrayMeta{
				Shape:      []int{5, 2, 3},
				Chunks:     []int{2, 2, 3},
				Dtype:      Int16,
				Compressor: cm,
			}, ModeWrite)
			require.NoError(t, err)
			assert.Equal(t, []int{3, 1, 1}, a.Meta().NumChunks())

			all := seq16(5 * 6)
			for c := 0; c < 3; c++ {
				chunk := make([]int16, 12)
				copy(chunk, all[c*12:min(len(all), (c+1)*12)])
				require.NoError(t, a.WriteChunk(ctx, []int{c, 0, 0}, chunk))
			}

			b, err := Open(ctx, s, "foo/bar")
			require.NoError(t, err)
			assert.Equal(t, a.Meta().Shape, b.Meta().Shape)

			got, err := b.Slice(ctx, 0, 5)
			require.NoError(t, err)
			assert.Equal(t, all, got)

			got, err = b.Slice(ctx, 1, 4)
			require.NoError(t, err)
			assert.Equal(t, all[6:24], got)

			got, err = b.Slice(ctx, 3, 3)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestArrayChunkKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, err := Create(ctx, s, "/x//y/", &ArrayMeta{Shape: []int{4, 4}, Chunks: []int{2, 4}, Dtype: Int16}, ModeWrite)
	require.NoError(t, err)
	require.NoError(t, a.WriteChunk(ctx, []int{1, 0}, make([]int16, 8)))

	keys, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"x/y/.zarray", "x/y/1.0"}, keys)
}

func TestArrayErrors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	m := &ArrayMeta{Shape: []int{4, 4}, Chunks: []int{2, 4}, Dtype: Int16}
	a, err := Create(ctx, s, "a", m, ModeWrite)
	require.NoError(t, err)

	_, err = Create(ctx, s, "a", m, ModeWriteFail)
	assert.ErrorIs(t, err, ErrExists)

	_, err = Create(ctx, s, "b", &ArrayMeta{Shape: []int{4}, Chunks: []int{2, 2}, Dtype: Int16}, ModeWrite)
	assert.Error(t, err)

	assert.Error(t, a.WriteChunk(ctx, []int{0, 0}, make([]int16, 7)), "short chunk")
	assert.Error(t, a.WriteChunk(ctx, []int{2, 0}, make([]int16, 8)), "chunk out of range")

	_, err = a.ReadChunk(ctx, []int{0, 0})
	assert.ErrorIs(t, err, ErrNotfound)

	_, err = a.Slice(ctx, 2, 5)
	assert.Error(t, err)

	_, err = Open(ctx, s, "missing")
	assert.ErrorIs(t, err, ErrNotfound)
}

func TestProjectDim(t *testing.T) {
	ps := projectDim(3, 11, 4)
	assert.Equal(t, []chunkDimProjection{
		{DimChunkIX: 0, DimChunkSel: [2]int{3, 4}, DimOutSel: [2]int{0, 1}},
		{DimChunkIX: 1, DimChunkSel: [2]int{0, 4}, DimOutSel: [2]int{1, 5}},
		{DimChunkIX: 2, DimChunkSel: [2]int{0, 3}, DimOutSel: [2]int{5, 8}},
	}, ps)
	assert.Empty(t, projectDim(4, 4, 4))
}

func TestNewPath(t *testing.T) {
	assert.Equal(t, "a/b/c", NewPath(`\a\\b/c/`).String())
	assert.Equal(t, "", NewPath("/").String())

	p := NewPath("a/b")
	x := p.Join("x")
	y := p.Join("y")
	assert.Equal(t, "a/b/x", x.String())
	assert.Equal(t, "a/b/y", y.String())

	head, rest := p.Shift()
	assert.Equal(t, "a", head)
	assert.Equal(t, Path{"b"}, rest)
}
