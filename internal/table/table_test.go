package table

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JGCRI/stayinalive/zarr"
)

func sequence(nrow, ncol int) [][]int16 {
	rows := make([][]int16, nrow)
	for r := range rows {
		rows[r] = make([]int16, ncol)
		for c := range rows[r] {
			rows[r][c] = int16(r*ncol + c - 50)
		}
	}
	return rows
}

func readAll(t *testing.T, tbl Table, chunk int) [][]int16 {
	t.Helper()
	var out [][]int16
	for {
		dst := make([][]int16, chunk)
		for i := range dst {
			dst[i] = make([]int16, tbl.NumColumns())
		}
		n, err := tbl.ReadRows(dst)
		out = append(out, dst[:n]...)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
	}
}

func TestParquetRoundTrip(t *testing.T) {
	ctx := context.Background()
	want := sequence(103, 12)
	buf := &bytes.Buffer{}
	require.NoError(t, WriteParquet(buf, 12, want))

	local, err := zarr.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for name, s := range map[string]zarr.Store{
		"memory": zarr.NewMemoryStore(),
		"local":  local,
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "t.parquet", bytes.NewReader(buf.Bytes())))

			tbl, err := Parquet{}.Open(ctx, s, "t.parquet")
			require.NoError(t, err)
			defer tbl.Close()

			assert.EqualValues(t, 103, tbl.NumRows())
			assert.Equal(t, 12, tbl.NumColumns())
			assert.Equal(t, ColumnName(0), tbl.Columns()[0])
			assert.Equal(t, ColumnName(11), tbl.Columns()[11])

			assert.Equal(t, want, readAll(t, tbl, 10))
		})
	}
}

func TestParquetSkipsPandasIndexAndCasts(t *testing.T) {
	ctx := context.Background()
	schema := parquet.NewSchema("frame", parquet.Group{
		"__index_level_0__": parquet.Leaf(parquet.Int64Type),
		"a":                 parquet.Leaf(parquet.DoubleType),
		"b":                 parquet.Leaf(parquet.Int64Type),
	})
	buf := &bytes.Buffer{}
	w := parquet.NewWriter(buf, schema)
	_, err := w.WriteRows([]parquet.Row{
		{parquet.Int64Value(0).Level(0, 0, 0), parquet.DoubleValue(2.9).Level(0, 0, 1), parquet.Int64Value(7).Level(0, 0, 2)},
		{parquet.Int64Value(1).Level(0, 0, 0), parquet.DoubleValue(-3.9).Level(0, 0, 1), parquet.Int64Value(65537).Level(0, 0, 2)},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	s := zarr.NewMemoryStore()
	require.NoError(t, s.Put(ctx, "frame.parquet", buf))
	tbl, err := Parquet{}.Open(ctx, s, "frame.parquet")
	require.NoError(t, err)
	defer tbl.Close()

	assert.Equal(t, []string{"a", "b"}, tbl.Columns())
	assert.Equal(t, [][]int16{{2, 7}, {-3, 1}}, readAll(t, tbl, 5))
}

func TestParquetOpenErrors(t *testing.T) {
	ctx := context.Background()
	s := zarr.NewMemoryStore()
	_, err := Parquet{}.Open(ctx, s, "missing.parquet")
	assert.ErrorIs(t, err, zarr.ErrNotfound)

	require.NoError(t, s.Put(ctx, "junk.parquet", bytes.NewReader([]byte("not parquet at all"))))
	_, err = Parquet{}.Open(ctx, s, "junk.parquet")
	assert.Error(t, err)
}

func TestWriteParquetRejectsRaggedRows(t *testing.T) {
	err := WriteParquet(&bytes.Buffer{}, 3, [][]int16{{1, 2, 3}, {4, 5}})
	assert.Error(t, err)
	assert.Error(t, WriteParquet(&bytes.Buffer{}, 0, nil))
}
