package reorg

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JGCRI/stayinalive/internal/archive"
	"github.com/JGCRI/stayinalive/internal/convert"
	"github.com/JGCRI/stayinalive/internal/layout"
	"github.com/JGCRI/stayinalive/internal/naming"
	"github.com/JGCRI/stayinalive/internal/npy"
	"github.com/JGCRI/stayinalive/internal/table"
	"github.com/JGCRI/stayinalive/zarr"
)

func putArray(t *testing.T, s zarr.Store, key string, rows, cols int, fill func(r, c int) int16) {
	t.Helper()
	data := make([]int16, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			data[r*cols+c] = fill(r, c)
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, npy.WriteInt16(buf, []int{rows, cols}, data))
	require.NoError(t, s.Put(context.Background(), key, buf))
}

func constant(k int16) func(r, c int) int16 {
	return func(int, int) int16 { return k }
}

func newReorganizer(t *testing.T, l layout.Layout, codec string) *Reorganizer {
	t.Helper()
	c, err := archive.NewCodec(codec, archive.Options{Compressor: "zstd", ChunkCells: 2500})
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()
	return &Reorganizer{Layout: l, Codec: c, Log: logger}
}

func TestReorganizeTransposesConstantRuns(t *testing.T) {
	ctx := context.Background()
	l := layout.Default()
	in, out := zarr.NewMemoryStore(), zarr.NewMemoryStore()
	for k := 0; k < 3; k++ {
		rk := naming.RunKey{Variable: "duration", Model: "GFDL-ESM2M", Scenario: "rcp26", Run: "0", Field: k}
		putArray(t, in, rk.Key(), l.GridSize, 6, constant(int16(k)))
	}

	job, err := l.Lookup(0, "rcp26", "GFDL-ESM2M")
	require.NoError(t, err)
	r := newReorganizer(t, l, archive.CodecGob)
	key, err := r.Run(ctx, in, out, job.Index, "duration")
	require.NoError(t, err)
	assert.Equal(t, "drgt_matrix_duration_GFDL-ESM2M_rcp26_batch-000.gob", key)

	a, err := r.Codec.Read(ctx, out, key)
	require.NoError(t, err)
	require.Len(t, a.Cells, 10000)
	assert.Equal(t, 0, a.CellStart)
	assert.Equal(t, 6, a.Months)
	for i, m := range a.Cells {
		require.Equal(t, i, m.Cell)
		require.Equal(t, 3, m.Runs)
		require.Equal(t, 6, m.Months)
		for k := 0; k < 3; k++ {
			for _, v := range m.Row(k) {
				require.Equal(t, int16(k), v, "cell %d run %d", i, k)
			}
		}
	}
	for k, label := range a.Runs {
		assert.Equal(t, archive.RunLabel{Run: "0", Field: k, Source: naming.RunKey{
			Variable: "duration", Model: "GFDL-ESM2M", Scenario: "rcp26", Run: "0", Field: k,
		}.Key()}, label)
	}
}

func TestReorganizeNoInputs(t *testing.T) {
	ctx := context.Background()
	l := layout.Default()
	in, out := zarr.NewMemoryStore(), zarr.NewMemoryStore()
	// a different scenario must not be picked up
	putArray(t, in, "duration_MIROC5_rcp45_0_0.npy", l.GridSize, 2, constant(1))

	job, err := l.Lookup(1, "rcp26", "MIROC5")
	require.NoError(t, err)
	_, err = newReorganizer(t, l, archive.CodecZarr).Run(ctx, in, out, job.Index, "duration")
	assert.ErrorIs(t, err, ErrNoInputs)

	keys, err := out.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestReorganizeShapeMismatch(t *testing.T) {
	l := layout.Default()
	l.GridSize, l.BatchSize = 30, 10

	cases := map[string]func(s zarr.Store){
		"months": func(s zarr.Store) {
			putArray(t, s, "severity_MIROC5_rcp85_1_0.npy", 30, 12, constant(1))
			putArray(t, s, "severity_MIROC5_rcp85_2_0.npy", 30, 11, constant(2))
		},
		"rows": func(s zarr.Store) {
			putArray(t, s, "severity_MIROC5_rcp85_1_0.npy", 30, 12, constant(1))
			putArray(t, s, "severity_MIROC5_rcp85_2_0.npy", 25, 12, constant(2))
		},
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			in, out := zarr.NewMemoryStore(), zarr.NewMemoryStore()
			setup(in)
			job, err := l.Lookup(2, "rcp85", "MIROC5")
			require.NoError(t, err)
			_, err = newReorganizer(t, l, archive.CodecZarr).Run(ctx, in, out, job.Index, "severity")
			assert.ErrorIs(t, err, ErrShapeMismatch)

			keys, err := out.List(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestReorganizeRejectsBadJobs(t *testing.T) {
	ctx := context.Background()
	l := layout.Default()
	r := newReorganizer(t, l, archive.CodecGob)
	_, err := r.Run(ctx, zarr.NewMemoryStore(), zarr.NewMemoryStore(), l.NumJobs(), "duration")
	assert.ErrorIs(t, err, layout.ErrJobIndexRange)
	_, err = r.Run(ctx, zarr.NewMemoryStore(), zarr.NewMemoryStore(), 0, "rainfall")
	assert.Error(t, err)
}

func TestReorganizeLastBatchAndRunOrder(t *testing.T) {
	ctx := context.Background()
	l := layout.Default()
	l.GridSize, l.BatchSize = 25, 10
	in, out := zarr.NewMemoryStore(), zarr.NewMemoryStore()
	for _, run := range []string{"10", "2"} {
		for field := 1; field >= 0; field-- {
			rk := naming.RunKey{Variable: "intensity", Model: "HadGEM2-ES", Scenario: "rcp60", Run: run, Field: field}
			base := int16(len(run)*1000 + field*500)
			putArray(t, in, rk.Key(), 25, 3, func(r, c int) int16 { return base + int16(r*10+c) })
		}
	}

	job, err := l.Lookup(2, "rcp60", "HadGEM2-ES")
	require.NoError(t, err)
	r := newReorganizer(t, l, archive.CodecZarr)
	key, err := r.Run(ctx, in, out, job.Index, "intensity")
	require.NoError(t, err)

	a, err := r.Codec.Read(ctx, out, key)
	require.NoError(t, err)
	assert.Equal(t, 20, a.CellStart)
	require.Len(t, a.Cells, 5)
	var order []string
	for _, label := range a.Runs {
		order = append(order, label.String())
	}
	assert.Equal(t, []string{"run 2 field 0", "run 2 field 1", "run 10 field 0", "run 10 field 1"}, order)

	m, err := a.Cell(23)
	require.NoError(t, err)
	assert.Equal(t, []int16{1230, 1231, 1232}, m.Row(0))
	assert.Equal(t, []int16{2730, 2731, 2732}, m.Row(3))
}

func TestReorganizeMinDuration(t *testing.T) {
	ctx := context.Background()
	l := layout.Default()
	l.GridSize, l.BatchSize = 4, 4
	in := zarr.NewMemoryStore()
	series := []int16{0, 1, 2, 0, 1, 2, 3, 0}
	putArray(t, in, "duration_MIROC5_rcp26_0_0.npy", 4, len(series), func(r, c int) int16 { return series[c] })
	putArray(t, in, "severity_MIROC5_rcp26_0_0.npy", 4, len(series), func(r, c int) int16 { return series[c] })

	job, err := l.Lookup(0, "rcp26", "MIROC5")
	require.NoError(t, err)

	for variable, want := range map[string][]int16{
		"duration": {0, 0, 0, 0, 1, 2, 3, 0},
		"severity": series,
	} {
		out := zarr.NewMemoryStore()
		r := newReorganizer(t, l, archive.CodecGob)
		r.MinDuration = 3
		key, err := r.Run(ctx, in, out, job.Index, variable)
		require.NoError(t, err)
		a, err := r.Codec.Read(ctx, out, key)
		require.NoError(t, err)
		for _, m := range a.Cells {
			assert.Equal(t, want, m.Row(0), variable)
		}
	}
}

func TestLoadRowsReadsOnlyTheBatch(t *testing.T) {
	ctx := context.Background()
	local, err := zarr.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	putArray(t, local, "a.npy", 100, 4, func(r, c int) int16 { return int16(r*4 + c) })

	h, rows, err := LoadRows(ctx, local, "a.npy", 90, 110)
	require.NoError(t, err)
	assert.Equal(t, []int{100, 4}, h.Shape)
	require.Len(t, rows, 10*4)
	assert.Equal(t, int16(360), rows[0])
	assert.Equal(t, int16(399), rows[len(rows)-1])

	_, rows, err = LoadRows(ctx, local, "a.npy", 100, 110)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, _, err = LoadRows(ctx, local, "missing.npy", 0, 1)
	assert.ErrorIs(t, err, zarr.ErrNotfound)
}

func TestTranspose(t *testing.T) {
	runs := [][]int16{
		{1, 2, 3, 4, 5, 6},
		{10, 20, 30, 40, 50, 60},
	}
	cells := Transpose(runs, 7, 3, 2)
	require.Len(t, cells, 3)
	assert.Equal(t, archive.CellMatrix{Cell: 7, Runs: 2, Months: 2, Values: []int16{1, 2, 10, 20}}, cells[0])
	assert.Equal(t, archive.CellMatrix{Cell: 9, Runs: 2, Months: 2, Values: []int16{5, 6, 50, 60}}, cells[2])
}

// value is the synthetic content of source table row r, month c.
func value(run, r, c int) int16 {
	return int16((run*7919 + r*13 + c) % 32749)
}

func TestConvertThenReorganize(t *testing.T) {
	ctx := context.Background()
	l := layout.Default()
	raw, err := zarr.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	arrays, err := zarr.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	archives, err := zarr.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	const nmonth = 12
	fields := map[int]int{0: 1, 1: 2}
	for run, nfield := range fields {
		rows := make([][]int16, nfield*l.GridSize)
		for r := range rows {
			rows[r] = make([]int16, nmonth)
			for c := range rows[r] {
				rows[r][c] = value(run, r, c)
			}
		}
		buf := &bytes.Buffer{}
		require.NoError(t, table.WriteParquet(buf, nmonth, rows))
		key := "drought_duration_trn_abcd_GFDL-ESM2M_rcp26_" + string(rune('0'+run)) + ".parquet"
		require.NoError(t, raw.Put(ctx, key, buf))
	}

	logger, _ := test.NewNullLogger()
	conv := &convert.Converter{Layout: l, Variable: "duration", Log: logger}
	res, err := conv.Run(ctx, raw, arrays, "", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Converted)
	assert.Len(t, res.Written, 3)

	job, err := l.Lookup(0, "rcp26", "GFDL-ESM2M")
	require.NoError(t, err)
	r := newReorganizer(t, l, archive.CodecZarr)
	key, err := r.Run(ctx, arrays, archives, job.Index, "duration")
	require.NoError(t, err)

	a, err := r.Codec.Read(ctx, archives, key)
	require.NoError(t, err)
	require.Len(t, a.Runs, 3)
	require.Len(t, a.Cells, l.BatchSize)

	for _, cell := range []int{0, 1234, 9999} {
		m, err := a.Cell(cell)
		require.NoError(t, err)
		for k, label := range a.Runs {
			run := int(label.Run[0] - '0')
			row := label.Field*l.GridSize + cell
			for c := 0; c < nmonth; c++ {
				assert.Equal(t, value(run, row, c), m.Row(k)[c], "cell %d %s month %d", cell, label, c)
			}
		}
	}
}
