package partition

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JGCRI/stayinalive/zarr"
)

func TestAssignCoversEveryItemOnce(t *testing.T) {
	for _, c := range []struct{ total, workers int }{
		{0, 1}, {1, 1}, {7, 3}, {10, 10}, {10, 100}, {250, 100}, {101, 100},
	} {
		t.Run(fmt.Sprintf("%d/%d", c.total, c.workers), func(t *testing.T) {
			count := make([]int, c.total)
			for i := 0; i < c.workers; i++ {
				start, end, err := Assign(c.total, i, c.workers)
				require.NoError(t, err)
				require.LessOrEqual(t, start, end)
				for j := start; j < end; j++ {
					count[j]++
				}
			}
			for j, n := range count {
				assert.Equal(t, 1, n, "item %d", j)
			}
		})
	}
}

func TestAssignEmptyTail(t *testing.T) {
	// ceil(10/8) = 2, so workers 5..7 have nothing to do
	for i := 5; i < 8; i++ {
		start, end, err := Assign(10, i, 8)
		require.NoError(t, err)
		assert.Equal(t, start, end)
	}
	for _, c := range []struct{ total, index, workers int }{
		{10, 100, 100}, {10, 8, 8}, {0, 0, 1},
	} {
		start, end, err := Assign(c.total, c.index, c.workers)
		require.NoError(t, err)
		assert.Equal(t, c.total, start)
		assert.Equal(t, c.total, end)
	}
	start, end, err := Assign(10, 4, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, start)
	assert.Equal(t, 10, end)
}

func TestAssignRejects(t *testing.T) {
	for _, c := range []struct{ total, index, workers int }{
		{10, 0, 0},
		{10, -1, 4},
		{-1, 0, 4},
	} {
		_, _, err := Assign(c.total, c.index, c.workers)
		assert.ErrorIs(t, err, ErrWorker)
	}
}

func TestFiles(t *testing.T) {
	ctx := context.Background()
	s := zarr.NewMemoryStore()
	var want []string
	for _, name := range []string{
		"in/drought_duration_trn_abcd_m_s_2.parquet",
		"in/drought_duration_trn_abcd_m_s_0.parquet",
		"in/drought_duration_trn_abcd_m_s_1.parquet",
		"in/sub/drought_duration_trn_abcd_m_s_3.parquet",
		"in/drought_severity_trn_abcd_m_s_0.parquet",
		"in/readme.txt",
		"other/drought_duration_trn_abcd_m_s_9.parquet",
	} {
		require.NoError(t, s.Put(ctx, name, strings.NewReader("x")))
		if strings.HasPrefix(name, "in/drought_duration") {
			want = append(want, name)
		}
	}

	all, err := Match(ctx, s, "in/", "drought_duration*")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"in/drought_duration_trn_abcd_m_s_0.parquet",
		"in/drought_duration_trn_abcd_m_s_1.parquet",
		"in/drought_duration_trn_abcd_m_s_2.parquet",
	}, all)
	assert.ElementsMatch(t, want, all)

	var union []string
	for i := 0; i < 3; i++ {
		part, err := Files(ctx, s, "in/", "drought_duration*", i, 3)
		require.NoError(t, err)
		union = append(union, part...)
	}
	assert.Equal(t, all, union)

	top, err := Match(ctx, s, "", "drought_duration*")
	require.NoError(t, err)
	assert.Empty(t, top)

	_, err = Match(ctx, s, "", "[")
	assert.Error(t, err)
}
