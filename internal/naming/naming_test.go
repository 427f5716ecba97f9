package naming

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSource(t *testing.T) {
	re := SourcePattern("duration")
	cases := []struct {
		key  string
		want Source
		ok   bool
	}{
		{
			key:  "in/drought_duration_trn_abcd_GFDL-ESM2M_rcp26_3.parquet",
			want: Source{Variable: "duration", Model: "GFDL-ESM2M", Scenario: "rcp26", Run: "3"},
			ok:   true,
		},
		{
			key:  "drought_duration_trn_abcd_MIROC5_rcp85_012_extra.parquet",
			want: Source{Variable: "duration", Model: "MIROC5", Scenario: "rcp85", Run: "012"},
			ok:   true,
		},
		{key: "drought_severity_trn_abcd_MIROC5_rcp85_1.parquet"},
		{key: "drought_duration_trn_abcd_MIROC5_rcp85_x.parquet"},
		{key: "notes.txt"},
	}
	for _, c := range cases {
		t.Run(c.key, func(t *testing.T) {
			got, ok := ParseSource(re, "duration", c.key)
			assert.Equal(t, c.ok, ok)
			if c.ok {
				assert.Equal(t, c.want, got)
			}
		})
	}
}

func TestRunKeyRoundTrip(t *testing.T) {
	k := RunKey{Variable: "duration", Model: "HadGEM2-ES", Scenario: "rcp60", Run: "7", Field: 2}
	assert.Equal(t, "duration_HadGEM2-ES_rcp60_7_2.npy", k.Key())

	got, err := ParseRunKey("some/dir/" + k.Key())
	require.NoError(t, err)
	assert.Equal(t, k, got)
	assert.True(t, len(RunPrefix("duration", "HadGEM2-ES", "rcp60")) > 0)
	assert.Equal(t, "duration_HadGEM2-ES_rcp60_", RunPrefix("duration", "HadGEM2-ES", "rcp60"))
}

func TestParseRunKeyErrors(t *testing.T) {
	for _, key := range []string{
		"duration_m_s_1_0.csv",
		"duration_m_s_1.npy",
		"duration_m_s_1_x.npy",
		"duration_m_s_1_-1.npy",
		"duration__s_1_0.npy",
		"duration_m_s_1_0_9.npy",
	} {
		_, err := ParseRunKey(key)
		assert.Error(t, err, key)
	}
}

func TestRunKeyOrder(t *testing.T) {
	keys := []RunKey{
		{Run: "10", Field: 0},
		{Run: "2", Field: 1},
		{Run: "2", Field: 0},
		{Run: "b", Field: 0},
		{Run: "a", Field: 0},
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	assert.Equal(t, []RunKey{
		{Run: "2", Field: 0},
		{Run: "2", Field: 1},
		{Run: "10", Field: 0},
		{Run: "a", Field: 0},
		{Run: "b", Field: 0},
	}, keys)
}

func TestArchiveName(t *testing.T) {
	assert.Equal(t, "drgt_matrix_duration_MIROC5_rcp45_batch-003", ArchiveName("duration", "MIROC5", "rcp45", 3))
	assert.Equal(t, "drgt_matrix_severity_MIROC5_rcp45_batch-012", ArchiveName("severity", "MIROC5", "rcp45", 12))
}
