// Package naming builds and parses the file names that carry run identity
// through the pipeline.
package naming

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// RunArrayExt is the extension of converted run arrays.
const RunArrayExt = ".npy"

// Source identifies the raw table of one model run.
type Source struct {
	Variable string
	Model    string
	Scenario string
	Run      string
}

// SourcePattern matches raw table names for variable anywhere in a key.
func SourcePattern(variable string) *regexp.Regexp {
	return regexp.MustCompile(`drought_` + regexp.QuoteMeta(variable) + `_trn_abcd_([^_/]+)_([^_/]+)_([0-9]+)`)
}

// SourceGlob is the base-name glob the converter selects source tables with.
func SourceGlob(variable string) string {
	return "drought_" + variable + "*"
}

// ParseSource extracts model, scenario and run from a raw table key.
func ParseSource(re *regexp.Regexp, variable, key string) (Source, bool) {
	m := re.FindStringSubmatch(key)
	if m == nil {
		return Source{}, false
	}
	return Source{Variable: variable, Model: m[1], Scenario: m[2], Run: m[3]}, true
}

// RunKey names one field of one run: a single (GridSize x months) array.
type RunKey struct {
	Variable string
	Model    string
	Scenario string
	Run      string
	Field    int
}

// Key returns the store key of the run array.
func (k RunKey) Key() string {
	return fmt.Sprintf("%s_%s_%s_%s_%d%s", k.Variable, k.Model, k.Scenario, k.Run, k.Field, RunArrayExt)
}

func (k RunKey) String() string {
	return fmt.Sprintf("%s/%s/%s run %s field %d", k.Variable, k.Model, k.Scenario, k.Run, k.Field)
}

// RunPrefix is the key prefix shared by every run array of one
// (variable, model, scenario).
func RunPrefix(variable, model, scenario string) string {
	return fmt.Sprintf("%s_%s_%s_", variable, model, scenario)
}

// ParseRunKey parses a run array key written by RunKey.Key.
func ParseRunKey(key string) (RunKey, error) {
	base := path.Base(key)
	if !strings.HasSuffix(base, RunArrayExt) {
		return RunKey{}, fmt.Errorf("naming: %q is not a %s run array", key, RunArrayExt)
	}
	parts := strings.Split(strings.TrimSuffix(base, RunArrayExt), "_")
	if len(parts) != 5 {
		return RunKey{}, fmt.Errorf("naming: %q does not have five fields", key)
	}
	field, err := strconv.Atoi(parts[4])
	if err != nil || field < 0 {
		return RunKey{}, fmt.Errorf("naming: %q has invalid field %q", key, parts[4])
	}
	for _, p := range parts[:4] {
		if p == "" {
			return RunKey{}, fmt.Errorf("naming: %q has an empty name part", key)
		}
	}
	return RunKey{
		Variable: parts[0],
		Model:    parts[1],
		Scenario: parts[2],
		Run:      parts[3],
		Field:    field,
	}, nil
}

// Less orders run keys by numeric run then field, falling back to the run
// string when runs are not numbers.
func (k RunKey) Less(o RunKey) bool {
	if k.Run != o.Run {
		a, aerr := strconv.Atoi(k.Run)
		b, berr := strconv.Atoi(o.Run)
		if aerr == nil && berr == nil && a != b {
			return a < b
		}
		return k.Run < o.Run
	}
	return k.Field < o.Field
}

// ArchiveName is the extension-less name of a batch archive.
func ArchiveName(variable, model, scenario string, batch int) string {
	return fmt.Sprintf("drgt_matrix_%s_%s_%s_batch-%03d", variable, model, scenario, batch)
}
