// Package layout holds the grid, batch and naming constants shared by the
// conversion and reorganization stages, and the job index arithmetic built
// on them.
package layout

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidLayout is returned by Validate.
	ErrInvalidLayout = errors.New("invalid layout")
	// ErrJobIndexRange is returned for job indices or coordinates outside
	// the job space.
	ErrJobIndexRange = errors.New("job index out of range")
)

// Layout describes the grid and the model/scenario space both stages agree on.
type Layout struct {
	// GridSize is the number of grid cells in one run array.
	GridSize int `yaml:"grid_size"`
	// BatchSize is the number of cells written to one batch archive.
	BatchSize int `yaml:"batch_size"`
	// Models and Scenarios are ordered; their positions are part of the job
	// index encoding.
	Models    []string `yaml:"models"`
	Scenarios []string `yaml:"scenarios"`
	// Variables lists the drought variables a run may carry.
	Variables []string `yaml:"variables"`
}

// Default returns the layout of the Xanthos drought runs.
func Default() Layout {
	return Layout{
		GridSize:  67420,
		BatchSize: 10000,
		Models:    []string{"GFDL-ESM2M", "IPSL-CM5A-LR", "HadGEM2-ES", "MIROC5"},
		Scenarios: []string{"rcp26", "rcp45", "rcp60", "rcp85"},
		Variables: []string{"duration", "severity", "intensity"},
	}
}

// Load reads a YAML layout from path. Fields missing from the file keep
// their Default values.
func Load(path string) (Layout, error) {
	l := Default()
	d, err := os.ReadFile(path)
	if err != nil {
		return l, fmt.Errorf("layout: %w", err)
	}
	if err := yaml.Unmarshal(d, &l); err != nil {
		return l, fmt.Errorf("layout: parsing %s: %w", path, err)
	}
	if err := l.Validate(); err != nil {
		return l, fmt.Errorf("layout: %s: %w", path, err)
	}
	return l, nil
}

// Validate checks that sizes are positive and that names are unique and
// usable inside underscore-separated file names.
func (l Layout) Validate() error {
	if l.GridSize <= 0 {
		return fmt.Errorf("%w: grid_size %d must be positive", ErrInvalidLayout, l.GridSize)
	}
	if l.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size %d must be positive", ErrInvalidLayout, l.BatchSize)
	}
	for _, names := range []struct {
		what string
		list []string
	}{
		{"models", l.Models},
		{"scenarios", l.Scenarios},
		{"variables", l.Variables},
	} {
		if len(names.list) == 0 {
			return fmt.Errorf("%w: no %s", ErrInvalidLayout, names.what)
		}
		seen := make(map[string]bool, len(names.list))
		for _, n := range names.list {
			if err := checkName(n); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidLayout, names.what, err)
			}
			if seen[n] {
				return fmt.Errorf("%w: %s: duplicate %q", ErrInvalidLayout, names.what, n)
			}
			seen[n] = true
		}
	}
	return nil
}

func checkName(n string) error {
	if n == "" {
		return errors.New("empty name")
	}
	for _, r := range n {
		if r == '_' || r == '/' || r == '\\' || r == '*' || r == '?' {
			return fmt.Errorf("name %q contains %q", n, r)
		}
	}
	return nil
}

// NumBatches is ceil(GridSize/BatchSize).
func (l Layout) NumBatches() int {
	return (l.GridSize + l.BatchSize - 1) / l.BatchSize
}

// NumJobs is the size of the job index space.
func (l Layout) NumJobs() int {
	return l.NumBatches() * len(l.Scenarios) * len(l.Models)
}

// BatchRange returns the cells [start, end) of batch b. The final batch
// may be shorter than BatchSize.
func (l Layout) BatchRange(b int) (start, end int) {
	start = b * l.BatchSize
	end = start + l.BatchSize
	if end > l.GridSize {
		end = l.GridSize
	}
	return start, end
}

// HasVariable reports whether v is one of the layout's variables.
func (l Layout) HasVariable(v string) bool {
	for _, x := range l.Variables {
		if x == v {
			return true
		}
	}
	return false
}

// Job is one decoded job index.
type Job struct {
	Index    int
	Batch    int
	Scenario int
	Model    int

	ScenarioName string
	ModelName    string
}

func (j Job) String() string {
	return fmt.Sprintf("job %d (batch %d, scenario %s, model %s)", j.Index, j.Batch, j.ScenarioName, j.ModelName)
}

// Encode maps (batch, scenario, model) to I = (b*Nr + r)*Nm + m.
func (l Layout) Encode(b, r, m int) (int, error) {
	nr, nm := len(l.Scenarios), len(l.Models)
	if b < 0 || b >= l.NumBatches() || r < 0 || r >= nr || m < 0 || m >= nm {
		return 0, fmt.Errorf("%w: batch %d scenario %d model %d", ErrJobIndexRange, b, r, m)
	}
	return (b*nr+r)*nm + m, nil
}

// Decode inverts Encode.
func (l Layout) Decode(i int) (Job, error) {
	if i < 0 || i >= l.NumJobs() {
		return Job{}, fmt.Errorf("%w: %d not in [0, %d)", ErrJobIndexRange, i, l.NumJobs())
	}
	nr, nm := len(l.Scenarios), len(l.Models)
	j := Job{
		Index:    i,
		Batch:    i / (nr * nm),
		Scenario: (i / nm) % nr,
		Model:    i % nm,
	}
	j.ScenarioName = l.Scenarios[j.Scenario]
	j.ModelName = l.Models[j.Model]
	return j, nil
}

// Lookup finds the job for named scenario and model in batch b.
func (l Layout) Lookup(b int, scenario, model string) (Job, error) {
	r, m := index(l.Scenarios, scenario), index(l.Models, model)
	if r < 0 {
		return Job{}, fmt.Errorf("%w: unknown scenario %q", ErrJobIndexRange, scenario)
	}
	if m < 0 {
		return Job{}, fmt.Errorf("%w: unknown model %q", ErrJobIndexRange, model)
	}
	i, err := l.Encode(b, r, m)
	if err != nil {
		return Job{}, err
	}
	return l.Decode(i)
}

func index(list []string, s string) int {
	for i, x := range list {
		if x == s {
			return i
		}
	}
	return -1
}
