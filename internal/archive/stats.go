package archive

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// RunStats summarizes one row of a cell matrix.
type RunStats struct {
	Label  RunLabel
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
	// DroughtMonths counts months with a positive value.
	DroughtMonths int
}

// Summarize computes per-run statistics of one cell matrix.
func Summarize(labels []RunLabel, m CellMatrix) []RunStats {
	out := make([]RunStats, m.Runs)
	x := make([]float64, m.Months)
	for k := 0; k < m.Runs; k++ {
		s := RunStats{}
		if k < len(labels) {
			s.Label = labels[k]
		}
		for j, v := range m.Row(k) {
			x[j] = float64(v)
			if v > 0 {
				s.DroughtMonths++
			}
		}
		if len(x) > 0 {
			s.Mean, s.StdDev = stat.MeanStdDev(x, nil)
			s.Min, s.Max = floats.Min(x), floats.Max(x)
		}
		out[k] = s
	}
	return out
}
