// Package reorg turns the run arrays of one (model, scenario) into per-cell
// (run x month) matrices, one batch of cells at a time.
package reorg

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/JGCRI/stayinalive/internal/archive"
	"github.com/JGCRI/stayinalive/internal/drought"
	"github.com/JGCRI/stayinalive/internal/layout"
	"github.com/JGCRI/stayinalive/internal/naming"
	"github.com/JGCRI/stayinalive/internal/npy"
	"github.com/JGCRI/stayinalive/zarr"
)

var (
	// ErrNoInputs is returned when no run array exists for the job.
	ErrNoInputs = errors.New("no run arrays found")
	// ErrShapeMismatch is returned when a run's batch slice does not have
	// the shape of the others.
	ErrShapeMismatch = errors.New("run arrays differ in shape")
)

// Reorganizer writes one batch archive per job.
type Reorganizer struct {
	Layout layout.Layout
	Codec  archive.Codec
	// MinDuration removes shorter droughts from duration rows before they
	// are written. Zero disables it.
	MinDuration int
	Log         logrus.FieldLogger
}

// Input is one discovered run array.
type Input struct {
	Key    string
	RunKey naming.RunKey
}

// Label is the archive row label of the input.
func (in Input) Label() archive.RunLabel {
	return archive.RunLabel{Run: in.RunKey.Run, Field: in.RunKey.Field, Source: in.Key}
}

func (r *Reorganizer) init() error {
	if err := r.Layout.Validate(); err != nil {
		return fmt.Errorf("reorg: %w", err)
	}
	if r.Codec == nil {
		c, err := archive.NewCodec(archive.CodecZarr, archive.DefaultOptions)
		if err != nil {
			return err
		}
		r.Codec = c
	}
	if r.MinDuration < 0 {
		return fmt.Errorf("reorg: negative minimum duration %d", r.MinDuration)
	}
	if r.Log == nil {
		r.Log = logrus.StandardLogger()
	}
	return nil
}

// Run decodes jobIndex and reorganizes that job. It returns the key of the
// archive written to out.
func (r *Reorganizer) Run(ctx context.Context, in, out zarr.Store, jobIndex int, variable string) (string, error) {
	if err := r.init(); err != nil {
		return "", err
	}
	job, err := r.Layout.Decode(jobIndex)
	if err != nil {
		return "", fmt.Errorf("reorg: %w", err)
	}
	return r.Reorganize(ctx, in, out, job, variable)
}

// Reorganize builds and writes the archive of job. Nothing is written if any
// input is missing or malformed.
func (r *Reorganizer) Reorganize(ctx context.Context, in, out zarr.Store, job layout.Job, variable string) (string, error) {
	if err := r.init(); err != nil {
		return "", err
	}
	if !r.Layout.HasVariable(variable) {
		return "", fmt.Errorf("reorg: unknown variable %q (want one of %v)", variable, r.Layout.Variables)
	}
	log := r.Log.WithFields(logrus.Fields{
		"job":      job.Index,
		"batch":    job.Batch,
		"model":    job.ModelName,
		"scenario": job.ScenarioName,
		"variable": variable,
	})

	inputs, err := Discover(ctx, in, variable, job.ModelName, job.ScenarioName)
	if err != nil {
		return "", err
	}
	if len(inputs) == 0 {
		return "", fmt.Errorf("reorg: %w matching %s*%s", ErrNoInputs,
			naming.RunPrefix(variable, job.ModelName, job.ScenarioName), naming.RunArrayExt)
	}
	for _, input := range inputs {
		log.WithField("file", input.Key).Info("processing file")
	}

	start, end := r.Layout.BatchRange(job.Batch)
	ncell := end - start
	runs := make([][]int16, len(inputs))
	nmonth := -1
	for k, input := range inputs {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		h, rows, err := LoadRows(ctx, in, input.Key, start, end)
		if err != nil {
			return "", err
		}
		if nmonth < 0 {
			nmonth = h.Shape[1]
		}
		if got := len(rows) / max(h.Shape[1], 1); got != ncell || h.Shape[1] != nmonth {
			return "", fmt.Errorf("reorg: %w: %s has shape (%d, %d), want (%d, %d)",
				ErrShapeMismatch, input.Key, got, h.Shape[1], ncell, nmonth)
		}
		runs[k] = rows
	}

	a := &archive.Archive{
		Key: archive.Key{
			Variable: variable,
			Model:    job.ModelName,
			Scenario: job.ScenarioName,
			Batch:    job.Batch,
		},
		CellStart: start,
		Months:    nmonth,
		Runs:      make([]archive.RunLabel, len(inputs)),
		Cells:     Transpose(runs, start, ncell, nmonth),
	}
	for k, input := range inputs {
		a.Runs[k] = input.Label()
	}
	if r.MinDuration > 0 && variable == "duration" {
		for _, m := range a.Cells {
			drought.ApplyDurationThresholdRows(m.Values, m.Months, r.MinDuration)
		}
		log.WithField("min_duration", r.MinDuration).Info("applied duration threshold")
	}

	key, err := r.Codec.Write(ctx, out, a)
	if err != nil {
		return "", fmt.Errorf("reorg: %w", err)
	}
	log.WithFields(logrus.Fields{
		"output": key,
		"cells":  ncell,
		"runs":   len(inputs),
		"months": nmonth,
	}).Info("wrote batch archive")
	return key, nil
}

// Discover lists the run arrays of (variable, model, scenario) in store,
// ordered by run then field.
func Discover(ctx context.Context, store zarr.Store, variable, model, scenario string) ([]Input, error) {
	keys, err := store.List(ctx, naming.RunPrefix(variable, model, scenario))
	if err != nil {
		return nil, fmt.Errorf("reorg: listing inputs: %w", err)
	}
	var inputs []Input
	for _, k := range keys {
		rk, err := naming.ParseRunKey(k)
		if err != nil {
			continue
		}
		if rk.Variable != variable || rk.Model != model || rk.Scenario != scenario {
			continue
		}
		inputs = append(inputs, Input{Key: k, RunKey: rk})
	}
	sort.SliceStable(inputs, func(i, j int) bool {
		a, b := inputs[i].RunKey, inputs[j].RunKey
		if a.Less(b) {
			return true
		}
		if b.Less(a) {
			return false
		}
		return inputs[i].Key < inputs[j].Key
	})
	return inputs, nil
}

// LoadRows reads rows [start, end) of a two dimensional int16 run array.
// Only the header and the requested rows are fetched. Rows past the end of
// the array are not returned.
func LoadRows(ctx context.Context, store zarr.Store, key string, start, end int) (npy.Header, []int16, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return npy.Header{}, nil, fmt.Errorf("reorg: %w", err)
	}
	h, err := npy.ReadHeader(rc)
	rc.Close()
	if err != nil {
		return h, nil, fmt.Errorf("reorg: %s: %w", key, err)
	}
	if err := npy.CheckInt16(h); err != nil {
		return h, nil, fmt.Errorf("reorg: %s: %w", key, err)
	}
	if len(h.Shape) != 2 {
		return h, nil, fmt.Errorf("reorg: %w: %s has %d dimensions", ErrShapeMismatch, key, len(h.Shape))
	}

	if end > h.Shape[0] {
		end = h.Shape[0]
	}
	n := end - start
	if n <= 0 {
		return h, []int16{}, nil
	}
	rowBytes := h.RowBytes()
	rc, err = store.GetRange(ctx, key, h.DataOffset+int64(start)*rowBytes, int64(n)*rowBytes)
	if err != nil {
		return h, nil, fmt.Errorf("reorg: %w", err)
	}
	defer rc.Close()
	rows, err := npy.DecodeInt16(rc, h.Dtype, n*h.Shape[1])
	if err != nil {
		return h, nil, fmt.Errorf("reorg: %s: %w", key, err)
	}
	return h, rows, nil
}

// Transpose turns per-run (cell x month) slices into per-cell (run x month)
// matrices. Row k of every matrix comes from runs[k].
func Transpose(runs [][]int16, cellStart, ncell, nmonth int) []archive.CellMatrix {
	nrun := len(runs)
	cells := make([]archive.CellMatrix, ncell)
	for i := range cells {
		m := archive.CellMatrix{
			Cell:   cellStart + i,
			Runs:   nrun,
			Months: nmonth,
			Values: make([]int16, nrun*nmonth),
		}
		for k, run := range runs {
			copy(m.Values[k*nmonth:(k+1)*nmonth], run[i*nmonth:(i+1)*nmonth])
		}
		cells[i] = m
	}
	return cells
}
