// Package convert splits raw drought tables into one int16 run array per
// field.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/JGCRI/stayinalive/internal/layout"
	"github.com/JGCRI/stayinalive/internal/naming"
	"github.com/JGCRI/stayinalive/internal/npy"
	"github.com/JGCRI/stayinalive/internal/partition"
	"github.com/JGCRI/stayinalive/internal/table"
	"github.com/JGCRI/stayinalive/zarr"
)

// Policy selects what a row count defect does to the rest of the run.
type Policy string

const (
	// PolicySkip logs the defective table and goes on with the next one.
	PolicySkip Policy = "skip"
	// PolicyStrict stops at the first defective table.
	PolicyStrict Policy = "strict"
)

// ParsePolicy validates a policy name. The empty string means PolicySkip.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicySkip:
		return PolicySkip, nil
	case PolicyStrict:
		return PolicyStrict, nil
	}
	return "", fmt.Errorf("convert: unknown policy %q (want %s or %s)", s, PolicySkip, PolicyStrict)
}

// ErrRowCount is returned for tables whose row count is not a whole number
// of grids.
var ErrRowCount = errors.New("row count is not a multiple of the grid size")

var errNoMatch = errors.New("name does not match the source pattern")

// DefaultChunkRows is the number of table rows read per call.
const DefaultChunkRows = 4096

// Converter turns source tables into run arrays.
type Converter struct {
	Layout   layout.Layout
	Variable string
	Opener   table.Opener
	Policy   Policy
	// ChunkRows bounds the rows requested from the table at once.
	ChunkRows int
	Log       logrus.FieldLogger

	pattern *regexp.Regexp
}

// Result summarizes one conversion run.
type Result struct {
	// Converted counts tables whose fields were all written.
	Converted int
	// Skipped counts keys that did not match the source naming pattern.
	Skipped int
	// Defective counts tables with a row count defect.
	Defective int
	// Written lists the run array keys written, in order.
	Written []string
	// Defects holds every row count defect.
	Defects error
}

func (c *Converter) init() error {
	if err := c.Layout.Validate(); err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	if !c.Layout.HasVariable(c.Variable) {
		return fmt.Errorf("convert: unknown variable %q (want one of %v)", c.Variable, c.Layout.Variables)
	}
	if c.Opener == nil {
		c.Opener = table.Parquet{}
	}
	if c.Policy == "" {
		c.Policy = PolicySkip
	}
	if c.ChunkRows <= 0 {
		c.ChunkRows = DefaultChunkRows
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	c.pattern = naming.SourcePattern(c.Variable)
	return nil
}

// Run converts worker index's share of the source tables below prefix in
// in, writing run arrays to out.
func (c *Converter) Run(ctx context.Context, in, out zarr.Store, prefix string, index, workers int) (*Result, error) {
	if err := c.init(); err != nil {
		return nil, err
	}
	keys, err := partition.Files(ctx, in, prefix, naming.SourceGlob(c.Variable), index, workers)
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	c.Log.WithFields(logrus.Fields{
		"worker":  index,
		"workers": workers,
		"tables":  len(keys),
	}).Info("assigned source tables")
	return c.Convert(ctx, in, out, keys)
}

// Convert converts each of keys in order.
func (c *Converter) Convert(ctx context.Context, in, out zarr.Store, keys []string) (*Result, error) {
	if err := c.init(); err != nil {
		return nil, err
	}
	res := &Result{}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		log := c.Log.WithField("file", key)
		written, err := c.convertFile(ctx, in, out, key, log)
		switch {
		case errors.Is(err, errNoMatch):
			log.WithField("pattern", c.pattern.String()).Warn("file does not match the naming pattern, skipping")
			res.Skipped++
		case errors.Is(err, ErrRowCount):
			res.Defective++
			res.Defects = multierr.Append(res.Defects, err)
			if c.Policy == PolicyStrict {
				return res, err
			}
			log.WithError(err).Error("table is not a whole number of fields, no output written")
		case err != nil:
			return res, err
		default:
			res.Converted++
			res.Written = append(res.Written, written...)
		}
	}
	c.Log.WithFields(logrus.Fields{
		"converted": res.Converted,
		"skipped":   res.Skipped,
		"defective": res.Defective,
		"arrays":    len(res.Written),
	}).Info("conversion finished")
	return res, nil
}

// ConvertFile converts a single table and returns the keys it wrote.
func (c *Converter) ConvertFile(ctx context.Context, in, out zarr.Store, key string) ([]string, error) {
	if err := c.init(); err != nil {
		return nil, err
	}
	written, err := c.convertFile(ctx, in, out, key, c.Log.WithField("file", key))
	if errors.Is(err, errNoMatch) {
		return nil, fmt.Errorf("convert: %s: %w", key, err)
	}
	return written, err
}

func (c *Converter) convertFile(ctx context.Context, in, out zarr.Store, key string, log logrus.FieldLogger) ([]string, error) {
	src, ok := naming.ParseSource(c.pattern, c.Variable, key)
	if !ok {
		return nil, errNoMatch
	}
	log = log.WithFields(logrus.Fields{
		"model":    src.Model,
		"scenario": src.Scenario,
		"run":      src.Run,
	})
	log.Info("processing")

	tbl, err := c.Opener.Open(ctx, in, key)
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	defer tbl.Close()

	grid := c.Layout.GridSize
	rows, ncol := tbl.NumRows(), tbl.NumColumns()
	if rows%int64(grid) != 0 {
		return nil, fmt.Errorf("convert: %s: %w: ngrid=%d ncell=%d", key, ErrRowCount, grid, rows)
	}
	nfield := int(rows / int64(grid))

	var written []string
	for i := 0; i < nfield; i++ {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		values, err := c.readField(tbl, grid, ncol)
		if err != nil {
			return written, fmt.Errorf("convert: %s field %d: %w", key, i, err)
		}

		rk := naming.RunKey{
			Variable: src.Variable,
			Model:    src.Model,
			Scenario: src.Scenario,
			Run:      src.Run,
			Field:    i,
		}
		buf := &bytes.Buffer{}
		if err := npy.WriteInt16(buf, []int{grid, ncol}, values); err != nil {
			return written, fmt.Errorf("convert: %s: %w", rk.Key(), err)
		}
		if err := out.Put(ctx, rk.Key(), buf); err != nil {
			return written, fmt.Errorf("convert: writing %s: %w", rk.Key(), err)
		}
		log.WithFields(logrus.Fields{"field": i, "key": rk.Key()}).Info("wrote run array")
		written = append(written, rk.Key())
	}
	return written, nil
}

// readField reads the next grid rows of tbl into one row-major buffer.
func (c *Converter) readField(tbl table.Table, grid, ncol int) ([]int16, error) {
	values := make([]int16, grid*ncol)
	dst := make([][]int16, 0, c.ChunkRows)
	for r := 0; r < grid; {
		n := c.ChunkRows
		if grid-r < n {
			n = grid - r
		}
		dst = dst[:0]
		for j := 0; j < n; j++ {
			dst = append(dst, values[(r+j)*ncol:(r+j+1)*ncol])
		}
		got, err := tbl.ReadRows(dst)
		r += got
		if err == io.EOF {
			if r < grid {
				return nil, fmt.Errorf("table ended after %d of %d rows", r, grid)
			}
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return values, nil
}
