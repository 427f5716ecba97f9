package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ctessum/cdf"

	"github.com/JGCRI/stayinalive/zarr"
)

// NetCDFCodec stores an archive as a classic netCDF file with dimensions
// cell, run and month.
type NetCDFCodec struct {
	// TempDir holds the file while it is written. Empty means os.TempDir.
	TempDir string
}

func (*NetCDFCodec) Name() string { return CodecNetCDF }
func (*NetCDFCodec) Ext() string  { return ".nc" }

func (c *NetCDFCodec) header(a *Archive) (*cdf.Header, error) {
	h := cdf.NewHeader([]string{"cell", "run", "month"}, []int{len(a.Cells), len(a.Runs), a.Months})
	h.AddAttribute("", "variable", a.Key.Variable)
	h.AddAttribute("", "model", a.Key.Model)
	h.AddAttribute("", "scenario", a.Key.Scenario)
	h.AddAttribute("", "batch", []int32{int32(a.Key.Batch)})
	sources := make([]string, len(a.Runs))
	for i, r := range a.Runs {
		sources[i] = r.Source
	}
	h.AddAttribute("", "sources", strings.Join(sources, " "))

	h.AddVariable("matrix", []string{"cell", "run", "month"}, []int16{0})
	h.AddAttribute("matrix", "description", "drought "+a.Key.Variable+" by cell, run and month")
	h.AddVariable("cell", []string{"cell"}, []int32{0})
	h.AddAttribute("cell", "description", "grid cell index")
	h.AddVariable("run", []string{"run"}, []int32{0})
	h.AddAttribute("run", "description", "model run")
	h.AddVariable("field", []string{"run"}, []int32{0})
	h.AddAttribute("field", "description", "field of the model run")
	h.Define()

	if errs := h.Check(); len(errs) > 0 {
		return nil, fmt.Errorf("archive: netcdf header: %v", errs[0])
	}
	return h, nil
}

// Write assembles the file in TempDir and then copies it into store.
func (c *NetCDFCodec) Write(ctx context.Context, store zarr.Store, a *Archive) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	key := a.Key.Name() + c.Ext()

	runs := make([]int32, len(a.Runs))
	fields := make([]int32, len(a.Runs))
	for i, r := range a.Runs {
		n, err := strconv.ParseInt(r.Run, 10, 32)
		if err != nil {
			return "", fmt.Errorf("archive: netcdf needs numeric runs, got %q", r.Run)
		}
		runs[i], fields[i] = int32(n), int32(r.Field)
	}
	cells := make([]int32, len(a.Cells))
	cellLen := len(a.Runs) * a.Months
	values := make([]int16, 0, len(a.Cells)*cellLen)
	for i, m := range a.Cells {
		cells[i] = int32(m.Cell)
		values = append(values, m.Values...)
	}

	h, err := c.header(a)
	if err != nil {
		return "", err
	}
	ff, err := os.CreateTemp(c.TempDir, "."+key+".tmp*")
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	defer os.Remove(ff.Name())
	defer ff.Close()

	f, err := cdf.Create(ff, h)
	if err != nil {
		return "", fmt.Errorf("archive: creating %s: %w", key, err)
	}
	for _, v := range []struct {
		name string
		data interface{}
	}{
		{"matrix", values},
		{"cell", cells},
		{"run", runs},
		{"field", fields},
	} {
		if err := writeVar(f, v.name, v.data); err != nil {
			return "", fmt.Errorf("archive: writing %s of %s: %w", v.name, key, err)
		}
	}

	if _, err := ff.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	if err := store.Put(ctx, key, ff); err != nil {
		return "", fmt.Errorf("archive: storing %s: %w", key, err)
	}
	return key, nil
}

func (c *NetCDFCodec) Read(ctx context.Context, store zarr.Store, key string) (*Archive, error) {
	ff, err := c.fetch(ctx, store, key)
	if err != nil {
		return nil, err
	}
	defer os.Remove(ff.Name())
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		return nil, fmt.Errorf("archive: reading %s: %w", key, err)
	}

	dims := f.Header.Lengths("matrix")
	if len(dims) != 3 {
		return nil, fmt.Errorf("%w: %s matrix has dimensions %v", ErrInvalid, key, dims)
	}
	ncell, nrun, nmonth := dims[0], dims[1], dims[2]

	values, ok := readVar(f, "matrix").([]int16)
	if !ok || len(values) != ncell*nrun*nmonth {
		return nil, fmt.Errorf("%w: %s matrix is not %d shorts", ErrInvalid, key, ncell*nrun*nmonth)
	}
	cells, ok1 := readVar(f, "cell").([]int32)
	runs, ok2 := readVar(f, "run").([]int32)
	fields, ok3 := readVar(f, "field").([]int32)
	if !ok1 || !ok2 || !ok3 || len(cells) != ncell || len(runs) != nrun || len(fields) != nrun {
		return nil, fmt.Errorf("%w: %s has malformed coordinate variables", ErrInvalid, key)
	}

	a := &Archive{
		Key: Key{
			Variable: stringAttr(f, "variable"),
			Model:    stringAttr(f, "model"),
			Scenario: stringAttr(f, "scenario"),
		},
		Months: nmonth,
		Runs:   make([]RunLabel, nrun),
		Cells:  make([]CellMatrix, ncell),
	}
	if b, ok := f.Header.GetAttribute("", "batch").([]int32); ok && len(b) == 1 {
		a.Key.Batch = int(b[0])
	}
	if ncell > 0 {
		a.CellStart = int(cells[0])
	}
	sources := strings.Fields(stringAttr(f, "sources"))
	for i := range a.Runs {
		a.Runs[i] = RunLabel{Run: strconv.Itoa(int(runs[i])), Field: int(fields[i])}
		if i < len(sources) {
			a.Runs[i].Source = sources[i]
		}
	}
	cellLen := nrun * nmonth
	for i := range a.Cells {
		a.Cells[i] = CellMatrix{
			Cell:   int(cells[i]),
			Runs:   nrun,
			Months: nmonth,
			Values: values[i*cellLen : (i+1)*cellLen : (i+1)*cellLen],
		}
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("archive: %s: %w", key, err)
	}
	return a, nil
}

// fetch copies the stored file into TempDir, since cdf needs a file it
// could also write to.
func (c *NetCDFCodec) fetch(ctx context.Context, store zarr.Store, key string) (*os.File, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("archive: opening %s: %w", key, err)
	}
	defer rc.Close()
	ff, err := os.CreateTemp(c.TempDir, ".read.*.nc")
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	if _, err := io.Copy(ff, rc); err != nil {
		ff.Close()
		os.Remove(ff.Name())
		return nil, fmt.Errorf("archive: fetching %s: %w", key, err)
	}
	return ff, nil
}

// writeVar writes the whole of variable name. The writer reports io.EOF once
// the variable is full.
func writeVar(f *cdf.File, name string, data interface{}) error {
	if _, err := f.Writer(name, nil, nil).Write(data); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func readVar(f *cdf.File, name string) interface{} {
	r := f.Reader(name, nil, nil)
	if r == nil {
		return nil
	}
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		return nil
	}
	return buf
}

func stringAttr(f *cdf.File, name string) string {
	s, _ := f.Header.GetAttribute("", name).(string)
	return s
}
