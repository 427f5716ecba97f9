// Package archive defines the per-batch output of the reorganizer, an ordered
// list of per-cell (run x month) matrices, and the codecs that store it.
package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/JGCRI/stayinalive/internal/naming"
	"github.com/JGCRI/stayinalive/zarr"
)

// ErrInvalid is returned for archives whose matrices disagree with their
// labels or with each other.
var ErrInvalid = errors.New("invalid archive")

// Key identifies one batch archive.
type Key struct {
	Variable string
	Model    string
	Scenario string
	Batch    int
}

// Name is the archive name without a codec extension.
func (k Key) Name() string {
	return naming.ArchiveName(k.Variable, k.Model, k.Scenario, k.Batch)
}

// RunLabel names the source of one matrix row.
type RunLabel struct {
	Run    string `json:"run"`
	Field  int    `json:"field"`
	Source string `json:"source"`
}

func (l RunLabel) String() string {
	return fmt.Sprintf("run %s field %d", l.Run, l.Field)
}

// CellMatrix is the (Runs x Months) matrix of one grid cell, row-major.
type CellMatrix struct {
	Cell   int
	Runs   int
	Months int
	Values []int16
}

// Row returns run k's months.
func (m CellMatrix) Row(k int) []int16 {
	return m.Values[k*m.Months : (k+1)*m.Months]
}

// Archive is the reorganized data of one batch: one matrix per cell in
// ascending cell order, all sharing the same run labels.
type Archive struct {
	Key       Key
	CellStart int
	Months    int
	Runs      []RunLabel
	Cells     []CellMatrix
}

// Validate checks that every matrix has the archive's shape and that cells
// are contiguous from CellStart.
func (a *Archive) Validate() error {
	if len(a.Runs) == 0 {
		return fmt.Errorf("%w: no runs", ErrInvalid)
	}
	if a.Months <= 0 {
		return fmt.Errorf("%w: %d months", ErrInvalid, a.Months)
	}
	if len(a.Cells) == 0 {
		return fmt.Errorf("%w: no cells", ErrInvalid)
	}
	for i, m := range a.Cells {
		if m.Cell != a.CellStart+i {
			return fmt.Errorf("%w: matrix %d is cell %d, want %d", ErrInvalid, i, m.Cell, a.CellStart+i)
		}
		if m.Runs != len(a.Runs) || m.Months != a.Months || len(m.Values) != m.Runs*m.Months {
			return fmt.Errorf("%w: cell %d has shape (%d, %d) with %d values, want (%d, %d)",
				ErrInvalid, m.Cell, m.Runs, m.Months, len(m.Values), len(a.Runs), a.Months)
		}
	}
	return nil
}

// Cell returns the matrix of absolute cell index c.
func (a *Archive) Cell(c int) (CellMatrix, error) {
	i := c - a.CellStart
	if i < 0 || i >= len(a.Cells) {
		return CellMatrix{}, fmt.Errorf("archive: cell %d not in [%d, %d)", c, a.CellStart, a.CellStart+len(a.Cells))
	}
	return a.Cells[i], nil
}

// Codec stores archives in one on-disk format.
type Codec interface {
	Name() string
	// Ext is appended to Key.Name to form the stored name.
	Ext() string
	// Write stores a and returns the key it was written under.
	Write(ctx context.Context, store zarr.Store, a *Archive) (string, error)
	Read(ctx context.Context, store zarr.Store, key string) (*Archive, error)
}

// Options configure the codecs that support them.
type Options struct {
	// Compressor is the zarr chunk compressor: zstd, gzip or none.
	Compressor string
	// ChunkCells is the number of cells per zarr chunk.
	ChunkCells int
	// TempDir holds netCDF files while they are written.
	TempDir string
}

// DefaultOptions are used for reading and for unset fields.
var DefaultOptions = Options{
	Compressor: "zstd",
	ChunkCells: 1000,
}

const (
	CodecZarr   = "zarr"
	CodecNetCDF = "netcdf"
	CodecGob    = "gob"
)

// Codecs lists the codec names NewCodec accepts.
func Codecs() []string {
	names := []string{CodecZarr, CodecNetCDF, CodecGob}
	sort.Strings(names)
	return names
}

// NewCodec returns the codec called name.
func NewCodec(name string, opts Options) (Codec, error) {
	if opts.ChunkCells <= 0 {
		opts.ChunkCells = DefaultOptions.ChunkCells
	}
	switch name {
	case CodecZarr, "":
		cm, err := zarr.NewCompressionMeta(opts.Compressor)
		if err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		return &ZarrCodec{Compressor: cm, ChunkCells: opts.ChunkCells}, nil
	case CodecNetCDF:
		return &NetCDFCodec{TempDir: opts.TempDir}, nil
	case CodecGob:
		return GobCodec{}, nil
	}
	return nil, fmt.Errorf("archive: unknown codec %q (want one of %s)", name, strings.Join(Codecs(), ", "))
}

// CodecFor picks the codec for a stored archive from its extension.
func CodecFor(key string) (Codec, error) {
	key = strings.TrimSuffix(key, "/")
	for _, name := range Codecs() {
		c, err := NewCodec(name, DefaultOptions)
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(key, c.Ext()) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("archive: no codec for %q", key)
}
