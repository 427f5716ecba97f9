package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JGCRI/stayinalive/zarr"
)

// matrixArray is the array holding the (cell, run, month) values inside an
// archive group.
const matrixArray = "matrix"

// ZarrCodec stores an archive as a zarr group with consolidated metadata.
// The values are one int16 array of shape (cell, run, month) chunked along
// cells.
type ZarrCodec struct {
	Compressor *zarr.CompressionMeta
	ChunkCells int
}

func (*ZarrCodec) Name() string { return CodecZarr }
func (*ZarrCodec) Ext() string  { return ".zarr" }

type zarrAttrs struct {
	Variable  string     `json:"variable"`
	Model     string     `json:"model"`
	Scenario  string     `json:"scenario"`
	Batch     int        `json:"batch"`
	CellStart int        `json:"cell_start"`
	Runs      []RunLabel `json:"runs"`
}

// Write stores the chunks first and the metadata last, so an interrupted
// write leaves nothing OpenConsolidated will accept.
func (c *ZarrCodec) Write(ctx context.Context, store zarr.Store, a *Archive) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	key := a.Key.Name() + c.Ext()
	nrun, nmonth := len(a.Runs), a.Months
	chunkCells := c.ChunkCells
	if chunkCells <= 0 || chunkCells > len(a.Cells) {
		chunkCells = len(a.Cells)
	}

	meta := &zarr.ArrayMeta{
		ZarrFormat: zarr.Version,
		Shape:      []int{len(a.Cells), nrun, nmonth},
		Chunks:     []int{chunkCells, nrun, nmonth},
		Dtype:      zarr.Int16,
		Compressor: c.Compressor,
		FillValue:  0,
		Order:      "C",
	}
	arrPath := zarr.NewPath(key).Join(matrixArray).String()
	arr, err := zarr.OpenWithMeta(store, arrPath, meta)
	if err != nil {
		return "", err
	}

	cellLen := nrun * nmonth
	chunk := make([]int16, meta.ChunkLen())
	for ci := 0; ci < meta.NumChunks()[0]; ci++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		for i := range chunk {
			chunk[i] = 0
		}
		for j := 0; j < chunkCells; j++ {
			cell := ci*chunkCells + j
			if cell >= len(a.Cells) {
				break
			}
			copy(chunk[j*cellLen:(j+1)*cellLen], a.Cells[cell].Values)
		}
		if err := arr.WriteChunk(ctx, []int{ci, 0, 0}, chunk); err != nil {
			return "", fmt.Errorf("archive: %s: %w", key, err)
		}
	}

	if _, err := zarr.Create(ctx, store, arrPath, meta, zarr.ModeWrite); err != nil {
		return "", fmt.Errorf("archive: %s: %w", key, err)
	}
	attrs, err := toAttributes(zarrAttrs{
		Variable:  a.Key.Variable,
		Model:     a.Key.Model,
		Scenario:  a.Key.Scenario,
		Batch:     a.Key.Batch,
		CellStart: a.CellStart,
		Runs:      a.Runs,
	})
	if err != nil {
		return "", err
	}
	if err := zarr.CreateGroup(ctx, store, key, attrs); err != nil {
		return "", fmt.Errorf("archive: %s: %w", key, err)
	}
	if err := zarr.Consolidate(ctx, store, key); err != nil {
		return "", fmt.Errorf("archive: %s: %w", key, err)
	}
	return key, nil
}

func (c *ZarrCodec) Read(ctx context.Context, store zarr.Store, key string) (*Archive, error) {
	cm, err := zarr.OpenConsolidated(ctx, store, key)
	if err != nil {
		return nil, fmt.Errorf("archive: opening %s: %w", key, err)
	}
	meta, ok := cm.Metadata[matrixArray+"/"+string(zarr.MTArray)].(*zarr.ArrayMeta)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %s array", ErrInvalid, key, matrixArray)
	}
	rawAttrs, ok := cm.Metadata[string(zarr.MTAttributes)].(zarr.Attributes)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no attributes", ErrInvalid, key)
	}
	var attrs zarrAttrs
	if err := fromAttributes(rawAttrs, &attrs); err != nil {
		return nil, fmt.Errorf("archive: %s: %w", key, err)
	}
	if len(meta.Shape) != 3 || !meta.Dtype.IsInt16() {
		return nil, fmt.Errorf("%w: %s matrix is %s %v", ErrInvalid, key, meta.Dtype, meta.Shape)
	}

	arr, err := zarr.OpenWithMeta(store, zarr.NewPath(key).Join(matrixArray).String(), meta)
	if err != nil {
		return nil, err
	}
	ncell, nrun, nmonth := meta.Shape[0], meta.Shape[1], meta.Shape[2]
	v, err := arr.Slice(ctx, 0, ncell)
	if err != nil {
		return nil, fmt.Errorf("archive: %s: %w", key, err)
	}
	values := v.([]int16)

	a := &Archive{
		Key: Key{
			Variable: attrs.Variable,
			Model:    attrs.Model,
			Scenario: attrs.Scenario,
			Batch:    attrs.Batch,
		},
		CellStart: attrs.CellStart,
		Months:    nmonth,
		Runs:      attrs.Runs,
		Cells:     make([]CellMatrix, ncell),
	}
	cellLen := nrun * nmonth
	for i := range a.Cells {
		a.Cells[i] = CellMatrix{
			Cell:   attrs.CellStart + i,
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

func toAttributes(v interface{}) (zarr.Attributes, error) {
	d, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	attrs := zarr.Attributes{}
	return attrs, json.Unmarshal(d, &attrs)
}

func fromAttributes(attrs zarr.Attributes, v interface{}) error {
	d, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	return json.Unmarshal(d, v)
}
