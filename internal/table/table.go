// Package table reads the raw columnar drought tables: rows are grid cells
// (repeated once per field), columns are months.
package table

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/JGCRI/stayinalive/zarr"
)

// ErrValue is returned for cells that cannot be read as integers.
var ErrValue = errors.New("table: unsupported value")

// Table is a row reader over a two dimensional integer table.
type Table interface {
	NumRows() int64
	NumColumns() int
	Columns() []string
	// ReadRows fills dst, each row of which must hold NumColumns values, and
	// returns the number of rows read. It returns io.EOF once no rows remain.
	ReadRows(dst [][]int16) (int, error)
	Close() error
}

// Opener opens the table stored under key.
type Opener interface {
	Open(ctx context.Context, store zarr.Store, key string) (Table, error)
}

// pandas stores the data frame index as an extra column with this prefix
const pandasIndexPrefix = "__index_level_"

// Parquet opens parquet files. Every leaf column except a stored pandas
// index is read, in schema order.
type Parquet struct{}

var _ Opener = Parquet{}

func (Parquet) Open(ctx context.Context, store zarr.Store, key string) (Table, error) {
	ra, size, err := zarr.OpenReaderAt(ctx, store, key)
	if err != nil {
		return nil, fmt.Errorf("table: opening %s: %w", key, err)
	}
	f, err := parquet.OpenFile(ra, size)
	if err != nil {
		ra.Close()
		return nil, fmt.Errorf("table: reading %s: %w", key, err)
	}

	t := &parquetTable{
		key:    key,
		ra:     ra,
		file:   f,
		groups: f.RowGroups(),
	}
	for _, path := range f.Schema().Columns() {
		name := strings.Join(path, ".")
		if strings.HasPrefix(name, pandasIndexPrefix) {
			t.pos = append(t.pos, -1)
			continue
		}
		t.pos = append(t.pos, len(t.names))
		t.names = append(t.names, name)
	}
	if len(t.names) == 0 {
		t.Close()
		return nil, fmt.Errorf("table: %s has no data columns", key)
	}
	return t, nil
}

type parquetTable struct {
	key  string
	ra   zarr.ReaderAtCloser
	file *parquet.File

	names []string
	// pos maps a leaf column index to its output position, or -1
	pos []int

	groups []parquet.RowGroup
	next   int
	rows   parquet.Rows
	buf    []parquet.Row
}

func (t *parquetTable) NumRows() int64    { return t.file.NumRows() }
func (t *parquetTable) NumColumns() int   { return len(t.names) }
func (t *parquetTable) Columns() []string { return t.names }

func (t *parquetTable) ReadRows(dst [][]int16) (int, error) {
	n := 0
	for n < len(dst) {
		if t.rows == nil {
			if t.next >= len(t.groups) {
				break
			}
			t.rows = t.groups[t.next].Rows()
			t.next++
		}

		want := len(dst) - n
		if cap(t.buf) < want {
			t.buf = make([]parquet.Row, want)
		}
		buf := t.buf[:want]
		k, err := t.rows.ReadRows(buf)
		for i := 0; i < k; i++ {
			if derr := t.decode(buf[i], dst[n+i]); derr != nil {
				return n + i, derr
			}
		}
		n += k

		switch {
		case errors.Is(err, io.EOF):
			t.rows.Close()
			t.rows = nil
		case err != nil:
			return n, fmt.Errorf("table: reading %s: %w", t.key, err)
		case k == 0:
			return n, fmt.Errorf("table: reading %s: %w", t.key, io.ErrNoProgress)
		}
	}
	if n == 0 && len(dst) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (t *parquetTable) decode(row parquet.Row, out []int16) error {
	if len(out) != len(t.names) {
		return fmt.Errorf("table: %s: row buffer holds %d values, want %d", t.key, len(out), len(t.names))
	}
	for _, v := range row {
		c := v.Column()
		if c < 0 || c >= len(t.pos) || t.pos[c] < 0 {
			continue
		}
		x, err := toInt16(v)
		if err != nil {
			return fmt.Errorf("%w: %s column %s", err, t.key, t.names[t.pos[c]])
		}
		out[t.pos[c]] = x
	}
	return nil
}

// toInt16 converts like a numpy astype(int16): floats truncate toward zero
// and integers wrap. Nulls read as zero.
func toInt16(v parquet.Value) (int16, error) {
	if v.IsNull() {
		return 0, nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		if v.Boolean() {
			return 1, nil
		}
		return 0, nil
	case parquet.Int32:
		return int16(v.Int32()), nil
	case parquet.Int64:
		return int16(v.Int64()), nil
	case parquet.Float:
		return int16(v.Float()), nil
	case parquet.Double:
		return int16(v.Double()), nil
	default:
		return 0, fmt.Errorf("%w: kind %s", ErrValue, v.Kind())
	}
}

func (t *parquetTable) Close() error {
	if t.rows != nil {
		t.rows.Close()
		t.rows = nil
	}
	return t.ra.Close()
}

// ColumnName is the name WriteParquet gives month column i. Names sort in
// column order.
func ColumnName(i int) string {
	return fmt.Sprintf("month_%04d", i)
}

// WriteParquet writes rows as a parquet table of ncol int32 columns named by
// ColumnName.
func WriteParquet(w io.Writer, ncol int, rows [][]int16) error {
	if ncol < 1 {
		return fmt.Errorf("table: %d columns", ncol)
	}
	group := parquet.Group{}
	for i := 0; i < ncol; i++ {
		group[ColumnName(i)] = parquet.Leaf(parquet.Int32Type)
	}
	schema := parquet.NewSchema("drought", group)

	pw := parquet.NewWriter(w, schema)
	buf := make([]parquet.Row, 0, 1024)
	flush := func() error {
		if _, err := pw.WriteRows(buf); err != nil {
			return fmt.Errorf("table: writing rows: %w", err)
		}
		buf = buf[:0]
		return nil
	}
	for r, row := range rows {
		if len(row) != ncol {
			return fmt.Errorf("table: row %d has %d values, want %d", r, len(row), ncol)
		}
		pr := make(parquet.Row, ncol)
		for c, x := range row {
			pr[c] = parquet.Int32Value(int32(x)).Level(0, 0, c)
		}
		buf = append(buf, pr)
		if len(buf) == cap(buf) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	return pw.Close()
}
