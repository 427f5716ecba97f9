// Package npy reads and writes numpy's .npy array format (versions 1.0 and
// 2.0 headers, C order) for the basic dtypes the zarr package understands.
package npy

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/JGCRI/stayinalive/zarr"
)

// header must be padded to a multiple of this many bytes
const headerUnits = 64

var magic = []byte("\x93NUMPY")

// ErrFormat is returned for input that is not a readable .npy array.
var ErrFormat = errors.New("npy: bad format")

// Header describes the array stored after it.
type Header struct {
	Dtype        zarr.Dtype
	FortranOrder bool
	Shape        []int
	// DataOffset is the byte offset of the first element.
	DataOffset int64
}

// Len is the number of elements.
func (h Header) Len() int {
	n := 1
	for _, s := range h.Shape {
		n *= s
	}
	return n
}

// RowBytes is the size in bytes of one index along the first dimension.
func (h Header) RowBytes() int64 {
	n := int64(h.Dtype.ByteSize)
	if len(h.Shape) == 0 {
		return n
	}
	for _, s := range h.Shape[1:] {
		n *= int64(s)
	}
	return n
}

func (h Header) dict() string {
	dims := make([]string, len(h.Shape))
	for i, s := range h.Shape {
		dims[i] = strconv.Itoa(s)
	}
	shape := strings.Join(dims, ", ")
	if len(dims) == 1 {
		shape += ","
	}
	fortran := "False"
	if h.FortranOrder {
		fortran = "True"
	}
	return fmt.Sprintf("{'descr': '%s', 'fortran_order': %s, 'shape': (%s), }", h.Dtype, fortran, shape)
}

// Encode returns the version 1.0 preamble and padded header dictionary.
func (h Header) Encode() ([]byte, error) {
	dict := h.dict()
	// magic, two version bytes, two length bytes
	const preamble = 10
	total := preamble + len(dict) + 1
	if rem := total % headerUnits; rem != 0 {
		total += headerUnits - rem
	}
	hlen := total - preamble
	if hlen > 0xffff {
		return nil, fmt.Errorf("npy: header of %d bytes too long for version 1.0", hlen)
	}

	buf := make([]byte, 0, total)
	buf = append(buf, magic...)
	buf = append(buf, 1, 0)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(hlen))
	buf = append(buf, dict...)
	for len(buf) < total-1 {
		buf = append(buf, ' ')
	}
	return append(buf, '\n'), nil
}

var (
	descrRe   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	fortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// ReadHeader reads the preamble and header dictionary from r, leaving r
// positioned at the first element.
func ReadHeader(r io.Reader) (Header, error) {
	pre := make([]byte, 8)
	if _, err := io.ReadFull(r, pre); err != nil {
		return Header{}, fmt.Errorf("%w: reading preamble: %v", ErrFormat, err)
	}
	if !bytes.Equal(pre[:6], magic) {
		return Header{}, fmt.Errorf("%w: missing magic string", ErrFormat)
	}

	var (
		hlen   int64
		offset int64
	)
	switch major := pre[6]; major {
	case 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return Header{}, fmt.Errorf("%w: reading header length: %v", ErrFormat, err)
		}
		hlen, offset = int64(n), 10
	case 2, 3:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return Header{}, fmt.Errorf("%w: reading header length: %v", ErrFormat, err)
		}
		hlen, offset = int64(n), 12
	default:
		return Header{}, fmt.Errorf("%w: unsupported version %d.%d", ErrFormat, major, pre[7])
	}

	dict := make([]byte, hlen)
	if _, err := io.ReadFull(r, dict); err != nil {
		return Header{}, fmt.Errorf("%w: reading header: %v", ErrFormat, err)
	}
	h, err := parseDict(string(dict))
	if err != nil {
		return Header{}, err
	}
	h.DataOffset = offset + hlen
	return h, nil
}

func parseDict(s string) (Header, error) {
	var h Header
	m := descrRe.FindStringSubmatch(s)
	if m == nil {
		return h, fmt.Errorf("%w: header has no descr", ErrFormat)
	}
	dt, err := zarr.ParseDtype(m[1])
	if err != nil {
		return h, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	h.Dtype = dt

	if m := fortranRe.FindStringSubmatch(s); m != nil {
		h.FortranOrder = m[1] == "True"
	}

	m = shapeRe.FindStringSubmatch(s)
	if m == nil {
		return h, fmt.Errorf("%w: header has no shape", ErrFormat)
	}
	for _, d := range strings.Split(m[1], ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		n, err := strconv.Atoi(d)
		if err != nil || n < 0 {
			return h, fmt.Errorf("%w: bad shape %q", ErrFormat, m[1])
		}
		h.Shape = append(h.Shape, n)
	}
	return h, nil
}

// WriteInt16 writes a C-order <i2 array of the given shape.
func WriteInt16(w io.Writer, shape []int, data []int16) error {
	h := Header{Dtype: zarr.Int16, Shape: shape}
	if h.Len() != len(data) {
		return fmt.Errorf("npy: shape %v holds %d elements, got %d", shape, h.Len(), len(data))
	}
	hdr, err := h.Encode()
	if err != nil {
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, data)
}

// ReadInt16 reads a whole 16-bit integer array in C order.
func ReadInt16(r io.Reader) (Header, []int16, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return h, nil, err
	}
	if err := CheckInt16(h); err != nil {
		return h, nil, err
	}
	data, err := DecodeInt16(r, h.Dtype, h.Len())
	return h, data, err
}

// CheckInt16 reports whether h describes a C-order 16-bit integer array.
func CheckInt16(h Header) error {
	if !h.Dtype.IsInt16() {
		return fmt.Errorf("%w: dtype %s (%d-byte %s) is not a 16-bit int", ErrFormat, h.Dtype, h.Dtype.ByteSize, h.Dtype.BasicType.Human())
	}
	if h.FortranOrder {
		return fmt.Errorf("%w: fortran order is not supported", ErrFormat)
	}
	if len(h.Shape) == 0 {
		return fmt.Errorf("%w: scalar arrays are not supported", ErrFormat)
	}
	return nil
}

// DecodeInt16 reads n elements of dt from r.
func DecodeInt16(r io.Reader, dt zarr.Dtype, n int) ([]int16, error) {
	data := make([]int16, n)
	if err := binary.Read(r, dt.Order(), data); err != nil {
		return nil, fmt.Errorf("npy: reading %d elements: %w", n, err)
	}
	return data, nil
}
