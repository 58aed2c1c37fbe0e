// Package matrix provides the dense row-major trace matrices every chip
// populates and the prover commits to. Row storage is a single contiguous
// slice so that worker goroutines can be handed disjoint row ranges without
// locking.
package matrix

import (
	"github.com/attovm/atto-zkvm/internal/atto-zkvm/field"
)

// Dense is a row-major matrix of base field elements.
type Dense struct {
	Values []field.Val
	Width  int
}

// NewDense allocates a zeroed h x w matrix.
func NewDense(h, w int) *Dense {
	return &Dense{Values: make([]field.Val, h*w), Width: w}
}

// FromValues wraps an existing value slice. len(values) must be a multiple
// of width.
func FromValues(values []field.Val, width int) *Dense {
	if width == 0 {
		if len(values) != 0 {
			panic("matrix: zero width with non-empty values")
		}
		return &Dense{Width: 0}
	}
	if len(values)%width != 0 {
		panic("matrix: ragged value slice")
	}
	return &Dense{Values: values, Width: width}
}

// Height returns the number of rows.
func (m *Dense) Height() int {
	if m.Width == 0 {
		return 0
	}
	return len(m.Values) / m.Width
}

// Row returns the i-th row as a mutable sub-slice.
func (m *Dense) Row(i int) []field.Val {
	return m.Values[i*m.Width : (i+1)*m.Width]
}

// At returns the element at (r, c).
func (m *Dense) At(r, c int) field.Val {
	return m.Values[r*m.Width+c]
}

// Set writes the element at (r, c).
func (m *Dense) Set(r, c int, v field.Val) {
	m.Values[r*m.Width+c] = v
}

// Column copies column c out of the matrix.
func (m *Dense) Column(c int) []field.Val {
	h := m.Height()
	out := make([]field.Val, h)
	for r := 0; r < h; r++ {
		out[r] = m.Values[r*m.Width+c]
	}
	return out
}

// RowChunks partitions the first `rows` rows into n contiguous, disjoint
// sub-matrices sharing this matrix's storage. The partition is what makes
// parallel population safe: each worker owns its chunk exclusively.
func (m *Dense) RowChunks(rows, n int) []*Dense {
	if n <= 0 {
		panic("matrix: non-positive chunk count")
	}
	per := (rows + n - 1) / n
	var out []*Dense
	for start := 0; start < rows; start += per {
		end := start + per
		if end > rows {
			end = rows
		}
		out = append(out, &Dense{
			Values: m.Values[start*m.Width : end*m.Width],
			Width:  m.Width,
		})
	}
	return out
}

// Dims returns (height, width).
func (m *Dense) Dims() (int, int) { return m.Height(), m.Width }

// Clone deep-copies the matrix.
func (m *Dense) Clone() *Dense {
	values := make([]field.Val, len(m.Values))
	copy(values, m.Values)
	return &Dense{Values: values, Width: m.Width}
}

// NextPowerOfTwo rounds n up to a power of two, with a floor of one.
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// PaddedHeight resolves a row count against an optional pinned log2 size.
// A pinned size too small for the real rows is a shape configuration error.
func PaddedHeight(rows int, pinnedLog2 int, pinned bool) int {
	if !pinned {
		return NextPowerOfTwo(rows)
	}
	h := 1 << pinnedLog2
	if rows > h {
		panic("matrix: pinned shape smaller than real row count")
	}
	return h
}

// ExtDense is a row-major matrix over the challenge extension, used for
// permutation traces before they are flattened into base columns.
type ExtDense struct {
	Values []field.Ext
	Width  int
}

// NewExtDense allocates a zeroed h x w extension matrix.
func NewExtDense(h, w int) *ExtDense {
	return &ExtDense{Values: make([]field.Ext, h*w), Width: w}
}

// Height returns the number of rows.
func (m *ExtDense) Height() int {
	if m.Width == 0 {
		return 0
	}
	return len(m.Values) / m.Width
}

// Row returns the i-th row as a mutable sub-slice.
func (m *ExtDense) Row(i int) []field.Ext {
	return m.Values[i*m.Width : (i+1)*m.Width]
}

// FlattenToBase expands every extension element into its base limbs,
// producing a base matrix of width Width * field.ExtDegree.
func (m *ExtDense) FlattenToBase() *Dense {
	h := m.Height()
	out := NewDense(h, m.Width*field.ExtDegree)
	for r := 0; r < h; r++ {
		row := out.Row(r)
		for c, v := range m.Row(r) {
			limbs := field.ExtLimbs(v)
			copy(row[c*field.ExtDegree:(c+1)*field.ExtDegree], limbs[:])
		}
	}
	return out
}
