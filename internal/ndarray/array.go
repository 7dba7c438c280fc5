package ndarray

import (
	"fmt"

	"github.com/23skdu/longbow-quiver/internal/device"
)

// Array is a multi-dimensional array of float32 or float64 elements, stored
// either densely or in compressed-sparse-column form. An Array is pinned to a
// device descriptor; all buffers are host-backed, so a cross-device transfer
// is a blocking deep copy under a new descriptor.
type Array struct {
	shape    Shape
	dtype    DataType
	format   StorageFormat
	dev      device.Descriptor
	readOnly bool

	f32 []float32
	f64 []float64

	// CSC storage. The leading shape axis is the row dimension; all trailing
	// axes are flattened into columns. Values live in f32/f64.
	colStarts  []int32
	rowIndices []int32
}

// NewDense creates a dense array holding a copy of data. A nil data slice
// allocates a zeroed array.
func NewDense[T Element](shape Shape, data []T) (*Array, error) {
	total := shape.TotalSize()
	if data != nil && len(data) != total {
		return nil, fmt.Errorf("ndarray: data length %d does not match shape %s (total %d)", len(data), shape, total)
	}

	a := &Array{
		shape:  shape.Clone(),
		dtype:  TypeOf[T](),
		format: Dense,
		dev:    device.CPU(),
	}
	a.alloc(total)
	if data != nil {
		copy(writableBuffer[T](a), data)
	}
	return a, nil
}

// Zeros allocates a zero-filled dense array of the given type and shape.
func Zeros(dtype DataType, shape Shape, dev device.Descriptor) *Array {
	a := &Array{
		shape:  shape.Clone(),
		dtype:  dtype,
		format: Dense,
		dev:    dev,
	}
	a.alloc(shape.TotalSize())
	return a
}

// NewSparse creates a CSC array from copies of the given index and value
// buffers. The leading shape axis is the row dimension.
func NewSparse[T Element](shape Shape, colStarts, rowIndices []int32, values []T, dev device.Descriptor, readOnly bool) (*Array, error) {
	if shape.Rank() == 0 {
		return nil, fmt.Errorf("ndarray: sparse array requires at least one axis")
	}
	rows := shape[0]
	numCols := shape.TotalSize() / rows

	if len(colStarts) != numCols+1 {
		return nil, fmt.Errorf("ndarray: colStarts length %d, want %d for shape %s", len(colStarts), numCols+1, shape)
	}
	if colStarts[0] != 0 {
		return nil, fmt.Errorf("ndarray: colStarts must begin at 0, got %d", colStarts[0])
	}
	for j := 1; j < len(colStarts); j++ {
		if colStarts[j] < colStarts[j-1] {
			return nil, fmt.Errorf("ndarray: colStarts not non-decreasing at column %d", j)
		}
	}
	if int(colStarts[numCols]) != len(values) {
		return nil, fmt.Errorf("ndarray: colStarts final entry %d does not match %d values", colStarts[numCols], len(values))
	}
	if len(rowIndices) != len(values) {
		return nil, fmt.Errorf("ndarray: %d row indices for %d values", len(rowIndices), len(values))
	}
	for _, r := range rowIndices {
		if int(r) < 0 || int(r) >= rows {
			return nil, fmt.Errorf("ndarray: row index %d out of range [0, %d)", r, rows)
		}
	}

	a := &Array{
		shape:      shape.Clone(),
		dtype:      TypeOf[T](),
		format:     SparseCSC,
		dev:        dev,
		readOnly:   readOnly,
		colStarts:  append([]int32(nil), colStarts...),
		rowIndices: append([]int32(nil), rowIndices...),
	}
	a.alloc(len(values))
	copy(writableBuffer[T](a), values)
	return a, nil
}

func (a *Array) alloc(n int) {
	switch a.dtype {
	case Float:
		a.f32 = make([]float32, n)
	case Double:
		a.f64 = make([]float64, n)
	default:
		panic("unknown data type")
	}
}

func (a *Array) Shape() Shape {
	return a.shape
}

func (a *Array) DataType() DataType {
	return a.dtype
}

func (a *Array) Format() StorageFormat {
	return a.format
}

func (a *Array) Device() device.Descriptor {
	return a.dev
}

func (a *Array) ReadOnly() bool {
	return a.readOnly
}

func (a *Array) IsSparse() bool {
	return a.format == SparseCSC
}

// NonZeroCount returns the number of stored values of a sparse array.
func (a *Array) NonZeroCount() int {
	if a.dtype == Float {
		return len(a.f32)
	}
	return len(a.f64)
}

// ColStarts exposes the CSC column offset buffer. Callers must not modify it.
func (a *Array) ColStarts() []int32 {
	return a.colStarts
}

// RowIndices exposes the CSC row index buffer. Callers must not modify it.
func (a *Array) RowIndices() []int32 {
	return a.rowIndices
}

// Data returns the element buffer of a, which must hold elements of type T.
// For sparse arrays this is the nonzero value buffer.
func Data[T Element](a *Array) ([]T, error) {
	if TypeOf[T]() != a.dtype {
		return nil, fmt.Errorf("ndarray: requested %s buffer from %s array", TypeOf[T](), a.dtype)
	}
	return writableBuffer[T](a), nil
}

// WritableData is Data plus a mutability check.
func WritableData[T Element](a *Array) ([]T, error) {
	if a.readOnly {
		return nil, fmt.Errorf("ndarray: array is read-only")
	}
	return Data[T](a)
}

func writableBuffer[T Element](a *Array) []T {
	switch any(*new(T)).(type) {
	case float32:
		return any(a.f32).([]T)
	default:
		return any(a.f64).([]T)
	}
}

// DeepClone returns an independent copy of a on the given device.
func (a *Array) DeepClone(dev device.Descriptor, readOnly bool) *Array {
	out := &Array{
		shape:    a.shape.Clone(),
		dtype:    a.dtype,
		format:   a.format,
		dev:      dev,
		readOnly: readOnly,
	}
	out.f32 = append([]float32(nil), a.f32...)
	out.f64 = append([]float64(nil), a.f64...)
	out.colStarts = append([]int32(nil), a.colStarts...)
	out.rowIndices = append([]int32(nil), a.rowIndices...)
	return out
}

// Alias returns a view sharing a's storage. The view is read-only if either
// the receiver or the request says so; mutating through a writable alias
// mutates the original.
func (a *Array) Alias(readOnly bool) *Array {
	out := *a
	out.readOnly = a.readOnly || readOnly
	return &out
}

// Reshaped returns an alias of a dense array under a new shape with the same
// total size.
func (a *Array) Reshaped(shape Shape) (*Array, error) {
	if a.format != Dense {
		return nil, fmt.Errorf("ndarray: cannot reshape a %s array", a.format)
	}
	if shape.TotalSize() != a.shape.TotalSize() {
		return nil, fmt.Errorf("ndarray: cannot reshape %s (total %d) to %s (total %d)", a.shape, a.shape.TotalSize(), shape, shape.TotalSize())
	}
	out := *a
	out.shape = shape.Clone()
	return &out, nil
}

// ToDevice returns a resident on dev: the receiver when already there,
// otherwise a blocking deep copy.
func (a *Array) ToDevice(dev device.Descriptor) *Array {
	if a.dev == dev {
		return a
	}
	return a.DeepClone(dev, a.readOnly)
}

// CopyFrom overwrites a's contents with src's. Shapes and element types must
// match. A sparse source may be copied into a dense destination (the copy
// densifies); the reverse is not supported.
func (a *Array) CopyFrom(src *Array) error {
	if a.readOnly {
		return fmt.Errorf("ndarray: cannot copy into a read-only array")
	}
	if !a.shape.Equal(src.shape) {
		return fmt.Errorf("ndarray: shape mismatch %s vs %s", a.shape, src.shape)
	}
	if a.dtype != src.dtype {
		return fmt.Errorf("ndarray: element type mismatch %s vs %s", a.dtype, src.dtype)
	}

	switch {
	case a.format == Dense && src.format == Dense:
		copy(a.f32, src.f32)
		copy(a.f64, src.f64)
	case a.format == Dense && src.format == SparseCSC:
		densifyInto(a, src)
	case a.format == SparseCSC && src.format == SparseCSC:
		a.colStarts = append(a.colStarts[:0], src.colStarts...)
		a.rowIndices = append(a.rowIndices[:0], src.rowIndices...)
		if a.dtype == Float {
			a.f32 = append(a.f32[:0], src.f32...)
		} else {
			a.f64 = append(a.f64[:0], src.f64...)
		}
	default:
		return fmt.Errorf("ndarray: copying dense data into a sparse array is not supported")
	}
	return nil
}

// densifyInto scatters src's CSC values into dst's zeroed dense buffer.
func densifyInto(dst, src *Array) {
	rows := src.shape[0]
	numCols := src.shape.TotalSize() / rows
	if dst.dtype == Float {
		for i := range dst.f32 {
			dst.f32[i] = 0
		}
		for j := 0; j < numCols; j++ {
			for k := src.colStarts[j]; k < src.colStarts[j+1]; k++ {
				dst.f32[j*rows+int(src.rowIndices[k])] = src.f32[k]
			}
		}
		return
	}
	for i := range dst.f64 {
		dst.f64[i] = 0
	}
	for j := 0; j < numCols; j++ {
		for k := src.colStarts[j]; k < src.colStarts[j+1]; k++ {
			dst.f64[j*rows+int(src.rowIndices[k])] = src.f64[k]
		}
	}
}

// Densified returns a dense CPU copy of a. Dense CPU arrays are returned
// as-is.
func (a *Array) Densified() *Array {
	if a.format == Dense && a.dev.IsCPU() {
		return a
	}
	out := Zeros(a.dtype, a.shape, device.CPU())
	if a.format == Dense {
		copy(out.f32, a.f32)
		copy(out.f64, a.f64)
	} else {
		densifyInto(out, a)
	}
	out.readOnly = a.readOnly
	return out
}
