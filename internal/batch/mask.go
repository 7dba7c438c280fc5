package batch

import (
	"github.com/23skdu/longbow-quiver/internal/ndarray"
)

// MaskKind annotates one cell of a batch mask.
type MaskKind uint8

const (
	MaskInvalid MaskKind = iota
	MaskValid
	// MaskBegin implies Valid and marks position 0 of a sequence that starts
	// in this batch (as opposed to continuing an earlier one).
	MaskBegin
)

func (k MaskKind) IsValid() bool {
	return k != MaskInvalid
}

// Mask is a 2-D validity annotation over a padded batch, shaped
// [maxLength, numSequences]. Cells default to Valid.
type Mask struct {
	shape    ndarray.Shape
	kinds    []MaskKind
	readOnly bool
}

// NewMask allocates an all-Valid mask of the given shape.
func NewMask(maxLength, numSequences int) *Mask {
	kinds := make([]MaskKind, maxLength*numSequences)
	for i := range kinds {
		kinds[i] = MaskValid
	}
	return &Mask{
		shape: ndarray.Shape{maxLength, numSequences},
		kinds: kinds,
	}
}

// BuildMask derives a mask from per-sequence lengths and start flags. Empty
// startFlags means every sequence starts here. The result is nil when a mask
// would carry no information: uniform lengths and all sequences starting.
func BuildMask(lengths []int, startFlags []bool) (*Mask, error) {
	numSequences := len(lengths)
	if len(startFlags) != 0 && len(startFlags) != numSequences {
		return nil, invalidArgf("the number of sequence start flags (%d) does not match the number of sequences (%d)", len(startFlags), numSequences)
	}

	starts := startFlags
	if len(starts) == 0 {
		starts = make([]bool, numSequences)
		for i := range starts {
			starts[i] = true
		}
	}

	maxLength := 0
	for _, l := range lengths {
		if l > maxLength {
			maxLength = l
		}
	}

	needsMask := false
	for i := range lengths {
		if !starts[i] || lengths[i] != maxLength {
			needsMask = true
			break
		}
	}
	if !needsMask {
		return nil, nil
	}

	m := NewMask(maxLength, numSequences)
	for i := 0; i < numSequences; i++ {
		if starts[i] {
			m.markBegin(0, i)
		}
		m.invalidate(lengths[i], maxLength, i)
	}
	return m, nil
}

func (m *Mask) Shape() ndarray.Shape {
	return m.shape
}

// Kinds exposes the mask cells in [position, sequence] column order:
// cell (t, i) lives at index i*maxLength + t. Callers must not modify it.
func (m *Mask) Kinds() []MaskKind {
	return m.kinds
}

// At returns the kind of position t in sequence i.
func (m *Mask) At(t, i int) MaskKind {
	return m.kinds[i*m.shape[0]+t]
}

func (m *Mask) markBegin(t, i int) {
	m.kinds[i*m.shape[0]+t] = MaskBegin
}

// invalidate marks the half-open position range [from, to) of sequence i.
func (m *Mask) invalidate(from, to, i int) {
	base := i * m.shape[0]
	for t := from; t < to; t++ {
		m.kinds[base+t] = MaskInvalid
	}
}

// Clear resets every cell to Valid.
func (m *Mask) Clear() error {
	if m.readOnly {
		return runtimef("cannot clear a read-only mask")
	}
	for i := range m.kinds {
		m.kinds[i] = MaskValid
	}
	return nil
}

// DeepClone returns an independent, writable-by-request copy.
func (m *Mask) DeepClone(readOnly bool) *Mask {
	return &Mask{
		shape:    m.shape.Clone(),
		kinds:    append([]MaskKind(nil), m.kinds...),
		readOnly: readOnly,
	}
}

// Alias returns a view sharing the mask's storage.
func (m *Mask) Alias(readOnly bool) *Mask {
	return &Mask{
		shape:    m.shape,
		kinds:    m.kinds,
		readOnly: m.readOnly || readOnly,
	}
}

// CopyFrom overwrites m's cells with src's. Shapes must match.
func (m *Mask) CopyFrom(src *Mask) error {
	if m.readOnly {
		return runtimef("cannot copy into a read-only mask")
	}
	if !m.shape.Equal(src.shape) {
		return invalidArgf("mask shape mismatch %s vs %s", m.shape, src.shape)
	}
	copy(m.kinds, src.kinds)
	return nil
}
