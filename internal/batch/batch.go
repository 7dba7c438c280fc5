// Package batch packs independently-sized sample sequences into uniformly
// shaped padded tensors (dense or CSC sparse) and reverses the transform. It
// is the batching layer between longbow producers (fletcher, quarrel) and
// consumers that want per-sequence vectors back.
package batch

import (
	"github.com/23skdu/longbow-quiver/internal/ndarray"
)

// Batch couples a packed data array with an optional validity mask. A nil
// mask means every cell is valid. The Batch exclusively owns both until they
// are handed out.
type Batch struct {
	data *ndarray.Array
	mask *Mask
}

// NewBatch wraps data and mask, enforcing right-aligned shape compatibility:
// the mask's dimensions must equal the trailing dimensions of the data.
func NewBatch(data *ndarray.Array, mask *Mask) (*Batch, error) {
	if mask != nil {
		dataShape := data.Shape()
		maskShape := mask.Shape()
		if maskShape.Rank() > dataShape.Rank() {
			return nil, invalidArgf("the rank (%d) of the mask cannot exceed the rank (%d) of the data", maskShape.Rank(), dataShape.Rank())
		}
		trailing := dataShape.SubShape(dataShape.Rank()-maskShape.Rank(), dataShape.Rank())
		if !trailing.Equal(maskShape) {
			return nil, invalidArgf("the data and mask are incompatible: trailing dimensions of data shape %s do not match mask shape %s", dataShape, maskShape)
		}
	}
	return &Batch{data: data, mask: mask}, nil
}

// Data returns the packed data array.
func (b *Batch) Data() *ndarray.Array {
	return b.data
}

// Mask returns the validity mask, or nil when everything is valid.
func (b *Batch) Mask() *Mask {
	return b.mask
}

func (b *Batch) Shape() ndarray.Shape {
	return b.data.Shape()
}

// DeepClone returns an independent copy of the batch and its mask.
func (b *Batch) DeepClone(readOnly bool) *Batch {
	var mask *Mask
	if b.mask != nil {
		mask = b.mask.DeepClone(readOnly)
	}
	return &Batch{
		data: b.data.DeepClone(b.data.Device(), readOnly),
		mask: mask,
	}
}

// Alias returns a view of the batch sharing its storage.
func (b *Batch) Alias(readOnly bool) *Batch {
	var mask *Mask
	if b.mask != nil {
		mask = b.mask.Alias(readOnly)
	}
	return &Batch{
		data: b.data.Alias(readOnly),
		mask: mask,
	}
}

// CopyFrom overwrites the batch contents with src's. Copying a masked source
// into a maskless destination is rejected; copying an unmasked source into a
// masked destination clears the destination mask.
func (b *Batch) CopyFrom(src *Batch) error {
	if b.mask == nil && src.mask != nil {
		return invalidArgf("cannot copy a batch with a mask into a batch that does not have one")
	}
	if err := b.data.CopyFrom(src.data); err != nil {
		return runtimef("copying batch data: %v", err)
	}
	if src.mask != nil {
		return b.mask.CopyFrom(src.mask)
	}
	if b.mask != nil {
		return b.mask.Clear()
	}
	return nil
}
