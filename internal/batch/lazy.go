package batch

import (
	"github.com/23skdu/longbow-quiver/internal/ndarray"
)

// UnpackConfig controls deferred materialization. It is passed explicitly to
// accessors rather than read from process-global state.
type UnpackConfig struct {
	// DisableAutoUnpack makes accessors refuse to materialize non-trivial
	// packed batches (more than one time step and more than one sequence),
	// forcing callers to acknowledge they are consuming padded data.
	DisableAutoUnpack bool
}

// Layout describes the geometry of a packed source buffer produced by an
// upstream execution engine.
type Layout struct {
	NumSequences int
	MaxLength    int
	// Lengths holds the valid sample count of each sequence; StartFlags
	// marks which sequences begin a new logical stream. Empty StartFlags
	// means all of them do.
	Lengths    []int
	StartFlags []bool
}

// PackedBatch defers unpacking of a packed source buffer until first access.
// It is a two-state handle: packed (source + layout) or unpacked (final
// batch), never both. The transition mutates the handle in place and is not
// safe under concurrent access; callers must serialize use of one handle.
type PackedBatch struct {
	sampleShape   ndarray.Shape
	layout        *Layout
	readOnly      bool
	unpackedShape ndarray.Shape

	packed *ndarray.Array
	batch  *Batch
}

// NewPackedBatch wraps a dense packed source buffer. The source must hold
// exactly sampleSize * maxLength * numSequences elements.
func NewPackedBatch(sampleShape ndarray.Shape, source *ndarray.Array, layout *Layout, readOnly bool) (*PackedBatch, error) {
	if source.IsSparse() {
		return nil, notImplementedf("packed sparse source buffers are not supported")
	}
	if layout.NumSequences <= 0 || layout.MaxLength <= 0 {
		return nil, invalidArgf("layout must describe at least one sequence and one time step")
	}
	if len(layout.Lengths) != layout.NumSequences {
		return nil, invalidArgf("layout holds %d lengths for %d sequences", len(layout.Lengths), layout.NumSequences)
	}
	unpackedShape := sampleShape.Append(layout.MaxLength, layout.NumSequences)
	if source.Shape().TotalSize() != unpackedShape.TotalSize() {
		return nil, invalidArgf("source buffer holds %d elements, layout describes %d", source.Shape().TotalSize(), unpackedShape.TotalSize())
	}
	return &PackedBatch{
		sampleShape:   sampleShape,
		layout:        layout,
		readOnly:      readOnly,
		unpackedShape: unpackedShape,
		packed:        source,
	}, nil
}

// IsPacked reports whether the batch has not been materialized yet.
func (p *PackedBatch) IsPacked() bool {
	return p.packed != nil
}

// Data materializes the batch if needed and returns its data array.
func (p *PackedBatch) Data(cfg UnpackConfig) (*ndarray.Array, error) {
	if err := p.unpack(cfg); err != nil {
		return nil, err
	}
	return p.batch.Data(), nil
}

// MaskData materializes the batch if needed and returns its mask, which may
// be nil.
func (p *PackedBatch) MaskData(cfg UnpackConfig) (*Mask, error) {
	if err := p.unpack(cfg); err != nil {
		return nil, err
	}
	return p.batch.Mask(), nil
}

// Batch materializes and returns the full batch.
func (p *PackedBatch) Batch(cfg UnpackConfig) (*Batch, error) {
	if err := p.unpack(cfg); err != nil {
		return nil, err
	}
	return p.batch, nil
}

// unpack performs the one-way packed-to-unpacked transition. It runs the
// transform exactly once; later calls are no-ops.
func (p *PackedBatch) unpack(cfg UnpackConfig) error {
	if p.packed == nil {
		return nil
	}
	if cfg.DisableAutoUnpack && p.layout.MaxLength != 1 && p.layout.NumSequences != 1 {
		return logicf("automatic unpacking of packed batches is disabled")
	}

	mask, err := BuildMask(p.layout.Lengths, p.layout.StartFlags)
	if err != nil {
		return logicf("building mask from packed layout: %v", err)
	}

	source := p.packed
	if p.readOnly {
		source = source.Alias(true)
	}
	data, err := source.Reshaped(p.unpackedShape)
	if err != nil {
		return logicf("reshaping packed source: %v", err)
	}

	batch, err := NewBatch(data, mask)
	if err != nil {
		return logicf("the computed unpacked shape of the packed batch does not match the materialized data: %v", err)
	}
	if !batch.Shape().Equal(p.unpackedShape) {
		return logicf("the computed unpacked shape %s does not match the materialized shape %s", p.unpackedShape, batch.Shape())
	}

	p.batch = batch
	p.packed = nil
	return nil
}
