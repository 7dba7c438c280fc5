package batch

import (
	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/ndarray"
)

// Create packs per-sequence arrays into one padded batch on the target
// device. All sequences must share element type and storage format, and each
// sequence's leading dimensions must match sampleShape. When copyInput is
// false and exactly one sequence is supplied, the batch reuses the caller's
// array instead of copying it.
func Create(sampleShape ndarray.Shape, sequences []*ndarray.Array, startFlags []bool, dev device.Descriptor, readOnly, copyInput bool) (*Batch, error) {
	numSequences := len(sequences)
	if numSequences == 0 {
		return nil, invalidArgf("the number of sequences is 0")
	}

	sampleRank := sampleShape.Rank()
	sampleTotal := sampleShape.TotalSize()
	dtype := sequences[0].DataType()
	format := sequences[0].Format()

	lengths := make([]int, numSequences)
	maxLength := 0
	for i, seq := range sequences {
		if seq.DataType() != dtype {
			return nil, invalidArgf("all sequences must have the same element type; sequence %d is %s, want %s", i, seq.DataType(), dtype)
		}
		if seq.Format() != format {
			return nil, invalidArgf("all sequences must have the same storage format; sequence %d is %s, want %s", i, seq.Format(), format)
		}
		if numSequences > 1 && !seq.Device().IsCPU() {
			if seq.IsSparse() {
				return nil, notImplementedf("merging sparse sequences resident on %s is not supported", seq.Device())
			}
			return nil, invalidArgf("all sequence arrays must be located on the CPU, sequence %d is on %s", i, seq.Device())
		}

		seqShape := seq.Shape()
		// Scalar samples may arrive as rank-1 data without the leading unit
		// axis; pad the shape so the compatibility check below holds.
		if sampleRank == 1 && sampleTotal == 1 && (seqShape.Rank() == 0 || seqShape[0] != 1) {
			seqShape = ndarray.Shape{1}.Append(seqShape...)
		}

		if seqShape.Rank() < sampleRank || seqShape.Rank() > sampleRank+1 ||
			!seqShape.SubShape(0, sampleRank).Equal(sampleShape) {
			return nil, invalidArgf("the shape of sequence %d (%s) is not compatible with the sample shape (%s)", i, seq.Shape(), sampleShape)
		}

		lengths[i] = seqShape.SubShape(sampleRank, seqShape.Rank()).TotalSize()
		if lengths[i] > maxLength {
			maxLength = lengths[i]
		}
	}

	isSparse := sequences[0].IsSparse()
	if isSparse && sampleShape[0] != sampleTotal {
		return nil, invalidArgf("the sample shape's leading axis dimensionality (%d) must equal the total size of the sample (%d) for sparse data", sampleShape[0], sampleTotal)
	}

	mask, err := BuildMask(lengths, startFlags)
	if err != nil {
		return nil, err
	}

	var valueData *ndarray.Array
	if numSequences == 1 {
		if copyInput {
			valueData = sequences[0].DeepClone(sequences[0].Device(), false)
		} else {
			valueData = sequences[0]
		}
	} else {
		batchShape := sampleShape.Append(maxLength, numSequences)
		if isSparse {
			valueData, err = mergeSparse(dtype, batchShape, sequences, maxLength)
		} else {
			valueData, err = mergeDense(dtype, batchShape, sequences, sampleTotal, maxLength)
		}
		if err != nil {
			return nil, err
		}
	}

	var deviceData *ndarray.Array
	if valueData.Device() == dev {
		if readOnly {
			deviceData = valueData.Alias(true)
		} else {
			deviceData = valueData
		}
	} else {
		deviceData = valueData.DeepClone(dev, readOnly)
	}

	batchesPacked.WithLabelValues(format.String()).Inc()
	sequencesPacked.Add(float64(numSequences))
	return NewBatch(deviceData, mask)
}

// CreateFromValues wraps raw per-sequence element slices into arrays and
// packs them. Each slice's length must be a multiple of the sample size.
func CreateFromValues[T ndarray.Element](sampleShape ndarray.Shape, sequences [][]T, startFlags []bool, dev device.Descriptor, readOnly bool) (*Batch, error) {
	sampleTotal := sampleShape.TotalSize()
	arrays := make([]*ndarray.Array, len(sequences))
	for i, seq := range sequences {
		if len(seq)%sampleTotal != 0 {
			return nil, invalidArgf("the number of elements (%d) in sequence %d must be a multiple of the sample size (%d)", len(seq), i, sampleTotal)
		}
		length := len(seq) / sampleTotal
		arr, err := ndarray.NewDense(sampleShape.Append(length), seq)
		if err != nil {
			return nil, invalidArgf("wrapping sequence %d: %v", i, err)
		}
		arrays[i] = arr
	}
	// The wrapping arrays are already private copies, so the single-sequence
	// fast path may adopt them without another copy.
	return Create(sampleShape, arrays, startFlags, dev, readOnly, false)
}

// CreateOneHot builds a CSC batch directly from vocabulary index sequences;
// the sample shape is [vocabularySize]. No dense intermediate is allocated.
func CreateOneHot[T ndarray.Element](vocabularySize int, sequences [][]int, startFlags []bool, dev device.Descriptor, readOnly bool) (*Batch, error) {
	numSequences := len(sequences)
	if numSequences == 0 {
		return nil, invalidArgf("the number of sequences is 0")
	}

	lengths := make([]int, numSequences)
	for i, seq := range sequences {
		lengths[i] = len(seq)
	}

	mask, err := BuildMask(lengths, startFlags)
	if err != nil {
		return nil, err
	}
	// Without a mask all sequences share the same length.
	maxLength := lengths[0]
	if mask != nil {
		maxLength = mask.Shape()[0]
	}

	numCols := maxLength * numSequences
	colStarts := make([]int32, numCols+1)
	var rowIndices []int32
	var values []T

	for i, seq := range sequences {
		j := 0
		for ; j < len(seq); j++ {
			index := seq[j]
			if index < 0 || index >= vocabularySize {
				return nil, invalidArgf("one-hot index %d of sequence %d exceeds the vocabulary size %d", index, i, vocabularySize)
			}
			colStarts[i*maxLength+j] = int32(len(values))
			values = append(values, 1)
			rowIndices = append(rowIndices, int32(index))
		}
		for ; j < maxLength; j++ {
			colStarts[i*maxLength+j] = int32(len(values))
		}
	}
	colStarts[numCols] = int32(len(values))

	batchShape := ndarray.Shape{vocabularySize}.Append(maxLength, numSequences)
	data, err := ndarray.NewSparse(batchShape, colStarts, rowIndices, values, dev, readOnly)
	if err != nil {
		return nil, logicf("assembling one-hot batch: %v", err)
	}

	batchesPacked.WithLabelValues(ndarray.SparseCSC.String()).Inc()
	sequencesPacked.Add(float64(numSequences))
	return NewBatch(data, mask)
}

func mergeDense(dtype ndarray.DataType, batchShape ndarray.Shape, sequences []*ndarray.Array, sampleTotal, maxLength int) (*ndarray.Array, error) {
	dst := ndarray.Zeros(dtype, batchShape, device.CPU())
	switch dtype {
	case ndarray.Float:
		return dst, copyDenseSequences[float32](dst, sequences, sampleTotal, maxLength)
	case ndarray.Double:
		return dst, copyDenseSequences[float64](dst, sequences, sampleTotal, maxLength)
	default:
		return nil, logicf("unsupported element type %s", dtype)
	}
}

func copyDenseSequences[T ndarray.Element](dst *ndarray.Array, sequences []*ndarray.Array, sampleTotal, maxLength int) error {
	dstBuf, err := ndarray.WritableData[T](dst)
	if err != nil {
		return logicf("accessing batch buffer: %v", err)
	}
	maxSequenceElems := sampleTotal * maxLength
	for i, seq := range sequences {
		srcBuf, err := ndarray.Data[T](seq)
		if err != nil {
			return logicf("accessing sequence %d buffer: %v", i, err)
		}
		copy(dstBuf[i*maxSequenceElems:], srcBuf)
	}
	return nil
}

func mergeSparse(dtype ndarray.DataType, batchShape ndarray.Shape, sequences []*ndarray.Array, maxLength int) (*ndarray.Array, error) {
	switch dtype {
	case ndarray.Float:
		return appendSparseSequences[float32](batchShape, sequences, maxLength)
	case ndarray.Double:
		return appendSparseSequences[float64](batchShape, sequences, maxLength)
	default:
		return nil, logicf("unsupported element type %s", dtype)
	}
}

func appendSparseSequences[T ndarray.Element](batchShape ndarray.Shape, sequences []*ndarray.Array, maxLength int) (*ndarray.Array, error) {
	var colStarts, rowIndices []int32
	var values []T

	for i, seq := range sequences {
		seqValues, err := ndarray.Data[T](seq)
		if err != nil {
			return nil, logicf("accessing sequence %d values: %v", i, err)
		}
		seqColStarts := seq.ColStarts()
		numCols := len(seqColStarts) - 1

		existing := int32(len(values))
		nonZero := seqColStarts[numCols] - seqColStarts[0]

		rowIndices = append(rowIndices, seq.RowIndices()...)
		values = append(values, seqValues...)

		colStarts = append(colStarts, rebaseColStarts(seqColStarts[:numCols], existing)...)
		// Pad to maxLength with empty columns.
		for j := numCols; j < maxLength; j++ {
			colStarts = append(colStarts, existing+nonZero)
		}
	}
	colStarts = append(colStarts, int32(len(values)))

	merged, err := ndarray.NewSparse(batchShape, colStarts, rowIndices, values, device.CPU(), false)
	if err != nil {
		return nil, invalidArgf("merging sparse sequences: %v", err)
	}
	return merged, nil
}

// rebaseColStarts shifts a CSC column-start run so its first entry lands at
// offset. The input is not modified.
func rebaseColStarts(colStarts []int32, offset int32) []int32 {
	if len(colStarts) == 0 {
		return nil
	}
	out := make([]int32, len(colStarts))
	base := colStarts[0]
	for j, cs := range colStarts {
		out[j] = offset + (cs - base)
	}
	return out
}
