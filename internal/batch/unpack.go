package batch

import (
	"time"

	"github.com/23skdu/longbow-quiver/internal/ndarray"
)

// batchGeometry derives the sequence count and padded length from a batch
// shape. A batch holds either a single sequence (no batch axis) or a padded
// [maxLength, numSequences] pair of trailing axes.
func batchGeometry(valueShape, sampleShape ndarray.Shape) (numSequences, maxLength int, err error) {
	valueRank := valueShape.Rank()
	sampleRank := sampleShape.Rank()
	if valueRank < sampleRank+1 || valueRank > sampleRank+2 ||
		!valueShape.SubShape(0, sampleRank).Equal(sampleShape) {
		return 0, 0, runtimef("the sample shape %s does not match the batch shape %s", sampleShape, valueShape)
	}
	if valueRank == sampleRank+1 {
		return 1, valueShape[valueRank-1], nil
	}
	return valueShape[valueRank-1], valueShape[valueRank-2], nil
}

// UnpackToVectors recovers per-sequence element runs from a packed batch into
// caller-provided buffers. dest[i] must be large enough for sequence i's
// valid samples; lengths[i] receives the number of samples emitted. Surplus
// entries of lengths are zeroed. Off-CPU or sparse data is copied (and
// densified) to local memory first.
func UnpackToVectors[T ndarray.Element](b *Batch, sampleShape ndarray.Shape, dest [][]T, lengths []int) error {
	if ndarray.TypeOf[T]() != b.Data().DataType() {
		return runtimef("source element type %s does not match the destination element type %s", b.Data().DataType(), ndarray.TypeOf[T]())
	}
	return unpackRuns(b, sampleShape, dest, lengths, directCopy[T])
}

// UnpackOneHot decodes a batch of one-hot samples into vocabulary indices.
// Each sample must contain exactly one nonzero element.
func UnpackOneHot(b *Batch, vocabularySize int, dest [][]int, lengths []int) error {
	sampleShape := ndarray.Shape{vocabularySize}
	switch b.Data().DataType() {
	case ndarray.Float:
		return unpackRuns(b, sampleShape, dest, lengths, denseToOneHot[float32])
	case ndarray.Double:
		return unpackRuns(b, sampleShape, dest, lengths, denseToOneHot[float64])
	default:
		return logicf("unsupported element type %s", b.Data().DataType())
	}
}

// Unpack is the allocating variant of UnpackToVectors: it sizes the output
// buffers itself and truncates each to the emitted sample count.
func Unpack[T ndarray.Element](b *Batch, sampleShape ndarray.Shape) ([][]T, []int, error) {
	numSequences, maxLength, err := batchGeometry(b.Shape(), sampleShape)
	if err != nil {
		return nil, nil, err
	}
	sampleSize := sampleShape.TotalSize()
	dest := make([][]T, numSequences)
	for i := range dest {
		dest[i] = make([]T, maxLength*sampleSize)
	}
	lengths := make([]int, numSequences)
	if err := UnpackToVectors(b, sampleShape, dest, lengths); err != nil {
		return nil, nil, err
	}
	for i := range dest {
		dest[i] = dest[i][:lengths[i]*sampleSize]
	}
	return dest, lengths, nil
}

// UnpackOneHotIndices is the allocating variant of UnpackOneHot.
func UnpackOneHotIndices(b *Batch, vocabularySize int) ([][]int, []int, error) {
	numSequences, maxLength, err := batchGeometry(b.Shape(), ndarray.Shape{vocabularySize})
	if err != nil {
		return nil, nil, err
	}
	dest := make([][]int, numSequences)
	for i := range dest {
		dest[i] = make([]int, maxLength)
	}
	lengths := make([]int, numSequences)
	if err := UnpackOneHot(b, vocabularySize, dest, lengths); err != nil {
		return nil, nil, err
	}
	for i := range dest {
		dest[i] = dest[i][:lengths[i]]
	}
	return dest, lengths, nil
}

// runCopier consumes one contiguous run of sampleCount samples starting at
// src and appends it to dst, advancing the sample cursor.
type runCopier[S ndarray.Element, D any] func(src []S, sampleCount, sampleSize int, dst []D, cursor *int) error

func unpackRuns[S ndarray.Element, D any](b *Batch, sampleShape ndarray.Shape, dest [][]D, lengths []int, copyRun runCopier[S, D]) error {
	start := time.Now()
	defer func() {
		unpackDuration.Observe(time.Since(start).Seconds())
	}()

	numSequences, maxLength, err := batchGeometry(b.Shape(), sampleShape)
	if err != nil {
		return err
	}
	if len(dest) < numSequences {
		return runtimef("the size of the output buffer (%d) is too small, need %d", len(dest), numSequences)
	}
	if len(lengths) < numSequences {
		return runtimef("the size of the lengths buffer (%d) is too small, need %d", len(lengths), numSequences)
	}
	for i := numSequences; i < len(lengths); i++ {
		lengths[i] = 0
	}

	// Blocking copy to local memory; sparse sources are densified in the
	// process rather than decoded in place.
	arr := b.Data().Densified()
	src, err := ndarray.Data[S](arr)
	if err != nil {
		return runtimef("accessing batch buffer: %v", err)
	}

	var kinds []MaskKind
	if b.Mask() != nil {
		kinds = b.Mask().Kinds()
	}

	sampleSize := sampleShape.TotalSize()
	for seq := 0; seq < numSequences; seq++ {
		seqStart := seq * maxLength
		cursor := 0
		current := 0
		for current < maxLength {
			if kinds != nil {
				for current < maxLength && kinds[seqStart+current] == MaskInvalid {
					current++
				}
			}
			runStart := current
			if kinds != nil {
				for current < maxLength && kinds[seqStart+current] != MaskInvalid {
					current++
				}
			} else {
				current = maxLength
			}
			if current > runStart {
				offset := (seqStart + runStart) * sampleSize
				if err := copyRun(src[offset:], current-runStart, sampleSize, dest[seq], &cursor); err != nil {
					return err
				}
			}
		}
		lengths[seq] = cursor
	}

	batchesUnpacked.Inc()
	return nil
}

func directCopy[T ndarray.Element](src []T, sampleCount, sampleSize int, dst []T, cursor *int) error {
	if (*cursor+sampleCount)*sampleSize > len(dst) {
		return runtimef("the output buffer is too small")
	}
	copy(dst[*cursor*sampleSize:], src[:sampleCount*sampleSize])
	*cursor += sampleCount
	return nil
}

func denseToOneHot[T ndarray.Element](src []T, sampleCount, sampleSize int, dst []int, cursor *int) error {
	for s := 0; s < sampleCount; s++ {
		sample := src[s*sampleSize : (s+1)*sampleSize]
		index := -1
		for k, v := range sample {
			if v == 0 {
				continue
			}
			if index >= 0 {
				return runtimef("cannot convert to a one-hot vector: more than one non-zero value in the sample")
			}
			index = k
		}
		if index < 0 {
			return runtimef("cannot convert to a one-hot vector: the sample does not have any non-zero value")
		}
		if *cursor >= len(dst) {
			return runtimef("the output buffer is too small")
		}
		dst[*cursor] = index
		*cursor++
	}
	return nil
}
