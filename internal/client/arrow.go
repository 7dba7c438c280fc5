package client

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-quiver/internal/batch"
	"github.com/23skdu/longbow-quiver/internal/ndarray"
)

// RecordBuilder converts packed batches into Arrow RecordBatches. Each row of
// the record is one sequence slot: a fixed-size list of padded sample values
// plus the per-step mask kinds. The sample shape travels in schema metadata so
// a receiver can reconstruct the batch geometry.
type RecordBuilder struct {
	mem memory.Allocator
}

// NewRecordBuilder creates a builder using the given allocator.
func NewRecordBuilder(mem memory.Allocator) *RecordBuilder {
	return &RecordBuilder{mem: mem}
}

// BuildRecord converts a dense batch into an Arrow RecordBatch. Sparse
// batches must be densified by the caller first.
func (b *RecordBuilder) BuildRecord(sampleShape ndarray.Shape, bt *batch.Batch) (arrow.Record, error) {
	data := bt.Data()
	if data.IsSparse() {
		return nil, fmt.Errorf("cannot build a record from a sparse batch")
	}

	sampleSize := sampleShape.TotalSize()
	numSequences, maxLength, err := batchGeometry(data.Shape(), sampleShape)
	if err != nil {
		return nil, err
	}

	var valueType arrow.DataType
	switch data.DataType() {
	case ndarray.Float:
		valueType = arrow.PrimitiveTypes.Float32
	case ndarray.Double:
		valueType = arrow.PrimitiveTypes.Float64
	default:
		return nil, fmt.Errorf("unsupported element type %s", data.DataType())
	}

	rowWidth := sampleSize * maxLength
	schema := arrow.NewSchema(
		[]arrow.Field{
			{Name: "values", Type: arrow.FixedSizeListOf(int32(rowWidth), valueType)},
			{Name: "mask", Type: arrow.FixedSizeListOf(int32(maxLength), arrow.PrimitiveTypes.Uint8)},
		},
		schemaMetadata(sampleShape, maxLength),
	)

	valuesBuilder := array.NewFixedSizeListBuilder(b.mem, int32(rowWidth), valueType)
	defer valuesBuilder.Release()
	maskBuilder := array.NewFixedSizeListBuilder(b.mem, int32(maxLength), arrow.PrimitiveTypes.Uint8)
	defer maskBuilder.Release()
	maskValues := maskBuilder.ValueBuilder().(*array.Uint8Builder)

	for i := 0; i < numSequences; i++ {
		valuesBuilder.Append(true)
		begin := i * rowWidth
		switch vb := valuesBuilder.ValueBuilder().(type) {
		case *array.Float32Builder:
			row, err := ndarray.Data[float32](data)
			if err != nil {
				return nil, err
			}
			vb.AppendValues(row[begin:begin+rowWidth], nil)
		case *array.Float64Builder:
			row, err := ndarray.Data[float64](data)
			if err != nil {
				return nil, err
			}
			vb.AppendValues(row[begin:begin+rowWidth], nil)
		}

		maskBuilder.Append(true)
		for t := 0; t < maxLength; t++ {
			kind := batch.MaskValid
			if m := bt.Mask(); m != nil {
				kind = m.At(t, i)
			}
			maskValues.Append(uint8(kind))
		}
	}

	cols := []arrow.Array{valuesBuilder.NewArray(), maskBuilder.NewArray()}
	defer cols[0].Release()
	defer cols[1].Release()

	return array.NewRecord(schema, cols, int64(numSequences)), nil
}

// MarshalRecord serializes a record into Arrow IPC stream bytes.
func MarshalRecord(rec arrow.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(rec.Schema()))
	if err := w.Write(rec); err != nil {
		w.Close()
		return nil, fmt.Errorf("writing record: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing ipc stream: %w", err)
	}
	return buf.Bytes(), nil
}

func schemaMetadata(sampleShape ndarray.Shape, maxLength int) *arrow.Metadata {
	dims := make([]string, sampleShape.Rank())
	for i, d := range sampleShape {
		dims[i] = strconv.Itoa(d)
	}
	md := arrow.NewMetadata(
		[]string{"sample_shape", "max_length"},
		[]string{strings.Join(dims, ","), strconv.Itoa(maxLength)},
	)
	return &md
}

// batchGeometry splits a batch shape into its sequence and time axes. It
// accepts sample dims plus one or two trailing axes, the same layouts the
// unpackers produce.
func batchGeometry(valueShape, sampleShape ndarray.Shape) (numSequences, maxLength int, err error) {
	sampleRank := sampleShape.Rank()
	rank := valueShape.Rank()
	if rank != sampleRank+1 && rank != sampleRank+2 {
		return 0, 0, fmt.Errorf("batch shape %s is not a padded form of sample shape %s", valueShape, sampleShape)
	}
	if !valueShape.SubShape(0, sampleRank).Equal(sampleShape) {
		return 0, 0, fmt.Errorf("batch shape %s does not begin with sample shape %s", valueShape, sampleShape)
	}
	if rank == sampleRank+1 {
		return 1, valueShape[sampleRank], nil
	}
	return valueShape[sampleRank+1], valueShape[sampleRank], nil
}
