package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/ndarray"
)

func TestNewBatchMaskCompatibility(t *testing.T) {
	data, err := ndarray.NewDense(ndarray.Shape{2, 3, 2}, make([]float32, 12))
	require.NoError(t, err)

	t.Run("matching trailing dims", func(t *testing.T) {
		b, err := NewBatch(data, NewMask(3, 2))
		require.NoError(t, err)
		assert.NotNil(t, b.Mask())
	})

	t.Run("mismatched trailing dims", func(t *testing.T) {
		_, err := NewBatch(data, NewMask(2, 3))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("mask rank exceeds data rank", func(t *testing.T) {
		scalar, err := ndarray.NewDense(ndarray.Shape{4}, make([]float64, 4))
		require.NoError(t, err)
		_, err = NewBatch(scalar, NewMask(2, 2))
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("nil mask", func(t *testing.T) {
		b, err := NewBatch(data, nil)
		require.NoError(t, err)
		assert.Nil(t, b.Mask())
	})
}

func TestBatchDeepCloneAndAlias(t *testing.T) {
	b, err := CreateFromValues(ndarray.Shape{2}, [][]float32{{1, 2, 3, 4}, {5, 6}}, nil, device.CPU(), false)
	require.NoError(t, err)

	clone := b.DeepClone(false)
	buf, err := ndarray.WritableData[float32](clone.Data())
	require.NoError(t, err)
	buf[0] = 99

	orig, _ := ndarray.Data[float32](b.Data())
	assert.Equal(t, float32(1), orig[0], "DeepClone must not share data")

	view := b.Alias(true)
	assert.True(t, view.Data().ReadOnly())
	_, err = ndarray.WritableData[float32](view.Data())
	assert.Error(t, err)
}

func TestBatchCopyFrom(t *testing.T) {
	masked, err := CreateFromValues(ndarray.Shape{2}, [][]float32{{1, 2, 3, 4}, {5, 6}}, nil, device.CPU(), false)
	require.NoError(t, err)

	t.Run("masked into masked", func(t *testing.T) {
		dst := masked.DeepClone(false)
		src, err := CreateFromValues(ndarray.Shape{2}, [][]float32{{9, 9}, {8, 8, 7, 7}}, nil, device.CPU(), false)
		require.NoError(t, err)

		require.NoError(t, dst.CopyFrom(src))
		buf, _ := ndarray.Data[float32](dst.Data())
		assert.Equal(t, []float32{9, 9, 0, 0, 8, 8, 7, 7}, buf)
		assert.Equal(t, MaskInvalid, dst.Mask().At(1, 0))
	})

	t.Run("masked source into maskless destination", func(t *testing.T) {
		dst, err := CreateFromValues(ndarray.Shape{2}, [][]float32{{1, 2, 3, 4}, {4, 3, 2, 1}}, nil, device.CPU(), false)
		require.NoError(t, err)
		require.Nil(t, dst.Mask())

		// Same data shape, but the source carries a mask.
		err = dst.CopyFrom(masked)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("unmasked source clears destination mask", func(t *testing.T) {
		dst := masked.DeepClone(false)
		src, err := CreateFromValues(ndarray.Shape{2}, [][]float32{{1, 1, 2, 2}, {3, 3, 4, 4}}, nil, device.CPU(), false)
		require.NoError(t, err)
		require.Nil(t, src.Mask())

		require.NoError(t, dst.CopyFrom(src))
		assert.Equal(t, MaskValid, dst.Mask().At(1, 0), "destination mask should be cleared")
	})

	t.Run("shape mismatch", func(t *testing.T) {
		dst := masked.DeepClone(false)
		src, err := CreateFromValues(ndarray.Shape{3}, [][]float32{{1, 2, 3}}, nil, device.CPU(), false)
		require.NoError(t, err)
		err = dst.CopyFrom(src)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRuntime)
	})
}
