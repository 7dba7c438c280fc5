package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockFlightClient struct {
	mock.Mock
}

func (m *mockFlightClient) DoPut(ctx context.Context, dataset string, record arrow.RecordBatch) error {
	args := m.Called(ctx, dataset, record)
	return args.Error(0)
}

func (m *mockFlightClient) Close() error {
	return nil
}

func postCBOR(t *testing.T, handler http.HandlerFunc, path string, req any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := cbor.Marshal(req)
	require.NoError(t, err)
	httpReq, err := http.NewRequest("POST", path, bytes.NewReader(data))
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httpReq)
	return rr
}

func decodeRecord(t *testing.T, payload []byte) arrow.Record {
	t.Helper()
	reader, err := ipc.NewReader(bytes.NewReader(payload))
	require.NoError(t, err)
	defer reader.Release()
	require.True(t, reader.Next())
	rec := reader.Record()
	rec.Retain()
	return rec
}

func TestServerPack(t *testing.T) {
	mfc := &mockFlightClient{}
	srv := NewServer(mfc, "test-dataset", 64)

	t.Run("pack with forwarding", func(t *testing.T) {
		mfc.On("DoPut", mock.Anything, "test-dataset", mock.Anything).Return(nil)

		rr := postCBOR(t, srv.handlePack, "/pack", packRequest{
			SampleShape: []int{2},
			Sequences:   [][]float32{{1, 2, 3, 4, 5, 6}, {7, 8}},
		})

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "application/vnd.apache.arrow.stream", rr.Header().Get("Content-Type"))

		rec := decodeRecord(t, rr.Body.Bytes())
		defer rec.Release()
		assert.Equal(t, int64(2), rec.NumRows())

		// Row width is sampleSize * maxLength = 2 * 3.
		values := rec.Column(0).(*array.FixedSizeList)
		flat := values.ListValues().(*array.Float32)
		assert.Equal(t, 12, flat.Len())
		assert.Equal(t, float32(7), flat.Value(6))
		assert.Equal(t, float32(0), flat.Value(8))

		mfc.AssertExpectations(t)
	})

	t.Run("identical request hits the cache", func(t *testing.T) {
		before := srv.records.Size()
		rr := postCBOR(t, srv.handlePack, "/pack", packRequest{
			SampleShape: []int{2},
			Sequences:   [][]float32{{1, 2, 3, 4, 5, 6}, {7, 8}},
		})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, before, srv.records.Size(), "repeat request must not grow the cache")
	})

	t.Run("ragged sequence rejected", func(t *testing.T) {
		rr := postCBOR(t, srv.handlePack, "/pack", packRequest{
			SampleShape: []int{2},
			Sequences:   [][]float32{{1, 2, 3}},
		})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("empty request", func(t *testing.T) {
		rr := postCBOR(t, srv.handlePack, "/pack", packRequest{SampleShape: []int{2}})
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Body.Bytes())
	})

	t.Run("method not allowed", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/pack", nil)
		rr := httptest.NewRecorder()
		http.HandlerFunc(srv.handlePack).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})
}

func TestServerPackOneHot(t *testing.T) {
	srv := NewServer(nil, "test-dataset", 64)

	t.Run("valid indices", func(t *testing.T) {
		rr := postCBOR(t, srv.handlePackOneHot, "/pack/onehot", oneHotRequest{
			VocabularySize: 3,
			Sequences:      [][]int{{2, 0}, {1}},
		})
		require.Equal(t, http.StatusOK, rr.Code)

		rec := decodeRecord(t, rr.Body.Bytes())
		defer rec.Release()
		assert.Equal(t, int64(2), rec.NumRows())

		// Row width is vocabularySize * maxLength = 3 * 2; entries are
		// one-hot columns in time order.
		flat := rec.Column(0).(*array.FixedSizeList).ListValues().(*array.Float32)
		assert.Equal(t, 12, flat.Len())
		assert.Equal(t, float32(1), flat.Value(2))
		assert.Equal(t, float32(1), flat.Value(3))
		assert.Equal(t, float32(1), flat.Value(7))
	})

	t.Run("index out of range", func(t *testing.T) {
		rr := postCBOR(t, srv.handlePackOneHot, "/pack/onehot", oneHotRequest{
			VocabularySize: 3,
			Sequences:      [][]int{{5}},
		})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestServerHealth(t *testing.T) {
	srv := NewServer(nil, "test-dataset", 1)

	req, _ := http.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	srv.handleHealth(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}
