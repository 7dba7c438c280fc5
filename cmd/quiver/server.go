package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-quiver/internal/batch"
	"github.com/23skdu/longbow-quiver/internal/cache"
	"github.com/23skdu/longbow-quiver/internal/client"
	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/ndarray"
)

var (
	requestsServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_requests_total",
		Help: "Pack requests served, by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quiver_request_duration_seconds",
		Help:    "Time spent serving pack requests",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_cache_hits_total",
		Help: "Pack requests answered from the record cache",
	})
)

type FlightClientInterface interface {
	DoPut(ctx context.Context, dataset string, record arrow.RecordBatch) error
	Close() error
}

type packRequest struct {
	SampleShape []int       `cbor:"sample_shape"`
	Sequences   [][]float32 `cbor:"sequences"`
	StartFlags  []bool      `cbor:"start_flags,omitempty"`
}

type oneHotRequest struct {
	VocabularySize int     `cbor:"vocabulary_size"`
	Sequences      [][]int `cbor:"sequences"`
	StartFlags     []bool  `cbor:"start_flags,omitempty"`
}

type Server struct {
	builder      *client.RecordBuilder
	flightClient FlightClientInterface
	breaker      *client.CircuitBreaker
	records      cache.BatchCache
	datasetName  string
	sem          *semaphore.Weighted
}

func NewServer(fc FlightClientInterface, dataset string, maxConcurrent int) *Server {
	return &Server{
		builder:      client.NewRecordBuilder(memory.NewGoAllocator()),
		flightClient: fc,
		breaker:      client.NewCircuitBreaker(5, 10*time.Second),
		records:      cache.NewMapCache(),
		datasetName:  dataset,
		sem:          semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

func startServer(addr string, fc FlightClientInterface, dataset string, maxConcurrent int) {
	srv := NewServer(fc, dataset, maxConcurrent)

	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/pack", srv.handlePack)
	http.HandleFunc("/pack/onehot", srv.handlePackOneHot)
	http.HandleFunc("/health", srv.handleHealth)

	log.Info().Str("addr", addr).Msg("Starting Quiver Server")
	if fc != nil {
		log.Info().Str("dataset", dataset).Msg("Forwarding packed batches downstream")
	}

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("quiver-server")

func (s *Server) handlePack(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handlePack")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		requestsServed.WithLabelValues("pack", "error").Inc()
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		requestsServed.WithLabelValues("pack", "error").Inc()
		return
	}

	if payload, ok := s.records.Get(digest(body)); ok {
		cacheHits.Inc()
		span.SetAttributes(attribute.Bool("cache_hit", true))
		writeRecordPayload(w, payload)
		requestsServed.WithLabelValues("pack", "ok").Inc()
		return
	}

	var req packRequest
	if err := cbor.Unmarshal(body, &req); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		requestsServed.WithLabelValues("pack", "error").Inc()
		return
	}
	if len(req.Sequences) == 0 {
		w.WriteHeader(http.StatusOK)
		requestsServed.WithLabelValues("pack", "ok").Inc()
		return
	}

	span.SetAttributes(attribute.Int("sequence_count", len(req.Sequences)))

	weight := int64(len(req.Sequences))
	if err := s.sem.Acquire(ctx, weight); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		requestsServed.WithLabelValues("pack", "error").Inc()
		return
	}
	defer s.sem.Release(weight)

	sampleShape := ndarray.Shape(req.SampleShape)
	bt, err := batch.CreateFromValues(sampleShape, req.Sequences, req.StartFlags, device.CPU(), false)
	if err != nil {
		span.RecordError(err)
		writePackError(w, err)
		requestsServed.WithLabelValues("pack", "error").Inc()
		return
	}

	s.finishPack(ctx, w, "pack", digest(body), sampleShape, bt)
}

func (s *Server) handlePackOneHot(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handlePackOneHot")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		requestsServed.WithLabelValues("onehot", "error").Inc()
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		requestsServed.WithLabelValues("onehot", "error").Inc()
		return
	}

	if payload, ok := s.records.Get(digest(body)); ok {
		cacheHits.Inc()
		span.SetAttributes(attribute.Bool("cache_hit", true))
		writeRecordPayload(w, payload)
		requestsServed.WithLabelValues("onehot", "ok").Inc()
		return
	}

	var req oneHotRequest
	if err := cbor.Unmarshal(body, &req); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		requestsServed.WithLabelValues("onehot", "error").Inc()
		return
	}
	if len(req.Sequences) == 0 {
		w.WriteHeader(http.StatusOK)
		requestsServed.WithLabelValues("onehot", "ok").Inc()
		return
	}

	span.SetAttributes(
		attribute.Int("sequence_count", len(req.Sequences)),
		attribute.Int("vocabulary_size", req.VocabularySize),
	)

	weight := int64(len(req.Sequences))
	if err := s.sem.Acquire(ctx, weight); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		requestsServed.WithLabelValues("onehot", "error").Inc()
		return
	}
	defer s.sem.Release(weight)

	bt, err := batch.CreateOneHot[float32](req.VocabularySize, req.Sequences, req.StartFlags, device.CPU(), false)
	if err != nil {
		span.RecordError(err)
		writePackError(w, err)
		requestsServed.WithLabelValues("onehot", "error").Inc()
		return
	}

	// The record format is dense; widen the sparse columns before encoding.
	dense, err := batch.NewBatch(bt.Data().Densified(), bt.Mask())
	if err != nil {
		span.RecordError(err)
		writePackError(w, err)
		requestsServed.WithLabelValues("onehot", "error").Inc()
		return
	}

	sampleShape := ndarray.Shape{req.VocabularySize}
	s.finishPack(ctx, w, "onehot", digest(body), sampleShape, dense)
}

// finishPack encodes the batch, caches the payload, forwards it downstream
// when a client is configured, and writes the response.
func (s *Server) finishPack(ctx context.Context, w http.ResponseWriter, endpoint, key string, sampleShape ndarray.Shape, bt *batch.Batch) {
	rec, err := s.builder.BuildRecord(sampleShape, bt)
	if err != nil {
		http.Error(w, fmt.Sprintf("Encoding failed: %v", err), http.StatusInternalServerError)
		requestsServed.WithLabelValues(endpoint, "error").Inc()
		return
	}
	defer rec.Release()

	payload, err := client.MarshalRecord(rec)
	if err != nil {
		http.Error(w, fmt.Sprintf("Encoding failed: %v", err), http.StatusInternalServerError)
		requestsServed.WithLabelValues(endpoint, "error").Inc()
		return
	}
	s.records.Put(key, payload)

	if s.flightClient != nil {
		s.forward(ctx, rec)
	}

	writeRecordPayload(w, payload)
	requestsServed.WithLabelValues(endpoint, "ok").Inc()
}

// forward ships the record downstream, guarded by the circuit breaker.
// Forwarding failures are logged but never fail the request.
func (s *Server) forward(ctx context.Context, rec arrow.Record) {
	if !s.breaker.Allow() {
		log.Warn().Str("state", s.breaker.State().String()).Msg("Skipping forward, circuit open")
		return
	}
	if err := s.flightClient.DoPut(ctx, s.datasetName, rec); err != nil {
		s.breaker.Failure()
		log.Error().Err(err).Msg("Error forwarding batch downstream")
		return
	}
	s.breaker.Success()
}

func writeRecordPayload(w http.ResponseWriter, payload []byte) {
	w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// writePackError maps the batch error taxonomy onto HTTP statuses.
func writePackError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, batch.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, batch.ErrNotImplemented):
		status = http.StatusNotImplemented
	}
	http.Error(w, err.Error(), status)
}

func digest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
