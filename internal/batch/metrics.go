package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchesPacked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_batches_packed_total",
		Help: "Total number of batches packed, by storage format",
	}, []string{"format"})

	sequencesPacked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_sequences_packed_total",
		Help: "Total number of sequences packed into batches",
	})

	batchesUnpacked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_batches_unpacked_total",
		Help: "Total number of batches unpacked back into sequences",
	})

	unpackDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quiver_unpack_duration_seconds",
		Help:    "Time spent unpacking batches",
		Buckets: prometheus.DefBuckets,
	})
)
