package main

import (
	"math/rand"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/23skdu/longbow-quiver/internal/batch"
	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/ndarray"
)

// runBench packs and unpacks batches of random variable-length sequences and
// reports latency statistics.
func runBench(iters, numSequences, maxLength, sampleDim int) {
	rng := rand.New(rand.NewSource(1))
	sample := ndarray.Shape{sampleDim}
	pool := device.NewBufferPool[float32]()

	durations := make([]float64, 0, iters)
	var totalSamples int64

	for it := 0; it < iters; it++ {
		sequences := make([][]float32, numSequences)
		for i := range sequences {
			length := 1 + rng.Intn(maxLength)
			seq := pool.Get(length * sampleDim)
			for j := range seq {
				seq[j] = rng.Float32()
			}
			sequences[i] = seq
			totalSamples += int64(length)
		}

		start := time.Now()
		bt, err := batch.CreateFromValues(sample, sequences, nil, device.CPU(), false)
		if err != nil {
			log.Fatal().Err(err).Msg("Benchmark pack failed")
		}
		dest := make([][]float32, numSequences)
		for i := range dest {
			dest[i] = pool.Get(maxLength * sampleDim)
		}
		lengths := make([]int, numSequences)
		if err := batch.UnpackToVectors(bt, sample, dest, lengths); err != nil {
			log.Fatal().Err(err).Msg("Benchmark unpack failed")
		}
		durations = append(durations, time.Since(start).Seconds())

		for _, buf := range sequences {
			pool.Put(buf)
		}
		for _, buf := range dest {
			pool.Put(buf)
		}
	}

	mean, std := stat.MeanStdDev(durations, nil)
	sorted := append([]float64(nil), durations...)
	stat.SortWeighted(sorted, nil)
	p99 := stat.Quantile(0.99, stat.Empirical, sorted, nil)

	p := message.NewPrinter(language.English)
	p.Fprintf(os.Stdout, "packed %d samples over %d iterations\n", totalSamples, iters)
	p.Fprintf(os.Stdout, "round trip: mean %.3fms stddev %.3fms p99 %.3fms\n",
		mean*1000, std*1000, p99*1000)
	p.Fprintf(os.Stdout, "throughput: %.0f samples/sec\n", float64(totalSamples)/floats.Sum(durations))
}
