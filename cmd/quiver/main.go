package main

import (
	"context"
	"flag"
	"os"
	"runtime/pprof"
	"time"

	"github.com/23skdu/longbow-quiver/internal/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

var (
	listenAddr    = flag.String("listen", "", "Address to listen on for HTTP server (e.g. :8080)")
	serverAddr    = flag.String("server", "", "Downstream Flight server address (e.g. localhost:3000)")
	datasetName   = flag.String("dataset", "quiver_batches", "Target dataset name on the downstream server")
	maxConcurrent = flag.Int("max-concurrent", 16384, "Maximum number of concurrent sequences to pack")
	cpuProfile    = flag.String("cpuprofile", "", "Write cpu profile to file")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")

	benchIters     = flag.Int("bench", 0, "Run a pack/unpack benchmark with N iterations and exit")
	benchSequences = flag.Int("bench-sequences", 64, "Sequences per benchmark batch")
	benchMaxLength = flag.Int("bench-max-length", 128, "Maximum sequence length in the benchmark")
	benchSampleDim = flag.Int("bench-sample-dim", 256, "Sample dimension in the benchmark")
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	if *benchIters > 0 {
		runBench(*benchIters, *benchSequences, *benchMaxLength, *benchSampleDim)
		return
	}

	if *listenAddr == "" {
		log.Fatal().Msg("Nothing to do: pass -listen or -bench")
	}

	var fc FlightClientInterface
	if *serverAddr != "" {
		c, err := client.NewFlightClient(*serverAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create flight client")
		}
		defer func() {
			if err := c.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close flight client")
			}
		}()
		log.Info().Str("addr", *serverAddr).Msg("Connected to downstream Flight server")
		fc = c
	}

	startServer(*listenAddr, fc, *datasetName, *maxConcurrent)
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("quiver"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
