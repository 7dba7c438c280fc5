package device

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getMetricValue(m prometheus.Metric) float64 {
	var metric dto.Metric
	m.Write(&metric)
	if metric.Counter != nil {
		return *metric.Counter.Value
	}
	if metric.Gauge != nil {
		return *metric.Gauge.Value
	}
	return 0
}

func TestBufferPoolReuse(t *testing.T) {
	p := NewBufferPool[float32]()

	// Metrics are global, track deltas.
	startMisses := getMetricValue(poolMisses)

	b1 := p.Get(128)
	if len(b1) != 128 {
		t.Fatalf("Get(128) returned len %d", len(b1))
	}
	if miss := getMetricValue(poolMisses); miss-startMisses != 1 {
		t.Errorf("expected 1 miss, got %v", miss-startMisses)
	}

	b1[0] = 42
	p.Put(b1)

	b2 := p.Get(64)
	if len(b2) != 64 {
		t.Fatalf("Get(64) returned len %d", len(b2))
	}
	for i, v := range b2 {
		if v != 0 {
			t.Fatalf("recycled buffer not zeroed at %d: %v", i, v)
		}
	}
}

func TestBufferPoolGrow(t *testing.T) {
	p := NewBufferPool[float64]()
	small := p.Get(8)
	p.Put(small)

	big := p.Get(1024)
	if len(big) != 1024 {
		t.Fatalf("Get(1024) returned len %d", len(big))
	}
}

func BenchmarkBufferPoolGetPut(b *testing.B) {
	p := NewBufferPool[float32]()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf := p.Get(4096)
		p.Put(buf)
	}
}
