package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// snapshot flattens every int64 sum and gauge into "name{k=v,...}" keys and
// every histogram into its sample count.
func snapshot(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]int64)
	key := func(name string, set attribute.Set) string {
		if set.Len() == 0 {
			return name
		}
		return name + "{" + string(set.Encoded(attribute.DefaultEncoder())) + "}"
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			switch data := met.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[key(met.Name, dp.Attributes)] = dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out[key(met.Name, dp.Attributes)] = dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					out[key(met.Name, dp.Attributes)] = int64(dp.Count)
				}
			}
		}
	}
	return out
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestMetrics_Record(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tests := []struct {
		name   string
		record func(m *Metrics)
		want   map[string]int64
	}{
		{
			name: "requests by outcome",
			record: func(m *Metrics) {
				m.RecordRequest(ctx, StatusPlayed)
				m.RecordRequest(ctx, StatusPlayed)
				m.RecordRequest(ctx, StatusRejected)
			},
			want: map[string]int64{
				"bingbong.requests{status=played}":   2,
				"bingbong.requests{status=rejected}": 1,
			},
		},
		{
			name:   "synthesis error kind",
			record: func(m *Metrics) { m.RecordSynthesisError(ctx, "circuit_open") },
			want:   map[string]int64{"bingbong.synthesis.errors{kind=circuit_open}": 1},
		},
		{
			name:   "command",
			record: func(m *Metrics) { m.RecordCommand(ctx, "apps", "ok") },
			want:   map[string]int64{"bingbong.command.invocations{command=apps,status=ok}": 1},
		},
		{
			name: "breaker transitions",
			record: func(m *Metrics) {
				m.RecordBreakerTransition(ctx, "westeurope", "open")
				m.RecordBreakerTransition(ctx, "westeurope", "half-open")
			},
			want: map[string]int64{
				"bingbong.breaker.transitions{breaker=westeurope,to=open}":      1,
				"bingbong.breaker.transitions{breaker=westeurope,to=half-open}": 1,
			},
		},
		{
			name: "queue depth keeps last value",
			record: func(m *Metrics) {
				m.QueueDepth.Record(ctx, 4)
				m.QueueDepth.Record(ctx, 1)
			},
			want: map[string]int64{"bingbong.queue.depth": 1},
		},
		{
			name: "voice sessions go up and down",
			record: func(m *Metrics) {
				m.ActiveVoiceSessions.Add(ctx, 1)
				m.ActiveVoiceSessions.Add(ctx, 1)
				m.ActiveVoiceSessions.Add(ctx, -1)
			},
			want: map[string]int64{"bingbong.voice.sessions": 1},
		},
		{
			name: "bytes and playback errors",
			record: func(m *Metrics) {
				m.SynthesizedBytes.Add(ctx, 2048)
				m.PlaybackErrors.Add(ctx, 1)
			},
			want: map[string]int64{
				"bingbong.synthesis.bytes": 2048,
				"bingbong.playback.errors": 1,
			},
		},
		{
			name: "latency histograms",
			record: func(m *Metrics) {
				m.SynthesisDuration.Record(ctx, 0.8)
				m.SynthesisDuration.Record(ctx, 1.3)
				m.PlaybackDuration.Record(ctx, 4)
				m.QueueWait.Record(ctx, 0.2)
				m.HTTPRequestDuration.Record(ctx, 0.003, metric.WithAttributes(
					attribute.String("route", "GET /readyz"),
					attribute.Int("status", 503)))
			},
			want: map[string]int64{
				"bingbong.synthesis.duration":                                  2,
				"bingbong.playback.duration":                                   1,
				"bingbong.queue.wait":                                          1,
				"bingbong.http.request.duration{route=GET /readyz,status=503}": 1,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, reader := newTestMetrics(t)
			tt.record(m)

			got := snapshot(t, reader)
			for k, want := range tt.want {
				if got[k] != want {
					t.Errorf("%s = %d, want %d (have %v)", k, got[k], want, got)
				}
			}
		})
	}
}

func TestMetrics_SynthesisBuckets(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	m.SynthesisDuration.Record(context.Background(), 0.4)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	hist := findMetric(rm, "bingbong.synthesis.duration").Data.(metricdata.Histogram[float64])
	dp := hist.DataPoints[0]
	if len(dp.Bounds) != len(synthesisBuckets) {
		t.Fatalf("bounds = %v, want %v", dp.Bounds, synthesisBuckets)
	}
	// 0.4s lands in the (0.25, 0.5] bucket.
	if dp.BucketCounts[3] != 1 {
		t.Errorf("bucket counts = %v, want the 0.5 bucket hit", dp.BucketCounts)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
