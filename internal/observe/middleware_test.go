package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const incomingTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

// probeServer wires the middleware in front of a mux shaped like the bot's
// listener: /healthz, /readyz (failing) and /metrics.
func probeServer(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	return Middleware(m)(mux), reader, exp
}

func serve(h http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// routeSamples returns the number of duration samples per route label.
func routeSamples(t *testing.T, reader *sdkmetric.ManualReader) map[string]uint64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "bingbong.http.request.duration")
	if met == nil {
		t.Fatal("http duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data = %T, want Histogram[float64]", met.Data)
	}
	out := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value("route")
		out[route.AsString()] += dp.Count
	}
	return out
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	h, reader, _ := probeServer(t)

	serve(h, "/healthz", nil)
	serve(h, "/healthz", nil)
	serve(h, "/metrics", nil)
	serve(h, "/wp-login.php", nil)
	serve(h, "/.env", nil)

	got := routeSamples(t, reader)
	want := map[string]uint64{
		"GET /healthz": 2,
		"GET /metrics": 1,
		unmatchedRoute: 2,
	}
	for route, n := range want {
		if got[route] != n {
			t.Errorf("samples[%q] = %d, want %d", route, got[route], n)
		}
	}
	if len(got) != len(want) {
		t.Errorf("routes = %v, want only %v", got, want)
	}
}

func TestMiddleware_Correlation(t *testing.T) {
	tests := []struct {
		name        string
		traceparent string
		wantID      string
	}{
		{name: "new trace"},
		{
			name:        "continues incoming trace",
			traceparent: "00-" + incomingTraceID + "-00f067aa0ba902b7-01",
			wantID:      incomingTraceID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := probeServer(t)
			header := http.Header{}
			if tt.traceparent != "" {
				header.Set("traceparent", tt.traceparent)
			}

			got := serve(h, "/healthz", header).Header().Get("X-Correlation-ID")
			if len(got) != 32 {
				t.Fatalf("X-Correlation-ID = %q, want 32 hex chars", got)
			}
			if tt.wantID != "" && got != tt.wantID {
				t.Errorf("X-Correlation-ID = %q, want %q", got, tt.wantID)
			}
		})
	}
}

func TestMiddleware_Span(t *testing.T) {
	tests := []struct {
		path       string
		wantName   string
		wantStatus int64
		wantError  bool
	}{
		{"/healthz", "HTTP GET /healthz", http.StatusOK, false},
		{"/readyz", "HTTP GET /readyz", http.StatusServiceUnavailable, true},
		{"/nope", "HTTP " + unmatchedRoute, http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			h, _, exp := probeServer(t)
			rec := serve(h, tt.path, nil)
			if int64(rec.Code) != tt.wantStatus {
				t.Errorf("response status = %d, want %d", rec.Code, tt.wantStatus)
			}

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			span := spans[0]
			if span.Name != tt.wantName {
				t.Errorf("span name = %q, want %q", span.Name, tt.wantName)
			}
			var status int64
			for _, a := range span.Attributes {
				if a.Key == "http.response.status_code" {
					status = a.Value.AsInt64()
				}
			}
			if status != tt.wantStatus {
				t.Errorf("span status attribute = %d, want %d", status, tt.wantStatus)
			}
			if isErr := span.Status.Code == codes.Error; isErr != tt.wantError {
				t.Errorf("span error status = %v, want %v", isErr, tt.wantError)
			}
		})
	}
}
