package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup installs an in-memory tracer provider as the global provider.
// Tests that call it swap globals and must not run in parallel.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return m, reader, exp
}

// captureLogs redirects the default logger for the duration of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func notesMux(status int) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /pdfs/{pdf_id}/notes", func(w http.ResponseWriter, r *http.Request) {
		Logger(r.Context()).Info("listing notes")
		w.WriteHeader(status)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {})
	return mux
}

func TestMiddleware_SpanNamedAfterRoute(t *testing.T) {
	m, reader, exp := testSetup(t)
	captureLogs(t)

	h := Middleware(m)(notesMux(http.StatusOK))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pdfs/bio-101/notes", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d", len(spans))
	}
	if spans[0].Name != "GET /pdfs/{pdf_id}/notes" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("200 response marked as error")
	}

	cid := rec.Header().Get("X-Correlation-ID")
	if len(cid) != 32 || cid != spans[0].SpanContext.TraceID().String() {
		t.Errorf("X-Correlation-ID = %q", cid)
	}

	hist := findMetric(collect(t, reader), "lectern.http.request.duration").Data.(metricdata.Histogram[float64])
	if v, _ := hist.DataPoints[0].Attributes.Value("path"); v.AsString() != "GET /pdfs/{pdf_id}/notes" {
		t.Errorf("path attribute = %q, want route pattern", v.AsString())
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	m, reader, _ := testSetup(t)
	captureLogs(t)

	h := Middleware(m)(notesMux(http.StatusOK))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pdfs/x/bogus/12345", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}

	hist := findMetric(collect(t, reader), "lectern.http.request.duration").Data.(metricdata.Histogram[float64])
	if v, _ := hist.DataPoints[0].Attributes.Value("path"); v.AsString() != "unmatched" {
		t.Errorf("path attribute = %q, want unmatched", v.AsString())
	}
}

func TestMiddleware_ServerErrorMarksSpan(t *testing.T) {
	m, _, exp := testSetup(t)
	logs := captureLogs(t)

	Middleware(m)(notesMux(http.StatusBadGateway)).ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodGet, "/pdfs/bio-101/notes", nil))

	span := exp.GetSpans()[0]
	if span.Status.Code != codes.Error {
		t.Errorf("span status = %v, want error", span.Status.Code)
	}
	found := false
	for _, a := range span.Attributes {
		if a.Key == "http.response.status_code" && a.Value.AsInt64() == http.StatusBadGateway {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code")
	}
	if !strings.Contains(logs.String(), "level=ERROR msg=\"request completed\"") {
		t.Errorf("completion not logged at error level:\n%s", logs)
	}
}

func TestMiddleware_LogLevels(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
		want   string
	}{
		{"success", "/pdfs/a/notes", http.StatusOK, "level=INFO"},
		{"client error", "/pdfs/a/notes", http.StatusNotFound, "level=WARN"},
		{"probe", "/healthz", http.StatusOK, "level=DEBUG"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := testSetup(t)
			logs := captureLogs(t)

			Middleware(m)(notesMux(tt.status)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			var line string
			for _, l := range strings.Split(logs.String(), "\n") {
				if strings.Contains(l, "request completed") {
					line = l
				}
			}
			if !strings.HasPrefix(strings.SplitN(line, " ", 2)[1], tt.want) {
				t.Errorf("completion log = %q, want %s", line, tt.want)
			}
		})
	}
}

func TestMiddleware_HandlerLoggerCarriesRequestAttrs(t *testing.T) {
	m, _, _ := testSetup(t)
	logs := captureLogs(t)

	Middleware(m)(notesMux(http.StatusOK)).ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodGet, "/pdfs/bio-101/notes", nil))

	for _, l := range strings.Split(logs.String(), "\n") {
		if !strings.Contains(l, "listing notes") {
			continue
		}
		if !strings.Contains(l, "trace_id=") || !strings.Contains(l, "path=/pdfs/bio-101/notes") {
			t.Errorf("handler log = %q", l)
		}
		return
	}
	t.Fatalf("handler log missing:\n%s", logs)
}

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	m, _, _ := testSetup(t)
	captureLogs(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var seen string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/propagate", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != traceID || rec.Header().Get("X-Correlation-ID") != traceID {
		t.Errorf("correlation = %q, header = %q", seen, rec.Header().Get("X-Correlation-ID"))
	}
	if !strings.Contains(rec.Header().Get("traceparent"), traceID) {
		t.Errorf("traceparent not injected: %q", rec.Header().Get("traceparent"))
	}
}

func TestStatusRecorder_HijackUnsupported(t *testing.T) {
	t.Parallel()

	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	if _, _, err := rec.Hijack(); err == nil {
		t.Fatal("expected error when the wrapped writer cannot hijack")
	}
	if rec.Unwrap() == nil {
		t.Fatal("Unwrap returned nil")
	}
}
