package observe

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestCorrelationID(t *testing.T) {
	t.Parallel()

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without span = %q", got)
	}

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := tp.Tracer("test").Start(context.Background(), "explain")
		cid := CorrelationID(ctx)
		span.End()

		if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
			t.Fatalf("correlation ID %q is not a 32 digit hex trace ID", cid)
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = true
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	_, _, exp := testSetup(t)

	ctx, span := StartSpan(context.Background(), "notes.generate")
	if CorrelationID(ctx) == "" {
		t.Error("span has no trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "notes.generate" {
		t.Fatalf("spans = %+v", spans)
	}
	if spans[0].InstrumentationScope.Name != tracerName {
		t.Errorf("scope = %q, want %q", spans[0].InstrumentationScope.Name, tracerName)
	}
}

func TestLogger(t *testing.T) {
	_, _, _ = testSetup(t)

	tests := []struct {
		name    string
		ctx     func() (context.Context, func())
		want    []string
		notWant []string
	}{
		{
			name:    "no span",
			ctx:     func() (context.Context, func()) { return context.Background(), func() {} },
			notWant: []string{"trace_id", "span_id"},
		},
		{
			name: "span",
			ctx: func() (context.Context, func()) {
				ctx, span := StartSpan(context.Background(), "log")
				return ctx, func() { span.End() }
			},
			want: []string{"trace_id=", "span_id="},
		},
		{
			name: "attrs accumulate",
			ctx: func() (context.Context, func()) {
				ctx := WithLogAttrs(context.Background(), slog.String("pdf_id", "bio-101"))
				ctx = WithLogAttrs(ctx, slog.Int("page", 4))
				return ctx, func() {}
			},
			want:    []string{"pdf_id=bio-101", "page=4"},
			notWant: []string{"trace_id"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := captureLogs(t)
			ctx, done := tt.ctx()
			defer done()

			Logger(ctx).Info("hello")
			out := logs.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("log %q contains %q", out, w)
				}
			}
		})
	}
}

func TestWithLogAttrs_DoesNotLeakIntoParent(t *testing.T) {
	t.Parallel()

	parent := WithLogAttrs(context.Background(), slog.String("a", "1"))
	_ = WithLogAttrs(parent, slog.String("b", "2"))
	_ = WithLogAttrs(parent, slog.String("c", "3"))

	attrs, _ := parent.Value(logAttrsKey{}).([]slog.Attr)
	if len(attrs) != 1 || attrs[0].Key != "a" {
		t.Errorf("parent attrs = %v", attrs)
	}
	if WithLogAttrs(parent) != parent {
		t.Error("WithLogAttrs without attrs should return ctx unchanged")
	}
}
