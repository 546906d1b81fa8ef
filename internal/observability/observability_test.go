package observability

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]string
	}{
		{"empty", "", nil},
		{"single", "Authorization=Basic abc", map[string]string{"Authorization": "Basic abc"}},
		{"multiple", "a=1, b=2", map[string]string{"a": "1", "b": "2"}},
		{"value with equals", "token=x=y", map[string]string{"token": "x=y"}},
		{"malformed pair skipped", "a=1,broken", map[string]string{"a": "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseHeaders(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("parseHeaders(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("header %q = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestInit_None(t *testing.T) {
	if err := Init(Config{ExporterType: "none"}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	ctx, span := StartSpanWithOtel(context.Background(), "pipeline.step")
	if ctx == nil || span == nil {
		t.Fatal("expected span and context")
	}
	span.End()

	if err := Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	if err := Init(Config{ExporterType: "zipkin"}); err == nil {
		t.Error("expected error for unknown exporter")
	}
}
