package tracing

import (
	"context"
	"errors"
	"os"
	"testing"
)

func TestTracingFile(t *testing.T) {
	fname := "testdata/span_test.txt"
	_ = os.MkdirAll("testdata", 0o755)
	_ = os.Remove(fname)

	if err := Init("fanout", "0.0.1", fname); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	ctx, span := StartSpan(context.Background(), "dispatch.run", "INTERNAL")
	span.WithAttributes(map[string]string{"group.size": "3"})
	_, child := StartSpan(ctx, "task.compute", "INTERNAL")
	child.SetStatusFromExitCode(0)
	EndSpan(child, nil)
	EndSpan(span, errors.New("first failure"))

	data, err := os.ReadFile(fname)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("no data written to trace file")
	}
}

func TestSpan_NilSafety(t *testing.T) {
	var span *Span
	span.WithAttributes(map[string]string{"k": "v"})
	span.SetStatus(nil)
	span.SetStatusFromExitCode(1)
	span.OnDone()
	EndSpan(span, nil)
}
