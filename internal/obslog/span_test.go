package obslog

import (
	"context"
	"errors"
	"testing"
)

func TestTracePropagatesFunctionResult(t *testing.T) {
	ctx := context.Background()
	want := errors.New("boom")

	err := Trace(ctx, "test.op", func(context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("Trace returned %v, want %v", err, want)
	}
}

func TestTraceSucceedsWithNoError(t *testing.T) {
	ctx := context.Background()
	called := false

	err := Trace(ctx, "test.op", func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Trace returned unexpected error: %v", err)
	}
	if !called {
		t.Fatalf("expected wrapped function to be called")
	}
}

func TestStartSpanReturnsUsableContext(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test.span")
	defer span.End()
	if ctx == nil {
		t.Fatalf("expected non-nil context")
	}
}
