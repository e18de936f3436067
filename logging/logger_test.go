package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestFmtLoggerFormatsArgsAndFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := With(NewFmtLogger(buf), map[string]any{"session_id": "s-1", "node_id": "user_query-1"})

	logger.Info("node added at %d,%d", 10, 20)

	line := buf.String()
	if !strings.Contains(line, "INFO") {
		t.Fatalf("expected level in output, got %q", line)
	}
	if !strings.Contains(line, "node added at 10,20") {
		t.Fatalf("expected formatted message, got %q", line)
	}
	if !strings.Contains(line, "node_id=user_query-1 session_id=s-1") {
		t.Fatalf("expected sorted fields, got %q", line)
	}
}

func TestNormalizeFallsBackToFmtLogger(t *testing.T) {
	if _, ok := Normalize(nil).(*FmtLogger); !ok {
		t.Fatalf("expected nil logger to normalize to FmtLogger")
	}
	l := Discard().WithContext(context.Background())
	if l == nil {
		t.Fatalf("expected logger with context")
	}
}

func TestGlogAdapterWritesStructuredOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewGlog("trace", "json", buf)
	With(logger, map[string]any{"session_id": "s-42"}).Info("execution dispatched")

	out := buf.String()
	if strings.TrimSpace(out) == "" {
		t.Fatalf("expected go-logger output")
	}
	if !strings.Contains(out, "execution dispatched") {
		t.Fatalf("expected message in output, got %q", out)
	}
}

func TestNormalizeLevel(t *testing.T) {
	cases := map[string]string{
		"DEBUG":   "debug",
		"warning": "warn",
		"":        "info",
		"bogus":   "info",
	}
	for in, want := range cases {
		if got := normalizeLevel(in); got != want {
			t.Errorf("normalizeLevel(%q) = %q, want %q", in, got, want)
		}
	}
}
