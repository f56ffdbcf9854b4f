package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestDefaultLoggerIsSilent(t *testing.T) {
	SetLogger(nil)
	if Logger().Enabled(context.Background(), slog.LevelError) {
		t.Fatal("default logger should be disabled")
	}
}

func TestSetLoggerAndFor(t *testing.T) {
	var buf bytes.Buffer
	lv := new(slog.LevelVar)
	SetLogger(New(&buf, "text", lv))
	defer SetLogger(nil)

	For("render").Info("frame painted", "elements", 3)

	out := buf.String()
	if !strings.Contains(out, "component=render") {
		t.Errorf("missing component attribute: %q", out)
	}
	if !strings.Contains(out, "elements=3") {
		t.Errorf("missing elements attribute: %q", out)
	}

	buf.Reset()
	For("render").Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug record written at info level: %q", buf.String())
	}
	lv.Set(slog.LevelDebug)
	For("render").Debug("shown")
	if buf.Len() == 0 {
		t.Error("debug record not written after level change")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
