package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) error = %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("ParseLevel(loud) expected error")
	}
}

func TestComponentLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	base, err := NewWithWriter(&buf, "info", "json")
	if err != nil {
		t.Fatalf("NewWithWriter() error = %v", err)
	}
	NewComponentLogger(base, "coach").Info("tick emitted", "call_id", "c1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	if rec["component"] != "coach" || rec["call_id"] != "c1" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := NewWithWriter(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Fatalf("expected error for xml format")
	}
}
