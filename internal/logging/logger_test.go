package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewToFormats(t *testing.T) {
	var buf bytes.Buffer
	NewTo(&buf, "info", "json").Info("task added", "task_id", "t1")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("json output not decodable: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "task added" || rec["task_id"] != "t1" {
		t.Fatalf("record = %v", rec)
	}

	buf.Reset()
	NewTo(&buf, "info", "text").Info("task added", "task_id", "t1")
	if !strings.Contains(buf.String(), "task_id=t1") {
		t.Fatalf("text output = %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	} {
		if got := parseLevel(in).Level(); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}

	var buf bytes.Buffer
	NewTo(&buf, "warn", "text").Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}
}
