package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestLevelVar(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for name, want := range tests {
		if got := levelVar(name).Level(); got != want {
			t.Errorf("levelVar(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	level := levelVar("info")
	logger := newLogger(&buf, "json", level)

	logger.Debug("hidden")
	logger.Info("shown", slog.String("run_id", "run_1"))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "shown" || rec["run_id"] != "run_1" {
		t.Errorf("record = %v", rec)
	}

	buf.Reset()
	level.Set(slog.LevelDebug)
	logger.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("level change should apply to an existing logger")
	}
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "text", levelVar("info")).Info("hello", slog.String("agent", "triage"))
	if !strings.Contains(buf.String(), "hello") || !strings.Contains(buf.String(), "triage") {
		t.Errorf("text output = %q", buf.String())
	}
}
