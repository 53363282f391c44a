package log

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLogger_JSONWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, zapcore.DebugLevel).With(map[string]any{"conn_id": "c-1"})

	logger.Info("request served", map[string]any{"job_id": "j-1"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if entry["message"] != "request served" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v", entry["level"])
	}
	if entry["conn_id"] != "c-1" {
		t.Errorf("conn_id = %v", entry["conn_id"])
	}
	fields, _ := entry["fields"].(map[string]any)
	if fields["job_id"] != "j-1" {
		t.Errorf("fields = %v", entry["fields"])
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, zapcore.WarnLevel)
	logger.Debug("hidden", nil)
	logger.Info("hidden", nil)
	logger.Warn("shown", nil)

	if strings.Contains(buf.String(), "hidden") {
		t.Error("entries below the level were written")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn entry missing")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"WARN", zapcore.WarnLevel, false},
		{"loud", zapcore.DebugLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestOpenOutput_FallsBackToStderr(t *testing.T) {
	w, err := OpenOutput(filepath.Join(t.TempDir(), "missing-dir", "ttyS0"))
	if err == nil {
		t.Error("expected error for unopenable path")
	}
	if w == nil {
		t.Fatal("expected stderr fallback writer")
	}
	_ = w.Close()
}

func TestPreview(t *testing.T) {
	if got := Preview("short", 10); got != "short" {
		t.Errorf("Preview = %q", got)
	}
	if got := Preview("0123456789abc", 10); got != "0123456789..." {
		t.Errorf("Preview = %q", got)
	}
}
