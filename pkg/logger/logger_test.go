package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/wonny/coarank/backend/pkg/config"
)

func newBufferLogger(level string) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cfg := &config.Config{Env: "test", LogLevel: level, LogFormat: "json"}
	return NewWithWriter(cfg, buf), buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantLevel zerolog.Level
	}{
		{"debug level", "debug", zerolog.DebugLevel},
		{"info level", "info", zerolog.InfoLevel},
		{"warn level", "warn", zerolog.WarnLevel},
		{"error level", "error", zerolog.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, _ := newBufferLogger(tt.level)
			if log == nil {
				t.Fatal("Expected logger to be created")
			}
			if zerolog.GlobalLevel() != tt.wantLevel {
				t.Errorf("Expected global level %v, got %v", tt.wantLevel, zerolog.GlobalLevel())
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLogLevel(tt.input); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestWithFields(t *testing.T) {
	log, buf := newBufferLogger("debug")

	log.WithFields(map[string]interface{}{
		"module":   "manager",
		"provider": "gemini",
	}).Info("run started")

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d", len(lines))
	}
	if lines[0]["module"] != "manager" || lines[0]["provider"] != "gemini" {
		t.Errorf("Missing fields in %v", lines[0])
	}
	if lines[0]["env"] != "test" {
		t.Errorf("Expected env field, got %v", lines[0]["env"])
	}
}

func TestWithItem(t *testing.T) {
	log, buf := newBufferLogger("debug")

	log.WithItem("71234", "abc123").WithError(errors.New("boom")).Error("extraction failed")
	log.WithItem("", "def456").Warn("download skipped")

	lines := decodeLines(t, buf)
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if lines[0]["task_number"] != "71234" || lines[0]["image_hash"] != "abc123" || lines[0]["error"] != "boom" {
		t.Errorf("Unexpected first line %v", lines[0])
	}
	if _, ok := lines[1]["task_number"]; ok {
		t.Errorf("Empty task number should be omitted: %v", lines[1])
	}
}

func TestLevelFiltering(t *testing.T) {
	log, buf := newBufferLogger("warn")

	log.Debug("hidden")
	log.Info("hidden")
	log.Warnf("visible %d", 1)

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("Expected only the warning, got %d lines", len(lines))
	}
	if lines[0]["message"] != "visible 1" {
		t.Errorf("Unexpected message %v", lines[0]["message"])
	}
}

func TestNop(t *testing.T) {
	log := Nop()
	log.WithField("k", "v").Error("discarded")
}
