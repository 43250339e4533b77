package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WARN, false)
	l.SetOutput(&buf)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("Expected DEBUG and INFO to be filtered, got: %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("Expected WARN and ERROR in output, got: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(INFO, true)
	l.SetOutput(&buf)

	l.Info("run started", map[string]interface{}{"run_id": "run-1"})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected valid JSON, got %q: %v", buf.String(), err)
	}
	if entry.Level != "INFO" || entry.Message != "run started" {
		t.Errorf("Unexpected entry: %+v", entry)
	}
	if entry.Fields["run_id"] != "run-1" {
		t.Errorf("Expected run_id field, got %v", entry.Fields)
	}
}

func TestWithField(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(INFO, true)
	l.SetOutput(&buf)

	child := l.WithField("component", "events")
	child.Info("started")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected valid JSON: %v", err)
	}
	if entry.Fields["component"] != "events" {
		t.Errorf("Expected attached field, got %v", entry.Fields)
	}

	// The parent logger is unchanged
	buf.Reset()
	l.Info("plain")
	if strings.Contains(buf.String(), "events") {
		t.Error("Expected parent logger to stay without the field")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"DEBUG", DEBUG},
		{"info", INFO},
		{"WARNING", WARN},
		{"error", ERROR},
		{"nonsense", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
