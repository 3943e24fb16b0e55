package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO)

	l.Debug("debug message")
	if strings.Contains(buf.String(), "debug message") {
		t.Errorf("debug message should not be logged at INFO level")
	}

	buf.Reset()
	l.Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("expected info message to be logged")
	}
}

func TestDebugLogging(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, DEBUG)

	l.Debug("debug message")
	if !strings.Contains(buf.String(), "debug message") {
		t.Errorf("debug message should be logged at DEBUG level")
	}
	if !strings.Contains(buf.String(), "[DEBUG]") {
		t.Errorf("expected DEBUG level tag in output, got %q", buf.String())
	}
}

func TestErrorAndWarnLogging(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, WARN)

	l.Info("should be filtered")
	if buf.Len() != 0 {
		t.Errorf("expected Info to be filtered at WARN level, got %q", buf.String())
	}

	l.Warnf("disk at %d%%", 90)
	if !strings.Contains(buf.String(), "disk at 90%") {
		t.Errorf("expected Warnf output, got %q", buf.String())
	}

	buf.Reset()
	l.Errorf("load failed: %v", "boom")
	if !strings.Contains(buf.String(), "load failed: boom") {
		t.Errorf("expected Errorf output, got %q", buf.String())
	}
}

func TestNamedPrefixesMessages(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO).Named("func")

	l.Info("sweep complete")
	if !strings.Contains(buf.String(), "func: sweep complete") {
		t.Errorf("expected named logger to prefix messages, got %q", buf.String())
	}
}

func TestNamedNesting(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO).Named("supervisor").Named("func")

	l.Info("hi")
	if !strings.Contains(buf.String(), "supervisor.func: hi") {
		t.Errorf("expected nested prefix, got %q", buf.String())
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO)

	l.SetLevel(DEBUG)
	if l.Level() != DEBUG {
		t.Errorf("SetLevel should change the logger's level")
	}
}

func TestIsDebugEnabled(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO)
	if l.IsDebugEnabled() {
		t.Errorf("IsDebugEnabled should return false for INFO level")
	}

	l.SetLevel(DEBUG)
	if !l.IsDebugEnabled() {
		t.Errorf("IsDebugEnabled should return true for DEBUG level")
	}
}
