package logx

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setupTestLogger captures console output in a buffer.
func setupTestLogger() *bytes.Buffer {
	var buf bytes.Buffer
	SetOutput(&buf)
	return &buf
}

func resetTestLogger() {
	SetOutput(os.Stderr)
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("coach")
	if logger.GetComponent() != "coach" {
		t.Errorf("Expected component 'coach', got '%s'", logger.GetComponent())
	}
}

func TestLogFormat(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	NewLogger("issues").Info("Test message with %s", "formatting")

	output := buf.String()
	if !strings.Contains(output, `"component": "issues"`) {
		t.Errorf("Expected component in output, got: %s", output)
	}
	if !strings.Contains(output, "INFO") {
		t.Errorf("Expected log level in output, got: %s", output)
	}
	if !strings.Contains(output, "Test message with formatting") {
		t.Errorf("Expected formatted message in output, got: %s", output)
	}
}

func TestLogLevels(t *testing.T) {
	logger := NewLogger("test")

	tests := []struct {
		level    Level
		logFunc  func(string, ...any)
		expected string
	}{
		{LevelDebug, logger.Debug, "DEBUG"},
		{LevelInfo, logger.Info, "INFO"},
		{LevelWarn, logger.Warn, "WARN"},
		{LevelError, logger.Error, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := setupTestLogger()
			defer resetTestLogger()

			if tt.level == LevelDebug {
				SetDebugConfig(true)
				defer SetDebugConfig(false)
			}

			tt.logFunc("test message")

			if output := buf.String(); !strings.Contains(output, tt.expected) {
				t.Errorf("Expected level '%s' in output, got: %s", tt.expected, output)
			}
		})
	}
}

func TestDebugDisabledWritesNothing(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()
	SetDebugConfig(false)

	NewLogger("quiet").Debug("hidden")
	Debug(context.Background(), "llm", "hidden too")

	if buf.Len() != 0 {
		t.Errorf("Expected no output with debug disabled, got: %s", buf.String())
	}
}

func TestDomainDebug(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()
	SetDebugConfig(true)
	SetDebugDomains([]string{"issues"})
	defer func() {
		SetDebugConfig(false)
		SetDebugDomains(nil)
	}()

	ctx := WithSession(context.Background(), "sess-1")
	Debug(ctx, "issues", "review %s", "issue-1")
	Debug(ctx, "llm", "should be filtered")

	output := buf.String()
	if !strings.Contains(output, "review issue-1") || !strings.Contains(output, "sess-1") {
		t.Errorf("Expected issues domain message, got: %s", output)
	}
	if strings.Contains(output, "should be filtered") {
		t.Errorf("Expected llm domain to be filtered, got: %s", output)
	}

	entries := GetRecentLogEntries("issues", time.Time{})
	found := false
	for _, e := range entries {
		if e.Domain == "issues" && e.Message == "review issue-1" {
			found = true
		}
	}
	if !found {
		t.Error("Expected domain entry in memory buffer")
	}
}

func TestInMemoryBufferTrims(t *testing.T) {
	b := &InMemoryLogBuffer{maxSize: 2}
	for _, m := range []string{"a", "b", "c"} {
		b.AddLogEntry(&LogEntry{Message: m, Timestamp: time.Now().UTC().Format(timestampFormat)})
	}
	entries := b.GetLogEntries("", time.Time{})
	if len(entries) != 2 || entries[0].Message != "b" || entries[1].Message != "c" {
		t.Errorf("Expected last two entries, got %+v", entries)
	}
	if got := b.GetLogEntries("", time.Now().Add(time.Hour)); len(got) != 0 {
		t.Errorf("Expected since filter to drop everything, got %d", len(got))
	}
}

func TestConfigureWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coach.log")
	if err := Configure(Options{File: path, Level: "info"}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	defer func() {
		_ = Configure(Options{Level: "info"})
		resetTestLogger()
	}()

	NewLogger("file-test").Info("persisted line")
	_ = Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected log file: %v", err)
	}
	if !strings.Contains(string(data), `"message":"persisted line"`) {
		t.Errorf("Expected JSON line in file, got: %s", data)
	}

	if err := Configure(Options{Level: "loud"}); err == nil {
		t.Error("Expected invalid level error")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "noop") != nil {
		t.Error("Expected nil for nil error")
	}
	base := errors.New("boom")
	err := Wrap(base, "db connect")
	if !errors.Is(err, base) || err.Error() != "db connect: boom" {
		t.Errorf("Unexpected wrapped error: %v", err)
	}
	if err := Errorf("setup failed: %w", base); !errors.Is(err, base) {
		t.Errorf("Expected Errorf to wrap, got %v", err)
	}
}
