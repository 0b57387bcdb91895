package logging_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"visualia/internal/logging"
)

func TestConsoleLoggerWritesComponentPrefix(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "supervisor").Info("engine attached", logging.Int(logging.FieldPID, 42))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, "INFO supervisor: engine attached") {
		t.Fatalf("expected component prefix, got %q", line)
	}
	if !strings.Contains(line, "pid=42") {
		t.Fatalf("expected pid attr, got %q", line)
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("frame split")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "logger_test.go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestNewJSONLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}, SessionID: "abc"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("decode failed", logging.Error(errors.New("boom")))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(content, &payload); err != nil {
		t.Fatalf("expected JSON line, got %q: %v", content, err)
	}
	if payload["level"] != "warn" || payload["msg"] != "decode failed" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload[logging.FieldSessionID] != "abc" {
		t.Fatalf("expected session id, got %v", payload)
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", payload)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "json", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "engine exited", "engine_exit_unexpected", logging.String(logging.FieldImpact, "captions paused"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(content, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload[logging.FieldEventType] != "engine_exit_unexpected" {
		t.Fatalf("expected event_type, got %v", payload)
	}
	if payload[logging.FieldImpact] != "captions paused" {
		t.Fatalf("expected caller impact to win, got %v", payload)
	}
	if payload[logging.FieldErrorHint] == nil {
		t.Fatalf("expected default error hint, got %v", payload)
	}
}

func TestTruncate(t *testing.T) {
	if got := logging.Truncate("short", 10); got != "short" {
		t.Fatalf("unexpected truncation: %q", got)
	}
	if got := logging.Truncate("héllo", 2); got != "h…" {
		t.Fatalf("expected rune-safe cut, got %q", got)
	}
}

func TestJSONLoggerStampsServiceAndCapsValues(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json-caps.log")
	logger, err := logging.New(logging.Options{Format: "json", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("engine-stderr", logging.String("line", strings.Repeat("x", 10000)))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(content, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload[logging.FieldService] != "visualia" {
		t.Fatalf("expected service key, got %v", payload[logging.FieldService])
	}
	if payload["level"] != "info" {
		t.Fatalf("expected lowercase level, got %v", payload["level"])
	}
	line, _ := payload["line"].(string)
	if len(line) > 4100 || !strings.HasSuffix(line, "…") {
		t.Fatalf("expected capped line value, got %d bytes", len(line))
	}
	ts, _ := payload["ts"].(string)
	if !strings.Contains(ts, ".") || !strings.HasSuffix(ts, "Z") {
		t.Fatalf("expected UTC millisecond timestamp, got %q", ts)
	}
}
