package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew_WritesJSONToConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Console: &buf})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hello", zap.String("conversation_id", "c1"))
	logger.Debug("hidden at info level")
	logger.Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("invalid JSON log line: %v", err)
	}
	if entry["msg"] != "hello" || entry["conversation_id"] != "c1" || entry["level"] != "info" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "chat.log")
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", File: path, Console: &buf})
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("to file")
	logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Fatalf("expected entry in file, got %q", data)
	}
}

func TestNew_ConsoleLevelKeepsConsoleQuiet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.log")
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", ConsoleLevel: "fatal", File: path, Console: &buf})
	if err != nil {
		t.Fatal(err)
	}
	logger.Warn("failed to persist message", zap.String("conversation_id", "c1"))
	logger.Error("completion failed")
	logger.Sync()

	if buf.Len() != 0 {
		t.Fatalf("expected quiet console, got %q", buf.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "failed to persist message") || !strings.Contains(string(data), "completion failed") {
		t.Fatalf("expected both entries in file, got %q", data)
	}

	if _, err := New(Options{ConsoleLevel: "shouty"}); err == nil {
		t.Fatal("expected error for invalid console level")
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("warn")
	if err != nil || lvl != zapcore.WarnLevel {
		t.Fatalf("expected warn, got %v err=%v", lvl, err)
	}
	lvl, err = ParseLevel("")
	if err != nil || lvl != zapcore.InfoLevel {
		t.Fatalf("expected info default, got %v err=%v", lvl, err)
	}
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}
