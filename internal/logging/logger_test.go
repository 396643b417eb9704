package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"instashim/internal/config"
	"instashim/internal/logging"
)

func TestNewFromConfigConsole(t *testing.T) {
	cfg := config.Default()
	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger instance")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestConsoleLoggerWritesComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	shim := logging.NewComponentLogger(logger, "shim")
	shim.Info("cache hit", logging.String(logging.FieldURL, "/static/style.css"), logging.Int("entries", 4))
	shim.Debug("suppressed at info level")

	out := buf.String()
	if !strings.Contains(out, "INFO shim: cache hit") {
		t.Fatalf("expected component prefix, got %q", out)
	}
	if !strings.Contains(out, "url=/static/style.css") || !strings.Contains(out, "entries=4") {
		t.Fatalf("expected fields in output, got %q", out)
	}
	if strings.Contains(out, "suppressed") {
		t.Fatalf("debug line leaked at info level: %q", out)
	}
	if strings.Contains(out, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", out)
	}
}

func TestConsoleLoggerQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("install failed", logging.Error(errors.New("fetch /: status 503")))
	if !strings.Contains(buf.String(), `error="fetch /: status 503"`) {
		t.Fatalf("expected quoted error, got %q", buf.String())
	}
}

func TestJSONLoggerUsesStableKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := logging.WithRequestID(context.Background(), "req-1")
	logging.WithContext(ctx, logger).Warn("origin slow")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, buf.String())
	}
	if payload["level"] != "warn" {
		t.Fatalf("unexpected level: %v", payload["level"])
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", payload)
	}
	if payload[logging.FieldCorrelationID] != "req-1" {
		t.Fatalf("expected correlation id, got %v", payload)
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.WarnWithContext(logger, "install failed", "install_failed",
		logging.String(logging.FieldImpact, "offline cache disabled"))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if payload[logging.FieldEventType] != "install_failed" {
		t.Fatalf("missing event_type: %v", payload)
	}
	if payload[logging.FieldErrorHint] == nil {
		t.Fatalf("missing error_hint: %v", payload)
	}
	if payload[logging.FieldImpact] != "offline cache disabled" {
		t.Fatalf("impact overwritten: %v", payload)
	}
}

func TestFileOutputCreatesDirectory(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "instashim.log")
	logger, err := logging.New(logging.Options{OutputPaths: []string{logPath, logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("written once")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Count(string(content), "written once") != 1 {
		t.Fatalf("expected deduplicated writers, got %q", content)
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logging.NewNop().Error("nothing")
	logging.WarnWithContext(nil, "nil logger", "noop")
}
