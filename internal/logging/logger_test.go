package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cratemind/internal/config"
	"cratemind/internal/logging"
	"cratemind/internal/services"
)

func TestNewFromConfigWritesJSONFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Level = "debug"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("signal accepted",
		logging.String(logging.FieldSourceType, "exact"),
		logging.Float64("confidence", 6.0/7.0),
		logging.Duration("elapsed", 1500*time.Millisecond),
	)

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, logging.LogFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &entry); err != nil {
		t.Fatalf("log file line is not JSON: %v (%q)", err, content)
	}
	if entry["msg"] != "signal accepted" || entry["level"] != "info" {
		t.Fatalf("unexpected entry: %#v", entry)
	}
	if entry[logging.FieldSourceType] != "exact" {
		t.Fatalf("expected source_type attr, got %#v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key, got %#v", entry)
	}
	if entry["confidence"] != 0.857143 || entry["elapsed"] != "1.5s" {
		t.Fatalf("expected rounded confidence and string duration, got %#v", entry)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")
	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
	if strings.Contains(string(content), "\x1b[") {
		t.Fatalf("expected no colour codes when writing to a file, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "debug",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Debug("message with caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "logger_test.go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestConsoleLoggerRendersComponentAndSubject(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithItemID(context.Background(), "3f2a9c01-aaaa-bbbb-cccc-000000000000")
	component := logging.NewComponentLogger(logger, "consensus")
	logging.WithContext(ctx, component).Info("item resolved",
		logging.String("category", "house"),
		logging.Float64("confidence", 0.9),
		logging.Float64("weight", 2.0/3.0),
		logging.Error(errors.New("boom here")),
	)

	line := readFile(t, logPath)
	for _, want := range []string{"INFO [consensus] item resolved", "· item 3f2a9c01", "category=house", "confidence=0.9", "weight=0.6667", `error="boom here"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should be rendered in the header only: %q", line)
	}
}

func TestConsoleLoggerColour(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "colour.log")
	logger, err := logging.New(logging.Options{Format: "console", OutputPaths: []string{logPath}, Color: true})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("slow consensus")
	if line := readFile(t, logPath); !strings.Contains(line, "\x1b[33mWARN\x1b[0m") {
		t.Fatalf("expected coloured level, got %q", line)
	}
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithItemID(ctx, "item-1")
	ctx = services.WithRunID(ctx, "run-7")
	ctx = services.WithRequestID(ctx, "req-9")

	fields := logging.ContextFields(ctx)
	got := map[string]string{}
	for _, f := range fields {
		got[f.Key] = f.Value.String()
	}
	if got[logging.FieldItemID] != "item-1" || got[logging.FieldRunID] != "run-7" || got[logging.FieldCorrelationID] != "req-9" {
		t.Fatalf("unexpected context fields: %#v", got)
	}
	if len(logging.ContextFields(context.Background())) != 0 {
		t.Fatal("expected no fields for empty context")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logging.WarnWithContext(logger, "malformed entity skipped", "discovery_entity_skipped",
		logging.String(logging.FieldImpact, "entity omitted from profile version"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry[logging.FieldEventType] != "discovery_entity_skipped" {
		t.Fatalf("missing event type: %#v", entry)
	}
	if entry[logging.FieldErrorHint] == nil {
		t.Fatalf("missing error hint: %#v", entry)
	}
	if entry[logging.FieldImpact] != "entity omitted from profile version" {
		t.Fatalf("impact overwritten: %#v", entry)
	}
}

func TestTeeLoggerDeliversToAllHandlers(t *testing.T) {
	var first, second bytes.Buffer
	base := slog.New(slog.NewTextHandler(&first, nil))
	logger := logging.TeeLogger(base, slog.NewJSONHandler(&second, &slog.HandlerOptions{Level: slog.LevelWarn}))

	logger.Info("only first")
	logger.Warn("both")

	if !strings.Contains(first.String(), "only first") || !strings.Contains(first.String(), "both") {
		t.Fatalf("first handler missing records: %q", first.String())
	}
	if strings.Contains(second.String(), "only first") || !strings.Contains(second.String(), "both") {
		t.Fatalf("second handler should only see warnings: %q", second.String())
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("nop logger should be disabled")
	}
	logging.NewComponentLogger(nil, "x").Info("ignored")
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(content)
}
