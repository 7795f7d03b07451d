package log

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupLoggerWritesCategoryFiles(t *testing.T) {
	dir := t.TempDir()
	prevDefault := slog.Default()
	if err := SetupLogger(Options{Dir: dir, Level: "debug"}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() {
		_ = GlobalLogger.Sync()
		GlobalLogger = nil
		slog.SetDefault(prevDefault)
	})

	DatabaseLogger().Info("prefix cache filled", "entries", 3)
	ErrorLoggerRaw().Error("flush failed", "err", "boom")
	if err := GlobalLogger.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "database.log"))
	if err != nil {
		t.Fatalf("read database.log: %v", err)
	}
	if !strings.Contains(string(data), "prefix cache filled") || !strings.Contains(string(data), "entries=3") {
		t.Fatalf("unexpected database.log contents: %q", data)
	}
	errData, err := os.ReadFile(filepath.Join(dir, "error.log"))
	if err != nil {
		t.Fatalf("read error.log: %v", err)
	}
	if !strings.Contains(string(errData), "category=error") {
		t.Fatalf("expected category attribute in error.log: %q", errData)
	}
}

func TestAccessorsWithoutSetupFallBack(t *testing.T) {
	prev := GlobalLogger
	GlobalLogger = nil
	t.Cleanup(func() { GlobalLogger = prev })

	if ApplicationLogger() == nil || ErrorLoggerRaw() == nil {
		t.Fatalf("expected fallback loggers before setup")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
