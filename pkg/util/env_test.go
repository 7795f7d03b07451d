package util

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadEnvWithLocalBinFallbackUsesHomeFile(t *testing.T) {
	tmp := t.TempDir()
	fakeHome := filepath.Join(tmp, "home")
	if err := os.MkdirAll(filepath.Join(fakeHome, ".local", "bin"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	envPath := filepath.Join(fakeHome, ".local", "bin", ".env")
	if err := os.WriteFile(envPath, []byte("APERTURE_TEST_TOKEN=fromfile"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}

	t.Setenv("HOME", fakeHome)
	t.Setenv("APERTURE_TEST_TOKEN", "")
	_ = os.Unsetenv("APERTURE_TEST_TOKEN")

	got, err := LoadEnvWithLocalBinFallback("APERTURE_TEST_TOKEN")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != "fromfile" {
		t.Fatalf("expected value from file, got %q", got)
	}

	// When env already set, file should not override.
	t.Setenv("APERTURE_TEST_TOKEN", "envwins")
	got, err = LoadEnvWithLocalBinFallback("APERTURE_TEST_TOKEN")
	if err != nil || got != "envwins" {
		t.Fatalf("expected existing env to win, got %q err=%v", got, err)
	}
}

func TestLoadEnvWithLocalBinFallbackMissing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("APERTURE_MISSING", "")
	if _, err := LoadEnvWithLocalBinFallback("APERTURE_MISSING"); err == nil {
		t.Fatalf("expected error for unset variable")
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("BOOL_TRUE", "YeS")
	t.Setenv("BOOL_FALSE", "0")
	if !EnvBool("BOOL_TRUE") {
		t.Fatalf("expected truthy value")
	}
	if EnvBool("BOOL_FALSE") {
		t.Fatalf("expected falsy value")
	}

	t.Setenv("STR_EMPTY", "  ")
	if got := EnvString("STR_EMPTY", "default"); got != "default" {
		t.Fatalf("expected default, got %q", got)
	}

	t.Setenv("INT_OK", "42")
	t.Setenv("INT_BAD", "oops")
	if got := EnvInt64("INT_OK", 1); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if got := EnvInt64("INT_BAD", 7); got != 7 {
		t.Fatalf("expected fallback, got %d", got)
	}

	t.Setenv("DUR_SECONDS", "45")
	t.Setenv("DUR_TEXT", "1m30s")
	t.Setenv("DUR_BAD", "soon")
	if got := EnvDuration("DUR_SECONDS", time.Second); got != 45*time.Second {
		t.Fatalf("expected 45s, got %v", got)
	}
	if got := EnvDuration("DUR_TEXT", time.Second); got != 90*time.Second {
		t.Fatalf("expected 90s, got %v", got)
	}
	if got := EnvDuration("DUR_BAD", time.Second); got != time.Second {
		t.Fatalf("expected fallback, got %v", got)
	}
}

func TestParseIDList(t *testing.T) {
	got, err := ParseIDList("1, 2,3\t4")
	if err != nil || !reflect.DeepEqual(got, []uint64{1, 2, 3, 4}) {
		t.Fatalf("unexpected ids %v err=%v", got, err)
	}
	if _, err := ParseIDList("1,abc"); err == nil {
		t.Fatalf("expected error for invalid id")
	}
	if got, _ := ParseIDList(""); len(got) != 0 {
		t.Fatalf("expected empty list")
	}
}
