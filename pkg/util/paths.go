package util

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDir returns the per-user directory holding the SQLite database
// (for example ~/.config/aperture on Linux).
func DataDir(appName string) string {
	base, err := os.UserConfigDir()
	if err != nil || strings.TrimSpace(base) == "" {
		base = filepath.Join(homeDir(), ".config")
	}
	return filepath.Join(base, sanitizeAppNameForPath(appName))
}

// LogDir returns the per-user directory for rotating log files
// (for example ~/.cache/aperture/logs on Linux).
func LogDir(appName string) string {
	base, err := os.UserCacheDir()
	if err != nil || strings.TrimSpace(base) == "" {
		base = filepath.Join(homeDir(), ".cache")
	}
	return filepath.Join(base, sanitizeAppNameForPath(appName), "logs")
}

func homeDir() string {
	if h := strings.TrimSpace(os.Getenv("HOME")); h != "" {
		return h
	}
	if h, err := os.UserHomeDir(); err == nil && strings.TrimSpace(h) != "" {
		return h
	}
	return "."
}

// sanitizeAppNameForPath normalizes an application name so it is safe as a
// single directory segment.
func sanitizeAppNameForPath(name string) string {
	n := strings.TrimSpace(name)
	n = strings.ReplaceAll(n, "/", "-")
	n = strings.ReplaceAll(n, "\\", "-")
	n = strings.ReplaceAll(n, "\x00", "")
	n = strings.TrimSpace(n)
	if n == "" {
		return "aperture"
	}
	return strings.ToLower(n)
}
