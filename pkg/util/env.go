package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LocalBinEnvPath returns $HOME/.local/bin/.env, or "" when the home
// directory cannot be resolved.
func LocalBinEnvPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".local", "bin", ".env")
}

// LoadLocalBinEnv loads $HOME/.local/bin/.env when it exists. Variables that
// are already set are never overwritten. The .env of the working directory is
// deliberately not read.
func LoadLocalBinEnv() string {
	envPath := LocalBinEnvPath()
	if envPath == "" {
		return ""
	}
	if info, err := os.Stat(envPath); err == nil && !info.IsDir() {
		_ = godotenv.Load(envPath)
	}
	return envPath
}

// LoadEnvWithLocalBinFallback loads the fallback env file and returns the
// value of tokenEnvName, or a descriptive error when it is still unset.
func LoadEnvWithLocalBinFallback(tokenEnvName string) (string, error) {
	envPath := LoadLocalBinEnv()
	if v := os.Getenv(tokenEnvName); v != "" {
		return v, nil
	}
	if envPath == "" {
		return "", fmt.Errorf("environment variable %q not set and home directory unresolved", tokenEnvName)
	}
	return "", fmt.Errorf("environment variable %q not set; attempted to load fallback file %s", tokenEnvName, envPath)
}

// EnvString returns the trimmed value of key, or def when empty.
func EnvString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// EnvBool reports whether key holds a truthy value (1, true, yes, on).
func EnvBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on", "y":
		return true
	default:
		return false
	}
}

// EnvInt64 parses key as an integer, returning def when unset or invalid.
func EnvInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// EnvDuration parses key with time.ParseDuration. A bare integer is read as
// seconds. def is returned when unset or invalid.
func EnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// ParseIDList parses a comma or whitespace separated list of snowflakes.
func ParseIDList(s string) ([]uint64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]uint64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", f, err)
		}
		out = append(out, id)
	}
	return out, nil
}
