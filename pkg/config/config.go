// Package config builds the runtime configuration from defaults, an optional
// YAML file and APERTURE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/small-frappuccino/aperture/pkg/util"
)

// Environment keys.
const (
	EnvToken          = "APERTURE_BOT_TOKEN"
	EnvConfigFile     = "APERTURE_CONFIG"
	EnvDSN            = "APERTURE_DB_DSN"
	EnvDefaultPrefix  = "APERTURE_DEFAULT_PREFIX"
	EnvOwnerIDs       = "APERTURE_OWNER_IDS"
	EnvFlushInterval  = "APERTURE_USAGE_FLUSH_INTERVAL"
	EnvPrefixCache    = "APERTURE_PREFIX_CACHE_SIZE"
	EnvControlAddr    = "APERTURE_CONTROL_ADDR"
	EnvLogDir         = "APERTURE_LOG_DIR"
	EnvLogLevel       = "APERTURE_LOG_LEVEL"
	EnvLogConsole     = "APERTURE_LOG_CONSOLE"
	EnvCooldownRate   = "APERTURE_COOLDOWN_PER"
	EnvCooldownBurst  = "APERTURE_COOLDOWN_BURST"
	EnvPremiumPer     = "APERTURE_PREMIUM_COOLDOWN_PER"
	EnvPremiumBurst   = "APERTURE_PREMIUM_COOLDOWN_BURST"
	EnvShutdownWindow = "APERTURE_SHUTDOWN_TIMEOUT"
)

// MaxPrefixLength bounds custom prefixes.
const MaxPrefixLength = 15

// Cooldown allows Burst uses per Per window for one user and command.
type Cooldown struct {
	Per   time.Duration `yaml:"per"`
	Burst int           `yaml:"burst"`
}

// Config is the process configuration.
type Config struct {
	Token         string        `yaml:"-"`
	DSN           string        `yaml:"dsn"`
	DefaultPrefix string        `yaml:"default_prefix"`
	OwnerIDs      []uint64      `yaml:"owner_ids"`
	FlushInterval time.Duration `yaml:"usage_flush_interval"`
	PrefixCache   int           `yaml:"prefix_cache_size"`
	ControlAddr   string        `yaml:"control_addr"`

	LogDir     string `yaml:"log_dir"`
	LogLevel   string `yaml:"log_level"`
	LogConsole bool   `yaml:"log_console"`

	Cooldown        Cooldown      `yaml:"cooldown"`
	PremiumCooldown Cooldown      `yaml:"premium_cooldown"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults(appName string) Config {
	return Config{
		DSN:             filepath.Join(util.DataDir(appName), appName+".db"),
		DefaultPrefix:   "a!",
		FlushInterval:   30 * time.Second,
		PrefixCache:     10000,
		LogDir:          util.LogDir(appName),
		LogLevel:        "info",
		LogConsole:      true,
		Cooldown:        Cooldown{Per: 3 * time.Second, Burst: 1},
		PremiumCooldown: Cooldown{Per: time.Second, Burst: 1},
		ShutdownTimeout: 15 * time.Second,
	}
}

// Load reads defaults, then the YAML file at path (skipped when path is
// empty; APERTURE_CONFIG is used as path when set), then the environment.
// The result is validated.
func Load(appName, path string) (Config, error) {
	cfg := Defaults(appName)
	if p := util.EnvString(EnvConfigFile, ""); p != "" {
		path = p
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Token = util.EnvString(EnvToken, c.Token)
	c.DSN = util.EnvString(EnvDSN, c.DSN)
	c.DefaultPrefix = util.EnvString(EnvDefaultPrefix, c.DefaultPrefix)
	c.FlushInterval = util.EnvDuration(EnvFlushInterval, c.FlushInterval)
	c.PrefixCache = int(util.EnvInt64(EnvPrefixCache, int64(c.PrefixCache)))
	c.ControlAddr = util.EnvString(EnvControlAddr, c.ControlAddr)
	c.LogDir = util.EnvString(EnvLogDir, c.LogDir)
	c.LogLevel = util.EnvString(EnvLogLevel, c.LogLevel)
	if v := os.Getenv(EnvLogConsole); v != "" {
		c.LogConsole = util.EnvBool(EnvLogConsole)
	}
	c.Cooldown.Per = util.EnvDuration(EnvCooldownRate, c.Cooldown.Per)
	c.Cooldown.Burst = int(util.EnvInt64(EnvCooldownBurst, int64(c.Cooldown.Burst)))
	c.PremiumCooldown.Per = util.EnvDuration(EnvPremiumPer, c.PremiumCooldown.Per)
	c.PremiumCooldown.Burst = int(util.EnvInt64(EnvPremiumBurst, int64(c.PremiumCooldown.Burst)))
	c.ShutdownTimeout = util.EnvDuration(EnvShutdownWindow, c.ShutdownTimeout)

	if v := util.EnvString(EnvOwnerIDs, ""); v != "" {
		ids, err := util.ParseIDList(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvOwnerIDs, err)
		}
		c.OwnerIDs = ids
	}
	return nil
}

// Validate rejects configurations the bot cannot run with.
func (c Config) Validate() error {
	var errs []error
	if err := ValidatePrefix(c.DefaultPrefix); err != nil {
		errs = append(errs, fmt.Errorf("default prefix: %w", err))
	}
	if strings.TrimSpace(c.DSN) == "" {
		errs = append(errs, errors.New("dsn is empty"))
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("usage flush interval must be positive, got %s", c.FlushInterval))
	}
	if c.PrefixCache < 0 {
		errs = append(errs, fmt.Errorf("prefix cache size must not be negative, got %d", c.PrefixCache))
	}
	for name, cd := range map[string]Cooldown{"cooldown": c.Cooldown, "premium cooldown": c.PremiumCooldown} {
		if cd.Per <= 0 || cd.Burst <= 0 {
			errs = append(errs, fmt.Errorf("%s must have positive per and burst, got %s/%d", name, cd.Per, cd.Burst))
		}
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout))
	}
	return errors.Join(errs...)
}

// IsOwner reports whether id is a configured owner.
func (c Config) IsOwner(id uint64) bool {
	return slices.Contains(c.OwnerIDs, id)
}

// ValidatePrefix checks a command prefix: 1 to MaxPrefixLength characters
// with no whitespace.
func ValidatePrefix(p string) error {
	n := len([]rune(p))
	if n == 0 {
		return errors.New("prefix is empty")
	}
	if n > MaxPrefixLength {
		return fmt.Errorf("prefix is longer than %d characters", MaxPrefixLength)
	}
	if strings.IndexFunc(p, unicode.IsSpace) >= 0 {
		return errors.New("prefix must not contain whitespace")
	}
	return nil
}
