package log

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Category selects which log stream a record goes to.
type Category int

const (
	Application Category = iota
	DiscordEvents
	Database
	Error
)

func (c Category) String() string {
	switch c {
	case Application:
		return "application"
	case DiscordEvents:
		return "discord_events"
	case Database:
		return "database"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Options configures SetupLogger.
type Options struct {
	// Dir is where the rotating files live. Empty disables file output.
	Dir string
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// MaxSizeMB, MaxBackups and MaxAgeDays are passed to lumberjack.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Console mirrors records to stdout (stderr for the error stream).
	Console bool
}

// Logger owns one slog.Logger per category and the rotating files behind them.
type Logger struct {
	loggers map[Category]*slog.Logger
	files   []*lumberjack.Logger
	mu      sync.Mutex
}

var (
	// GlobalLogger is set by SetupLogger.
	GlobalLogger *Logger

	setupMu sync.Mutex
)

// SetupLogger builds the global category loggers. Calling it again replaces
// the previous logger after closing its files.
func SetupLogger(opts Options) error {
	setupMu.Lock()
	defer setupMu.Unlock()

	l, err := newLogger(opts)
	if err != nil {
		return err
	}
	if GlobalLogger != nil {
		_ = GlobalLogger.Sync()
	}
	GlobalLogger = l
	slog.SetDefault(l.loggers[Application])
	return nil
}

func newLogger(opts Options) (*Logger, error) {
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 50
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 5
	}
	if opts.MaxAgeDays <= 0 {
		opts.MaxAgeDays = 28
	}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, err
		}
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	l := &Logger{loggers: make(map[Category]*slog.Logger, 4)}

	for _, c := range []Category{Application, DiscordEvents, Database, Error} {
		var writers []io.Writer
		if opts.Console {
			if c == Error {
				writers = append(writers, os.Stderr)
			} else {
				writers = append(writers, os.Stdout)
			}
		}
		if opts.Dir != "" {
			f := &lumberjack.Logger{
				Filename:   filepath.Join(opts.Dir, c.String()+".log"),
				MaxSize:    opts.MaxSizeMB,
				MaxBackups: opts.MaxBackups,
				MaxAge:     opts.MaxAgeDays,
				Compress:   true,
			}
			l.files = append(l.files, f)
			writers = append(writers, f)
		}
		var w io.Writer = io.Discard
		if len(writers) > 0 {
			w = io.MultiWriter(writers...)
		}
		l.loggers[c] = slog.New(slog.NewTextHandler(w, handlerOpts)).With("category", c.String())
	}
	return l, nil
}

// ParseLevel maps a level name to slog.Level; unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// For returns the logger for a category.
func (l *Logger) For(c Category) *slog.Logger {
	if l == nil {
		return slog.Default().With("category", c.String())
	}
	if lg, ok := l.loggers[c]; ok {
		return lg
	}
	return l.loggers[Application]
}

// Sync closes the rotating files. lumberjack reopens them on the next write,
// so it is safe to call while other goroutines still log.
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func current() *Logger {
	setupMu.Lock()
	defer setupMu.Unlock()
	return GlobalLogger
}

func ApplicationLogger() *slog.Logger { return current().For(Application) }
func DiscordLogger() *slog.Logger     { return current().For(DiscordEvents) }
func DatabaseLogger() *slog.Logger    { return current().For(Database) }

// ErrorLoggerRaw returns the error stream logger.
func ErrorLoggerRaw() *slog.Logger { return current().For(Error) }
