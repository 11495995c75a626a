package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/YuminosukeSato/boxoffice/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
)

// Output formats accepted by Setup.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
	FormatCloud   = "cloud"
)

// Config selects the logging backend.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Format is console (zerolog pretty), json (zerolog JSON) or cloud
	// (slog JSON with Cloud Logging keys and stack traces).
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

var (
	mu            sync.RWMutex
	defaultLogger Logger = NewZerologLogger(os.Stderr, LevelInfo, FormatConsole)
)

// GetLogger returns the process-wide logger.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// GetLoggerWithName returns the process-wide logger tagged with a component name.
func GetLoggerWithName(name string) Logger {
	return GetLogger().With(ComponentKey, name)
}

// SetLogger replaces the process-wide logger.
func SetLogger(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
}

// Setup builds a logger from cfg, installs it as the default and routes
// library warnings (errors.Warn) into it.
func Setup(cfg Config) (Logger, error) {
	level, err := ToLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var logger Logger
	switch cfg.Format {
	case FormatConsole, FormatJSON, "":
		zl := NewZerologLogger(out, level, cfg.Format)
		errors.SetZerologWarnFunc(func(w error) {
			ev := zl.zl.Warn()
			if obj, ok := w.(zerolog.LogObjectMarshaler); ok {
				ev = ev.Object("warning", obj)
			}
			ev.Msg(w.Error())
		})
		logger = zl
	case FormatCloud:
		sl := NewSlogLogger(slog.New(WrapByErrFmtHandler(newCloudHandler(out, level))))
		errors.SetZerologWarnFunc(nil)
		errors.SetWarningHandler(func(w error) {
			sl.Warn(w.Error())
		})
		slog.SetDefault(sl.l)
		logger = sl
	default:
		return nil, errors.NewValidationError("logging.format", "must be console, json or cloud", cfg.Format)
	}

	SetLogger(logger)
	return logger, nil
}

// newCloudHandler returns a JSON handler whose keys follow the Cloud Logging format.
func newCloudHandler(w io.Writer, level Level) slog.Handler {
	ops := slog.HandlerOptions{
		AddSource: true,
		Level:     slog.Level(level),
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				attr = slog.Attr{
					Key:   "severity",
					Value: attr.Value,
				}
			case slog.MessageKey:
				attr = slog.Attr{
					Key:   "message",
					Value: attr.Value,
				}
			case slog.SourceKey:
				attr = slog.Attr{
					Key:   "logging.googleapis.com/sourceLocation",
					Value: attr.Value,
				}
			}
			return attr
		},
	}
	return slog.NewJSONHandler(w, &ops)
}

// ToLogLevel parses a level name.
func ToLogLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "info", "":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "warn":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, errors.NewValidationError("logging.level", "must be debug, info, warn or error", level)
	}
}

// ErrAttr is a wrapper to pass err to slog.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrAttrKey, err)
}
