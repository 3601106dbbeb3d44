package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu         sync.RWMutex
	logger     zerolog.Logger
	loggerOnce sync.Once
)

// initLogger initializes the global logger to write JSON lines to stderr.
func initLogger() {
	loggerOnce.Do(func() {
		logger = newLogger(os.Stderr, "json", LevelInfo)
	})
}

// Setup replaces the global logger.
//   - level:  debug, info, warn, error (case-insensitive, default info)
//   - format: "pretty" for console output, anything else for JSON lines
func Setup(level, format string) {
	initLogger()
	mu.Lock()
	logger = newLogger(os.Stderr, format, ParseLevel(level))
	mu.Unlock()
}

// SetOutput redirects the global logger, keeping the current level.
// Mostly useful in tests.
func SetOutput(w io.Writer) {
	initLogger()
	mu.Lock()
	logger = logger.Output(w)
	mu.Unlock()
}

// ParseLevel maps a config string onto a Level, falling back to INFO.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "WARNING":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, msg, nil, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, msg, nil, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(LevelWarn, msg, nil, kv...)
}

func Error(msg string, err error, kv ...any) {
	logWithLevel(LevelError, msg, err, kv...)
}

func newLogger(w io.Writer, format string, level Level) zerolog.Logger {
	if format == "pretty" {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}
	return zerolog.New(w).
		Level(toZerolog(level)).
		With().
		Timestamp().
		Logger()
}

func logWithLevel(level Level, msg string, err error, kv ...any) {
	initLogger()
	mu.RLock()
	l := logger
	mu.RUnlock()

	var ev *zerolog.Event
	switch level {
	case LevelDebug:
		ev = l.Debug()
	case LevelWarn:
		ev = l.Warn()
	case LevelError:
		ev = l.Error()
	default:
		ev = l.Info()
	}
	if ev == nil {
		// Level disabled.
		return
	}
	if err != nil {
		ev = ev.Err(err)
	}

	// Expect kv as pairs: key, value, key, value, ...
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	// If odd number of args, last one is ignored.
	ev.Msg(msg)
}

func toZerolog(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
