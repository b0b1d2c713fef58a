package common

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/rs/zerolog"
)

// Logger names used throughout the module
const (
	LoggerMemstore = "memstore"
	LoggerScalable = "scalable"
	LoggerCmd      = "cmd"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// dCollLogger implements the ILogger interface on top of a zerolog logger.
// Level filtering follows the dragonboat level, zerolog only formats and writes.
type dCollLogger struct {
	mu     sync.RWMutex
	name   string
	level  logger.LogLevel
	logger zerolog.Logger
}

func (l *dCollLogger) SetLevel(level logger.LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *dCollLogger) enabled(level logger.LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level >= level
}

func (l *dCollLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		l.logger.Debug().Msgf(format, args...)
	}
}

func (l *dCollLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		l.logger.Info().Msgf(format, args...)
	}
}

func (l *dCollLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(logger.WARNING) {
		l.logger.Warn().Msgf(format, args...)
	}
}

func (l *dCollLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(logger.ERROR) {
		l.logger.Error().Msgf(format, args...)
	}
}

// Panicf always logs and panics, independent of the level
func (l *dCollLogger) Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.logger.WithLevel(zerolog.PanicLevel).Msg(msg)
	panic(msg)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// NewLogger creates a logger writing to w. Format is "console" (human readable,
// the default) or "json" (one object per line).
func NewLogger(pkgName string, w io.Writer, format string) logger.ILogger {
	if strings.ToLower(format) != "json" {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: "2006-01-02 15:04:05.000",
			FormatLevel: func(i interface{}) string {
				return strings.ToUpper(fmt.Sprintf("%-5s", i))
			},
		}
	}
	return &dCollLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: zerolog.New(w).With().Timestamp().Str("pkg", pkgName).Logger(),
	}
}

// loggerFactory returns a dragonboat logger factory writing to stdout
func loggerFactory(format string) logger.Factory {
	return func(pkgName string) logger.ILogger {
		return NewLogger(pkgName, os.Stdout, format)
	}
}

// Logger returns the named logger. Packages call it lazily (not in package
// initializers) so the factory installed by InitLoggers is used.
func Logger(name string) logger.ILogger {
	return logger.GetLogger(name)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	case "critical":
		return logger.CRITICAL, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error, critical", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

var initOnce sync.Once

// InitLoggers installs the zerolog backed factory (once per process) and sets the
// level of all loggers of this module
func InitLoggers(config Config) error {
	level, err := ParseLogLevel(config.LogLevel)
	if err != nil {
		return err
	}

	initOnce.Do(func() {
		logger.SetLoggerFactory(loggerFactory(config.LogFormat))
	})

	for _, name := range []string{LoggerMemstore, LoggerScalable, LoggerCmd} {
		logger.GetLogger(name).SetLevel(level)
	}
	return nil
}
