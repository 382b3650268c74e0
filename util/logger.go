// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// zerologLevel maps a verbosity onto the lowest zerolog level it emits.
func (l LogLevel) zerologLevel() zerolog.Level {
	switch {
	case l <= LogQuiet:
		return zerolog.ErrorLevel
	case l == LogNormal:
		return zerolog.InfoLevel
	case l == LogVerbose:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

const consoleTimeFormat = "15:04:05.000"

// sink is the shared, reconfigurable part of a Logger family.  Derived
// loggers created with With point at the same sink, so a level change
// made by a config reload reaches every session logger.
type sink struct {
	mu         sync.Mutex
	output     io.Writer
	timestamps bool
	json       bool
	level      atomic.Int32
	root       atomic.Pointer[zerolog.Logger]
}

func (s *sink) rebuild() {
	var w io.Writer = s.output
	if !s.json {
		cw := zerolog.ConsoleWriter{
			Out:        s.output,
			NoColor:    !isTerminal(s.output),
			TimeFormat: consoleTimeFormat,
		}
		if !s.timestamps {
			cw.PartsExclude = []string{zerolog.TimestampFieldName}
		}
		w = cw
	}
	zl := zerolog.New(w).Level(zerolog.TraceLevel)
	if s.timestamps || s.json {
		zl = zl.With().Timestamp().Logger()
	}
	s.root.Store(&zl)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Logger writes levelled messages to stderr through zerolog.  The
// verbosity scale is the CLI's -v count: 0 = errors only, 1 = normal,
// 2 = verbose, 3 = debug.  A nil *Logger discards everything.
type Logger struct {
	sink   *sink
	fields []string // key, value, key, value ...
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	s := &sink{
		output:     os.Stderr,
		timestamps: verbosity >= 3, // auto-enable timestamps in debug mode
	}
	s.level.Store(int32(verbosity))
	s.rebuild()
	return &Logger{sink: s}
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) {
	if l == nil {
		return
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.timestamps = on
	l.sink.rebuild()
}

// SetOutput overrides the output writer (default: os.Stderr).
func (l *Logger) SetOutput(w io.Writer) {
	if l == nil {
		return
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.output = w
	l.sink.rebuild()
}

// SetJSON switches between console rendering and JSON lines.
func (l *Logger) SetJSON(on bool) {
	if l == nil {
		return
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.json = on
	l.sink.rebuild()
}

// SetLevel changes the verbosity for this logger and every logger
// derived from it.
func (l *Logger) SetLevel(verbosity int) {
	if l == nil {
		return
	}
	l.sink.level.Store(int32(verbosity))
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel {
	if l == nil {
		return LogQuiet
	}
	return LogLevel(l.sink.level.Load())
}

// With returns a logger that adds key=value to every line.
func (l *Logger) With(key string, value interface{}) *Logger {
	if l == nil {
		return nil
	}
	fields := make([]string, 0, len(l.fields)+2)
	fields = append(fields, l.fields...)
	fields = append(fields, key, fmt.Sprint(value))
	return &Logger{sink: l.sink, fields: fields}
}

// Info prints when verbosity ≥ 1.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(zerolog.InfoLevel, format, args...)
}

// Warn prints when verbosity ≥ 1.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(zerolog.WarnLevel, format, args...)
}

// Verbose prints when verbosity ≥ 2.  Rendered at debug level.
func (l *Logger) Verbose(format string, args ...interface{}) {
	l.write(zerolog.DebugLevel, format, args...)
}

// Debug prints when verbosity ≥ 3.  Rendered at trace level.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(zerolog.TraceLevel, format, args...)
}

// Error always prints regardless of verbosity.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(zerolog.ErrorLevel, format, args...)
}

func (l *Logger) write(level zerolog.Level, format string, args ...interface{}) {
	if l == nil || l.sink == nil {
		return
	}
	if level < l.Level().zerologLevel() {
		return
	}
	zl := l.sink.root.Load()
	if zl == nil {
		return
	}
	e := zl.WithLevel(level)
	for i := 0; i+1 < len(l.fields); i += 2 {
		e = e.Str(l.fields[i], l.fields[i+1])
	}
	e.Msgf(format, args...)
}
