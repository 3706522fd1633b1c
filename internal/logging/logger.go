// Package logging provides the leveled key=value logger shared by the
// library and the command-line tools.
package logging

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
)

// Level is a logging severity.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < Debug || l > Error {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a flag or environment value to a Level. The empty string
// means Info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug, nil
	case "info", "":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	}
	return Info, fmt.Errorf("unsupported log level %q", s)
}

// Field is one structured key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// Logger is the leveled structured logging surface.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

var (
	defaultMu     sync.Mutex
	defaultLogger Logger
)

// Default returns the process-wide logger. Until SetDefault is called it
// discards everything, so library code can log unconditionally.
func Default() Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(Info, io.Discard)
	}
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

type textLogger struct {
	level  Level
	bound  []Field
	target *log.Logger
}

// New builds a text logger writing "[LEVEL] msg key=value ..." lines with
// standard timestamps.
func New(level Level, out io.Writer) Logger {
	return &textLogger{
		level:  level,
		target: log.New(out, "", log.LstdFlags),
	}
}

func (l *textLogger) With(fields ...Field) Logger {
	bound := make([]Field, 0, len(l.bound)+len(fields))
	bound = append(bound, l.bound...)
	bound = append(bound, fields...)
	return &textLogger{level: l.level, bound: bound, target: l.target}
}

func (l *textLogger) Debug(msg string, fields ...Field) { l.emit(Debug, msg, fields) }
func (l *textLogger) Info(msg string, fields ...Field)  { l.emit(Info, msg, fields) }
func (l *textLogger) Warn(msg string, fields ...Field)  { l.emit(Warn, msg, fields) }
func (l *textLogger) Error(msg string, fields ...Field) { l.emit(Error, msg, fields) }

func (l *textLogger) emit(level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(level.String())
	b.WriteString("] ")
	b.WriteString(msg)
	for _, f := range l.bound {
		writeField(&b, f)
	}
	for _, f := range fields {
		writeField(&b, f)
	}
	l.target.Print(b.String())
}

func writeField(b *strings.Builder, f Field) {
	if f.Key == "" {
		return
	}
	b.WriteByte(' ')
	b.WriteString(f.Key)
	b.WriteByte('=')
	fmt.Fprintf(b, "%v", f.Value)
}
