package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel is the minimum severity a logger writes.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	// LogLevelNone disables output.
	LogLevelNone
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "NONE"}

func (l LogLevel) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return fmt.Sprintf("UNKNOWN(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel maps a configuration value such as "debug" or "warn" to a
// LogLevel. An empty value means info.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "none", "off", "disable":
		return LogLevelNone, nil
	}
	return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger is the leveled logging interface every component accepts.
type Logger interface {
	Debug(format string, v ...any)
	Info(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)
}

// WriterLogger writes one line per record to an io.Writer. It is the
// process default until a GologLogger is installed.
type WriterLogger struct {
	mu    sync.Mutex
	out   io.Writer
	level LogLevel
}

// NewWriterLogger returns a logger writing records at level or above to out,
// or to stderr when out is nil.
func NewWriterLogger(out io.Writer, level LogLevel) *WriterLogger {
	if out == nil {
		out = os.Stderr
	}
	return &WriterLogger{out: out, level: level}
}

func (l *WriterLogger) logf(level LogLevel, format string, v []any) {
	if level < l.level {
		return
	}
	msg := fmt.Sprintf(format, v...)
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "%s [%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), level, msg)
}

func (l *WriterLogger) Debug(format string, v ...any) { l.logf(LogLevelDebug, format, v) }
func (l *WriterLogger) Info(format string, v ...any)  { l.logf(LogLevelInfo, format, v) }
func (l *WriterLogger) Warn(format string, v ...any)  { l.logf(LogLevelWarn, format, v) }
func (l *WriterLogger) Error(format string, v ...any) { l.logf(LogLevelError, format, v) }

// NoOpLogger discards everything.
type NoOpLogger struct{}

func (*NoOpLogger) Debug(string, ...any) {}
func (*NoOpLogger) Info(string, ...any)  {}
func (*NoOpLogger) Warn(string, ...any)  {}
func (*NoOpLogger) Error(string, ...any) {}

type named struct {
	Logger
	prefix string
}

// Named prefixes every record of l with "[name] ".
func Named(l Logger, name string) Logger {
	if n, ok := l.(*named); ok {
		return &named{Logger: n.Logger, prefix: n.prefix + "[" + name + "] "}
	}
	return &named{Logger: l, prefix: "[" + name + "] "}
}

func (n *named) Debug(format string, v ...any) { n.Logger.Debug(n.prefix+format, v...) }
func (n *named) Info(format string, v ...any)  { n.Logger.Info(n.prefix+format, v...) }
func (n *named) Warn(format string, v ...any)  { n.Logger.Warn(n.prefix+format, v...) }
func (n *named) Error(format string, v ...any) { n.Logger.Error(n.prefix+format, v...) }

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger = NewWriterLogger(os.Stderr, LogLevelInfo)
)

// SetDefaultLogger sets the logger used by components that were not given
// one explicitly.
func SetDefaultLogger(logger Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// GetDefaultLogger returns the process default logger.
func GetDefaultLogger() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}
