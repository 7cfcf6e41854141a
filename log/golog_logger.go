package log

import (
	"io"
	"os"
	"path/filepath"

	"github.com/kataras/golog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// GologLogger implements Logger interface using kataras/golog
type GologLogger struct {
	logger *golog.Logger
	level  LogLevel
	closer io.Closer
}

var _ Logger = (*GologLogger)(nil)

// NewGologLogger creates a new logger using an existing golog.Logger
func NewGologLogger(logger *golog.Logger) *GologLogger {
	return &GologLogger{
		logger: logger,
		level:  LogLevelInfo,
	}
}

// FileOptions configures NewFileLogger.
type FileOptions struct {
	// Path of the active log file. Parent directories are created.
	Path string
	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept on disk.
	MaxBackups int
	// Level is the minimum level written.
	Level LogLevel
	// Console also writes every record to stderr.
	Console bool
}

// NewFileLogger returns a GologLogger that writes to a size-rotated file.
// Zero values fall back to logfile/app.log, 5 MB and 3 backups.
func NewFileLogger(opts FileOptions) (*GologLogger, error) {
	if opts.Path == "" {
		opts.Path = filepath.Join("logfile", "app.log")
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 5
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 3
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}

	g := golog.New()
	g.SetTimeFormat("2006-01-02 15:04:05")
	if opts.Console {
		g.SetOutput(io.MultiWriter(os.Stderr, rotator))
	} else {
		g.SetOutput(rotator)
	}

	l := NewGologLogger(g)
	l.closer = rotator
	l.SetLevel(opts.Level)
	return l, nil
}

// Debug logs debug messages
func (l *GologLogger) Debug(format string, v ...any) {
	if l.level <= LogLevelDebug {
		l.logger.Debugf(format, v...)
	}
}

// Info logs informational messages
func (l *GologLogger) Info(format string, v ...any) {
	if l.level <= LogLevelInfo {
		l.logger.Infof(format, v...)
	}
}

// Warn logs warning messages
func (l *GologLogger) Warn(format string, v ...any) {
	if l.level <= LogLevelWarn {
		l.logger.Warnf(format, v...)
	}
}

// Error logs error messages
func (l *GologLogger) Error(format string, v ...any) {
	if l.level <= LogLevelError {
		l.logger.Errorf(format, v...)
	}
}

// SetLevel sets the log level
func (l *GologLogger) SetLevel(level LogLevel) {
	l.level = level

	gologLevel := "info"
	switch level {
	case LogLevelDebug:
		gologLevel = "debug"
	case LogLevelWarn:
		gologLevel = "warn"
	case LogLevelError:
		gologLevel = "error"
	case LogLevelNone:
		gologLevel = "disable"
	}

	l.logger.SetLevel(gologLevel)
}

// GetLevel returns the current log level
func (l *GologLogger) GetLevel() LogLevel {
	return l.level
}

// Close releases the rotated file, if any.
func (l *GologLogger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
