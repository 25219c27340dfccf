// Package persist provides the coordinator's logger: a thin wrapper
// around the standard library's log.Logger with leveled convenience
// methods, rather than pulling in a structured-logging framework.
package persist

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps a standard library logger with Debug/Info/Warn/Error helpers
// and a configurable minimum level.
type Logger struct {
	*log.Logger
	debug bool
}

// Options configures NewLogger.
type Options struct {
	// Debug enables Debugf output. Off by default, matching production
	// coordinators running at GRIDX_LOG_LEVEL=info.
	Debug bool
	// FilePath, if non-empty, directs output to a rotating log file
	// instead of stdout.
	FilePath string
}

// NewLogger builds a Logger per opts. When FilePath is empty, output goes
// to stdout so the process behaves well under a process supervisor that
// captures stdout (systemd, docker, etc).
func NewLogger(opts Options) *Logger {
	var w io.Writer = os.Stdout
	if opts.FilePath != "" {
		w = &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    64, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	return &Logger{
		Logger: log.New(w, "", log.Ldate|log.Ltime|log.Lmicroseconds),
		debug:  opts.Debug,
	}
}

// NewFromLevel maps the GRIDX_LOG_LEVEL string onto Options.Debug.
func NewFromLevel(level, filePath string) *Logger {
	return NewLogger(Options{Debug: level == "debug", FilePath: filePath})
}

// Debugf logs only when the logger was constructed with Debug enabled.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.debug {
		l.Printf("DEBUG: "+format, args...)
	}
}

// Infof logs an informational message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Printf("INFO: "+format, args...)
}

// Warnf logs a recoverable problem.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Printf("WARN: "+format, args...)
}

// Errorf logs a failure that was handled (absorbed) by the caller.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Printf("ERROR: "+format, args...)
}
