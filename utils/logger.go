package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
	"time"
)

// Logger provides structured, leveled logging throughout the application.
type Logger struct {
	info    *log.Logger
	warn    *log.Logger
	err     *log.Logger
	debug   *log.Logger
	prefix  string
	verbose *atomic.Bool
}

// NewLogger creates a new Logger writing to stdout/stderr.
// Debug output is off until SetDebug(true) is called.
func NewLogger() *Logger {
	flags := 0
	return &Logger{
		info:    log.New(os.Stdout, "", flags),
		warn:    log.New(os.Stdout, "", flags),
		err:     log.New(os.Stderr, "", flags),
		debug:   log.New(os.Stdout, "", flags),
		verbose: new(atomic.Bool),
	}
}

// SetDebug toggles Debug output for this logger and every logger derived from it.
func (l *Logger) SetDebug(on bool) {
	l.verbose.Store(on)
}

// SetOutput sends non-error output to w, e.g. stderr while stdout carries
// machine-readable results.
func (l *Logger) SetOutput(w io.Writer) {
	l.info.SetOutput(w)
	l.warn.SetOutput(w)
	l.debug.SetOutput(w)
}

// With returns a logger that prefixes every line with tag, e.g. a crawl run ID.
func (l *Logger) With(tag string) *Logger {
	child := *l
	child.prefix = l.prefix + "[" + tag + "] "
	return &child
}

func (l *Logger) timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

func (l *Logger) Info(format string, args ...any) {
	l.info.Printf(fmt.Sprintf("[%s] \033[32mINFO\033[0m  %s%s\n", l.timestamp(), l.prefix, format), args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.warn.Printf(fmt.Sprintf("[%s] \033[33mWARN\033[0m  %s%s\n", l.timestamp(), l.prefix, format), args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.err.Printf(fmt.Sprintf("[%s] \033[31mERROR\033[0m %s%s\n", l.timestamp(), l.prefix, format), args...)
}

func (l *Logger) Debug(format string, args ...any) {
	if !l.verbose.Load() {
		return
	}
	l.debug.Printf(fmt.Sprintf("[%s] \033[36mDEBUG\033[0m %s%s\n", l.timestamp(), l.prefix, format), args...)
}
