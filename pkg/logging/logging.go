// Package logging provides the leveled logger shared by the labelmorph tools.
//
// Messages go through the standard log package to stderr, or to a size-rotated log file
// when one is configured.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/natefinch/lumberjack"
)

// Config selects the log destination. Zero values log to stderr.
type Config struct {
	Logfile string `yaml:"logfile" toml:"logfile"`
	MaxSize int    `yaml:"maxSize" toml:"max_log_size"` // megabytes
	MaxAge  int    `yaml:"maxAge" toml:"max_log_age"`   // days
}

// Logger writes leveled messages. Debug output is only emitted in verbose mode.
type Logger struct {
	mu      sync.Mutex
	l       *log.Logger
	closer  io.Closer
	verbose bool
}

// New creates a logger writing to w.
func New(w io.Writer, verbose bool) *Logger {
	return &Logger{
		l:       log.New(w, "", log.LstdFlags),
		verbose: verbose,
	}
}

// Discard returns a logger that drops every message.
func Discard() *Logger {
	return New(io.Discard, false)
}

// Open creates a logger from the configuration, falling back to stderr when no log
// file is specified.
func Open(c Config, verbose bool) *Logger {
	if c.Logfile == "" {
		return New(os.Stderr, verbose)
	}
	lj := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize,
		MaxAge:   c.MaxAge,
	}
	lg := New(lj, verbose)
	lg.closer = lj
	return lg
}

// SetVerbose toggles debug output.
func (lg *Logger) SetVerbose(verbose bool) {
	lg.mu.Lock()
	lg.verbose = verbose
	lg.mu.Unlock()
}

func (lg *Logger) output(level, format string, args ...interface{}) {
	lg.l.Output(3, level+" "+fmt.Sprintf(format, args...))
}

// Debugf formats its arguments analogous to fmt.Printf and records the text at Debug level.
func (lg *Logger) Debugf(format string, args ...interface{}) {
	lg.mu.Lock()
	verbose := lg.verbose
	lg.mu.Unlock()
	if verbose {
		lg.output("DEBUG", format, args...)
	}
}

// Infof is like Debugf, but at Info level and written regardless of verbosity.
func (lg *Logger) Infof(format string, args ...interface{}) {
	lg.output("INFO", format, args...)
}

// Warningf is like Debugf, but at Warning level.
func (lg *Logger) Warningf(format string, args ...interface{}) {
	lg.output("WARNING", format, args...)
}

// Errorf is like Debugf, but at Error level.
func (lg *Logger) Errorf(format string, args ...interface{}) {
	lg.output("ERROR", format, args...)
}

// Shutdown closes the log file, if any.
func (lg *Logger) Shutdown() {
	if lg.closer != nil {
		lg.closer.Close()
	}
}
