// Package logging builds the loggers handed to the client's components.
//
// Every component logs through a *log.Logger with a "[component] " prefix.
// All of them share one writer: a size-rotated file, plus stderr when
// verbose output is requested.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures the shared log output.
type Config struct {
	// File is the log path. Empty disables the file.
	File       string
	MaxSizeMB  int
	MaxBackups int

	// Verbose mirrors log lines to Stderr and enables Debugf.
	Verbose bool
	Stderr  io.Writer
}

// Logging owns the shared writer.
type Logging struct {
	out     io.Writer
	file    *lumberjack.Logger
	verbose bool
}

// New opens the log output.
func New(config Config) (*Logging, error) {
	if config.Stderr == nil {
		config.Stderr = os.Stderr
	}

	l := &Logging{verbose: config.Verbose}
	var writers []io.Writer

	if config.File != "" {
		if err := os.MkdirAll(filepath.Dir(config.File), 0700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		l.file = &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			Compress:   true,
		}
		writers = append(writers, l.file)
	}
	if config.Verbose {
		writers = append(writers, config.Stderr)
	}

	switch len(writers) {
	case 0:
		l.out = io.Discard
	case 1:
		l.out = writers[0]
	default:
		l.out = io.MultiWriter(writers...)
	}
	return l, nil
}

// Discard returns a Logging that drops everything.
func Discard() *Logging {
	return &Logging{out: io.Discard}
}

// Logger returns a logger for component. The prefix follows the timestamp:
//
//	2026/10/19 10:00:00 [sync] Replaying 2 pending operation(s)
func (l *Logging) Logger(component string) *log.Logger {
	return log.New(l.out, "["+component+"] ", log.LstdFlags|log.Lmsgprefix)
}

// Verbose reports whether debug output is enabled.
func (l *Logging) Verbose() bool {
	return l.verbose
}

// Debugf logs to logger only in verbose mode.
func (l *Logging) Debugf(logger *log.Logger, format string, args ...any) {
	if l.verbose {
		logger.Printf(format, args...)
	}
}

// Rotate starts a new log file now. tm daemon calls it on SIGHUP.
func (l *Logging) Rotate() error {
	if l.file == nil {
		return nil
	}
	return l.file.Rotate()
}

// Close closes the log file.
func (l *Logging) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
