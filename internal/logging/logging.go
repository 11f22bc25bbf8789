// Package logging builds the per-component loggers used across dsync.
//
// Every component logs through a standard *log.Logger whose prefix names
// it ("[sync] ", "[daemon] ", ...). All loggers share one writer: stderr,
// or a size-rotated file when a log file is configured.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	gosync "sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects where log output goes.
type Options struct {
	// File, if set, receives all output instead of stderr.
	File string

	// MaxSizeMB is the size at which File is rotated (default 10).
	MaxSizeMB int

	// MaxBackups is how many rotated files are kept (default 3).
	MaxBackups int

	// Also mirrors output to this writer when File is set. Optional.
	Also io.Writer
}

// Set hands out prefixed loggers sharing one writer.
type Set struct {
	w      io.Writer
	file   *lumberjack.Logger
	flags  int
	mu     gosync.Mutex
	byName map[string]*log.Logger
}

// Open creates a Set for opts.
func Open(opts Options) (*Set, error) {
	s := &Set{
		w:      os.Stderr,
		flags:  log.LstdFlags,
		byName: make(map[string]*log.Logger),
	}
	if opts.File == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	maxBackups := opts.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 3
	}

	s.file = &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	s.w = s.file
	if opts.Also != nil {
		s.w = io.MultiWriter(s.file, opts.Also)
	}
	return s, nil
}

// Discard returns a Set whose loggers drop everything.
func Discard() *Set {
	return &Set{w: io.Discard, byName: make(map[string]*log.Logger)}
}

// For returns the logger for component, creating it on first use.
func (s *Set) For(component string) *log.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.byName[component]; ok {
		return l
	}
	l := log.New(s.w, "["+component+"] ", s.flags)
	s.byName[component] = l
	return l
}

// Writer returns the shared writer.
func (s *Set) Writer() io.Writer {
	return s.w
}

// Close flushes and closes the log file, if any.
func (s *Set) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
