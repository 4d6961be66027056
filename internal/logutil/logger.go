// Package logutil provides the client's leveled logger.
package logutil

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger writes leveled lines to a sink. Safe for concurrent use via the
// underlying log.Logger.
type Logger struct {
	file   *os.File
	logger *log.Logger
}

// New returns a logger writing to w.
func New(w io.Writer) *Logger {
	return &Logger{logger: log.New(w, "", log.LstdFlags)}
}

// NewFile returns a logger appending to the file at path.
func NewFile(path string) (*Logger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	return &Logger{file: file, logger: log.New(file, "", log.LstdFlags)}, nil
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *Logger { return New(io.Discard) }

func (l *Logger) Info(format string, args ...any) {
	l.logger.SetPrefix("INFO: ")
	l.logger.Printf(format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.logger.SetPrefix("WARN: ")
	l.logger.Printf(format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.logger.SetPrefix("ERROR: ")
	l.logger.Printf(format, args...)
}

// Close closes the file sink if one is open.
func (l *Logger) Close() {
	if l.file != nil {
		_ = l.file.Close()
	}
}
